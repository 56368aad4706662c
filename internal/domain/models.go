package domain

import (
	"strings"
	"time"
)

// CategoryUnclassified is assigned to component lines whose category is
// known neither from the composition nor from the catalog.
const CategoryUnclassified = "unclassified"

type CatalogEntry struct {
	ID                   string  `json:"id"`
	Name                 string  `json:"name"`
	Category             string  `json:"category"`
	PurchasePriceExclTax float64 `json:"purchasePriceExclTax"`
	SalePriceInclTax     float64 `json:"salePriceInclTax"`
}

type CompositionType string

const (
	CompositionPack   CompositionType = "pack"
	CompositionVasque CompositionType = "vasque"
	CompositionTrio   CompositionType = "trio"
	CompositionOther  CompositionType = "other"
)

// ParseCompositionType accepts singular, plural and French spellings.
// Anything unrecognised is CompositionOther.
func ParseCompositionType(raw string) CompositionType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pack", "packs":
		return CompositionPack
	case "vasque", "vasques":
		return CompositionVasque
	case "trio", "trios":
		return CompositionTrio
	default:
		return CompositionOther
	}
}

type CompositionComponent struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Category string `json:"category,omitempty"`
}

type Composition struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Type       CompositionType        `json:"type"`
	Components []CompositionComponent `json:"components"`
}

// Usable reports whether the bundle can be expanded.
func (c Composition) Usable() bool {
	return len(c.Components) > 0
}

type SalesLine struct {
	ID               string   `json:"id"`
	ProductName      string   `json:"productName"`
	Quantity         float64  `json:"quantity"`
	UnitPriceInclTax float64  `json:"unitPriceInclTax"`
	AmountInclTax    float64  `json:"amountInclTax"`
	Date             SaleDate `json:"date"`
	Store            string   `json:"store"`
	Category         string   `json:"category,omitempty"`
	OperationNumber  string   `json:"operationNumber,omitempty"`
	IsReturn         bool     `json:"isReturn,omitempty"`
	ParentID         string   `json:"parentId,omitempty"`
	Component        bool     `json:"component,omitempty"`
	SourceFile       string   `json:"sourceFile,omitempty"`
	SourceRow        int      `json:"sourceRow,omitempty"`
}

type Metadata struct {
	KnownMonths []string   `json:"knownMonths"`
	PeriodStart *time.Time `json:"periodStart,omitempty"`
	PeriodEnd   *time.Time `json:"periodEnd,omitempty"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
	TotalLines  int        `json:"totalLines"`
}

// Dataset is the cumulative set of merged sales lines.
type Dataset struct {
	Metadata Metadata    `json:"metadata"`
	Lines    []SalesLine `json:"ventes"`
}

type DuplicateDetail struct {
	Date        string  `json:"date"`
	ProductID   string  `json:"productId"`
	Product     string  `json:"product"`
	Store       string  `json:"store"`
	Quantity    float64 `json:"quantity"`
	Amount      float64 `json:"amount"`
	Occurrences int     `json:"occurrenceCount"`
}

type DuplicateReport struct {
	Total   int               `json:"total"`
	Details []DuplicateDetail `json:"details"`
}

type MergeResult struct {
	Lines                []SalesLine `json:"ventesFusionnees"`
	Metadata             Metadata    `json:"metadata"`
	Added                int         `json:"added"`
	DuplicatesEliminated int         `json:"doublonsElimines"`
	NewMonths            []string    `json:"newMonths"`
}

type ExportKind string

const (
	ExportMonth ExportKind = "month"
	ExportFull  ExportKind = "full"
)

// ExportDocument is the downloadable shape of a merge export.
type ExportDocument struct {
	Metadata Metadata    `json:"metadata"`
	Lines    []SalesLine `json:"ventes"`
}

type Export struct {
	ID        string         `json:"id"`
	Kind      ExportKind     `json:"kind"`
	Label     string         `json:"label"`
	CreatedAt time.Time      `json:"created_at"`
	Document  ExportDocument `json:"document"`
}

type ExportInfo struct {
	ID        string     `json:"id"`
	Kind      ExportKind `json:"kind"`
	Label     string     `json:"label"`
	CreatedAt time.Time  `json:"created_at"`
	Lines     int        `json:"lines"`
}

type ImportState string

const (
	ImportIdle                ImportState = "idle"
	ImportDetectingDuplicates ImportState = "detecting_duplicates"
	ImportAwaitingUserChoice  ImportState = "awaiting_user_choice"
	ImportMerging             ImportState = "merging"
	ImportPersisted           ImportState = "persisted"
)

type MergeSummary struct {
	Added                int      `json:"added"`
	DuplicatesEliminated int      `json:"doublonsElimines"`
	TotalLines           int      `json:"total_lines"`
	NewMonths            []string `json:"new_months"`
	Metadata             Metadata `json:"metadata"`
	MonthExportID        string   `json:"month_export_id,omitempty"`
	FullExportID         string   `json:"full_export_id,omitempty"`
}

type ImportOutcome struct {
	Token           string          `json:"token,omitempty"`
	State           ImportState     `json:"state"`
	InputLines      int             `json:"input_lines"`
	ExpandedLines   int             `json:"expanded_lines"`
	ComponentsAdded int             `json:"components_added"`
	Reclassified    int             `json:"reclassified"`
	Skipped         []string        `json:"skipped,omitempty"`
	Duplicates      DuplicateReport `json:"duplicates"`
	Merge           *MergeSummary   `json:"merge,omitempty"`
}

type RestoreResult struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	Lines    int      `json:"lines"`
	Metadata Metadata `json:"metadata"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}
