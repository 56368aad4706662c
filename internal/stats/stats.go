// Package stats computes grouped sums over expanded sales lines.
package stats

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"posfusion/internal/domain"
)

type GroupBy string

const (
	ByProduct  GroupBy = "product"
	ByCategory GroupBy = "category"
	ByStore    GroupBy = "store"
	ByDay      GroupBy = "day"
	ByMonth    GroupBy = "month"
)

func ParseGroupBy(raw string) (GroupBy, error) {
	switch g := GroupBy(strings.ToLower(strings.TrimSpace(raw))); g {
	case ByProduct, ByCategory, ByStore, ByDay, ByMonth:
		return g, nil
	case "":
		return ByProduct, nil
	default:
		return "", fmt.Errorf("unknown grouping %q", raw)
	}
}

// Filter restricts the lines taken into account. Empty fields match all.
type Filter struct {
	Month string
	Store string
}

func (f Filter) match(line domain.SalesLine) bool {
	if f.Month != "" {
		month, ok := line.Date.Month()
		if !ok || month != f.Month {
			return false
		}
	}
	if f.Store != "" && !strings.EqualFold(line.Store, f.Store) {
		return false
	}
	return true
}

type Group struct {
	Key      string  `json:"key"`
	Label    string  `json:"label"`
	Quantity float64 `json:"quantity"`
	Amount   float64 `json:"amount"`
	Lines    int     `json:"lines"`
}

type acc struct {
	label    string
	quantity decimal.Decimal
	amount   decimal.Decimal
	lines    int
}

// Aggregate sums quantity and amount per group, sorted by amount
// descending then key. Component lines carry zero amount, so bundle
// revenue is counted once.
func Aggregate(lines []domain.SalesLine, by GroupBy, f Filter) []Group {
	accs := make(map[string]*acc)
	for _, line := range lines {
		if !f.match(line) {
			continue
		}
		key, label := groupKey(line, by)
		a, ok := accs[key]
		if !ok {
			a = &acc{label: label}
			accs[key] = a
		}
		a.quantity = a.quantity.Add(decimal.NewFromFloat(line.Quantity))
		a.amount = a.amount.Add(decimal.NewFromFloat(line.AmountInclTax))
		a.lines++
	}

	groups := make([]Group, 0, len(accs))
	for key, a := range accs {
		groups = append(groups, Group{
			Key:      key,
			Label:    a.label,
			Quantity: a.quantity.InexactFloat64(),
			Amount:   a.amount.Round(2).InexactFloat64(),
			Lines:    a.lines,
		})
	}
	slices.SortFunc(groups, func(a, b Group) int {
		switch {
		case a.Amount > b.Amount:
			return -1
		case a.Amount < b.Amount:
			return 1
		}
		return strings.Compare(a.Key, b.Key)
	})
	return groups
}

func groupKey(line domain.SalesLine, by GroupBy) (string, string) {
	switch by {
	case ByCategory:
		if line.Category == "" {
			return domain.CategoryUnclassified, domain.CategoryUnclassified
		}
		return line.Category, line.Category
	case ByStore:
		return line.Store, line.Store
	case ByDay:
		d := line.Date.Day()
		return d, d
	case ByMonth:
		if m, ok := line.Date.Month(); ok {
			return m, m
		}
		return line.Date.Raw, line.Date.Raw
	default:
		name := line.ProductName
		if name == "" {
			name = line.ID
		}
		return line.ID, name
	}
}

type Summary struct {
	Lines       int        `json:"lines"`
	Quantity    float64    `json:"quantity"`
	Amount      float64    `json:"amount"`
	Products    int        `json:"products"`
	Stores      int        `json:"stores"`
	Components  int        `json:"component_lines"`
	Returns     int        `json:"return_lines"`
	PeriodStart *time.Time `json:"period_start,omitempty"`
	PeriodEnd   *time.Time `json:"period_end,omitempty"`
}

func Summarize(lines []domain.SalesLine, f Filter) Summary {
	var (
		s        Summary
		quantity decimal.Decimal
		amount   decimal.Decimal
	)
	products := make(map[string]bool)
	stores := make(map[string]bool)
	for _, line := range lines {
		if !f.match(line) {
			continue
		}
		s.Lines++
		quantity = quantity.Add(decimal.NewFromFloat(line.Quantity))
		amount = amount.Add(decimal.NewFromFloat(line.AmountInclTax))
		products[line.ID] = true
		if line.Store != "" {
			stores[line.Store] = true
		}
		if line.Component {
			s.Components++
		}
		if line.IsReturn {
			s.Returns++
		}
		if line.Date.Valid() {
			t := line.Date.Time
			if s.PeriodStart == nil || t.Before(*s.PeriodStart) {
				s.PeriodStart = &t
			}
			if s.PeriodEnd == nil || t.After(*s.PeriodEnd) {
				end := t
				s.PeriodEnd = &end
			}
		}
	}
	s.Quantity = quantity.InexactFloat64()
	s.Amount = amount.Round(2).InexactFloat64()
	s.Products = len(products)
	s.Stores = len(stores)
	return s
}
