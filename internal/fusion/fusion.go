// Package fusion merges imported batches into the cumulative dataset and
// detects exact duplicate sales records.
package fusion

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"posfusion/internal/domain"
)

var keyEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`)

// Key identifies a sale for duplicate detection:
// day|id|product|store|quantity|amount, with numbers in their shortest exact
// decimal form. A "|" or "\" inside a text field is backslash-escaped.
func Key(line domain.SalesLine) string {
	return strings.Join([]string{
		keyEscaper.Replace(line.Date.Day()),
		keyEscaper.Replace(line.ID),
		keyEscaper.Replace(line.ProductName),
		keyEscaper.Replace(line.Store),
		decimal.NewFromFloat(line.Quantity).String(),
		decimal.NewFromFloat(line.AmountInclTax).String(),
	}, "|")
}

// DetectInternalDuplicates counts keys repeated inside lines. Total is the
// number of excess occurrences; details follow first appearance order.
func DetectInternalDuplicates(lines []domain.SalesLine) domain.DuplicateReport {
	counts := make(map[string]int, len(lines))
	first := make(map[string]int, len(lines))
	var order []string
	for i, line := range lines {
		key := Key(line)
		if counts[key] == 0 {
			first[key] = i
			order = append(order, key)
		}
		counts[key]++
	}

	report := domain.DuplicateReport{Details: []domain.DuplicateDetail{}}
	for _, key := range order {
		n := counts[key]
		if n < 2 {
			continue
		}
		line := lines[first[key]]
		report.Total += n - 1
		report.Details = append(report.Details, domain.DuplicateDetail{
			Date:        line.Date.Day(),
			ProductID:   line.ID,
			Product:     line.ProductName,
			Store:       line.Store,
			Quantity:    line.Quantity,
			Amount:      line.AmountInclTax,
			Occurrences: n,
		})
	}
	return report
}

// DropInternalDuplicates keeps the first occurrence of every key and
// reports how many lines were dropped.
func DropInternalDuplicates(lines []domain.SalesLine) ([]domain.SalesLine, int) {
	seen := make(map[string]struct{}, len(lines))
	kept := make([]domain.SalesLine, 0, len(lines))
	for _, line := range lines {
		key := Key(line)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, line)
	}
	return kept, len(lines) - len(kept)
}

type Merger struct {
	now func() time.Time
}

func NewMerger(now func() time.Time) *Merger {
	if now == nil {
		now = time.Now
	}
	return &Merger{now: now}
}

// Merge appends incoming to existing. With eliminateDuplicates, lines whose
// key is already present in existing, or was added earlier from incoming,
// are dropped and counted. The existing dataset is not modified.
func (m *Merger) Merge(existing domain.Dataset, incoming []domain.SalesLine, eliminateDuplicates bool) domain.MergeResult {
	merged := make([]domain.SalesLine, 0, len(existing.Lines)+len(incoming))
	merged = append(merged, existing.Lines...)

	res := domain.MergeResult{}
	if eliminateDuplicates {
		seen := make(map[string]struct{}, len(merged)+len(incoming))
		for _, line := range existing.Lines {
			seen[Key(line)] = struct{}{}
		}
		for _, line := range incoming {
			key := Key(line)
			if _, dup := seen[key]; dup {
				res.DuplicatesEliminated++
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, line)
			res.Added++
		}
	} else {
		merged = append(merged, incoming...)
		res.Added = len(incoming)
	}

	meta := cloneMetadata(existing.Metadata)
	known := make(map[string]bool, len(meta.KnownMonths))
	for _, month := range meta.KnownMonths {
		known[month] = true
	}
	for _, month := range MonthsOf(incoming) {
		if !known[month] {
			res.NewMonths = append(res.NewMonths, month)
			known[month] = true
			meta.KnownMonths = append(meta.KnownMonths, month)
		}
	}
	slices.Sort(meta.KnownMonths)
	extendPeriod(&meta, incoming)
	now := m.now().UTC()
	meta.LastUpdated = &now
	meta.TotalLines = len(merged)

	res.Lines = merged
	res.Metadata = meta
	if res.NewMonths == nil {
		res.NewMonths = []string{}
	}
	return res
}

// RebuildMetadata derives metadata from scratch, used after a restore.
func (m *Merger) RebuildMetadata(lines []domain.SalesLine) domain.Metadata {
	meta := domain.Metadata{KnownMonths: MonthsOf(lines), TotalLines: len(lines)}
	extendPeriod(&meta, lines)
	now := m.now().UTC()
	meta.LastUpdated = &now
	return meta
}

// MonthsOf returns the sorted distinct YYYY-MM of lines with a valid date.
func MonthsOf(lines []domain.SalesLine) []string {
	set := make(map[string]bool)
	months := []string{}
	for _, line := range lines {
		month, ok := line.Date.Month()
		if !ok || set[month] {
			continue
		}
		set[month] = true
		months = append(months, month)
	}
	slices.Sort(months)
	return months
}

// LinesInMonths keeps the lines dated in one of months.
func LinesInMonths(lines []domain.SalesLine, months []string) []domain.SalesLine {
	want := make(map[string]bool, len(months))
	for _, month := range months {
		want[month] = true
	}
	out := []domain.SalesLine{}
	for _, line := range lines {
		if month, ok := line.Date.Month(); ok && want[month] {
			out = append(out, line)
		}
	}
	return out
}

// extendPeriod widens the metadata period to cover the valid dates of lines.
func extendPeriod(meta *domain.Metadata, lines []domain.SalesLine) {
	for _, line := range lines {
		if !line.Date.Valid() {
			continue
		}
		t := line.Date.Time
		if meta.PeriodStart == nil || t.Before(*meta.PeriodStart) {
			start := t
			meta.PeriodStart = &start
		}
		if meta.PeriodEnd == nil || t.After(*meta.PeriodEnd) {
			end := t
			meta.PeriodEnd = &end
		}
	}
}

func cloneMetadata(in domain.Metadata) domain.Metadata {
	out := in
	out.KnownMonths = slices.Clone(in.KnownMonths)
	if out.KnownMonths == nil {
		out.KnownMonths = []string{}
	}
	return out
}
