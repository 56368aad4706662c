// Package decompose expands bundle sales lines into zero-priced component
// lines, merging them with standalone sales of the same products.
package decompose

import (
	"log"
	"slices"

	"github.com/shopspring/decimal"

	"posfusion/internal/catalog"
	"posfusion/internal/domain"
	"posfusion/internal/resolver"
)

// CompositionLookup is the part of the registry the engine needs.
type CompositionLookup interface {
	FindByID(id string) (domain.Composition, bool)
}

type Result struct {
	Expanded        []domain.SalesLine `json:"expanded"`
	ComponentsAdded int                `json:"componentsAdded"`
	BundlesExpanded int                `json:"bundlesExpanded"`
}

type Engine struct {
	resolver *resolver.Resolver
}

func New(r *resolver.Resolver) *Engine {
	if r == nil {
		r = resolver.New(nil)
	}
	return &Engine{resolver: r}
}

// Decompose copies batch to the output unchanged, then expands every line
// whose id is a bundle. A component whose id already appears on a non-bundle
// output line is added to that line's quantity, and the line's amount is
// recomputed from its own unit price, derived from the amount when missing. Otherwise a new line is appended at
// zero price. Expansion is one level deep.
func (e *Engine) Decompose(batch []domain.SalesLine, registry CompositionLookup, cat *catalog.Catalog) Result {
	out := slices.Clone(batch)
	if out == nil {
		out = []domain.SalesLine{}
	}
	if registry == nil {
		return Result{Expanded: out}
	}

	isBundle := func(id string) bool {
		_, ok := registry.FindByID(id)
		return ok
	}
	index := make(map[string]int, len(out))
	for i, line := range out {
		if _, seen := index[line.ID]; seen || isBundle(line.ID) {
			continue
		}
		index[line.ID] = i
	}

	res := Result{}
	for _, line := range batch {
		bundle, ok := registry.FindByID(line.ID)
		if !ok {
			continue
		}
		if !bundle.Usable() {
			log.Printf("[decompose] WARN: bundle %s has no components, kept as is", bundle.ID)
			continue
		}
		res.BundlesExpanded++
		parentQty := decimal.NewFromFloat(line.Quantity)

		for _, comp := range bundle.Components {
			contributed := parentQty.Mul(decimal.NewFromInt(int64(comp.Quantity)))
			id, name, entry, found := e.resolve(comp, cat)
			if isBundle(id) {
				log.Printf("[decompose] WARN: component %s of bundle %s is itself a bundle, not expanded", id, bundle.ID)
			}

			if idx, ok := index[id]; ok {
				mergeInto(&out[idx], contributed)
				continue
			}

			category := comp.Category
			if category == "" && found {
				category = entry.Category
			}
			if category == "" {
				category = domain.CategoryUnclassified
			}
			out = append(out, domain.SalesLine{
				ID:               id,
				ProductName:      name,
				Quantity:         contributed.InexactFloat64(),
				UnitPriceInclTax: 0,
				AmountInclTax:    0,
				Date:             line.Date,
				Store:            line.Store,
				Category:         category,
				OperationNumber:  line.OperationNumber,
				IsReturn:         line.IsReturn,
				ParentID:         line.ID,
				Component:        true,
				SourceFile:       line.SourceFile,
				SourceRow:        line.SourceRow,
			})
			index[id] = len(out) - 1
			res.ComponentsAdded++
		}
	}

	res.Expanded = out
	return res
}

// mergeInto adds contributed units to a standalone line. A line without a
// unit price gets one derived from its amount first, and a line with neither
// quantity nor unit price keeps its amount.
func mergeInto(line *domain.SalesLine, contributed decimal.Decimal) {
	oldQty := decimal.NewFromFloat(line.Quantity)
	qty := oldQty.Add(contributed)
	line.Quantity = qty.InexactFloat64()

	unit := decimal.NewFromFloat(line.UnitPriceInclTax)
	if unit.IsZero() && line.AmountInclTax != 0 {
		if oldQty.IsZero() {
			return
		}
		unit = decimal.NewFromFloat(line.AmountInclTax).Div(oldQty)
		line.UnitPriceInclTax = unit.InexactFloat64()
	}
	line.AmountInclTax = unit.Mul(qty).InexactFloat64()
}

// resolve prefers a declared id present in the catalog, then the name
// match, then the declared id, then the synthetic id.
func (e *Engine) resolve(comp domain.CompositionComponent, cat *catalog.Catalog) (string, string, domain.CatalogEntry, bool) {
	if comp.ID != "" {
		if entry, ok := cat.Lookup(comp.ID); ok {
			return entry.ID, entry.Name, entry, true
		}
	}
	m := e.resolver.Resolve(comp.Name, cat)
	if m.Found {
		return m.ID, m.Name, m.Entry, true
	}
	if comp.ID != "" {
		name := comp.Name
		if name == "" {
			name = comp.ID
		}
		return comp.ID, name, domain.CatalogEntry{}, false
	}
	return m.ID, m.Name, domain.CatalogEntry{}, false
}
