package decompose

import (
	"testing"
	"time"

	"posfusion/internal/catalog"
	"posfusion/internal/domain"
	"posfusion/internal/resolver"
)

type lookup map[string]domain.Composition

func (l lookup) FindByID(id string) (domain.Composition, bool) {
	c, ok := l[id]
	return c, ok
}

var saleDay = domain.NewSaleDate(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))

func scenarioRegistry() lookup {
	return lookup{
		"100": {ID: "100", Name: "PACK A", Type: domain.CompositionPack, Components: []domain.CompositionComponent{
			{Name: "GLASS", Quantity: 2},
		}},
	}
}

func scenarioCatalog() *catalog.Catalog {
	return catalog.New([]domain.CatalogEntry{{ID: "200", Name: "GLASS", Category: "verrerie", SalePriceInclTax: 1.5}})
}

func linesByID(lines []domain.SalesLine, id string) []domain.SalesLine {
	var out []domain.SalesLine
	for _, l := range lines {
		if l.ID == id {
			out = append(out, l)
		}
	}
	return out
}

func TestDecomposeAppendsZeroPricedComponent(t *testing.T) {
	batch := []domain.SalesLine{{ID: "100", ProductName: "PACK A", Quantity: 3, UnitPriceInclTax: 10, AmountInclTax: 30, Date: saleDay, Store: "Lyon", OperationNumber: "T-1"}}

	res := New(resolver.New(nil)).Decompose(batch, scenarioRegistry(), scenarioCatalog())

	if res.ComponentsAdded != 1 || len(res.Expanded) != 2 {
		t.Fatalf("expected one added component, got %+v", res)
	}
	bundle := res.Expanded[0]
	if bundle.ID != "100" || bundle.AmountInclTax != 30 || bundle.Quantity != 3 {
		t.Fatalf("bundle line changed: %+v", bundle)
	}
	comp := res.Expanded[1]
	if comp.ID != "200" || comp.Quantity != 6 || comp.AmountInclTax != 0 || comp.UnitPriceInclTax != 0 {
		t.Fatalf("unexpected component line %+v", comp)
	}
	if comp.Category != "verrerie" || comp.ParentID != "100" || !comp.Component {
		t.Fatalf("unexpected component provenance %+v", comp)
	}
	if comp.Store != "Lyon" || comp.OperationNumber != "T-1" || comp.Date.Day() != "2024-03-01" {
		t.Fatalf("component should copy parent context, got %+v", comp)
	}
}

func TestDecomposeMergesStandaloneSale(t *testing.T) {
	batch := []domain.SalesLine{
		{ID: "100", Quantity: 3, AmountInclTax: 30, Date: saleDay},
		{ID: "200", ProductName: "GLASS", Quantity: 5, UnitPriceInclTax: 1.5, AmountInclTax: 7.5, Date: saleDay},
	}

	res := New(nil).Decompose(batch, scenarioRegistry(), scenarioCatalog())

	glass := linesByID(res.Expanded, "200")
	if len(glass) != 1 {
		t.Fatalf("expected a single glass line, got %d", len(glass))
	}
	if glass[0].Quantity != 11 || glass[0].AmountInclTax != 16.5 {
		t.Fatalf("expected 11 units for 16.5, got %+v", glass[0])
	}
	if res.ComponentsAdded != 0 {
		t.Fatalf("expected no new component line, got %d", res.ComponentsAdded)
	}
	if res.Expanded[0].AmountInclTax != 30 {
		t.Fatalf("bundle revenue changed: %+v", res.Expanded[0])
	}
}

func TestDecomposeMergeDerivesMissingUnitPrice(t *testing.T) {
	batch := []domain.SalesLine{
		{ID: "100", Quantity: 3, AmountInclTax: 30, Date: saleDay},
		{ID: "200", ProductName: "GLASS", Quantity: 5, AmountInclTax: 7.5, Date: saleDay},
		{ID: "300", ProductName: "FREE GLASS", Quantity: 0, AmountInclTax: 4, Date: saleDay},
	}
	registry := scenarioRegistry()
	registry["101"] = domain.Composition{ID: "101", Components: []domain.CompositionComponent{{ID: "300", Quantity: 1}}}
	batch = append(batch, domain.SalesLine{ID: "101", Quantity: 2, AmountInclTax: 9, Date: saleDay})

	res := New(nil).Decompose(batch, registry, scenarioCatalog())

	glass := linesByID(res.Expanded, "200")
	if len(glass) != 1 || glass[0].Quantity != 11 || glass[0].AmountInclTax != 16.5 || glass[0].UnitPriceInclTax != 1.5 {
		t.Fatalf("expected 11 units at 1.5 for 16.5, got %+v", glass)
	}
	free := linesByID(res.Expanded, "300")
	if len(free) != 1 || free[0].Quantity != 2 || free[0].AmountInclTax != 4 {
		t.Fatalf("expected amount kept on a line without quantity, got %+v", free)
	}

	var before, after float64
	for _, l := range batch {
		before += l.AmountInclTax
	}
	for _, l := range res.Expanded {
		after += l.AmountInclTax
	}
	if after < before {
		t.Fatalf("revenue dropped from %v to %v", before, after)
	}
}

func TestDecomposeNeverDuplicatesBundleRevenue(t *testing.T) {
	registry := lookup{
		"9001": {ID: "9001", Components: []domain.CompositionComponent{{ID: "1001", Quantity: 6}, {Name: "CARAFE", Quantity: 1}}},
		"9002": {ID: "9002", Components: []domain.CompositionComponent{{ID: "1001", Quantity: 2}}},
	}
	batch := []domain.SalesLine{
		{ID: "9001", Quantity: 2, AmountInclTax: 50},
		{ID: "9002", Quantity: 1, AmountInclTax: 12},
		{ID: "9001", Quantity: 1, AmountInclTax: 25},
	}

	res := New(nil).Decompose(batch, registry, catalog.New([]domain.CatalogEntry{{ID: "1001", Name: "VERRE"}}))

	var derived float64
	for _, l := range res.Expanded {
		if l.Component {
			derived += l.AmountInclTax
		}
	}
	if derived != 0 {
		t.Fatalf("expected zero derived revenue, got %v", derived)
	}
	verres := linesByID(res.Expanded, "1001")
	if len(verres) != 1 || verres[0].Quantity != 20 {
		t.Fatalf("expected one line of 20 glasses, got %+v", verres)
	}
	carafes := linesByID(res.Expanded, "CARAFE")
	if len(carafes) != 1 || carafes[0].Quantity != 3 || carafes[0].Category != domain.CategoryUnclassified {
		t.Fatalf("expected synthetic carafe line of 3, got %+v", carafes)
	}
	if res.ComponentsAdded != 2 || res.BundlesExpanded != 3 {
		t.Fatalf("unexpected counters %+v", res)
	}
}

func TestDecomposeComponentCategoryPrecedence(t *testing.T) {
	registry := lookup{"1": {ID: "1", Components: []domain.CompositionComponent{
		{Name: "GLASS", Quantity: 1, Category: "cadeaux"},
	}}}

	res := New(nil).Decompose([]domain.SalesLine{{ID: "1", Quantity: 1}}, registry, scenarioCatalog())

	if got := res.Expanded[1].Category; got != "cadeaux" {
		t.Fatalf("expected component category to win, got %s", got)
	}
}

func TestDecomposeDeclaredIDOutsideCatalog(t *testing.T) {
	registry := lookup{"1": {ID: "1", Components: []domain.CompositionComponent{
		{ID: "7777", Name: "OBJET INCONNU", Quantity: 2},
	}}}

	res := New(nil).Decompose([]domain.SalesLine{{ID: "1", Quantity: 2}}, registry, scenarioCatalog())

	comp := res.Expanded[1]
	if comp.ID != "7777" || comp.ProductName != "OBJET INCONNU" || comp.Quantity != 4 {
		t.Fatalf("expected declared id kept, got %+v", comp)
	}
}

func TestDecomposeNestedBundleIsNotExpanded(t *testing.T) {
	registry := lookup{
		"OUTER": {ID: "OUTER", Components: []domain.CompositionComponent{{ID: "INNER", Quantity: 1}}},
		"INNER": {ID: "INNER", Components: []domain.CompositionComponent{{ID: "200", Quantity: 4}}},
	}
	batch := []domain.SalesLine{
		{ID: "OUTER", Quantity: 1, AmountInclTax: 40},
		{ID: "INNER", Quantity: 1, AmountInclTax: 20},
	}

	res := New(nil).Decompose(batch, registry, scenarioCatalog())

	inner := linesByID(res.Expanded, "INNER")
	if len(inner) != 2 {
		t.Fatalf("expected sold bundle line plus one component line, got %+v", inner)
	}
	if inner[0].AmountInclTax != 20 || inner[0].Quantity != 1 {
		t.Fatalf("sold bundle line must keep its revenue, got %+v", inner[0])
	}
	if !inner[1].Component || inner[1].Quantity != 1 {
		t.Fatalf("unexpected nested component line %+v", inner[1])
	}
	glass := linesByID(res.Expanded, "200")
	if len(glass) != 1 || glass[0].Quantity != 4 {
		t.Fatalf("only the sold inner bundle expands to glass, got %+v", glass)
	}
}

func TestDecomposeWithoutBundles(t *testing.T) {
	batch := []domain.SalesLine{{ID: "200", Quantity: 1, AmountInclTax: 1.5}}

	res := New(nil).Decompose(batch, scenarioRegistry(), nil)
	if len(res.Expanded) != 1 || res.ComponentsAdded != 0 {
		t.Fatalf("expected batch unchanged, got %+v", res)
	}
	res.Expanded[0].Quantity = 99
	if batch[0].Quantity != 1 {
		t.Fatalf("input batch must not be modified")
	}
}
