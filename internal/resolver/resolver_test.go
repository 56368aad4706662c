package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"posfusion/internal/catalog"
	"posfusion/internal/domain"
)

func testCatalog() *catalog.Catalog {
	return catalog.New([]domain.CatalogEntry{
		{ID: "1001", Name: "VERRE A VIN 19CL"},
		{ID: "2001", Name: "VASQUE ROSE"},
		{ID: "2002", Name: "VASQUE ROSE CLAIRE"},
		{ID: "3001", Name: "Bougie parfumée"},
		{ID: "4001", Name: "COUPE A CHAMPAGNE"},
		{ID: "5001", Name: "SAC"},
	})
}

func TestResolveExactIgnoresCaseAndAccents(t *testing.T) {
	r := New(DefaultRules())

	m := r.Resolve("  bougie  PARFUMEE ", testCatalog())
	if !m.Found || m.ID != "3001" || m.Method != MatchExact {
		t.Fatalf("expected exact match on 3001, got %+v", m)
	}
}

func TestResolveSubstringEitherDirection(t *testing.T) {
	r := New(DefaultRules())
	cat := testCatalog()

	m := r.Resolve("VERRE A VIN", cat)
	if !m.Found || m.ID != "1001" || m.Method != MatchSubstring {
		t.Fatalf("expected substring match on 1001, got %+v", m)
	}
	m = r.Resolve("LOT VERRE A VIN 19CL X6", cat)
	if !m.Found || m.ID != "1001" {
		t.Fatalf("expected containing match on 1001, got %+v", m)
	}
}

func TestResolveAmbiguousFamilyRejectsSubstring(t *testing.T) {
	r := New(DefaultRules())
	cat := testCatalog()

	m := r.Resolve("VASQUE ROSE CLAIRE", cat)
	if m.ID != "2002" || m.Method != MatchExact {
		t.Fatalf("expected exact 2002, got %+v", m)
	}
	m = r.Resolve("VASQUE ROSE XL", cat)
	if m.Found {
		t.Fatalf("expected family to block substring match, got %+v", m)
	}
	if m.ID != "VASQUE_ROSE_XL" || m.Method != MatchSynthetic {
		t.Fatalf("unexpected synthetic match %+v", m)
	}
}

func TestResolveWhitelistedVariant(t *testing.T) {
	r := New(DefaultRules())

	m := r.Resolve("coupe champagne", testCatalog())
	if !m.Found || m.ID != "4001" || m.Method != MatchVariant {
		t.Fatalf("expected variant match on 4001, got %+v", m)
	}
}

func TestResolveShortNamesDoNotSubstringMatch(t *testing.T) {
	r := New(nil)

	m := r.Resolve("SA", testCatalog())
	if m.Found {
		t.Fatalf("expected no match for a two letter name, got %+v", m)
	}
	m = r.Resolve("SAC KRAFT", testCatalog())
	if !m.Found || m.ID != "5001" {
		t.Fatalf("expected three letter catalog name to match, got %+v", m)
	}
}

func TestResolveEmptyCatalogFallsBack(t *testing.T) {
	m := New(nil).Resolve("Verre à pied (x6)", nil)
	if m.Found || m.ID != "VERRE_A_PIED_X6" || m.Name != "Verre à pied (x6)" {
		t.Fatalf("unexpected fallback %+v", m)
	}
	if SyntheticID("  ") != "UNKNOWN" {
		t.Fatalf("expected UNKNOWN for blank names")
	}
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	if err := os.WriteFile(path, []byte(`[{"family":"VERRE A VIN"}]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}

	m := New(rules).Resolve("VERRE A VIN", testCatalog())
	if m.Found {
		t.Fatalf("expected loaded family to block substring, got %+v", m)
	}
}
