package classify

import (
	"os"
	"path/filepath"
	"testing"

	"posfusion/internal/domain"
)

func TestClassifyFirstRuleWins(t *testing.T) {
	c := New(DefaultRules())

	if got, ok := c.Classify("Pack verres à vin"); !ok || got != "packs" {
		t.Fatalf("expected packs, got %q", got)
	}
	if got, ok := c.Classify("flûte champagne"); !ok || got != "verrerie" {
		t.Fatalf("expected verrerie, got %q", got)
	}
	if _, ok := c.Classify("Sac kraft"); ok {
		t.Fatalf("expected no category for unknown product")
	}
}

func TestApplyOnlyFillsMissingCategories(t *testing.T) {
	lines := []domain.SalesLine{
		{ProductName: "BOUGIE PARFUMEE"},
		{ProductName: "VERRE", Category: domain.CategoryUnclassified},
		{ProductName: "VERRE", Category: "cadeaux"},
		{ProductName: "INCONNU"},
	}

	changed := New(DefaultRules()).Apply(lines)
	if changed != 2 {
		t.Fatalf("expected 2 changes, got %d", changed)
	}
	if lines[0].Category != "decoration" || lines[1].Category != "verrerie" || lines[2].Category != "cadeaux" || lines[3].Category != "" {
		t.Fatalf("unexpected categories %+v", lines)
	}
}

func TestLoadRulesSkipsIncompleteRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	if err := os.WriteFile(path, []byte(`[{"pattern":"sac","category":"emballage"},{"pattern":"","category":"x"}]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c := New(rules)
	if got, ok := c.Classify("Sac kraft"); !ok || got != "emballage" {
		t.Fatalf("expected emballage, got %q", got)
	}
	if len(c.rules) != 1 {
		t.Fatalf("expected blank pattern dropped, got %d rules", len(c.rules))
	}
}
