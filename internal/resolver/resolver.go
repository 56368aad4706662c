// Package resolver matches free-text component names to catalog entries.
package resolver

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"posfusion/internal/catalog"
	"posfusion/internal/domain"
	"posfusion/internal/textfold"
)

// minSubstringLen is the shortest folded name allowed to take part in a
// substring match.
const minSubstringLen = 3

type MatchMethod string

const (
	MatchExact     MatchMethod = "exact"
	MatchVariant   MatchMethod = "variant"
	MatchSubstring MatchMethod = "substring"
	MatchSynthetic MatchMethod = "synthetic"
)

// FamilyRule marks names sharing Family as ambiguous. Inside a family only
// exact equality, or two names both listed in Variants, may match.
type FamilyRule struct {
	Family   string   `json:"family"`
	Variants []string `json:"variants,omitempty"`
}

type Match struct {
	ID     string
	Name   string
	Entry  domain.CatalogEntry
	Found  bool
	Method MatchMethod
}

type rule struct {
	family   string
	variants map[string]bool
}

type Resolver struct {
	rules []rule
}

func New(rules []FamilyRule) *Resolver {
	r := &Resolver{rules: make([]rule, 0, len(rules))}
	for _, fr := range rules {
		family := textfold.Fold(fr.Family)
		if family == "" {
			continue
		}
		compiled := rule{family: family, variants: make(map[string]bool, len(fr.Variants))}
		for _, v := range fr.Variants {
			if folded := textfold.Fold(v); folded != "" {
				compiled.variants[folded] = true
			}
		}
		r.rules = append(r.rules, compiled)
	}
	return r
}

// DefaultRules covers the ambiguous families known in the shop catalog.
func DefaultRules() []FamilyRule {
	return []FamilyRule{
		{Family: "VASQUE ROSE"},
		{Family: "COUPE CHAMPAGNE", Variants: []string{"COUPE CHAMPAGNE", "COUPE A CHAMPAGNE", "COUPE CHAMPAGNE 15CL"}},
		{Family: "FLUTE CHAMPAGNE", Variants: []string{"FLUTE CHAMPAGNE", "FLUTE A CHAMPAGNE"}},
	}
}

// LoadRules reads a JSON array of family rules.
func LoadRules(path string) ([]FamilyRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rules []FamilyRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("resolver rules %s: %w", path, err)
	}
	return rules, nil
}

// Resolve finds the catalog entry for name: exact folded equality first,
// then the first entry in catalog order where one name contains the other
// and no ambiguous family forbids it. Without a match it returns a
// synthetic id derived from name.
func (r *Resolver) Resolve(name string, cat *catalog.Catalog) Match {
	want := textfold.Fold(name)
	if want != "" {
		var exact *domain.CatalogEntry
		cat.Scan(func(entry domain.CatalogEntry, folded string) bool {
			if folded == want {
				exact = &entry
				return false
			}
			return true
		})
		if exact != nil {
			return Match{ID: exact.ID, Name: exact.Name, Entry: *exact, Found: true, Method: MatchExact}
		}

		var (
			found  *domain.CatalogEntry
			method MatchMethod
		)
		cat.Scan(func(entry domain.CatalogEntry, folded string) bool {
			if m, ok := r.pair(want, folded); ok {
				found = &entry
				method = m
				return false
			}
			return true
		})
		if found != nil {
			return Match{ID: found.ID, Name: found.Name, Entry: *found, Found: true, Method: method}
		}
	}

	return Match{ID: SyntheticID(name), Name: strings.TrimSpace(name), Method: MatchSynthetic}
}

// pair decides a non-exact match between two folded names.
func (r *Resolver) pair(a, b string) (MatchMethod, bool) {
	touched := false
	for _, fr := range r.rules {
		if !strings.Contains(a, fr.family) && !strings.Contains(b, fr.family) {
			continue
		}
		touched = true
		if fr.variants[a] && fr.variants[b] {
			return MatchVariant, true
		}
	}
	if touched {
		return "", false
	}

	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len([]rune(shorter)) < minSubstringLen {
		return "", false
	}
	if strings.Contains(longer, shorter) {
		return MatchSubstring, true
	}
	return "", false
}

// SyntheticID is the id given to a name with no catalog match.
func SyntheticID(name string) string {
	if slug := textfold.Slug(name); slug != "" {
		return slug
	}
	return "UNKNOWN"
}
