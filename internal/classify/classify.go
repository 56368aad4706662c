// Package classify assigns categories to products from name patterns.
package classify

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"posfusion/internal/domain"
	"posfusion/internal/textfold"
)

type Rule struct {
	Pattern  string `json:"pattern"`
	Category string `json:"category"`
}

func DefaultRules() []Rule {
	return []Rule{
		{Pattern: "PACK", Category: "packs"},
		{Pattern: "TRIO", Category: "packs"},
		{Pattern: "VASQUE", Category: "decoration"},
		{Pattern: "BOUGIE", Category: "decoration"},
		{Pattern: "VERRE", Category: "verrerie"},
		{Pattern: "FLUTE", Category: "verrerie"},
		{Pattern: "COUPE", Category: "verrerie"},
		{Pattern: "CARAFE", Category: "verrerie"},
	}
}

func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("classify rules %s: %w", path, err)
	}
	return rules, nil
}

type Classifier struct {
	rules []Rule
}

func New(rules []Rule) *Classifier {
	c := &Classifier{rules: make([]Rule, 0, len(rules))}
	for _, r := range rules {
		pattern := textfold.Fold(r.Pattern)
		if pattern == "" || strings.TrimSpace(r.Category) == "" {
			continue
		}
		c.rules = append(c.rules, Rule{Pattern: pattern, Category: strings.TrimSpace(r.Category)})
	}
	return c
}

// Classify returns the category of the first rule whose pattern occurs in
// the product name.
func (c *Classifier) Classify(productName string) (string, bool) {
	name := textfold.Fold(productName)
	if name == "" {
		return "", false
	}
	for _, r := range c.rules {
		if strings.Contains(name, r.Pattern) {
			return r.Category, true
		}
	}
	return "", false
}

// Apply fills the category of lines that have none or are unclassified and
// returns how many lines changed.
func (c *Classifier) Apply(lines []domain.SalesLine) int {
	changed := 0
	for i := range lines {
		if lines[i].Category != "" && lines[i].Category != domain.CategoryUnclassified {
			continue
		}
		if category, ok := c.Classify(lines[i].ProductName); ok {
			lines[i].Category = category
			changed++
		}
	}
	return changed
}
