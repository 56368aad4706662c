// Package catalog holds the product/price reference used to reconcile
// component names and categorise synthesized lines.
package catalog

import (
	"log"
	"slices"
	"strings"

	"posfusion/internal/domain"
	"posfusion/internal/textfold"
)

// Catalog is an immutable snapshot. A nil *Catalog behaves as empty.
type Catalog struct {
	entries []domain.CatalogEntry
	folded  []string
	byID    map[string]int
}

func New(entries []domain.CatalogEntry) *Catalog {
	c := &Catalog{
		entries: make([]domain.CatalogEntry, 0, len(entries)),
		folded:  make([]string, 0, len(entries)),
		byID:    make(map[string]int, len(entries)),
	}
	for _, entry := range entries {
		entry.ID = strings.TrimSpace(entry.ID)
		entry.Name = strings.TrimSpace(entry.Name)
		if entry.ID == "" {
			continue
		}
		if _, exists := c.byID[entry.ID]; exists {
			log.Printf("[catalog] WARN: duplicate id %s (%s) ignored", entry.ID, entry.Name)
			continue
		}
		c.byID[entry.ID] = len(c.entries)
		c.entries = append(c.entries, entry)
		c.folded = append(c.folded, textfold.Fold(entry.Name))
	}
	return c
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

func (c *Catalog) Lookup(id string) (domain.CatalogEntry, bool) {
	if c == nil {
		return domain.CatalogEntry{}, false
	}
	idx, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return domain.CatalogEntry{}, false
	}
	return c.entries[idx], true
}

// Entries returns a copy of the catalog in load order.
func (c *Catalog) Entries() []domain.CatalogEntry {
	if c == nil {
		return nil
	}
	return slices.Clone(c.entries)
}

// Scan calls fn for each entry in load order with its folded name until fn
// returns false.
func (c *Catalog) Scan(fn func(entry domain.CatalogEntry, folded string) bool) {
	if c == nil {
		return
	}
	for i, entry := range c.entries {
		if !fn(entry, c.folded[i]) {
			return
		}
	}
}
