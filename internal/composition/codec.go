package composition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"regexp"
	"strconv"
	"strings"

	"posfusion/internal/domain"
	"posfusion/internal/textfold"
)

var ErrFormat = errors.New("unrecognised compositions document")

var (
	legacyComponentRe = regexp.MustCompile(`^\s*(.+?)\s*\((\d+)\)\s*$`)
	fourDigitRe       = regexp.MustCompile(`\b(\d{4})\b`)
)

// RawComponent is one component as found in a registry document: either a
// structured object or a legacy "<name> (<qty>)" string.
type RawComponent struct {
	Legacy     string
	Structured *domain.CompositionComponent
}

func (rc *RawComponent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &rc.Legacy)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return err
	}
	comp := domain.CompositionComponent{
		ID:       flexString(fields, "id", "code"),
		Name:     flexString(fields, "name", "nom"),
		Category: flexString(fields, "category", "categorie"),
		Quantity: 1,
	}
	if qty, ok := flexNumber(fields, "quantity", "quantite", "qty"); ok {
		if qty != math.Trunc(qty) {
			log.Printf("[compositions] WARN: component %q has fractional quantity %v", comp.Name, qty)
			qty = 0
		}
		comp.Quantity = int(qty)
	}
	rc.Structured = &comp
	return nil
}

func (rc RawComponent) MarshalJSON() ([]byte, error) {
	if rc.Structured != nil {
		return json.Marshal(rc.Structured)
	}
	return json.Marshal(rc.Legacy)
}

// RawComposition is a bundle definition before normalisation.
type RawComposition struct {
	ID         string
	Name       string
	Type       string
	Components []RawComponent
}

func (rc *RawComposition) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	rc.ID = flexString(fields, "id", "code")
	rc.Name = flexString(fields, "name", "nom")
	rc.Type = flexString(fields, "type")
	for _, key := range []string{"components", "composants", "composition"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &rc.Components); err != nil {
			return fmt.Errorf("composition %s: %w", rc.ID, err)
		}
		break
	}
	return nil
}

// ComponentsOf normalises raw components to the structured shape. Structured
// components are returned as they are; legacy strings are parsed and those
// that do not match are dropped.
func ComponentsOf(raw []RawComponent) []domain.CompositionComponent {
	out := make([]domain.CompositionComponent, 0, len(raw))
	for _, rc := range raw {
		if rc.Structured != nil {
			comp := *rc.Structured
			comp.ID = strings.TrimSpace(comp.ID)
			comp.Name = strings.TrimSpace(comp.Name)
			if comp.Name == "" && comp.ID == "" {
				log.Printf("[compositions] WARN: component without id or name dropped")
				continue
			}
			if comp.Quantity < 1 {
				log.Printf("[compositions] WARN: component %q has quantity %d, dropped", comp.Name, comp.Quantity)
				continue
			}
			out = append(out, comp)
			continue
		}
		comp, ok := ParseLegacyComponent(rc.Legacy)
		if !ok {
			log.Printf("[compositions] WARN: legacy component %q not understood, dropped", rc.Legacy)
			continue
		}
		out = append(out, comp)
	}
	return out
}

// ParseLegacyComponent reads "<name> (<qty>)". A four digit token in the
// name becomes the id, otherwise the id is the slugified name.
func ParseLegacyComponent(s string) (domain.CompositionComponent, bool) {
	m := legacyComponentRe.FindStringSubmatch(s)
	if m == nil {
		return domain.CompositionComponent{}, false
	}
	qty, err := strconv.Atoi(m[2])
	if err != nil || qty < 1 {
		return domain.CompositionComponent{}, false
	}
	name := strings.TrimSpace(m[1])
	id := textfold.Slug(name)
	if digits := fourDigitRe.FindStringSubmatch(name); digits != nil {
		id = digits[1]
	}
	return domain.CompositionComponent{ID: id, Name: name, Quantity: qty}, true
}

// Normalize converts a raw definition. fallbackType applies when the entry
// carries no type of its own.
func (rc RawComposition) Normalize(fallbackType domain.CompositionType) domain.Composition {
	typ := fallbackType
	if strings.TrimSpace(rc.Type) != "" {
		typ = domain.ParseCompositionType(rc.Type)
	}
	if typ == "" {
		typ = domain.CompositionOther
	}
	return domain.Composition{
		ID:         strings.TrimSpace(rc.ID),
		Name:       strings.TrimSpace(rc.Name),
		Type:       typ,
		Components: ComponentsOf(rc.Components),
	}
}

// Decode reads a flat array of compositions, or an object keyed by bundle
// type ("packs", "vasques", ...). The persisted {"compositions": [...]}
// form is the keyed form with no implied type. Entries without an id are
// dropped and repeated ids keep the first definition.
func Decode(data []byte) ([]domain.Composition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrFormat
	}

	type group struct {
		typ domain.CompositionType
		raw []RawComposition
	}
	var groups []group
	switch trimmed[0] {
	case '[':
		var raw []RawComposition
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		groups = append(groups, group{raw: raw})
	case '{':
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrFormat, err)
			}
			key, _ := tok.(string)
			var value json.RawMessage
			if err := dec.Decode(&value); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrFormat, err)
			}
			value = bytes.TrimSpace(value)
			if len(value) == 0 || value[0] != '[' {
				continue
			}
			var raw []RawComposition
			if err := json.Unmarshal(value, &raw); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrFormat, key, err)
			}
			var typ domain.CompositionType
			if !strings.EqualFold(key, "compositions") {
				typ = domain.ParseCompositionType(key)
			}
			groups = append(groups, group{typ: typ, raw: raw})
		}
		if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		if len(groups) == 0 {
			return nil, ErrFormat
		}
	default:
		return nil, ErrFormat
	}

	seen := make(map[string]bool)
	var out []domain.Composition
	for _, g := range groups {
		for _, raw := range g.raw {
			comp := raw.Normalize(g.typ)
			if comp.ID == "" {
				log.Printf("[compositions] WARN: composition %q without id dropped", comp.Name)
				continue
			}
			if seen[comp.ID] {
				log.Printf("[compositions] WARN: duplicate composition id %s, keeping the first", comp.ID)
				continue
			}
			seen[comp.ID] = true
			if !comp.Usable() {
				log.Printf("[compositions] WARN: composition %s has no usable component", comp.ID)
			}
			out = append(out, comp)
		}
	}
	return out, nil
}

// Encode writes the persisted form with structured components.
func Encode(compositions []domain.Composition) ([]byte, error) {
	if compositions == nil {
		compositions = []domain.Composition{}
	}
	return json.MarshalIndent(struct {
		Compositions []domain.Composition `json:"compositions"`
	}{compositions}, "", "  ")
}

func flexString(fields map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String()
		}
	}
	return ""
}

func flexNumber(fields map[string]json.RawMessage, keys ...string) (float64, bool) {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var f float64
		if err := json.Unmarshal(raw, &f); err == nil {
			return f, true
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
