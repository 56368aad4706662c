package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"posfusion/internal/domain"
	"posfusion/internal/textfold"
)

var ErrCatalogFormat = errors.New("unrecognised catalog format")

type catalogField int

const (
	catalogID catalogField = iota
	catalogName
	catalogCategory
	catalogPurchase
	catalogSale
)

// Header synonyms per field, matched as case and accent insensitive
// substrings. Purchase is resolved before sale so "prix achat" is not
// taken by the generic "prix".
var catalogSynonyms = []struct {
	field    catalogField
	synonyms []string
}{
	{catalogID, []string{"identifiant", "id", "code", "reference", "ref", "ean", "sku", "article"}},
	{catalogName, []string{"designation", "libelle", "nom", "name", "produit", "product", "description"}},
	{catalogCategory, []string{"categorie", "category", "famille", "rayon", "family"}},
	{catalogPurchase, []string{"prix achat", "prix d'achat", "achat", "purchase", "cout", "cost", "pa ht"}},
	{catalogSale, []string{"prix vente", "prix de vente", "vente", "sale", "pv ttc", "ttc", "price", "prix"}},
}

// discoverCatalogColumns assigns each field the first unclaimed header that
// contains one of its synonyms. Identifier and name default to column 0.
func discoverCatalogColumns(header []string) map[catalogField]int {
	folded := make([]string, len(header))
	for i, h := range header {
		folded[i] = textfold.Fold(h)
	}
	claimed := make(map[int]bool, len(header))
	cols := make(map[catalogField]int, len(catalogSynonyms))
	for _, group := range catalogSynonyms {
	synonyms:
		for _, syn := range group.synonyms {
			want := textfold.Fold(syn)
			for i, h := range folded {
				if claimed[i] || !strings.Contains(h, want) {
					continue
				}
				cols[group.field] = i
				claimed[i] = true
				break synonyms
			}
		}
	}
	for _, field := range []catalogField{catalogID, catalogName} {
		if _, ok := cols[field]; !ok && len(header) > 0 {
			cols[field] = 0
		}
	}
	return cols
}

func ParseCatalogTable(t Table) ([]domain.CatalogEntry, error) {
	if len(t.Header) == 0 {
		return nil, ErrEmptyTable
	}
	cols := discoverCatalogColumns(t.Header)
	get := func(row []string, field catalogField) string {
		idx, ok := cols[field]
		if !ok {
			return ""
		}
		return t.Cell(row, idx)
	}
	price := func(raw string) float64 {
		if raw == "" {
			return 0
		}
		d, err := ParseDecimal(raw)
		if err != nil {
			return 0
		}
		return d.InexactFloat64()
	}

	entries := make([]domain.CatalogEntry, 0, len(t.Rows))
	for _, row := range t.Rows {
		id := get(row, catalogID)
		if id == "" {
			continue
		}
		entries = append(entries, domain.CatalogEntry{
			ID:                   id,
			Name:                 get(row, catalogName),
			Category:             get(row, catalogCategory),
			PurchasePriceExclTax: price(get(row, catalogPurchase)),
			SalePriceInclTax:     price(get(row, catalogSale)),
		})
	}
	return entries, nil
}

var catalogJSONKeys = map[catalogField][]string{
	catalogID:       {"id", "code", "reference", "ref", "sku", "identifiant"},
	catalogName:     {"name", "nom", "libelle", "designation", "produit", "product"},
	catalogCategory: {"category", "categorie", "famille", "family"},
	catalogPurchase: {"purchasePriceExclTax", "prixAchatHT", "prixAchat", "purchase_price", "purchasePrice", "cost"},
	catalogSale:     {"salePriceInclTax", "prixVenteTTC", "prixVente", "sale_price", "salePrice", "price", "prix"},
}

// ParseCatalogJSON reads an array of catalog objects, either bare or under
// a "products", "produits" or "catalog" key. Keys may be English or French.
func ParseCatalogJSON(data []byte) ([]domain.CatalogEntry, error) {
	trimmed := bytes.TrimSpace(data)
	var items []map[string]any
	switch {
	case len(trimmed) == 0:
		return nil, ErrCatalogFormat
	case trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCatalogFormat, err)
		}
	case trimmed[0] == '{':
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCatalogFormat, err)
		}
		found := false
		for _, key := range []string{"products", "produits", "catalog", "catalogue"} {
			if raw, ok := wrapper[key]; ok {
				if err := json.Unmarshal(raw, &items); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrCatalogFormat, err)
				}
				found = true
				break
			}
		}
		if !found {
			return nil, ErrCatalogFormat
		}
	default:
		return nil, ErrCatalogFormat
	}

	entries := make([]domain.CatalogEntry, 0, len(items))
	for _, item := range items {
		id := strings.TrimSpace(jsonString(item, catalogJSONKeys[catalogID]))
		if id == "" {
			continue
		}
		entries = append(entries, domain.CatalogEntry{
			ID:                   id,
			Name:                 strings.TrimSpace(jsonString(item, catalogJSONKeys[catalogName])),
			Category:             strings.TrimSpace(jsonString(item, catalogJSONKeys[catalogCategory])),
			PurchasePriceExclTax: jsonNumber(item, catalogJSONKeys[catalogPurchase]),
			SalePriceInclTax:     jsonNumber(item, catalogJSONKeys[catalogSale]),
		})
	}
	return entries, nil
}

func jsonValue(item map[string]any, keys []string) (any, bool) {
	for _, key := range keys {
		if v, ok := item[key]; ok && v != nil {
			return v, true
		}
	}
	for k, v := range item {
		for _, key := range keys {
			if strings.EqualFold(k, key) && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

func jsonString(item map[string]any, keys []string) string {
	v, ok := jsonValue(item, keys)
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

func jsonNumber(item map[string]any, keys []string) float64 {
	v, ok := jsonValue(item, keys)
	if !ok {
		return 0
	}
	switch val := v.(type) {
	case float64:
		return val
	case string:
		d, err := ParseDecimal(val)
		if err != nil {
			return 0
		}
		return d.InexactFloat64()
	default:
		return 0
	}
}
