package ingest

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"posfusion/internal/domain"
)

// Field names a canonical SalesLine attribute a column can be mapped to.
type Field string

const (
	FieldDate        Field = "date"
	FieldID          Field = "id"
	FieldProductName Field = "productName"
	FieldQuantity    Field = "quantity"
	FieldUnitPrice   Field = "unitPriceInclTax"
	FieldAmount      Field = "amountInclTax"
	FieldStore       Field = "store"
	FieldCategory    Field = "category"
	FieldOperation   Field = "operationNumber"
	FieldIsReturn    Field = "isReturn"
)

// RequiredFields must be mapped and non-empty on every accepted line.
var RequiredFields = []Field{FieldDate, FieldID, FieldQuantity, FieldAmount}

var knownFields = map[Field]bool{
	FieldDate: true, FieldID: true, FieldProductName: true, FieldQuantity: true,
	FieldUnitPrice: true, FieldAmount: true, FieldStore: true, FieldCategory: true,
	FieldOperation: true, FieldIsReturn: true,
}

// Mapping maps canonical fields to source header names.
type Mapping map[Field]string

var (
	ErrMissingField  = errors.New("missing required field")
	ErrUnmappedField = errors.New("required field not mapped")
	ErrUnknownColumn = errors.New("column not found in header")
	ErrUnknownField  = errors.New("unknown field")
)

// LineError describes a source line that was skipped.
type LineError struct {
	Line  int
	Field Field
	Err   error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %s: %v", e.Line, e.Field, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

type Options struct {
	// PricesInCents divides unit price and amount by 100.
	PricesInCents bool
	SourceFile    string
	DefaultStore  string
}

// MapSales converts table rows into sales lines. Rows missing a required
// value are skipped and reported; a mapping that cannot be applied at all
// is an error.
func MapSales(t Table, m Mapping, opts Options) ([]domain.SalesLine, []*LineError, error) {
	cols := make(map[Field]int, len(m))
	for field, header := range m {
		if !knownFields[field] {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
		}
		if strings.TrimSpace(header) == "" {
			continue
		}
		idx, ok := t.Column(header)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q for %s", ErrUnknownColumn, header, field)
		}
		cols[field] = idx
	}
	for _, field := range RequiredFields {
		if _, ok := cols[field]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnmappedField, field)
		}
	}

	get := func(row []string, field Field) string {
		idx, ok := cols[field]
		if !ok {
			return ""
		}
		return t.Cell(row, idx)
	}
	money := ParseDecimal
	if opts.PricesInCents {
		money = ParseCents
	}

	lines := make([]domain.SalesLine, 0, len(t.Rows))
	var skipped []*LineError
	for i, row := range t.Rows {
		lineNo := t.FirstRow + i
		if isBlank(row) {
			continue
		}
		skip := func(field Field, err error) {
			lineErr := &LineError{Line: lineNo, Field: field, Err: err}
			log.Printf("[ingest] WARN: %s (skipped)", lineErr)
			skipped = append(skipped, lineErr)
		}

		missing := Field("")
		for _, field := range RequiredFields {
			if get(row, field) == "" {
				missing = field
				break
			}
		}
		if missing != "" {
			skip(missing, ErrMissingField)
			continue
		}

		date, err := ParseDate(get(row, FieldDate))
		if err != nil {
			skip(FieldDate, err)
			continue
		}
		qty, err := ParseDecimal(get(row, FieldQuantity))
		if err != nil {
			skip(FieldQuantity, err)
			continue
		}
		amount, err := money(get(row, FieldAmount))
		if err != nil {
			skip(FieldAmount, err)
			continue
		}

		unit := decimal.Zero
		if raw := get(row, FieldUnitPrice); raw != "" {
			unit, err = money(raw)
			if err != nil {
				skip(FieldUnitPrice, err)
				continue
			}
		} else if !qty.IsZero() {
			unit = amount.Div(qty).Round(4)
		}

		store := get(row, FieldStore)
		if store == "" {
			store = opts.DefaultStore
		}
		isReturn := qty.IsNegative() || amount.IsNegative()
		if raw := get(row, FieldIsReturn); raw != "" {
			isReturn = parseBool(raw)
		}

		lines = append(lines, domain.SalesLine{
			ID:               get(row, FieldID),
			ProductName:      get(row, FieldProductName),
			Quantity:         qty.InexactFloat64(),
			UnitPriceInclTax: unit.InexactFloat64(),
			AmountInclTax:    amount.InexactFloat64(),
			Date:             date,
			Store:            store,
			Category:         get(row, FieldCategory),
			OperationNumber:  get(row, FieldOperation),
			IsReturn:         isReturn,
			SourceFile:       opts.SourceFile,
			SourceRow:        lineNo,
		})
	}
	return lines, skipped, nil
}
