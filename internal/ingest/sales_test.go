package ingest

import (
	"errors"
	"strings"
	"testing"
)

func salesTable(t *testing.T, raw string) Table {
	t.Helper()
	table, err := ReadTable(strings.NewReader(raw), "ventes.csv")
	if err != nil {
		t.Fatalf("read table: %v", err)
	}
	return table
}

var testMapping = Mapping{
	FieldDate:        "Date",
	FieldID:          "Code",
	FieldProductName: "Libellé",
	FieldQuantity:    "Qté",
	FieldAmount:      "Montant",
	FieldStore:       "Magasin",
}

func TestMapSalesConvertsCents(t *testing.T) {
	table := salesTable(t, "Date;Code;Libellé;Qté;Montant;Magasin\n01/03/2024;1001;VERRE;4;600;Lyon\n")

	lines, skipped, err := MapSales(table, testMapping, Options{PricesInCents: true, SourceFile: "ventes.csv"})
	if err != nil {
		t.Fatalf("map sales: %v", err)
	}
	if len(skipped) != 0 {
		t.Fatalf("expected no skipped lines, got %v", skipped)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	line := lines[0]
	if line.AmountInclTax != 6 {
		t.Fatalf("expected amount 6, got %v", line.AmountInclTax)
	}
	if line.UnitPriceInclTax != 1.5 {
		t.Fatalf("expected derived unit price 1.5, got %v", line.UnitPriceInclTax)
	}
	if line.Date.Day() != "2024-03-01" || line.Store != "Lyon" || line.SourceRow != 2 {
		t.Fatalf("unexpected line %+v", line)
	}
}

func TestMapSalesSkipsIncompleteLines(t *testing.T) {
	table := salesTable(t, strings.Join([]string{
		"Date;Code;Libellé;Qté;Montant;Magasin",
		"01/03/2024;1001;VERRE;4;6;Lyon",
		"01/03/2024;;VERRE;4;6;Lyon",
		"01/03/2024;1002;CARAFE;;6;Lyon",
		"hier;1003;BOUGIE;1;5,5;Lyon",
		"02/03/2024;1004;FLUTE;-1;-2,2;Lyon",
	}, "\n"))

	lines, skipped, err := MapSales(table, testMapping, Options{})
	if err != nil {
		t.Fatalf("map sales: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 accepted lines, got %d", len(lines))
	}
	if len(skipped) != 3 {
		t.Fatalf("expected 3 skipped lines, got %d", len(skipped))
	}
	if skipped[0].Line != 3 || skipped[0].Field != FieldID || !errors.Is(skipped[0], ErrMissingField) {
		t.Fatalf("unexpected first skip %+v", skipped[0])
	}
	if skipped[2].Field != FieldDate || !errors.Is(skipped[2], ErrBadDate) {
		t.Fatalf("unexpected date skip %+v", skipped[2])
	}
	if !lines[1].IsReturn {
		t.Fatalf("expected negative quantity to be a return")
	}
}

func TestMapSalesRejectsBadMapping(t *testing.T) {
	table := salesTable(t, "Date;Code;Qté;Montant\n01/03/2024;1;1;1\n")

	_, _, err := MapSales(table, Mapping{FieldDate: "Date", FieldID: "Code", FieldQuantity: "Qté"}, Options{})
	if !errors.Is(err, ErrUnmappedField) {
		t.Fatalf("expected ErrUnmappedField, got %v", err)
	}
	_, _, err = MapSales(table, Mapping{FieldDate: "Date", FieldID: "Code", FieldQuantity: "Qté", FieldAmount: "Total"}, Options{})
	if !errors.Is(err, ErrUnknownColumn) {
		t.Fatalf("expected ErrUnknownColumn, got %v", err)
	}
}
