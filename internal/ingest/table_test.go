package ingest

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestReadTableSemicolonCSVWithBOM(t *testing.T) {
	raw := "\xEF\xBB\xBFDate;Code;Qté\n2024-03-01;1001;2\n\n2024-03-02;1002;1\n"
	table, err := ReadTable(strings.NewReader(raw), "ventes.csv")
	if err != nil {
		t.Fatalf("read table: %v", err)
	}
	if len(table.Header) != 3 || table.Header[0] != "Date" || table.Header[2] != "Qté" {
		t.Fatalf("unexpected header %q", table.Header)
	}
	if table.FirstRow != 2 {
		t.Fatalf("expected first data row 2, got %d", table.FirstRow)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(table.Rows))
	}
}

func TestReadTableDecodesWindows1252(t *testing.T) {
	// "Libellé" with é encoded as 0xE9.
	raw := []byte("Code,Libell\xe9\n1,Verre\n")
	table, err := ReadTable(bytes.NewReader(raw), "catalog.csv")
	if err != nil {
		t.Fatalf("read table: %v", err)
	}
	if table.Header[1] != "Libellé" {
		t.Fatalf("expected decoded header, got %q", table.Header[1])
	}
}

func TestReadTableWorkbook(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"Date", "Code", "Quantité", "Montant"},
		{"2024-03-01", "1001", 2, 300},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	table, err := ReadTable(&buf, "ventes.xlsx")
	if err != nil {
		t.Fatalf("read table: %v", err)
	}
	if len(table.Rows) != 1 || table.Cell(table.Rows[0], 1) != "1001" {
		t.Fatalf("unexpected rows %q", table.Rows)
	}
}

func TestReadTableRejectsUnknownExtension(t *testing.T) {
	_, err := ReadTable(strings.NewReader("x"), "ventes.pdf")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestParseDecimal(t *testing.T) {
	cases := map[string]string{
		"1 234,56": "1234.56",
		"1.234,56": "1234.56",
		"1,234.56": "1234.56",
		"12,5 €":   "12.5",
		"-3":       "-3",
		"7.5":      "7.5",
		"1 000":    "1000",
	}
	for in, want := range cases {
		got, err := ParseDecimal(in)
		if err != nil {
			t.Fatalf("ParseDecimal(%q): %v", in, err)
		}
		if got.String() != want {
			t.Fatalf("ParseDecimal(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseDecimal("abc"); !errors.Is(err, ErrBadNumber) {
		t.Fatalf("expected ErrBadNumber, got %v", err)
	}
}

func TestParseDateExcelSerial(t *testing.T) {
	d, err := ParseDate("45352")
	if err != nil {
		t.Fatalf("parse serial: %v", err)
	}
	if d.Day() != "2024-03-01" {
		t.Fatalf("expected 2024-03-01, got %s", d.Day())
	}
	if _, err := ParseDate("not a date"); !errors.Is(err, ErrBadDate) {
		t.Fatalf("expected ErrBadDate, got %v", err)
	}
}
