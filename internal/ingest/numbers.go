package ingest

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"posfusion/internal/domain"
)

var (
	ErrBadNumber = errors.New("not a number")
	ErrBadDate   = errors.New("not a date")
)

// ParseDecimal reads numbers the way French and English exports write them:
// "1 234,56", "1.234,56", "1,234.56", "12,5 €".
func ParseDecimal(raw string) (decimal.Decimal, error) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '€', '$', '\'':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if s == "" {
		return decimal.Zero, ErrBadNumber
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0 && lastComma > lastDot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastComma >= 0 && lastDot >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		s = strings.Replace(s, ",", ".", 1)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrBadNumber
	}
	return d, nil
}

// ParseCents reads an integer amount in cents and returns currency units.
func ParseCents(raw string) (decimal.Decimal, error) {
	d, err := ParseDecimal(raw)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Shift(-2), nil
}

// ParseDate accepts text dates in the usual layouts and Excel serial dates.
func ParseDate(raw string) (domain.SaleDate, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return domain.SaleDate{}, ErrBadDate
	}
	if serial, err := strconv.ParseFloat(trimmed, 64); err == nil {
		if serial < 1 || serial > 2958465 {
			return domain.SaleDate{}, ErrBadDate
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return domain.SaleDate{}, ErrBadDate
		}
		return domain.NewSaleDate(t.Round(time.Second)), nil
	}
	d := domain.ParseSaleDate(trimmed)
	if !d.Valid() {
		return domain.SaleDate{}, ErrBadDate
	}
	return d, nil
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "oui", "o", "x", "retour", "return":
		return true
	}
	return false
}
