package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

var saleDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
}

// SaleDate is a sale timestamp that remembers its source text when the
// text could not be parsed, so malformed lines survive merges untouched.
type SaleDate struct {
	Time time.Time
	Raw  string
}

func NewSaleDate(t time.Time) SaleDate {
	return SaleDate{Time: t}
}

func ParseSaleDate(raw string) SaleDate {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return SaleDate{}
	}
	for _, layout := range saleDateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return SaleDate{Time: t}
		}
	}
	return SaleDate{Raw: trimmed}
}

func (d SaleDate) Valid() bool {
	return !d.Time.IsZero()
}

func (d SaleDate) IsZero() bool {
	return d.Time.IsZero() && d.Raw == ""
}

// Day returns YYYY-MM-DD, or the raw text for an unparsable date.
func (d SaleDate) Day() string {
	if d.Valid() {
		return d.Time.Format("2006-01-02")
	}
	return d.Raw
}

// Month returns YYYY-MM and false when the date is not usable.
func (d SaleDate) Month() (string, bool) {
	if !d.Valid() {
		return "", false
	}
	return d.Time.Format("2006-01"), true
}

func (d SaleDate) String() string {
	if d.Valid() {
		return d.Time.Format(time.RFC3339)
	}
	return d.Raw
}

func (d SaleDate) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a date string in any known layout or a unix
// timestamp in milliseconds.
func (d *SaleDate) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*d = SaleDate{}
		return nil
	}
	if trimmed[0] == '"' {
		var raw string
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		*d = ParseSaleDate(raw)
		return nil
	}
	ms, err := strconv.ParseFloat(string(trimmed), 64)
	if err != nil {
		*d = SaleDate{Raw: string(trimmed)}
		return nil
	}
	*d = SaleDate{Time: time.UnixMilli(int64(ms)).UTC()}
	return nil
}
