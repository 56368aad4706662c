package fusion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"posfusion/internal/domain"
)

var ErrUnrecognizedFormat = errors.New("unrecognised dataset document")

// ParseRestore reads a saved dataset: {"ventes": [...]}, the same with a
// metadata object, or a bare array of lines. Metadata in the document is
// returned as found; callers usually rebuild it.
func ParseRestore(data []byte) (domain.Dataset, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return domain.Dataset{}, ErrUnrecognizedFormat
	}

	switch trimmed[0] {
	case '[':
		var lines []domain.SalesLine
		if err := json.Unmarshal(trimmed, &lines); err != nil {
			return domain.Dataset{}, fmt.Errorf("%w: %v", ErrUnrecognizedFormat, err)
		}
		return domain.Dataset{Lines: lines}, nil
	case '{':
		var doc struct {
			Metadata *domain.Metadata    `json:"metadata"`
			Lines    *[]domain.SalesLine `json:"ventes"`
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return domain.Dataset{}, fmt.Errorf("%w: %v", ErrUnrecognizedFormat, err)
		}
		if doc.Lines == nil {
			return domain.Dataset{}, fmt.Errorf("%w: no \"ventes\" array", ErrUnrecognizedFormat)
		}
		ds := domain.Dataset{Lines: *doc.Lines}
		if doc.Metadata != nil {
			ds.Metadata = *doc.Metadata
		}
		return ds, nil
	default:
		return domain.Dataset{}, ErrUnrecognizedFormat
	}
}

// Document builds the downloadable export of lines.
func Document(meta domain.Metadata, lines []domain.SalesLine) domain.ExportDocument {
	if lines == nil {
		lines = []domain.SalesLine{}
	}
	return domain.ExportDocument{Metadata: meta, Lines: lines}
}
