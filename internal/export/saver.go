// Package export writes fetched bars to files. The CSV layout matches
// the parser's canonical epoch form, so exported files round-trip
// through ingest.
package export

import (
	"strings"

	"chart-replay/internal/model"
)

// Saver persists a slice of bars to a file.
type Saver interface {
	Save(bars []model.Bar, path string) error
	Extension() string
}

// NewSaver creates an implementation by format (csv, json, parquet).
// Returns nil if the format is not supported.
func NewSaver(format string) Saver {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return CSVSaver{}
	case "json":
		return JSONSaver{}
	case "parquet":
		return ParquetSaver{}
	default:
		return nil
	}
}
