package model

// SanitizeStats reports what one sanitize pass repaired. It is a
// report, not state: produced once per call, consumed by logging and
// metrics only.
type SanitizeStats struct {
	FixedZeroes  int `json:"fixed_zeroes"`
	FixedLogic   int `json:"fixed_logic"`
	FilledGaps   int `json:"filled_gaps"`
	Outliers     int `json:"outliers"`
	TotalRecords int `json:"total_records"`
}

// Dirty reports whether the pass changed anything.
func (s SanitizeStats) Dirty() bool {
	return s.FixedZeroes > 0 || s.FixedLogic > 0 || s.FilledGaps > 0 || s.Outliers > 0
}

// IngestReport is the terminal result of one file ingest. The worker
// sends exactly one report per request; there are no partial-progress
// callbacks.
type IngestReport struct {
	Symbol        string        `json:"symbol"`
	Timeframe     Timeframe     `json:"tf"`
	RowsParsed    int           `json:"rows_parsed"`
	RowsRejected  int           `json:"rows_rejected"`
	RowsCommitted int           `json:"rows_committed"`
	Stats         SanitizeStats `json:"stats"`
	Err           error         `json:"-"`
}

// StoreStats summarizes cache contents for health and janitor logging.
type StoreStats struct {
	Rows     int64 `json:"rows"`
	Symbols  int64 `json:"symbols"`
	OldestTS int64 `json:"oldest_ts"`
	NewestTS int64 `json:"newest_ts"`
}
