package model

import (
	"errors"
	"fmt"
)

// Error taxonomy for the data pipeline. Malformed CSV lines are not
// errors at all: the parser drops them silently and counts them.
var (
	// ErrSourceUnavailable marks a source file that is missing,
	// moved, or unreadable. Surfaced to the caller so the outer
	// layer can clear a stale view.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrCacheUnavailable marks an uninitialized or failed store.
	// Reads degrade to "no data"; writes are skipped, never faked.
	ErrCacheUnavailable = errors.New("cache unavailable")
)

// IngestError reports a batch write aborted mid-transaction. The
// in-flight chunk is rolled back; Committed is the number of rows
// durably written before the failure.
type IngestError struct {
	Committed int
	Err       error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest failed after %d committed rows: %v", e.Committed, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }
