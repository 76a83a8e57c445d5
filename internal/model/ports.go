package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the pipeline from concrete backends
// (SQLite, Postgres, Redis). Constructors return structs; consumers
// accept these interfaces.

// BarStore is the windowed cache: rows keyed (symbol, timeframe, time),
// inserted only in batches, first write wins.
type BarStore interface {
	// Fetch returns up to limit bars for (symbol, tf) with
	// time < beforeTime (beforeTime <= 0 means no upper bound),
	// ascending. A miss is an empty slice, not an error.
	Fetch(ctx context.Context, symbol string, tf Timeframe, beforeTime int64, limit int) ([]Bar, error)

	// InsertBatch ingests bars under insert-or-ignore semantics,
	// committing in bounded chunks. On failure the in-flight chunk
	// is rolled back and the returned count is the rows committed
	// before the failure.
	InsertBatch(ctx context.Context, symbol string, tf Timeframe, bars []Bar) (int, error)

	// Purge removes all rows for (symbol, tf) and returns the count.
	Purge(ctx context.Context, symbol string, tf Timeframe) (int64, error)

	// PruneOlderThan removes rows with time < cutoff across all keys.
	PruneOlderThan(ctx context.Context, cutoff int64) (int64, error)

	// Stats summarizes cache contents.
	Stats(ctx context.Context) (StoreStats, error)

	// Close releases underlying resources.
	Close() error
}

// FramePublisher pushes replay frames to an external fan-out (Redis).
// Implementations must never block the caller beyond ctx.
type FramePublisher interface {
	// PublishFrame publishes one frame. Errors are reported, not
	// fatal: the replay loop continues regardless.
	PublishFrame(ctx context.Context, frame Frame) error

	// Close releases underlying resources.
	Close() error
}
