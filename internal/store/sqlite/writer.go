package sqlite

import (
	"context"
	"log"
	"time"

	"chart-replay/internal/model"
)

// InsertBatch ingests bars under INSERT OR IGNORE semantics: one
// logical ingest committed in chunks of a few thousand rows to bound
// write-lock hold time. Duplicate (symbol, tf, ts) keys are skipped,
// so re-ingesting a file never doubles a row. On failure the
// in-flight chunk rolls back and the returned count is the rows
// actually inserted by the chunks committed before the failure.
func (s *Store) InsertBatch(ctx context.Context, symbol string, tf model.Timeframe, bars []model.Bar) (int, error) {
	inserted := 0
	start := time.Now()

	for lo := 0; lo < len(bars); lo += s.chunkRows {
		hi := lo + s.chunkRows
		if hi > len(bars) {
			hi = len(bars)
		}
		n, err := s.insertChunk(ctx, symbol, tf, bars[lo:hi])
		if err != nil {
			return inserted, &model.IngestError{Committed: inserted, Err: err}
		}
		inserted += n
	}

	log.Printf("[sqlite] committed %d/%d bars for %s:%s in %v",
		inserted, len(bars), symbol, tf, time.Since(start))
	return inserted, nil
}

// insertChunk writes one chunk in a single transaction and returns
// the number of rows actually inserted (duplicates ignored).
func (s *Store) insertChunk(ctx context.Context, symbol string, tf model.Timeframe, bars []model.Bar) (int, error) {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO bars (symbol, tf, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, b := range bars {
		res, err := stmt.ExecContext(ctx, symbol, string(tf), b.Time, b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// Purge removes every row for (symbol, tf). Administrative only.
func (s *Store) Purge(ctx context.Context, symbol string, tf model.Timeframe) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx,
		`DELETE FROM bars WHERE symbol = ? AND tf = ?`, symbol, string(tf))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneOlderThan removes rows with ts < cutoff across all keys.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx, `DELETE FROM bars WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ model.BarStore = (*Store)(nil)
