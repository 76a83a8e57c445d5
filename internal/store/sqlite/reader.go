package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"chart-replay/internal/model"
)

// Fetch returns up to limit bars for (symbol, tf) with ts < beforeTime
// (beforeTime <= 0 means no upper bound). Rows are read newest-first
// so the LIMIT grabs the trailing window, then reversed to ascending.
// A limit <= 0 fetches the whole window.
func (s *Store) Fetch(ctx context.Context, symbol string, tf model.Timeframe, beforeTime int64, limit int) ([]model.Bar, error) {
	query := `SELECT ts, open, high, low, close, volume FROM bars WHERE symbol = ? AND tf = ?`
	args := []any{symbol, string(tf)}
	if beforeTime > 0 {
		query += ` AND ts < ?`
		args = append(args, beforeTime)
	}
	query += ` ORDER BY ts DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var volume sql.NullFloat64
		if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.Volume = volume.Float64
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// reverse newest-first to ascending
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// Stats summarizes cache contents for health and janitor logging.
func (s *Store) Stats(ctx context.Context) (model.StoreStats, error) {
	var st model.StoreStats
	var oldest, newest sql.NullInt64

	err := s.readDB.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT symbol), MIN(ts), MAX(ts) FROM bars`,
	).Scan(&st.Rows, &st.Symbols, &oldest, &newest)
	if err != nil {
		return model.StoreStats{}, fmt.Errorf("sqlite stats: %w", err)
	}

	st.OldestTS = oldest.Int64
	st.NewestTS = newest.Int64
	return st, nil
}
