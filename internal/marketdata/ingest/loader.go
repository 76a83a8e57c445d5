// Package ingest coordinates the file-parse-and-ingest path: full
// source parse, sanitize, and atomic batch write into the windowed
// cache. The path is CPU- and I/O-bound, so it runs off the replay
// tick loop and reports back exactly one terminal result per request.
// At most one ingest runs per (symbol, timeframe); concurrent
// requests for the same key coalesce onto the in-flight result.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"chart-replay/internal/logger"
	"chart-replay/internal/marketdata/filestream"
	"chart-replay/internal/marketdata/sanitize"
	"chart-replay/internal/model"
)

// Loader serves cache-first reads and owns the ingest single-flight
// table. A nil store degrades reads to source-only and skips writes.
type Loader struct {
	store model.BarStore

	// ChunkBytes is the file-reader window size; 0 uses the default.
	ChunkBytes int64

	mu       sync.Mutex
	inflight map[string]*flight

	// OnStats receives the sanitize report of every completed parse
	// (optional, metrics).
	OnStats func(model.SanitizeStats)

	// OnReport receives every terminal ingest report with the full
	// pipeline duration (optional, metrics).
	OnReport func(model.IngestReport, time.Duration)

	// OnFetch receives the cache read latency of every Fetch
	// (optional, metrics).
	OnFetch func(time.Duration)
}

// flight is one in-progress ingest; waiters block on done and then
// share bars and report.
type flight struct {
	done   chan struct{}
	bars   []model.Bar
	report model.IngestReport
}

// NewLoader creates a loader over the given cache. store may be nil,
// in which case reads degrade and writes are skipped.
func NewLoader(store model.BarStore) *Loader {
	return &Loader{
		store:    store,
		inflight: make(map[string]*flight),
	}
}

// Fetch is the cache-first read path. On a cache hit the persisted
// window returns as-is. On a miss with a source path, the full file
// is parsed, sanitized at the timeframe's bucket duration, ingested,
// and the limit-slice of the freshly parsed data returns directly
// without a re-query. Bars may be non-empty alongside a non-nil
// error when parsing succeeded but the cache write did not complete;
// callers decide whether to display anyway.
func (l *Loader) Fetch(ctx context.Context, symbol string, tf model.Timeframe, beforeTime int64, limit int, sourcePath string) ([]model.Bar, error) {
	if l.store != nil {
		fetchStart := time.Now()
		bars, err := l.store.Fetch(ctx, symbol, tf, beforeTime, limit)
		if l.OnFetch != nil {
			l.OnFetch(time.Since(fetchStart))
		}
		if err != nil {
			return nil, fmt.Errorf("cache fetch %s:%s: %w", symbol, tf, err)
		}
		if len(bars) > 0 {
			return bars, nil
		}
	}

	if sourcePath == "" {
		if l.store == nil {
			return nil, model.ErrCacheUnavailable
		}
		return nil, nil // true miss, nothing to ingest from
	}

	f, err := l.join(ctx, symbol, tf, sourcePath)
	if err != nil {
		return nil, err
	}
	return window(f.bars, beforeTime, limit), f.report.Err
}

// Ingest parses and ingests one source file, returning the terminal
// report. Coalesces with any in-flight ingest for the same key.
func (l *Loader) Ingest(ctx context.Context, symbol string, tf model.Timeframe, sourcePath string) (model.IngestReport, error) {
	f, err := l.join(ctx, symbol, tf, sourcePath)
	if err != nil {
		return model.IngestReport{Symbol: symbol, Timeframe: tf, Err: err}, err
	}
	return f.report, f.report.Err
}

// IngestAsync runs Ingest on a worker goroutine and delivers the one
// terminal report on the returned channel.
func (l *Loader) IngestAsync(ctx context.Context, symbol string, tf model.Timeframe, sourcePath string) <-chan model.IngestReport {
	ch := make(chan model.IngestReport, 1)
	go func() {
		report, _ := l.Ingest(ctx, symbol, tf, sourcePath)
		ch <- report
	}()
	return ch
}

// join returns the completed flight for (symbol, tf): either by
// waiting on the one already in the air or by flying it here. The
// flight runs under the owner's ctx; a waiter's ctx only bounds its
// wait.
func (l *Loader) join(ctx context.Context, symbol string, tf model.Timeframe, sourcePath string) (*flight, error) {
	key := symbol + ":" + string(tf)

	l.mu.Lock()
	if f, ok := l.inflight[key]; ok {
		l.mu.Unlock()
		select {
		case <-f.done:
			return f, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f := &flight{done: make(chan struct{})}
	l.inflight[key] = f
	l.mu.Unlock()

	ctx = logger.WithJobID(ctx, logger.GenerateJobID(symbol, string(tf), time.Now()))
	start := time.Now()
	f.bars, f.report = l.run(ctx, symbol, tf, sourcePath)
	if l.OnReport != nil {
		l.OnReport(f.report, time.Since(start))
	}

	l.mu.Lock()
	delete(l.inflight, key)
	l.mu.Unlock()
	close(f.done)

	return f, nil
}

// run executes one ingest end to end: whole-file paged read, parse,
// sort and de-duplicate, sanitize, batch write.
func (l *Loader) run(ctx context.Context, symbol string, tf model.Timeframe, sourcePath string) ([]model.Bar, model.IngestReport) {
	report := model.IngestReport{Symbol: symbol, Timeframe: tf}
	start := time.Now()

	raw, st, err := filestream.ReadAll(ctx, sourcePath, l.ChunkBytes)
	if err != nil {
		report.Err = err
		return nil, report
	}
	report.RowsParsed = len(raw)
	report.RowsRejected = int(st.Rejected())

	bars, stats := sanitize.Run(raw, tf.DurationMs())
	report.Stats = stats
	if l.OnStats != nil {
		l.OnStats(stats)
	}

	if l.store == nil {
		slog.Warn("cache unavailable, ingest write skipped",
			append([]any{"symbol", symbol, "tf", tf, "rows", len(bars)}, logger.LogWithJob(ctx)...)...)
		report.Err = model.ErrCacheUnavailable
		return bars, report
	}

	committed, err := l.store.InsertBatch(ctx, symbol, tf, bars)
	report.RowsCommitted = committed
	if err != nil {
		report.Err = err
		return bars, report
	}

	slog.Info("ingest complete",
		append([]any{
			"symbol", symbol, "tf", tf,
			"parsed", report.RowsParsed, "rejected", report.RowsRejected,
			"committed", committed, "took", time.Since(start).String(),
		}, logger.LogWithJob(ctx)...)...)
	return bars, report
}

// window applies the read path's slicing to freshly parsed bars:
// optional beforeTime upper bound, then the trailing limit slice.
func window(bars []model.Bar, beforeTime int64, limit int) []model.Bar {
	if beforeTime > 0 {
		cut := sort.Search(len(bars), func(i int) bool { return bars[i].Time >= beforeTime })
		bars = bars[:cut]
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars
}
