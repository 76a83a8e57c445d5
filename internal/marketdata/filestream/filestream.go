// Package filestream reads bar files tail-first in bounded byte
// windows: the newest chunk loads immediately and older history
// backfills on demand, so a multi-gigabyte file never has to fit in
// memory. A line crossing a window boundary is carried as leftover
// state and completed when the preceding window is read.
package filestream

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"chart-replay/internal/marketdata/barcsv"
	"chart-replay/internal/model"
)

// DefaultChunkBytes is the window size used when the caller passes 0.
const DefaultChunkBytes = 256 * 1024

// State tracks backward pagination through one source file. One
// State per open source; replaced when the source changes.
type State struct {
	path       string
	chunkBytes int64
	cursor     int64  // byte offset of the last-read window start
	leftover   string // partial first line of the window above cursor
	hasMore    bool
	fileSize   int64
	rejected   int64
	loading    atomic.Bool
}

// Chunk is the result of one backward pagination step.
type Chunk struct {
	Bars      []model.Bar // ascending
	NewCursor int64
	HasMore   bool
	Rejected  int
}

// Cursor returns the byte offset of the last-read window start.
func (s *State) Cursor() int64 { return s.cursor }

// HasMore reports whether older bytes remain before the cursor.
func (s *State) HasMore() bool { return s.hasMore }

// FileSize returns the source size observed at open.
func (s *State) FileSize() int64 { return s.fileSize }

// Path returns the source path.
func (s *State) Path() string { return s.path }

// Rejected returns the cumulative count of malformed lines seen.
func (s *State) Rejected() int64 { return atomic.LoadInt64(&s.rejected) }

// OpenTail reads the last chunkBytes of the file (the whole file if
// smaller), parses it, and returns ascending bars plus the pagination
// state. The window's first fragment is carried as leftover only when
// the read did not start at byte 0; at byte 0 it is a complete line.
func OpenTail(ctx context.Context, path string, chunkBytes int64) ([]model.Bar, *State, error) {
	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkBytes
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open tail %s: %w: %v", path, model.ErrSourceUnavailable, err)
	}
	size := fi.Size()

	start := size - chunkBytes
	if start < 0 {
		start = 0
	}

	buf, err := readWindow(ctx, path, start, size-start)
	if err != nil {
		return nil, nil, err
	}

	leftover, lines := splitWindow(buf, start, "")
	bars, rejected := barcsv.ParseChunk(lines)
	sortBars(bars)

	st := &State{
		path:       path,
		chunkBytes: chunkBytes,
		cursor:     start,
		leftover:   leftover,
		hasMore:    start > 0,
		fileSize:   size,
		rejected:   int64(rejected),
	}
	return bars, st, nil
}

// LoadPrevious reads the window immediately before the cursor,
// completes the carried partial line, and steps the state backward.
// It returns (nil, nil) when no older bytes remain or when another
// load is already in flight for this state.
func LoadPrevious(ctx context.Context, st *State) (*Chunk, error) {
	if st == nil || !st.hasMore {
		return nil, nil
	}
	if !st.loading.CompareAndSwap(false, true) {
		return nil, nil
	}
	defer st.loading.Store(false)

	start := st.cursor - st.chunkBytes
	if start < 0 {
		start = 0
	}

	buf, err := readWindow(ctx, st.path, start, st.cursor-start)
	if err != nil {
		return nil, err
	}

	leftover, lines := splitWindow(buf, start, st.leftover)
	bars, rejected := barcsv.ParseChunk(lines)
	sortBars(bars)

	st.cursor = start
	st.leftover = leftover
	st.hasMore = start > 0
	atomic.AddInt64(&st.rejected, int64(rejected))

	return &Chunk{
		Bars:      bars,
		NewCursor: start,
		HasMore:   st.hasMore,
		Rejected:  rejected,
	}, nil
}

// ReadAll pages through the whole file, newest window first, and
// returns the merged ascending series. The returned State carries the
// cumulative rejected-line count.
func ReadAll(ctx context.Context, path string, chunkBytes int64) ([]model.Bar, *State, error) {
	series, st, err := OpenTail(ctx, path, chunkBytes)
	if err != nil {
		return nil, nil, err
	}
	var older []model.Bar
	for st.HasMore() {
		chunk, err := LoadPrevious(ctx, st)
		if err != nil {
			return nil, nil, err
		}
		if chunk == nil {
			break
		}
		older = append(older, chunk.Bars...)
	}
	return Merge(series, older), st, nil
}

// Merge combines older bars fetched by pagination into the in-memory
// series: sorted ascending and de-duplicated by exact timestamp,
// first occurrence winning, since a chunk boundary can reintroduce
// the boundary line twice.
func Merge(series, older []model.Bar) []model.Bar {
	combined := make([]model.Bar, 0, len(series)+len(older))
	combined = append(combined, series...)
	combined = append(combined, older...)

	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].Time < combined[j].Time
	})

	out := combined[:0]
	last := int64(math.MinInt64)
	for _, b := range combined {
		if b.Time == last {
			continue
		}
		out = append(out, b)
		last = b.Time
	}
	return out
}

// readWindow reads [off, off+n) honoring ctx: a stuck read (network
// mount, dying disk) surfaces as ctx.Err instead of hanging the
// caller.
func readWindow(ctx context.Context, path string, off, n int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %v", path, model.ErrSourceUnavailable, err)
	}
	defer f.Close()

	buf := make([]byte, n)
	done := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(io.NewSectionReader(f, off, n), buf)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			// the file shrank or vanished under us
			return nil, fmt.Errorf("read %s @%d: %w", path, off, err)
		}
		return buf, nil
	}
}

// splitWindow splits a window into lines, carrying the first fragment
// as leftover when the window does not start at byte 0, and appending
// the previous window's leftover so the boundary line is parsed whole.
func splitWindow(buf []byte, start int64, carried string) (leftover string, lines []string) {
	text := string(buf) + carried
	lines = strings.Split(text, "\n")
	if start > 0 && len(lines) > 0 {
		leftover = lines[0]
		lines = lines[1:]
	}
	return leftover, lines
}

func sortBars(bars []model.Bar) {
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time < bars[j].Time })
}
