package filestream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"chart-replay/internal/marketdata/barcsv"
	"chart-replay/internal/model"
)

// writeFixture writes n one-minute epoch-second bars plus a header
// line and returns the path and the expected whole-file parse.
func writeFixture(t *testing.T, n int) (string, []model.Bar) {
	t.Helper()

	var sb strings.Builder
	sb.WriteString("time,open,high,low,close,volume\n")
	for i := 0; i < n; i++ {
		ts := int64(1700000000) + int64(i)*60
		fmt.Fprintf(&sb, "%d,%d,%d,%d,%d.5,%d\n", ts, 100+i, 102+i, 99+i, 100+i, 10*i)
	}

	path := filepath.Join(t.TempDir(), "bars.csv")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	expected, _ := barcsv.ParseChunk(strings.Split(sb.String(), "\n"))
	return path, expected
}

func TestOpenTail_SmallFileReadsWhole(t *testing.T) {
	path, expected := writeFixture(t, 5)

	bars, st, err := OpenTail(context.Background(), path, 1<<20)
	if err != nil {
		t.Fatalf("open tail: %v", err)
	}
	if !reflect.DeepEqual(bars, expected) {
		t.Errorf("got %d bars, want %d", len(bars), len(expected))
	}
	if st.Cursor() != 0 || st.HasMore() {
		t.Errorf("whole-file read: cursor=%d hasMore=%v, want 0/false", st.Cursor(), st.HasMore())
	}

	// nothing left to page
	chunk, err := LoadPrevious(context.Background(), st)
	if err != nil || chunk != nil {
		t.Errorf("load past start should be (nil, nil), got %v, %v", chunk, err)
	}
}

func TestOpenTail_TailWindowOnly(t *testing.T) {
	path, expected := writeFixture(t, 50)

	// window far smaller than the file: only the newest bars appear
	bars, st, err := OpenTail(context.Background(), path, 128)
	if err != nil {
		t.Fatalf("open tail: %v", err)
	}
	if len(bars) == 0 || len(bars) >= len(expected) {
		t.Fatalf("tail window returned %d of %d bars", len(bars), len(expected))
	}
	if !st.HasMore() || st.Cursor() == 0 {
		t.Errorf("expected more history before cursor %d", st.Cursor())
	}
	// newest bar of the file must be present and bars ascending
	if bars[len(bars)-1].Time != expected[len(expected)-1].Time {
		t.Errorf("tail window missing newest bar")
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].Time <= bars[i-1].Time {
			t.Fatalf("bars not strictly ascending at %d", i)
		}
	}
}

func TestBackwardPagination_ReconstructsWholeFile(t *testing.T) {
	path, expected := writeFixture(t, 200)

	// 97-byte windows guarantee lines split across boundaries
	series, st, err := OpenTail(context.Background(), path, 97)
	if err != nil {
		t.Fatalf("open tail: %v", err)
	}

	steps := 0
	for st.HasMore() {
		chunk, err := LoadPrevious(context.Background(), st)
		if err != nil {
			t.Fatalf("load previous: %v", err)
		}
		if chunk == nil {
			t.Fatal("chunk nil while hasMore true")
		}
		series = Merge(series, chunk.Bars)
		steps++
		if steps > 10000 {
			t.Fatal("pagination does not terminate")
		}
	}

	if !reflect.DeepEqual(series, expected) {
		t.Fatalf("reconstructed %d bars, want %d", len(series), len(expected))
	}
	if steps < 2 {
		t.Errorf("expected multiple pagination steps, got %d", steps)
	}
}

func TestReadAll_PagesWholeFile(t *testing.T) {
	path, expected := writeFixture(t, 200)

	// window forces several pagination steps
	bars, st, err := ReadAll(context.Background(), path, 97)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if !reflect.DeepEqual(bars, expected) {
		t.Fatalf("read %d bars, want %d", len(bars), len(expected))
	}
	if st.HasMore() || st.Cursor() != 0 {
		t.Errorf("file not exhausted: cursor=%d hasMore=%v", st.Cursor(), st.HasMore())
	}

	// zero window falls back to the default and reads in one pass
	bars, _, err = ReadAll(context.Background(), path, 0)
	if err != nil {
		t.Fatalf("read all (default window): %v", err)
	}
	if !reflect.DeepEqual(bars, expected) {
		t.Fatalf("default window read %d bars, want %d", len(bars), len(expected))
	}
}

func TestLoadPrevious_InFlightGuard(t *testing.T) {
	path, _ := writeFixture(t, 50)

	_, st, err := OpenTail(context.Background(), path, 128)
	if err != nil {
		t.Fatalf("open tail: %v", err)
	}

	st.loading.Store(true)
	chunk, err := LoadPrevious(context.Background(), st)
	if chunk != nil || err != nil {
		t.Errorf("concurrent load should be refused, got %v, %v", chunk, err)
	}

	st.loading.Store(false)
	chunk, err = LoadPrevious(context.Background(), st)
	if err != nil || chunk == nil {
		t.Errorf("load after release should proceed, got %v, %v", chunk, err)
	}
}

func TestOpenTail_MissingSource(t *testing.T) {
	_, _, err := OpenTail(context.Background(), "/nonexistent/bars.csv", 128)
	if !errors.Is(err, model.ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestOpenTail_CancelledContext(t *testing.T) {
	path, _ := writeFixture(t, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := OpenTail(ctx, path, 128); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMerge_FirstOccurrenceWins(t *testing.T) {
	series := []model.Bar{
		{Time: 2000, Close: 5},
		{Time: 3000, Close: 6},
	}
	older := []model.Bar{
		{Time: 1000, Close: 1},
		{Time: 2000, Close: 9}, // boundary duplicate
	}

	out := Merge(series, older)

	if len(out) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(out))
	}
	if out[0].Time != 1000 || out[1].Time != 2000 || out[2].Time != 3000 {
		t.Errorf("merge order wrong: %+v", out)
	}
	if out[1].Close != 5 {
		t.Errorf("duplicate resolution: close = %v, want 5 (first occurrence wins)", out[1].Close)
	}
}
