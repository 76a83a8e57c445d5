package export

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"chart-replay/internal/marketdata/barcsv"
	"chart-replay/internal/model"
)

func sampleBars() []model.Bar {
	return []model.Bar{
		{Time: 1_700_000_000_000, Open: 100, High: 110, Low: 95, Close: 102, Volume: 1500},
		{Time: 1_700_000_060_000, Open: 102, High: 104.5, Low: 101.25, Close: 103, Volume: 900},
		{Time: 1_700_000_120_000, Open: 103, High: 103, Low: 99.9, Close: 100, Volume: 2250},
	}
}

func TestNewSaverDispatch(t *testing.T) {
	cases := []struct {
		format string
		want   string
	}{
		{"csv", "csv"},
		{"JSON", "json"},
		{"  parquet  ", "parquet"},
	}
	for _, tc := range cases {
		s := NewSaver(tc.format)
		if s == nil {
			t.Fatalf("NewSaver(%q) = nil", tc.format)
		}
		if s.Extension() != tc.want {
			t.Errorf("NewSaver(%q).Extension() = %q, want %q", tc.format, s.Extension(), tc.want)
		}
	}
	if s := NewSaver("xml"); s != nil {
		t.Errorf("NewSaver(xml) = %T, want nil", s)
	}
}

// Exported CSV must be ingestable: every data row should parse back to
// the bar it came from.
func TestCSVRoundTripsThroughParser(t *testing.T) {
	bars := sampleBars()
	path := filepath.Join(t.TempDir(), "out.csv")

	if err := (CSVSaver{}).Save(bars, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var got []model.Bar
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if b, ok := barcsv.ParseLine(sc.Text()); ok {
			got = append(got, b)
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}

	if len(got) != len(bars) {
		t.Fatalf("parsed %d bars, want %d", len(got), len(bars))
	}
	for i := range bars {
		if got[i] != bars[i] {
			t.Errorf("bar %d: got %+v, want %+v", i, got[i], bars[i])
		}
	}
}

func TestJSONSaverRoundTrip(t *testing.T) {
	bars := sampleBars()
	path := filepath.Join(t.TempDir(), "out.json")

	if err := (JSONSaver{}).Save(bars, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got []model.Bar
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got) != len(bars) || got[0] != bars[0] || got[2] != bars[2] {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestParquetSaverWritesFile(t *testing.T) {
	bars := sampleBars()
	path := filepath.Join(t.TempDir(), "out.parquet")

	if err := (ParquetSaver{}).Save(bars, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 8 {
		t.Fatalf("parquet file too small: %d bytes", len(data))
	}
	// Parquet files open and close with the PAR1 magic.
	if string(data[:4]) != "PAR1" || string(data[len(data)-4:]) != "PAR1" {
		t.Error("missing PAR1 magic bytes")
	}
}

func TestSaveEmptySlice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	if err := (CSVSaver{}).Save(nil, path); err != nil {
		t.Fatalf("Save(nil): %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "time_ms,open,high,low,close,volume\n" {
		t.Errorf("empty export = %q, want header only", data)
	}
}
