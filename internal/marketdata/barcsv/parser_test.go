package barcsv

import (
	"testing"
	"time"
)

func TestParseLine_DateTimeLayout(t *testing.T) {
	bar, ok := ParseLine("20240101,09:30:00,100,101,99,100.5,500")
	if !ok {
		t.Fatal("expected line to parse")
	}

	want := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC).UnixMilli()
	if bar.Time != want {
		t.Errorf("time = %d, want %d", bar.Time, want)
	}
	if bar.Open != 100 || bar.Close != 100.5 {
		t.Errorf("open/close = %v/%v, want 100/100.5", bar.Open, bar.Close)
	}
	if bar.High != 101 || bar.Low != 99 {
		t.Errorf("high/low = %v/%v, want 101/99", bar.High, bar.Low)
	}
	if bar.Volume != 500 {
		t.Errorf("volume = %v, want 500", bar.Volume)
	}
}

func TestParseLine_EpochSeconds(t *testing.T) {
	bar, ok := ParseLine("1700000000,100,101,99,100")
	if !ok {
		t.Fatal("expected line to parse")
	}
	if bar.Time != 1700000000000 {
		t.Errorf("time = %d, want 1700000000000 (seconds scaled to ms)", bar.Time)
	}
	if bar.Volume != 0 {
		t.Errorf("volume = %v, want 0 when column absent", bar.Volume)
	}
}

func TestParseLine_EpochMillisPassthrough(t *testing.T) {
	bar, ok := ParseLine("1700000000000,100,101,99,100,10")
	if !ok {
		t.Fatal("expected line to parse")
	}
	if bar.Time != 1700000000000 {
		t.Errorf("time = %d, want 1700000000000 unchanged", bar.Time)
	}
}

func TestParseLine_DateVariants(t *testing.T) {
	want := time.Date(2024, 3, 5, 10, 15, 0, 0, time.UTC).UnixMilli()
	lines := []string{
		"2024-03-05,10:15:00,1,2,0.5,1.5",
		"2024/03/05,10:15,1,2,0.5,1.5",
		"2024.03.05,10:15:00,1,2,0.5,1.5",
		"2024-03-05 10:15:00,1,2,0.5,1.5",
		"2024-03-05T10:15:00,1,2,0.5,1.5",
	}
	for _, line := range lines {
		bar, ok := ParseLine(line)
		if !ok {
			t.Errorf("line %q rejected", line)
			continue
		}
		if bar.Time != want {
			t.Errorf("line %q: time = %d, want %d", line, bar.Time, want)
		}
	}
}

func TestParseLine_SemicolonDelimiter(t *testing.T) {
	bar, ok := ParseLine("20240101;09:30:00;100;101;99;100.5;500")
	if !ok {
		t.Fatal("expected semicolon line to parse")
	}
	if bar.Open != 100 || bar.Volume != 500 {
		t.Errorf("open/volume = %v/%v, want 100/500", bar.Open, bar.Volume)
	}
}

func TestParseLine_Rejections(t *testing.T) {
	cases := []struct {
		name string
		line string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"comment header", "time,open,high,low,close"},
		{"leading symbol", "#20240101,09:30:00,1,2,0.5,1.5"},
		{"too few fields", "1700000000,100,101"},
		{"bad open", "1700000000,abc,101,99,100"},
		{"bad close", "1700000000,100,101,99,xyz"},
		{"zero timestamp", "0,100,101,99,100"},
		{"date time layout missing close", "20240101,09:30:00,100,101,99"},
		{"infinite open", "1700000000,Inf,101,99,100"},
	}
	for _, c := range cases {
		if _, ok := ParseLine(c.line); ok {
			t.Errorf("%s: line %q should be rejected", c.name, c.line)
		}
	}
}

func TestParseLine_BadHighLowFallsBackToZero(t *testing.T) {
	// unparseable high/low become 0 so the sanitizer can repair them
	bar, ok := ParseLine("1700000000,100,n/a,n/a,100")
	if !ok {
		t.Fatal("expected line to parse despite bad high/low")
	}
	if bar.High != 0 || bar.Low != 0 {
		t.Errorf("high/low = %v/%v, want 0/0", bar.High, bar.Low)
	}
}

func TestParseLine_NonNumericVolumeDefaultsZero(t *testing.T) {
	bar, ok := ParseLine("1700000000,100,101,99,100,n/a")
	if !ok {
		t.Fatal("expected line to parse")
	}
	if bar.Volume != 0 {
		t.Errorf("volume = %v, want 0", bar.Volume)
	}
}

func TestParseChunk_DiscardsRejectsInOrder(t *testing.T) {
	lines := []string{
		"time,open,high,low,close,volume", // header
		"1700000120,103,104,102,103.5,20",
		"",
		"1700000060,101,102,100,101.5,10",
		"garbage line",
	}
	bars, rejected := ParseChunk(lines)

	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	// encounter order preserved, not sorted
	if bars[0].Time != 1700000120000 || bars[1].Time != 1700000060000 {
		t.Errorf("encounter order not preserved: %d, %d", bars[0].Time, bars[1].Time)
	}
	if rejected != 2 {
		t.Errorf("rejected = %d, want 2 (header + garbage, blank not counted)", rejected)
	}
}
