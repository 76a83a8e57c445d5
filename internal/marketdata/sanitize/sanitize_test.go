package sanitize

import (
	"testing"

	"chart-replay/internal/model"
)

const minuteMs = int64(60_000)

func makeBar(ts int64, o, h, l, c, v float64) model.Bar {
	return model.Bar{Time: ts, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func TestRun_OutputShapeInvariant(t *testing.T) {
	bars := []model.Bar{
		makeBar(0, 100, 99, 101, 100.5, 10), // inverted high/low
		makeBar(minuteMs, 0, 0, 0, 0, 5),    // all zeroes
		makeBar(2*minuteMs, 102, 101, 103, 104, 7),
		makeBar(4*minuteMs, 105, 106, 104, 105.5, 3), // one-bar gap before this
	}

	out, _ := Run(bars, minuteMs)

	for i, b := range out {
		if !b.Valid() {
			t.Errorf("bar %d violates low<=min(o,c)<=max(o,c)<=high: %+v", i, b)
		}
	}
}

func TestRun_GapFillSingleMissingBar(t *testing.T) {
	d := minuteMs
	bars := []model.Bar{
		makeBar(1000, 10, 11, 9, 10.5, 100),
		makeBar(1000+2*d, 11, 12, 10, 11.5, 200),
	}

	out, stats := Run(bars, d)

	if len(out) != 3 {
		t.Fatalf("expected 3 bars after gap fill, got %d", len(out))
	}
	filler := out[1]
	if filler.Time != 1000+d {
		t.Errorf("filler time = %d, want %d", filler.Time, 1000+d)
	}
	if filler.Open != 10.5 || filler.High != 10.5 || filler.Low != 10.5 || filler.Close != 10.5 {
		t.Errorf("filler should be flat at prev close 10.5, got %+v", filler)
	}
	if filler.Volume != 0 {
		t.Errorf("filler volume = %v, want 0", filler.Volume)
	}
	if stats.FilledGaps != 1 {
		t.Errorf("FilledGaps = %d, want 1", stats.FilledGaps)
	}
	if stats.TotalRecords != 3 {
		t.Errorf("TotalRecords = %d, want 3", stats.TotalRecords)
	}
}

func TestRun_MultiBarGapLeftAlone(t *testing.T) {
	d := minuteMs
	bars := []model.Bar{
		makeBar(0, 10, 11, 9, 10, 1),
		makeBar(5*d, 11, 12, 10, 11, 1), // four bars missing
	}

	out, stats := Run(bars, d)

	if len(out) != 2 {
		t.Fatalf("multi-bar gap must not be filled, got %d bars", len(out))
	}
	if stats.FilledGaps != 0 {
		t.Errorf("FilledGaps = %d, want 0", stats.FilledGaps)
	}
}

func TestRun_GapToleranceBoundary(t *testing.T) {
	d := minuteMs
	cases := []struct {
		name  string
		delta int64
		fill  bool
	}{
		{"exact double", 2 * d, true},
		{"just inside +10%", 2*d + d/5 - 1, true},
		{"just outside +10%", 2*d + d/5 + 60, false},
		{"just inside -10%", 2*d - d/5 + 1, true},
		{"way short", d, false},
	}
	for _, c := range cases {
		bars := []model.Bar{
			makeBar(0, 10, 11, 9, 10, 1),
			makeBar(c.delta, 11, 12, 10, 11, 1),
		}
		out, _ := Run(bars, d)
		filled := len(out) == 3
		if filled != c.fill {
			t.Errorf("%s: delta=%d filled=%v, want %v", c.name, c.delta, filled, c.fill)
		}
	}
}

func TestRun_ZeroRepairUsesPreviousOutputClose(t *testing.T) {
	bars := []model.Bar{
		makeBar(0, 0, 0, 0, 0, 1),        // repaired from own fields: all zero, no ref
		makeBar(minuteMs, 0, 0, 0, 50, 1), // repaired from own close
		makeBar(2*minuteMs, 0, 0, 0, 0, 1), // repaired from previous OUTPUT close (50)
	}

	out, stats := Run(bars, minuteMs)

	if out[1].Open != 50 || out[1].High != 50 || out[1].Low != 50 {
		t.Errorf("second bar should self-repair to 50: %+v", out[1])
	}
	if out[2].Close != 50 || out[2].Open != 50 {
		t.Errorf("third bar should inherit previous output close 50: %+v", out[2])
	}
	// first bar is wholly degenerate: untouched, not counted
	if out[0].Close != 0 {
		t.Errorf("degenerate first bar should stay zero: %+v", out[0])
	}
	if stats.FixedZeroes != 2 {
		t.Errorf("FixedZeroes = %d, want 2", stats.FixedZeroes)
	}
}

func TestRun_LogicRepairSwapAndClamp(t *testing.T) {
	bars := []model.Bar{
		makeBar(0, 100, 90, 110, 105, 1), // high/low inverted
	}

	out, stats := Run(bars, minuteMs)

	b := out[0]
	if b.High != 110 || b.Low != 90 {
		t.Errorf("swap failed: high=%v low=%v", b.High, b.Low)
	}
	if !b.Valid() {
		t.Errorf("bar still invalid after repair: %+v", b)
	}
	if stats.FixedLogic != 1 {
		t.Errorf("FixedLogic = %d, want 1", stats.FixedLogic)
	}
}

func TestRun_ClampHighToOpenClose(t *testing.T) {
	bars := []model.Bar{
		makeBar(0, 120, 110, 100, 115, 1), // open above high
	}

	out, _ := Run(bars, minuteMs)

	if out[0].High != 120 {
		t.Errorf("high should clamp up to open 120, got %v", out[0].High)
	}
	if out[0].Low != 100 {
		t.Errorf("low should stay 100, got %v", out[0].Low)
	}
}

func TestRun_OutlierCountedNotRepaired(t *testing.T) {
	bars := []model.Bar{
		makeBar(0, 10, 11, 9, 10, 1),
		makeBar(minuteMs, 150, 160, 140, 150, 1), // 15x jump
	}

	out, stats := Run(bars, minuteMs)

	if stats.Outliers != 1 {
		t.Errorf("Outliers = %d, want 1", stats.Outliers)
	}
	if out[1].Close != 150 {
		t.Errorf("outlier must not be modified, got %+v", out[1])
	}
}

func TestRun_CleanInputUntouched(t *testing.T) {
	bars := []model.Bar{
		makeBar(0, 10, 11, 9, 10.5, 100),
		makeBar(minuteMs, 10.5, 12, 10, 11, 150),
	}

	out, stats := Run(bars, minuteMs)

	if len(out) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(out))
	}
	for i := range bars {
		if out[i] != bars[i] {
			t.Errorf("bar %d changed: %+v -> %+v", i, bars[i], out[i])
		}
	}
	if stats.Dirty() {
		t.Errorf("clean input should produce clean stats: %+v", stats)
	}
}

func TestRun_Empty(t *testing.T) {
	out, stats := Run(nil, minuteMs)
	if len(out) != 0 || stats.TotalRecords != 0 {
		t.Errorf("empty input should produce empty output, got %d bars", len(out))
	}
}
