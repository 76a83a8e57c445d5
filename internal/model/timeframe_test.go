package model

import "testing"

func TestParseTimeframe(t *testing.T) {
	cases := []struct {
		in     string
		wantMs int64
		ok     bool
	}{
		{"1m", 60_000, true},
		{"5m", 300_000, true},
		{"1h", 3_600_000, true},
		{"4h", 14_400_000, true},
		{"1d", 86_400_000, true},
		{"1w", 7 * 86_400_000, true},
		{"1M", 30 * 86_400_000, true},
		{"1y", 365 * 86_400_000, true},
		{"", 0, false},
		{"2m", 0, false},
		{"1H", 0, false}, // labels are case sensitive: 1h is an hour, 1M a month
		{"60", 0, false},
	}
	for _, tc := range cases {
		tf, err := ParseTimeframe(tc.in)
		if tc.ok != (err == nil) {
			t.Errorf("ParseTimeframe(%q) err=%v, want ok=%v", tc.in, err, tc.ok)
			continue
		}
		if tc.ok && tf.DurationMs() != tc.wantMs {
			t.Errorf("ParseTimeframe(%q).DurationMs()=%d, want %d", tc.in, tf.DurationMs(), tc.wantMs)
		}
	}
}

func TestTimeframesOrderedFinestFirst(t *testing.T) {
	tfs := Timeframes()
	if len(tfs) != len(tfDurations) {
		t.Fatalf("Timeframes() returned %d entries, want %d", len(tfs), len(tfDurations))
	}
	if tfs[0] != TF1m || tfs[len(tfs)-1] != TF1y {
		t.Fatalf("Timeframes() order wrong: first=%s last=%s", tfs[0], tfs[len(tfs)-1])
	}
	for i := 1; i < len(tfs); i++ {
		if tfs[i-1].DurationMs() >= tfs[i].DurationMs() {
			t.Errorf("Timeframes()[%d]=%s not finer than [%d]=%s", i-1, tfs[i-1], i, tfs[i])
		}
	}
}
