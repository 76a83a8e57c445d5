// Package sanitize repairs anomalies in an ascending bar sequence:
// zeroed price fields, inverted or out-of-range high/low, and single
// missing buckets. Each bar is compared only to the previous output
// bar, so fixes compound across a dirty stretch. One pass, O(n),
// O(1) state per bar.
package sanitize

import (
	"math"

	"chart-replay/internal/model"
)

// gapTolerance is how far a time delta may sit from exactly two
// bucket durations and still count as a single missing bar.
const gapTolerance = 0.10

// outlierFactor flags a close that moved this many times away from
// the previous output close. Outliers are counted for telemetry, not
// repaired: a spike may be a data defect or a real move, and guessing
// wrong would rewrite history.
const outlierFactor = 10.0

// Run sanitizes bars (ascending by time) against bucketMs, the base
// bucket duration. It returns the repaired sequence and a stats
// report. The input slice is not modified.
func Run(bars []model.Bar, bucketMs int64) ([]model.Bar, model.SanitizeStats) {
	var stats model.SanitizeStats
	out := make([]model.Bar, 0, len(bars))

	for _, b := range bars {
		if repairZeroes(&b, out) {
			stats.FixedZeroes++
		}
		if repairLogic(&b) {
			stats.FixedLogic++
		}
		if n := len(out); n > 0 {
			prev := out[n-1]
			if isOutlier(prev.Close, b.Close) {
				stats.Outliers++
			}
			if filler, ok := gapFiller(prev, b, bucketMs); ok {
				out = append(out, filler)
				stats.FilledGaps++
			}
		}
		out = append(out, b)
	}

	stats.TotalRecords = len(out)
	return out, stats
}

// repairZeroes replaces zero price fields with the previous output
// close, or for the first bar with its own first non-zero OHLC field.
func repairZeroes(b *model.Bar, out []model.Bar) bool {
	if b.Open != 0 && b.High != 0 && b.Low != 0 && b.Close != 0 {
		return false
	}

	var ref float64
	if len(out) > 0 {
		ref = out[len(out)-1].Close
	}
	if ref == 0 {
		// first bar, or every prior close was degenerate: use the
		// bar's own first non-zero field
		for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
			if v != 0 {
				ref = v
				break
			}
		}
	}
	if ref == 0 {
		// wholly degenerate, nothing to repair with
		return false
	}

	if b.Open == 0 {
		b.Open = ref
	}
	if b.High == 0 {
		b.High = ref
	}
	if b.Low == 0 {
		b.Low = ref
	}
	if b.Close == 0 {
		b.Close = ref
	}
	return true
}

// repairLogic enforces low <= min(open,close) <= max(open,close) <= high.
func repairLogic(b *model.Bar) bool {
	fixed := false
	if b.Low > b.High {
		b.Low, b.High = b.High, b.Low
		fixed = true
	}

	maxOC := b.Open
	if b.Close > maxOC {
		maxOC = b.Close
	}
	minOC := b.Open
	if b.Close < minOC {
		minOC = b.Close
	}

	if b.High < maxOC {
		b.High = maxOC
		fixed = true
	}
	if b.Low > minOC {
		b.Low = minOC
		fixed = true
	}
	return fixed
}

// gapFiller synthesizes the one missing bar when the delta to the
// previous output bar is within tolerance of exactly two buckets.
// Wider gaps are left alone: synthesizing an unbounded flat stretch
// would fabricate history.
func gapFiller(prev, cur model.Bar, bucketMs int64) (model.Bar, bool) {
	if bucketMs <= 0 {
		return model.Bar{}, false
	}
	delta := cur.Time - prev.Time
	target := 2 * bucketMs
	if math.Abs(float64(delta-target)) > gapTolerance*float64(target) {
		return model.Bar{}, false
	}
	return model.Bar{
		Time:   prev.Time + bucketMs,
		Open:   prev.Close,
		High:   prev.Close,
		Low:    prev.Close,
		Close:  prev.Close,
		Volume: 0,
	}, true
}

func isOutlier(prevClose, close float64) bool {
	if prevClose <= 0 || close <= 0 {
		return false
	}
	ratio := close / prevClose
	return ratio >= outlierFactor || ratio <= 1/outlierFactor
}
