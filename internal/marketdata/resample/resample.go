// Package resample aggregates ascending base-resolution bars into
// coarser timeframe buckets. Bars sharing a bucket merge in O(1):
// open from the first bar, close from the last, high/low extremes,
// summed volume. A bucket only closes when a bar lands in a newer
// bucket, so the pass is streaming; Flush emits the trailing
// still-open bucket at end of input.
package resample

import "chart-replay/internal/model"

// Builder is the incremental resampler for one target timeframe.
// Designed for a single consumer; not goroutine-safe.
type Builder struct {
	durationMs int64
	bucket     int64 // bucket start = ts - ts%duration
	forming    model.Bar
	started    bool
}

// NewBuilder creates a resampler for the given timeframe.
func NewBuilder(tf model.Timeframe) *Builder {
	return &Builder{durationMs: tf.DurationMs()}
}

// Push merges one bar into the forming bucket. When the bar opens a
// new bucket, the finished previous bucket is returned with ok=true.
func (b *Builder) Push(bar model.Bar) (model.Bar, bool) {
	bucket := bar.Time - bar.Time%b.durationMs

	if !b.started {
		b.begin(bucket, bar)
		return model.Bar{}, false
	}

	if bucket > b.bucket {
		done := b.forming
		b.begin(bucket, bar)
		return done, true
	}

	// Same bucket. A late bar from an unsorted edge folds in here
	// rather than reopening a closed bucket.
	f := &b.forming
	if bar.High > f.High {
		f.High = bar.High
	}
	if bar.Low < f.Low {
		f.Low = bar.Low
	}
	f.Close = bar.Close
	f.Volume += bar.Volume
	return model.Bar{}, false
}

// Flush finalizes and returns the forming bucket, if any.
func (b *Builder) Flush() (model.Bar, bool) {
	if !b.started {
		return model.Bar{}, false
	}
	b.started = false
	return b.forming, true
}

// Forming returns a snapshot of the in-progress bucket.
func (b *Builder) Forming() (model.Bar, bool) {
	return b.forming, b.started
}

func (b *Builder) begin(bucket int64, bar model.Bar) {
	b.bucket = bucket
	b.started = true
	b.forming = model.Bar{
		Time:   bucket,
		Open:   bar.Open,
		High:   bar.High,
		Low:    bar.Low,
		Close:  bar.Close,
		Volume: bar.Volume,
	}
}

// Run resamples an ascending bar slice from the base timeframe into
// the target timeframe. When target equals base the input is returned
// unchanged: the identity case, not a one-bar-per-bucket aggregation,
// so unaligned timestamps survive untouched.
func Run(bars []model.Bar, base, target model.Timeframe) []model.Bar {
	if len(bars) == 0 || target == base || target.DurationMs() <= 0 {
		return bars
	}

	ratio := 1
	if d := base.DurationMs(); d > 0 {
		if r := int(target.DurationMs() / d); r > 1 {
			ratio = r
		}
	}
	out := make([]model.Bar, 0, len(bars)/ratio+1)

	b := NewBuilder(target)
	for _, bar := range bars {
		if done, ok := b.Push(bar); ok {
			out = append(out, done)
		}
	}
	if done, ok := b.Flush(); ok {
		out = append(out, done)
	}
	return out
}
