package resample

import (
	"reflect"
	"testing"

	"chart-replay/internal/model"
)

const minuteMs = int64(60_000)

func minuteBar(minute int64, o, h, l, c, v float64) model.Bar {
	return model.Bar{Time: minute * minuteMs, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func TestRun_ThreeMinuteAggregation(t *testing.T) {
	bars := []model.Bar{
		minuteBar(0, 10, 12, 9, 11, 100),
		minuteBar(1, 11, 13, 10, 12, 150),
		minuteBar(2, 12, 14, 11, 10, 50),
	}

	out := Run(bars, model.TF1m, model.TF3m)

	if len(out) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(out))
	}
	b := out[0]
	if b.Time != 0 {
		t.Errorf("bucket time = %d, want 0", b.Time)
	}
	if b.Open != 10 || b.High != 14 || b.Low != 9 || b.Close != 10 {
		t.Errorf("OHLC = %v/%v/%v/%v, want 10/14/9/10", b.Open, b.High, b.Low, b.Close)
	}
	if b.Volume != 300 {
		t.Errorf("volume = %v, want 300", b.Volume)
	}
}

func TestRun_BucketBoundaries(t *testing.T) {
	bars := []model.Bar{
		minuteBar(0, 1, 2, 1, 2, 1),
		minuteBar(1, 2, 3, 2, 3, 1),
		minuteBar(2, 3, 4, 3, 4, 1),
		minuteBar(3, 4, 5, 4, 5, 1), // next 3m bucket
		minuteBar(4, 5, 6, 5, 6, 1),
	}

	out := Run(bars, model.TF1m, model.TF3m)

	if len(out) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(out))
	}
	if out[0].Time != 0 || out[1].Time != 3*minuteMs {
		t.Errorf("bucket times = %d, %d; want 0, %d", out[0].Time, out[1].Time, 3*minuteMs)
	}
	if out[0].Close != 4 || out[1].Open != 4 {
		t.Errorf("boundary OHLC wrong: close0=%v open1=%v", out[0].Close, out[1].Open)
	}
	// trailing partial bucket is flushed
	if out[1].Close != 6 || out[1].Volume != 2 {
		t.Errorf("flushed bucket = %+v", out[1])
	}
}

func TestRun_IdentityAtBaseTimeframe(t *testing.T) {
	// unaligned timestamps must survive the identity case untouched
	bars := []model.Bar{
		{Time: 30_500, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1},
		{Time: 90_500, Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 1},
	}

	out := Run(bars, model.TF1m, model.TF1m)

	if !reflect.DeepEqual(out, bars) {
		t.Errorf("identity case changed the series: %+v", out)
	}
}

func TestRun_Idempotent(t *testing.T) {
	bars := []model.Bar{
		minuteBar(0, 10, 12, 9, 11, 100),
		minuteBar(1, 11, 13, 10, 12, 150),
		minuteBar(2, 12, 14, 11, 10, 50),
		minuteBar(3, 10, 11, 9, 10, 80),
		minuteBar(7, 10, 12, 10, 11, 60),
	}

	once := Run(bars, model.TF1m, model.TF5m)
	// the resampled series is now 5m-based: both the identity path and
	// a full re-aggregation must leave it unchanged
	twice := Run(once, model.TF5m, model.TF5m)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("identity resample changed series:\n once=%+v\ntwice=%+v", once, twice)
	}
	again := Run(once, model.TF1m, model.TF5m)
	if !reflect.DeepEqual(once, again) {
		t.Errorf("re-aggregation changed series:\n once=%+v\nagain=%+v", once, again)
	}
}

func TestRun_Empty(t *testing.T) {
	if out := Run(nil, model.TF1m, model.TF1h); len(out) != 0 {
		t.Errorf("expected empty output, got %d bars", len(out))
	}
}

func TestBuilder_FormingSnapshotAndFlush(t *testing.T) {
	b := NewBuilder(model.TF3m)

	if _, ok := b.Flush(); ok {
		t.Error("flush of empty builder should report nothing")
	}

	if _, done := b.Push(minuteBar(0, 10, 12, 9, 11, 1)); done {
		t.Error("first push must not close a bucket")
	}
	forming, ok := b.Forming()
	if !ok || forming.Open != 10 || forming.Close != 11 {
		t.Errorf("forming snapshot = %+v ok=%v", forming, ok)
	}

	done, ok := b.Push(minuteBar(3, 11, 12, 10, 11, 1))
	if !ok {
		t.Fatal("push into next bucket should close the previous one")
	}
	if done.Time != 0 || done.Close != 11 {
		t.Errorf("closed bucket = %+v", done)
	}

	last, ok := b.Flush()
	if !ok || last.Time != 3*minuteMs {
		t.Errorf("flush = %+v ok=%v", last, ok)
	}
	if _, ok := b.Flush(); ok {
		t.Error("second flush should report nothing")
	}
}

func TestRun_NominalMonthBucketing(t *testing.T) {
	day := int64(24 * 60 * 60 * 1000)
	bars := []model.Bar{
		{Time: 0, Open: 1, High: 2, Low: 1, Close: 2, Volume: 1},
		{Time: 29 * day, Open: 2, High: 3, Low: 2, Close: 3, Volume: 1},
		{Time: 30 * day, Open: 3, High: 4, Low: 3, Close: 4, Volume: 1},
	}

	out := Run(bars, model.TF1d, model.TF1M)

	// 1M is a nominal 30-day bucket, not a calendar month
	if len(out) != 2 {
		t.Fatalf("expected 2 nominal-month buckets, got %d", len(out))
	}
	if out[0].Close != 3 || out[1].Open != 3 {
		t.Errorf("nominal bucketing wrong: %+v", out)
	}
}
