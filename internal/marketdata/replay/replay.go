// Package replay drives virtual-clock playback of a historical bar
// series: ticks advance simulated time at a configurable speed and
// synthesize intra-bar price movement along a three-phase path
// (open→high, high→low, low→close), so bars appear to form live.
// The engine is a pure state machine driven by Tick(deltaMs) from any
// scheduler; Run wires it to a wall-clock ticker.
package replay

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"chart-replay/internal/model"
)

// Three-phase interpolation boundaries: the simulated price rises
// open→high for the first third of the bar, falls high→low through
// the middle third, then rises low→close.
const (
	phaseOneEnd = 0.33
	phaseTwoEnd = 0.66
)

// DefaultFrameInterval is the Run loop's tick period when the caller
// passes 0.
const DefaultFrameInterval = 50 * time.Millisecond

// Engine is the replay state machine. All methods are safe for
// concurrent use; ticks and control calls serialize on one mutex so
// no tick overlaps another.
type Engine struct {
	mu sync.Mutex

	symbol string
	tf     model.Timeframe
	series []model.Bar

	status         model.ReplayStatus
	index          int
	virtualElapsed float64 // ms inside the forming bar
	speed          float64 // requested multiplier
	realTime       bool    // 1:1 mode: effective multiplier pinned to 1

	// forming-bar path state
	touchedHigh float64
	touchedLow  float64
	lastPrice   float64

	// last synchronized completed-bar point
	syncTime  int64
	syncPrice float64

	// OnFrame receives every emitted frame (optional). It is called
	// outside the engine lock and must hand off quickly; slow
	// consumers belong behind the bus.
	OnFrame func(model.Frame)
}

// New creates an idle engine.
func New() *Engine {
	return &Engine{status: model.ReplayIdle, speed: 1}
}

// Start loads a series and seeks to index: bars before index are
// settled history, series[index] is the bar that will form first.
// The engine lands in Paused, ready for Play. An empty series goes
// straight to Complete.
func (e *Engine) Start(symbol string, tf model.Timeframe, series []model.Bar, index int) {
	e.mu.Lock()
	e.symbol = symbol
	e.tf = tf
	e.series = append([]model.Bar(nil), series...)
	sort.Slice(e.series, func(i, j int) bool { return e.series[i].Time < e.series[j].Time })

	frames := e.seekLocked(index)
	e.mu.Unlock()

	log.Printf("[replay] start %s:%s series=%d index=%d", symbol, tf, len(series), index)
	e.emitAll(frames)
}

// Seek repositions inside the already-loaded series: virtual elapsed
// resets to zero and the engine lands in Paused. The displayed slice
// truncation is a view change, not a data change.
func (e *Engine) Seek(index int) {
	e.mu.Lock()
	frames := e.seekLocked(index)
	e.mu.Unlock()
	e.emitAll(frames)
}

// SeekTime seeks to the last bar at or before ts and returns the
// resolved index. Used when a timeframe switch replaces the series
// and a previously-held global timestamp must map into the new one:
// an exact match is not required. A ts before the first bar clamps
// to index 0.
func (e *Engine) SeekTime(ts int64) int {
	e.mu.Lock()
	n := len(e.series)
	// first index with Time > ts, minus one
	idx := sort.Search(n, func(i int) bool { return e.series[i].Time > ts }) - 1
	if idx < 0 {
		idx = 0
	}
	frames := e.seekLocked(idx)
	e.mu.Unlock()
	e.emitAll(frames)
	return idx
}

// seekLocked implements the Seeking transition under the lock and
// returns the frames to emit after unlock.
func (e *Engine) seekLocked(index int) []model.Frame {
	if len(e.series) == 0 {
		e.status = model.ReplayComplete
		e.index = 0
		e.virtualElapsed = 0
		return []model.Frame{e.frameLocked(model.Bar{}, 0, false, model.ReplayComplete)}
	}

	if index < 0 {
		index = 0
	}
	if index >= len(e.series) {
		index = len(e.series) - 1
	}

	e.status = model.ReplaySeeking
	e.index = index
	e.virtualElapsed = 0
	e.beginBarLocked()

	if index > 0 {
		prev := e.series[index-1]
		e.syncTime, e.syncPrice = prev.Time, prev.Close
	} else {
		e.syncTime, e.syncPrice = 0, e.series[0].Open
	}

	seeking := e.frameLocked(e.formingBarLocked(), e.lastPrice, false, model.ReplaySeeking)
	e.status = model.ReplayPaused
	paused := e.frameLocked(e.formingBarLocked(), e.lastPrice, false, model.ReplayPaused)
	return []model.Frame{seeking, paused}
}

// Play resumes the virtual clock. No-op unless paused.
func (e *Engine) Play() {
	e.mu.Lock()
	if e.status != model.ReplayPaused && e.status != model.ReplaySeeking {
		e.mu.Unlock()
		return
	}
	e.status = model.ReplayPlaying
	f := e.frameLocked(e.formingBarLocked(), e.lastPrice, false, model.ReplayPlaying)
	e.mu.Unlock()
	e.emitAll([]model.Frame{f})
}

// Pause freezes the virtual clock and returns the snapshot carrying
// the last synchronized (index, time, price), so the caller can
// persist a resume point.
func (e *Engine) Pause() model.ReplaySnapshot {
	e.mu.Lock()
	if e.status == model.ReplayPlaying {
		e.status = model.ReplayPaused
	}
	snap := e.snapshotLocked()
	f := e.frameLocked(e.formingBarLocked(), e.lastPrice, false, e.status)
	e.mu.Unlock()
	e.emitAll([]model.Frame{f})
	return snap
}

// SetSpeed sets the speed multiplier. In 1:1 real-time mode the value
// is remembered but the effective multiplier stays pinned to 1 until
// the mode is released.
func (e *Engine) SetSpeed(x float64) {
	e.mu.Lock()
	if x > 0 {
		e.speed = x
	}
	e.mu.Unlock()
}

// SetRealTime pins (or releases) the 1:1 mode.
func (e *Engine) SetRealTime(on bool) {
	e.mu.Lock()
	e.realTime = on
	e.mu.Unlock()
}

// Reset discards the session and returns to Idle. A tick already in
// flight sees Idle and does nothing, so a following Start is never
// corrupted.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.series = nil
	e.index = 0
	e.virtualElapsed = 0
	e.status = model.ReplayIdle
	e.touchedHigh, e.touchedLow, e.lastPrice = 0, 0, 0
	e.syncTime, e.syncPrice = 0, 0
	f := e.frameLocked(model.Bar{}, 0, false, model.ReplayIdle)
	e.mu.Unlock()
	e.emitAll([]model.Frame{f})
}

// Snapshot returns a read-only copy of the engine state.
func (e *Engine) Snapshot() model.ReplaySnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Tick advances the virtual clock by deltaMs of real time scaled by
// the effective speed multiplier. Bars whose duration has fully
// elapsed complete with their true OHLC (several may complete in one
// tick at high speed; the remainder carries forward, never resets);
// otherwise an interpolated forming bar is emitted.
func (e *Engine) Tick(deltaMs float64) {
	e.mu.Lock()
	if e.status != model.ReplayPlaying || deltaMs <= 0 {
		e.mu.Unlock()
		return
	}

	e.virtualElapsed += deltaMs * e.effectiveSpeedLocked()

	var frames []model.Frame
	for {
		d := e.durationLocked(e.index)
		if e.virtualElapsed < d {
			break
		}

		// bar complete: emit true OHLC and carry the remainder
		bar := e.series[e.index]
		e.virtualElapsed -= d
		e.syncTime, e.syncPrice = bar.Time, bar.Close
		e.index++

		if e.index >= len(e.series) {
			e.status = model.ReplayComplete
			e.virtualElapsed = 0
			frames = append(frames, e.frameAtLocked(e.index-1, bar, bar.Close, true, model.ReplayComplete))
			e.mu.Unlock()
			e.emitAll(frames)
			return
		}

		frames = append(frames, e.frameAtLocked(e.index-1, bar, bar.Close, true, model.ReplayPlaying))
		e.beginBarLocked()
	}

	// interpolate inside the forming bar
	bar := e.series[e.index]
	progress := e.virtualElapsed / e.durationLocked(e.index)
	price := pathPrice(bar, progress)

	if price > e.touchedHigh {
		e.touchedHigh = price
	}
	if price < e.touchedLow {
		e.touchedLow = price
	}
	e.lastPrice = price

	forming := model.Bar{
		Time:   bar.Time,
		Open:   bar.Open,
		High:   e.touchedHigh,
		Low:    e.touchedLow,
		Close:  price,
		Volume: bar.Volume * progress,
	}
	frames = append(frames, e.frameLocked(forming, price, false, model.ReplayPlaying))
	e.mu.Unlock()
	e.emitAll(frames)
}

// Run drives Tick from a wall-clock ticker until ctx is cancelled.
// One goroutine, one tick at a time; deltas come from the monotonic
// clock so wall adjustments never skew the virtual clock.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[replay] tick loop stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			now := time.Now()
			e.Tick(now.Sub(last).Seconds() * 1000)
			last = now
		}
	}
}

// ── internals ──

// effectiveSpeedLocked is the multiplier actually applied: pinned to
// 1 in real-time mode.
func (e *Engine) effectiveSpeedLocked() float64 {
	if e.realTime {
		return 1
	}
	return e.speed
}

// durationLocked returns the forming duration of series[i] in ms:
// the delta to the previous bar, or the timeframe's nominal duration
// for the first bar or a non-positive delta.
func (e *Engine) durationLocked(i int) float64 {
	if i > 0 {
		if d := e.series[i].Time - e.series[i-1].Time; d > 0 {
			return float64(d)
		}
	}
	return float64(e.tf.DurationMs())
}

// beginBarLocked resets the forming-bar path at series[index]: the
// simulated price starts at the bar's open.
func (e *Engine) beginBarLocked() {
	if e.index < len(e.series) {
		open := e.series[e.index].Open
		e.touchedHigh, e.touchedLow, e.lastPrice = open, open, open
	}
}

// formingBarLocked snapshots the current forming bar.
func (e *Engine) formingBarLocked() model.Bar {
	if e.index >= len(e.series) {
		if n := len(e.series); n > 0 {
			return e.series[n-1]
		}
		return model.Bar{}
	}
	bar := e.series[e.index]
	progress := 0.0
	if d := e.durationLocked(e.index); d > 0 {
		progress = e.virtualElapsed / d
	}
	return model.Bar{
		Time:   bar.Time,
		Open:   bar.Open,
		High:   e.touchedHigh,
		Low:    e.touchedLow,
		Close:  e.lastPrice,
		Volume: bar.Volume * progress,
	}
}

func (e *Engine) snapshotLocked() model.ReplaySnapshot {
	return model.ReplaySnapshot{
		Symbol:          e.symbol,
		Timeframe:       e.tf,
		Status:          e.status,
		Index:           e.index,
		VirtualElapsed:  e.virtualElapsed,
		SpeedMultiplier: e.speed,
		RealTime:        e.realTime,
		SeriesLen:       len(e.series),
		SyncTime:        e.syncTime,
		SyncPrice:       e.syncPrice,
	}
}

func (e *Engine) frameLocked(bar model.Bar, price float64, complete bool, status model.ReplayStatus) model.Frame {
	return e.frameAtLocked(e.index, bar, price, complete, status)
}

func (e *Engine) frameAtLocked(index int, bar model.Bar, price float64, complete bool, status model.ReplayStatus) model.Frame {
	return model.Frame{
		Symbol:    e.symbol,
		Timeframe: e.tf,
		Index:     index,
		Bar:       bar,
		Price:     price,
		Complete:  complete,
		State:     status,
	}
}

func (e *Engine) emitAll(frames []model.Frame) {
	if e.OnFrame == nil {
		return
	}
	for _, f := range frames {
		e.OnFrame(f)
	}
}

// pathPrice computes the simulated trade price at progress ∈ [0,1)
// through the bar on the three-phase path.
func pathPrice(bar model.Bar, progress float64) float64 {
	switch {
	case progress < phaseOneEnd:
		t := progress / phaseOneEnd
		return bar.Open + (bar.High-bar.Open)*t
	case progress < phaseTwoEnd:
		t := (progress - phaseOneEnd) / (phaseTwoEnd - phaseOneEnd)
		return bar.High + (bar.Low-bar.High)*t
	default:
		t := (progress - phaseTwoEnd) / (1 - phaseTwoEnd)
		return bar.Low + (bar.Close-bar.Low)*t
	}
}
