package gateway

import (
	"math"
	"sort"
	"sync"
)

// LatencyTracker samples the wall-clock delay between a frame leaving
// the replay engine and its enqueue onto client send queues. The newest
// window of samples lives in a fixed ring; Percentiles sorts a snapshot
// on demand. A session switch resets the window so a finished session
// cannot skew the next one's numbers. Thread-safe.
type LatencyTracker struct {
	mu   sync.Mutex
	ring []float64 // sample window, ms
	next int       // overwrite position once the window is full
	peak float64   // worst sample since the last Reset
}

// NewLatencyTracker returns a tracker holding the newest capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LatencyTracker{ring: make([]float64, 0, capacity)}
}

// Record adds one latency sample in milliseconds.
func (lt *LatencyTracker) Record(ms float64) {
	lt.mu.Lock()
	if len(lt.ring) < cap(lt.ring) {
		lt.ring = append(lt.ring, ms)
	} else {
		lt.ring[lt.next] = ms
		lt.next++
		if lt.next == cap(lt.ring) {
			lt.next = 0
		}
	}
	if ms > lt.peak {
		lt.peak = ms
	}
	lt.mu.Unlock()
}

// Percentiles returns p50, p95 and p99 over the current window, in
// milliseconds. All zero when no samples have been recorded.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 float64) {
	lt.mu.Lock()
	sorted := append([]float64(nil), lt.ring...)
	lt.mu.Unlock()

	if len(sorted) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(sorted)
	return quantile(sorted, 0.50), quantile(sorted, 0.95), quantile(sorted, 0.99)
}

// Max returns the worst sample seen since the last Reset.
func (lt *LatencyTracker) Max() float64 {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.peak
}

// Count returns the number of samples currently in the window.
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return len(lt.ring)
}

// Reset drops the window and the peak. Called whenever a session is
// (re)bound so numbers never mix playback resolutions.
func (lt *LatencyTracker) Reset() {
	lt.mu.Lock()
	lt.ring = lt.ring[:0]
	lt.next = 0
	lt.peak = 0
	lt.mu.Unlock()
}

// quantile linearly interpolates the q-th quantile (0..1) of a sorted
// slice.
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := q * float64(n-1)
	lo := int(math.Floor(rank))
	if lo+1 >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}
