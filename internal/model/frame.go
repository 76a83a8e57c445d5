package model

import "encoding/json"

// ReplayStatus is the replay engine's lifecycle state.
type ReplayStatus string

const (
	ReplayIdle     ReplayStatus = "idle"
	ReplaySeeking  ReplayStatus = "seeking"
	ReplayPlaying  ReplayStatus = "playing"
	ReplayPaused   ReplayStatus = "paused"
	ReplayComplete ReplayStatus = "complete"
)

// Frame is one replay observation: either an in-progress bar
// synthesized by interpolation, or the true OHLC of a bar that just
// completed. Frames flow from the engine to the bus, the gateway and
// the Redis publisher.
type Frame struct {
	Symbol    string       `json:"symbol"`
	Timeframe Timeframe    `json:"tf"`
	Index     int          `json:"index"` // position in the displayed series
	Bar       Bar          `json:"bar"`
	Price     float64      `json:"price"` // current simulated trade price
	Complete  bool         `json:"complete"`
	State     ReplayStatus `json:"state"`
	EmitTS    int64        `json:"emit_ts,omitempty"` // wall-clock ms at emission, for pipeline latency
}

// Key returns "SYMBOL:TF", the routing key for channels and streams.
func (f Frame) Key() string {
	return f.Symbol + ":" + string(f.Timeframe)
}

// JSON returns the JSON-encoded frame (ignoring errors for hot-path usage).
func (f Frame) JSON() []byte {
	out, _ := json.Marshal(f)
	return out
}

// ReplaySnapshot is a read-only copy of the engine state, exposed on
// every tick and on pause so callers can persist a resume point.
type ReplaySnapshot struct {
	Symbol          string       `json:"symbol"`
	Timeframe       Timeframe    `json:"tf"`
	Status          ReplayStatus `json:"status"`
	Index           int          `json:"index"`
	VirtualElapsed  float64      `json:"virtual_elapsed_ms"`
	SpeedMultiplier float64      `json:"speed"`
	RealTime        bool         `json:"realtime"` // 1:1 mode, multiplier pinned to 1
	SeriesLen       int          `json:"series_len"`
	SyncTime        int64        `json:"sync_time"`  // last completed bar time, epoch ms
	SyncPrice       float64      `json:"sync_price"` // last completed bar close
}
