package model

import (
	"encoding/json"
	"time"
)

// Bar represents one OHLCV record for a single time bucket.
// Time is the bucket start in Unix milliseconds (UTC). Prices and
// volume are float64 because source files carry arbitrary decimal
// precision.
type Bar struct {
	Time   int64   `json:"time"` // bucket start, epoch ms UTC
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// TimeUTC returns the bar's bucket start as a time.Time in UTC.
func (b Bar) TimeUTC() time.Time {
	return time.UnixMilli(b.Time).UTC()
}

// Valid reports whether the bar satisfies the sanitized OHLC shape:
// low ≤ min(open,close) ≤ max(open,close) ≤ high.
func (b Bar) Valid() bool {
	lo, hi := b.Open, b.Open
	if b.Close < lo {
		lo = b.Close
	}
	if b.Close > hi {
		hi = b.Close
	}
	return b.Low <= lo && hi <= b.High
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}
