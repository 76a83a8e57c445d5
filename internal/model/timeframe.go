package model

import (
	"fmt"
	"sort"
)

// Timeframe is an enumerated aggregation bucket duration, identified
// by its chart label ("1m", "4h", "1d", ...).
type Timeframe string

// Supported timeframes, finest first.
const (
	TF1m  Timeframe = "1m"
	TF3m  Timeframe = "3m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF2h  Timeframe = "2h"
	TF4h  Timeframe = "4h"
	TF12h Timeframe = "12h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
	TF1M  Timeframe = "1M"
	TF1y  Timeframe = "1y"
)

const (
	minuteMs = int64(60 * 1000)
	hourMs   = 60 * minuteMs
	dayMs    = 24 * hourMs
)

// tfDurations maps each timeframe to its bucket duration in ms.
// 1M and 1y use nominal 30-day and 365-day durations: bucketing is an
// approximation, not calendar arithmetic, and must stay that way so
// aggregation results remain stable.
var tfDurations = map[Timeframe]int64{
	TF1m:  minuteMs,
	TF3m:  3 * minuteMs,
	TF5m:  5 * minuteMs,
	TF15m: 15 * minuteMs,
	TF30m: 30 * minuteMs,
	TF1h:  hourMs,
	TF2h:  2 * hourMs,
	TF4h:  4 * hourMs,
	TF12h: 12 * hourMs,
	TF1d:  dayMs,
	TF1w:  7 * dayMs,
	TF1M:  30 * dayMs,
	TF1y:  365 * dayMs,
}

// DurationMs returns the bucket duration in milliseconds, or 0 for an
// unknown timeframe.
func (tf Timeframe) DurationMs() int64 {
	return tfDurations[tf]
}

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	_, ok := tfDurations[tf]
	return ok
}

func (tf Timeframe) String() string { return string(tf) }

// ParseTimeframe validates a timeframe label.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.Valid() {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// Timeframes returns all supported timeframes ordered by duration,
// finest first.
func Timeframes() []Timeframe {
	out := make([]Timeframe, 0, len(tfDurations))
	for tf := range tfDurations {
		out = append(out, tf)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DurationMs() < out[j].DurationMs()
	})
	return out
}
