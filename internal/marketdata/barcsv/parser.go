// Package barcsv turns raw delimiter-separated OHLCV text lines into
// validated bars. Source files are wildly inconsistent (export tools
// disagree on delimiter, column order and timestamp encoding), so the
// parser decides per line via a small explicit decision table:
// delimiter, column layout, then timestamp format. Malformed lines are
// rejected records, not errors: they are dropped and counted, never
// fatal.
package barcsv

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"chart-replay/internal/model"
)

// Bare numeric timestamps below this are Unix seconds and are scaled
// to milliseconds; values at or above are already milliseconds.
const epochSecondsLimit = 10_000_000_000

// dateRe matches field 0 of the date,time column layout: 8 bare
// digits or YYYY-MM-DD with -, / or . separators.
var dateRe = regexp.MustCompile(`^(\d{8}|\d{4}[-/.]\d{1,2}[-/.]\d{1,2})$`)

// calendarLayouts is the timestamp side of the decision table, tried
// in order against the joined date/time string.
var calendarLayouts = buildCalendarLayouts()

func buildCalendarLayouts() []string {
	dates := []string{"20060102", "2006-01-02", "2006/01/02", "2006.01.02"}
	clocks := []string{"15:04:05", "15:04"}
	var out []string
	for _, d := range dates {
		for _, c := range clocks {
			out = append(out, d+" "+c, d+"T"+c)
		}
	}
	// date-only lines bucket at midnight UTC
	out = append(out, dates...)
	return out
}

// ParseLine parses one raw line. The second return value is false for
// a rejected record: empty line, first byte not a digit, fewer than 5
// fields, unparseable open/close, or an unresolvable timestamp.
func ParseLine(line string) (model.Bar, bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] < '0' || line[0] > '9' {
		return model.Bar{}, false
	}

	delim := ","
	if strings.Contains(line, ";") {
		delim = ";"
	}
	fields := strings.Split(line, delim)
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if len(fields) < 5 {
		return model.Bar{}, false
	}

	// Column layout: date,time,O,H,L,C[,V] only when field 0 looks
	// like a date and field 1 like a clock; otherwise field 0 is a
	// datetime or epoch and prices start at field 1.
	priceAt := 1
	joined := fields[0]
	if dateRe.MatchString(fields[0]) && strings.Contains(fields[1], ":") {
		priceAt = 2
		joined = fields[0] + " " + fields[1]
	}
	if len(fields) < priceAt+4 {
		return model.Bar{}, false
	}

	ts, ok := resolveTimestamp(joined, fields[0])
	if !ok || ts <= 0 {
		return model.Bar{}, false
	}

	open, ok := parseFinite(fields[priceAt])
	if !ok {
		return model.Bar{}, false
	}
	clos, ok := parseFinite(fields[priceAt+3])
	if !ok {
		return model.Bar{}, false
	}
	// high/low fall back to 0 and are left to the sanitizer's zero
	// repair rather than costing the whole record
	high, _ := parseFinite(fields[priceAt+1])
	low, _ := parseFinite(fields[priceAt+2])

	volume := 0.0
	if len(fields) > priceAt+4 {
		if v, ok := parseFinite(fields[priceAt+4]); ok {
			volume = v
		}
	}

	return model.Bar{
		Time:   ts,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  clos,
		Volume: volume,
	}, true
}

// ParseChunk parses every line, discarding rejections, and returns
// records in encounter order plus the rejected-line count. Chunk
// boundaries are not chronological; the caller sorts.
func ParseChunk(lines []string) ([]model.Bar, int) {
	bars := make([]model.Bar, 0, len(lines))
	rejected := 0
	for _, line := range lines {
		bar, ok := ParseLine(line)
		if !ok {
			if strings.TrimSpace(line) != "" {
				rejected++
			}
			continue
		}
		bars = append(bars, bar)
	}
	return bars, rejected
}

// resolveTimestamp tries the calendar layouts against the joined
// date/time string first, then falls back to reading field 0 as a
// bare epoch number with the seconds/milliseconds heuristic.
func resolveTimestamp(joined, field0 string) (int64, bool) {
	for _, layout := range calendarLayouts {
		if t, err := time.Parse(layout, joined); err == nil {
			return t.UnixMilli(), true
		}
	}
	n, err := strconv.ParseFloat(field0, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	if n < epochSecondsLimit {
		return int64(n * 1000), true
	}
	return int64(n), true
}

// parseFinite parses a price field, requiring a finite value.
func parseFinite(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
