// ============================================================================
// lapboard lap time codec
// ============================================================================
//
// Package: internal/laptime
// File: laptime.go
// Purpose: Parse timing-service lap strings into seconds and format seconds back.
//
// Recognized shapes:
//   M:SS.mmm   minutes (1+ digits), exactly 2 second digits, exactly 3 ms digits
//   S.mmm      seconds (1+ digits), exactly 3 ms digits
//
// Anything else is not a lap. Values above MaxSeconds are pit stops or session
// boundaries reported as laps by the timing system and are rejected as well.
//
// Both directions work on whole milliseconds, so Format(Parse(s)) == s for any
// canonical s.
//
// ============================================================================

package laptime

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// MaxSeconds is the longest lap accepted.
const MaxSeconds = 120

var lapPattern = regexp.MustCompile(`^(?:(\d+):(\d{2})|(\d+))\.(\d{3})$`)

// Parse converts raw into seconds. ok is false when raw is malformed or out of range.
func Parse(raw string) (seconds float64, ok bool) {
	ms, ok := ParseMillis(raw)
	if !ok {
		return 0, false
	}
	return float64(ms) / 1000, true
}

// ParseMillis is Parse in whole milliseconds.
func ParseMillis(raw string) (int64, bool) {
	m := lapPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, false
	}

	var minutes, secs int64
	var err error
	if m[1] != "" {
		if minutes, err = strconv.ParseInt(m[1], 10, 64); err != nil {
			return 0, false
		}
		secs, _ = strconv.ParseInt(m[2], 10, 64)
	} else {
		if secs, err = strconv.ParseInt(m[3], 10, 64); err != nil {
			return 0, false
		}
	}
	millis, _ := strconv.ParseInt(m[4], 10, 64)

	// guards the multiplication below against absurd digit runs
	if minutes > MaxSeconds || secs > MaxSeconds*60 {
		return 0, false
	}

	total := (minutes*60+secs)*1000 + millis
	if total <= 0 || total > MaxSeconds*1000 {
		return 0, false
	}
	return total, true
}

// Format renders seconds as M:SS.mmm (>= 60s) or S.mmm. Milliseconds are truncated.
func Format(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return "-"
	}
	return FormatMillis(toMillis(seconds))
}

// FormatMillis is Format for whole milliseconds.
func FormatMillis(ms int64) string {
	secs := ms / 1000
	frac := ms % 1000
	if secs >= 60 {
		return fmt.Sprintf("%d:%02d.%03d", secs/60, secs%60, frac)
	}
	return fmt.Sprintf("%d.%03d", secs, frac)
}

// toMillis truncates to whole milliseconds. The epsilon absorbs binary
// representation error so 65.432 stays 65432 and not 65431.
func toMillis(seconds float64) int64 {
	return int64(math.Floor(seconds*1000 + 1e-6))
}
