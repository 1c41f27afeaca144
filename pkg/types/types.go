// Package types defines the core domain model shared across lapboard.
package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Method selects which laps feed a competitor's average.
type Method string

const (
	MethodBest Method = "best" // N fastest valid laps
	MethodLast Method = "last" // N most recent valid laps
)

// ErrInvalidInput is wrapped by every ValidationError.
var ErrInvalidInput = errors.New("invalid input")

// ValidationError reports a rejected Input field. It is raised before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// Input holds the raw, unvalidated refresh parameters, as typed by a user.
type Input struct {
	EventID   string `json:"event_id" yaml:"event_id"`
	SessionID string `json:"session_id" yaml:"session_id"`
	Laps      string `json:"laps" yaml:"laps"`
	Method    string `json:"method" yaml:"method"`
}

// Query is a validated Input.
type Query struct {
	EventID   string `json:"event_id"`
	SessionID string `json:"session_id"`
	Laps      int    `json:"laps"`
	Method    Method `json:"method"`
}

// Parse validates the input and converts it into a Query.
func (in Input) Parse() (Query, error) {
	eventID := strings.TrimSpace(in.EventID)
	if eventID == "" {
		return Query{}, &ValidationError{Field: "event id", Reason: "must not be empty"}
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return Query{}, &ValidationError{Field: "session id", Reason: "must not be empty"}
	}

	laps, err := strconv.Atoi(strings.TrimSpace(in.Laps))
	if err != nil {
		return Query{}, &ValidationError{Field: "lap count", Reason: fmt.Sprintf("%q is not a number", in.Laps)}
	}
	if laps < 1 {
		return Query{}, &ValidationError{Field: "lap count", Reason: "must be at least 1"}
	}

	method := Method(strings.ToLower(strings.TrimSpace(in.Method)))
	if method != MethodBest && method != MethodLast {
		return Query{}, &ValidationError{Field: "method", Reason: fmt.Sprintf("%q is not one of best, last", in.Method)}
	}

	return Query{
		EventID:   eventID,
		SessionID: sessionID,
		Laps:      laps,
		Method:    method,
	}, nil
}

// Competitor is one roster entry with its lap records.
type Competitor struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	RawLapTimes []string `json:"raw_lap_times"` // arrival (chronological) order
	BestTimeRaw string   `json:"best_time_raw,omitempty"`
	HasBestTime bool     `json:"has_best_time"`
}

// SessionSnapshot is the result of one fetch. Competitors keep roster order.
type SessionSnapshot struct {
	EventID     string       `json:"event_id"`
	SessionID   string       `json:"session_id"`
	Competitors []Competitor `json:"competitors"`
	Missing     []string     `json:"missing,omitempty"` // competitor ids that answered 404
}

// RankedResult is one leaderboard row. Rows are rebuilt every cycle.
type RankedResult struct {
	Position       int     `json:"position"`
	CompetitorID   string  `json:"competitor_id"`
	Name           string  `json:"name"`
	AverageSeconds float64 `json:"average_seconds"`
	Average        string  `json:"average"`
	BestTime       string  `json:"best_time"`
	LapsCounted    int     `json:"laps_counted"`
}

// Leaderboard is what a cycle delivers to its sink.
type Leaderboard struct {
	Query     Query          `json:"query"`
	Results   []RankedResult `json:"results"`
	Missing   int            `json:"missing"`
	UpdatedAt time.Time      `json:"updated_at"`
}
