package speedhive

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrCompetitorNotFound marks a competitor whose detail endpoint answered 404.
// FetchSession recovers from it; it never reaches callers.
var ErrCompetitorNotFound = errors.New("speedhive: competitor not found")

// StatusError is a non-2xx answer from the timing service.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("speedhive: %s returned %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// FetchError aborts a whole FetchSession call. No partial snapshot accompanies it.
type FetchError struct {
	Op           string // "roster" or "competitor"
	CompetitorID string // set when Op is "competitor"
	Err          error
}

func (e *FetchError) Error() string {
	if e.CompetitorID != "" {
		return fmt.Sprintf("fetch %s %s: %v", e.Op, e.CompetitorID, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err carries a 404 from the timing service.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrCompetitorNotFound) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
