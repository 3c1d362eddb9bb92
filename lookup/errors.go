package lookup

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

var (
	ErrUnauthorized = eris.New("rocketreach: api key rejected")
	ErrForbidden    = eris.New("rocketreach: access forbidden")
	ErrNotFound     = eris.New("rocketreach: not found")
	ErrNoAPIKey     = eris.New("rocketreach: no api key configured")
)

// APIError is a non-2xx answer from the provider other than 429.
type APIError struct {
	Endpoint   Endpoint
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("rocketreach %s: status %d: %s", e.Endpoint, e.StatusCode, body)
}

// Is maps status codes onto the sentinel errors so callers can use errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// Fatal reports a credential or permission problem that retrying cannot fix.
func (e *APIError) Fatal() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

func (e *APIError) ServerSide() bool {
	return e.StatusCode >= 500
}

// needsLegacySearch reports the 403 the universal endpoint returns to
// accounts without universal credits. It is not a permission failure.
func (e *APIError) needsLegacySearch() bool {
	return e.StatusCode == http.StatusForbidden && strings.Contains(e.Body, "Universal Credits")
}

// RateLimitError is a 429 that persisted after one Retry-After wait.
type RateLimitError struct {
	Endpoint   Endpoint
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rocketreach %s: rate limited, retry after %s", e.Endpoint, e.RetryAfter)
}

const (
	defaultRetryAfter = 30 * time.Second
	maxRetryAfter     = 60 * time.Second
)

// parseRetryAfter reads seconds or an HTTP date, capped at a minute.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return defaultRetryAfter
	}
	var d time.Duration
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		d = time.Duration(secs * float64(time.Second))
	} else if at, err := http.ParseTime(v); err == nil {
		d = at.Sub(now)
	} else {
		return defaultRetryAfter
	}
	if d < 0 {
		d = 0
	}
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}
