package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

var (
	// ErrAllProvidersExhausted is matched by every *ExhaustedError.
	ErrAllProvidersExhausted = eris.New("provider: all providers exhausted")
	// ErrStale is matched by every *StaleError.
	ErrStale = eris.New("provider: stale data")
	// ErrMalformed marks a response body that does not have the expected shape.
	ErrMalformed = eris.New("provider: malformed response")
)

// StaleError rejects a structurally valid response whose data is too old.
type StaleError struct {
	Endpoint      string
	DataTimestamp time.Time
	Age           time.Duration
	MaxAge        time.Duration
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("provider %s: data from %s is %s old (max %s)",
		e.Endpoint, e.DataTimestamp.UTC().Format(time.RFC3339), e.Age.Round(time.Minute), e.MaxAge)
}

// Is makes errors.Is(err, ErrStale) work.
func (e *StaleError) Is(target error) bool { return target == ErrStale }

// Attempt records the outcome of one endpoint in a Select call.
type Attempt struct {
	Endpoint string
	Err      error
	Elapsed  time.Duration
}

// ExhaustedError is returned when no endpoint produced a fresh, valid response.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "provider: all providers exhausted: no endpoints configured"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Endpoint, a.Err))
	}
	return "provider: all providers exhausted: " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrAllProvidersExhausted) work.
func (e *ExhaustedError) Is(target error) bool { return target == ErrAllProvidersExhausted }

// Unwrap returns the last observed error.
func (e *ExhaustedError) Unwrap() error {
	return e.Last()
}

// Last returns the error of the final attempt, or nil.
func (e *ExhaustedError) Last() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// IsMalformed reports whether err marks an unusable response body.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}
