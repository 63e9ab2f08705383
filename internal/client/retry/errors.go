package retry

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrUpstreamChallenge   = errors.New("upstream returned an anti-bot challenge")
	ErrUpstreamMalformed   = errors.New("upstream returned a malformed response")
	ErrUpstreamUnavailable = errors.New("tracking service unavailable")
	ErrRejected            = errors.New("tracking number rejected")
)

// NoDataError is terminal: the upstream answered twice without events.
type NoDataError struct {
	Barcode string
	Reason  string
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("no tracking data for %s: %s", e.Barcode, e.Reason)
}

// Exhaustion reasons.
const (
	ReasonTimeout   = "timeout"
	ReasonMalformed = "malformed upstream response"
	ReasonNetwork   = "network error"
)

// RetriesExhaustedError is returned after the last soft failure.
type RetriesExhaustedError struct {
	Attempts int
	Last     Class
	Err      error
}

func (e *RetriesExhaustedError) Reason() string {
	switch e.Last {
	case ClassTimeout:
		return ReasonTimeout
	case ClassNetwork, ClassUnavailable:
		return ReasonNetwork
	default:
		return ReasonMalformed
	}
}

func (e *RetriesExhaustedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gave up after %d attempts: %s: %v", e.Attempts, e.Reason(), e.Err)
	}
	return fmt.Sprintf("gave up after %d attempts: %s", e.Attempts, e.Reason())
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

// UserMessage turns an engine error into text for the person waiting on it.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var noData *NoDataError
	if errors.As(err, &noData) {
		return "No tracking information was found. Please check your tracking number and try again."
	}
	if errors.Is(err, ErrRejected) {
		return "This tracking number is not valid. Please check your tracking number."
	}
	var exhausted *RetriesExhaustedError
	if errors.As(err, &exhausted) {
		switch exhausted.Reason() {
		case ReasonTimeout:
			return "The tracking service is taking too long to respond. Please try again later."
		case ReasonNetwork:
			return "The tracking service cannot be reached right now. Please try again later."
		default:
			return "The tracking service returned an unexpected response. Please try again later."
		}
	}
	return "Unable to fetch tracking information. Please try again later."
}
