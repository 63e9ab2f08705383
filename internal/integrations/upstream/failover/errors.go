package failover

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrAllSourcesUnavailable = errors.New("all tracking sources unavailable")

type Kind int

const (
	KindTimeout Kind = iota + 1
	KindHTTP
	KindNetwork
	// KindBadBody is a 2xx answer whose body is not JSON.
	KindBadBody
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindHTTP:
		return "http"
	case KindNetwork:
		return "network"
	case KindBadBody:
		return "bad_body"
	default:
		return "unknown"
	}
}

// EndpointError is the outcome of one failed attempt against one endpoint.
type EndpointError struct {
	EndpointID string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *EndpointError) Error() string {
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("endpoint %s: http status %d", e.EndpointID, e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("endpoint %s: %s: %v", e.EndpointID, e.Kind, e.Err)
		}
		return fmt.Sprintf("endpoint %s: %s", e.EndpointID, e.Kind)
	}
}

func (e *EndpointError) Unwrap() error { return e.Err }

// UnavailableError is returned when every candidate failed or none was
// available. It matches ErrAllSourcesUnavailable and the last endpoint error.
type UnavailableError struct {
	Attempts int
	Last     error
}

func (e *UnavailableError) Error() string {
	if e.Last == nil {
		return ErrAllSourcesUnavailable.Error()
	}
	return fmt.Sprintf("%s after %d attempt(s): %v", ErrAllSourcesUnavailable, e.Attempts, e.Last)
}

func (e *UnavailableError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrAllSourcesUnavailable}
	}
	return []error{ErrAllSourcesUnavailable, e.Last}
}
