package registry

import "time"

// State is the circuit state of a single endpoint.
type State int

const (
	StateClosed State = iota // available
	StateOpen                // cooling down after repeated failures
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// Policy holds the circuit thresholds shared by every endpoint.
type Policy struct {
	FailureThreshold int
	Cooldown         time.Duration
	RequestTimeout   time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		FailureThreshold: 3,
		Cooldown:         5 * time.Minute,
		RequestTimeout:   30 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = def.FailureThreshold
	}
	if p.Cooldown <= 0 {
		p.Cooldown = def.Cooldown
	}
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = def.RequestTimeout
	}
	return p
}

// Tripped reports whether the failure count alone has reached the threshold.
func (p Policy) Tripped(h Health) bool {
	return h.Failures >= p.FailureThreshold
}

// CircuitState is open only while the threshold is reached and the cooldown
// since the last failure has not elapsed yet.
func CircuitState(h Health, p Policy, now time.Time) State {
	if !p.Tripped(h) || h.LastFailure.IsZero() {
		return StateClosed
	}
	if now.Sub(h.LastFailure) < p.Cooldown {
		return StateOpen
	}
	return StateClosed
}

// IsAvailable decides whether an endpoint may be attempted at now.
// Inactive endpoints are never available.
func IsAvailable(d Descriptor, h Health, p Policy, now time.Time) bool {
	if !d.Active {
		return false
	}
	return CircuitState(h, p, now) == StateClosed
}

// CooldownRemaining is zero once the circuit is closed again.
func CooldownRemaining(h Health, p Policy, now time.Time) time.Duration {
	if CircuitState(h, p, now) != StateOpen {
		return 0
	}
	return p.Cooldown - now.Sub(h.LastFailure)
}
