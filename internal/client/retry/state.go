package retry

import (
	"time"

	"github.com/BearBump/TrackRelay/internal/models"
)

type Phase int

const (
	PhaseAttempting Phase = iota
	PhaseSoftFailure
	PhaseTerminal
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseAttempting:
		return "attempting"
	case PhaseSoftFailure:
		return "soft_failure"
	case PhaseTerminal:
		return "terminal"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// State is the retry state of one in-flight lookup. Attempt is the 1-based
// number of the attempt in progress or about to start.
type State struct {
	Barcode    string
	Phase      Phase
	Attempt    int
	Delay      time.Duration
	Last       Class
	NoDataSeen bool
	Payload    *models.TrackingPayload
	Err        error
}

func Start(barcode string) State {
	return State{Barcode: barcode, Phase: PhaseAttempting, Attempt: 1}
}

// Resume leaves a soft failure once its delay has been waited out.
func (s State) Resume() State {
	if s.Phase == PhaseSoftFailure {
		s.Phase = PhaseAttempting
		s.Delay = 0
	}
	return s
}

type Policy struct {
	MaxAttempts int
	Schedule    Schedule
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: MaxAttempts, Schedule: DefaultSchedule()}
}

// Next applies the outcome of the current attempt.
func Next(s State, c Classification) State {
	return DefaultPolicy().Next(s, c)
}

func (p Policy) Next(s State, c Classification) State {
	if s.Phase != PhaseAttempting {
		return s
	}
	limit := p.MaxAttempts
	if limit <= 0 || limit > MaxAttempts {
		limit = MaxAttempts
	}
	s.Last = c.Class

	switch {
	case c.Class == ClassOK:
		s.Phase = PhaseDone
		s.Payload = c.Payload
		s.Err = nil
		return s

	case c.Class == ClassRejected:
		s.Phase = PhaseTerminal
		s.Err = ErrRejected
		return s

	case c.Class == ClassNoData:
		if s.NoDataSeen || s.Attempt >= limit {
			reason := c.Reason
			if reason == "" {
				reason = "not found"
			}
			s.Phase = PhaseTerminal
			s.Err = &NoDataError{Barcode: s.Barcode, Reason: reason}
			return s
		}
		s.NoDataSeen = true
		return p.soft(s, c)

	case c.Class.Soft():
		if s.Attempt >= limit {
			s.Phase = PhaseTerminal
			s.Err = &RetriesExhaustedError{Attempts: s.Attempt, Last: c.Class, Err: c.Err}
			return s
		}
		return p.soft(s, c)
	}

	s.Phase = PhaseTerminal
	s.Err = c.Err
	return s
}

func (p Policy) soft(s State, c Classification) State {
	s.Phase = PhaseSoftFailure
	s.Delay = p.Schedule.Delay(s.Attempt)
	s.Err = c.Err
	s.Attempt++
	return s
}
