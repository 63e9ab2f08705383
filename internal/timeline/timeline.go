// Package timeline turns the raw upstream event list into the ordered
// timeline shown to the user.
package timeline

import (
	"sort"
	"strings"
	"time"

	"github.com/BearBump/TrackRelay/internal/models"
)

// Step is an event with its parsed instant. Dated is false when the event
// date or time could not be parsed.
type Step struct {
	models.TrackingEvent
	At    time.Time
	Dated bool
}

type Timeline struct {
	// Steps is oldest first.
	Steps []Step
	// Ranked is the most recent first.
	Ranked   []Step
	Latest   *Step
	Status   string
	Finished bool
}

// The upstream occasionally stamps these two steps in reverse. Labels are
// compared after trimming and lower-casing.
var (
	registrationLabels   = labelSet("registration", "registered", "تم تسجيل الطلب", "تسجيل الشحنة", "تم تسجيل الشحنة")
	readyForPickupLabels = labelSet("ready for pickup", "جاهز للاستلام", "جاهزة للاستلام", "الشحنة جاهزة للتسليم")
)

func labelSet(labels ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		out[l] = struct{}{}
	}
	return out
}

func hasLabel(set map[string]struct{}, e models.TrackingEvent) bool {
	_, ok := set[strings.ToLower(strings.TrimSpace(e.MainStatus))]
	return ok
}

// Normalize builds the timeline. loc is the zone the upstream dates are
// expressed in; nil means UTC.
func Normalize(events []models.TrackingEvent, loc *time.Location) Timeline {
	seen := make(map[models.TrackingEvent]struct{}, len(events))
	ranked := make([]Step, 0, len(events))
	for _, e := range events {
		if !e.IsFinished && !e.IsCurrent {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}

		s := Step{TrackingEvent: e}
		if at, err := ParseInstant(e.Date, e.Time, loc); err == nil {
			s.At, s.Dated = at, true
		}
		ranked = append(ranked, s)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Dated != b.Dated {
			return a.Dated
		}
		if a.Dated && !a.At.Equal(b.At) {
			return a.At.After(b.At)
		}
		return a.Status > b.Status
	})

	current := -1
	for i := range ranked {
		if !ranked[i].IsCurrent {
			continue
		}
		if current >= 0 {
			ranked[i].IsCurrent = false
			continue
		}
		current = i
	}

	var t Timeline
	if latest := pickLatest(ranked, current); latest >= 0 {
		s := ranked[latest]
		t.Latest = &s
		t.Status = s.MainStatus
		t.Finished = s.IsFinished
	}

	fixRegistrationOrder(ranked)

	t.Ranked = ranked
	t.Steps = make([]Step, len(ranked))
	for i, s := range ranked {
		t.Steps[len(ranked)-1-i] = s
	}
	return t
}

func pickLatest(ranked []Step, current int) int {
	for i, s := range ranked {
		if s.Dated {
			return i
		}
	}
	if current >= 0 {
		return current
	}
	if len(ranked) > 0 {
		return 0
	}
	return -1
}

// fixRegistrationOrder swaps registration and ready-for-pickup when
// registration ranks as the more recent of the two.
func fixRegistrationOrder(ranked []Step) {
	reg, ready := -1, -1
	for i, s := range ranked {
		if reg < 0 && hasLabel(registrationLabels, s.TrackingEvent) {
			reg = i
		}
		if ready < 0 && hasLabel(readyForPickupLabels, s.TrackingEvent) {
			ready = i
		}
	}
	if reg >= 0 && ready >= 0 && reg < ready {
		ranked[reg], ranked[ready] = ranked[ready], ranked[reg]
	}
}
