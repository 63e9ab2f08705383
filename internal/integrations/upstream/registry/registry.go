package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var ErrUnknownEndpoint = errors.New("unknown endpoint")

// Descriptor is a configured upstream base address. Lower Priority is preferred.
type Descriptor struct {
	ID       string
	Name     string
	BaseURL  string
	Priority int
	Active   bool
}

// Health is the mutable per-endpoint record owned by the Registry.
type Health struct {
	Failures    int
	LastFailure time.Time
	LastSuccess time.Time
}

// EndpointStatus is a point-in-time view of one endpoint.
type EndpointStatus struct {
	Descriptor        Descriptor
	Health            Health
	State             State
	Available         bool
	CooldownRemaining time.Duration
	IsActive          bool
}

type Snapshot struct {
	ActiveID  string
	Policy    Policy
	Endpoints []EndpointStatus
}

type entry struct {
	desc   Descriptor
	health Health
}

type Registry struct {
	mu       sync.Mutex
	policy   Policy
	entries  []*entry // sorted by priority
	byID     map[string]*entry
	activeID string
	logger   *slog.Logger
}

// New builds a registry from the configured descriptors. The active
// selection starts at the best-priority active endpoint.
func New(descs []Descriptor, policy Policy, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		policy: policy.withDefaults(),
		byID:   make(map[string]*entry, len(descs)),
		logger: logger,
	}
	for _, d := range descs {
		if d.ID == "" {
			return nil, errors.New("endpoint id is empty")
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, errors.Errorf("duplicate endpoint id %q", d.ID)
		}
		e := &entry{desc: d}
		r.entries = append(r.entries, e)
		r.byID[d.ID] = e
	}
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].desc.Priority < r.entries[j].desc.Priority
	})
	for _, e := range r.entries {
		if e.desc.Active {
			r.activeID = e.desc.ID
			break
		}
	}
	return r, nil
}

func (r *Registry) Policy() Policy {
	return r.policy
}

// ListAvailable returns the endpoints with a closed circuit, best priority first.
func (r *Registry) ListAvailable(now time.Time) []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		if IsAvailable(e.desc, e.health, r.policy, now) {
			out = append(out, e.desc)
		}
	}
	return out
}

// Available re-checks a single endpoint.
func (r *Registry) Available(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return false
	}
	return IsAvailable(e.desc, e.health, r.policy, now)
}

func (r *Registry) Descriptor(id string) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

func (r *Registry) Health(id string) (Health, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return Health{}, false
	}
	return e.health, true
}

func (r *Registry) RecordSuccess(id string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return
	}
	e.health.Failures = 0
	e.health.LastSuccess = now
}

func (r *Registry) RecordFailure(id string, reason error, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return
	}
	e.health.Failures++
	e.health.LastFailure = now

	attrs := []any{"endpoint", e.desc.ID, "failures", e.health.Failures}
	if reason != nil {
		attrs = append(attrs, "reason", reason.Error())
	}
	if e.health.Failures == r.policy.FailureThreshold {
		r.logger.Warn("circuit opened", append(attrs, "cooldown", r.policy.Cooldown)...)
		return
	}
	r.logger.Debug("endpoint failure recorded", attrs...)
}

// Recover clears the failure state after a successful probe.
func (r *Registry) Recover(id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return errors.Wrap(ErrUnknownEndpoint, id)
	}
	e.health.Failures = 0
	e.health.LastFailure = time.Time{}
	e.health.LastSuccess = now
	r.logger.Info("endpoint recovered", "endpoint", id)
	return nil
}

// Active returns the current active selection, if any.
func (r *Registry) Active() (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[r.activeID]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return errors.Wrap(ErrUnknownEndpoint, id)
	}
	if r.activeID != id {
		r.logger.Info("active endpoint changed", "from", r.activeID, "to", id)
		r.activeID = id
	}
	return nil
}

// SwitchToNext moves the active selection to the best available endpoint
// other than the current one. Returns false when there is none.
func (r *Registry) SwitchToNext(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.desc.ID == r.activeID {
			continue
		}
		if IsAvailable(e.desc, e.health, r.policy, now) {
			r.logger.Info("active endpoint changed", "from", r.activeID, "to", e.desc.ID)
			r.activeID = e.desc.ID
			return true
		}
	}
	r.logger.Warn("no alternative endpoint available", "active", r.activeID)
	return false
}

// BestPriority returns the best (lowest) priority among active endpoints.
func (r *Registry) BestPriority() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.desc.Active {
			return e.desc.Priority, true
		}
	}
	return 0, false
}

// Tripped lists endpoints whose circuit is open because the failure
// threshold was reached.
func (r *Registry) Tripped(now time.Time) []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Descriptor
	for _, e := range r.entries {
		if !e.desc.Active {
			continue
		}
		if r.policy.Tripped(e.health) && CircuitState(e.health, r.policy, now) == StateOpen {
			out = append(out, e.desc)
		}
	}
	return out
}

func (r *Registry) Snapshot(now time.Time) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		ActiveID:  r.activeID,
		Policy:    r.policy,
		Endpoints: make([]EndpointStatus, 0, len(r.entries)),
	}
	for _, e := range r.entries {
		s.Endpoints = append(s.Endpoints, EndpointStatus{
			Descriptor:        e.desc,
			Health:            e.health,
			State:             CircuitState(e.health, r.policy, now),
			Available:         IsAvailable(e.desc, e.health, r.policy, now),
			CooldownRemaining: CooldownRemaining(e.health, r.policy, now),
			IsActive:          e.desc.ID == r.activeID,
		})
	}
	return s
}
