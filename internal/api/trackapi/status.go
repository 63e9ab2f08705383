package trackapi

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/go-chi/render"

	"github.com/BearBump/TrackRelay/internal/integrations/upstream/prober"
	"github.com/BearBump/TrackRelay/internal/integrations/upstream/registry"
)

type memoryUsage struct {
	HeapAllocMB float64 `json:"heapAllocMB"`
	HeapSysMB   float64 `json:"heapSysMB"`
	SysMB       float64 `json:"sysMB"`
	NumGC       uint32  `json:"numGC"`
}

func readMemory() memoryUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return memoryUsage{
		HeapAllocMB: toMB(m.HeapAlloc),
		HeapSysMB:   toMB(m.HeapSys),
		SysMB:       toMB(m.Sys),
		NumGC:       m.NumGC,
	}
}

func toMB(b uint64) float64 {
	return float64(b*100/(1<<20)) / 100
}

type uptime struct {
	Seconds int64  `json:"seconds"`
	Human   string `json:"human"`
}

func (a *API) uptime() uptime {
	d := a.now().Sub(a.started)
	if d < 0 {
		d = 0
	}
	return uptime{Seconds: int64(d / time.Second), Human: humanDuration(d)}
}

func humanDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	s := (d - m*time.Minute) / time.Second
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
	}
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// Ping is the keep-alive target.
func (a *API) Ping(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"status":    "alive",
		"timestamp": a.now().UTC().Format(time.RFC3339),
		"uptime":    a.uptime(),
		"memory":    readMemory(),
	})
}

type endpointView struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	URL               string     `json:"url"`
	Priority          int        `json:"priority"`
	IsActive          bool       `json:"isActive"`
	IsAvailable       bool       `json:"isAvailable"`
	State             string     `json:"state"`
	FailureCount      int        `json:"failureCount"`
	LastSuccess       *time.Time `json:"lastSuccess"`
	LastFailure       *time.Time `json:"lastFailure"`
	CooldownRemaining int64      `json:"cooldownRemainingMs"`
}

type currentView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Priority int    `json:"priority"`
}

type statusResponse struct {
	Timestamp  time.Time      `json:"timestamp"`
	CurrentAPI *currentView   `json:"currentAPI"`
	APIs       []endpointView `json:"apis"`
	Probes     *prober.Stats  `json:"probes,omitempty"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func (a *API) snapshot() registry.Snapshot {
	if a.reg == nil {
		return registry.Snapshot{}
	}
	return a.reg.Snapshot(a.now())
}

// Status serves GET /api/status: the active endpoint and every endpoint's health.
func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	snap := a.snapshot()
	out := statusResponse{
		Timestamp: a.now().UTC(),
		APIs:      make([]endpointView, 0, len(snap.Endpoints)),
	}
	for _, ep := range snap.Endpoints {
		d := ep.Descriptor
		out.APIs = append(out.APIs, endpointView{
			ID:                d.ID,
			Name:              d.Name,
			URL:               d.BaseURL,
			Priority:          d.Priority,
			IsActive:          ep.IsActive,
			IsAvailable:       ep.Available,
			State:             ep.State.String(),
			FailureCount:      ep.Health.Failures,
			LastSuccess:       optionalTime(ep.Health.LastSuccess),
			LastFailure:       optionalTime(ep.Health.LastFailure),
			CooldownRemaining: ep.CooldownRemaining.Milliseconds(),
		})
		if ep.IsActive {
			out.CurrentAPI = &currentView{ID: d.ID, Name: d.Name, URL: d.BaseURL, Priority: d.Priority}
		}
	}
	if a.probes != nil {
		st := a.probes.Stats()
		out.Probes = &st
	}
	render.JSON(w, r, out)
}

// TriggerProbe asks the prober for an immediate sweep of tripped endpoints.
func (a *API) TriggerProbe(w http.ResponseWriter, r *http.Request) {
	if a.probes == nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, errorResponse{Error: "prober not wired"})
		return
	}
	a.probes.Trigger()
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]bool{"triggered": true})
}

// ServerStatus serves GET /api/server/status.
func (a *API) ServerStatus(w http.ResponseWriter, r *http.Request) {
	snap := a.snapshot()
	available := 0
	for _, ep := range snap.Endpoints {
		if ep.Available {
			available++
		}
	}

	render.JSON(w, r, map[string]any{
		"status":      "running normally",
		"environment": a.env,
		"uptime":      a.uptime(),
		"memory":      readMemory(),
		"system": map[string]any{
			"goVersion":  runtime.Version(),
			"os":         runtime.GOOS,
			"arch":       runtime.GOARCH,
			"numCPU":     runtime.NumCPU(),
			"goroutines": runtime.NumGoroutine(),
			"pid":        os.Getpid(),
		},
		"endpoints": []string{
			"/api/track/{barcode}",
			"/api/health",
			"/api/health/ping",
			"/api/status",
			"/api/status/probe",
			"/api/server/status",
			"/api/recent",
		},
		"apis": map[string]any{
			"total":     len(snap.Endpoints),
			"available": available,
			"current":   snap.ActiveID,
		},
		"lastUpdate": a.now().UTC().Format(time.RFC3339),
	})
}
