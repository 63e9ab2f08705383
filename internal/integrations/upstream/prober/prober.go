// Package prober periodically checks endpoints whose circuit is open and
// brings them back once they answer again.
package prober

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/TrackRelay/internal/integrations/upstream"
	"github.com/BearBump/TrackRelay/internal/integrations/upstream/registry"
)

const (
	DefaultInterval = 2 * time.Minute
	DefaultTimeout  = 10 * time.Second
	DefaultPath     = "/health-check-dummy"
)

type Prober struct {
	reg    *registry.Registry
	httpc  *http.Client
	logger *slog.Logger
	now    func() time.Time

	interval    time.Duration
	timeout     time.Duration
	path        string
	concurrency int

	triggerCh chan struct{}

	lastSweepUnixNano atomic.Int64
	totalProbes       atomic.Int64
	totalRecovered    atomic.Int64
	totalFailed       atomic.Int64
}

func New(reg *registry.Registry, httpc *http.Client, logger *slog.Logger) *Prober {
	if httpc == nil {
		httpc = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		reg:         reg,
		httpc:       httpc,
		logger:      logger,
		now:         time.Now,
		interval:    DefaultInterval,
		timeout:     DefaultTimeout,
		path:        DefaultPath,
		concurrency: 4,
		triggerCh:   make(chan struct{}, 1),
	}
}

func (p *Prober) WithSettings(interval, timeout time.Duration, path string) *Prober {
	if interval > 0 {
		p.interval = interval
	}
	if timeout > 0 {
		p.timeout = timeout
	}
	if path != "" {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		p.path = path
	}
	return p
}

// Trigger requests an immediate sweep without waiting for the next tick.
func (p *Prober) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	LastSweepAt    *time.Time `json:"lastSweepAt,omitempty"`
	TotalProbes    int64      `json:"totalProbes"`
	TotalRecovered int64      `json:"totalRecovered"`
	TotalFailed    int64      `json:"totalFailed"`
}

func (p *Prober) Stats() Stats {
	st := Stats{
		TotalProbes:    p.totalProbes.Load(),
		TotalRecovered: p.totalRecovered.Load(),
		TotalFailed:    p.totalFailed.Load(),
	}
	if n := p.lastSweepUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastSweepAt = &t
	}
	return st
}

func (p *Prober) Run(ctx context.Context) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	p.logger.Info("health prober started", "interval", p.interval, "path", p.path)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("health prober stopped")
			return ctx.Err()
		case <-t.C:
			p.ProbeOnce(ctx)
		case <-p.triggerCh:
			p.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce checks every endpoint that is out of rotation because it hit the
// failure threshold. It returns the ids that recovered.
func (p *Prober) ProbeOnce(ctx context.Context) []string {
	p.lastSweepUnixNano.Store(p.now().UTC().UnixNano())

	tripped := p.reg.Tripped(p.now())
	if len(tripped) == 0 {
		return nil
	}

	var (
		mu        sync.Mutex
		recovered []string
		wg        sync.WaitGroup
	)
	sem := make(chan struct{}, p.concurrency)
	for _, ep := range tripped {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			if p.probe(ctx, ep) {
				mu.Lock()
				recovered = append(recovered, ep.ID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return recovered
}

func (p *Prober) probe(ctx context.Context, ep registry.Descriptor) bool {
	p.totalProbes.Add(1)

	status, err := p.check(ctx, ep)
	if err != nil {
		p.totalFailed.Add(1)
		p.logger.Warn("health probe failed", "endpoint", ep.ID, "err", err)
		return false
	}
	if status >= http.StatusInternalServerError {
		p.totalFailed.Add(1)
		p.logger.Warn("health probe unhealthy", "endpoint", ep.ID, "status", status)
		return false
	}

	if err := p.reg.Recover(ep.ID, p.now()); err != nil {
		p.logger.Error("recover endpoint", "endpoint", ep.ID, "err", err)
		return false
	}
	p.totalRecovered.Add(1)
	p.logger.Info("endpoint is back up", "endpoint", ep.ID, "status", status)

	best, ok := p.reg.BestPriority()
	active, hasActive := p.reg.Active()
	if ok && ep.Priority == best && (!hasActive || active.ID != ep.ID) {
		_ = p.reg.SetActive(ep.ID)
	}
	return true
}

// check only needs a response; the body is ignored.
func (p *Prober) check(ctx context.Context, ep registry.Descriptor) (int, error) {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	url := strings.TrimRight(ep.BaseURL, "/") + p.path
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.Wrap(err, "new request")
	}
	upstream.SetBrowserHeaders(req)

	resp, err := p.httpc.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "do request")
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
