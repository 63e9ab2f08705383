// Package keepalive pings the server's own /api/health/ping on a cron
// schedule so free-tier hosts do not put it to sleep.
package keepalive

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule = "@every 10m"
	DefaultTimeout  = 10 * time.Second
)

type Pinger struct {
	url      string
	schedule string
	timeout  time.Duration
	httpc    *http.Client
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID

	ok     atomic.Int64
	failed atomic.Int64
}

func New(url, schedule string, httpc *http.Client, logger *slog.Logger) *Pinger {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if httpc == nil {
		httpc = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pinger{
		url:      url,
		schedule: schedule,
		timeout:  DefaultTimeout,
		httpc:    httpc,
		logger:   logger,
	}
}

// Start schedules the ping and returns; Stop or ctx cancellation ends it.
func (p *Pinger) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return errors.New("keepalive already started")
	}

	c := cron.New()
	id, err := c.AddFunc(p.schedule, func() {
		_ = p.Ping(ctx)
	})
	if err != nil {
		return errors.Wrapf(err, "keepalive schedule %q", p.schedule)
	}
	c.Start()
	p.cron = c
	p.entryID = id
	p.logger.Info("keep-alive scheduled", "url", p.url, "schedule", p.schedule)

	go func() {
		<-ctx.Done()
		p.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running ping to finish.
func (p *Pinger) Stop() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	p.logger.Info("keep-alive stopped")
}

// Next is the time of the next scheduled ping, zero when not running.
func (p *Pinger) Next() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron == nil {
		return time.Time{}
	}
	return p.cron.Entry(p.entryID).Next
}

// Ping performs one self-ping. Failures are logged and counted, never fatal.
func (p *Pinger) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.ping(ctx)
	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("keep-alive ping failed", "url", p.url, "err", err)
		return err
	}
	p.ok.Add(1)
	p.logger.Debug("keep-alive ping ok", "url", p.url)
	return nil
}

func (p *Pinger) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Counts returns successful and failed pings so far.
func (p *Pinger) Counts() (ok, failed int64) {
	return p.ok.Load(), p.failed.Load()
}
