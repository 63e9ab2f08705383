// Package failover sends tracking requests to the configured upstream
// endpoints, moving to the next one when an endpoint misbehaves.
package failover

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/TrackRelay/internal/integrations/carrier"
	"github.com/BearBump/TrackRelay/internal/integrations/upstream"
	"github.com/BearBump/TrackRelay/internal/integrations/upstream/registry"
	"github.com/BearBump/TrackRelay/internal/models"
)

const maxBodyBytes = 4 << 20

type Dispatcher struct {
	reg    *registry.Registry
	httpc  *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// New builds a dispatcher. httpc may be nil; attempts are bounded by the
// registry policy's request timeout, not by the client.
func New(reg *registry.Registry, httpc *http.Client, logger *slog.Logger) *Dispatcher {
	if httpc == nil {
		httpc = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		reg:    reg,
		httpc:  httpc,
		logger: logger,
		now:    time.Now,
	}
}

func (d *Dispatcher) Registry() *registry.Registry {
	return d.reg
}

// FetchTracking returns the first decodable payload any endpoint gives.
func (d *Dispatcher) FetchTracking(ctx context.Context, barcode string) (models.TrackingPayload, error) {
	res, err := d.Fetch(ctx, barcode)
	if err != nil {
		return models.TrackingPayload{}, err
	}
	return res.Payload, nil
}

// Fetch is FetchTracking plus the id of the endpoint that answered.
func (d *Dispatcher) Fetch(ctx context.Context, barcode string) (carrier.Result, error) {
	candidates := d.candidates(d.now())
	if len(candidates) == 0 {
		d.logger.Warn("no upstream endpoint available", "barcode", barcode)
		return carrier.Result{}, &UnavailableError{}
	}

	var (
		lastErr  error
		attempts int
	)
	for _, ep := range candidates {
		if !d.reg.Available(ep.ID, d.now()) {
			continue
		}
		attempts++

		payload, err := d.attempt(ctx, ep, barcode)
		if err != nil {
			if ctx.Err() != nil {
				// The caller gave up; that says nothing about the endpoint.
				return carrier.Result{}, errors.Wrap(ctx.Err(), "fetch tracking")
			}
			lastErr = err
			d.logger.Warn("upstream attempt failed", "endpoint", ep.ID, "barcode", barcode, "err", err)
			d.reg.RecordFailure(ep.ID, err, d.now())
			if active, ok := d.reg.Active(); ok && active.ID == ep.ID {
				d.reg.SwitchToNext(d.now())
			}
			continue
		}

		d.reg.RecordSuccess(ep.ID, d.now())
		if active, ok := d.reg.Active(); !ok || ep.Priority < active.Priority {
			_ = d.reg.SetActive(ep.ID)
		}
		d.logger.Debug("upstream attempt succeeded", "endpoint", ep.ID, "barcode", barcode, "attempts", attempts)
		return carrier.Result{Payload: payload, Source: ep.ID, Attempts: attempts}, nil
	}

	return carrier.Result{}, &UnavailableError{Attempts: attempts, Last: lastErr}
}

// candidates puts the active endpoint first, then the rest by priority.
func (d *Dispatcher) candidates(now time.Time) []registry.Descriptor {
	available := d.reg.ListAvailable(now)
	active, ok := d.reg.Active()
	if !ok {
		return available
	}

	out := make([]registry.Descriptor, 0, len(available))
	for _, ep := range available {
		if ep.ID == active.ID {
			out = append(out, ep)
		}
	}
	for _, ep := range available {
		if ep.ID != active.ID {
			out = append(out, ep)
		}
	}
	return out
}

func trackURL(base, barcode string) string {
	return strings.TrimRight(base, "/") + "/track/" + url.PathEscape(barcode)
}

func (d *Dispatcher) attempt(ctx context.Context, ep registry.Descriptor, barcode string) (models.TrackingPayload, error) {
	actx, cancel := context.WithTimeout(ctx, d.reg.Policy().RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, trackURL(ep.BaseURL, barcode), nil)
	if err != nil {
		return models.TrackingPayload{}, &EndpointError{EndpointID: ep.ID, Kind: KindNetwork, Err: errors.Wrap(err, "new request")}
	}
	upstream.SetBrowserHeaders(req)

	resp, err := d.httpc.Do(req)
	if err != nil {
		return models.TrackingPayload{}, &EndpointError{EndpointID: ep.ID, Kind: transportKind(actx, err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return models.TrackingPayload{}, &EndpointError{EndpointID: ep.ID, Kind: KindHTTP, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.TrackingPayload{}, &EndpointError{EndpointID: ep.ID, Kind: transportKind(actx, err), Err: errors.Wrap(err, "read body")}
	}

	var p models.TrackingPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return models.TrackingPayload{}, &EndpointError{EndpointID: ep.ID, Kind: KindBadBody, StatusCode: resp.StatusCode, Err: errors.Wrap(err, "decode")}
	}
	return p, nil
}

func transportKind(ctx context.Context, err error) Kind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}
