// Package retry is the client side of /api/track: it classifies every
// response before trusting it and retries soft failures with backoff.
package retry

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/TrackRelay/internal/timeline"
)

const (
	DefaultAttemptTimeout = 30 * time.Second
	maxBodyBytes          = 4 << 20
)

type Client struct {
	baseURL        string
	httpc          *http.Client
	logger         *slog.Logger
	policy         Policy
	attemptTimeout time.Duration
	loc            *time.Location
	sleep          func(ctx context.Context, d time.Duration) error
}

// New builds a client for the TrackRelay server at baseURL.
func New(baseURL string, httpc *http.Client, logger *slog.Logger) *Client {
	if httpc == nil {
		httpc = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpc:          httpc,
		logger:         logger,
		policy:         DefaultPolicy(),
		attemptTimeout: DefaultAttemptTimeout,
		sleep:          sleepCtx,
	}
}

func (c *Client) WithSettings(policy Policy, attemptTimeout time.Duration, loc *time.Location) *Client {
	if policy.MaxAttempts > 0 {
		c.policy = policy
	}
	if attemptTimeout > 0 {
		c.attemptTimeout = attemptTimeout
	}
	c.loc = loc
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// TrackWithRetry looks the barcode up and normalizes the events.
func (c *Client) TrackWithRetry(ctx context.Context, barcode string) (timeline.Timeline, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return timeline.Timeline{}, ErrRejected
	}

	st := Start(barcode)
	for {
		verdict := c.attempt(ctx, barcode)
		if err := ctx.Err(); err != nil {
			return timeline.Timeline{}, errors.Wrap(err, "track with retry")
		}

		st = c.policy.Next(st, verdict)
		switch st.Phase {
		case PhaseDone:
			return timeline.Normalize(st.Payload.Data.Events, c.loc), nil
		case PhaseTerminal:
			c.logger.Warn("tracking lookup failed", "barcode", barcode, "attempt", st.Attempt, "class", st.Last.String(), "err", st.Err)
			return timeline.Timeline{}, st.Err
		case PhaseSoftFailure:
			c.logger.Info("retrying tracking lookup",
				"barcode", barcode, "next_attempt", st.Attempt, "class", st.Last.String(), "delay", st.Delay)
			if err := c.sleep(ctx, st.Delay); err != nil {
				return timeline.Timeline{}, errors.Wrap(err, "track with retry")
			}
			st = st.Resume()
		default:
			return timeline.Timeline{}, errors.Errorf("unexpected retry phase %s", st.Phase)
		}
	}
}

func (c *Client) attempt(ctx context.Context, barcode string) Classification {
	actx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	u := c.baseURL + "/api/track/" + url.PathEscape(barcode)
	req, err := http.NewRequestWithContext(actx, http.MethodGet, u, nil)
	if err != nil {
		return Classification{Class: ClassNetwork, Err: errors.Wrap(err, "new request")}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return transportFailure(actx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return transportFailure(actx, errors.Wrap(err, "read body"))
	}
	return Classify(resp.StatusCode, body)
}

func transportFailure(ctx context.Context, err error) Classification {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return Classification{Class: ClassTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Classification{Class: ClassTimeout, Err: err}
	}
	return Classification{Class: ClassNetwork, Err: err}
}
