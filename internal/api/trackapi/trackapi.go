// Package trackapi is the JSON HTTP boundary of TrackRelay.
package trackapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/pkg/errors"

	"github.com/BearBump/TrackRelay/internal/integrations/upstream/failover"
	"github.com/BearBump/TrackRelay/internal/integrations/upstream/prober"
	"github.com/BearBump/TrackRelay/internal/integrations/upstream/registry"
	"github.com/BearBump/TrackRelay/internal/models"
	"github.com/BearBump/TrackRelay/internal/services/tracking"
)

type TrackingService interface {
	Track(ctx context.Context, barcode string) (tracking.Lookup, error)
	RecentBarcodes(ctx context.Context, limit int) ([]models.RecentBarcode, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Prober interface {
	Stats() prober.Stats
	Trigger()
}

type API struct {
	svc    TrackingService
	reg    *registry.Registry
	probes Prober

	limiter   RateLimiter
	perWindow int64
	window    time.Duration

	env     string
	started time.Time
	logger  *slog.Logger
	now     func() time.Time
}

func New(svc TrackingService, reg *registry.Registry, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		svc:     svc,
		reg:     reg,
		env:     "dev",
		started: time.Now(),
		logger:  logger,
		now:     time.Now,
	}
}

func (a *API) WithProber(p Prober) *API {
	a.probes = p
	return a
}

// WithRateLimit caps /api/track at perMinute requests per client address.
// A nil limiter or non-positive perMinute disables the check.
func (a *API) WithRateLimit(rl RateLimiter, perMinute int64) *API {
	a.limiter = rl
	a.perWindow = perMinute
	a.window = time.Minute
	return a
}

func (a *API) WithEnvironment(env string) *API {
	if env != "" {
		a.env = env
	}
	return a
}

// Router returns a chi router with every /api route mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)
	a.RegisterRoutes(r)
	return r
}

func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/track/{barcode}", a.Track)
		r.Get("/track/", a.missingBarcode)
		r.Get("/health", a.Health)
		r.Get("/health/ping", a.Ping)
		r.Get("/status", a.Status)
		r.Post("/status/probe", a.TriggerProbe)
		r.Get("/server/status", a.ServerStatus)
		r.Get("/recent", a.Recent)
	})
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}

func (a *API) missingBarcode(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, errorResponse{Error: "Barcode is required"})
}

// Track serves GET /api/track/{barcode}.
func (a *API) Track(w http.ResponseWriter, r *http.Request) {
	barcode := strings.TrimSpace(chi.URLParam(r, "barcode"))
	if barcode == "" {
		a.missingBarcode(w, r)
		return
	}

	if !a.allow(w, r) {
		return
	}

	l, err := a.svc.Track(r.Context(), barcode)
	switch {
	case errors.Is(err, tracking.ErrBarcodeRequired):
		a.missingBarcode(w, r)
		return
	case err != nil:
		a.logger.Error("track failed", "barcode", barcode, "err", err)
		resp := errorResponse{
			Error:   "Failed to fetch tracking data",
			Message: err.Error(),
		}
		if errors.Is(err, failover.ErrAllSourcesUnavailable) {
			resp.Error = "Failed to fetch tracking data from all available sources"
			resp.Details = "All tracking APIs are currently experiencing issues. Please try again later."
		}
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, resp)
		return
	}

	w.Header().Set("X-Tracking-Source", l.Source)
	if !l.Found() {
		p := l.Payload
		p.Success = false
		if p.Error == "" {
			p.Error = "No data found"
		}
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, p)
		return
	}
	render.JSON(w, r, l.Payload)
}

// allow writes a 429 and returns false when the client is over its budget.
// Limiter errors let the request through.
func (a *API) allow(w http.ResponseWriter, r *http.Request) bool {
	if a.limiter == nil || a.perWindow <= 0 {
		return true
	}
	key := "ratelimit:track:" + clientIP(r)
	ok, n, err := a.limiter.Allow(r.Context(), key, a.perWindow, a.window)
	if err != nil {
		a.logger.Warn("rate limiter unavailable", "err", err)
		return true
	}
	if ok {
		return true
	}
	a.logger.Info("rate limited", "client", clientIP(r), "count", n)
	w.Header().Set("Retry-After", strconv.Itoa(int(a.window.Seconds())))
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, errorResponse{
		Error:   "Too many requests",
		Message: "Rate limit exceeded, try again in a minute",
	})
	return false
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"status":    "OK",
		"timestamp": a.now().UTC().Format(time.RFC3339),
	})
}

// Recent serves GET /api/recent?limit=N.
func (a *API) Recent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{Error: "limit must be a number"})
			return
		}
		limit = n
	}

	out, err := a.svc.RecentBarcodes(r.Context(), limit)
	if err != nil {
		a.logger.Error("recent barcodes", "err", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{Error: "Failed to load recent lookups", Message: err.Error()})
		return
	}
	if out == nil {
		out = []models.RecentBarcode{}
	}
	render.JSON(w, r, map[string]any{"items": out})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
