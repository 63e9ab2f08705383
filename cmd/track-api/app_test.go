package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/TrackRelay/config"
	"github.com/BearBump/TrackRelay/internal/api/trackapi"
	"github.com/BearBump/TrackRelay/internal/broker/messages"
	"github.com/BearBump/TrackRelay/internal/integrations/carrier/fake"
	"github.com/BearBump/TrackRelay/internal/integrations/upstream/failover"
	"github.com/BearBump/TrackRelay/internal/integrations/upstream/prober"
	"github.com/BearBump/TrackRelay/internal/models"
	"github.com/BearBump/TrackRelay/internal/services/tracking"
)

type memHistory struct {
	mu      sync.Mutex
	lookups []models.Lookup
}

func (h *memHistory) SaveLookup(ctx context.Context, l models.Lookup) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lookups = append(h.lookups, l)
	return nil
}

func (h *memHistory) RecentBarcodes(ctx context.Context, limit int) ([]models.RecentBarcode, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := []models.RecentBarcode{}
	for i := len(h.lookups) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, models.RecentBarcode{Barcode: h.lookups[i].Barcode, LastLookedUpAt: h.lookups[i].LookedUpAt, Lookups: 1})
	}
	return out, nil
}

func (h *memHistory) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.lookups)
}

// chanConsumer feeds queued messages to the handler until ctx ends.
type chanConsumer struct {
	values chan messages.TrackingLookedUp
}

func (c chanConsumer) ConsumeLookups(ctx context.Context, handler func(ctx context.Context, m messages.TrackingLookedUp) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-c.values:
			if err := handler(ctx, m); err != nil {
				return err
			}
		}
	}
}

type startRecorder struct {
	mu      sync.Mutex
	started bool
}

func (s *startRecorder) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *startRecorder) wasStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func newTestDeps(t *testing.T, upstreamURL string, h *memHistory) trackAPIDeps {
	t.Helper()
	cfg := config.Default()
	cfg.Upstream.Endpoints = []config.EndpointConfig{{ID: "primary", Name: "Primary", URL: upstreamURL, Priority: 1}}
	reg, err := newRegistry(cfg, nil)
	require.NoError(t, err)

	svc := tracking.New(failover.New(reg, nil, nil), nil, 0).WithHistory(nil, "", h)
	pr := prober.New(reg, nil, nil)
	return trackAPIDeps{
		api:    trackapi.New(svc, reg, nil).WithProber(pr),
		svc:    svc,
		prober: pr,
	}
}

func startApp(t *testing.T, ctx context.Context, opts trackAPIOpts, deps trackAPIDeps) (string, chan error) {
	t.Helper()
	addrCh := make(chan string, 1)
	opts.httpAddr = "127.0.0.1:0"
	opts.onListen = func(httpAddr string) { addrCh <- httpAddr }

	errCh := make(chan error, 1)
	go func() { errCh <- runTrackAPI(ctx, opts, deps) }()

	select {
	case addr := <-addrCh:
		return "http://" + addr, errCh
	case err := <-errCh:
		t.Fatalf("track-api exited early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for listener")
	}
	return "", nil
}

func TestRunTrackAPI_ServesTrackingAndSwagger(t *testing.T) {
	up := httptest.NewServer(fake.NewUpstream())
	defer up.Close()

	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	h := &memHistory{}
	deps := newTestDeps(t, up.URL, h)
	ka := &startRecorder{}
	deps.keepAlive = ka

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	base, errCh := startApp(t, ctx, trackAPIOpts{swaggerPath: sw}, deps)

	resp, err := http.Get(base + "/api/track/ENO30000000EG")
	require.NoError(t, err)
	var payload models.TrackingPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, payload.HasEvents())
	require.Equal(t, 1, h.len())

	resp, err = http.Get(base + "/swagger.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"swagger"`)

	resp, err = http.Get(base + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, ka.wasStarted())

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(6 * time.Second):
		t.Fatal("timeout waiting for track-api to stop")
	}
}

func TestRunTrackAPI_MissingSwaggerFile(t *testing.T) {
	deps := newTestDeps(t, "http://127.0.0.1:1", &memHistory{})
	err := runTrackAPI(context.Background(), trackAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: filepath.Join(t.TempDir(), "missing.json"),
	}, deps)
	require.Error(t, err)
}

func TestRunTrackAPI_ConsumerStoresLookups(t *testing.T) {
	h := &memHistory{}
	deps := newTestDeps(t, "http://127.0.0.1:1", h)
	values := make(chan messages.TrackingLookedUp, 1)
	deps.consumer = chanConsumer{values: values}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	base, errCh := startApp(t, ctx, trackAPIOpts{topic: "tracking.looked_up", consumerGroup: "g"}, deps)

	values <- messages.TrackingLookedUp{
		LookupID:   uuid.New(),
		Barcode:    "ENO1",
		LookedUpAt: time.Now().UTC(),
		Outcome:    models.LookupOutcomeFound,
	}

	require.Eventually(t, func() bool { return h.len() == 1 }, 2*time.Second, 20*time.Millisecond)

	resp, err := http.Get(base + "/api/recent")
	require.NoError(t, err)
	var out struct {
		Items []models.RecentBarcode `json:"items"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.Len(t, out.Items, 1)
	require.Equal(t, "ENO1", out.Items[0].Barcode)

	cancel()
	<-errCh
}

func TestRunTrackAPI_ConsumerSkipsInvalidLookups(t *testing.T) {
	h := &memHistory{}
	deps := newTestDeps(t, "http://127.0.0.1:1", h)
	values := make(chan messages.TrackingLookedUp, 3)
	deps.consumer = chanConsumer{values: values}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, errCh := startApp(t, ctx, trackAPIOpts{topic: "tracking.looked_up"}, deps)

	values <- messages.TrackingLookedUp{Barcode: "ENO1"}
	values <- messages.TrackingLookedUp{LookupID: uuid.New()}
	values <- messages.TrackingLookedUp{
		LookupID: uuid.New(),
		Barcode:  "ENO2",
		Outcome:  models.LookupOutcomeFound,
	}

	require.Eventually(t, func() bool { return h.len() == 1 }, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestKeepAliveURL(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, "http://localhost:8080/api/health/ping", keepAliveURL(cfg))

	cfg.Server.HTTPAddr = "10.0.0.5:3001"
	require.Equal(t, "http://10.0.0.5:3001/api/health/ping", keepAliveURL(cfg))

	cfg.KeepAlive.URL = "https://relay.example.com/api/health/ping"
	require.Equal(t, "https://relay.example.com/api/health/ping", keepAliveURL(cfg))
}

func TestNewRegistry_FromConfig(t *testing.T) {
	cfg := config.Default()
	off := false
	cfg.Upstream.Endpoints = []config.EndpointConfig{
		{ID: "b", URL: "https://b.example.com", Priority: 2},
		{ID: "a", URL: "https://a.example.com", Priority: 1, Active: &off},
	}
	reg, err := newRegistry(cfg, nil)
	require.NoError(t, err)

	active, ok := reg.Active()
	require.True(t, ok)
	require.Equal(t, "b", active.ID)
	require.Equal(t, 3, reg.Policy().FailureThreshold)
}
