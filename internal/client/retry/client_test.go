package retry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func newTestClient(url string) (*Client, *sleepRecorder) {
	rec := &sleepRecorder{}
	c := New(url, nil, nil)
	c.sleep = rec.sleep
	return c, rec
}

const scenarioB = `{"success":true,"data":{"barcode":"ENO30000000EG","events":[
	{"status":1,"isFinished":true,"mainStatus":"Registered"},
	{"status":2,"isCurrent":true,"mainStatus":"In Transit"},
	{"status":3,"mainStatus":"Delivered"}
]}}`

func TestTrackWithRetry_ScenarioB(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/track/ENO30000000EG", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(scenarioB))
	}))
	defer srv.Close()

	c, rec := newTestClient(srv.URL)
	tl, err := c.TrackWithRetry(context.Background(), "ENO30000000EG")
	require.NoError(t, err)
	require.Len(t, tl.Steps, 2)
	require.NotNil(t, tl.Latest)
	require.Equal(t, "In Transit", tl.Latest.MainStatus)
	require.Empty(t, rec.delays)
}

func TestTrackWithRetry_ChallengeThenData(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			_, _ = w.Write([]byte(`<!DOCTYPE html><html><script src="/cdn-cgi/challenge-platform/x.js"></script></html>`))
			return
		}
		_, _ = w.Write([]byte(scenarioB))
	}))
	defer srv.Close()

	c, rec := newTestClient(srv.URL)
	tl, err := c.TrackWithRetry(context.Background(), "ENO30000000EG")
	require.NoError(t, err)
	require.Len(t, tl.Steps, 2)
	require.EqualValues(t, 3, calls.Load())
	require.Equal(t, []time.Duration{3 * time.Second, 8 * time.Second}, rec.delays)
}

func TestTrackWithRetry_ExhaustsAfterFourAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"unexpected":true}`))
	}))
	defer srv.Close()

	c, rec := newTestClient(srv.URL)
	_, err := c.TrackWithRetry(context.Background(), "ENO30000000EG")

	var exhausted *RetriesExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Equal(t, ReasonMalformed, exhausted.Reason())
	require.ErrorIs(t, err, ErrUpstreamMalformed)
	require.EqualValues(t, 4, calls.Load())
	require.Equal(t, []time.Duration{3 * time.Second, 8 * time.Second, 15 * time.Second}, rec.delays)
	require.Contains(t, UserMessage(err), "try again later")
}

func TestTrackWithRetry_NoDataConfirmedOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"error":"Shipment not found"}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL)
	_, err := c.TrackWithRetry(context.Background(), "XX100")

	var noData *NoDataError
	require.True(t, errors.As(err, &noData))
	require.Equal(t, "Shipment not found", noData.Reason)
	require.EqualValues(t, 2, calls.Load())
	require.Contains(t, UserMessage(err), "check your tracking number")
}

func TestTrackWithRetry_Timeout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL)
	c.WithSettings(DefaultPolicy(), 20*time.Millisecond, nil)

	_, err := c.TrackWithRetry(context.Background(), "ENO30000000EG")
	var exhausted *RetriesExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Equal(t, ReasonTimeout, exhausted.Reason())
	require.EqualValues(t, 4, calls.Load())
}

func TestTrackWithRetry_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, rec := newTestClient(url)
	_, err := c.TrackWithRetry(context.Background(), "ENO30000000EG")
	var exhausted *RetriesExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Equal(t, ReasonNetwork, exhausted.Reason())
	require.Len(t, rec.delays, 3)
}

func TestTrackWithRetry_EmptyBarcode(t *testing.T) {
	c, _ := newTestClient("http://127.0.0.1:1")
	_, err := c.TrackWithRetry(context.Background(), "  ")
	require.ErrorIs(t, err, ErrRejected)
}

func TestTrackWithRetry_CancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := New(srv.URL, nil, nil)
	c.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.TrackWithRetry(ctx, "ENO30000000EG")
	require.ErrorIs(t, err, context.Canceled)
}
