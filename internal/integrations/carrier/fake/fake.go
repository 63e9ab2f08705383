package fake

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/BearBump/TrackRelay/internal/integrations/carrier"
	"github.com/BearBump/TrackRelay/internal/models"
)

// Payload builds a deterministic payload for a barcode. Barcodes starting
// with "XX" are unknown to the fake; about a fifth of the rest are delivered.
func Payload(barcode string) models.TrackingPayload {
	if barcode == "" || strings.HasPrefix(strings.ToUpper(barcode), "XX") {
		return models.TrackingPayload{Success: false, Error: "not found"}
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(barcode))
	delivered := h.Sum32()%5 == 0

	events := []models.TrackingEvent{
		{Status: 1, Date: "1 مارس 2025", Time: "09:15 ص", City: "Cairo", Country: "Egypt", MainStatus: "Registered", IsFinished: true},
		{Status: 2, Date: "2 مارس 2025", Time: "04:40 م", City: "Cairo", Country: "Egypt", MainStatus: "In Transit", IsFinished: delivered, IsCurrent: !delivered},
		{Status: 3, City: "Alexandria", Country: "Egypt", MainStatus: "Delivered"},
	}
	if delivered {
		events[2].Date = "4 مارس 2025"
		events[2].Time = "11:05 ص"
		events[2].IsFinished = true
		events[2].IsCurrent = true
	}
	return models.TrackingPayload{
		Success: true,
		Data:    &models.TrackingData{Barcode: barcode, Events: events},
	}
}

// FakeClient serves Payload in-process.
type FakeClient struct{}

func New() *FakeClient { return &FakeClient{} }

func (f *FakeClient) Fetch(ctx context.Context, barcode string) (carrier.Result, error) {
	if err := ctx.Err(); err != nil {
		return carrier.Result{}, err
	}
	return carrier.Result{Payload: Payload(barcode), Source: "fake", Attempts: 1}, nil
}

// Upstream is an http.Handler that behaves like one postal endpoint:
// GET /track/{barcode} and the probe path. Status forces every response to
// the given code while non-zero.
type Upstream struct {
	status atomic.Int32
	calls  atomic.Int64
	probes atomic.Int64
}

func NewUpstream() *Upstream { return &Upstream{} }

func (u *Upstream) FailWith(status int) { u.status.Store(int32(status)) }

func (u *Upstream) Recover() { u.status.Store(0) }

func (u *Upstream) Calls() int64 { return u.calls.Load() }

func (u *Upstream) Probes() int64 { return u.probes.Load() }

func (u *Upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	forced := int(u.status.Load())

	barcode, ok := strings.CutPrefix(r.URL.Path, "/track/")
	if !ok {
		u.probes.Add(1)
		if forced != 0 {
			w.WriteHeader(forced)
			return
		}
		// The probe path does not exist upstream; a 404 still proves liveness.
		w.WriteHeader(http.StatusNotFound)
		return
	}

	u.calls.Add(1)
	if forced != 0 {
		w.WriteHeader(forced)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Payload(barcode))
}
