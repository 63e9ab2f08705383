package messages

import (
	"time"

	"github.com/google/uuid"
)

// TrackingLookedUp is published once per /api/track request that reached
// the upstream or the cache.
type TrackingLookedUp struct {
	LookupID   uuid.UUID `json:"lookup_id"`
	Barcode    string    `json:"barcode"`
	LookedUpAt time.Time `json:"looked_up_at"`

	EndpointID   string `json:"endpoint_id,omitempty"`
	Outcome      string `json:"outcome"`
	LatestStatus string `json:"latest_status,omitempty"`
	EventCount   int    `json:"event_count"`
	Cached       bool   `json:"cached,omitempty"`

	Error *string `json:"error,omitempty"`
}
