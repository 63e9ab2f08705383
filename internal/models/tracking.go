package models

import "time"

// Lookup outcomes recorded in the history.
const (
	LookupOutcomeFound       = "FOUND"
	LookupOutcomeNotFound    = "NOT_FOUND"
	LookupOutcomeUnavailable = "UNAVAILABLE"
)

// TrackingEvent is one raw status record as the upstream postal service sends it.
type TrackingEvent struct {
	Status      int    `json:"status"`
	Date        string `json:"date,omitempty"`
	Time        string `json:"time,omitempty"`
	Country     string `json:"country,omitempty"`
	City        string `json:"city,omitempty"`
	Place       string `json:"place,omitempty"`
	MainStatus  string `json:"mainStatus,omitempty"`
	SubStatus   string `json:"subStatus,omitempty"`
	Description string `json:"description,omitempty"`
	IsFinished  bool   `json:"isFinished"`
	IsCurrent   bool   `json:"isCurrent"`
}

// Location joins the non-empty location parts, most specific first.
func (e TrackingEvent) Location() string {
	out := ""
	for _, p := range []string{e.Place, e.City, e.Country} {
		if p == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += p
	}
	return out
}

type TrackingData struct {
	Barcode string          `json:"barcode"`
	Events  []TrackingEvent `json:"events"`
}

// TrackingPayload is the envelope shared by the upstream endpoints and /api/track.
type TrackingPayload struct {
	Success bool          `json:"success"`
	Data    *TrackingData `json:"data,omitempty"`
	Error   string        `json:"error,omitempty"`
	Message string        `json:"message,omitempty"`
}

// HasEvents reports whether the payload carries real tracking data.
func (p TrackingPayload) HasEvents() bool {
	return p.Success && p.Data != nil && len(p.Data.Events) > 0
}

type Lookup struct {
	ID           string
	Barcode      string
	LookedUpAt   time.Time
	EndpointID   string
	Outcome      string
	LatestStatus string
	EventCount   int
	Cached       bool
	Error        *string
}

// RecentBarcode is one entry of the recent searches list.
type RecentBarcode struct {
	Barcode        string    `json:"barcode"`
	LastLookedUpAt time.Time `json:"lastLookedUpAt"`
	Lookups        int64     `json:"lookups"`
}
