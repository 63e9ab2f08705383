package retry

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/BearBump/TrackRelay/internal/models"
)

type Class int

const (
	ClassOK Class = iota
	ClassChallenge
	ClassMalformed
	ClassUnavailable
	ClassNoData
	ClassRejected
	ClassTimeout
	ClassNetwork
)

func (c Class) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassChallenge:
		return "challenge"
	case ClassMalformed:
		return "malformed"
	case ClassUnavailable:
		return "unavailable"
	case ClassNoData:
		return "no_data"
	case ClassRejected:
		return "rejected"
	case ClassTimeout:
		return "timeout"
	case ClassNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Soft classes are retried with backoff.
func (c Class) Soft() bool {
	switch c {
	case ClassChallenge, ClassMalformed, ClassUnavailable, ClassTimeout, ClassNetwork:
		return true
	default:
		return false
	}
}

// Classification is the verdict on one boundary response.
type Classification struct {
	Class   Class
	Payload *models.TrackingPayload
	// Reason is the upstream's own error text for ClassNoData.
	Reason string
	Err    error
}

// Classify inspects a raw /api/track response before trusting it.
// Anything that is not JSON is an interstitial page, whatever its wording.
// Valid JSON is never a challenge, even when event text mentions one.
func Classify(status int, body []byte) Classification {
	text := bytes.TrimSpace(body)
	if !json.Valid(text) {
		return Classification{Class: ClassChallenge, Err: ErrUpstreamChallenge}
	}

	if status == http.StatusBadRequest {
		return Classification{Class: ClassRejected, Reason: errorText(text), Err: ErrRejected}
	}
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return Classification{Class: ClassUnavailable, Reason: errorText(text), Err: ErrUpstreamUnavailable}
	}

	var shape map[string]json.RawMessage
	if err := json.Unmarshal(text, &shape); err != nil {
		return Classification{Class: ClassMalformed, Err: ErrUpstreamMalformed}
	}
	if _, ok := shape["success"]; !ok {
		return Classification{Class: ClassMalformed, Err: ErrUpstreamMalformed}
	}

	var p models.TrackingPayload
	if err := json.Unmarshal(text, &p); err != nil {
		return Classification{Class: ClassMalformed, Err: ErrUpstreamMalformed}
	}
	if !p.HasEvents() {
		reason := p.Error
		if reason == "" {
			reason = p.Message
		}
		return Classification{Class: ClassNoData, Payload: &p, Reason: reason}
	}
	return Classification{Class: ClassOK, Payload: &p}
}

func errorText(text []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(text, &e); err != nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
