package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/BearBump/TrackRelay/internal/broker/messages"
	"github.com/BearBump/TrackRelay/internal/cache"
	"github.com/BearBump/TrackRelay/internal/integrations/carrier"
	"github.com/BearBump/TrackRelay/internal/models"
	"github.com/BearBump/TrackRelay/internal/timeline"
)

var ErrBarcodeRequired = errors.New("barcode is required")

// ErrInvalidLookup marks broker messages that can never be stored.
var ErrInvalidLookup = errors.New("invalid lookup message")

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type HistoryStore interface {
	SaveLookup(ctx context.Context, l models.Lookup) error
	RecentBarcodes(ctx context.Context, limit int) ([]models.RecentBarcode, error)
}

// Lookup is the outcome of Track.
type Lookup struct {
	Payload models.TrackingPayload
	Source  string
	Cached  bool
}

// Found reports whether the upstream returned events.
func (l Lookup) Found() bool {
	return l.Payload.HasEvents()
}

type Service struct {
	upstream carrier.Client
	cache    cache.BytesCache
	cacheTTL time.Duration

	publisher Publisher
	topic     string
	history   HistoryStore

	logger *slog.Logger
	now    func() time.Time
}

func New(upstream carrier.Client, c cache.BytesCache, cacheTTL time.Duration) *Service {
	return &Service{
		upstream: upstream,
		cache:    c,
		cacheTTL: cacheTTL,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithHistory enables lookup history. With a publisher set, lookups go
// through the broker and store takes writes only when publishing fails.
func (s *Service) WithHistory(pub Publisher, topic string, store HistoryStore) *Service {
	s.publisher = pub
	s.topic = topic
	s.history = store
	return s
}

func (s *Service) WithLogger(l *slog.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

// Track returns the upstream payload for barcode. A payload without events
// is not an error; the caller decides how to present it.
func (s *Service) Track(ctx context.Context, barcode string) (Lookup, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return Lookup{}, ErrBarcodeRequired
	}

	if p, ok := s.cached(ctx, barcode); ok {
		l := Lookup{Payload: p, Source: "cache", Cached: true}
		s.record(ctx, barcode, l, nil)
		return l, nil
	}

	res, err := s.upstream.Fetch(ctx, barcode)
	if err != nil {
		s.record(ctx, barcode, Lookup{}, err)
		return Lookup{}, err
	}

	l := Lookup{Payload: res.Payload, Source: res.Source}
	if l.Found() && s.cache != nil && s.cacheTTL > 0 {
		if b, err := json.Marshal(res.Payload); err == nil {
			if err := s.cache.Set(ctx, cacheKey(barcode), b, s.cacheTTL); err != nil {
				s.logger.Warn("cache tracking payload", "barcode", barcode, "err", err)
			}
		}
	}
	s.record(ctx, barcode, l, nil)
	return l, nil
}

func (s *Service) cached(ctx context.Context, barcode string) (models.TrackingPayload, bool) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return models.TrackingPayload{}, false
	}
	b, ok, err := s.cache.Get(ctx, cacheKey(barcode))
	if err != nil {
		s.logger.Warn("read tracking cache", "barcode", barcode, "err", err)
		return models.TrackingPayload{}, false
	}
	if !ok {
		return models.TrackingPayload{}, false
	}
	var p models.TrackingPayload
	if json.Unmarshal(b, &p) != nil || !p.HasEvents() {
		return models.TrackingPayload{}, false
	}
	return p, true
}

// record is best effort; history problems never fail a lookup.
func (s *Service) record(ctx context.Context, barcode string, l Lookup, lookupErr error) {
	if s.publisher == nil && s.history == nil {
		return
	}

	msg := messages.TrackingLookedUp{
		LookupID:   uuid.New(),
		Barcode:    barcode,
		LookedUpAt: s.now(),
		EndpointID: l.Source,
		Cached:     l.Cached,
	}
	switch {
	case lookupErr != nil:
		e := lookupErr.Error()
		msg.Outcome = models.LookupOutcomeUnavailable
		msg.Error = &e
	case l.Found():
		tl := timeline.Normalize(l.Payload.Data.Events, nil)
		msg.Outcome = models.LookupOutcomeFound
		msg.LatestStatus = tl.Status
		msg.EventCount = len(l.Payload.Data.Events)
	default:
		e := l.Payload.Error
		if e == "" {
			e = "not found"
		}
		msg.Outcome = models.LookupOutcomeNotFound
		msg.Error = &e
	}

	if s.publisher != nil {
		b, err := json.Marshal(msg)
		if err == nil {
			err = s.publisher.Publish(ctx, s.topic, []byte(barcode), b)
		}
		if err == nil {
			return
		}
		s.logger.Warn("publish lookup", "barcode", barcode, "err", err)
	}
	if s.history != nil {
		if err := s.history.SaveLookup(ctx, lookupFromMessage(msg)); err != nil {
			s.logger.Warn("save lookup", "barcode", barcode, "err", err)
		}
	}
}

// ApplyLookupMessage stores a lookup consumed from the broker.
func (s *Service) ApplyLookupMessage(ctx context.Context, msg messages.TrackingLookedUp) error {
	if msg.LookupID == uuid.Nil {
		return errors.Wrap(ErrInvalidLookup, "lookup_id is required")
	}
	if msg.Barcode == "" {
		return fmt.Errorf("%w: %w", ErrInvalidLookup, ErrBarcodeRequired)
	}
	if msg.LookedUpAt.IsZero() {
		msg.LookedUpAt = s.now()
	}
	if s.history == nil {
		return errors.New("history store is not configured")
	}
	return s.history.SaveLookup(ctx, lookupFromMessage(msg))
}

func (s *Service) RecentBarcodes(ctx context.Context, limit int) ([]models.RecentBarcode, error) {
	if s.history == nil {
		return []models.RecentBarcode{}, nil
	}
	if limit <= 0 || limit > 50 {
		limit = 5
	}
	return s.history.RecentBarcodes(ctx, limit)
}

func lookupFromMessage(msg messages.TrackingLookedUp) models.Lookup {
	return models.Lookup{
		ID:           msg.LookupID.String(),
		Barcode:      msg.Barcode,
		LookedUpAt:   msg.LookedUpAt,
		EndpointID:   msg.EndpointID,
		Outcome:      msg.Outcome,
		LatestStatus: msg.LatestStatus,
		EventCount:   msg.EventCount,
		Cached:       msg.Cached,
		Error:        msg.Error,
	}
}

func cacheKey(barcode string) string {
	return "tracking:" + strings.ToUpper(barcode) + ":payload"
}
