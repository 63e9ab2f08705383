package pglookups

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/BearBump/TrackRelay/internal/models"
)

// SaveLookup stores one lookup. Replays of the same lookup id are ignored,
// so at-least-once delivery from the broker does not duplicate rows.
func (s *Storage) SaveLookup(ctx context.Context, l models.Lookup) error {
	id, err := uuid.Parse(l.ID)
	if err != nil {
		return errors.Wrap(err, "parse lookup id")
	}
	if l.LookedUpAt.IsZero() {
		l.LookedUpAt = time.Now().UTC()
	}

	_, err = s.db.Exec(ctx, `
INSERT INTO tracking_lookups (
  id, barcode, looked_up_at, endpoint_id, outcome, latest_status, event_count, cached, error
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO NOTHING
`, id, l.Barcode, l.LookedUpAt, l.EndpointID, l.Outcome, l.LatestStatus, l.EventCount, l.Cached, l.Error)
	if err != nil {
		return errors.Wrap(err, "insert lookup")
	}
	return nil
}

// RecentBarcodes returns distinct barcodes that were found, most recently
// looked up first.
func (s *Storage) RecentBarcodes(ctx context.Context, limit int) ([]models.RecentBarcode, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.Query(ctx, `
SELECT barcode, MAX(looked_up_at) AS last_at, COUNT(*) AS lookups
FROM tracking_lookups
WHERE outcome = $1
GROUP BY barcode
ORDER BY last_at DESC
LIMIT $2
`, models.LookupOutcomeFound, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query recent barcodes")
	}
	defer rows.Close()

	out := make([]models.RecentBarcode, 0, limit)
	for rows.Next() {
		var r models.RecentBarcode
		if err := rows.Scan(&r.Barcode, &r.LastLookedUpAt, &r.Lookups); err != nil {
			return nil, errors.Wrap(err, "scan recent barcode")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows")
	}
	return out, nil
}

func (s *Storage) ListLookups(ctx context.Context, barcode string, limit int) ([]models.Lookup, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(ctx, `
SELECT id::text, barcode, looked_up_at, endpoint_id, outcome, latest_status, event_count, cached, error
FROM tracking_lookups
WHERE barcode = $1
ORDER BY looked_up_at DESC
LIMIT $2
`, barcode, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query lookups")
	}
	defer rows.Close()

	var out []models.Lookup
	for rows.Next() {
		var l models.Lookup
		if err := rows.Scan(&l.ID, &l.Barcode, &l.LookedUpAt, &l.EndpointID, &l.Outcome, &l.LatestStatus, &l.EventCount, &l.Cached, &l.Error); err != nil {
			return nil, errors.Wrap(err, "scan lookup")
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows")
	}
	return out, nil
}
