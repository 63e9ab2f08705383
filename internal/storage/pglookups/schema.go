package pglookups

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS tracking_lookups (
  id UUID PRIMARY KEY,
  barcode TEXT NOT NULL,
  looked_up_at TIMESTAMPTZ NOT NULL,
  endpoint_id TEXT NOT NULL DEFAULT '',
  outcome TEXT NOT NULL,
  latest_status TEXT NOT NULL DEFAULT '',
  event_count INT NOT NULL DEFAULT 0,
  cached BOOLEAN NOT NULL DEFAULT FALSE,
  error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_lookups_looked_up_at ON tracking_lookups(looked_up_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_lookups_barcode ON tracking_lookups(barcode, looked_up_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
