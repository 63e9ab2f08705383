package carrier

import (
	"context"

	"github.com/BearBump/TrackRelay/internal/models"
)

// Result is a payload together with the endpoint that produced it.
type Result struct {
	Payload  models.TrackingPayload
	Source   string
	Attempts int
}

// Client fetches the raw tracking payload for a barcode from the postal
// service. The failover dispatcher is the production implementation.
type Client interface {
	Fetch(ctx context.Context, barcode string) (Result, error)
}
