// Package shipper provides the shipping data model and an abstraction layer
// for carrier adapters.
package shipper

import (
	"context"
)

// Shipper defines the interface that all shipping carriers must implement.
type Shipper interface {
	// Name returns the carrier identifier (UPS or DHL).
	Name() Carrier

	// GetRates returns priced service options for a shipment. The order of
	// the returned quotes is the carrier's own.
	GetRates(ctx context.Context, req *RateRequest) ([]Quote, error)

	// CreateShipment buys a label for the requested service. Implementations
	// must not retry: each call may be a billable purchase.
	CreateShipment(ctx context.Context, req *ShipmentRequest) (*Purchase, error)

	// Track returns the current status of a shipment.
	Track(ctx context.Context, trackingNumber string) (*TrackingStatus, error)
}
