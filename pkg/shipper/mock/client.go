// Package mock provides a mock shipper implementation for testing.
package mock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/americaniron/ironfreight/pkg/shipper"
)

// Client is a mock shipper for testing.
type Client struct {
	name shipper.Carrier

	// Err, when set, is returned from every call.
	Err error

	shipments atomic.Int64
}

// New creates a new mock shipper.
func New(name shipper.Carrier) *Client {
	return &Client{name: name}
}

// Name returns the carrier name.
func (c *Client) Name() shipper.Carrier {
	return c.name
}

// Shipments returns how many CreateShipment calls succeeded.
func (c *Client) Shipments() int64 {
	return c.shipments.Load()
}

// GetRates returns two mock quotes priced from the total package weight.
func (c *Client) GetRates(ctx context.Context, req *shipper.RateRequest) ([]shipper.Quote, error) {
	if c.Err != nil {
		return nil, c.Err
	}

	var lbs float64
	for _, p := range req.Packages {
		lbs += p.WeightIn(shipper.WeightLB)
	}

	return []shipper.Quote{
		{
			Carrier:     c.name,
			ServiceCode: string(c.name) + "_GROUND",
			ServiceName: fmt.Sprintf("%s Ground", c.name),
			TotalCost:   roundCents(25 + lbs*0.85),
			Currency:    "USD",
			ETADays:     5,
		},
		{
			Carrier:     c.name,
			ServiceCode: string(c.name) + "_EXPRESS",
			ServiceName: fmt.Sprintf("%s Express", c.name),
			TotalCost:   roundCents(60 + lbs*1.45),
			Currency:    "USD",
			ETADays:     2,
		},
	}, nil
}

// CreateShipment creates a mock shipment for one of the mock service codes.
func (c *Client) CreateShipment(ctx context.Context, req *shipper.ShipmentRequest) (*shipper.Purchase, error) {
	if c.Err != nil {
		return nil, c.Err
	}

	quotes, _ := c.GetRates(ctx, &shipper.RateRequest{Packages: req.Packages})
	var selected *shipper.Quote
	for i := range quotes {
		if quotes[i].ServiceCode == req.SelectedServiceCode {
			selected = &quotes[i]
		}
	}
	if selected == nil {
		return nil, shipper.NewShipperError(c.name, "SERVICE_NOT_OFFERED", "unknown service code "+req.SelectedServiceCode).
			WithStatusCode(422).
			WithCause(shipper.ErrServiceNotOffered)
	}

	n := c.shipments.Add(1)
	now := time.Now()
	trackingNumber := fmt.Sprintf("MOCK%s%010d", c.name, now.UnixNano()%10000000000+n)

	return &shipper.Purchase{
		Carrier:        c.name,
		ServiceCode:    selected.ServiceCode,
		ServiceName:    selected.ServiceName,
		TrackingNumber: trackingNumber,
		ShipmentID:     fmt.Sprintf("%s-shipment-%d", c.name, now.UnixNano()),
		Charged:        selected.TotalCost,
		Currency:       selected.Currency,
		Label: shipper.LabelDocument{
			Format: shipper.LabelPDF,
			Data:   []byte("%PDF-1.4 mock label " + trackingNumber),
		},
	}, nil
}

// Track returns a fixed in-transit status.
func (c *Client) Track(ctx context.Context, trackingNumber string) (*shipper.TrackingStatus, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	now := time.Now().UTC()
	return &shipper.TrackingStatus{
		Carrier:        c.name,
		TrackingNumber: trackingNumber,
		Status:         shipper.TrackingInTransit,
		Events: []shipper.TrackingEvent{
			{Timestamp: now.Add(-24 * time.Hour), Description: "Picked up", Location: "Tampa, FL", Status: shipper.TrackingInTransit},
			{Timestamp: now, Description: "Departed facility", Location: "Jacksonville, FL", Status: shipper.TrackingInTransit},
		},
	}, nil
}

func roundCents(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
