package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/americaniron/ironfreight/pkg/shipper"
	"github.com/americaniron/ironfreight/pkg/shipping"
)

type stubGateway struct {
	buyErr error
	bought []*shipper.ShipmentRequest
}

func (g *stubGateway) GetRates(ctx context.Context, carrier shipper.Carrier, from, to shipper.Address, packages []shipper.Package) ([]shipper.Quote, error) {
	return []shipper.Quote{
		{Carrier: shipper.CarrierUPS, ServiceCode: "UPS_GROUND", ServiceName: "UPS Ground", TotalCost: 450, Currency: "USD", ETADays: 5},
	}, nil
}

func (g *stubGateway) CreateShipment(ctx context.Context, req *shipper.ShipmentRequest) (*shipper.ShipmentResult, error) {
	g.bought = append(g.bought, req)
	if g.buyErr != nil {
		return nil, g.buyErr
	}
	return &shipper.ShipmentResult{Carrier: req.Carrier, ServiceName: "UPS Ground", TrackingNumber: "1Z999"}, nil
}

func (g *stubGateway) Track(ctx context.Context, carrier shipper.Carrier, trackingNumber string) (*shipper.TrackingStatus, error) {
	return nil, shipper.ErrTrackingNotFound
}

func buyParams() shipping.RateParams {
	return shipping.RateParams{
		Carrier:   shipper.CarrierUPS,
		Shipper:   shipper.Address{Name: "American Iron", Address1: "1 Yard Rd", City: "Tampa", State: "FL", PostalCode: "33618", CountryCode: "US"},
		Recipient: shipper.Address{Name: "Site 4", Address1: "9 Quarry Ln", City: "Houston", State: "TX", PostalCode: "77001", CountryCode: "US"},
		Packages:  []shipper.Package{{Weight: shipper.Weight{Value: 500, Unit: shipper.WeightLB}}},
	}
}

func TestBuy(t *testing.T) {
	g := &stubGateway{}
	wf := shipping.NewWorkflow(g, otelzap.New(zap.NewNop()))

	result, err := buy(context.Background(), wf, buyParams(), "UPS_GROUND", "ORD-42")

	require.NoError(t, err)
	assert.Equal(t, "1Z999", result.TrackingNumber)
	require.Len(t, g.bought, 1)
	require.NotNil(t, g.bought[0].Reference)
	assert.Equal(t, "ORD-42", g.bought[0].Reference.OrderID)
}

func TestBuy_UnknownService(t *testing.T) {
	g := &stubGateway{}
	wf := shipping.NewWorkflow(g, otelzap.New(zap.NewNop()))

	_, err := buy(context.Background(), wf, buyParams(), "UPS_TELEPORT", "")

	require.Error(t, err)
	assert.Equal(t, `service "UPS_TELEPORT": `+shipping.UserMessage(shipping.ErrUnknownQuote), err.Error())
	assert.Empty(t, g.bought)
}

func TestBuy_AlreadyPurchasedWorkflow(t *testing.T) {
	g := &stubGateway{}
	wf := shipping.NewWorkflow(g, otelzap.New(zap.NewNop()))
	_, err := buy(context.Background(), wf, buyParams(), "UPS_GROUND", "")
	require.NoError(t, err)

	_, err = wf.Select("UPS_GROUND")
	require.ErrorIs(t, err, shipping.ErrAlreadyPurchased)
	assert.Contains(t, shipping.UserMessage(err), "already been purchased")
}

func TestBuy_AmbiguousOutcome(t *testing.T) {
	g := &stubGateway{buyErr: &shipping.PurchaseError{Kind: shipping.PurchaseAmbiguous, StatusCode: 504}}
	wf := shipping.NewWorkflow(g, otelzap.New(zap.NewNop()))

	_, err := buy(context.Background(), wf, buyParams(), "UPS_GROUND", "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not confirm whether the label was purchased")
	assert.Len(t, g.bought, 1)
}
