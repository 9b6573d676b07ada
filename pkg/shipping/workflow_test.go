package shipping_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/americaniron/ironfreight/pkg/shipper"
	"github.com/americaniron/ironfreight/pkg/shipping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu       sync.Mutex
	quotes   []shipper.Quote
	ratesErr error
	buyErr   error
	requests []*shipper.ShipmentRequest

	rateCalls atomic.Int32
	buyCalls  atomic.Int32

	// block, when non-nil, holds calls until closed.
	block chan struct{}
}

func (g *fakeGateway) wait(ctx context.Context) {
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
		}
	}
}

func (g *fakeGateway) GetRates(ctx context.Context, carrier shipper.Carrier, from, to shipper.Address, packages []shipper.Package) ([]shipper.Quote, error) {
	g.rateCalls.Add(1)
	g.wait(ctx)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ratesErr != nil {
		return nil, g.ratesErr
	}
	return append([]shipper.Quote(nil), g.quotes...), nil
}

func (g *fakeGateway) CreateShipment(ctx context.Context, req *shipper.ShipmentRequest) (*shipper.ShipmentResult, error) {
	g.buyCalls.Add(1)
	g.wait(ctx)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.buyErr != nil {
		return nil, g.buyErr
	}
	return &shipper.ShipmentResult{
		Carrier:        req.Carrier,
		ServiceName:    "svc " + req.SelectedServiceCode,
		TrackingNumber: "TRK-1",
		Label:          shipper.Label{Format: shipper.LabelPDF, SignedURL: "https://labels.example/TRK-1"},
	}, nil
}

func (g *fakeGateway) Track(ctx context.Context, carrier shipper.Carrier, trackingNumber string) (*shipper.TrackingStatus, error) {
	return &shipper.TrackingStatus{Carrier: carrier, TrackingNumber: trackingNumber, Status: shipper.TrackingInTransit}, nil
}

func newGateway() *fakeGateway {
	return &fakeGateway{quotes: []shipper.Quote{
		{Carrier: shipper.CarrierUPS, ServiceCode: "03", ServiceName: "UPS Ground", TotalCost: 348.5, Currency: "USD", ETADays: 5},
		{Carrier: shipper.CarrierDHL, ServiceCode: "P", ServiceName: "DHL EXPRESS WORLDWIDE", TotalCost: 1062.54, Currency: "USD", ETADays: 3},
	}}
}

func params() shipping.RateParams {
	return shipping.RateParams{Carrier: shipper.CarrierAuto, Shipper: tampa(), Recipient: houston(), Packages: bucket()}
}

func TestWorkflow_HappyPath(t *testing.T) {
	gw := newGateway()
	wf := shipping.NewWorkflow(gw, nopLogger())
	ctx := context.Background()

	assert.Equal(t, shipping.StateIdle, wf.Snapshot().State)

	quotes, err := wf.RequestRates(ctx, params())
	require.NoError(t, err)
	assert.Len(t, quotes, 2)
	assert.Equal(t, shipping.StateRatesReady, wf.Snapshot().State)

	q, err := wf.Select("P")
	require.NoError(t, err)
	assert.Equal(t, shipper.CarrierDHL, q.Carrier)
	assert.Equal(t, shipping.StateSelected, wf.Snapshot().State)

	result, err := wf.Purchase(ctx, shipping.PurchaseOptions{OrderID: "ORD-1"})
	require.NoError(t, err)
	assert.Equal(t, "TRK-1", result.TrackingNumber)

	snap := wf.Snapshot()
	assert.Equal(t, shipping.StatePurchased, snap.State)
	assert.Equal(t, result, snap.Result)

	require.Len(t, gw.requests, 1)
	assert.Equal(t, shipper.CarrierDHL, gw.requests[0].Carrier)
	assert.Equal(t, "P", gw.requests[0].SelectedServiceCode)
	assert.Equal(t, "ORD-1", gw.requests[0].OrderID())
	assert.Equal(t, "77001", gw.requests[0].Recipient.PostalCode)

	_, err = wf.Purchase(ctx, shipping.PurchaseOptions{})
	assert.ErrorIs(t, err, shipping.ErrAlreadyPurchased)
	assert.Equal(t, int32(1), gw.buyCalls.Load())
}

func TestWorkflow_PurchaseWithoutSelection(t *testing.T) {
	gw := newGateway()
	wf := shipping.NewWorkflow(gw, nopLogger())

	_, err := wf.Purchase(context.Background(), shipping.PurchaseOptions{})
	assert.ErrorIs(t, err, shipping.ErrNoSelection)

	_, err = wf.RequestRates(context.Background(), params())
	require.NoError(t, err)
	_, err = wf.Purchase(context.Background(), shipping.PurchaseOptions{})
	assert.ErrorIs(t, err, shipping.ErrNoSelection)

	assert.Equal(t, int32(0), gw.buyCalls.Load())
}

func TestWorkflow_NewRateRequestClearsSelection(t *testing.T) {
	gw := newGateway()
	wf := shipping.NewWorkflow(gw, nopLogger())
	ctx := context.Background()

	_, err := wf.RequestRates(ctx, params())
	require.NoError(t, err)
	_, err = wf.Select("03")
	require.NoError(t, err)

	_, err = wf.RequestRates(ctx, params())
	require.NoError(t, err)

	snap := wf.Snapshot()
	assert.Nil(t, snap.Selected)
	assert.Equal(t, shipping.StateRatesReady, snap.State)

	_, err = wf.Purchase(ctx, shipping.PurchaseOptions{})
	assert.ErrorIs(t, err, shipping.ErrNoSelection)
	assert.Equal(t, int32(0), gw.buyCalls.Load())
}

func TestWorkflow_SelectUnknownQuote(t *testing.T) {
	wf := shipping.NewWorkflow(newGateway(), nopLogger())

	_, err := wf.Select("03")
	assert.ErrorIs(t, err, shipping.ErrUnknownQuote)

	_, err = wf.RequestRates(context.Background(), params())
	require.NoError(t, err)

	_, err = wf.Select("NOPE")
	assert.ErrorIs(t, err, shipping.ErrUnknownQuote)
	_, err = wf.SelectIndex(2)
	assert.ErrorIs(t, err, shipping.ErrUnknownQuote)

	q, err := wf.SelectIndex(1)
	require.NoError(t, err)
	assert.Equal(t, "P", q.ServiceCode)
}

func TestWorkflow_RatesError(t *testing.T) {
	gw := newGateway()
	gw.ratesErr = shipping.ErrRateFetchFailed
	wf := shipping.NewWorkflow(gw, nopLogger())

	_, err := wf.RequestRates(context.Background(), params())
	assert.ErrorIs(t, err, shipping.ErrRateFetchFailed)

	snap := wf.Snapshot()
	assert.Equal(t, shipping.StateRatesError, snap.State)
	assert.Empty(t, snap.Quotes)
	assert.ErrorIs(t, snap.Err, shipping.ErrRateFetchFailed)

	_, err = wf.Select("03")
	assert.ErrorIs(t, err, shipping.ErrUnknownQuote)

	gw.mu.Lock()
	gw.ratesErr = nil
	gw.mu.Unlock()
	_, err = wf.RequestRates(context.Background(), params())
	require.NoError(t, err)
	assert.Equal(t, int32(2), gw.rateCalls.Load())
}

func TestWorkflow_RatesAreSingleFlight(t *testing.T) {
	gw := newGateway()
	gw.block = make(chan struct{})
	wf := shipping.NewWorkflow(gw, nopLogger())

	done := make(chan error, 1)
	go func() {
		_, err := wf.RequestRates(context.Background(), params())
		done <- err
	}()
	require.Eventually(t, func() bool { return wf.Snapshot().State == shipping.StateRatesLoading }, time.Second, time.Millisecond)

	_, err := wf.RequestRates(context.Background(), params())
	assert.ErrorIs(t, err, shipping.ErrBusy)

	close(gw.block)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), gw.rateCalls.Load())
}

func TestWorkflow_PurchaseIsSingleFlight(t *testing.T) {
	gw := newGateway()
	wf := shipping.NewWorkflow(gw, nopLogger())
	ctx := context.Background()

	_, err := wf.RequestRates(ctx, params())
	require.NoError(t, err)
	_, err = wf.Select("03")
	require.NoError(t, err)

	gw.block = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := wf.Purchase(ctx, shipping.PurchaseOptions{})
		done <- err
	}()
	require.Eventually(t, func() bool { return wf.Snapshot().State == shipping.StatePurchaseInFlight }, time.Second, time.Millisecond)

	_, err = wf.Purchase(ctx, shipping.PurchaseOptions{})
	assert.ErrorIs(t, err, shipping.ErrBusy)
	_, err = wf.RequestRates(ctx, params())
	assert.ErrorIs(t, err, shipping.ErrBusy)
	assert.ErrorIs(t, wf.Reset(), shipping.ErrBusy)

	close(gw.block)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), gw.buyCalls.Load())
}

func TestWorkflow_AmbiguousPurchaseRequiresConfirmation(t *testing.T) {
	gw := newGateway()
	gw.buyErr = &shipping.PurchaseError{Kind: shipping.PurchaseAmbiguous, Message: "timeout"}
	wf := shipping.NewWorkflow(gw, nopLogger())
	ctx := context.Background()

	_, err := wf.RequestRates(ctx, params())
	require.NoError(t, err)
	_, err = wf.Select("03")
	require.NoError(t, err)

	_, err = wf.Purchase(ctx, shipping.PurchaseOptions{})
	require.True(t, shipping.IsAmbiguous(err))

	snap := wf.Snapshot()
	assert.Equal(t, shipping.StateSelected, snap.State)
	assert.True(t, snap.NeedsConfirmation)

	_, err = wf.Purchase(ctx, shipping.PurchaseOptions{})
	assert.ErrorIs(t, err, shipping.ErrConfirmationRequired)
	assert.Equal(t, int32(1), gw.buyCalls.Load())

	gw.mu.Lock()
	gw.buyErr = nil
	gw.mu.Unlock()
	_, err = wf.Purchase(ctx, shipping.PurchaseOptions{ConfirmResubmit: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), gw.buyCalls.Load())
	assert.False(t, wf.Snapshot().NeedsConfirmation)
}

func TestWorkflow_ValidationFailureAllowsRetry(t *testing.T) {
	gw := newGateway()
	gw.buyErr = &shipping.PurchaseError{Kind: shipping.PurchaseValidation, Code: "SERVICE_NOT_OFFERED"}
	wf := shipping.NewWorkflow(gw, nopLogger())
	ctx := context.Background()

	_, err := wf.RequestRates(ctx, params())
	require.NoError(t, err)
	_, err = wf.Select("P")
	require.NoError(t, err)

	_, err = wf.Purchase(ctx, shipping.PurchaseOptions{})
	var pErr *shipping.PurchaseError
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, shipping.PurchaseValidation, pErr.Kind)

	snap := wf.Snapshot()
	assert.Equal(t, shipping.StateSelected, snap.State)
	assert.False(t, snap.NeedsConfirmation)

	_, err = wf.Purchase(ctx, shipping.PurchaseOptions{})
	assert.Error(t, err)
	assert.Equal(t, int32(2), gw.buyCalls.Load())
}

func TestWorkflow_ResetDiscardsLateRates(t *testing.T) {
	gw := newGateway()
	gw.block = make(chan struct{})
	wf := shipping.NewWorkflow(gw, nopLogger())

	done := make(chan error, 1)
	go func() {
		_, err := wf.RequestRates(context.Background(), params())
		done <- err
	}()
	require.Eventually(t, func() bool { return wf.Snapshot().State == shipping.StateRatesLoading }, time.Second, time.Millisecond)

	require.NoError(t, wf.Reset())
	close(gw.block)

	assert.ErrorIs(t, <-done, shipping.ErrSuperseded)
	snap := wf.Snapshot()
	assert.Equal(t, shipping.StateIdle, snap.State)
	assert.Empty(t, snap.Quotes)
}

func TestWorkflow_TrackPassesThrough(t *testing.T) {
	wf := shipping.NewWorkflow(newGateway(), nopLogger())

	status, err := wf.Track(context.Background(), shipper.CarrierUPS, "1Z999AA10123456784")

	require.NoError(t, err)
	assert.Equal(t, "1Z999AA10123456784", status.TrackingNumber)
	assert.Equal(t, shipping.StateIdle, wf.Snapshot().State)
}
