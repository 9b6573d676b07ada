package shipping

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/americaniron/ironfreight/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// State is a quote selection workflow state.
type State int

const (
	StateIdle State = iota
	StateRatesLoading
	StateRatesReady
	StateSelected
	StatePurchaseInFlight
	StatePurchased
	StateRatesError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRatesLoading:
		return "rates_loading"
	case StateRatesReady:
		return "rates_ready"
	case StateSelected:
		return "selected"
	case StatePurchaseInFlight:
		return "purchase_in_flight"
	case StatePurchased:
		return "purchased"
	case StateRatesError:
		return "rates_error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Workflow errors.
var (
	// ErrBusy is returned when a rate request or purchase is already outstanding.
	ErrBusy = errors.New("request already in progress")

	// ErrUnknownQuote is returned when selecting a quote that is not held.
	ErrUnknownQuote = errors.New("quote not found")

	// ErrNoSelection is returned by Purchase without a selected quote. It
	// indicates a caller bug: the purchase action should not be reachable.
	ErrNoSelection = errors.New("no quote selected")

	// ErrAlreadyPurchased is returned after a successful purchase until a new
	// rate cycle starts.
	ErrAlreadyPurchased = errors.New("shipment already purchased")

	// ErrConfirmationRequired is returned when the previous purchase attempt
	// had an ambiguous outcome and the caller did not confirm resubmission.
	ErrConfirmationRequired = errors.New("previous purchase outcome unknown; confirmation required")

	// ErrSuperseded is returned when a rate response arrives after the
	// workflow was reset. The response is discarded.
	ErrSuperseded = errors.New("superseded by a newer request")
)

// Gateway is the subset of Client the workflow needs.
type Gateway interface {
	GetRates(ctx context.Context, carrier shipper.Carrier, from, to shipper.Address, packages []shipper.Package) ([]shipper.Quote, error)
	CreateShipment(ctx context.Context, req *shipper.ShipmentRequest) (*shipper.ShipmentResult, error)
	Track(ctx context.Context, carrier shipper.Carrier, trackingNumber string) (*shipper.TrackingStatus, error)
}

// RateParams are the inputs of one rate cycle.
type RateParams struct {
	Carrier   shipper.Carrier
	Shipper   shipper.Address
	Recipient shipper.Address
	Packages  []shipper.Package
}

// PurchaseOptions control a purchase attempt.
type PurchaseOptions struct {
	OrderID string

	// ConfirmResubmit acknowledges that a previous ambiguous attempt may
	// already have bought a label.
	ConfirmResubmit bool
}

// Snapshot is a copy of the workflow state.
type Snapshot struct {
	State             State
	Params            RateParams
	Quotes            []shipper.Quote
	Selected          *shipper.Quote
	Result            *shipper.ShipmentResult
	Err               error
	NeedsConfirmation bool
}

// Workflow holds the quotes of one shipping form and enforces the order
// rates, select, purchase. It is safe for concurrent use; rate requests and
// purchases are each single-flight.
type Workflow struct {
	gateway Gateway
	logger  *otelzap.Logger

	mu           sync.Mutex
	state        State
	params       RateParams
	quotes       []shipper.Quote
	selected     int
	result       *shipper.ShipmentResult
	lastErr      error
	needsConfirm bool
	generation   uint64
}

// NewWorkflow creates an idle workflow.
func NewWorkflow(gateway Gateway, logger *otelzap.Logger) *Workflow {
	return &Workflow{
		gateway:  gateway,
		logger:   logger,
		selected: -1,
	}
}

// RequestRates starts a new rate cycle. Prior quotes and selection are
// cleared before the request is sent.
func (w *Workflow) RequestRates(ctx context.Context, p RateParams) ([]shipper.Quote, error) {
	w.mu.Lock()
	if w.state == StateRatesLoading || w.state == StatePurchaseInFlight {
		w.mu.Unlock()
		return nil, ErrBusy
	}
	w.generation++
	gen := w.generation
	w.state = StateRatesLoading
	w.params = p
	w.quotes = nil
	w.selected = -1
	w.result = nil
	w.lastErr = nil
	w.needsConfirm = false
	w.mu.Unlock()

	quotes, err := w.gateway.GetRates(ctx, p.Carrier, p.Shipper, p.Recipient, p.Packages)

	w.mu.Lock()
	defer w.mu.Unlock()

	if gen != w.generation {
		w.logger.Ctx(ctx).Debug("discarding superseded rate response", zap.Uint64("generation", gen))
		return nil, ErrSuperseded
	}
	if err != nil {
		w.state = StateRatesError
		w.lastErr = err
		return nil, err
	}

	w.state = StateRatesReady
	w.quotes = quotes
	return append([]shipper.Quote(nil), quotes...), nil
}

// Select marks the first quote with serviceCode as chosen.
func (w *Workflow) Select(serviceCode string) (shipper.Quote, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.selectableLocked(); err != nil {
		return shipper.Quote{}, err
	}
	for i, q := range w.quotes {
		if q.ServiceCode == serviceCode {
			w.selected = i
			w.state = StateSelected
			return q, nil
		}
	}
	return shipper.Quote{}, fmt.Errorf("%w: %s", ErrUnknownQuote, serviceCode)
}

// SelectIndex marks the i-th held quote as chosen.
func (w *Workflow) SelectIndex(i int) (shipper.Quote, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.selectableLocked(); err != nil {
		return shipper.Quote{}, err
	}
	if i < 0 || i >= len(w.quotes) {
		return shipper.Quote{}, fmt.Errorf("%w: index %d", ErrUnknownQuote, i)
	}
	w.selected = i
	w.state = StateSelected
	return w.quotes[i], nil
}

func (w *Workflow) selectableLocked() error {
	switch w.state {
	case StateRatesReady, StateSelected:
		return nil
	case StateRatesLoading, StatePurchaseInFlight:
		return ErrBusy
	case StatePurchased:
		return ErrAlreadyPurchased
	default:
		return fmt.Errorf("%w: no quotes held", ErrUnknownQuote)
	}
}

// Purchase buys a label for the selected quote. At most one purchase is in
// flight at a time and a failed purchase is never retried automatically.
func (w *Workflow) Purchase(ctx context.Context, opts PurchaseOptions) (*shipper.ShipmentResult, error) {
	w.mu.Lock()
	switch {
	case w.state == StatePurchaseInFlight:
		w.mu.Unlock()
		return nil, ErrBusy
	case w.state == StatePurchased:
		w.mu.Unlock()
		return nil, ErrAlreadyPurchased
	case w.state != StateSelected || w.selected < 0:
		w.mu.Unlock()
		return nil, ErrNoSelection
	case w.needsConfirm && !opts.ConfirmResubmit:
		w.mu.Unlock()
		return nil, ErrConfirmationRequired
	}

	quote := w.quotes[w.selected]
	req := &shipper.ShipmentRequest{
		Carrier:             quote.Carrier,
		SelectedServiceCode: quote.ServiceCode,
		Shipper:             w.params.Shipper,
		Recipient:           w.params.Recipient,
		Packages:            w.params.Packages,
	}
	if opts.OrderID != "" {
		req.Reference = &shipper.Reference{OrderID: opts.OrderID}
	}
	w.state = StatePurchaseInFlight
	w.lastErr = nil
	w.mu.Unlock()

	result, err := w.gateway.CreateShipment(ctx, req)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.state = StateSelected
		w.lastErr = err
		w.needsConfirm = IsAmbiguous(err)
		w.logger.Ctx(ctx).Warn("purchase failed",
			zap.String("carrier", string(quote.Carrier)),
			zap.String("service_code", quote.ServiceCode),
			zap.Bool("needs_confirmation", w.needsConfirm),
			zap.Error(err),
		)
		return nil, err
	}

	w.state = StatePurchased
	w.result = result
	w.needsConfirm = false
	return result, nil
}

// Track looks up a shipment's status. It does not change workflow state.
func (w *Workflow) Track(ctx context.Context, carrier shipper.Carrier, trackingNumber string) (*shipper.TrackingStatus, error) {
	return w.gateway.Track(ctx, carrier, trackingNumber)
}

// Reset returns the workflow to Idle. A rate response still outstanding is
// discarded when it arrives. Reset is refused while a purchase is in flight.
func (w *Workflow) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StatePurchaseInFlight {
		return ErrBusy
	}
	w.generation++
	w.state = StateIdle
	w.params = RateParams{}
	w.quotes = nil
	w.selected = -1
	w.result = nil
	w.lastErr = nil
	w.needsConfirm = false
	return nil
}

// Snapshot returns a copy of the current state.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Snapshot{
		State:             w.state,
		Params:            w.params,
		Quotes:            append([]shipper.Quote(nil), w.quotes...),
		Result:            w.result,
		Err:               w.lastErr,
		NeedsConfirmation: w.needsConfirm,
	}
	if w.selected >= 0 && w.selected < len(w.quotes) {
		q := w.quotes[w.selected]
		s.Selected = &q
	}
	return s
}
