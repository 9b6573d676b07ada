package shipper

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry manages registered shipping carriers.
type Registry struct {
	shippers map[Carrier]Shipper
	mu       sync.RWMutex
}

// NewRegistry creates a new shipper registry.
func NewRegistry() *Registry {
	return &Registry{
		shippers: make(map[Carrier]Shipper),
	}
}

// Register adds a shipper to the registry.
func (r *Registry) Register(s Shipper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shippers[s.Name()] = s
}

// Get returns a shipper by name.
func (r *Registry) Get(name Carrier) (Shipper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.shippers[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrCarrierNotFound, name)
}

// All returns all registered shippers ordered by name.
func (r *Registry) All() []Shipper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Shipper, 0, len(r.shippers))
	for _, s := range r.shippers {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Names returns the names of all registered shippers.
func (r *Registry) Names() []Carrier {
	all := r.All()
	names := make([]Carrier, len(all))
	for i, s := range all {
		names[i] = s.Name()
	}
	return names
}

// Count returns the number of registered shippers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.shippers)
}

// GetRates returns quotes for req. A concrete carrier is asked directly; AUTO
// fans out to every registered carrier. Per-carrier failures are returned in
// errs and excluded from the quotes.
func (r *Registry) GetRates(ctx context.Context, carrier Carrier, req *RateRequest) ([]Quote, []error) {
	if carrier == CarrierAuto {
		return r.GetAllRates(ctx, req)
	}
	s, err := r.Get(carrier)
	if err != nil {
		return nil, []error{err}
	}
	quotes, err := s.GetRates(ctx, req)
	if err != nil {
		return nil, []error{fmt.Errorf("%s: %w", carrier, err)}
	}
	return ValidQuotes(quotes, nil), nil
}

// GetAllRates fetches rates from all registered carriers in parallel.
// Errors from individual carriers don't fail the entire request. Quotes are
// merged in carrier-name order, each carrier's own order preserved.
func (r *Registry) GetAllRates(ctx context.Context, req *RateRequest) ([]Quote, []error) {
	shippers := r.All()
	if len(shippers) == 0 {
		return nil, []error{ErrCarrierNotFound}
	}

	perCarrier := make([][]Quote, len(shippers))
	errs := make([]error, 0)
	mu := &sync.Mutex{}

	g, ctx := errgroup.WithContext(ctx)

	for i, s := range shippers {
		g.Go(func() error {
			quotes, err := s.GetRates(ctx, req)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				mu.Unlock()
				return nil // Don't fail the group, continue with other carriers
			}
			perCarrier[i] = ValidQuotes(quotes, nil)
			return nil
		})
	}

	g.Wait()

	var merged []Quote
	for _, quotes := range perCarrier {
		merged = append(merged, quotes...)
	}
	return merged, errs
}

// FindOffer re-prices req with its carrier and returns the quote whose service
// code matches the selection exactly.
func (r *Registry) FindOffer(ctx context.Context, req *ShipmentRequest) (*Quote, error) {
	s, err := r.Get(req.Carrier)
	if err != nil {
		return nil, err
	}
	quotes, err := s.GetRates(ctx, &RateRequest{
		Carrier:   req.Carrier,
		Shipper:   req.Shipper,
		Recipient: req.Recipient,
		Packages:  req.Packages,
	})
	if err != nil {
		return nil, err
	}
	quotes = ValidQuotes(quotes, nil)
	for i := range quotes {
		if quotes[i].ServiceCode == req.SelectedServiceCode {
			return &quotes[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s %q", ErrServiceNotOffered, req.Carrier, req.SelectedServiceCode)
}
