package dhl

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnGetRates       func(ctx context.Context, req *RatesRequest) (*RatesResponse, error)
	OnCreateShipment func(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error)
	OnGetTracking    func(ctx context.Context, trackingNumber string) (*TrackingResponse, error)
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

var mockProducts = []struct {
	code  string
	name  string
	base  float64
	perKg float64
	days  int
}{
	{"P", "EXPRESS WORLDWIDE", 110, 4.20, 3},
	{"Y", "EXPRESS 12:00", 165, 5.10, 2},
	{"K", "EXPRESS 9:00", 210, 6.00, 1},
}

func (m *MockAPIClient) simulate(ctx context.Context) error {
	if m.SimulateLatency > 0 {
		select {
		case <-time.After(m.SimulateLatency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.SimulateErrors {
		return &APIError{StatusCode: http.StatusServiceUnavailable, Title: "MOCK_ERROR", Detail: "Simulated API error"}
	}
	return nil
}

// GetRates returns mock products priced from the total weight.
func (m *MockAPIClient) GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}

	if m.OnGetRates != nil {
		return m.OnGetRates(ctx, req)
	}

	kg := totalKilograms(req.UnitOfMeasurement, req.Packages)
	products := make([]Product, 0, len(mockProducts))
	for _, p := range mockProducts {
		products = append(products, Product{
			ProductName: p.name,
			ProductCode: p.code,
			TotalPrice: []Price{
				{CurrencyType: "BILLC", PriceCurrency: "USD", Price: roundCents(p.base + kg*p.perKg)},
			},
			DeliveryCapabilities: &DeliveryCapabilities{TotalTransitDays: p.days},
		})
	}
	return &RatesResponse{Products: products}, nil
}

// CreateShipment books a mock shipment for one of the mock products.
func (m *MockAPIClient) CreateShipment(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}

	if m.OnCreateShipment != nil {
		return m.OnCreateShipment(ctx, req)
	}

	kg := totalKilograms(req.Content.UnitOfMeasurement, req.Content.Packages)
	for _, p := range mockProducts {
		if p.code != req.ProductCode {
			continue
		}
		waybill := fmt.Sprintf("%010d", time.Now().UnixNano()%10000000000)
		format := req.OutputImageProperties.EncodingFormat
		return &ShipmentResponse{
			ShipmentTrackingNumber: waybill,
			TrackingURL:            "https://www.dhl.com/en/express/tracking.html?AWB=" + waybill,
			Packages:               []ShippedPackage{{ReferenceNumber: 1, TrackingNumber: "JD0146000" + waybill}},
			Documents: []Document{{
				ImageFormat: format,
				TypeCode:    "label",
				Content:     base64.StdEncoding.EncodeToString([]byte("mock " + format + " label " + waybill)),
			}},
			ShipmentCharges: []Price{{CurrencyType: "BILLC", PriceCurrency: "USD", Price: roundCents(p.base + kg*p.perKg)}},
		}, nil
	}

	return nil, &APIError{
		StatusCode: http.StatusUnprocessableEntity,
		Title:      "Product not available",
		Detail:     fmt.Sprintf("996: Product %q is not available for the requested origin and destination", req.ProductCode),
	}
}

// GetTracking returns mock checkpoints.
func (m *MockAPIClient) GetTracking(ctx context.Context, trackingNumber string) (*TrackingResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}

	if m.OnGetTracking != nil {
		return m.OnGetTracking(ctx, trackingNumber)
	}

	now := time.Now().UTC()
	return &TrackingResponse{Shipments: []TrackedShipment{{
		ShipmentTrackingNumber: trackingNumber,
		Status:                 "transit",
		EstimatedDeliveryDate:  now.AddDate(0, 0, 2).Format("2006-01-02"),
		Events: []TrackingEvent{
			{
				Date:        now.Add(-20 * time.Hour).Format("2006-01-02"),
				Time:        now.Add(-20 * time.Hour).Format("15:04:05"),
				TypeCode:    "PU",
				Description: "Shipment picked up",
				ServiceArea: []ServiceArea{{Code: "TPA", Description: "Tampa-FL-USA"}},
			},
			{
				Date:        now.Add(-4 * time.Hour).Format("2006-01-02"),
				Time:        now.Add(-4 * time.Hour).Format("15:04:05"),
				TypeCode:    "PL",
				Description: "Processed at CINCINNATI HUB - USA",
				ServiceArea: []ServiceArea{{Code: "CVG", Description: "Cincinnati Hub-OH-USA"}},
			},
		},
	}}}, nil
}

func totalKilograms(unitOfMeasurement string, pkgs []Package) float64 {
	var kg float64
	for _, p := range pkgs {
		if unitOfMeasurement == "imperial" {
			kg += p.Weight * 0.45359237
		} else {
			kg += p.Weight
		}
	}
	return kg
}

func roundCents(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

var _ APIClient = (*MockAPIClient)(nil)
