package ups

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

	OnGetRates       func(ctx context.Context, req *RateRequestEnvelope) (*RateResponseEnvelope, error)
	OnCreateShipment func(ctx context.Context, req *ShipmentRequestEnvelope) (*ShipmentResponseEnvelope, error)
	OnGetTracking    func(ctx context.Context, trackingNumber string) (*TrackResponseEnvelope, error)
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

// mockServices are the services the mock prices, in UPS response order.
var mockServices = []struct {
	code  string
	base  float64
	perLb float64
	days  string
}{
	{"03", 38.50, 0.62, ""},
	{"12", 71.25, 1.05, "3"},
	{"02", 96.10, 1.48, "2"},
	{"01", 142.75, 2.10, "1"},
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
		return &APIError{StatusCode: http.StatusServiceUnavailable, Code: "MOCK_ERROR", Message: "Simulated API error"}
	}
	return nil
}

// GetRates returns mock rated shipments priced from the billed weight.
func (m *MockAPIClient) GetRates(ctx context.Context, req *RateRequestEnvelope) (*RateResponseEnvelope, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}

	if m.OnGetRates != nil {
		return m.OnGetRates(ctx, req)
	}

	lbs := totalPounds(req.RateRequest.Shipment.Package)
	rated := make([]RatedShipment, 0, len(mockServices))
	for _, s := range mockServices {
		r := RatedShipment{
			Service: CodeDescription{Code: s.code},
			TotalCharges: Charges{
				CurrencyCode:  "USD",
				MonetaryValue: fmt.Sprintf("%.2f", s.base+lbs*s.perLb),
			},
		}
		if s.days != "" {
			r.GuaranteedDelivery = &GuaranteedDelivery{BusinessDaysInTransit: s.days}
		} else {
			r.TimeInTransit = &TimeInTransit{}
			r.TimeInTransit.ServiceSummary.EstimatedArrival.BusinessDaysInTransit = "5"
		}
		rated = append(rated, r)
	}

	return &RateResponseEnvelope{RateResponse: RateResponse{RatedShipment: rated}}, nil
}

// CreateShipment creates a mock shipment for one of the mock services.
func (m *MockAPIClient) CreateShipment(ctx context.Context, req *ShipmentRequestEnvelope) (*ShipmentResponseEnvelope, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}

	if m.OnCreateShipment != nil {
		return m.OnCreateShipment(ctx, req)
	}

	shipment := req.ShipmentRequest.Shipment
	code := ""
	if shipment.Service != nil {
		code = shipment.Service.Code
	}

	lbs := totalPounds(shipment.Package)
	for _, s := range mockServices {
		if s.code != code {
			continue
		}
		trackingNumber := fmt.Sprintf("1Z999AA1%010d", time.Now().UnixNano()%10000000000)
		format := req.ShipmentRequest.LabelSpecification.LabelImageFormat.Code
		if format == "" {
			format = "PNG"
		}
		return &ShipmentResponseEnvelope{ShipmentResponse: ShipmentResponse{ShipmentResults: ShipmentResults{
			ShipmentCharges: ShipmentCharges{TotalCharges: Charges{
				CurrencyCode:  "USD",
				MonetaryValue: fmt.Sprintf("%.2f", s.base+lbs*s.perLb),
			}},
			ShipmentIdentificationNumber: trackingNumber,
			PackageResults: []PackageResult{{
				TrackingNumber: trackingNumber,
				ShippingLabel: ShippingLabel{
					ImageFormat:  CodeDescription{Code: format},
					GraphicImage: base64.StdEncoding.EncodeToString([]byte("mock " + format + " label " + trackingNumber)),
				},
			}},
		}}}, nil
	}

	return nil, &APIError{
		StatusCode: http.StatusBadRequest,
		Code:       "111100",
		Message:    "The requested service is unavailable between the selected locations.",
	}
}

// GetTracking retrieves mock tracking information.
func (m *MockAPIClient) GetTracking(ctx context.Context, trackingNumber string) (*TrackResponseEnvelope, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}

	if m.OnGetTracking != nil {
		return m.OnGetTracking(ctx, trackingNumber)
	}

	now := time.Now().UTC()
	pickup := TrackActivity{
		Status: TrackStatus{Type: "P", Code: "PU", Description: "Pickup Scan"},
		Date:   now.Add(-30 * time.Hour).Format("20060102"),
		Time:   now.Add(-30 * time.Hour).Format("150405"),
	}
	pickup.Location.Address.City = "Tampa"
	pickup.Location.Address.StateProvince = "FL"

	transit := TrackActivity{
		Status: TrackStatus{Type: "I", Code: "DP", Description: "Departed from Facility"},
		Date:   now.Add(-6 * time.Hour).Format("20060102"),
		Time:   now.Add(-6 * time.Hour).Format("150405"),
	}
	transit.Location.Address.City = "Atlanta"
	transit.Location.Address.StateProvince = "GA"

	return &TrackResponseEnvelope{TrackResponse: TrackResponse{Shipment: []TrackShipment{{
		Package: []TrackPackage{{
			TrackingNumber: trackingNumber,
			CurrentStatus:  TrackStatus{Type: "I", Code: "DP", Description: "In Transit"},
			DeliveryDate:   []TrackDate{{Type: "SDD", Date: now.AddDate(0, 0, 2).Format("20060102")}},
			Activity:       []TrackActivity{transit, pickup},
		}},
	}}}}, nil
}

var _ APIClient = (*MockAPIClient)(nil)
