// Package ups provides integration with the UPS REST shipping APIs.
package ups

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/americaniron/ironfreight/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config holds UPS configuration.
type Config struct {
	ClientID      string
	ClientSecret  string
	AccountNumber string // Shipper number billed for labels
	BaseURL       string
	LabelFormat   string // PNG or ZPL
	UseMock       bool   // When true, uses mock API client
}

// Client is the UPS shipper client.
// It implements the shipper.Shipper interface and delegates
// API calls to the underlying APIClient (mock or HTTP).
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new UPS client.
// If cfg.UseMock is true, it uses a mock API client for testing.
// Otherwise, it uses the real HTTP API client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL:      cfg.BaseURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Timeout:      30 * time.Second,
		})
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new UPS client with a custom API client.
// This is useful for injecting mock clients in tests.
func NewWithAPIClient(cfg Config, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	return &Client{
		config:    cfg,
		apiClient: apiClient,
		logger:    logger,
		tracer:    tracer,
	}
}

// Name returns the carrier name.
func (c *Client) Name() shipper.Carrier {
	return shipper.CarrierUPS
}

// GetRates shops all UPS services for the shipment.
func (c *Client) GetRates(ctx context.Context, req *shipper.RateRequest) (quotes []shipper.Quote, err error) {
	ctx, span := shipper.StartSpan(ctx, c.tracer, shipper.CarrierUPS, "rates")
	defer func() { shipper.EndSpan(span, err) }()

	c.logger.Ctx(ctx).Info("Getting UPS rates",
		zap.String("origin_city", req.Shipper.City),
		zap.String("destination_city", req.Recipient.City),
		zap.Int("package_count", len(req.Packages)),
	)

	apiReq := &RateRequestEnvelope{RateRequest: RateRequest{
		Request: RequestHeader{RequestOption: "Shop"},
		Shipment: Shipment{
			Shipper:          c.party(req.Shipper),
			ShipFrom:         c.party(req.Shipper),
			ShipTo:           c.party(req.Recipient),
			Package:          packagesToAPI(req.Packages),
			DeliveryTimeInfo: &DeliveryTimeRequest{PackageBillType: "03"},
		},
	}}

	apiResp, err := c.apiClient.GetRates(ctx, apiReq)
	if err != nil {
		c.logger.Ctx(ctx).Error("UPS API error", zap.Error(err))
		return nil, toShipperError(err)
	}

	return shipper.ValidQuotes(ratedShipmentsToQuotes(apiResp.RateResponse.RatedShipment), c.dropQuote(ctx)), nil
}

// CreateShipment buys a UPS label for the selected service code.
func (c *Client) CreateShipment(ctx context.Context, req *shipper.ShipmentRequest) (purchase *shipper.Purchase, err error) {
	ctx, span := shipper.StartSpan(ctx, c.tracer, shipper.CarrierUPS, "create_shipment")
	defer func() { shipper.EndSpan(span, err) }()

	c.logger.Ctx(ctx).Info("Creating UPS shipment",
		zap.String("service_code", req.SelectedServiceCode),
		zap.String("recipient", req.Recipient.Name),
		zap.String("order_id", req.OrderID()),
	)

	shipment := Shipment{
		Description: "Heavy equipment parts",
		Shipper:     c.party(req.Shipper),
		ShipFrom:    c.party(req.Shipper),
		ShipTo:      c.party(req.Recipient),
		Service:     &CodeDescription{Code: req.SelectedServiceCode},
		Package:     packagesToAPI(req.Packages),
		PaymentInformation: &PaymentInformation{ShipmentCharge: []ShipmentCharge{{
			Type:        "01",
			BillShipper: &BillShipper{AccountNumber: c.config.AccountNumber},
		}}},
	}
	if id := req.OrderID(); id != "" {
		shipment.ReferenceNumber = &ReferenceNumber{Value: id}
	}

	apiReq := &ShipmentRequestEnvelope{ShipmentRequest: ShipmentRequest{
		Request:            RequestHeader{RequestOption: "nonvalidate"},
		Shipment:           shipment,
		LabelSpecification: LabelSpecification{LabelImageFormat: CodeDescription{Code: c.labelFormat()}},
	}}

	apiResp, err := c.apiClient.CreateShipment(ctx, apiReq)
	if err != nil {
		c.logger.Ctx(ctx).Error("UPS API error", zap.Error(err))
		return nil, toShipperError(err)
	}

	return shipmentResultsToPurchase(req.SelectedServiceCode, &apiResp.ShipmentResponse.ShipmentResults)
}

// Track returns the normalized status of a UPS shipment.
func (c *Client) Track(ctx context.Context, trackingNumber string) (status *shipper.TrackingStatus, err error) {
	ctx, span := shipper.StartSpan(ctx, c.tracer, shipper.CarrierUPS, "track")
	defer func() { shipper.EndSpan(span, err) }()

	c.logger.Ctx(ctx).Info("Tracking UPS shipment", zap.String("tracking_number", trackingNumber))

	apiResp, err := c.apiClient.GetTracking(ctx, trackingNumber)
	if err != nil {
		c.logger.Ctx(ctx).Error("UPS API error", zap.Error(err))
		return nil, toShipperError(err)
	}

	return trackResponseToShipper(trackingNumber, apiResp)
}

func (c *Client) labelFormat() string {
	switch strings.ToUpper(c.config.LabelFormat) {
	case "ZPL":
		return "ZPL"
	default:
		return "PNG"
	}
}

// ============================================================================
// Conversion helpers: Shipper models -> API models
// ============================================================================

func (c *Client) party(addr shipper.Address) Party {
	p := Party{
		Name:          addr.Name,
		ShipperNumber: c.config.AccountNumber,
		Address: Address{
			AddressLine:       []string{addr.Address1},
			City:              addr.City,
			StateProvinceCode: addr.State,
			PostalCode:        addr.PostalCode,
			CountryCode:       addr.CountryCode,
		},
	}
	if addr.Phone != "" {
		p.Phone = &Phone{Number: addr.Phone}
	}
	return p
}

func packagesToAPI(pkgs []shipper.Package) []Package {
	result := make([]Package, len(pkgs))
	for i, p := range pkgs {
		unit, weightUnit := shipper.DimensionIN, "LBS"
		if p.Weight.Unit == shipper.WeightKG {
			unit, weightUnit = shipper.DimensionCM, "KGS"
		}
		l, w, h := p.DimensionsIn(unit)
		weight := p.WeightIn(shipper.WeightLB)
		if weightUnit == "KGS" {
			weight = p.WeightIn(shipper.WeightKG)
		}

		result[i] = Package{
			PackagingType: CodeDescription{Code: "02"},
			Dimensions: Dimensions{
				UnitOfMeasurement: CodeDescription{Code: string(unit)},
				Length:            formatNumber(l),
				Width:             formatNumber(w),
				Height:            formatNumber(h),
			},
			PackageWeight: PackageWeight{
				UnitOfMeasurement: CodeDescription{Code: weightUnit},
				Weight:            formatNumber(weight),
			},
		}
		if p.DeclaredValue.Amount > 0 {
			result[i].PackageServiceOptions = &PackageServiceOptions{DeclaredValue: &DeclaredValue{
				CurrencyCode:  p.DeclaredValue.Currency,
				MonetaryValue: fmt.Sprintf("%.2f", p.DeclaredValue.Amount),
			}}
		}
	}
	return result
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// totalPounds sums package weights from their wire representation.
func totalPounds(pkgs []Package) float64 {
	var lbs float64
	for _, p := range pkgs {
		w, _ := strconv.ParseFloat(p.PackageWeight.Weight, 64)
		if p.PackageWeight.UnitOfMeasurement.Code == "KGS" {
			w /= 0.45359237
		}
		lbs += w
	}
	return lbs
}

func (c *Client) dropQuote(ctx context.Context) func(shipper.Quote) {
	return func(q shipper.Quote) {
		c.logger.Ctx(ctx).Warn("Dropping UPS quote with negative cost or transit time",
			zap.String("service_code", q.ServiceCode),
			zap.Float64("total_cost", q.TotalCost),
			zap.Int("eta_days", q.ETADays),
		)
	}
}

// ============================================================================
// Conversion helpers: API models -> Shipper models
// ============================================================================

func ratedShipmentsToQuotes(rated []RatedShipment) []shipper.Quote {
	quotes := make([]shipper.Quote, 0, len(rated))
	for _, r := range rated {
		charges := r.TotalCharges
		if r.NegotiatedCharges != nil && r.NegotiatedCharges.TotalCharge.MonetaryValue != "" {
			charges = r.NegotiatedCharges.TotalCharge
		}
		cost, err := strconv.ParseFloat(charges.MonetaryValue, 64)
		if err != nil {
			continue
		}

		quotes = append(quotes, shipper.Quote{
			Carrier:     shipper.CarrierUPS,
			ServiceCode: r.Service.Code,
			ServiceName: serviceName(r.Service),
			TotalCost:   cost,
			Currency:    charges.CurrencyCode,
			ETADays:     transitDays(r),
		})
	}
	return quotes
}

func transitDays(r RatedShipment) int {
	if r.GuaranteedDelivery != nil {
		if d, err := strconv.Atoi(r.GuaranteedDelivery.BusinessDaysInTransit); err == nil {
			return d
		}
	}
	if r.TimeInTransit != nil {
		if d, err := strconv.Atoi(r.TimeInTransit.ServiceSummary.EstimatedArrival.BusinessDaysInTransit); err == nil {
			return d
		}
	}
	return 0
}

func shipmentResultsToPurchase(serviceCode string, res *ShipmentResults) (*shipper.Purchase, error) {
	if len(res.PackageResults) == 0 {
		return nil, shipper.NewShipperError(shipper.CarrierUPS, "NO_LABEL", "shipment response contained no package results")
	}
	pkg := res.PackageResults[0]

	data, err := base64.StdEncoding.DecodeString(pkg.ShippingLabel.GraphicImage)
	if err != nil {
		return nil, shipper.NewShipperError(shipper.CarrierUPS, "BAD_LABEL", "label image is not valid base64").WithCause(err)
	}

	charged, _ := strconv.ParseFloat(res.ShipmentCharges.TotalCharges.MonetaryValue, 64)

	return &shipper.Purchase{
		Carrier:        shipper.CarrierUPS,
		ServiceCode:    serviceCode,
		ServiceName:    serviceName(CodeDescription{Code: serviceCode}),
		TrackingNumber: pkg.TrackingNumber,
		ShipmentID:     res.ShipmentIdentificationNumber,
		Charged:        charged,
		Currency:       res.ShipmentCharges.TotalCharges.CurrencyCode,
		Label: shipper.LabelDocument{
			Format: mapLabelFormat(pkg.ShippingLabel.ImageFormat.Code),
			Data:   data,
		},
	}, nil
}

func trackResponseToShipper(trackingNumber string, resp *TrackResponseEnvelope) (*shipper.TrackingStatus, error) {
	if len(resp.TrackResponse.Shipment) == 0 || len(resp.TrackResponse.Shipment[0].Package) == 0 {
		return nil, shipper.NewShipperError(shipper.CarrierUPS, "TRACKING_NOT_FOUND", "no package for "+trackingNumber).
			WithStatusCode(http.StatusNotFound).
			WithCause(shipper.ErrTrackingNotFound)
	}
	pkg := resp.TrackResponse.Shipment[0].Package[0]

	status := &shipper.TrackingStatus{
		Carrier:        shipper.CarrierUPS,
		TrackingNumber: trackingNumber,
		Status:         mapTrackingState(pkg.CurrentStatus.Type),
		Events:         make([]shipper.TrackingEvent, 0, len(pkg.Activity)),
	}
	if pkg.TrackingNumber != "" {
		status.TrackingNumber = pkg.TrackingNumber
	}
	for _, d := range pkg.DeliveryDate {
		if t, err := time.Parse("20060102", d.Date); err == nil {
			status.EstimatedDelivery = &t
			break
		}
	}

	for _, a := range pkg.Activity {
		ts, _ := time.Parse("20060102150405", a.Date+a.Time)
		loc := a.Location.Address.City
		if a.Location.Address.StateProvince != "" {
			loc += ", " + a.Location.Address.StateProvince
		}
		status.Events = append(status.Events, shipper.TrackingEvent{
			Timestamp:   ts,
			Description: a.Status.Description,
			Location:    strings.TrimPrefix(loc, ", "),
			Status:      mapTrackingState(a.Status.Type),
		})
	}
	return status, nil
}

// ============================================================================
// Mapping helpers
// ============================================================================

var serviceNames = map[string]string{
	"01": "UPS Next Day Air",
	"02": "UPS 2nd Day Air",
	"03": "UPS Ground",
	"07": "UPS Worldwide Express",
	"08": "UPS Worldwide Expedited",
	"11": "UPS Standard",
	"12": "UPS 3 Day Select",
	"13": "UPS Next Day Air Saver",
	"14": "UPS Next Day Air Early",
	"54": "UPS Worldwide Express Plus",
	"59": "UPS 2nd Day Air A.M.",
	"65": "UPS Worldwide Saver",
}

func serviceName(s CodeDescription) string {
	if name, ok := serviceNames[s.Code]; ok {
		return name
	}
	if s.Description != "" {
		return s.Description
	}
	return "UPS Service " + s.Code
}

func mapTrackingState(statusType string) shipper.TrackingState {
	switch statusType {
	case "M", "P":
		return shipper.TrackingPending
	case "I":
		return shipper.TrackingInTransit
	case "O":
		return shipper.TrackingOutForDelivery
	case "D":
		return shipper.TrackingDelivered
	case "X", "RS":
		return shipper.TrackingException
	default:
		return shipper.TrackingUnknown
	}
}

func mapLabelFormat(format string) shipper.LabelFormat {
	switch strings.ToUpper(format) {
	case "ZPL":
		return shipper.LabelZPL
	default:
		return shipper.LabelPNG
	}
}

// toShipperError classifies a UPS API failure.
func toShipperError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return shipper.NewShipperError(shipper.CarrierUPS, "TRANSPORT", "UPS request failed").
			WithCause(err).
			WithRetryable(true)
	}

	sErr := shipper.NewShipperError(shipper.CarrierUPS, apiErr.Code, apiErr.Message).WithStatusCode(apiErr.StatusCode)
	switch {
	case apiErr.Code == "111100" || apiErr.Code == "111210" || apiErr.Code == "111217":
		return sErr.WithStatusCode(http.StatusUnprocessableEntity).WithCause(shipper.ErrServiceNotOffered)
	case strings.HasPrefix(apiErr.Code, "1208") || strings.HasPrefix(apiErr.Code, "1112"):
		return sErr.WithCause(shipper.ErrInvalidAddress)
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
		return sErr.WithCause(shipper.ErrAuthenticationFailed)
	case apiErr.StatusCode == http.StatusNotFound:
		return sErr.WithCause(shipper.ErrTrackingNotFound)
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return sErr.WithCause(shipper.ErrRateLimitExceeded).WithRetryable(true)
	case apiErr.StatusCode >= 500:
		return sErr.WithCause(shipper.ErrServiceUnavailable).WithRetryable(true)
	default:
		return sErr
	}
}
