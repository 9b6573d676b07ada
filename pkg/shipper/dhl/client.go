// Package dhl provides integration with the DHL Express (MyDHL) API.
package dhl

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/americaniron/ironfreight/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const plannedDateLayout = "2006-01-02T15:04:05 GMT-07:00"

// Config holds DHL Express configuration.
type Config struct {
	APIKey        string
	APISecret     string
	AccountNumber string
	BaseURL       string
	LabelFormat   string // pdf, png or zpl
	UseMock       bool   // When true, uses mock API client
}

// Client is the DHL Express shipper client.
// It implements the shipper.Shipper interface and delegates
// API calls to the underlying APIClient (mock or HTTP).
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// New creates a new DHL Express client.
// If cfg.UseMock is true, it uses a mock API client for testing.
// Otherwise, it uses the real HTTP API client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL:  cfg.BaseURL,
			Username: cfg.APIKey,
			Password: cfg.APISecret,
			Timeout:  30 * time.Second,
		})
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new DHL Express client with a custom API client.
// This is useful for injecting mock clients in tests.
func NewWithAPIClient(cfg Config, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	return &Client{
		config:    cfg,
		apiClient: apiClient,
		logger:    logger,
		tracer:    tracer,
		now:       time.Now,
	}
}

// Name returns the carrier name.
func (c *Client) Name() shipper.Carrier {
	return shipper.CarrierDHL
}

// GetRates returns the DHL Express products offered for the shipment.
func (c *Client) GetRates(ctx context.Context, req *shipper.RateRequest) (quotes []shipper.Quote, err error) {
	ctx, span := shipper.StartSpan(ctx, c.tracer, shipper.CarrierDHL, "rates")
	defer func() { shipper.EndSpan(span, err) }()

	c.logger.Ctx(ctx).Info("Getting DHL rates",
		zap.String("origin_city", req.Shipper.City),
		zap.String("destination_city", req.Recipient.City),
		zap.Int("package_count", len(req.Packages)),
	)

	uom, pkgs := packagesToAPI(req.Packages)
	apiReq := &RatesRequest{
		CustomerDetails: RateCustomerDetails{
			ShipperDetails:  rateAddress(req.Shipper),
			ReceiverDetails: rateAddress(req.Recipient),
		},
		Accounts:                   c.accounts(),
		PlannedShippingDateAndTime: c.plannedDate(),
		UnitOfMeasurement:          uom,
		IsCustomsDeclarable:        req.Shipper.CountryCode != req.Recipient.CountryCode,
		MonetaryAmount:             declaredValue(req.Packages),
		Packages:                   pkgs,
	}

	apiResp, err := c.apiClient.GetRates(ctx, apiReq)
	if err != nil {
		c.logger.Ctx(ctx).Error("DHL API error", zap.Error(err))
		return nil, toShipperError(err)
	}

	return shipper.ValidQuotes(productsToQuotes(apiResp.Products), c.dropQuote(ctx)), nil
}

// CreateShipment books a DHL Express shipment for the selected product code.
func (c *Client) CreateShipment(ctx context.Context, req *shipper.ShipmentRequest) (purchase *shipper.Purchase, err error) {
	ctx, span := shipper.StartSpan(ctx, c.tracer, shipper.CarrierDHL, "create_shipment")
	defer func() { shipper.EndSpan(span, err) }()

	c.logger.Ctx(ctx).Info("Creating DHL shipment",
		zap.String("product_code", req.SelectedServiceCode),
		zap.String("recipient", req.Recipient.Name),
		zap.String("order_id", req.OrderID()),
	)

	uom, pkgs := packagesToAPI(req.Packages)
	content := ShipmentContent{
		Packages:            pkgs,
		IsCustomsDeclarable: req.Shipper.CountryCode != req.Recipient.CountryCode,
		Description:         "Heavy equipment parts",
		UnitOfMeasurement:   uom,
	}
	if dv := declaredValue(req.Packages); len(dv) > 0 {
		content.DeclaredValue = dv[0].Value
		content.DeclaredValueCurr = dv[0].Currency
	}

	apiReq := &ShipmentRequest{
		PlannedShippingDateAndTime: c.plannedDate(),
		ProductCode:                req.SelectedServiceCode,
		Accounts:                   c.accounts(),
		CustomerDetails: ShipmentCustomerDetails{
			ShipperDetails:  partyDetails(req.Shipper),
			ReceiverDetails: partyDetails(req.Recipient),
		},
		Content:               content,
		OutputImageProperties: OutputImageProperties{EncodingFormat: c.labelFormat()},
	}
	if id := req.OrderID(); id != "" {
		apiReq.CustomerReferences = []CustomerReference{{Value: id, TypeCode: "CU"}}
	}

	apiResp, err := c.apiClient.CreateShipment(ctx, apiReq)
	if err != nil {
		c.logger.Ctx(ctx).Error("DHL API error", zap.Error(err))
		return nil, toShipperError(err)
	}

	return shipmentResponseToPurchase(req.SelectedServiceCode, apiResp)
}

// Track returns the normalized status of a DHL waybill.
func (c *Client) Track(ctx context.Context, trackingNumber string) (status *shipper.TrackingStatus, err error) {
	ctx, span := shipper.StartSpan(ctx, c.tracer, shipper.CarrierDHL, "track")
	defer func() { shipper.EndSpan(span, err) }()

	c.logger.Ctx(ctx).Info("Tracking DHL shipment", zap.String("tracking_number", trackingNumber))

	apiResp, err := c.apiClient.GetTracking(ctx, trackingNumber)
	if err != nil {
		c.logger.Ctx(ctx).Error("DHL API error", zap.Error(err))
		return nil, toShipperError(err)
	}

	return trackingResponseToShipper(trackingNumber, apiResp)
}

func (c *Client) accounts() []Account {
	return []Account{{TypeCode: "shipper", Number: c.config.AccountNumber}}
}

func (c *Client) plannedDate() string {
	return c.now().Add(time.Hour).Format(plannedDateLayout)
}

func (c *Client) labelFormat() string {
	switch strings.ToLower(c.config.LabelFormat) {
	case "png":
		return "png"
	case "zpl":
		return "zpl"
	default:
		return "pdf"
	}
}

// ============================================================================
// Conversion helpers: Shipper models -> API models
// ============================================================================

func rateAddress(addr shipper.Address) RateAddress {
	return RateAddress{
		PostalCode:   addr.PostalCode,
		CityName:     addr.City,
		CountryCode:  addr.CountryCode,
		AddressLine1: addr.Address1,
	}
}

func partyDetails(addr shipper.Address) PartyDetails {
	return PartyDetails{
		PostalAddress: PostalAddress{
			PostalCode:   addr.PostalCode,
			CityName:     addr.City,
			CountryCode:  addr.CountryCode,
			ProvinceCode: addr.State,
			AddressLine1: addr.Address1,
		},
		ContactInformation: ContactInformation{
			FullName:    addr.Name,
			CompanyName: addr.Name,
			Phone:       addr.Phone,
		},
	}
}

// packagesToAPI converts packages into a single unit system, chosen by the
// first package's weight unit.
func packagesToAPI(pkgs []shipper.Package) (string, []Package) {
	uom := "imperial"
	weightUnit, dimUnit := shipper.WeightLB, shipper.DimensionIN
	if len(pkgs) > 0 && pkgs[0].Weight.Unit == shipper.WeightKG {
		uom = "metric"
		weightUnit, dimUnit = shipper.WeightKG, shipper.DimensionCM
	}

	result := make([]Package, len(pkgs))
	for i, p := range pkgs {
		l, w, h := p.DimensionsIn(dimUnit)
		result[i] = Package{
			Weight:     roundCents(p.WeightIn(weightUnit)),
			Dimensions: PackageDimensions{Length: roundCents(l), Width: roundCents(w), Height: roundCents(h)},
		}
	}
	return uom, result
}

func declaredValue(pkgs []shipper.Package) []MonetaryAmount {
	var total float64
	currency := ""
	for _, p := range pkgs {
		total += p.DeclaredValue.Amount
		if currency == "" {
			currency = p.DeclaredValue.Currency
		}
	}
	if total <= 0 {
		return nil
	}
	return []MonetaryAmount{{TypeCode: "declaredValue", Value: roundCents(total), Currency: currency}}
}

func (c *Client) dropQuote(ctx context.Context) func(shipper.Quote) {
	return func(q shipper.Quote) {
		c.logger.Ctx(ctx).Warn("Dropping DHL quote with negative cost or transit time",
			zap.String("service_code", q.ServiceCode),
			zap.Float64("total_cost", q.TotalCost),
			zap.Int("eta_days", q.ETADays),
		)
	}
}

// ============================================================================
// Conversion helpers: API models -> Shipper models
// ============================================================================

func productsToQuotes(products []Product) []shipper.Quote {
	quotes := make([]shipper.Quote, 0, len(products))
	for _, p := range products {
		price, ok := billingPrice(p.TotalPrice)
		if !ok {
			continue
		}
		q := shipper.Quote{
			Carrier:     shipper.CarrierDHL,
			ServiceCode: p.ProductCode,
			ServiceName: productName(p.ProductName),
			TotalCost:   price.Price,
			Currency:    price.PriceCurrency,
		}
		if p.DeliveryCapabilities != nil {
			q.ETADays = p.DeliveryCapabilities.TotalTransitDays
		}
		quotes = append(quotes, q)
	}
	return quotes
}

// billingPrice picks the billing-currency price, falling back to the first.
func billingPrice(prices []Price) (Price, bool) {
	for _, p := range prices {
		if p.CurrencyType == "BILLC" {
			return p, true
		}
	}
	if len(prices) > 0 {
		return prices[0], true
	}
	return Price{}, false
}

func shipmentResponseToPurchase(productCode string, resp *ShipmentResponse) (*shipper.Purchase, error) {
	var label *Document
	for i := range resp.Documents {
		if resp.Documents[i].TypeCode == "label" {
			label = &resp.Documents[i]
			break
		}
	}
	if label == nil {
		return nil, shipper.NewShipperError(shipper.CarrierDHL, "NO_LABEL", "shipment response contained no label document")
	}

	data, err := base64.StdEncoding.DecodeString(label.Content)
	if err != nil {
		return nil, shipper.NewShipperError(shipper.CarrierDHL, "BAD_LABEL", "label content is not valid base64").WithCause(err)
	}

	purchase := &shipper.Purchase{
		Carrier:        shipper.CarrierDHL,
		ServiceCode:    productCode,
		ServiceName:    productName(productCodes[productCode]),
		TrackingNumber: resp.ShipmentTrackingNumber,
		ShipmentID:     resp.ShipmentTrackingNumber,
		Label: shipper.LabelDocument{
			Format: mapLabelFormat(label.ImageFormat),
			Data:   data,
		},
	}
	if price, ok := billingPrice(resp.ShipmentCharges); ok {
		purchase.Charged = price.Price
		purchase.Currency = price.PriceCurrency
	}
	return purchase, nil
}

func trackingResponseToShipper(trackingNumber string, resp *TrackingResponse) (*shipper.TrackingStatus, error) {
	if len(resp.Shipments) == 0 {
		return nil, shipper.NewShipperError(shipper.CarrierDHL, "TRACKING_NOT_FOUND", "no shipment for "+trackingNumber).
			WithStatusCode(http.StatusNotFound).
			WithCause(shipper.ErrTrackingNotFound)
	}
	s := resp.Shipments[0]

	status := &shipper.TrackingStatus{
		Carrier:        shipper.CarrierDHL,
		TrackingNumber: trackingNumber,
		Status:         mapShipmentStatus(s.Status),
		Events:         make([]shipper.TrackingEvent, 0, len(s.Events)),
	}
	if t, err := time.Parse("2006-01-02", s.EstimatedDeliveryDate); err == nil {
		status.EstimatedDelivery = &t
	}

	// DHL lists checkpoints oldest first; normalize to newest first.
	for i := len(s.Events) - 1; i >= 0; i-- {
		e := s.Events[i]
		ts, _ := time.Parse("2006-01-02 15:04:05", e.Date+" "+e.Time)
		loc := ""
		if len(e.ServiceArea) > 0 {
			loc = e.ServiceArea[0].Description
		}
		status.Events = append(status.Events, shipper.TrackingEvent{
			Timestamp:   ts,
			Description: e.Description,
			Location:    loc,
			Status:      mapEventType(e.TypeCode),
		})
	}
	return status, nil
}

// ============================================================================
// Mapping helpers
// ============================================================================

var productCodes = map[string]string{
	"P": "EXPRESS WORLDWIDE",
	"D": "EXPRESS WORLDWIDE",
	"Y": "EXPRESS 12:00",
	"K": "EXPRESS 9:00",
	"N": "EXPRESS DOMESTIC",
	"H": "ECONOMY SELECT",
	"W": "ECONOMY SELECT",
}

func productName(name string) string {
	if name == "" {
		return "DHL Express"
	}
	return "DHL " + name
}

func mapShipmentStatus(status string) shipper.TrackingState {
	switch status {
	case "pre-transit":
		return shipper.TrackingPending
	case "transit":
		return shipper.TrackingInTransit
	case "delivered":
		return shipper.TrackingDelivered
	case "failure":
		return shipper.TrackingException
	default:
		return shipper.TrackingUnknown
	}
}

func mapEventType(code string) shipper.TrackingState {
	switch code {
	case "SD", "PU":
		return shipper.TrackingPending
	case "PL", "DF", "AF", "AR", "CC", "RW":
		return shipper.TrackingInTransit
	case "WC":
		return shipper.TrackingOutForDelivery
	case "OK":
		return shipper.TrackingDelivered
	case "OH", "CA", "NH", "BA":
		return shipper.TrackingException
	default:
		return shipper.TrackingUnknown
	}
}

func mapLabelFormat(format string) shipper.LabelFormat {
	switch strings.ToUpper(format) {
	case "PNG":
		return shipper.LabelPNG
	case "ZPL":
		return shipper.LabelZPL
	default:
		return shipper.LabelPDF
	}
}

// toShipperError classifies a DHL API failure.
func toShipperError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return shipper.NewShipperError(shipper.CarrierDHL, "TRANSPORT", "DHL request failed").
			WithCause(err).
			WithRetryable(true)
	}

	sErr := shipper.NewShipperError(shipper.CarrierDHL, errorCode(apiErr), apiErr.Detail).WithStatusCode(apiErr.StatusCode)
	detail := strings.ToLower(apiErr.Detail)
	switch {
	case apiErr.StatusCode == http.StatusUnprocessableEntity && strings.Contains(detail, "product"):
		return sErr.WithCause(shipper.ErrServiceNotOffered)
	case apiErr.StatusCode == http.StatusBadRequest && (strings.Contains(detail, "postal") || strings.Contains(detail, "address") || strings.Contains(detail, "city")):
		return sErr.WithCause(shipper.ErrInvalidAddress)
	case apiErr.StatusCode == http.StatusBadRequest && (strings.Contains(detail, "weight") || strings.Contains(detail, "dimension")):
		return sErr.WithCause(shipper.ErrInvalidPackage)
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

// errorCode extracts the numeric DHL code that prefixes most details ("996: ...").
func errorCode(apiErr *APIError) string {
	if i := strings.Index(apiErr.Detail, ":"); i > 0 && i <= 6 {
		return strings.TrimSpace(apiErr.Detail[:i])
	}
	if apiErr.Title != "" {
		return strings.ToUpper(strings.ReplaceAll(apiErr.Title, " ", "_"))
	}
	return "HTTP_" + http.StatusText(apiErr.StatusCode)
}
