package dhl

import (
	"context"
)

// APIClient defines the interface for DHL Express (MyDHL API) operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// GetRates returns the products DHL offers for a shipment.
	GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error)

	// CreateShipment books a shipment and returns its label documents.
	CreateShipment(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error)

	// GetTracking retrieves the event history for a waybill number.
	GetTracking(ctx context.Context, trackingNumber string) (*TrackingResponse, error)
}

// ============================================================================
// API Request/Response Types
// ============================================================================

// Account references a DHL billing account.
type Account struct {
	TypeCode string `json:"typeCode"` // "shipper"
	Number   string `json:"number"`
}

// RateAddress is the address shape used by the rating endpoint.
type RateAddress struct {
	PostalCode   string `json:"postalCode"`
	CityName     string `json:"cityName"`
	CountryCode  string `json:"countryCode"`
	AddressLine1 string `json:"addressLine1,omitempty"`
}

// RateCustomerDetails holds origin and destination for rating.
type RateCustomerDetails struct {
	ShipperDetails  RateAddress `json:"shipperDetails"`
	ReceiverDetails RateAddress `json:"receiverDetails"`
}

// PackageDimensions in the request's unit of measurement.
type PackageDimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Package is a single piece.
type Package struct {
	Weight     float64           `json:"weight"`
	Dimensions PackageDimensions `json:"dimensions"`
}

// RatesRequest is the request body for rating.
// POST /rates
type RatesRequest struct {
	CustomerDetails            RateCustomerDetails `json:"customerDetails"`
	Accounts                   []Account           `json:"accounts"`
	PlannedShippingDateAndTime string              `json:"plannedShippingDateAndTime"`
	UnitOfMeasurement          string              `json:"unitOfMeasurement"` // metric, imperial
	IsCustomsDeclarable        bool                `json:"isCustomsDeclarable"`
	MonetaryAmount             []MonetaryAmount    `json:"monetaryAmount,omitempty"`
	Packages                   []Package           `json:"packages"`
}

// MonetaryAmount declares a value for insurance or customs.
type MonetaryAmount struct {
	TypeCode string  `json:"typeCode"` // "declaredValue"
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

// RatesResponse lists one product per offered service.
type RatesResponse struct {
	Products []Product `json:"products"`
}

// Product is one priced DHL service.
type Product struct {
	ProductName          string                `json:"productName"`
	ProductCode          string                `json:"productCode"`
	LocalProductCode     string                `json:"localProductCode,omitempty"`
	TotalPrice           []Price               `json:"totalPrice"`
	DeliveryCapabilities *DeliveryCapabilities `json:"deliveryCapabilities,omitempty"`
}

// Price is an amount in a currency type. BILLC is the billing currency.
type Price struct {
	CurrencyType  string  `json:"currencyType"`
	PriceCurrency string  `json:"priceCurrency"`
	Price         float64 `json:"price"`
}

// DeliveryCapabilities carries the transit estimate.
type DeliveryCapabilities struct {
	EstimatedDeliveryDateAndTime string `json:"estimatedDeliveryDateAndTime,omitempty"`
	TotalTransitDays             int    `json:"totalTransitDays"`
}

// PostalAddress is the address shape used by the shipment endpoint.
type PostalAddress struct {
	PostalCode   string `json:"postalCode"`
	CityName     string `json:"cityName"`
	CountryCode  string `json:"countryCode"`
	ProvinceCode string `json:"provinceCode,omitempty"`
	AddressLine1 string `json:"addressLine1"`
}

// ContactInformation of a party.
type ContactInformation struct {
	FullName    string `json:"fullName"`
	CompanyName string `json:"companyName"`
	Phone       string `json:"phone"`
}

// PartyDetails is a shipper or receiver.
type PartyDetails struct {
	PostalAddress      PostalAddress      `json:"postalAddress"`
	ContactInformation ContactInformation `json:"contactInformation"`
}

// ShipmentCustomerDetails holds both parties.
type ShipmentCustomerDetails struct {
	ShipperDetails  PartyDetails `json:"shipperDetails"`
	ReceiverDetails PartyDetails `json:"receiverDetails"`
}

// ShipmentContent describes what is shipped.
type ShipmentContent struct {
	Packages            []Package `json:"packages"`
	IsCustomsDeclarable bool      `json:"isCustomsDeclarable"`
	DeclaredValue       float64   `json:"declaredValue,omitempty"`
	DeclaredValueCurr   string    `json:"declaredValueCurrency,omitempty"`
	Description         string    `json:"description"`
	UnitOfMeasurement   string    `json:"unitOfMeasurement"`
}

// Pickup controls courier pickup booking.
type Pickup struct {
	IsRequested bool `json:"isRequested"`
}

// OutputImageProperties selects label encoding.
type OutputImageProperties struct {
	EncodingFormat string `json:"encodingFormat"` // pdf, png, zpl
}

// CustomerReference is echoed on the label.
type CustomerReference struct {
	Value    string `json:"value"`
	TypeCode string `json:"typeCode"`
}

// ShipmentRequest is the request body for booking.
// POST /shipments
type ShipmentRequest struct {
	PlannedShippingDateAndTime string                  `json:"plannedShippingDateAndTime"`
	Pickup                     Pickup                  `json:"pickup"`
	ProductCode                string                  `json:"productCode"`
	Accounts                   []Account               `json:"accounts"`
	CustomerDetails            ShipmentCustomerDetails `json:"customerDetails"`
	Content                    ShipmentContent         `json:"content"`
	OutputImageProperties      OutputImageProperties   `json:"outputImageProperties"`
	CustomerReferences         []CustomerReference     `json:"customerReferences,omitempty"`
}

// ShipmentResponse is returned after booking.
type ShipmentResponse struct {
	ShipmentTrackingNumber string           `json:"shipmentTrackingNumber"`
	TrackingURL            string           `json:"trackingUrl"`
	Packages               []ShippedPackage `json:"packages"`
	Documents              []Document       `json:"documents"`
	ShipmentCharges        []Price          `json:"shipmentCharges"`
}

// ShippedPackage is a piece-level tracking number.
type ShippedPackage struct {
	ReferenceNumber int    `json:"referenceNumber"`
	TrackingNumber  string `json:"trackingNumber"`
}

// Document is a base64 label or waybill document.
type Document struct {
	ImageFormat string `json:"imageFormat"`
	Content     string `json:"content"`
	TypeCode    string `json:"typeCode"` // label, waybillDoc, invoice
}

// TrackingResponse is returned by the tracking endpoint.
// GET /shipments/{shipmentTrackingNumber}/tracking
type TrackingResponse struct {
	Shipments []TrackedShipment `json:"shipments"`
}

// TrackedShipment is one waybill's history.
type TrackedShipment struct {
	ShipmentTrackingNumber string          `json:"shipmentTrackingNumber"`
	Status                 string          `json:"status"`
	EstimatedDeliveryDate  string          `json:"estimatedDeliveryDate,omitempty"`
	Events                 []TrackingEvent `json:"events"`
}

// TrackingEvent is one checkpoint.
type TrackingEvent struct {
	Date        string        `json:"date"` // 2006-01-02
	Time        string        `json:"time"` // 15:04:05
	TypeCode    string        `json:"typeCode"`
	Description string        `json:"description"`
	ServiceArea []ServiceArea `json:"serviceArea"`
}

// ServiceArea is the DHL facility where an event happened.
type ServiceArea struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// APIError represents an error from the DHL API (problem+json).
type APIError struct {
	StatusCode int    `json:"-"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
	Instance   string `json:"instance,omitempty"`
}

func (e *APIError) Error() string {
	if e.Title == "" {
		return e.Detail
	}
	return e.Title + ": " + e.Detail
}
