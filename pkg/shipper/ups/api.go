package ups

import (
	"context"
)

// APIClient defines the interface for UPS API operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// GetRates shops all services for a shipment (RequestOption "Shop").
	GetRates(ctx context.Context, req *RateRequestEnvelope) (*RateResponseEnvelope, error)

	// CreateShipment buys a label for a single service.
	CreateShipment(ctx context.Context, req *ShipmentRequestEnvelope) (*ShipmentResponseEnvelope, error)

	// GetTracking retrieves tracking details for an inquiry number.
	GetTracking(ctx context.Context, trackingNumber string) (*TrackResponseEnvelope, error)
}

// ============================================================================
// API Request/Response Types (UPS REST JSON; numbers travel as strings)
// ============================================================================

// CodeDescription is the UPS {Code, Description} pair used across the API.
type CodeDescription struct {
	Code        string `json:"Code"`
	Description string `json:"Description,omitempty"`
}

// Address is a UPS street address.
type Address struct {
	AddressLine       []string `json:"AddressLine"`
	City              string   `json:"City"`
	StateProvinceCode string   `json:"StateProvinceCode,omitempty"`
	PostalCode        string   `json:"PostalCode"`
	CountryCode       string   `json:"CountryCode"`
}

// Party is a shipper, ship-from or ship-to.
type Party struct {
	Name          string `json:"Name"`
	ShipperNumber string `json:"ShipperNumber,omitempty"`
	Phone         *Phone `json:"Phone,omitempty"`
	Address       Address `json:"Address"`
}

// Phone number.
type Phone struct {
	Number string `json:"Number"`
}

// Dimensions of a package.
type Dimensions struct {
	UnitOfMeasurement CodeDescription `json:"UnitOfMeasurement"` // IN, CM
	Length            string          `json:"Length"`
	Width             string          `json:"Width"`
	Height            string          `json:"Height"`
}

// PackageWeight of a package.
type PackageWeight struct {
	UnitOfMeasurement CodeDescription `json:"UnitOfMeasurement"` // LBS, KGS
	Weight            string          `json:"Weight"`
}

// DeclaredValue for insurance.
type DeclaredValue struct {
	CurrencyCode  string `json:"CurrencyCode"`
	MonetaryValue string `json:"MonetaryValue"`
}

// PackageServiceOptions holds per-package options.
type PackageServiceOptions struct {
	DeclaredValue *DeclaredValue `json:"DeclaredValue,omitempty"`
}

// Package is a single piece.
type Package struct {
	PackagingType         CodeDescription        `json:"PackagingType"` // "02" customer supplied
	Dimensions            Dimensions             `json:"Dimensions"`
	PackageWeight         PackageWeight          `json:"PackageWeight"`
	PackageServiceOptions *PackageServiceOptions `json:"PackageServiceOptions,omitempty"`
}

// Shipment is shared by rating and shipping requests.
type Shipment struct {
	Description         string               `json:"Description,omitempty"`
	Shipper             Party                `json:"Shipper"`
	ShipTo              Party                `json:"ShipTo"`
	ShipFrom            Party                `json:"ShipFrom"`
	Service             *CodeDescription     `json:"Service,omitempty"`
	PaymentInformation  *PaymentInformation  `json:"PaymentInformation,omitempty"`
	Package             []Package            `json:"Package"`
	ReferenceNumber     *ReferenceNumber     `json:"ReferenceNumber,omitempty"`
	DeliveryTimeInfo    *DeliveryTimeRequest `json:"DeliveryTimeInformation,omitempty"`
}

// DeliveryTimeRequest asks UPS to include transit times in rating.
type DeliveryTimeRequest struct {
	PackageBillType string `json:"PackageBillType"`
}

// PaymentInformation bills the shipment.
type PaymentInformation struct {
	ShipmentCharge []ShipmentCharge `json:"ShipmentCharge"`
}

// ShipmentCharge bills one charge type to an account.
type ShipmentCharge struct {
	Type        string       `json:"Type"` // "01" transportation
	BillShipper *BillShipper `json:"BillShipper,omitempty"`
}

// BillShipper bills the shipper account.
type BillShipper struct {
	AccountNumber string `json:"AccountNumber"`
}

// ReferenceNumber attaches the caller's order id.
type ReferenceNumber struct {
	Value string `json:"Value"`
}

// RequestHeader is the common request header.
type RequestHeader struct {
	RequestOption        string                `json:"RequestOption,omitempty"`
	TransactionReference *TransactionReference `json:"TransactionReference,omitempty"`
}

// TransactionReference lets UPS echo a correlation id.
type TransactionReference struct {
	CustomerContext string `json:"CustomerContext"`
}

// RateRequestEnvelope wraps a rating request.
// POST /api/rating/v2403/Shop
type RateRequestEnvelope struct {
	RateRequest RateRequest `json:"RateRequest"`
}

// RateRequest is the rating request body.
type RateRequest struct {
	Request  RequestHeader `json:"Request"`
	Shipment Shipment      `json:"Shipment"`
}

// RateResponseEnvelope wraps a rating response.
type RateResponseEnvelope struct {
	RateResponse RateResponse `json:"RateResponse"`
}

// RateResponse lists one rated shipment per service.
type RateResponse struct {
	RatedShipment []RatedShipment `json:"RatedShipment"`
}

// RatedShipment is one priced service.
type RatedShipment struct {
	Service            CodeDescription     `json:"Service"`
	TotalCharges       Charges             `json:"TotalCharges"`
	NegotiatedCharges  *NegotiatedCharges  `json:"NegotiatedRateCharges,omitempty"`
	GuaranteedDelivery *GuaranteedDelivery `json:"GuaranteedDelivery,omitempty"`
	TimeInTransit      *TimeInTransit      `json:"TimeInTransit,omitempty"`
}

// Charges is a monetary amount.
type Charges struct {
	CurrencyCode  string `json:"CurrencyCode"`
	MonetaryValue string `json:"MonetaryValue"`
}

// NegotiatedCharges holds account-specific pricing.
type NegotiatedCharges struct {
	TotalCharge Charges `json:"TotalCharge"`
}

// GuaranteedDelivery carries the business days in transit for guaranteed services.
type GuaranteedDelivery struct {
	BusinessDaysInTransit string `json:"BusinessDaysInTransit"`
}

// TimeInTransit is returned when DeliveryTimeInformation was requested.
type TimeInTransit struct {
	ServiceSummary struct {
		EstimatedArrival struct {
			BusinessDaysInTransit string `json:"BusinessDaysInTransit"`
		} `json:"EstimatedArrival"`
	} `json:"ServiceSummary"`
}

// ShipmentRequestEnvelope wraps a ship request.
// POST /api/shipments/v2403/ship
type ShipmentRequestEnvelope struct {
	ShipmentRequest ShipmentRequest `json:"ShipmentRequest"`
}

// ShipmentRequest buys a label.
type ShipmentRequest struct {
	Request            RequestHeader      `json:"Request"`
	Shipment           Shipment           `json:"Shipment"`
	LabelSpecification LabelSpecification `json:"LabelSpecification"`
}

// LabelSpecification selects the label image format.
type LabelSpecification struct {
	LabelImageFormat CodeDescription `json:"LabelImageFormat"` // PNG, ZPL
}

// ShipmentResponseEnvelope wraps a ship response.
type ShipmentResponseEnvelope struct {
	ShipmentResponse ShipmentResponse `json:"ShipmentResponse"`
}

// ShipmentResponse is the ship response body.
type ShipmentResponse struct {
	ShipmentResults ShipmentResults `json:"ShipmentResults"`
}

// ShipmentResults carries charges, identification and labels.
type ShipmentResults struct {
	ShipmentCharges              ShipmentCharges `json:"ShipmentCharges"`
	ShipmentIdentificationNumber string          `json:"ShipmentIdentificationNumber"`
	PackageResults               []PackageResult `json:"PackageResults"`
}

// ShipmentCharges is the billed total.
type ShipmentCharges struct {
	TotalCharges Charges `json:"TotalCharges"`
}

// PackageResult is the label for one package.
type PackageResult struct {
	TrackingNumber string        `json:"TrackingNumber"`
	ShippingLabel  ShippingLabel `json:"ShippingLabel"`
}

// ShippingLabel is a base64 label image.
type ShippingLabel struct {
	ImageFormat  CodeDescription `json:"ImageFormat"`
	GraphicImage string          `json:"GraphicImage"`
}

// TrackResponseEnvelope wraps a tracking response.
// GET /api/track/v1/details/{inquiryNumber}
type TrackResponseEnvelope struct {
	TrackResponse TrackResponse `json:"trackResponse"`
}

// TrackResponse lists shipments for the inquiry number.
type TrackResponse struct {
	Shipment []TrackShipment `json:"shipment"`
}

// TrackShipment groups packages.
type TrackShipment struct {
	Package []TrackPackage `json:"package"`
}

// TrackPackage is the tracked package.
type TrackPackage struct {
	TrackingNumber string          `json:"trackingNumber"`
	CurrentStatus  TrackStatus     `json:"currentStatus"`
	DeliveryDate   []TrackDate     `json:"deliveryDate,omitempty"`
	Activity       []TrackActivity `json:"activity"`
}

// TrackStatus is a status code/description pair. Type is one of
// M (manifest), P (pickup), I (in transit), O (out for delivery),
// D (delivered), X (exception).
type TrackStatus struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// TrackDate is a yyyymmdd date.
type TrackDate struct {
	Type string `json:"type"`
	Date string `json:"date"`
}

// TrackActivity is one scan.
type TrackActivity struct {
	Location struct {
		Address struct {
			City          string `json:"city"`
			StateProvince string `json:"stateProvince"`
			CountryCode   string `json:"countryCode"`
		} `json:"address"`
	} `json:"location"`
	Status TrackStatus `json:"status"`
	Date   string      `json:"date"` // yyyymmdd
	Time   string      `json:"time"` // hhmmss
}

// tokenResponse is the OAuth client-credentials response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   string `json:"expires_in"`
}

// APIError represents an error from the UPS API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// errorResponse is the UPS error envelope.
type errorResponse struct {
	Response struct {
		Errors []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"response"`
}
