package shipper

import (
	"time"
)

// Carrier identifies a shipping carrier.
type Carrier string

const (
	CarrierUPS Carrier = "UPS"
	CarrierDHL Carrier = "DHL"

	// CarrierAuto is a request-only mode asking the backend to query every
	// registered carrier and return the union of their quotes.
	CarrierAuto Carrier = "AUTO"
)

// IsConcrete reports whether c names a real carrier rather than AUTO.
func (c Carrier) IsConcrete() bool {
	return c == CarrierUPS || c == CarrierDHL
}

// WeightUnit represents weight measurement unit.
type WeightUnit string

const (
	WeightLB WeightUnit = "LB"
	WeightKG WeightUnit = "KG"
)

// DimensionUnit represents dimension measurement unit.
type DimensionUnit string

const (
	DimensionIN DimensionUnit = "IN"
	DimensionCM DimensionUnit = "CM"
)

// LabelFormat represents the format of shipping labels.
type LabelFormat string

const (
	LabelPDF LabelFormat = "PDF"
	LabelPNG LabelFormat = "PNG"
	LabelZPL LabelFormat = "ZPL"
)

// TrackingState is the normalized status of a tracked shipment.
type TrackingState string

const (
	TrackingPending        TrackingState = "pending"
	TrackingInTransit      TrackingState = "in_transit"
	TrackingOutForDelivery TrackingState = "out_for_delivery"
	TrackingDelivered      TrackingState = "delivered"
	TrackingException      TrackingState = "exception"
	TrackingUnknown        TrackingState = "unknown"
)

// Address is a shipper or recipient. It has no identity beyond its fields.
type Address struct {
	Name        string `json:"name" validate:"required"`
	Address1    string `json:"address1" validate:"required"`
	City        string `json:"city" validate:"required"`
	State       string `json:"state" validate:"required"`
	PostalCode  string `json:"postalCode" validate:"required"`
	CountryCode string `json:"countryCode" validate:"required,iso3166_1_alpha2"`
	Phone       string `json:"phone,omitempty"`
}

// Weight of a single package.
type Weight struct {
	Value float64    `json:"value" validate:"gt=0"`
	Unit  WeightUnit `json:"unit" validate:"required,oneof=LB KG"`
}

// Dimensions of a single package.
type Dimensions struct {
	Length float64       `json:"length" validate:"gt=0"`
	Width  float64       `json:"width" validate:"gt=0"`
	Height float64       `json:"height" validate:"gt=0"`
	Unit   DimensionUnit `json:"unit" validate:"required,oneof=IN CM"`
}

// Money represents a monetary amount.
type Money struct {
	Amount   float64 `json:"amount" validate:"gt=0"`
	Currency string  `json:"currency" validate:"required,iso4217"`
}

// Package is one piece of cargo in a shipment.
type Package struct {
	Weight        Weight     `json:"weight"`
	Dimensions    Dimensions `json:"dimensions"`
	DeclaredValue Money      `json:"declaredValue"`
}

// WeightIn returns the package weight converted to unit.
func (p Package) WeightIn(unit WeightUnit) float64 {
	if p.Weight.Unit == unit {
		return p.Weight.Value
	}
	if unit == WeightKG {
		return p.Weight.Value * 0.45359237
	}
	return p.Weight.Value / 0.45359237
}

// DimensionsIn returns length, width and height converted to unit.
func (p Package) DimensionsIn(unit DimensionUnit) (l, w, h float64) {
	d := p.Dimensions
	if d.Unit == unit {
		return d.Length, d.Width, d.Height
	}
	f := 2.54
	if unit == DimensionIN {
		f = 1 / 2.54
	}
	return d.Length * f, d.Width * f, d.Height * f
}

// Quote is a priced, carrier-specific offer. Quotes are ephemeral: no identity
// or expiry is tracked beyond the session that fetched them.
type Quote struct {
	Carrier     Carrier `json:"carrier"`
	ServiceCode string  `json:"service_code"`
	ServiceName string  `json:"service_name"`
	TotalCost   float64 `json:"total_cost"`
	Currency    string  `json:"currency"`
	ETADays     int     `json:"eta_days"`
}

// Valid reports whether q carries a usable price and transit estimate.
func (q Quote) Valid() bool {
	return q.TotalCost >= 0 && q.ETADays >= 0
}

// ValidQuotes filters out quotes with a negative cost or ETA, calling drop
// (when non-nil) for each one removed. The input slice is not modified.
func ValidQuotes(quotes []Quote, drop func(Quote)) []Quote {
	kept := make([]Quote, 0, len(quotes))
	for _, q := range quotes {
		if !q.Valid() {
			if drop != nil {
				drop(q)
			}
			continue
		}
		kept = append(kept, q)
	}
	return kept
}

// Label references a carrier-issued label document.
type Label struct {
	Format    LabelFormat `json:"format"`
	SignedURL string      `json:"signed_url"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
}

// ShipmentResult is returned by a successful shipment purchase.
type ShipmentResult struct {
	Carrier        Carrier `json:"carrier"`
	ServiceName    string  `json:"service_name"`
	TrackingNumber string  `json:"tracking_number"`
	Label          Label   `json:"label"`
}

// TrackingEvent is one scan or status change.
type TrackingEvent struct {
	Timestamp   time.Time     `json:"timestamp"`
	Description string        `json:"description"`
	Location    string        `json:"location,omitempty"`
	Status      TrackingState `json:"status"`
}

// TrackingStatus is the normalized tracking payload.
type TrackingStatus struct {
	Carrier           Carrier         `json:"carrier"`
	TrackingNumber    string          `json:"tracking_number"`
	Status            TrackingState   `json:"status"`
	EstimatedDelivery *time.Time      `json:"estimated_delivery,omitempty"`
	Events            []TrackingEvent `json:"events"`
}

// ============================================================================
// Request Types
// ============================================================================

// Reference carries optional caller-side correlation data.
type Reference struct {
	OrderID string `json:"order_id,omitempty"`
}

// RateRequest is the body of POST /api/shipping/rates.
type RateRequest struct {
	Carrier   Carrier   `json:"carrier" validate:"required,oneof=UPS DHL AUTO"`
	Shipper   Address   `json:"shipper"`
	Recipient Address   `json:"recipient"`
	Packages  []Package `json:"packages" validate:"required,min=1,dive"`
}

// ShipmentRequest is the body of POST /api/shipping/create-shipment.
type ShipmentRequest struct {
	Carrier             Carrier    `json:"carrier" validate:"required,oneof=UPS DHL"`
	SelectedServiceCode string     `json:"selected_service_code" validate:"required"`
	Shipper             Address    `json:"shipper"`
	Recipient           Address    `json:"recipient"`
	Packages            []Package  `json:"packages" validate:"required,min=1,dive"`
	Reference           *Reference `json:"reference,omitempty"`
}

// OrderID returns the reference order id, if any.
func (r *ShipmentRequest) OrderID() string {
	if r.Reference == nil {
		return ""
	}
	return r.Reference.OrderID
}

// LabelDocument is the raw label an adapter produced. The backend stores it
// and hands the client a signed URL instead of the bytes.
type LabelDocument struct {
	Format LabelFormat
	Data   []byte
	// SourceURL is set when the carrier hosts the label itself.
	SourceURL string
}

// Purchase is what an adapter returns after buying a label.
type Purchase struct {
	Carrier        Carrier
	ServiceCode    string
	ServiceName    string
	TrackingNumber string
	ShipmentID     string
	Charged        float64
	Currency       string
	Label          LabelDocument
}
