package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/americaniron/ironfreight/internal/events"
	"github.com/americaniron/ironfreight/internal/labels"
	"github.com/americaniron/ironfreight/pkg/shipper"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type ratesResponse struct {
	Quotes []shipper.Quote `json:"quotes"`
}

// handleRates serves POST /api/shipping/rates.
func (h *Handler) handleRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var req shipper.RateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := shipper.ValidateRateRequest(&req); err != nil {
		writeCarrierError(w, err)
		return
	}

	quotes, errs := h.registry.GetRates(ctx, req.Carrier, &req)
	for _, err := range errs {
		h.logger.Ctx(ctx).Warn("carrier rate request failed",
			zap.String("carrier", string(req.Carrier)),
			zap.Error(err),
		)
		h.recordError(req.Carrier, err)
	}

	if len(quotes) == 0 {
		h.recordRequest("get_rates", req.Carrier, "error", start)
		switch {
		case len(errs) == 1:
			writeCarrierError(w, errs[0])
		case len(errs) > 1 && allValidation(errs):
			writeCarrierError(w, errs[0])
		default:
			WriteError(w, http.StatusBadGateway, CodeNoQuotes, "no carrier returned a quote for this shipment", nil)
		}
		return
	}

	h.recordRequest("get_rates", req.Carrier, "success", start)
	h.logger.Ctx(ctx).Info("rates returned",
		zap.String("carrier", string(req.Carrier)),
		zap.Int("quotes", len(quotes)),
		zap.Int("failed_carriers", len(errs)),
	)
	WriteJSON(w, http.StatusOK, ratesResponse{Quotes: quotes})
}

// handleCreateShipment serves POST /api/shipping/create-shipment.
func (h *Handler) handleCreateShipment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	principal, ok := PrincipalFrom(ctx)
	if !ok {
		WriteError(w, http.StatusUnauthorized, CodeUnauthenticated, "sign in to purchase labels", nil)
		return
	}

	var req shipper.ShipmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := shipper.ValidateShipmentRequest(&req); err != nil {
		writeCarrierError(w, err)
		return
	}

	log := h.logger.Ctx(ctx)
	base := []zap.Field{
		zap.String("carrier", string(req.Carrier)),
		zap.String("service_code", req.SelectedServiceCode),
		zap.String("subject", principal.Subject),
		zap.String("order_id", req.OrderID()),
	}
	with := func(fields ...zap.Field) []zap.Field {
		return append(append([]zap.Field{}, base...), fields...)
	}

	offer, err := h.registry.FindOffer(ctx, &req)
	if err != nil {
		log.Warn("selected service not available", with(zap.Error(err))...)
		h.recordError(req.Carrier, err)
		writeCarrierError(w, err)
		return
	}

	s, err := h.registry.Get(req.Carrier)
	if err != nil {
		writeCarrierError(w, err)
		return
	}

	purchase, err := s.CreateShipment(ctx, &req)
	if err != nil {
		log.Error("label purchase failed", with(zap.Error(err))...)
		h.recordError(req.Carrier, err)
		h.recordRequest("create_shipment", req.Carrier, "error", start)
		writeCarrierError(w, err)
		return
	}

	// The label is bought from here on; failures below are reported as 5xx so
	// the caller treats the outcome as unknown.
	label, err := h.labels.Issue(ctx, purchase)
	if err != nil {
		log.Error("label purchased but could not be stored",
			with(zap.String("tracking_number", purchase.TrackingNumber), zap.Error(err))...,
		)
		WriteError(w, http.StatusInternalServerError, CodeInternal, "label storage failed after purchase", nil)
		return
	}
	if h.metrics != nil {
		h.metrics.LabelsIssued.WithLabelValues(string(purchase.Carrier)).Inc()
	}

	serviceName := purchase.ServiceName
	if serviceName == "" {
		serviceName = offer.ServiceName
	}

	if err := h.events.ShipmentCreated(ctx, events.ShipmentCreated{
		Carrier:        purchase.Carrier,
		ServiceCode:    req.SelectedServiceCode,
		ServiceName:    serviceName,
		TrackingNumber: purchase.TrackingNumber,
		ShipmentID:     purchase.ShipmentID,
		Charged:        purchase.Charged,
		Currency:       purchase.Currency,
		OrderID:        req.OrderID(),
		Subject:        principal.Subject,
	}); err != nil {
		log.Warn("shipment event not published", with(zap.Error(err))...)
		h.recordEvent(events.TypeShipmentCreated, "error")
	} else {
		h.recordEvent(events.TypeShipmentCreated, "success")
	}

	h.recordRequest("create_shipment", req.Carrier, "success", start)
	log.Info("shipment created",
		with(zap.String("tracking_number", purchase.TrackingNumber), zap.Float64("charged", purchase.Charged))...,
	)

	WriteJSON(w, http.StatusOK, shipper.ShipmentResult{
		Carrier:        purchase.Carrier,
		ServiceName:    serviceName,
		TrackingNumber: purchase.TrackingNumber,
		Label:          label,
	})
}

// handleTrack serves GET /api/shipping/track?carrier=&tracking=.
func (h *Handler) handleTrack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	carrier := shipper.Carrier(r.URL.Query().Get("carrier"))
	tracking := r.URL.Query().Get("tracking")

	fields := map[string]string{}
	if carrier == "" {
		fields["carrier"] = "is required"
	} else if !carrier.IsConcrete() {
		fields["carrier"] = "must be UPS or DHL"
	}
	if tracking == "" {
		fields["tracking"] = "is required"
	}
	if len(fields) > 0 {
		WriteError(w, http.StatusBadRequest, CodeValidation, "invalid tracking query", fields)
		return
	}

	s, err := h.registry.Get(carrier)
	if err != nil {
		writeCarrierError(w, err)
		return
	}

	status, err := s.Track(ctx, tracking)
	if err != nil {
		h.logger.Ctx(ctx).Warn("tracking lookup failed",
			zap.String("carrier", string(carrier)),
			zap.String("tracking_number", tracking),
			zap.Error(err),
		)
		h.recordError(carrier, err)
		h.recordRequest("track", carrier, "error", start)
		writeCarrierError(w, err)
		return
	}

	h.recordRequest("track", carrier, "success", start)
	WriteJSON(w, http.StatusOK, status)
}

// handleLabel serves GET /api/shipping/labels/{id}?token=.
func (h *Handler) handleLabel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	doc, err := h.labels.Open(ctx, id, r.URL.Query().Get("token"))
	switch {
	case errors.Is(err, labels.ErrInvalidToken):
		WriteError(w, http.StatusForbidden, CodeForbidden, "label link is invalid or has expired", nil)
		return
	case errors.Is(err, labels.ErrNotFound):
		WriteError(w, http.StatusNotFound, CodeNotFound, "label not found", nil)
		return
	case err != nil:
		h.logger.Ctx(ctx).Error("label lookup failed", zap.String("label_id", id), zap.Error(err))
		WriteError(w, http.StatusInternalServerError, CodeInternal, "label lookup failed", nil)
		return
	}

	if len(doc.Data) == 0 && doc.SourceURL != "" {
		http.Redirect(w, r, doc.SourceURL, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", doc.ContentType())
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Data)
}

// ============================================================================
// Metrics helpers
// ============================================================================

func (h *Handler) recordRequest(op string, carrier shipper.Carrier, status string, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.RecordRequest(op, string(carrier), status, time.Since(start).Seconds())
}

func (h *Handler) recordError(carrier shipper.Carrier, err error) {
	if h.metrics == nil {
		return
	}
	code := "UNKNOWN"
	var sErr *shipper.ShipperError
	if errors.As(err, &sErr) {
		code = sErr.Code
		carrier = sErr.Carrier
	}
	h.metrics.RecordError(string(carrier), code)
}

func (h *Handler) recordEvent(eventType, status string) {
	if h.metrics == nil {
		return
	}
	h.metrics.EventsPublished.WithLabelValues(eventType, status).Inc()
}

func allValidation(errs []error) bool {
	for _, err := range errs {
		if !shipper.IsValidation(err) {
			return false
		}
	}
	return true
}
