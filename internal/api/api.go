// Package api implements the carrier backend's HTTP endpoints.
package api

import (
	"context"

	"github.com/americaniron/ironfreight/internal/catalog"
	"github.com/americaniron/ironfreight/internal/events"
	"github.com/americaniron/ironfreight/internal/labels"
	"github.com/americaniron/ironfreight/internal/telemetry"
	"github.com/americaniron/ironfreight/pkg/shipper"
	"github.com/go-chi/chi/v5"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
)

// RoleAdmin may mutate the catalog.
const RoleAdmin = "admin"

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Email   string
	Role    string
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller attached by the auth middleware.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// Deps are the handler dependencies. Catalog may be nil.
type Deps struct {
	Registry *shipper.Registry
	Labels   *labels.Service
	Events   events.Publisher
	Catalog  *catalog.Store
	Metrics  *telemetry.Metrics
	Logger   *otelzap.Logger
}

// Handler serves /api/shipping and /api/catalog.
type Handler struct {
	registry *shipper.Registry
	labels   *labels.Service
	events   events.Publisher
	catalog  *catalog.Store
	metrics  *telemetry.Metrics
	logger   *otelzap.Logger
}

// New creates a Handler.
func New(d Deps) *Handler {
	ev := d.Events
	if ev == nil {
		ev = events.Noop{}
	}
	return &Handler{
		registry: d.Registry,
		labels:   d.Labels,
		events:   ev,
		catalog:  d.Catalog,
		metrics:  d.Metrics,
		logger:   d.Logger,
	}
}

// Routes mounts the API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/shipping", func(r chi.Router) {
		r.Post("/rates", h.handleRates)
		r.Post("/create-shipment", h.handleCreateShipment)
		r.Get("/track", h.handleTrack)
		r.Get("/labels/{id}", h.handleLabel)
	})

	if h.catalog == nil {
		return
	}
	r.Route("/api/catalog", func(r chi.Router) {
		r.Get("/equipment", h.listEquipment)
		r.Get("/equipment/{id}", h.getEquipment)
		r.Get("/parts", h.listParts)
		r.Get("/parts/{partNumber}", h.getPart)
		r.Get("/categories", h.listCategories)
		r.Get("/copy", h.getCopy)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(RoleAdmin))
			r.Post("/equipment", h.addEquipment)
			r.Patch("/equipment/{id}", h.updateEquipment)
			r.Delete("/equipment/{id}", h.deleteEquipment)
			r.Post("/parts", h.addPart)
			r.Patch("/parts/{partNumber}", h.updatePart)
			r.Delete("/parts/{partNumber}", h.deletePart)
			r.Post("/categories", h.addCategory)
			r.Patch("/categories/{name}", h.updateCategory)
			r.Delete("/categories/{name}", h.deleteCategory)
			r.Patch("/copy", h.updateCopy)
		})
	})
}
