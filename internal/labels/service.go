package labels

import (
	"context"
	"fmt"
	"time"

	"github.com/americaniron/ironfreight/pkg/shipper"
	"github.com/google/uuid"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// DefaultRetention is how long label documents stay in the store. URLs
// expire much sooner.
const DefaultRetention = 7 * 24 * time.Hour

// Service stores purchased labels and hands out signed URLs.
type Service struct {
	store     Store
	signer    *Signer
	retention time.Duration
	logger    *otelzap.Logger
}

// NewService creates a label service.
func NewService(store Store, signer *Signer, logger *otelzap.Logger) *Service {
	return &Service{store: store, signer: signer, retention: DefaultRetention, logger: logger}
}

// Issue stores the label from p and returns the client-facing reference.
func (s *Service) Issue(ctx context.Context, p *shipper.Purchase) (shipper.Label, error) {
	doc := &Document{
		ID:             uuid.NewString(),
		Carrier:        p.Carrier,
		TrackingNumber: p.TrackingNumber,
		Format:         p.Label.Format,
		Data:           p.Label.Data,
		SourceURL:      p.Label.SourceURL,
		CreatedAt:      time.Now().UTC(),
	}
	if doc.Format == "" {
		doc.Format = shipper.LabelPDF
	}

	if err := s.store.Put(ctx, doc, s.retention); err != nil {
		return shipper.Label{}, err
	}

	signed, expiresAt, err := s.signer.Sign(doc.ID)
	if err != nil {
		return shipper.Label{}, err
	}

	s.logger.Ctx(ctx).Info("label issued",
		zap.String("label_id", doc.ID),
		zap.String("carrier", string(doc.Carrier)),
		zap.String("tracking_number", doc.TrackingNumber),
		zap.Time("url_expires_at", expiresAt),
	)

	return shipper.Label{Format: doc.Format, SignedURL: signed, ExpiresAt: &expiresAt}, nil
}

// Open verifies token and returns the document for id.
func (s *Service) Open(ctx context.Context, id, token string) (*Document, error) {
	if err := s.signer.Verify(id, token); err != nil {
		return nil, err
	}
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("open label: %w", err)
	}
	return doc, nil
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
