// Package labels stores carrier label documents and issues short-lived
// signed URLs for them.
package labels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/americaniron/ironfreight/pkg/shipper"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a label id is unknown or expired.
var ErrNotFound = errors.New("label not found")

// Document is a stored label.
type Document struct {
	ID             string              `json:"id"`
	Carrier        shipper.Carrier     `json:"carrier"`
	TrackingNumber string              `json:"tracking_number"`
	Format         shipper.LabelFormat `json:"format"`
	Data           []byte              `json:"data,omitempty"`
	SourceURL      string              `json:"source_url,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// ContentType returns the MIME type for the label format.
func (d *Document) ContentType() string {
	switch d.Format {
	case shipper.LabelPDF:
		return "application/pdf"
	case shipper.LabelPNG:
		return "image/png"
	case shipper.LabelZPL:
		return "application/x-zpl"
	default:
		return "application/octet-stream"
	}
}

// Store persists label documents.
type Store interface {
	Put(ctx context.Context, doc *Document, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Document, error)
	Ping(ctx context.Context) error
}

// ============================================================================
// Memory
// ============================================================================

type memEntry struct {
	doc     Document
	expires time.Time
}

// MemoryStore keeps labels in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]memEntry
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]memEntry), now: time.Now}
}

func (s *MemoryStore) Put(ctx context.Context, doc *Document, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = memEntry{doc: *doc, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	e, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok || !s.now().Before(e.expires) {
		return nil, ErrNotFound
	}
	doc := e.doc
	return &doc, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// ============================================================================
// Redis
// ============================================================================

// RedisStore keeps labels in Redis as JSON under "label:<id>".
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func labelKey(id string) string {
	return "label:" + id
}

func (s *RedisStore) Put(ctx context.Context, doc *Document, ttl time.Duration) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal label: %w", err)
	}
	if err := s.client.Set(ctx, labelKey(doc.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("store label %s: %w", doc.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Document, error) {
	data, err := s.client.Get(ctx, labelKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load label %s: %w", id, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal label %s: %w", id, err)
	}
	return &doc, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
