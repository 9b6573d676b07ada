package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

var (
	ErrNotFound = errors.New("catalog entry not found")
	ErrConflict = errors.New("catalog entry already exists")
	ErrInvalid  = errors.New("invalid catalog entry")
)

// Store owns the catalog. Every mutation is saved before it returns; the
// last writer wins.
type Store struct {
	kv     KV
	logger *otelzap.Logger

	// OnMutate, if set, is called after each successful save.
	OnMutate func(kind, op string)

	mu  sync.RWMutex
	doc Document
}

// Open loads the catalog from kv, migrating old documents. An empty kv is
// initialised with seed.
func Open(ctx context.Context, kv KV, seed Document, logger *otelzap.Logger) (*Store, error) {
	s := &Store{kv: kv, logger: logger}

	data, err := kv.Get(ctx, StorageKey)
	switch {
	case errors.Is(err, ErrKeyNotFound):
		s.doc = seed.clone()
		s.doc.SchemaVersion = SchemaVersion
		if err := s.save(ctx, s.doc); err != nil {
			return nil, err
		}
		logger.Ctx(ctx).Info("catalog initialised from seed")
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	doc, err := Decode(data, seed)
	if err != nil {
		return nil, err
	}
	s.doc = doc
	logger.Ctx(ctx).Info("catalog loaded",
		zap.Int("equipment", len(doc.Equipment)),
		zap.Int("parts", len(doc.Parts)),
		zap.Int("categories", len(doc.Categories)),
	)
	return s, nil
}

// ============================================================================
// Reads
// ============================================================================

func (s *Store) Equipment() []Equipment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Equipment(nil), s.doc.Equipment...)
}

func (s *Store) EquipmentByID(id string) (Equipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.doc.Equipment {
		if e.ID == id {
			return e, nil
		}
	}
	return Equipment{}, fmt.Errorf("%w: equipment %s", ErrNotFound, id)
}

func (s *Store) Categories() []Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Category(nil), s.doc.Categories...)
}

func (s *Store) Parts() []Part {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Part(nil), s.doc.Parts...)
}

func (s *Store) PartByNumber(pn string) (Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.doc.Parts {
		if p.PartNumber == pn {
			return p, nil
		}
	}
	return Part{}, fmt.Errorf("%w: part %s", ErrNotFound, pn)
}

func (s *Store) Copy() Copy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Copy
}

// Snapshot returns a copy of the whole document.
func (s *Store) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.clone()
}

// ============================================================================
// Equipment
// ============================================================================

// AddEquipment inserts e at the front of the listing.
func (s *Store) AddEquipment(ctx context.Context, e Equipment) error {
	if e.ID == "" {
		return fmt.Errorf("%w: equipment id is required", ErrInvalid)
	}
	return s.mutate(ctx, "equipment", "add", func(d *Document) error {
		if indexEquipment(d.Equipment, e.ID) >= 0 {
			return fmt.Errorf("%w: equipment %s", ErrConflict, e.ID)
		}
		d.Equipment = append([]Equipment{e}, d.Equipment...)
		return nil
	})
}

// UpdateEquipment merges the JSON object patch into the listing with id. The
// id itself cannot change.
func (s *Store) UpdateEquipment(ctx context.Context, id string, patch json.RawMessage) (Equipment, error) {
	var out Equipment
	err := s.mutate(ctx, "equipment", "update", func(d *Document) error {
		i := indexEquipment(d.Equipment, id)
		if i < 0 {
			return fmt.Errorf("%w: equipment %s", ErrNotFound, id)
		}
		e := d.Equipment[i]
		e.Specs = append([]Spec(nil), e.Specs...)
		e.Features = append([]string(nil), e.Features...)
		if err := merge(&e, patch); err != nil {
			return err
		}
		e.ID = id
		d.Equipment[i] = e
		out = e
		return nil
	})
	return out, err
}

func (s *Store) DeleteEquipment(ctx context.Context, id string) error {
	return s.mutate(ctx, "equipment", "delete", func(d *Document) error {
		i := indexEquipment(d.Equipment, id)
		if i < 0 {
			return fmt.Errorf("%w: equipment %s", ErrNotFound, id)
		}
		d.Equipment = append(d.Equipment[:i], d.Equipment[i+1:]...)
		return nil
	})
}

// ============================================================================
// Categories
// ============================================================================

// AddCategory appends c.
func (s *Store) AddCategory(ctx context.Context, c Category) error {
	if c.Name == "" {
		return fmt.Errorf("%w: category name is required", ErrInvalid)
	}
	return s.mutate(ctx, "category", "add", func(d *Document) error {
		if indexCategory(d.Categories, c.Name) >= 0 {
			return fmt.Errorf("%w: category %s", ErrConflict, c.Name)
		}
		d.Categories = append(d.Categories, c)
		return nil
	})
}

// UpdateCategory merges patch into the category called name. Renaming is
// allowed; listings keep their old category string.
func (s *Store) UpdateCategory(ctx context.Context, name string, patch json.RawMessage) (Category, error) {
	var out Category
	err := s.mutate(ctx, "category", "update", func(d *Document) error {
		i := indexCategory(d.Categories, name)
		if i < 0 {
			return fmt.Errorf("%w: category %s", ErrNotFound, name)
		}
		c := d.Categories[i]
		if err := merge(&c, patch); err != nil {
			return err
		}
		if c.Name == "" {
			return fmt.Errorf("%w: category name is required", ErrInvalid)
		}
		if c.Name != name && indexCategory(d.Categories, c.Name) >= 0 {
			return fmt.Errorf("%w: category %s", ErrConflict, c.Name)
		}
		d.Categories[i] = c
		out = c
		return nil
	})
	return out, err
}

func (s *Store) DeleteCategory(ctx context.Context, name string) error {
	return s.mutate(ctx, "category", "delete", func(d *Document) error {
		i := indexCategory(d.Categories, name)
		if i < 0 {
			return fmt.Errorf("%w: category %s", ErrNotFound, name)
		}
		d.Categories = append(d.Categories[:i], d.Categories[i+1:]...)
		return nil
	})
}

// ============================================================================
// Parts
// ============================================================================

// AddPart inserts p at the front of the parts list.
func (s *Store) AddPart(ctx context.Context, p Part) error {
	if p.PartNumber == "" {
		return fmt.Errorf("%w: part_number is required", ErrInvalid)
	}
	return s.mutate(ctx, "part", "add", func(d *Document) error {
		if indexPart(d.Parts, p.PartNumber) >= 0 {
			return fmt.Errorf("%w: part %s", ErrConflict, p.PartNumber)
		}
		d.Parts = append([]Part{p}, d.Parts...)
		return nil
	})
}

// UpdatePart merges patch into the part numbered pn. The part number itself
// cannot change.
func (s *Store) UpdatePart(ctx context.Context, pn string, patch json.RawMessage) (Part, error) {
	var out Part
	err := s.mutate(ctx, "part", "update", func(d *Document) error {
		i := indexPart(d.Parts, pn)
		if i < 0 {
			return fmt.Errorf("%w: part %s", ErrNotFound, pn)
		}
		p := d.Parts[i]
		if p.Attributes != nil {
			attrs := make(map[string]string, len(p.Attributes))
			for k, v := range p.Attributes {
				attrs[k] = v
			}
			p.Attributes = attrs
		}
		if err := merge(&p, patch); err != nil {
			return err
		}
		p.PartNumber = pn
		d.Parts[i] = p
		out = p
		return nil
	})
	return out, err
}

func (s *Store) DeletePart(ctx context.Context, pn string) error {
	return s.mutate(ctx, "part", "delete", func(d *Document) error {
		i := indexPart(d.Parts, pn)
		if i < 0 {
			return fmt.Errorf("%w: part %s", ErrNotFound, pn)
		}
		d.Parts = append(d.Parts[:i], d.Parts[i+1:]...)
		return nil
	})
}

// ============================================================================
// Copy
// ============================================================================

// UpdateCopy merges patch into the site copy.
func (s *Store) UpdateCopy(ctx context.Context, patch json.RawMessage) (Copy, error) {
	var out Copy
	err := s.mutate(ctx, "copy", "update", func(d *Document) error {
		c := d.Copy
		if err := merge(&c, patch); err != nil {
			return err
		}
		d.Copy = c
		out = c
		return nil
	})
	return out, err
}

// ============================================================================
// Helpers
// ============================================================================

// mutate applies fn to a copy of the document and saves it. The in-memory
// state only changes when the save succeeds.
func (s *Store) mutate(ctx context.Context, kind, op string, fn func(*Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.clone()
	if err := fn(&next); err != nil {
		return err
	}
	if err := s.save(ctx, next); err != nil {
		s.logger.Ctx(ctx).Error("catalog save failed",
			zap.String("kind", kind),
			zap.String("operation", op),
			zap.Error(err),
		)
		return err
	}
	s.doc = next

	if s.OnMutate != nil {
		s.OnMutate(kind, op)
	}
	return nil
}

func (s *Store) save(ctx context.Context, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := s.kv.Set(ctx, StorageKey, data); err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	return nil
}

func merge(dst interface{}, patch json.RawMessage) error {
	if len(patch) == 0 {
		return nil
	}
	if err := json.Unmarshal(patch, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func indexEquipment(list []Equipment, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func indexCategory(list []Category, name string) int {
	for i := range list {
		if list[i].Name == name {
			return i
		}
	}
	return -1
}

func indexPart(list []Part, pn string) int {
	for i := range list {
		if list[i].PartNumber == pn {
			return i
		}
	}
	return -1
}
