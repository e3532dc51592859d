// Package annotation stores user notes pinned to image coordinates of a
// layer on a given date.
package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"space-explorer/internal/storage"
)

// StorageKey is the key the whole annotation list is stored under
const StorageKey = "nasa-space-apps-annotations"

var (
	// ErrNotFound is returned for unknown annotation ids
	ErrNotFound = errors.New("annotation not found")

	// ErrInvalidImport is returned when an import payload is rejected
	ErrInvalidImport = errors.New("invalid annotation import")
)

// Type is the shape of an annotation
type Type string

const (
	TypePoint Type = "point"
	TypeArea  Type = "area"
	TypeLine  Type = "line"
)

// Annotation is a note at normalized image coordinates
type Annotation struct {
	ID          string    `json:"id"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Type        Type      `json:"type"`
	Color       string    `json:"color"`
	CreatedAt   time.Time `json:"createdAt" ts_type:"string"`
	UpdatedAt   time.Time `json:"updatedAt" ts_type:"string"`
	LayerID     string    `json:"layerId"`
	Date        string    `json:"date"`
}

// Draft is a new annotation before it gets an id and timestamps
type Draft struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Type        Type    `json:"type"`
	Color       string  `json:"color"`
	LayerID     string  `json:"layerId"`
	Date        string  `json:"date"`
}

// Patch updates the non-nil fields of an annotation
type Patch struct {
	X           *float64 `json:"x,omitempty"`
	Y           *float64 `json:"y,omitempty"`
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Type        *Type    `json:"type,omitempty"`
	Color       *string  `json:"color,omitempty"`
	LayerID     *string  `json:"layerId,omitempty"`
	Date        *string  `json:"date,omitempty"`
}

func (p Patch) apply(a *Annotation) {
	if p.X != nil {
		a.X = *p.X
	}
	if p.Y != nil {
		a.Y = *p.Y
	}
	if p.Title != nil {
		a.Title = *p.Title
	}
	if p.Description != nil {
		a.Description = *p.Description
	}
	if p.Type != nil {
		a.Type = *p.Type
	}
	if p.Color != nil {
		a.Color = *p.Color
	}
	if p.LayerID != nil {
		a.LayerID = *p.LayerID
	}
	if p.Date != nil {
		a.Date = *p.Date
	}
}

// Service reads and writes the annotation list. Every operation loads the
// list from the store, so several services may share one backend.
type Service struct {
	mu     sync.Mutex
	kv     storage.KV
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// NewService creates a service on kv
func NewService(kv storage.KV, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		kv:     kv,
		logger: logger.Named("annotation"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// load returns the stored list. Unreadable data yields an empty list.
func (s *Service) load(ctx context.Context) []Annotation {
	raw, ok, err := s.kv.Get(ctx, StorageKey)
	if err != nil {
		s.logger.Error("failed to load annotations", zap.Error(err))
		return []Annotation{}
	}
	if !ok || len(raw) == 0 {
		return []Annotation{}
	}
	var list []Annotation
	if err := json.Unmarshal(raw, &list); err != nil {
		s.logger.Error("failed to parse annotations", zap.Error(err))
		return []Annotation{}
	}
	if list == nil {
		list = []Annotation{}
	}
	return list
}

func (s *Service) save(ctx context.Context, list []Annotation) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("annotation: marshal: %w", err)
	}
	if err := s.kv.Set(ctx, StorageKey, data); err != nil {
		return fmt.Errorf("annotation: save: %w", err)
	}
	return nil
}

// All returns every annotation in insertion order
func (s *Service) All(ctx context.Context) []Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Add stores a new annotation
func (s *Service) Add(ctx context.Context, d Draft) (Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.Type == "" {
		d.Type = TypePoint
	}
	now := s.now().UTC()
	a := Annotation{
		ID:          s.newID(),
		X:           d.X,
		Y:           d.Y,
		Title:       d.Title,
		Description: d.Description,
		Type:        d.Type,
		Color:       d.Color,
		CreatedAt:   now,
		UpdatedAt:   now,
		LayerID:     d.LayerID,
		Date:        d.Date,
	}
	list := append(s.load(ctx), a)
	if err := s.save(ctx, list); err != nil {
		return Annotation{}, err
	}
	s.logger.Debug("annotation added", zap.String("id", a.ID), zap.String("layer", a.LayerID))
	return a, nil
}

// Update applies p to the annotation with the given id and refreshes its
// update time
func (s *Service) Update(ctx context.Context, id string, p Patch) (Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.load(ctx)
	i := slices.IndexFunc(list, func(a Annotation) bool { return a.ID == id })
	if i < 0 {
		return Annotation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.apply(&list[i])
	list[i].UpdatedAt = s.now().UTC()
	if err := s.save(ctx, list); err != nil {
		return Annotation{}, err
	}
	return list[i], nil
}

// Delete removes an annotation and reports whether it existed
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.load(ctx)
	kept := slices.DeleteFunc(slices.Clone(list), func(a Annotation) bool { return a.ID == id })
	if len(kept) == len(list) {
		return false, nil
	}
	if err := s.save(ctx, kept); err != nil {
		return false, err
	}
	return true, nil
}

// ForLayer returns the annotations of one layer and date
func (s *Service) ForLayer(ctx context.Context, layerID, date string) []Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Annotation{}
	for _, a := range s.load(ctx) {
		if a.LayerID == layerID && a.Date == date {
			out = append(out, a)
		}
	}
	return out
}

// Export returns the list as indented JSON
func (s *Service) Export(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.MarshalIndent(s.load(ctx), "", "  ")
}

// Import replaces the whole list with data. Every entry must carry an id,
// numeric x and y and a title; otherwise nothing is stored.
func (s *Service) Import(ctx context.Context, data []byte) (int, error) {
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidImport, err)
	}
	for i, entry := range raw {
		if err := validateEntry(entry); err != nil {
			return 0, fmt.Errorf("%w: entry %d: %w", ErrInvalidImport, i, err)
		}
	}

	var list []Annotation
	if err := json.Unmarshal(data, &list); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidImport, err)
	}
	if list == nil {
		list = []Annotation{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(ctx, list); err != nil {
		return 0, err
	}
	s.logger.Info("annotations imported", zap.Int("count", len(list)))
	return len(list), nil
}

func validateEntry(e map[string]any) error {
	if id, _ := e["id"].(string); id == "" {
		return errors.New("missing id")
	}
	if _, ok := e["x"].(float64); !ok {
		return errors.New("x is not a number")
	}
	if _, ok := e["y"].(float64); !ok {
		return errors.New("y is not a number")
	}
	if title, _ := e["title"].(string); title == "" {
		return errors.New("missing title")
	}
	return nil
}
