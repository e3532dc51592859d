// Package catalog is the registry of celestial bodies and the imagery
// layers available for each of them.
package catalog

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"space-explorer/internal/common"
)

var (
	// ErrBodyNotFound is returned when a body id is not in the catalog
	ErrBodyNotFound = errors.New("celestial body not found")

	// ErrLayerNotFound is returned when a layer id is not registered for a body
	ErrLayerNotFound = errors.New("layer not found")

	// ErrInvalidLayer is returned for layers that fail validation
	ErrInvalidLayer = errors.New("invalid layer")
)

// LayerType is how a layer is addressed by the viewer
type LayerType string

const (
	LayerXYZ   LayerType = "xyz"
	LayerDZI   LayerType = "dzi"
	LayerIIIF  LayerType = "iiif"
	LayerImage LayerType = "image"
)

// URLOrder is the placeholder order of a tile URL template
type URLOrder string

const (
	OrderZYX URLOrder = "z-y-x"
	OrderZXY URLOrder = "z-x-y"
)

// Layer is one imagery product of a body
type Layer struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Resolution  string            `json:"resolution" yaml:"resolution"`
	Category    string            `json:"category" yaml:"category"`
	DataSource  common.DataSource `json:"dataSource" yaml:"dataSource"`
	BaseURL     string            `json:"baseUrl" yaml:"baseUrl"`
	TileFormat  string            `json:"tileFormat" yaml:"tileFormat"`
	MaxZoom     int               `json:"maxZoom" yaml:"maxZoom"`
	MinLevel    int               `json:"minLevel,omitempty" yaml:"minLevel,omitempty"`
	Type        LayerType         `json:"type,omitempty" yaml:"type,omitempty"`
	URLOrder    URLOrder          `json:"urlOrder,omitempty" yaml:"urlOrder,omitempty"`

	// Width and Height are the native size of static image layers
	Width  int `json:"width,omitempty" yaml:"width,omitempty"`
	Height int `json:"height,omitempty" yaml:"height,omitempty"`
}

// EffectiveType returns the layer type, defaulting to xyz
func (l Layer) EffectiveType() LayerType {
	if l.Type == "" {
		return LayerXYZ
	}
	return l.Type
}

// EffectiveURLOrder returns the tile axis order, defaulting to z-y-x
func (l Layer) EffectiveURLOrder() URLOrder {
	if l.URLOrder == "" {
		return OrderZYX
	}
	return l.URLOrder
}

// IsStatic reports whether the layer is a single image rather than tiles
func (l Layer) IsStatic() bool {
	return l.EffectiveType() == LayerImage
}

// Validate checks the layer invariants
func (l Layer) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidLayer)
	}
	if l.BaseURL == "" {
		return fmt.Errorf("%w: %s has no base url", ErrInvalidLayer, l.ID)
	}
	if !l.DataSource.Valid() {
		return fmt.Errorf("%w: %s has unknown data source %q", ErrInvalidLayer, l.ID, l.DataSource)
	}
	switch l.EffectiveType() {
	case LayerXYZ, LayerDZI, LayerIIIF, LayerImage:
	default:
		return fmt.Errorf("%w: %s has unknown type %q", ErrInvalidLayer, l.ID, l.Type)
	}
	switch l.EffectiveURLOrder() {
	case OrderZYX, OrderZXY:
	default:
		return fmt.Errorf("%w: %s has unknown url order %q", ErrInvalidLayer, l.ID, l.URLOrder)
	}
	if l.MinLevel < 0 || l.MaxZoom < l.MinLevel {
		return fmt.Errorf("%w: %s has maxZoom %d below minLevel %d", ErrInvalidLayer, l.ID, l.MaxZoom, l.MinLevel)
	}
	return nil
}

// CelestialBody is a body and its ordered layers
type CelestialBody struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description" yaml:"description"`
	Icon        string  `json:"icon" yaml:"icon"`
	Layers      []Layer `json:"layers" yaml:"layers"`
}

// Catalog holds the bodies. Lookups return copies so callers never alias
// catalog state.
type Catalog struct {
	mu     sync.RWMutex
	bodies []*CelestialBody
}

// New creates a catalog from the given bodies. Bodies are copied.
func New(bodies ...CelestialBody) *Catalog {
	c := &Catalog{}
	for _, b := range bodies {
		body := b
		body.Layers = slices.Clone(b.Layers)
		c.bodies = append(c.bodies, &body)
	}
	return c
}

// Bodies returns all bodies in registration order
func (c *Catalog) Bodies() []CelestialBody {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]CelestialBody, 0, len(c.bodies))
	for _, b := range c.bodies {
		out = append(out, copyBody(b))
	}
	return out
}

// Body returns the body with the given id
func (c *Catalog) Body(id string) (CelestialBody, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	b := c.find(id)
	if b == nil {
		return CelestialBody{}, fmt.Errorf("%w: %s", ErrBodyNotFound, id)
	}
	return copyBody(b), nil
}

// Layer returns one layer of a body
func (c *Catalog) Layer(bodyID, layerID string) (Layer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	b := c.find(bodyID)
	if b == nil {
		return Layer{}, fmt.Errorf("%w: %s", ErrBodyNotFound, bodyID)
	}
	for _, l := range b.Layers {
		if l.ID == layerID {
			return l, nil
		}
	}
	return Layer{}, fmt.Errorf("%w: %s/%s", ErrLayerNotFound, bodyID, layerID)
}

// LayersForBody returns the layers of a body in order
func (c *Catalog) LayersForBody(bodyID string) ([]Layer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	b := c.find(bodyID)
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrBodyNotFound, bodyID)
	}
	return slices.Clone(b.Layers), nil
}

// AddLayersToBody appends the layers whose id is not yet registered for the
// body and returns how many were added. Importing the same layers again is a
// no-op. Invalid layers are skipped and reported in the returned error.
func (c *Catalog) AddLayersToBody(bodyID string, layers []Layer) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.find(bodyID)
	if b == nil {
		return 0, fmt.Errorf("%w: %s", ErrBodyNotFound, bodyID)
	}

	existing := make(map[string]struct{}, len(b.Layers))
	for _, l := range b.Layers {
		existing[l.ID] = struct{}{}
	}

	var errs []error
	added := 0
	for _, l := range layers {
		if err := l.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, ok := existing[l.ID]; ok {
			continue
		}
		b.Layers = append(b.Layers, l)
		existing[l.ID] = struct{}{}
		added++
	}
	return added, errors.Join(errs...)
}

// AddBody registers a new body. It is a no-op when the id already exists.
func (c *Catalog) AddBody(body CelestialBody) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.find(body.ID) != nil {
		return false
	}
	b := copyBody(&body)
	c.bodies = append(c.bodies, &b)
	return true
}

func (c *Catalog) find(id string) *CelestialBody {
	for _, b := range c.bodies {
		if b.ID == id {
			return b
		}
	}
	return nil
}

func copyBody(b *CelestialBody) CelestialBody {
	out := *b
	out.Layers = slices.Clone(b.Layers)
	return out
}
