// Package viewer connects resolved tile sources to the deep-zoom viewer.
// The viewer itself lives in the frontend; Go talks to it through the
// narrow Viewer interface.
package viewer

import (
	"context"
	"errors"

	"space-explorer/internal/catalog"
	"space-explorer/internal/common"
	"space-explorer/internal/projection"
	"space-explorer/internal/resolver"
)

var (
	// ErrNoSource is returned by coordinate conversions before a load
	ErrNoSource = errors.New("viewer: no source loaded")

	// ErrLoadFailed is returned when the viewer reports a failed open
	ErrLoadFailed = errors.New("viewer: source failed to open")
)

// Viewer is the deep-zoom viewer as seen from Go
type Viewer interface {
	// LoadSource opens src and blocks until the viewer reports success or
	// failure
	LoadSource(ctx context.Context, src Source) error

	// PanTo centers the viewport on a viewport point
	PanTo(p projection.Point) error

	// ImageToViewport converts image pixels of the loaded source into
	// viewport coordinates
	ImageToViewport(x, y float64) (projection.Point, error)
}

// Kind is the tile source type understood by the viewer
type Kind string

const (
	KindPyramid Kind = "legacy-image-pyramid"
	KindImage   Kind = "image"
	KindDZI     Kind = "dzi"
)

// Source describes what the viewer should open
type Source struct {
	Kind           Kind              `json:"type"`
	URL            string            `json:"url"`
	Width          int               `json:"width,omitempty"`
	Height         int               `json:"height,omitempty"`
	TileWidth      int               `json:"tileWidth,omitempty"`
	TileHeight     int               `json:"tileHeight,omitempty"`
	MinLevel       int               `json:"minLevel"`
	MaxLevel       int               `json:"maxLevel"`
	WrapHorizontal bool              `json:"wrapHorizontal"`
	URLOrder       catalog.URLOrder  `json:"urlOrder,omitempty"`
	BuildPyramid   bool              `json:"buildPyramid,omitempty"`
	LayerID        string            `json:"layerId"`
	Date           string            `json:"date"`
	DataSource     common.DataSource `json:"dataSource"`
}

// TileURL returns the URL of one tile. Placeholders are substituted by
// name, so the axis order only matters to templates that spell it out.
func (s Source) TileURL(level, x, y int) string {
	if s.Kind != KindPyramid {
		return s.URL
	}
	return common.FillTileTemplate(s.URL, level, x, y)
}

// FirstURL is the URL fetched to prove the source opens: tile 0/0/0 of a
// pyramid, or the document itself
func (s Source) FirstURL() string {
	return s.TileURL(s.MinLevel, 0, 0)
}

// SourceFor builds the viewer descriptor of a resolved tile source
func SourceFor(ts resolver.TileSource, layer catalog.Layer) Source {
	src := Source{
		URL:        ts.URL,
		LayerID:    ts.LayerID,
		Date:       ts.Date,
		DataSource: ts.Source,
	}

	switch layer.EffectiveType() {
	case catalog.LayerImage:
		src.Kind = KindImage
		src.BuildPyramid = true
		src.Width, src.Height = ts.Width, ts.Height
		return src
	case catalog.LayerDZI:
		src.Kind = KindDZI
		return src
	}

	// xyz and iiif templates are served as a plain pyramid
	size := common.TileSize << max(layer.MaxZoom, 0)
	src.Kind = KindPyramid
	src.Width, src.Height = size, size
	src.TileWidth, src.TileHeight = common.TileSize, common.TileSize
	src.MinLevel = layer.MinLevel
	src.MaxLevel = layer.MaxZoom
	src.WrapHorizontal = layer.DataSource == common.DataSourceGIBS
	src.URLOrder = layer.EffectiveURLOrder()
	return src
}

// ImageSource wraps a single raster, such as a composited mosaic, as a
// source
func ImageSource(url string, width, height int, layerID, date string, ds common.DataSource) Source {
	return Source{
		Kind:         KindImage,
		URL:          url,
		Width:        width,
		Height:       height,
		BuildPyramid: true,
		LayerID:      layerID,
		Date:         date,
		DataSource:   ds,
	}
}
