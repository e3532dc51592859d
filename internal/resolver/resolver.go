// Package resolver turns a (body, layer, date) selection into a concrete
// tile source that the viewer can load.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"space-explorer/internal/catalog"
	"space-explorer/internal/common"
	"space-explorer/internal/wmts"
)

// DefaultMatrixSet is used for GIBS layers until discovery finds better
const DefaultMatrixSet = "GoogleMapsCompatible_Level9"

// FallbackMatrixSets are probed in order when capability discovery fails
var FallbackMatrixSets = []string{
	"GoogleMapsCompatible_Level8",
	"GoogleMapsCompatible_Level9",
	"GoogleMapsCompatible_Level10",
	"GoogleMapsCompatible_Level11",
}

// ErrNoMatrixSet is returned when capabilities do not list a usable set
var ErrNoMatrixSet = errors.New("resolver: no tile matrix set advertised")

// TileSource is a resolved, ready-to-load tile source. It is recomputed for
// every view change and never persisted.
type TileSource struct {
	URL       string            `json:"url"`
	Date      string            `json:"date"`
	LayerID   string            `json:"layer"`
	Width     int               `json:"width,omitempty"`
	Height    int               `json:"height,omitempty"`
	MatrixSet string            `json:"matrixSet,omitempty"`
	Source    common.DataSource `json:"dataSource"`
}

// Upstream is the network surface the resolver needs
type Upstream interface {
	FetchCapabilities(ctx context.Context, url string) ([]byte, error)
	Check(ctx context.Context, url string) bool
}

// Request selects a tile source. MatrixSet and TileFormat override the
// cached matrix set and the layer's file extension when set.
type Request struct {
	BodyID     string
	LayerID    string
	Date       time.Time
	MatrixSet  string
	TileFormat string
}

// Resolver builds tile sources from the catalog
type Resolver struct {
	catalog  *catalog.Catalog
	cache    *MatrixSetCache
	upstream Upstream
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a resolver. A nil cache gets a fresh session cache.
func New(cat *catalog.Catalog, cache *MatrixSetCache, upstream Upstream, logger *zap.Logger) *Resolver {
	if cache == nil {
		cache = NewMatrixSetCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		catalog:  cat,
		cache:    cache,
		upstream: upstream,
		logger:   logger.Named("resolver"),
		now:      time.Now,
	}
}

// Catalog returns the catalog the resolver reads from
func (r *Resolver) Catalog() *catalog.Catalog {
	return r.catalog
}

// Cache returns the session matrix set cache
func (r *Resolver) Cache() *MatrixSetCache {
	return r.cache
}

// Layer looks up a layer in the catalog
func (r *Resolver) Layer(bodyID, layerID string) (catalog.Layer, error) {
	return r.catalog.Layer(bodyID, layerID)
}

// GetTileSource resolves a tile source for the given selection. A zero date
// means today. The only error is a catalog lookup failure.
func (r *Resolver) GetTileSource(bodyID, layerID string, date time.Time) (TileSource, error) {
	ts, _, err := r.Resolve(Request{BodyID: bodyID, LayerID: layerID, Date: date})
	return ts, err
}

// Resolve is GetTileSource with overrides, returning the layer as well
func (r *Resolver) Resolve(req Request) (TileSource, catalog.Layer, error) {
	layer, err := r.catalog.Layer(req.BodyID, req.LayerID)
	if err != nil {
		return TileSource{}, catalog.Layer{}, err
	}

	date := req.Date
	if date.IsZero() {
		date = r.now()
	}

	matrixSet := req.MatrixSet
	if matrixSet == "" && layer.DataSource == common.DataSourceGIBS {
		if cached, ok := r.cache.Get(layer.BaseURL, layer.ID); ok {
			matrixSet = cached
		}
	}
	return BuildTileSource(layer, date, matrixSet, req.TileFormat), layer, nil
}

// BuildTileSource assembles the tile source of a layer without any lookups.
// An empty matrixSet means DefaultMatrixSet, an empty format means the
// layer's own tile format.
func BuildTileSource(layer catalog.Layer, date time.Time, matrixSet, format string) TileSource {
	ts := TileSource{
		Date:    common.FormatISO8601(date),
		LayerID: layer.ID,
		Width:   common.TileSize,
		Height:  common.TileSize,
		Source:  layer.DataSource,
	}

	switch {
	case layer.DataSource == common.DataSourceGIBS:
		if matrixSet == "" {
			matrixSet = DefaultMatrixSet
		}
		if format == "" {
			format = layer.TileFormat
		}
		ts.MatrixSet = matrixSet
		ts.URL = fmt.Sprintf("%s/%s/default/%s/%s/{z}/{y}/{x}.%s",
			strings.TrimRight(layer.BaseURL, "/"), layer.ID, ts.Date, matrixSet, common.NormalizeTileFormat(format))

	case layer.IsStatic():
		ts.URL = layer.BaseURL
		if layer.Width > 0 && layer.Height > 0 {
			ts.Width, ts.Height = layer.Width, layer.Height
		}

	default:
		ts.URL = layer.BaseURL
		if format != "" && common.NormalizeTileFormat(format) != common.NormalizeTileFormat(layer.TileFormat) {
			if swapped, ok := common.SwapImageExtension(ts.URL); ok {
				ts.URL = swapped
			}
		}
	}
	return ts
}

// ValidateTileSource probes the tile at z=0, y=0, x=0 (or the image itself
// for static sources). Success does not prove other zoom levels exist.
func (r *Resolver) ValidateTileSource(ctx context.Context, ts TileSource) bool {
	if r.upstream == nil {
		return false
	}
	ok := r.upstream.Check(ctx, common.FillTileTemplate(ts.URL, 0, 0, 0))
	r.logger.Debug("validated tile source",
		zap.String("layer", ts.LayerID),
		zap.String("matrix_set", ts.MatrixSet),
		zap.Bool("ok", ok))
	return ok
}

// CapabilitiesURL returns the WMTS capabilities document of a GIBS endpoint
func CapabilitiesURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/1.0.0/WMTSCapabilities.xml"
}

// DiscoverMatrixSet returns the preferred matrix set of a GIBS layer, from
// the session cache or by parsing the endpoint's capabilities document.
func (r *Resolver) DiscoverMatrixSet(ctx context.Context, layer catalog.Layer) (string, error) {
	if name, ok := r.cache.Get(layer.BaseURL, layer.ID); ok {
		return name, nil
	}
	if r.upstream == nil {
		return "", errors.New("resolver: no upstream configured")
	}

	capURL := CapabilitiesURL(layer.BaseURL)
	data, err := r.upstream.FetchCapabilities(ctx, capURL)
	if err != nil {
		return "", fmt.Errorf("resolver: fetch capabilities: %w", err)
	}
	caps, err := wmts.Parse(data)
	if err != nil {
		return "", fmt.Errorf("resolver: parse capabilities: %w", err)
	}

	wl, ok := caps.FindLayer(layer.ID)
	if !ok {
		return "", fmt.Errorf("%w: layer %s missing from %s", ErrNoMatrixSet, layer.ID, capURL)
	}
	name := wmts.PreferredMatrixSet(wl)
	if name == "" {
		return "", fmt.Errorf("%w: layer %s", ErrNoMatrixSet, layer.ID)
	}

	if r.cache.Set(layer.BaseURL, layer.ID, name) {
		r.logger.Info("discovered tile matrix set",
			zap.String("layer", layer.ID),
			zap.String("matrix_set", name))
	}
	// a concurrent discovery may have stored first; keep one answer per key
	cached, _ := r.cache.Get(layer.BaseURL, layer.ID)
	return cached, nil
}

// CheckLayerAvailability resolves a selection and validates it
func (r *Resolver) CheckLayerAvailability(ctx context.Context, bodyID, layerID string, date time.Time) (bool, error) {
	ts, err := r.GetTileSource(bodyID, layerID, date)
	if err != nil {
		return false, err
	}
	return r.ValidateTileSource(ctx, ts), nil
}

// AvailableDates returns the last n calendar days ending at now, newest
// first, as ISO dates
func AvailableDates(now time.Time, n int) []string {
	if n <= 0 {
		return nil
	}
	day := common.TruncateDay(now)
	dates := make([]string, 0, n)
	for i := 0; i < n; i++ {
		dates = append(dates, common.FormatISO8601(day.AddDate(0, 0, -i)))
	}
	return dates
}
