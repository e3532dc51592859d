package wmts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"space-explorer/internal/catalog"
	"space-explorer/internal/common"
)

// ErrNoLayer is returned when a capabilities document has no usable layer
var ErrNoLayer = errors.New("wmts: no layer in capabilities")

// defaultMaxZoom is used when the matrix set definition is missing
const defaultMaxZoom = 9

// ImportLayer converts a layer advertised in caps into a catalog layer.
// An empty layerID picks the first layer of the document.
func ImportLayer(caps *Capabilities, layerID string, source common.DataSource) (catalog.Layer, error) {
	if caps == nil || len(caps.Contents.Layers) == 0 {
		return catalog.Layer{}, ErrNoLayer
	}

	layer := &caps.Contents.Layers[0]
	if layerID != "" {
		found, ok := caps.FindLayer(layerID)
		if !ok {
			return catalog.Layer{}, fmt.Errorf("%w: %s", ErrNoLayer, layerID)
		}
		layer = found
	}

	id := layer.Identifier
	if id == "" {
		id = "WMTS_Layer"
	}

	tmsID := PreferredMatrixSet(layer)
	if tmsID == "" {
		tmsID = "default028mm"
	}

	template, _ := layer.TileTemplate()
	if template == "" {
		return catalog.Layer{}, fmt.Errorf("wmts: layer %s has no tile resource url", id)
	}
	baseURL := ConvertTemplateToXYZ(template)
	baseURL = strings.ReplaceAll(baseURL, "{TileMatrixSet}", tmsID)
	baseURL = strings.ReplaceAll(baseURL, "{Style}", layer.DefaultStyle())

	minLevel, maxZoom := 0, defaultMaxZoom
	if set, ok := caps.FindTileMatrixSet(tmsID); ok {
		if lo, hi, ok := levelRange(set); ok {
			minLevel, maxZoom = lo, hi
		}
	}

	tileFormat := "jpg"
	if strings.HasSuffix(baseURL, ".png") {
		tileFormat = "png"
	}

	name := layer.Title
	if name == "" {
		name = id
	}

	return catalog.Layer{
		ID:          id,
		Name:        name,
		Description: "WMTS " + id,
		Resolution:  "unknown",
		Category:    "Base Layers",
		DataSource:  source,
		BaseURL:     baseURL,
		TileFormat:  tileFormat,
		MaxZoom:     maxZoom,
		MinLevel:    minLevel,
		Type:        catalog.LayerXYZ,
	}, nil
}

// levelRange returns the numeric min and max TileMatrix identifiers
func levelRange(set *TileMatrixSet) (lo, hi int, ok bool) {
	lo, hi = math.MaxInt, math.MinInt
	for _, m := range set.TileMatrices {
		// Identifiers are either "5" or "EPSG:4326:5"
		id := m.Identifier
		if i := strings.LastIndex(id, ":"); i >= 0 {
			id = id[i+1:]
		}
		n, err := strconv.Atoi(strings.TrimSpace(id))
		if err != nil {
			continue
		}
		lo = min(lo, n)
		hi = max(hi, n)
		ok = true
	}
	return lo, hi, ok
}

// CapabilitiesFetcher returns the raw bytes of a capabilities document
type CapabilitiesFetcher interface {
	FetchCapabilities(ctx context.Context, url string) ([]byte, error)
}

// ImportLayers imports the first layer of each capabilities URL in parallel.
// Documents that fail to fetch or parse are skipped.
func ImportLayers(ctx context.Context, fetcher CapabilitiesFetcher, capURLs []string, source common.DataSource) []catalog.Layer {
	results := make([]*catalog.Layer, len(capURLs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, u := range capURLs {
		g.Go(func() error {
			data, err := fetcher.FetchCapabilities(gctx, u)
			if err != nil {
				return nil
			}
			caps, err := Parse(data)
			if err != nil {
				return nil
			}
			layer, err := ImportLayer(caps, "", source)
			if err != nil {
				return nil
			}
			results[i] = &layer
			return nil
		})
	}
	_ = g.Wait()

	var out []catalog.Layer
	for _, l := range results {
		if l != nil {
			out = append(out, *l)
		}
	}
	return out
}
