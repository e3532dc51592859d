package viewer

import (
	"space-explorer/internal/catalog"
	"space-explorer/internal/common"
	"space-explorer/internal/projection"
)

// maxPanZoom caps the zoom level coordinates are projected at
const maxPanZoom = 8

// PanToCoordinate centers v on lat/lon in the loaded source. GIBS layers
// are projected with Web Mercator, other tiled layers snap to the center of
// the equirectangular tile, and single images are centered. The returned
// point is the viewport target; ok is false when no mapping exists.
func PanToCoordinate(v Viewer, src Source, layer catalog.Layer, lat, lon float64) (projection.Point, bool, error) {
	if v == nil {
		return projection.Point{}, false, nil
	}

	if src.Kind != KindPyramid || src.Width <= 0 || src.Height <= 0 {
		center := projection.Point{X: 0.5, Y: 0.5}
		return center, true, v.PanTo(center)
	}

	zoom := min(layer.MaxZoom, maxPanZoom)
	w, h := float64(src.Width), float64(src.Height)

	var px projection.Point
	if projection.ForDataSource(layer.DataSource) == projection.WebMercator {
		px = projection.LatLonToImagePixels(lat, lon, zoom, w, h, projection.WebMercator)
	} else {
		tile, ok := projection.LatLonToTrekTileXY(lat, lon, zoom)
		if !ok {
			return projection.Point{}, false, nil
		}
		world := float64(int(common.TileSize) << max(zoom, 0))
		c := projection.TileCenter(tile)
		px = projection.Point{X: c.X / world * w, Y: c.Y / world * h}
	}
	if !px.Valid() {
		return projection.Point{}, false, nil
	}

	vp, ok := projection.ImagePixelsToViewportPoint(v, px.X, px.Y)
	if !ok {
		return projection.Point{}, false, nil
	}
	return vp, true, v.PanTo(vp)
}
