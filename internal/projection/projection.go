// Package projection maps geographic coordinates onto tile and image pixel
// space for the three addressing schemes used by NASA imagery services.
//
// Every function is pure and total over finite input. Undefined geometry is
// reported with NaN coordinates or a false ok value, never a panic.
package projection

import (
	"math"

	"space-explorer/internal/common"
)

// Projection names the addressing scheme of a layer
type Projection string

const (
	// WebMercator is spherical Mercator (EPSG:3857), used by GIBS
	WebMercator Projection = "webmercator"

	// Equirectangular is the lat/lon-linear scheme used by Trek
	Equirectangular Projection = "equirectangular"

	// Image is a non-georeferenced static image
	Image Projection = "image"
)

const (
	// TileSize is the pixel size of one tile edge
	TileSize = common.TileSize

)

// MaxMercatorLat is the latitude where the Web Mercator square ends
var MaxMercatorLat = math.Atan(math.Sinh(math.Pi)) * 180 / math.Pi

// Point is a 2D coordinate in pixel or viewport space
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Valid reports whether both components are finite
func (p Point) Valid() bool {
	return isFinite(p.X) && isFinite(p.Y)
}

// TileXY is an integer tile address within one zoom level
type TileXY struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// NaNPoint is the sentinel for "no coordinate mapping possible"
func NaNPoint() Point {
	return Point{X: math.NaN(), Y: math.NaN()}
}

// ForDataSource returns the projection used by a data source
func ForDataSource(ds common.DataSource) Projection {
	switch ds {
	case common.DataSourceGIBS:
		return WebMercator
	case common.DataSourceTrek:
		return Equirectangular
	}
	return Image
}

// LatLonToWebMercatorPixels projects lat/lon to world pixel coordinates at
// the given zoom, where the world is 256 * 2^zoom pixels square.
//
// Latitudes at or beyond the poles and non-finite input produce NaN.
// Latitudes between the Mercator limit and the pole are clamped to the limit.
func LatLonToWebMercatorPixels(lat, lon float64, zoom int) Point {
	if !isFinite(lat) || !isFinite(lon) || math.Abs(lat) >= 90 {
		return NaNPoint()
	}
	lat = clampFloat(lat, -MaxMercatorLat, MaxMercatorLat)
	lon = wrapLon(lon)

	scale := worldSize(zoom)
	sinLat := math.Sin(lat * math.Pi / 180)
	x := (lon + 180) / 360 * scale
	y := (0.5 - math.Log((1+sinLat)/(1-sinLat))/(4*math.Pi)) * scale
	if !isFinite(x) || !isFinite(y) {
		return NaNPoint()
	}
	// rounding at the clamped edge can dip a hair below zero
	return Point{X: clampFloat(x, 0, scale), Y: clampFloat(y, 0, scale)}
}

// LatLonToTrekTileXY maps lat/lon onto the equirectangular tile grid of the
// given zoom, with 2^zoom tiles per axis and row 0 at the north edge.
// ok is false for non-finite input.
func LatLonToTrekTileXY(lat, lon float64, zoom int) (TileXY, bool) {
	if !isFinite(lat) || !isFinite(lon) {
		return TileXY{}, false
	}
	lat = clampFloat(lat, -90, 90)
	lon = wrapLon(lon)

	n := math.Exp2(float64(max(zoom, 0)))
	xNorm := (lon + 180) / 360
	yNorm := 1 - (lat+90)/180

	last := int(n) - 1
	return TileXY{
		X: clamp(int(math.Floor(xNorm*n)), 0, last),
		Y: clamp(int(math.Floor(yNorm*n)), 0, last),
	}, true
}

// LatLonToImagePixels maps lat/lon to pixel coordinates in an image of the
// given size. The world pixel space (256 * 2^zoom) of the projection is
// rescaled to the image dimensions.
//
// For the Image projection, zero-sized images and non-finite input the
// result is NaN and callers should skip panning.
func LatLonToImagePixels(lat, lon float64, zoom int, imageWidth, imageHeight float64, proj Projection) Point {
	if !isFinite(lat) || !isFinite(lon) || !isFinite(imageWidth) || !isFinite(imageHeight) {
		return NaNPoint()
	}
	if imageWidth <= 0 || imageHeight <= 0 {
		return NaNPoint()
	}

	var world Point
	switch proj {
	case WebMercator:
		world = LatLonToWebMercatorPixels(lat, lon, zoom)
	case Equirectangular:
		world = equirectangularPixels(lat, lon, zoom)
	default:
		return NaNPoint()
	}
	if !world.Valid() {
		return NaNPoint()
	}

	scale := worldSize(zoom)
	return Point{
		X: world.X / scale * imageWidth,
		Y: world.Y / scale * imageHeight,
	}
}

// ImageTransformer converts image pixel coordinates into viewer viewport
// coordinates. It is implemented by the viewer adapter.
type ImageTransformer interface {
	ImageToViewport(x, y float64) (Point, error)
}

// ImagePixelsToViewportPoint delegates to the viewer's image to viewport
// transform. ok is false when no viewer is attached, the input is not finite,
// or the viewer cannot perform the conversion.
func ImagePixelsToViewportPoint(t ImageTransformer, x, y float64) (Point, bool) {
	if t == nil || !isFinite(x) || !isFinite(y) {
		return Point{}, false
	}
	p, err := t.ImageToViewport(x, y)
	if err != nil || !p.Valid() {
		return Point{}, false
	}
	return p, true
}

// equirectangularPixels is the continuous form of LatLonToTrekTileXY
func equirectangularPixels(lat, lon float64, zoom int) Point {
	lat = clampFloat(lat, -90, 90)
	lon = wrapLon(lon)
	scale := worldSize(zoom)
	return Point{
		X: (lon + 180) / 360 * scale,
		Y: (1 - (lat+90)/180) * scale,
	}
}

func worldSize(zoom int) float64 {
	return TileSize * math.Exp2(float64(max(zoom, 0)))
}

// wrapLon folds longitudes outside [-180, 180] back into range. Planetary
// catalogs often use 0..360 east longitudes.
func wrapLon(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(val, lo, hi int) int {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}

func clampFloat(val, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, val))
}
