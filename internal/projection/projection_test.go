package projection

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"space-explorer/internal/common"
)

func TestLatLonToWebMercatorPixels(t *testing.T) {
	p := LatLonToWebMercatorPixels(0, 0, 0)
	assert.InDelta(t, 128, p.X, 1e-9)
	assert.InDelta(t, 128, p.Y, 1e-9)

	p = LatLonToWebMercatorPixels(0, -180, 1)
	assert.InDelta(t, 0, p.X, 1e-9)
	assert.InDelta(t, 256, p.Y, 1e-9)
}

func TestLatLonToWebMercatorPixelsFiniteAndMonotonic(t *testing.T) {
	lats := []float64{-89.999, -85, -45.5, -1, 0, 12.3, 60, 85.0511, 89.999}
	lons := []float64{-180, -120.25, 0, 33, 179.9, 180}
	for _, lat := range lats {
		for _, lon := range lons {
			prev := Point{X: -1, Y: -1}
			for z := 0; z <= 12; z++ {
				p := LatLonToWebMercatorPixels(lat, lon, z)
				require.True(t, p.Valid(), "lat=%v lon=%v z=%d", lat, lon, z)
				assert.GreaterOrEqual(t, p.X, 0.0)
				assert.GreaterOrEqual(t, p.Y, 0.0)
				assert.GreaterOrEqual(t, p.X, prev.X)
				assert.GreaterOrEqual(t, p.Y, prev.Y)
				prev = p
			}
		}
	}
}

func TestLatLonToWebMercatorPixelsPolesAreNaN(t *testing.T) {
	for _, lat := range []float64{90, -90, 91, math.NaN(), math.Inf(1)} {
		p := LatLonToWebMercatorPixels(lat, 0, 3)
		assert.True(t, math.IsNaN(p.X), "lat=%v", lat)
		assert.True(t, math.IsNaN(p.Y), "lat=%v", lat)
	}
}

func TestLatLonToTrekTileXY(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		zoom     int
		want     TileXY
	}{
		{"center z2", 0, 0, 2, TileXY{X: 2, Y: 2}},
		{"center z0", 0, 0, 0, TileXY{X: 0, Y: 0}},
		{"center z5", 0, 0, 5, TileXY{X: 16, Y: 16}},
		{"north west corner", 90, -180, 3, TileXY{X: 0, Y: 0}},
		{"south east corner clamps", -90, 180, 3, TileXY{X: 7, Y: 7}},
		{"east longitude wraps", 18.65, 226.2, 4, TileXY{X: 2, Y: 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LatLonToTrekTileXY(tt.lat, tt.lon, tt.zoom)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := LatLonToTrekTileXY(math.NaN(), 0, 2)
	assert.False(t, ok)
}

func TestLatLonToImagePixels(t *testing.T) {
	p := LatLonToImagePixels(0, 0, 4, 1000, 500, Equirectangular)
	assert.InDelta(t, 500, p.X, 1e-9)
	assert.InDelta(t, 250, p.Y, 1e-9)

	p = LatLonToImagePixels(0, 0, 8, 2048, 2048, WebMercator)
	assert.InDelta(t, 1024, p.X, 1e-9)
	assert.InDelta(t, 1024, p.Y, 1e-9)

	for _, tc := range []struct {
		name string
		p    Point
	}{
		{"image projection", LatLonToImagePixels(10, 10, 3, 100, 100, Image)},
		{"zero width", LatLonToImagePixels(10, 10, 3, 0, 100, WebMercator)},
		{"nan input", LatLonToImagePixels(math.NaN(), 10, 3, 100, 100, WebMercator)},
		{"pole", LatLonToImagePixels(90, 10, 3, 100, 100, WebMercator)},
	} {
		assert.False(t, tc.p.Valid(), tc.name)
		assert.True(t, math.IsNaN(tc.p.X), tc.name)
	}
}

type fakeTransformer struct {
	width float64
	err   error
}

func (f fakeTransformer) ImageToViewport(x, y float64) (Point, error) {
	if f.err != nil {
		return Point{}, f.err
	}
	return Point{X: x / f.width, Y: y / f.width}, nil
}

func TestImagePixelsToViewportPoint(t *testing.T) {
	p, ok := ImagePixelsToViewportPoint(fakeTransformer{width: 200}, 100, 50)
	require.True(t, ok)
	assert.Equal(t, Point{X: 0.5, Y: 0.25}, p)

	_, ok = ImagePixelsToViewportPoint(nil, 1, 1)
	assert.False(t, ok)

	_, ok = ImagePixelsToViewportPoint(fakeTransformer{width: 1}, math.NaN(), 1)
	assert.False(t, ok)

	_, ok = ImagePixelsToViewportPoint(fakeTransformer{err: errors.New("no source")}, 1, 1)
	assert.False(t, ok)
}

func TestForDataSource(t *testing.T) {
	assert.Equal(t, WebMercator, ForDataSource(common.DataSourceGIBS))
	assert.Equal(t, Equirectangular, ForDataSource(common.DataSourceTrek))
	assert.Equal(t, Image, ForDataSource(common.DataSourceHubble))
}

func TestTileCenter(t *testing.T) {
	assert.Equal(t, Point{X: 384, Y: 384}, TileCenter(TileXY{X: 1, Y: 1}))
}
