package prober

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakeFetcher struct {
	mu    sync.Mutex
	tiles map[string][]byte
	calls []string
}

func (f *fakeFetcher) FetchTile(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	data, ok := f.tiles[url]
	if !ok {
		return nil, errors.New("404")
	}
	return data, nil
}

const template = "https://tiles/{z}/{y}/{x}.png"

func tileURL(z, x, y int) string {
	return fmt.Sprintf("https://tiles/%d/%d/%d.png", z, y, x)
}

func TestProbeLevel(t *testing.T) {
	assert.Equal(t, 6, ProbeLevel(8))
	assert.Equal(t, 2, ProbeLevel(3))
	assert.Equal(t, 2, ProbeLevel(0))
	assert.Equal(t, 13, ProbeLevel(15))
}

func TestSampleCoords(t *testing.T) {
	coords := SampleCoords(2, 6)
	require.Len(t, coords, 6)
	got := make([][2]int, 0, len(coords))
	for _, c := range coords {
		got = append(got, [2]int{c.Col, c.Row})
	}
	assert.Equal(t, [][2]int{{0, 0}, {1, 0}, {2, 0}, {3, 0}, {0, 1}, {1, 1}}, got)

	// a 2x2 grid only has four tiles
	assert.Len(t, SampleCoords(1, 6), 4)
}

func TestProbeLikelyEmpty(t *testing.T) {
	black := solidPNG(t, color.Black)
	bright := solidPNG(t, color.RGBA{R: 200, G: 180, B: 150, A: 255})

	f := &fakeFetcher{tiles: map[string][]byte{}}
	// level 6 for maxZoom 8: four black and two bright samples
	for i, c := range SampleCoords(6, 6) {
		if i < 4 {
			f.tiles[tileURL(6, c.Col, c.Row)] = black
		} else {
			f.tiles[tileURL(6, c.Col, c.Row)] = bright
		}
	}

	res := New(f).Probe(context.Background(), template, 8)
	assert.Equal(t, 6, res.Level)
	assert.Len(t, res.Samples, 6)
	assert.Equal(t, 4, res.Empty)
	assert.True(t, res.LikelyEmpty)
	assert.Equal(t, "https://tiles/6/0/0.png", f.calls[0])
}

func TestProbeHalfEmptyIsNotLikelyEmpty(t *testing.T) {
	black := solidPNG(t, color.Black)
	bright := solidPNG(t, color.White)

	f := &fakeFetcher{tiles: map[string][]byte{}}
	for i, c := range SampleCoords(2, 6) {
		if i%2 == 0 {
			f.tiles[tileURL(2, c.Col, c.Row)] = black
		} else {
			f.tiles[tileURL(2, c.Col, c.Row)] = bright
		}
	}

	res := New(f).Probe(context.Background(), template, 3)
	assert.Equal(t, 3, res.Empty)
	assert.False(t, res.LikelyEmpty)
}

func TestProbeFailsOpen(t *testing.T) {
	black := solidPNG(t, color.Black)
	f := &fakeFetcher{tiles: map[string][]byte{
		tileURL(2, 0, 0): black,
		tileURL(2, 1, 0): black,
		tileURL(2, 2, 0): []byte("not an image"),
	}}

	res := New(f).Probe(context.Background(), template, 2)
	assert.Len(t, res.Samples, 6)
	assert.Equal(t, 2, res.Empty)
	assert.False(t, res.LikelyEmpty)
	assert.NotEmpty(t, res.Samples[2].Err)
	assert.NotEmpty(t, res.Samples[5].Err)
}

func TestProbeStopsOnCancel(t *testing.T) {
	f := &fakeFetcher{tiles: map[string][]byte{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := New(f).Probe(ctx, template, 8)
	assert.Empty(t, res.Samples)
	assert.False(t, res.LikelyEmpty)
}

func TestLuminance(t *testing.T) {
	lum, err := Luminance(solidPNG(t, color.White), DefaultCanvas)
	require.NoError(t, err)
	assert.InDelta(t, 255, lum, 0.5)

	lum, err = Luminance(solidPNG(t, color.Transparent), DefaultCanvas)
	require.NoError(t, err)
	assert.InDelta(t, 0, lum, 0.5)

	_, err = Luminance([]byte("garbage"), DefaultCanvas)
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	grey := solidPNG(t, color.Gray{Y: 40})
	f := &fakeFetcher{tiles: map[string][]byte{}}
	for _, c := range SampleCoords(2, 16) {
		f.tiles[tileURL(2, c.Col, c.Row)] = grey
	}

	res := New(f, WithThreshold(50), WithSamples(16)).Probe(context.Background(), template, 2)
	assert.Len(t, res.Samples, 16)
	assert.True(t, res.LikelyEmpty)
}
