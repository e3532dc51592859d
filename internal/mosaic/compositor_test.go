package mosaic

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
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func solid(t *testing.T, size int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type mapFetcher struct {
	mu    sync.Mutex
	tiles map[string][]byte
	calls int
}

func (f *mapFetcher) FetchTile(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if data, ok := f.tiles[url]; ok {
		return data, nil
	}
	return nil, errors.New("not found")
}

const template = "https://t/{z}/{y}/{x}.png"

func key(z, x, y int) string { return fmt.Sprintf("https://t/%d/%d/%d.png", z, y, x) }

func TestCompositeFullNeighborhood(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	f := &mapFetcher{tiles: map[string][]byte{}}
	for y := 0; y <= 2; y++ {
		for x := 0; x <= 2; x++ {
			f.tiles[key(3, x, y)] = solid(t, 256, red)
		}
	}
	// center tile missing, stays black
	delete(f.tiles, key(3, 1, 1))

	res, err := NewCompositor(f, 2, nil).Composite(context.Background(), template, 3, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 9, res.Attempted)
	assert.Equal(t, 8, res.Drawn)
	assert.Equal(t, CanvasSize, res.Image.Bounds().Dx())

	assert.Equal(t, color.RGBA{R: 255, A: 255}, res.Image.RGBAAt(10, 10))
	assert.Equal(t, color.RGBA{A: 255}, res.Image.RGBAAt(300, 300))
	assert.Equal(t, color.RGBA{R: 255, A: 255}, res.Image.RGBAAt(700, 700))
}

func TestCompositeCornerSkipsOutOfGrid(t *testing.T) {
	green := color.RGBA{G: 255, A: 255}
	f := &mapFetcher{tiles: map[string][]byte{
		key(2, 0, 0): solid(t, 256, green),
		key(2, 1, 1): solid(t, 512, green),
	}}

	res, err := NewCompositor(f, 0, nil).Composite(context.Background(), template, 2, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Attempted)
	assert.Equal(t, 4, f.calls)
	assert.Equal(t, 2, res.Drawn)
	assert.Equal(t, 0, res.Bounds.MinCol)
	assert.Equal(t, 1, res.Bounds.MaxRow)

	// the out-of-grid top-left cell is black, (0,0) is drawn at the center
	assert.Equal(t, color.RGBA{A: 255}, res.Image.RGBAAt(10, 10))
	assert.Equal(t, green, res.Image.RGBAAt(300, 300))
	// the 512px tile is scaled into its cell
	assert.Equal(t, green, res.Image.RGBAAt(600, 600))
}

func TestCompositeInvalidTile(t *testing.T) {
	c := NewCompositor(&mapFetcher{}, 1, nil)
	_, err := c.Composite(context.Background(), template, 1, 2, 0)
	assert.ErrorIs(t, err, ErrInvalidTile)
	_, err = c.Composite(context.Background(), template, -1, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidTile)
}

func TestCompositeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCompositor(&mapFetcher{}, 1, nil).Composite(ctx, template, 4, 5, 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEncodePNG(t *testing.T) {
	res, err := NewCompositor(&mapFetcher{}, 1, nil).Composite(context.Background(), template, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Drawn)

	data, err := EncodePNG(res.Image)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, CanvasSize, img.Bounds().Dy())
}
