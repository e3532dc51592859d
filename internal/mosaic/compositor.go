// Package mosaic stitches the 3x3 tile neighborhood around a tile into a
// single raster.
package mosaic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/semaphore"

	"space-explorer/internal/common"
)

const (
	// Radius of the neighborhood around the center tile
	Radius = 1

	// CanvasSize is the edge of the composited image
	CanvasSize = (2*Radius + 1) * common.TileSize

	defaultWorkers = 4
)

// ErrInvalidTile is returned when the center tile lies outside the grid
var ErrInvalidTile = errors.New("mosaic: tile outside grid")

// TileFetcher downloads a tile by URL
type TileFetcher interface {
	FetchTile(ctx context.Context, url string) ([]byte, error)
}

// Result is a composited neighborhood
type Result struct {
	Image *image.RGBA

	// Bounds is the neighborhood clipped to the tile grid
	Bounds common.TileBounds

	// Drawn counts the cells that were fetched and decoded
	Drawn int

	// Attempted counts the in-grid cells
	Attempted int
}

// Compositor fetches and stitches neighborhoods
type Compositor struct {
	fetcher TileFetcher
	workers int64
	logger  *zap.Logger
}

// NewCompositor creates a compositor fetching at most workers tiles at once
func NewCompositor(fetcher TileFetcher, workers int, logger *zap.Logger) *Compositor {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compositor{
		fetcher: fetcher,
		workers: int64(workers),
		logger:  logger.Named("mosaic"),
	}
}

// Composite fetches the neighborhood of (x, y) at zoom z from template and
// draws every tile that succeeds onto an opaque black canvas. Cells outside
// the grid and cells that fail stay black. Only cancellation of ctx is an
// error; a canvas with nothing drawn is still a result.
func (c *Compositor) Composite(ctx context.Context, template string, z, x, y int) (*Result, error) {
	grid := common.GridBounds(z)
	if z < 0 || !grid.Contains(x, y) {
		return nil, fmt.Errorf("%w: z=%d x=%d y=%d", ErrInvalidTile, z, x, y)
	}

	hood := common.NeighborhoodBounds(x, y, Radius)
	cells := make([]common.TileFetchResult, 0, hood.Cols()*hood.Rows())
	for row := hood.MinRow; row <= hood.MaxRow; row++ {
		for col := hood.MinCol; col <= hood.MaxCol; col++ {
			if !grid.Contains(col, row) {
				continue
			}
			cells = append(cells, common.TileFetchResult{Col: col, Row: row, Index: len(cells)})
		}
	}

	sem := semaphore.NewWeighted(c.workers)
	results := make([]common.TileFetchResult, len(cells))
	var fetched int64
	var wg sync.WaitGroup

	for i, cell := range cells {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int, cell common.TileFetchResult) {
			defer wg.Done()
			defer sem.Release(1)

			url := common.FillTileTemplate(template, z, cell.Col, cell.Row)
			data, err := c.fetcher.FetchTile(ctx, url)
			cell.Data = data
			cell.Error = err
			cell.Success = err == nil
			if cell.Success {
				atomic.AddInt64(&fetched, 1)
			}
			results[i] = cell
		}(i, cell)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	canvas := image.NewRGBA(image.Rect(0, 0, hood.Cols()*common.TileSize, hood.Rows()*common.TileSize))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	res := &Result{
		Image:     canvas,
		Bounds:    clip(hood, grid),
		Attempted: len(cells),
	}
	for _, r := range results {
		if !r.Success {
			if r.Error != nil {
				c.logger.Debug("tile fetch failed",
					zap.Int("x", r.Col), zap.Int("y", r.Row), zap.Error(r.Error))
			}
			continue
		}
		img, _, err := image.Decode(bytes.NewReader(r.Data))
		if err != nil {
			c.logger.Debug("tile decode failed",
				zap.Int("x", r.Col), zap.Int("y", r.Row), zap.Error(err))
			continue
		}

		ox := (r.Col - hood.MinCol) * common.TileSize
		oy := (r.Row - hood.MinRow) * common.TileSize
		cell := image.Rect(ox, oy, ox+common.TileSize, oy+common.TileSize)
		if img.Bounds().Dx() == common.TileSize && img.Bounds().Dy() == common.TileSize {
			draw.Draw(canvas, cell, img, img.Bounds().Min, draw.Over)
		} else {
			draw.ApproxBiLinear.Scale(canvas, cell, img, img.Bounds(), draw.Over, nil)
		}
		res.Drawn++
	}

	c.logger.Debug("mosaic composited",
		zap.Int("z", z), zap.Int("x", x), zap.Int("y", y),
		zap.Int("attempted", res.Attempted),
		zap.Int64("fetched", atomic.LoadInt64(&fetched)),
		zap.Int("drawn", res.Drawn))
	return res, nil
}

// Mosaic composites the neighborhood and returns it as PNG
func (c *Compositor) Mosaic(ctx context.Context, template string, z, x, y int) ([]byte, error) {
	res, err := c.Composite(ctx, template, z, x, y)
	if err != nil {
		return nil, err
	}
	return EncodePNG(res.Image)
}

// EncodePNG encodes a composited image
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("mosaic: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func clip(b, grid common.TileBounds) common.TileBounds {
	return common.TileBounds{
		MinCol: max(b.MinCol, grid.MinCol),
		MaxCol: min(b.MaxCol, grid.MaxCol),
		MinRow: max(b.MinRow, grid.MinRow),
		MaxRow: min(b.MaxRow, grid.MaxRow),
	}
}
