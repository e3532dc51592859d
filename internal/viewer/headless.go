package viewer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"space-explorer/internal/projection"
)

// TileFetcher downloads a tile or image by URL
type TileFetcher interface {
	FetchTile(ctx context.Context, url string) ([]byte, error)
}

// Headless is a Viewer without a display. A load succeeds when the first
// tile (or the image) downloads and decodes.
type Headless struct {
	fetcher TileFetcher
	logger  *zap.Logger

	mu      sync.Mutex
	current *Source
	pans    []projection.Point
}

// NewHeadless creates a headless viewer
func NewHeadless(fetcher TileFetcher, logger *zap.Logger) *Headless {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Headless{fetcher: fetcher, logger: logger.Named("headless")}
}

// LoadSource fetches and decodes the first tile of src
func (h *Headless) LoadSource(ctx context.Context, src Source) error {
	var (
		data []byte
		err  error
	)
	switch {
	case IsDataURL(src.URL):
		data, _, err = DecodeDataURL(src.URL)
	case src.Kind == KindDZI:
		// the descriptor is XML, reachability is enough
		if _, err = h.fetcher.FetchTile(ctx, src.URL); err == nil {
			h.setCurrent(src)
			return nil
		}
	default:
		data, err = h.fetcher.FetchTile(ctx, src.FirstURL())
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	if src.Kind == KindImage && (src.Width <= 0 || src.Height <= 0) {
		src.Width, src.Height = cfg.Width, cfg.Height
	}

	h.logger.Debug("source opened",
		zap.String("layer", src.LayerID),
		zap.String("format", format),
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height))
	h.setCurrent(src)
	return nil
}

func (h *Headless) setCurrent(src Source) {
	h.mu.Lock()
	h.current = &src
	h.mu.Unlock()
}

// Current returns the last successfully loaded source
func (h *Headless) Current() (Source, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return Source{}, false
	}
	return *h.current, true
}

// PanTo records the pan target
func (h *Headless) PanTo(p projection.Point) error {
	if !p.Valid() {
		return fmt.Errorf("viewer: invalid pan target %v", p)
	}
	h.mu.Lock()
	h.pans = append(h.pans, p)
	h.mu.Unlock()
	return nil
}

// LastPan returns the most recent pan target
func (h *Headless) LastPan() (projection.Point, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pans) == 0 {
		return projection.Point{}, false
	}
	return h.pans[len(h.pans)-1], true
}

// ImageToViewport uses the same single-image mapping as the frontend
func (h *Headless) ImageToViewport(x, y float64) (projection.Point, error) {
	h.mu.Lock()
	cur := h.current
	h.mu.Unlock()
	return imageToViewport(cur, x, y)
}
