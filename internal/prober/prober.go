// Package prober samples a few tiles of a freshly resolved tile source to
// predict whether the mosaic will render mostly blank.
package prober

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"space-explorer/internal/common"
)

const (
	// DefaultThreshold is the mean luminance (0-255) below which a tile is empty
	DefaultThreshold = 10.0

	// DefaultCanvas is the edge of the square a tile is downscaled to
	DefaultCanvas = 32

	// DefaultSamples is how many tiles of the 4x4 block are fetched
	DefaultSamples = 6

	// minProbeLevel is the lowest zoom level probed
	minProbeLevel = 2

	blockSize = 4
)

// TileFetcher downloads a tile by URL
type TileFetcher interface {
	FetchTile(ctx context.Context, url string) ([]byte, error)
}

// Sample is the outcome for one probed tile
type Sample struct {
	X         int     `json:"x"`
	Y         int     `json:"y"`
	Luminance float64 `json:"luminance"`
	Empty     bool    `json:"empty"`
	Err       string  `json:"error,omitempty"`
}

// Result summarizes a probe
type Result struct {
	Level       int      `json:"level"`
	Samples     []Sample `json:"samples"`
	Empty       int      `json:"empty"`
	LikelyEmpty bool     `json:"likelyEmpty"`
}

// Prober fetches and measures sample tiles
type Prober struct {
	fetcher   TileFetcher
	threshold float64
	canvas    int
	samples   int
	logger    *zap.Logger
}

// Option configures a Prober
type Option func(*Prober)

// WithThreshold overrides the empty luminance threshold
func WithThreshold(t float64) Option {
	return func(p *Prober) { p.threshold = t }
}

// WithSamples overrides how many tiles are sampled (at most 16)
func WithSamples(n int) Option {
	return func(p *Prober) { p.samples = min(max(n, 1), blockSize*blockSize) }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Prober) { p.logger = l }
}

// New creates a prober
func New(fetcher TileFetcher, opts ...Option) *Prober {
	p := &Prober{
		fetcher:   fetcher,
		threshold: DefaultThreshold,
		canvas:    DefaultCanvas,
		samples:   DefaultSamples,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.Named("prober")
	return p
}

// ProbeLevel returns the zoom level probed for a layer: two below its max,
// never below 2
func ProbeLevel(maxZoom int) int {
	return max(maxZoom-2, minProbeLevel)
}

// SampleCoords returns the first n tiles of the 4x4 block at the origin in
// row-major order, limited to tiles that exist at zoom
func SampleCoords(zoom, n int) []common.TileFetchResult {
	grid := common.GridBounds(zoom)
	coords := make([]common.TileFetchResult, 0, n)
	for y := 0; y < blockSize && len(coords) < n; y++ {
		for x := 0; x < blockSize && len(coords) < n; x++ {
			if !grid.Contains(x, y) {
				continue
			}
			coords = append(coords, common.TileFetchResult{Col: x, Row: y, Index: len(coords)})
		}
	}
	return coords
}

// Probe samples the tile template at ProbeLevel(maxZoom). Samples that fail
// to download or decode count as not empty, so a probe never blocks
// loading.
func (p *Prober) Probe(ctx context.Context, template string, maxZoom int) Result {
	level := ProbeLevel(maxZoom)
	res := Result{Level: level}

	for _, c := range SampleCoords(level, p.samples) {
		if ctx.Err() != nil {
			break
		}
		s := Sample{X: c.Col, Y: c.Row}

		url := common.FillTileTemplate(template, level, c.Col, c.Row)
		data, err := p.fetcher.FetchTile(ctx, url)
		if err != nil {
			s.Err = err.Error()
			res.Samples = append(res.Samples, s)
			continue
		}

		lum, err := Luminance(data, p.canvas)
		if err != nil {
			s.Err = err.Error()
			res.Samples = append(res.Samples, s)
			continue
		}
		s.Luminance = lum
		s.Empty = lum < p.threshold
		if s.Empty {
			res.Empty++
		}
		res.Samples = append(res.Samples, s)
	}

	res.LikelyEmpty = len(res.Samples) > 0 && res.Empty*2 > len(res.Samples)
	p.logger.Debug("probe finished",
		zap.Int("level", level),
		zap.Int("sampled", len(res.Samples)),
		zap.Int("empty", res.Empty),
		zap.Bool("likely_empty", res.LikelyEmpty))
	return res
}

// Luminance decodes an image, downscales it to a size x size canvas and
// returns its mean Rec. 601 luma in 0-255. Transparent pixels count as
// black.
func Luminance(data []byte, size int) (float64, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	return MeanLuminance(img, size), nil
}

// MeanLuminance downscales img and averages its luma
func MeanLuminance(img image.Image, size int) float64 {
	if size <= 0 {
		size = DefaultCanvas
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	var sum float64
	pix := dst.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		sum += 0.299*float64(pix[i]) + 0.587*float64(pix[i+1]) + 0.114*float64(pix[i+2])
	}
	return sum / float64(size*size)
}
