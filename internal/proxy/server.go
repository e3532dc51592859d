// Package proxy is the local HTTP relay between the viewer and NASA tile
// servers. It adds CORS headers, a disk tile cache, upstream throttling and
// the mosaic endpoint.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"space-explorer/internal/cache"
	"space-explorer/internal/mosaic"
	"space-explorer/internal/nasa"
	"space-explorer/internal/ratelimit"
)

const (
	defaultCapabilitiesEntries = 32
	defaultSweepSpec           = "@every 5m"
	maxUpstreamBytes           = 64 << 20
)

// TileStore is the cache the proxy reads through
type TileStore interface {
	Get(url string) ([]byte, string, bool)
	Set(url, contentType string, data []byte) error
	EvictExpired() int
	Stats() cache.Stats
}

// Server manages the proxy HTTP server
type Server struct {
	client     *http.Client
	tiles      TileStore
	caps       *lru.Cache[string, []byte]
	limiter    *ratelimit.Handler
	compositor *mosaic.Compositor
	scheme     string
	sweepSpec  string
	logger     *zap.Logger

	mu       sync.Mutex
	server   *http.Server
	cron     *cron.Cron
	url      string
	serveErr chan error
}

// Option configures a Server
type Option func(*Server)

// WithHTTPClient sets the client used for upstream requests
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) { s.client = c }
}

// WithTileStore enables disk caching of tiles
func WithTileStore(t TileStore) Option {
	return func(s *Server) { s.tiles = t }
}

// WithRateLimiter tracks upstream throttling per host
func WithRateLimiter(h *ratelimit.Handler) Option {
	return func(s *Server) { s.limiter = h }
}

// WithUpstreamScheme sets the scheme used to reach /api/tiles hosts
func WithUpstreamScheme(scheme string) Option {
	return func(s *Server) { s.scheme = scheme }
}

// WithSweepSchedule sets the cron spec for the cache expiry sweep
func WithSweepSchedule(spec string) Option {
	return func(s *Server) { s.sweepSpec = spec }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a proxy
func NewServer(opts ...Option) *Server {
	s := &Server{
		scheme:    "https",
		sweepSpec: defaultSweepSpec,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
			Timeout:   30 * time.Second,
		}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("proxy")

	caps, err := lru.New[string, []byte](defaultCapabilitiesEntries)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	s.caps = caps
	s.compositor = mosaic.NewCompositor(upstreamFetcher{s}, 0, s.logger)
	return s
}

// corsMiddleware adds CORS headers to allow requests from the Wails frontend
// (wails://wails on macOS/Linux) and the dev server
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the routed handler wrapped in CORS
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/wmts/capabilities", s.handleCapabilities)
	mux.HandleFunc("GET /api/tiles/{path...}", s.handleTile)
	mux.HandleFunc("POST /api/mosaic", s.handleMosaic)
	mux.HandleFunc("GET /api/cache/stats", s.handleCacheStats)
	return corsMiddleware(mux)
}

// Start listens on addr and serves in the background. "127.0.0.1:0" picks
// a free loopback port.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("proxy: already started")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start proxy: %w", err)
	}

	s.url = "http://" + listener.Addr().String()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.serveErr = make(chan error, 1)

	if s.tiles != nil {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(s.sweepSpec, s.sweepCache); err != nil {
			listener.Close()
			s.server = nil
			return fmt.Errorf("proxy: bad sweep schedule %q: %w", s.sweepSpec, err)
		}
		s.cron.Start()
	}

	srv := s.server
	errCh := s.serveErr
	go func() {
		err := srv.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	s.logger.Info("proxy started", zap.String("url", s.url))
	return nil
}

// URL returns the base URL once started
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Wait blocks until the server stops and returns its serve error
func (s *Server) Wait() error {
	s.mu.Lock()
	errCh := s.serveErr
	s.mu.Unlock()
	if errCh == nil {
		return nil
	}
	err := <-errCh
	errCh <- err
	return err
}

// Shutdown stops the cache sweep and gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, c := s.server, s.cron
	s.server, s.cron = nil, nil
	errCh := s.serveErr
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("proxy: shutdown: %w", err)
	}
	// let the serve goroutine exit
	err := <-errCh
	errCh <- err
	s.logger.Info("proxy stopped")
	return nil
}

func (s *Server) sweepCache() {
	if n := s.tiles.EvictExpired(); n > 0 {
		s.logger.Info("swept expired tiles", zap.Int("count", n))
	}
}

// upstreamFetcher lets the compositor read through the tile cache
type upstreamFetcher struct{ s *Server }

func (f upstreamFetcher) FetchTile(ctx context.Context, url string) ([]byte, error) {
	res, err := f.s.fetch(ctx, url, true)
	if err != nil {
		return nil, err
	}
	if res.status < 200 || res.status > 299 {
		return nil, &nasa.StatusError{Code: res.status, URL: url}
	}
	return res.data, nil
}
