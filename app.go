package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/posthog/posthog-go"
	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"
	"go.uber.org/zap"

	"space-explorer/internal/annotation"
	"space-explorer/internal/cache"
	"space-explorer/internal/catalog"
	"space-explorer/internal/common"
	"space-explorer/internal/config"
	"space-explorer/internal/fallback"
	"space-explorer/internal/logging"
	"space-explorer/internal/mosaic"
	"space-explorer/internal/nasa"
	"space-explorer/internal/prober"
	"space-explorer/internal/projection"
	"space-explorer/internal/proxy"
	"space-explorer/internal/ratelimit"
	"space-explorer/internal/resolver"
	"space-explorer/internal/storage"
	"space-explorer/internal/viewer"
)

// Linker flags
var (
	PostHogKey  string
	PostHogHost string
	AppVersion  string = "0.0.0-dev"
)

// Frontend events
const (
	EventViewState      = "view:state"
	EventCatalogChanged = "catalog:changed"
	EventRateLimit      = "rate-limit"
	EventRateLimitRetry = "rate-limit-retry"
	EventRateRecovered  = "rate-limit-recovered"
)

// availableDays is how many recent days the date picker offers
const availableDays = 30

// ErrNotReady is returned by bindings called before startup finished
var ErrNotReady = errors.New("app is still starting")

// App struct
type App struct {
	ctx          context.Context
	settings     *config.UserSettings
	logger       *zap.Logger
	catalog      *catalog.Catalog
	tileCache    *cache.TileCache
	limiter      *ratelimit.Handler
	proxy        *proxy.Server
	client       *nasa.Client
	resolver     *resolver.Resolver
	bridge       *viewer.Bridge
	orchestrator *fallback.Orchestrator
	annotations  *annotation.Service
	kv           storage.KV
	phClient     posthog.Client
	stopWatch    context.CancelFunc
	mu           sync.Mutex
	devMode      bool // Enable verbose logging in dev mode only
}

// NewApp creates a new App application struct
func NewApp() *App {
	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings, using defaults: %v\n", err)
		settings = config.DefaultSettings()
	}

	key := settings.PostHogKey
	if key == "" {
		key = PostHogKey
	}
	var phClient posthog.Client
	if key != "" {
		client, err := posthog.NewWithConfig(key, posthog.Config{Endpoint: PostHogHost})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize PostHog: %v\n", err)
		} else {
			phClient = client
		}
	}

	return &App{
		settings: settings,
		logger:   zap.NewNop(),
		phClient: phClient,
	}
}

// Emit forwards viewer bridge events to the frontend
func (a *App) Emit(_ context.Context, event string, data any) {
	if a.ctx == nil {
		return
	}
	wailsRuntime.EventsEmit(a.ctx, event, data)
}

// startup is called when the app starts
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	a.logger = logging.Must(a.devMode)
	settings := a.settings

	a.catalog = catalog.Default()
	a.loadCatalogFile(ctx, settings)

	tileCache, err := cache.New(cache.Config{
		Dir:       cache.GetCacheDir(),
		MaxSizeMB: settings.CacheMaxSizeMB,
		TTLDays:   settings.CacheTTLDays,
	}, a.logger)
	if err != nil {
		wailsRuntime.LogError(ctx, fmt.Sprintf("Failed to initialize tile cache: %v", err))
	} else {
		a.tileCache = tileCache
		wailsRuntime.LogInfo(ctx, fmt.Sprintf("Tile cache initialized at %s (max %d MB)", tileCache.GetCachePath(), settings.CacheMaxSizeMB))
	}

	a.limiter = ratelimit.NewHandler(nil, a.logger)
	a.limiter.SetOnRateLimit(func(e ratelimit.Event) { wailsRuntime.EventsEmit(ctx, EventRateLimit, e) })
	a.limiter.SetOnRetry(func(e ratelimit.Event) { wailsRuntime.EventsEmit(ctx, EventRateLimitRetry, e) })
	a.limiter.SetOnRecovered(func(host string) { wailsRuntime.EventsEmit(ctx, EventRateRecovered, host) })

	clientOpts := []nasa.Option{nasa.WithRateLimiter(a.limiter), nasa.WithLogger(a.logger)}
	if settings.ProxyEnabled {
		if err := a.startProxy(); err != nil {
			wailsRuntime.LogError(ctx, fmt.Sprintf("Failed to start tile proxy, using direct requests: %v", err))
		} else {
			clientOpts = append(clientOpts, nasa.WithProxy(a.proxy.URL()))
			wailsRuntime.LogInfo(ctx, fmt.Sprintf("Tile proxy listening at %s", a.proxy.URL()))
		}
	}
	a.client = nasa.NewClient(clientOpts...)
	a.resolver = resolver.New(a.catalog, nil, a.client, a.logger)
	a.bridge = viewer.NewBridge(a, viewer.DefaultLoadTimeout, a.logger)
	a.orchestrator = fallback.New(a.resolver, a.bridge, a.orchestratorOptions(ctx, settings)...)

	kv, err := storage.Open(ctx, settings.AnnotationBackend, settings.AnnotationStorePath())
	if err != nil {
		wailsRuntime.LogError(ctx, fmt.Sprintf("Failed to open annotation store: %v", err))
	} else {
		a.kv = kv
		a.annotations = annotation.NewService(kv, a.logger)
	}

	go a.importConfiguredCapabilities(ctx)

	a.TrackEvent("app_started", map[string]interface{}{
		"version": a.GetAppVersion(),
		"os":      goruntime.GOOS,
		"arch":    goruntime.GOARCH,
	})
}

func (a *App) startProxy() error {
	opts := []proxy.Option{proxy.WithRateLimiter(a.limiter), proxy.WithLogger(a.logger)}
	if a.tileCache != nil {
		opts = append(opts, proxy.WithTileStore(a.tileCache))
	}
	srv := proxy.NewServer(opts...)
	if err := srv.Start("127.0.0.1:0"); err != nil {
		return err
	}
	a.proxy = srv
	return nil
}

func (a *App) orchestratorOptions(ctx context.Context, settings *config.UserSettings) []fallback.Option {
	opts := []fallback.Option{
		fallback.WithLogger(a.logger),
		fallback.WithDeadline(time.Duration(settings.LoadDeadlineSeconds) * time.Second),
		fallback.WithRetryStrategy(fallback.RetryStrategy{
			MaxAttempts: settings.MaxLoadAttempts,
			Base:        fallback.DefaultRetryStrategy().Base,
		}),
		fallback.WithSink(fallback.SinkFunc(func(e fallback.Event) {
			wailsRuntime.EventsEmit(ctx, EventViewState, e)
			if e.State.Terminal() {
				a.logger.Debug("view settled",
					zap.String("layer", e.LayerID),
					zap.String("state", string(e.State)))
			}
		})),
	}
	if settings.ProbeEnabled {
		opts = append(opts, fallback.WithProber(prober.New(a.client, prober.WithLogger(a.logger))))
	}
	// the proxy composites server side; without it tiles are stitched here
	if a.proxy != nil {
		opts = append(opts, fallback.WithMosaic(a.client))
	} else {
		opts = append(opts, fallback.WithMosaic(mosaic.NewCompositor(a.client, 0, a.logger)))
	}
	return opts
}

// loadCatalogFile merges the user's catalog extension and watches it
func (a *App) loadCatalogFile(ctx context.Context, settings *config.UserSettings) {
	path := settings.CatalogFile
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		a.logger.Debug("no catalog extension file", zap.String("path", path))
		return
	}
	if n, err := a.catalog.ApplyFile(path); err != nil {
		wailsRuntime.LogError(ctx, fmt.Sprintf("Catalog file %s: %v", path, err))
	} else {
		wailsRuntime.LogInfo(ctx, fmt.Sprintf("Loaded %d layers from %s", n, path))
	}

	if !settings.WatchCatalogChanges {
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	err := a.catalog.Watch(watchCtx, path, a.logger, func(added int) {
		wailsRuntime.EventsEmit(ctx, EventCatalogChanged, added)
	})
	if err != nil {
		cancel()
		wailsRuntime.LogError(ctx, fmt.Sprintf("Failed to watch catalog file: %v", err))
		return
	}
	a.stopWatch = cancel
}

// shutdown cleans up resources
func (a *App) shutdown(ctx context.Context) {
	if a.stopWatch != nil {
		a.stopWatch()
	}
	if a.orchestrator != nil {
		a.orchestrator.Cancel()
	}
	if a.proxy != nil {
		if err := a.proxy.Shutdown(ctx); err != nil {
			a.logger.Warn("proxy shutdown", zap.Error(err))
		}
	}
	if a.limiter != nil {
		a.limiter.Close()
	}
	if a.tileCache != nil {
		a.tileCache.Close()
	}
	if a.kv != nil {
		a.kv.Close()
	}

	a.mu.Lock()
	if err := config.SaveSettings(a.settings); err != nil {
		a.logger.Warn("failed to save settings on exit", zap.Error(err))
	}
	a.mu.Unlock()

	if a.phClient != nil {
		a.phClient.Close()
	}
	_ = a.logger.Sync()
}

// TrackEvent sends an event to PostHog
func (a *App) TrackEvent(event string, props map[string]interface{}) {
	if a.phClient != nil {
		a.phClient.Enqueue(posthog.Capture{
			DistinctId: "backend_user",
			Event:      event,
			Properties: props,
		})
	}
}

// GetAppVersion returns the current application version
func (a *App) GetAppVersion() string {
	return AppVersion
}

// ===================
// Catalog
// ===================

// GetBodies returns every celestial body with its layers
func (a *App) GetBodies() []catalog.CelestialBody {
	if a.catalog == nil {
		return catalog.DefaultBodies()
	}
	return a.catalog.Bodies()
}

// GetLayers returns the layers of one body
func (a *App) GetLayers(bodyID string) ([]catalog.Layer, error) {
	if a.catalog == nil {
		return nil, ErrNotReady
	}
	return a.catalog.LayersForBody(bodyID)
}

// ===================
// Resolution
// ===================

// parseDate accepts an ISO date; empty means today
func parseDate(date string) (time.Time, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		return time.Time{}, nil
	}
	t, err := common.ParseISO8601(date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t, nil
}

// GetTileSource resolves the tile source of a layer without loading it
func (a *App) GetTileSource(bodyID, layerID, date string) (resolver.TileSource, error) {
	if a.resolver == nil {
		return resolver.TileSource{}, ErrNotReady
	}
	day, err := parseDate(date)
	if err != nil {
		return resolver.TileSource{}, err
	}
	return a.resolver.GetTileSource(bodyID, layerID, day)
}

// GetAvailableDates returns the last days offered by the date picker
func (a *App) GetAvailableDates() []string {
	return resolver.AvailableDates(time.Now(), availableDays)
}

// CheckLayerAvailability reports whether the first tile of a layer answers
func (a *App) CheckLayerAvailability(bodyID, layerID, date string) (bool, error) {
	if a.resolver == nil {
		return false, ErrNotReady
	}
	day, err := parseDate(date)
	if err != nil {
		return false, err
	}
	return a.resolver.CheckLayerAvailability(a.ctx, bodyID, layerID, day)
}

// ===================
// View loading
// ===================

// LoadView runs the fallback cascade for a selection. A failed load is
// returned as an outcome carrying the user-facing message; only catalog
// errors and bad input are returned as errors.
func (a *App) LoadView(bodyID, layerID, date string) (fallback.Outcome, error) {
	if a.orchestrator == nil {
		return fallback.Outcome{}, ErrNotReady
	}
	day, err := parseDate(date)
	if err != nil {
		return fallback.Outcome{}, err
	}

	out, err := a.orchestrator.Load(a.ctx, fallback.Selection{BodyID: bodyID, LayerID: layerID, Date: day})
	switch {
	case errors.Is(err, fallback.ErrSuperseded):
		return out, nil
	case errors.Is(err, fallback.ErrImageryUnavailable):
		wailsRuntime.LogError(a.ctx, fmt.Sprintf("View load failed: %v", err))
		err = nil
	case err != nil:
		return out, err
	}

	a.TrackEvent("view_loaded", map[string]interface{}{
		"body":     bodyID,
		"layer":    layerID,
		"provider": out.Layer.DataSource.ProviderID(),
		"state":    string(out.State),
		"strategy": string(out.Strategy),
		"attempts": out.Attempts,
	})
	if out.State != fallback.StateFailed {
		a.rememberView(bodyID, layerID, out.TileSource.Date)
	}
	return out, nil
}

func (a *App) rememberView(bodyID, layerID, date string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settings.LastView = &config.LastView{BodyID: bodyID, LayerID: layerID, Date: date}
}

// CancelView aborts the load in progress
func (a *App) CancelView() {
	if a.orchestrator != nil {
		a.orchestrator.Cancel()
	}
}

// ReportViewerResult is called by the frontend once the viewer opened or
// failed to open a source requested through a viewer:load event
func (a *App) ReportViewerResult(requestID string, ok bool, message string) bool {
	if a.bridge == nil {
		return false
	}
	return a.bridge.Resolve(requestID, ok, message)
}

// SearchCoordinates pans the current view to a latitude and longitude. It
// returns false when nothing is loaded or the point cannot be projected.
func (a *App) SearchCoordinates(lat, lon float64) (bool, error) {
	if a.orchestrator == nil {
		return false, ErrNotReady
	}
	current, ok := a.orchestrator.Current()
	if !ok {
		return false, nil
	}
	_, panned, err := viewer.PanToCoordinate(a.bridge, current.Source, current.Layer, lat, lon)
	if err != nil {
		a.logger.Warn("coordinate search failed", zap.Float64("lat", lat), zap.Float64("lon", lon), zap.Error(err))
		return false, nil
	}
	return panned, nil
}

// FeatureResult is a feature search hit
type FeatureResult struct {
	Feature catalog.Feature   `json:"feature"`
	Point   projection.LatLon `json:"point"`
	Panned  bool              `json:"panned"`
}

// GetFeatures returns the named places SearchFeature understands
func (a *App) GetFeatures() []catalog.Feature {
	return catalog.Features()
}

// SearchFeature looks up a named feature and pans to it
func (a *App) SearchFeature(name string) (*FeatureResult, error) {
	f, ok := catalog.LookupFeature(name)
	if !ok {
		return nil, fmt.Errorf("feature %q not found", name)
	}
	panned, err := a.SearchCoordinates(f.Lat, f.Lon)
	if err != nil {
		return nil, err
	}
	return &FeatureResult{Feature: f, Point: f.LatLon(), Panned: panned}, nil
}
