// Package fallback drives one view load through a cascade of increasingly
// expensive recovery strategies: matrix set discovery, the static matrix
// set list, the content probe and mosaic, an immediate date or extension
// alternate, and finally backoff retries.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"space-explorer/internal/catalog"
	"space-explorer/internal/common"
	"space-explorer/internal/mosaic"
	"space-explorer/internal/prober"
	"space-explorer/internal/resolver"
	"space-explorer/internal/viewer"
)

// DefaultDeadline bounds a whole load, retries included
const DefaultDeadline = 60 * time.Second

var (
	// ErrImageryUnavailable is returned when every strategy failed
	ErrImageryUnavailable = errors.New("fallback: imagery unavailable")

	// ErrSuperseded is returned by a load replaced by a newer one
	ErrSuperseded = errors.New("fallback: load superseded")
)

// Resolver builds and checks tile sources
type Resolver interface {
	Resolve(req resolver.Request) (resolver.TileSource, catalog.Layer, error)
	DiscoverMatrixSet(ctx context.Context, layer catalog.Layer) (string, error)
	ValidateTileSource(ctx context.Context, ts resolver.TileSource) bool
}

// Prober predicts blank tile sources
type Prober interface {
	Probe(ctx context.Context, template string, maxZoom int) prober.Result
}

// Mosaicker composites a tile neighborhood into a PNG
type Mosaicker interface {
	Mosaic(ctx context.Context, template string, z, x, y int) ([]byte, error)
}

// Selection is what the user asked to see
type Selection struct {
	BodyID  string    `json:"bodyId"`
	LayerID string    `json:"layerId"`
	Date    time.Time `json:"date"`
}

// Outcome is the terminal result of a load
type Outcome struct {
	LoadID     uint64              `json:"loadId"`
	State      State               `json:"state"`
	Strategy   Strategy            `json:"strategy,omitempty"`
	TileSource resolver.TileSource `json:"tileSource"`
	Source     viewer.Source       `json:"source"`
	Layer      catalog.Layer       `json:"layer"`
	Attempts   int                 `json:"attempts"`
	Probe      *prober.Result      `json:"probe,omitempty"`
	Message    string              `json:"message,omitempty"`
}

// Orchestrator runs view loads. At most one load is current: starting a
// new one cancels the previous, and a stale load never touches the viewer
// or the sink again.
type Orchestrator struct {
	resolver Resolver
	viewer   viewer.Viewer
	prober   Prober
	mosaic   Mosaicker
	sink     EventSink
	retry    RetryStrategy
	deadline time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	current *Outcome
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithProber enables the content probe
func WithProber(p Prober) Option {
	return func(o *Orchestrator) { o.prober = p }
}

// WithMosaic sets the compositor used for likely-empty sources
func WithMosaic(m Mosaicker) Option {
	return func(o *Orchestrator) { o.mosaic = m }
}

// WithSink publishes transitions to s
func WithSink(s EventSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithRetryStrategy overrides the backoff
func WithRetryStrategy(r RetryStrategy) Option {
	return func(o *Orchestrator) { o.retry = r }
}

// WithDeadline overrides the overall deadline of a load
func WithDeadline(d time.Duration) Option {
	return func(o *Orchestrator) { o.deadline = d }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator loading into v
func New(res Resolver, v viewer.Viewer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		resolver: res,
		viewer:   v,
		retry:    DefaultRetryStrategy(),
		deadline: DefaultDeadline,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.retry.MaxAttempts < 1 {
		o.retry.MaxAttempts = 1
	}
	if o.deadline <= 0 {
		o.deadline = DefaultDeadline
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.Named("fallback")
	return o
}

// run is the per-load state
type run struct {
	o     *Orchestrator
	id    uint64
	sel   Selection
	date  string
	layer catalog.Layer
}

// Cancel aborts the current load, if any
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gen++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

// Current returns the outcome of the last load that reached the viewer
func (o *Orchestrator) Current() (Outcome, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return Outcome{}, false
	}
	return *o.current, true
}

func (o *Orchestrator) begin(parent context.Context) (uint64, context.Context, context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
	o.gen++
	ctx, cancel := context.WithTimeout(parent, o.deadline)
	o.cancel = cancel
	return o.gen, ctx, cancel
}

func (o *Orchestrator) isCurrent(id uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gen == id
}

// Load resolves sel and walks the cascade until the viewer opens a source
// or every strategy is exhausted. Catalog lookup failures are returned
// immediately; everything else is recovered from where possible.
func (o *Orchestrator) Load(parent context.Context, sel Selection) (Outcome, error) {
	id, ctx, cancel := o.begin(parent)
	defer func() {
		cancel()
		o.mu.Lock()
		if o.gen == id {
			o.cancel = nil
		}
		o.mu.Unlock()
	}()

	if sel.Date.IsZero() {
		sel.Date = o.now()
	}
	r := &run{o: o, id: id, sel: sel, date: common.FormatISO8601(sel.Date)}
	out, err := r.execute(ctx)
	out.LoadID = id

	if errors.Is(err, ErrSuperseded) || !o.isCurrent(id) {
		o.logger.Debug("load superseded", zap.Uint64("load_id", id), zap.String("layer", sel.LayerID))
		return out, ErrSuperseded
	}

	switch out.State {
	case StateSucceeded, StateDegraded:
		o.mu.Lock()
		if o.gen == id {
			cp := out
			o.current = &cp
		}
		o.mu.Unlock()
	}
	r.emit(Event{State: out.State, Strategy: out.Strategy, URL: out.Source.URL,
		MatrixSet: out.TileSource.MatrixSet, Attempt: out.Attempts, Message: out.Message})
	return out, err
}

func (r *run) emit(e Event) {
	if !r.o.isCurrent(r.id) {
		return
	}
	e.LoadID = r.id
	e.BodyID = r.sel.BodyID
	e.LayerID = r.sel.LayerID
	if e.Date == "" {
		e.Date = r.date
	}
	if e.DataSource == "" {
		e.DataSource = r.layer.DataSource
	}
	e.Time = r.o.now()
	if r.o.sink != nil {
		r.o.sink.OnEvent(e)
	}
}

// stopped maps a cancelled context onto the load's terminal error
func (r *run) stopped(ctx context.Context) error {
	if !r.o.isCurrent(r.id) {
		return ErrSuperseded
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (r *run) fail(out Outcome, cause error) (Outcome, error) {
	out.State = StateFailed
	out.Message = FailureMessage(r.layer.DataSource)
	r.o.logger.Warn("view load failed",
		zap.String("body", r.sel.BodyID),
		zap.String("layer", r.sel.LayerID),
		zap.String("date", r.date),
		zap.Int("attempts", out.Attempts),
		zap.Error(cause))
	return out, fmt.Errorf("%w: %w", ErrImageryUnavailable, cause)
}

func (r *run) execute(ctx context.Context) (Outcome, error) {
	r.emit(Event{State: StateResolving})

	ts, layer, err := r.o.resolver.Resolve(resolver.Request{BodyID: r.sel.BodyID, LayerID: r.sel.LayerID, Date: r.sel.Date})
	if err != nil {
		return Outcome{State: StateFailed, Message: err.Error()}, err
	}
	r.layer = layer
	out := Outcome{TileSource: ts, Layer: layer, Strategy: StrategyPrimary}

	if layer.DataSource == common.DataSourceGIBS && !layer.IsStatic() {
		ts = r.resolveMatrixSet(ctx, layer, ts)
		out.TileSource = ts
	}
	if err := r.stopped(ctx); err != nil {
		return r.interrupted(out, err)
	}

	primary := viewer.SourceFor(ts, layer)
	if primary.Kind == viewer.KindPyramid && r.o.prober != nil {
		r.emit(Event{State: StateProbing, URL: ts.URL, MatrixSet: ts.MatrixSet})
		res := r.o.prober.Probe(ctx, ts.URL, layer.MaxZoom)
		out.Probe = &res
		if err := r.stopped(ctx); err != nil {
			return r.interrupted(out, err)
		}
		if res.LikelyEmpty {
			if src, ok := r.mosaicSource(ctx, ts, res.Level); ok {
				primary = src
				out.Strategy = StrategyMosaic
			}
			if err := r.stopped(ctx); err != nil {
				return r.interrupted(out, err)
			}
		}
	}

	// first attempt
	out.Attempts = 1
	lastErr := r.load(ctx, primary, out.Strategy, 1)
	if lastErr == nil {
		return r.succeed(out, primary), nil
	}
	if err := r.stopped(ctx); err != nil {
		return r.interrupted(out, err)
	}

	// one immediate alternate, outside the retry budget
	if alt, strategy, ok := r.alternate(ts, layer); ok {
		if err := r.load(ctx, alt, strategy, 1); err == nil {
			out.Strategy = strategy
			out.TileSource.URL = alt.URL
			out.TileSource.Date = alt.Date
			return r.succeed(out, alt), nil
		}
		if err := r.stopped(ctx); err != nil {
			return r.interrupted(out, err)
		}
	}

	for attempt := 2; attempt <= r.o.retry.MaxAttempts; attempt++ {
		delay := r.o.retry.Delay(attempt - 1)
		r.emit(Event{State: StateRetrying, Strategy: out.Strategy, Attempt: attempt, Delay: delay, URL: primary.URL})
		if err := sleep(ctx, delay); err != nil {
			return r.interrupted(out, r.stopped(ctx))
		}

		out.Attempts = attempt
		if lastErr = r.load(ctx, primary, out.Strategy, attempt); lastErr == nil {
			return r.succeed(out, primary), nil
		}
		if err := r.stopped(ctx); err != nil {
			return r.interrupted(out, err)
		}
	}

	return r.fail(out, lastErr)
}

// interrupted handles supersession and the overall deadline
func (r *run) interrupted(out Outcome, err error) (Outcome, error) {
	if errors.Is(err, ErrSuperseded) {
		return out, ErrSuperseded
	}
	if err == nil {
		err = context.Canceled
	}
	return r.fail(out, err)
}

func (r *run) succeed(out Outcome, src viewer.Source) Outcome {
	out.Source = src
	out.State = StateSucceeded
	if out.Strategy != StrategyPrimary {
		out.State = StateDegraded
	}
	r.o.logger.Info("view loaded",
		zap.String("body", r.sel.BodyID),
		zap.String("layer", r.sel.LayerID),
		zap.String("state", string(out.State)),
		zap.String("strategy", string(out.Strategy)),
		zap.Int("attempts", out.Attempts))
	return out
}

// load hands src to the viewer unless the run went stale
func (r *run) load(ctx context.Context, src viewer.Source, strategy Strategy, attempt int) error {
	if !r.o.isCurrent(r.id) {
		return ErrSuperseded
	}
	r.emit(Event{State: StateLoading, Strategy: strategy, Attempt: attempt, URL: src.URL, Date: src.Date})
	err := r.o.viewer.LoadSource(ctx, src)
	if err != nil {
		r.o.logger.Debug("viewer load failed",
			zap.String("strategy", string(strategy)),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return err
}

// resolveMatrixSet picks the first matrix set that validates: the
// discovered one, then the static list. With none working the default
// stays in place.
func (r *run) resolveMatrixSet(ctx context.Context, layer catalog.Layer, ts resolver.TileSource) resolver.TileSource {
	if name, err := r.o.resolver.DiscoverMatrixSet(ctx, layer); err == nil {
		cand := resolver.BuildTileSource(layer, r.sel.Date, name, "")
		if r.o.resolver.ValidateTileSource(ctx, cand) {
			return cand
		}
		r.o.logger.Debug("discovered matrix set does not validate",
			zap.String("layer", layer.ID), zap.String("matrix_set", name))
	} else {
		r.o.logger.Debug("matrix set discovery failed", zap.String("layer", layer.ID), zap.Error(err))
	}

	for _, name := range resolver.FallbackMatrixSets {
		if ctx.Err() != nil || !r.o.isCurrent(r.id) {
			return ts
		}
		cand := resolver.BuildTileSource(layer, r.sel.Date, name, "")
		if r.o.resolver.ValidateTileSource(ctx, cand) {
			return cand
		}
	}

	r.o.logger.Info("no matrix set validated, keeping default",
		zap.String("layer", layer.ID), zap.String("matrix_set", ts.MatrixSet))
	return ts
}

// mosaicSource requests the composited neighborhood of tile (1, 1) at the
// probe level. Failures keep the tiled source.
func (r *run) mosaicSource(ctx context.Context, ts resolver.TileSource, level int) (viewer.Source, bool) {
	if r.o.mosaic == nil {
		return viewer.Source{}, false
	}
	data, err := r.o.mosaic.Mosaic(ctx, ts.URL, level, 1, 1)
	if err != nil {
		r.o.logger.Warn("mosaic request failed", zap.String("layer", ts.LayerID), zap.Error(err))
		return viewer.Source{}, false
	}
	return viewer.ImageSource(viewer.DataURL("image/png", data), mosaic.CanvasSize, mosaic.CanvasSize,
		ts.LayerID, ts.Date, ts.Source), true
}

// alternate returns the immediate fallback of a tiled source: the previous
// day for GIBS, the other image extension for Trek
func (r *run) alternate(ts resolver.TileSource, layer catalog.Layer) (viewer.Source, Strategy, bool) {
	if layer.IsStatic() {
		return viewer.Source{}, "", false
	}
	switch layer.DataSource {
	case common.DataSourceGIBS:
		alt := resolver.BuildTileSource(layer, common.PreviousDay(r.sel.Date), ts.MatrixSet, "")
		return viewer.SourceFor(alt, layer), StrategyPreviousDay, true
	case common.DataSourceTrek:
		url, ok := common.SwapImageExtension(ts.URL)
		if !ok {
			return viewer.Source{}, "", false
		}
		alt := ts
		alt.URL = url
		return viewer.SourceFor(alt, layer), StrategyAltFormat, true
	}
	return viewer.Source{}, "", false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
