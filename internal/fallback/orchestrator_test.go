package fallback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"space-explorer/internal/catalog"
	"space-explorer/internal/common"
	"space-explorer/internal/projection"
	"space-explorer/internal/prober"
	"space-explorer/internal/resolver"
	"space-explorer/internal/viewer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	gibsBase  = "https://gibs.test/wmts/epsg3857/best"
	gibsLayer = "VIIRS_SNPP_CorrectedReflectance_TrueColor"
	trekURL   = "https://trek.test/tiles/Moon/EQ/LRO/1.0.0/default/default028mm/{z}/{y}/{x}.jpg"
)

const level8Capabilities = `<?xml version="1.0" encoding="UTF-8"?>
<Capabilities xmlns="http://www.opengis.net/wmts/1.0" xmlns:ows="http://www.opengis.net/ows/1.1">
  <Contents>
    <Layer>
      <ows:Identifier>VIIRS_SNPP_CorrectedReflectance_TrueColor</ows:Identifier>
      <TileMatrixSetLink><TileMatrixSet>GoogleMapsCompatible_Level8</TileMatrixSet></TileMatrixSetLink>
    </Layer>
  </Contents>
</Capabilities>`

var loadDate = time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

func testCatalog() *catalog.Catalog {
	return catalog.New(
		catalog.CelestialBody{ID: catalog.BodyEarth, Name: "Earth", Layers: []catalog.Layer{{
			ID: gibsLayer, DataSource: common.DataSourceGIBS, BaseURL: gibsBase, TileFormat: "jpg", MaxZoom: 8,
		}}},
		catalog.CelestialBody{ID: catalog.BodyMoon, Name: "Moon", Layers: []catalog.Layer{{
			ID: "LRO", DataSource: common.DataSourceTrek, BaseURL: trekURL, TileFormat: "jpg", MaxZoom: 7,
		}}},
		catalog.CelestialBody{ID: catalog.BodyAndromeda, Name: "Andromeda", Layers: []catalog.Layer{{
			ID: "M31", DataSource: common.DataSourceHubble, BaseURL: "https://hubble.test/m31.jpg",
			Type: catalog.LayerImage, Width: 10552, Height: 2468,
		}}},
	)
}

// recorder keeps the order of calls across fakes
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeUpstream struct {
	capabilities string
	valid        func(url string) bool
}

func (u *fakeUpstream) FetchCapabilities(_ context.Context, url string) ([]byte, error) {
	if u.capabilities == "" {
		return nil, errors.New("capabilities unavailable")
	}
	return []byte(u.capabilities), nil
}

func (u *fakeUpstream) Check(_ context.Context, url string) bool {
	return u.valid != nil && u.valid(url)
}

type fakeViewer struct {
	rec  *recorder
	mu   sync.Mutex
	srcs []viewer.Source
	load func(ctx context.Context, src viewer.Source) error
}

func (v *fakeViewer) LoadSource(ctx context.Context, src viewer.Source) error {
	v.mu.Lock()
	v.srcs = append(v.srcs, src)
	v.mu.Unlock()
	if v.rec != nil {
		v.rec.add("load:" + string(src.Kind))
	}
	if v.load == nil {
		return nil
	}
	return v.load(ctx, src)
}

func (v *fakeViewer) PanTo(projection.Point) error { return nil }

func (v *fakeViewer) ImageToViewport(x, y float64) (projection.Point, error) {
	return projection.Point{X: x, Y: y}, nil
}

func (v *fakeViewer) sources() []viewer.Source {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]viewer.Source(nil), v.srcs...)
}

type fakeProber struct {
	rec    *recorder
	result prober.Result
}

func (p *fakeProber) Probe(_ context.Context, template string, maxZoom int) prober.Result {
	p.rec.add("probe")
	res := p.result
	res.Level = prober.ProbeLevel(maxZoom)
	return res
}

type fakeMosaic struct {
	rec     *recorder
	err     error
	z, x, y int
}

func (m *fakeMosaic) Mosaic(_ context.Context, template string, z, x, y int) ([]byte, error) {
	m.rec.add("mosaic")
	m.z, m.x, m.y = z, x, y
	if m.err != nil {
		return nil, m.err
	}
	return []byte("png"), nil
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (s *sinkRecorder) OnEvent(e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *sinkRecorder) states() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.State)
	}
	return out
}

func fastRetry() Option {
	return WithRetryStrategy(RetryStrategy{MaxAttempts: 3, Base: time.Millisecond})
}

func TestDiscoveredMatrixSetWins(t *testing.T) {
	up := &fakeUpstream{
		capabilities: level8Capabilities,
		valid:        func(url string) bool { return strings.Contains(url, "GoogleMapsCompatible_Level8") },
	}
	res := resolver.New(testCatalog(), nil, up, nil)
	v := &fakeViewer{}
	sink := &sinkRecorder{}
	o := New(res, v, WithSink(sink), fastRetry())

	out, err := o.Load(context.Background(), Selection{BodyID: catalog.BodyEarth, LayerID: gibsLayer, Date: loadDate})
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, out.State)
	assert.Equal(t, StrategyPrimary, out.Strategy)
	assert.Equal(t, "GoogleMapsCompatible_Level8", out.TileSource.MatrixSet)
	assert.Contains(t, out.Source.URL, "/2024-03-02/GoogleMapsCompatible_Level8/{z}/{y}/{x}.jpg")
	assert.Equal(t, 1, out.Attempts)

	cached, ok := res.Cache().Get(gibsBase, gibsLayer)
	require.True(t, ok)
	assert.Equal(t, "GoogleMapsCompatible_Level8", cached)

	assert.Equal(t, []State{StateResolving, StateLoading, StateSucceeded}, sink.states())

	current, ok := o.Current()
	require.True(t, ok)
	assert.Equal(t, out.Source.URL, current.Source.URL)
}

func TestStaticMatrixSetList(t *testing.T) {
	up := &fakeUpstream{
		valid: func(url string) bool { return strings.Contains(url, "GoogleMapsCompatible_Level10") },
	}
	res := resolver.New(testCatalog(), nil, up, nil)
	o := New(res, &fakeViewer{}, fastRetry())

	out, err := o.Load(context.Background(), Selection{BodyID: catalog.BodyEarth, LayerID: gibsLayer, Date: loadDate})
	require.NoError(t, err)
	assert.Equal(t, "GoogleMapsCompatible_Level10", out.TileSource.MatrixSet)
	assert.Equal(t, 0, res.Cache().Len(), "static list results are not cached")
}

func TestNoMatrixSetValidatesKeepsDefault(t *testing.T) {
	res := resolver.New(testCatalog(), nil, &fakeUpstream{}, nil)
	v := &fakeViewer{}
	o := New(res, v, fastRetry())

	out, err := o.Load(context.Background(), Selection{BodyID: catalog.BodyEarth, LayerID: gibsLayer, Date: loadDate})
	require.NoError(t, err)
	assert.Equal(t, resolver.DefaultMatrixSet, out.TileSource.MatrixSet)
	require.Len(t, v.sources(), 1)
	assert.Contains(t, v.sources()[0].URL, resolver.DefaultMatrixSet)
}

func TestProbeRequestsMosaicBeforeTiledLoading(t *testing.T) {
	rec := &recorder{}
	res := resolver.New(testCatalog(), nil, &fakeUpstream{valid: func(string) bool { return true }}, nil)
	v := &fakeViewer{rec: rec}
	m := &fakeMosaic{rec: rec}
	p := &fakeProber{rec: rec, result: prober.Result{Empty: 4, LikelyEmpty: true}}
	sink := &sinkRecorder{}
	o := New(res, v, WithProber(p), WithMosaic(m), WithSink(sink), fastRetry())

	out, err := o.Load(context.Background(), Selection{BodyID: catalog.BodyEarth, LayerID: gibsLayer, Date: loadDate})
	require.NoError(t, err)

	assert.Equal(t, []string{"probe", "mosaic", "load:image"}, rec.list())
	assert.Equal(t, [3]int{6, 1, 1}, [3]int{m.z, m.x, m.y})
	assert.Equal(t, StateDegraded, out.State)
	assert.Equal(t, StrategyMosaic, out.Strategy)
	assert.True(t, viewer.IsDataURL(out.Source.URL))
	assert.Equal(t, 768, out.Source.Width)
	require.NotNil(t, out.Probe)
	assert.True(t, out.Probe.LikelyEmpty)
	assert.Equal(t, []State{StateResolving, StateProbing, StateLoading, StateDegraded}, sink.states())
}

func TestMosaicFailureKeepsTiles(t *testing.T) {
	rec := &recorder{}
	res := resolver.New(testCatalog(), nil, &fakeUpstream{}, nil)
	v := &fakeViewer{rec: rec}
	o := New(res, v,
		WithProber(&fakeProber{rec: rec, result: prober.Result{LikelyEmpty: true}}),
		WithMosaic(&fakeMosaic{rec: rec, err: errors.New("proxy down")}),
		fastRetry())

	out, err := o.Load(context.Background(), Selection{BodyID: catalog.BodyMoon, LayerID: "LRO", Date: loadDate})
	require.NoError(t, err)
	assert.Equal(t, []string{"probe", "mosaic", "load:legacy-image-pyramid"}, rec.list())
	assert.Equal(t, StateSucceeded, out.State)
}

func TestProbeSkippedForImages(t *testing.T) {
	rec := &recorder{}
	res := resolver.New(testCatalog(), nil, nil, nil)
	o := New(res, &fakeViewer{rec: rec}, WithProber(&fakeProber{rec: rec}), fastRetry())

	out, err := o.Load(context.Background(), Selection{BodyID: catalog.BodyAndromeda, LayerID: "M31"})
	require.NoError(t, err)
	assert.Equal(t, []string{"load:image"}, rec.list())
	assert.Equal(t, 10552, out.Source.Width)
}

func TestPreviousDayAlternate(t *testing.T) {
	res := resolver.New(testCatalog(), nil, &fakeUpstream{}, nil)
	v := &fakeViewer{load: func(_ context.Context, src viewer.Source) error {
		if strings.Contains(src.URL, "/2024-03-02/") {
			return viewer.ErrLoadFailed
		}
		return nil
	}}
	sink := &sinkRecorder{}
	o := New(res, v, WithSink(sink), fastRetry())

	out, err := o.Load(context.Background(), Selection{BodyID: catalog.BodyEarth, LayerID: gibsLayer, Date: loadDate})
	require.NoError(t, err)
	assert.Equal(t, StateDegraded, out.State)
	assert.Equal(t, StrategyPreviousDay, out.Strategy)
	assert.Equal(t, "2024-03-01", out.Source.Date)
	assert.Equal(t, "2024-03-01", out.TileSource.Date)
	assert.Equal(t, 1, out.Attempts, "the alternate does not use a retry slot")
	assert.Len(t, v.sources(), 2)
	assert.NotContains(t, sink.states(), StateRetrying)
}

func TestTrekExtensionSwap(t *testing.T) {
	res := resolver.New(testCatalog(), nil, &fakeUpstream{}, nil)
	v := &fakeViewer{load: func(_ context.Context, src viewer.Source) error {
		if strings.HasSuffix(src.URL, ".jpg") {
			return viewer.ErrLoadFailed
		}
		return nil
	}}
	o := New(res, v, fastRetry())

	out, err := o.Load(context.Background(), Selection{BodyID: catalog.BodyMoon, LayerID: "LRO", Date: loadDate})
	require.NoError(t, err)
	assert.Equal(t, StateDegraded, out.State)
	assert.Equal(t, StrategyAltFormat, out.Strategy)
	assert.True(t, strings.HasSuffix(out.Source.URL, "{x}.png"))
}

func TestBackoffRetries(t *testing.T) {
	res := resolver.New(testCatalog(), nil, nil, nil)
	calls := 0
	v := &fakeViewer{load: func(context.Context, viewer.Source) error {
		calls++
		if calls < 3 {
			return viewer.ErrLoadFailed
		}
		return nil
	}}
	sink := &sinkRecorder{}
	o := New(res, v, WithSink(sink), WithRetryStrategy(RetryStrategy{MaxAttempts: 3, Base: time.Millisecond}))

	out, err := o.Load(context.Background(), Selection{BodyID: catalog.BodyAndromeda, LayerID: "M31"})
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, out.State)
	assert.Equal(t, 3, out.Attempts)

	var delays []time.Duration
	for _, e := range sink.events {
		if e.State == StateRetrying {
			delays = append(delays, e.Delay)
		}
	}
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestExhaustedFails(t *testing.T) {
	res := resolver.New(testCatalog(), nil, nil, nil)
	v := &fakeViewer{load: func(context.Context, viewer.Source) error { return viewer.ErrLoadFailed }}
	sink := &sinkRecorder{}
	o := New(res, v, WithSink(sink), fastRetry())

	out, err := o.Load(context.Background(), Selection{BodyID: catalog.BodyMoon, LayerID: "LRO", Date: loadDate})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImageryUnavailable)
	assert.ErrorIs(t, err, viewer.ErrLoadFailed)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, "Failed to load NASA Trek imagery. Please try a different dataset.", out.Message)
	assert.Equal(t, 3, out.Attempts)
	// primary, alternate, two retries
	assert.Len(t, v.sources(), 4)

	states := sink.states()
	assert.Equal(t, StateFailed, states[len(states)-1])
	_, ok := o.Current()
	assert.False(t, ok)
}

func TestLayerNotFound(t *testing.T) {
	v := &fakeViewer{}
	o := New(resolver.New(testCatalog(), nil, nil, nil), v)

	out, err := o.Load(context.Background(), Selection{BodyID: catalog.BodyEarth, LayerID: "nope"})
	assert.ErrorIs(t, err, catalog.ErrLayerNotFound)
	assert.NotErrorIs(t, err, ErrImageryUnavailable)
	assert.Equal(t, StateFailed, out.State)
	assert.Empty(t, v.sources())
}

func TestNewerLoadSupersedes(t *testing.T) {
	started := make(chan struct{})
	v := &fakeViewer{load: func(ctx context.Context, src viewer.Source) error {
		if src.Kind == viewer.KindImage {
			return nil
		}
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}
	sink := &sinkRecorder{}
	o := New(resolver.New(testCatalog(), nil, nil, nil), v, WithSink(sink), fastRetry())

	type result struct {
		out Outcome
		err error
	}
	first := make(chan result, 1)
	go func() {
		out, err := o.Load(context.Background(), Selection{BodyID: catalog.BodyMoon, LayerID: "LRO", Date: loadDate})
		first <- result{out, err}
	}()
	<-started

	out, err := o.Load(context.Background(), Selection{BodyID: catalog.BodyAndromeda, LayerID: "M31"})
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, out.State)

	stale := <-first
	assert.ErrorIs(t, stale.err, ErrSuperseded)
	// the stale load never reached its alternate
	assert.Len(t, v.sources(), 2)

	current, ok := o.Current()
	require.True(t, ok)
	assert.Equal(t, "M31", current.Source.LayerID)
	for _, e := range sink.events {
		if e.LoadID == stale.out.LoadID {
			assert.NotEqual(t, StateFailed, e.State)
		}
	}
}

func TestCancel(t *testing.T) {
	started := make(chan struct{})
	v := &fakeViewer{load: func(ctx context.Context, _ viewer.Source) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}
	o := New(resolver.New(testCatalog(), nil, nil, nil), v)

	done := make(chan error, 1)
	go func() {
		_, err := o.Load(context.Background(), Selection{BodyID: catalog.BodyAndromeda, LayerID: "M31"})
		done <- err
	}()
	<-started
	o.Cancel()
	assert.ErrorIs(t, <-done, ErrSuperseded)
}

func TestOverallDeadline(t *testing.T) {
	v := &fakeViewer{load: func(ctx context.Context, _ viewer.Source) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	o := New(resolver.New(testCatalog(), nil, nil, nil), v,
		WithDeadline(30*time.Millisecond),
		WithRetryStrategy(RetryStrategy{MaxAttempts: 3, Base: time.Hour}))

	start := time.Now()
	out, err := o.Load(context.Background(), Selection{BodyID: catalog.BodyAndromeda, LayerID: "M31"})
	assert.ErrorIs(t, err, ErrImageryUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateFailed, out.State)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestStateHelpers(t *testing.T) {
	assert.True(t, StateDegraded.Terminal())
	assert.False(t, StateRetrying.Terminal())
	assert.Equal(t, 4*time.Second, DefaultRetryStrategy().Delay(2))
	assert.Equal(t, "Failed to load NASA GIBS imagery. Please try a different dataset.", FailureMessage(common.DataSourceGIBS))

	var got []State
	SinkFunc(func(e Event) { got = append(got, e.State) }).OnEvent(Event{State: StateLoading})
	assert.Equal(t, []State{StateLoading}, got)
}
