package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"space-explorer/internal/projection"
)

// Events emitted to the frontend viewer
const (
	EventLoad   = "viewer:load"
	EventPan    = "viewer:pan"
	EventCancel = "viewer:cancel"
)

// DefaultLoadTimeout bounds how long a load waits for the frontend
const DefaultLoadTimeout = 30 * time.Second

// ErrLoadTimeout is returned when the frontend never reports back
var ErrLoadTimeout = errors.New("viewer: load timed out")

// LoadRequest is the payload of EventLoad
type LoadRequest struct {
	RequestID string `json:"requestId"`
	Source    Source `json:"source"`
}

// PanRequest is the payload of EventPan
type PanRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Bridge implements Viewer over frontend events. The frontend answers
// every EventLoad through Resolve.
type Bridge struct {
	emitter EventEmitter
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]chan error
	current *Source
}

// NewBridge creates a bridge. A non-positive timeout uses
// DefaultLoadTimeout.
func NewBridge(emitter EventEmitter, timeout time.Duration, logger *zap.Logger) *Bridge {
	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		emitter: emitter,
		timeout: timeout,
		logger:  logger.Named("viewer"),
		pending: make(map[string]chan error),
	}
}

// LoadSource asks the frontend to open src and waits for its answer
func (b *Bridge) LoadSource(ctx context.Context, src Source) error {
	id := uuid.NewString()
	done := make(chan error, 1)

	b.mu.Lock()
	b.pending[id] = done
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	b.logger.Debug("loading source",
		zap.String("request_id", id),
		zap.String("kind", string(src.Kind)),
		zap.String("layer", src.LayerID))
	b.emitter.Emit(ctx, EventLoad, LoadRequest{RequestID: id, Source: src})

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		b.mu.Lock()
		b.current = &src
		b.mu.Unlock()
		return nil
	case <-ctx.Done():
		b.emitter.Emit(context.WithoutCancel(ctx), EventCancel, map[string]string{"requestId": id})
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrLoadTimeout, b.timeout)
	}
}

// Resolve completes a pending load. It returns false when requestID is
// unknown, for instance because the load was already cancelled.
func (b *Bridge) Resolve(requestID string, ok bool, message string) bool {
	b.mu.Lock()
	done, found := b.pending[requestID]
	b.mu.Unlock()
	if !found {
		return false
	}

	var err error
	if !ok {
		if message == "" {
			message = "unknown error"
		}
		err = fmt.Errorf("%w: %s", ErrLoadFailed, message)
	}
	select {
	case done <- err:
	default: // already resolved
	}
	return true
}

// Pending returns the number of loads waiting for the frontend
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Current returns the last successfully loaded source
func (b *Bridge) Current() (Source, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return Source{}, false
	}
	return *b.current, true
}

// PanTo emits EventPan
func (b *Bridge) PanTo(p projection.Point) error {
	if !p.Valid() {
		return fmt.Errorf("viewer: invalid pan target %v", p)
	}
	b.emitter.Emit(context.Background(), EventPan, PanRequest{X: p.X, Y: p.Y})
	return nil
}

// ImageToViewport maps image pixels to viewport coordinates the way the
// viewer does for a single image: the image spans x in [0, 1] and y in
// [0, height/width].
func (b *Bridge) ImageToViewport(x, y float64) (projection.Point, error) {
	b.mu.Lock()
	cur := b.current
	b.mu.Unlock()
	return imageToViewport(cur, x, y)
}

func imageToViewport(src *Source, x, y float64) (projection.Point, error) {
	if src == nil || src.Width <= 0 {
		return projection.Point{}, ErrNoSource
	}
	w := float64(src.Width)
	return projection.Point{X: x / w, Y: y / w}, nil
}
