// Package ratelimit tracks upstream throttling per tile host so the proxy
// and the upstream client stop hammering a server that is pushing back.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RetryStrategy defines the cool-down intervals after repeated throttling
type RetryStrategy struct {
	Intervals  []time.Duration
	MaxRetries int
}

// DefaultRetryStrategy returns the default escalating cool-down strategy
func DefaultRetryStrategy() *RetryStrategy {
	return &RetryStrategy{
		Intervals: []time.Duration{
			15 * time.Second,
			30 * time.Second,
			1 * time.Minute,
			2 * time.Minute,
			5 * time.Minute,
		},
		MaxRetries: 10,
	}
}

// interval returns the cool-down for the given attempt, repeating the last
// interval once the table is exhausted
func (s *RetryStrategy) interval(attempt int) time.Duration {
	if len(s.Intervals) == 0 {
		return time.Minute
	}
	if attempt < len(s.Intervals) {
		return s.Intervals[attempt]
	}
	return s.Intervals[len(s.Intervals)-1]
}

// Event represents a throttling occurrence for one upstream host
type Event struct {
	Timestamp    time.Time `json:"timestamp" ts_type:"string"`
	Host         string    `json:"host"`
	StatusCode   int       `json:"statusCode"`
	RetryAttempt int       `json:"retryAttempt"`
	NextRetryAt  time.Time `json:"nextRetryAt" ts_type:"string"`
	Message      string    `json:"message"`
}

// Handler manages throttling detection and cool-down per host
type Handler struct {
	mu               sync.RWMutex
	limited          map[string]*Event
	strategy         *RetryStrategy
	onRateLimit      func(event Event)
	onRetry          func(event Event)
	onRecovered      func(host string)
	autoRetryEnabled bool
	logger           *zap.Logger
	now              func() time.Time
	ctx              context.Context
	cancel           context.CancelFunc
	wg               sync.WaitGroup
}

// NewHandler creates a new rate limit handler
func NewHandler(strategy *RetryStrategy, logger *zap.Logger) *Handler {
	if strategy == nil {
		strategy = DefaultRetryStrategy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Handler{
		limited:          make(map[string]*Event),
		strategy:         strategy,
		autoRetryEnabled: true,
		logger:           logger.Named("ratelimit"),
		now:              time.Now,
		ctx:              ctx,
		cancel:           cancel,
	}
}

// SetOnRateLimit sets the callback for throttling events
func (h *Handler) SetOnRateLimit(callback func(event Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRateLimit = callback
}

// SetOnRetry sets the callback fired when a cool-down elapses
func (h *Handler) SetOnRetry(callback func(event Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRetry = callback
}

// SetOnRecovered sets the callback for recovery from throttling
func (h *Handler) SetOnRecovered(callback func(host string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRecovered = callback
}

// IsRateLimited reports whether host is inside its cool-down window
func (h *Handler) IsRateLimited(host string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	event, limited := h.limited[host]
	return limited && h.now().Before(event.NextRetryAt)
}

// IsThrottleStatus reports whether an upstream status code means "slow down"
func IsThrottleStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusServiceUnavailable ||
		code == 509 // Bandwidth Limit Exceeded
}

// CheckResponse analyzes an upstream response for throttling and returns
// true when the host is now rate limited
func (h *Handler) CheckResponse(host string, resp *http.Response) bool {
	if !IsThrottleStatus(resp.StatusCode) {
		h.checkRecovery(host)
		return false
	}
	h.recordRateLimit(host, resp.StatusCode, retryAfter(resp))
	return true
}

// retryAfter parses a Retry-After header given in seconds
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// recordRateLimit records a throttling event and schedules the cool-down
func (h *Handler) recordRateLimit(host string, statusCode int, hinted time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	retryAttempt := 0
	if existing, exists := h.limited[host]; exists {
		retryAttempt = existing.RetryAttempt + 1
	}

	interval := h.strategy.interval(retryAttempt)
	if hinted > interval {
		interval = hinted
	}

	now := h.now()
	nextRetryAt := now.Add(interval)

	event := Event{
		Timestamp:    now,
		Host:         host,
		StatusCode:   statusCode,
		RetryAttempt: retryAttempt,
		NextRetryAt:  nextRetryAt,
		Message:      buildMessage(host, statusCode, retryAttempt, interval),
	}
	h.limited[host] = &event

	h.logger.Warn("upstream throttled",
		zap.String("host", host),
		zap.Int("status", statusCode),
		zap.Int("attempt", retryAttempt),
		zap.Time("next_retry_at", nextRetryAt))

	if h.onRateLimit != nil {
		go h.onRateLimit(event)
	}

	if h.autoRetryEnabled && retryAttempt < h.strategy.MaxRetries {
		h.wg.Add(1)
		go h.scheduleRetry(host, event, interval)
	}
}

// scheduleRetry notifies once the cool-down of event has elapsed
func (h *Handler) scheduleRetry(host string, event Event, wait time.Duration) {
	defer h.wg.Done()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		h.mu.RLock()
		current, exists := h.limited[host]
		stale := !exists || !current.Timestamp.Equal(event.Timestamp)
		onRetry := h.onRetry
		h.mu.RUnlock()
		if stale {
			return
		}

		h.logger.Info("cool-down elapsed", zap.String("host", host), zap.Duration("waited", wait))
		if onRetry != nil {
			onRetry(event)
		}
	case <-h.ctx.Done():
		return
	}
}

// checkRecovery clears the state of a host that answered normally
func (h *Handler) checkRecovery(host string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.limited[host]; exists {
		delete(h.limited, host)
		h.logger.Info("upstream recovered", zap.String("host", host))

		if h.onRecovered != nil {
			go h.onRecovered(host)
		}
	}
}

// ManualRetry clears the cool-down of host so the next request goes through
func (h *Handler) ManualRetry(host string) {
	h.mu.Lock()
	event, exists := h.limited[host]
	if !exists {
		h.mu.Unlock()
		return
	}
	delete(h.limited, host)
	onRetry := h.onRetry
	h.mu.Unlock()

	h.logger.Info("manual retry requested", zap.String("host", host))
	if onRetry != nil {
		go onRetry(*event)
	}
}

// SetAutoRetry enables or disables cool-down notifications
func (h *Handler) SetAutoRetry(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.autoRetryEnabled = enabled
}

// GetCurrentState returns the current throttling state for a host
func (h *Handler) GetCurrentState(host string) *Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if event, exists := h.limited[host]; exists {
		eventCopy := *event
		return &eventCopy
	}
	return nil
}

// Limited returns the events of all currently throttled hosts
func (h *Handler) Limited() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Event, 0, len(h.limited))
	for _, e := range h.limited {
		out = append(out, *e)
	}
	return out
}

func buildMessage(host string, statusCode int, retryAttempt int, wait time.Duration) string {
	secs := int(wait.Round(time.Second).Seconds())
	if retryAttempt == 0 {
		return fmt.Sprintf("%s is throttling requests (HTTP %d). Tile loading pauses for %ds.",
			host, statusCode, secs)
	}
	return fmt.Sprintf("%s is still throttling requests (attempt %d). Next try in %ds.",
		host, retryAttempt+1, secs)
}

// Close stops pending cool-down timers and waits for them to exit
func (h *Handler) Close() {
	h.cancel()
	h.wg.Wait()
}
