package fallback

import (
	"time"

	"space-explorer/internal/common"
)

// State is a step in the lifecycle of one view load
type State string

const (
	StateResolving State = "resolving"
	StateProbing   State = "probing"
	StateLoading   State = "loading"
	StateRetrying  State = "retrying"
	StateSucceeded State = "succeeded"
	StateDegraded  State = "degraded"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions follow s
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateDegraded || s == StateFailed
}

// Strategy names the source a load step is using
type Strategy string

const (
	StrategyPrimary     Strategy = "primary"
	StrategyMosaic      Strategy = "mosaic"
	StrategyPreviousDay Strategy = "previous-day"
	StrategyAltFormat   Strategy = "alternate-format"
)

// Event is published on every transition
type Event struct {
	LoadID     uint64            `json:"loadId"`
	State      State             `json:"state"`
	Strategy   Strategy          `json:"strategy,omitempty"`
	BodyID     string            `json:"bodyId"`
	LayerID    string            `json:"layerId"`
	Date       string            `json:"date"`
	DataSource common.DataSource `json:"dataSource,omitempty"`
	MatrixSet  string            `json:"matrixSet,omitempty"`
	URL        string            `json:"url,omitempty"`
	Attempt    int               `json:"attempt,omitempty"`
	Delay      time.Duration     `json:"delay,omitempty"`
	Message    string            `json:"message,omitempty"`
	Time       time.Time         `json:"time"`
}

// EventSink receives transitions. Implementations must not block.
type EventSink interface {
	OnEvent(Event)
}

// SinkFunc adapts a function to EventSink
type SinkFunc func(Event)

func (f SinkFunc) OnEvent(e Event) { f(e) }

// RetryStrategy is the backoff applied after the immediate alternates
type RetryStrategy struct {
	// MaxAttempts counts every load of the primary source, the first
	// included
	MaxAttempts int

	// Base is multiplied by the number of failed attempts
	Base time.Duration
}

// DefaultRetryStrategy returns three attempts spaced 2s then 4s apart
func DefaultRetryStrategy() RetryStrategy {
	return RetryStrategy{MaxAttempts: 3, Base: 2 * time.Second}
}

// Delay returns the wait after the given number of failed attempts
func (r RetryStrategy) Delay(failed int) time.Duration {
	return r.Base * time.Duration(failed)
}

// FailureMessage is the user-facing message of a load that exhausted every
// strategy
func FailureMessage(ds common.DataSource) string {
	name := string(ds)
	if name == "" {
		name = "NASA"
	}
	return "Failed to load " + name + " imagery. Please try a different dataset."
}
