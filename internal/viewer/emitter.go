package viewer

import (
	"context"
	"sync"
)

// EventEmitter decouples the bridge from wailsRuntime. The desktop App
// implements it by delegating to wailsRuntime.EventsEmit.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// MockEmitter records emitted events for tests
type MockEmitter struct {
	mu     sync.Mutex
	events []EmittedEvent

	// OnEmit, when set, runs after every recorded emission
	OnEmit func(EmittedEvent)
}

// EmittedEvent holds a single recorded emission
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	e := EmittedEvent{Event: event, Data: data}
	m.mu.Lock()
	m.events = append(m.events, e)
	hook := m.OnEmit
	m.mu.Unlock()
	if hook != nil {
		hook(e)
	}
}

// Events returns a copy of the recorded events
func (m *MockEmitter) Events() []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EmittedEvent(nil), m.events...)
}
