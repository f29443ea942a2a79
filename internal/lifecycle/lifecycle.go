// Package lifecycle provides event hooks for server startup, shutdown,
// connections and reply completion.
package lifecycle

import (
	"sync"

	"github.com/neboloop/chorus/internal/logging"
)

// Event types for lifecycle hooks
type Event string

const (
	// Server lifecycle events
	EventServerStarted    Event = "server_started"
	EventShutdownStarted  Event = "shutdown_started"
	EventShutdownComplete Event = "shutdown_complete"

	// Client connection events
	EventClientConnected    Event = "client_connected"
	EventClientDisconnected Event = "client_disconnected"

	// Reply events
	EventReplyCompleted Event = "reply_completed"
	EventReplyFailed    Event = "reply_failed"
)

// Handler is a function that handles a lifecycle event
type Handler func(event Event, data any)

// Manager manages lifecycle event subscriptions and dispatching
type Manager struct {
	mu       sync.RWMutex
	handlers map[Event][]Handler
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{handlers: make(map[Event][]Handler)}
}

// Global lifecycle manager
var global = NewManager()

// On registers a handler for a lifecycle event
func On(event Event, handler Handler) {
	global.On(event, handler)
}

// Emit dispatches an event to all registered handlers
func Emit(event Event, data any) {
	global.Emit(event, data)
}

// Reset drops every handler registered on the global manager.
func Reset() {
	global.mu.Lock()
	global.handlers = make(map[Event][]Handler)
	global.mu.Unlock()
}

// On registers a handler for a lifecycle event
func (m *Manager) On(event Event, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], handler)
}

// Emit dispatches an event to all registered handlers. Handlers run
// synchronously and may spawn goroutines if needed.
func (m *Manager) Emit(event Event, data any) {
	m.mu.RLock()
	handlers := m.handlers[event]
	m.mu.RUnlock()

	logging.Debugf("[lifecycle] Emitting event: %s", event)
	for _, h := range handlers {
		h(event, data)
	}
}

// ReplyEventData describes one finished reply.
type ReplyEventData struct {
	ClientID   string
	Profile    string
	Model      string
	DurationMS int64
	Error      error
}

// OnClientConnected registers a handler receiving the client id.
func OnClientConnected(handler func(clientID string)) {
	On(EventClientConnected, func(e Event, data any) {
		if id, ok := data.(string); ok {
			handler(id)
		}
	})
}

// OnClientDisconnected registers a handler receiving the client id.
func OnClientDisconnected(handler func(clientID string)) {
	On(EventClientDisconnected, func(e Event, data any) {
		if id, ok := data.(string); ok {
			handler(id)
		}
	})
}

// OnServerStarted registers a handler receiving the listen address.
func OnServerStarted(handler func(addr string)) {
	On(EventServerStarted, func(e Event, data any) {
		addr, _ := data.(string)
		handler(addr)
	})
}

// OnShutdown is a convenience function to register a shutdown handler
func OnShutdown(handler func()) {
	On(EventShutdownStarted, func(e Event, data any) {
		handler()
	})
}

// OnReply registers one handler for both completed and failed replies.
func OnReply(handler func(data ReplyEventData)) {
	h := func(e Event, data any) {
		if d, ok := data.(ReplyEventData); ok {
			handler(d)
		}
	}
	On(EventReplyCompleted, h)
	On(EventReplyFailed, h)
}
