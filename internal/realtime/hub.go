// Package realtime tracks connected chat clients and moves JSON frames
// between them and the dispatcher.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/neboloop/chorus/internal/lifecycle"
	"github.com/neboloop/chorus/internal/logging"
)

// MessageHandler processes one inbound frame. It runs on the client's read
// goroutine; the next frame is not read until it returns.
type MessageHandler func(ctx context.Context, c *Client, data []byte)

// ConnectHandler runs after a client is registered.
type ConnectHandler func(clientID string)

// Hub manages client connections. Clients are registered and removed
// synchronously by their own goroutines; the Run loop only delivers connect
// hooks, in registration order.
type Hub struct {
	clientMu sync.RWMutex
	clients  map[string]*Client
	stopped  bool

	connected chan *Client
	done      chan struct{}
	stopOnce  sync.Once

	handlerMu sync.RWMutex
	handler   MessageHandler
	onConnect ConnectHandler
}

// NewHub creates a new client hub
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		connected: make(chan *Client, 64),
		done:      make(chan struct{}),
	}
}

// SetHandler sets the inbound frame handler.
func (h *Hub) SetHandler(fn MessageHandler) {
	h.handlerMu.Lock()
	defer h.handlerMu.Unlock()
	h.handler = fn
}

// OnConnect sets the callback run for each new client.
func (h *Hub) OnConnect(fn ConnectHandler) {
	h.handlerMu.Lock()
	defer h.handlerMu.Unlock()
	h.onConnect = fn
}

// Run delivers connect hooks until ctx ends, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.connected:
			h.greet(c)
		}
	}
}

// join registers c before its pumps start, so replies addressed to it are
// never dropped. It reports false once the hub has stopped.
func (h *Hub) join(c *Client) bool {
	h.clientMu.Lock()
	if h.stopped {
		h.clientMu.Unlock()
		return false
	}
	existing, replaced := h.clients[c.ID]
	h.clients[c.ID] = c
	count := len(h.clients)
	h.clientMu.Unlock()

	if replaced {
		logging.Infof("[Hub] Replacing client %s", c.ID)
		existing.Close()
	}
	logging.Infof("[Hub] Client connected: %s (total=%d)", c.ID, count)
	lifecycle.Emit(lifecycle.EventClientConnected, c.ID)

	select {
	case h.connected <- c:
	case <-h.done:
	}
	return true
}

// leave removes c if it is still the registered client for its id.
func (h *Hub) leave(c *Client) {
	h.clientMu.Lock()
	existing, ok := h.clients[c.ID]
	current := ok && existing == c
	if current {
		delete(h.clients, c.ID)
	}
	count := len(h.clients)
	h.clientMu.Unlock()

	c.Close()
	if current {
		logging.Infof("[Hub] Client disconnected: %s (total=%d)", c.ID, count)
		lifecycle.Emit(lifecycle.EventClientDisconnected, c.ID)
	}
}

func (h *Hub) greet(c *Client) {
	if c.IsClosed() {
		return
	}
	h.handlerMu.RLock()
	onConnect := h.onConnect
	h.handlerMu.RUnlock()
	if onConnect != nil {
		onConnect(c.ID)
	}
}

func (h *Hub) closeAll() {
	h.clientMu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.stopped = true
	h.clientMu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

func (h *Hub) handle(ctx context.Context, c *Client, data []byte) {
	h.handlerMu.RLock()
	fn := h.handler
	h.handlerMu.RUnlock()
	if fn == nil {
		logging.Error("[Hub] No message handler registered")
		return
	}
	fn(ctx, c, data)
}

// Send delivers v to one client.
func (h *Hub) Send(clientID string, v any) error {
	h.clientMu.RLock()
	c, ok := h.clients[clientID]
	h.clientMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrClientClosed, clientID)
	}
	return c.SendMessage(v)
}

// Broadcast delivers v to every client. Per-client failures are logged.
func (h *Hub) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Errorf("[Hub] Broadcast marshal failed: %v", err)
		return
	}

	h.clientMu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clientMu.RUnlock()

	for _, c := range clients {
		if err := c.SendRaw(data); err != nil {
			logging.Warnf("[Hub] Broadcast to %s failed: %v", c.ID, err)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.clientMu.RLock()
	defer h.clientMu.RUnlock()
	return len(h.clients)
}
