package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

const defaultBuffer = 256

// Hub owns a set of websocket clients. Only Run adds, removes and writes
// to clients' queues.
type Hub struct {
	name   string
	buffer int
	latest bool

	mu      sync.RWMutex // guards clients for ClientCount
	clients map[*Client]struct{}

	in    chan Message
	join  chan *Client
	leave chan *Client

	running atomic.Bool
	dropped atomic.Int64
	done    chan struct{}
	logger  *slog.Logger

	// OnConnect returns messages sent to each new client ahead of any
	// broadcast, such as the current status or recent history.
	OnConnect func() []Message
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-client queue length.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// Latest makes a full client queue drop its oldest message instead of
// disconnecting the client. Suits camera frames, where only the newest
// one matters.
func Latest() Option {
	return func(h *Hub) { h.latest = true }
}

// New returns a hub; start it with Run.
func New(name string, logger *slog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		name:    name,
		buffer:  defaultBuffer,
		clients: make(map[*Client]struct{}),
		in:      make(chan Message, 256),
		join:    make(chan *Client),
		leave:   make(chan *Client),
		done:    make(chan struct{}),
		logger:  logger.With("component", "hub."+name),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run serves joins, leaves and broadcasts until ctx ends, then closes
// every client queue so the write pumps send a close frame.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.join:
			h.add(c)
		case c := <-h.leave:
			h.remove(c, "left")
		case msg := <-h.in:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) add(c *Client) {
	if h.OnConnect != nil {
		for _, m := range h.OnConnect() {
			h.deliver(c, m)
		}
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client joined", "clients", n)
}

func (h *Hub) remove(c *Client, why string) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	close(c.send)
	h.logger.Debug("client removed", "reason", why, "clients", n)
}

func (h *Hub) fanOut(msg Message) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !h.deliver(c, msg) {
			h.logger.Warn("disconnecting slow client")
			h.remove(c, "slow")
		}
	}
}

// deliver queues msg for c. It reports false when c is full and the hub
// does not drop old messages.
func (h *Hub) deliver(c *Client, msg Message) bool {
	for {
		select {
		case c.send <- msg:
			return true
		default:
		}
		if !h.latest {
			return false
		}
		select {
		case <-c.send:
			h.dropped.Add(1)
		default:
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	h.running.Store(false)
	close(h.done)
}

// Broadcast queues msg for every client without blocking. A full hub
// queue drops msg.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.in <- msg:
	default:
		h.dropped.Add(1)
		h.logger.Warn("hub queue full, message dropped")
	}
}

// BroadcastJSON encodes v and broadcasts it as text.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(NewJSONMessage(data))
	return nil
}

// BroadcastBinary broadcasts raw bytes, such as a JPEG frame.
func (h *Hub) BroadcastBinary(data []byte) {
	h.Broadcast(NewBinaryMessage(data))
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped counts messages discarded for full queues.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

func (h *Hub) IsRunning() bool { return h.running.Load() }

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }
