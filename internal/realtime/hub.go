package realtime

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// TransportKind identifies the adapter a connection arrived through.
type TransportKind string

const (
	TransportPushChannel TransportKind = "push_channel"
	TransportStream      TransportKind = "stream"
)

// Sink is the transport-specific send handle held by a connection. Sends must
// be bounded: a sink returns an error rather than blocking indefinitely.
type Sink interface {
	Send(event Event) error
	Close() error
}

// Connection is a live client session. The transport adapter owns it from
// successful handshake to disconnect; the hub holds a non-owning reference
// for lookup and broadcast.
type Connection struct {
	UserID      string
	Transport   TransportKind
	ConnectedAt time.Time
	sink        Sink
}

func NewConnection(userID string, transport TransportKind, sink Sink) *Connection {
	return &Connection{
		UserID:      userID,
		Transport:   transport,
		ConnectedAt: time.Now(),
		sink:        sink,
	}
}

func (c *Connection) Send(event Event) error {
	return c.sink.Send(event)
}

// Hub tracks live connections per user and fans events out to them. It is the
// single shared mutable structure of the realtime layer and is safe for
// concurrent register/unregister/broadcast.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
	logger      *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		connections: make(map[string]map[*Connection]struct{}),
		logger:      logger,
	}
}

func (h *Hub) Register(conn *Connection) {
	if conn == nil {
		return
	}

	h.mu.Lock()
	if _, ok := h.connections[conn.UserID]; !ok {
		h.connections[conn.UserID] = make(map[*Connection]struct{})
	}
	h.connections[conn.UserID][conn] = struct{}{}
	count := len(h.connections[conn.UserID])
	h.mu.Unlock()

	h.logger.Debug("connection registered",
		zap.String("userId", conn.UserID),
		zap.String("transport", string(conn.Transport)),
		zap.Int("userConnections", count),
	)
}

func (h *Hub) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	h.mu.Lock()
	removed := false
	if conns, ok := h.connections[conn.UserID]; ok {
		if _, present := conns[conn]; present {
			delete(conns, conn)
			removed = true
		}
		if len(conns) == 0 {
			delete(h.connections, conn.UserID)
		}
	}
	h.mu.Unlock()

	if removed {
		_ = conn.sink.Close()
		h.logger.Debug("connection unregistered",
			zap.String("userId", conn.UserID),
			zap.String("transport", string(conn.Transport)),
		)
	}
}

// Broadcast sends the event to every live connection of the user. Connections
// that fail to accept the send are pruned; a broadcast never fails the
// triggering business operation. Returns the number of successful deliveries.
func (h *Hub) Broadcast(userID string, event Event) int {
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.connections[userID]))
	for conn := range h.connections[userID] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(event); err != nil {
			h.logger.Warn("realtime send failed, pruning connection",
				zap.String("userId", userID),
				zap.String("transport", string(conn.Transport)),
				zap.Error(err),
			)
			h.Unregister(conn)
			continue
		}
		delivered++
	}

	return delivered
}

func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID])
}

func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, conns := range h.connections {
		total += len(conns)
	}
	return total
}

// Shutdown closes every live connection and empties the registry.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	all := make([]*Connection, 0)
	for _, conns := range h.connections {
		for conn := range conns {
			all = append(all, conn)
		}
	}
	h.connections = make(map[string]map[*Connection]struct{})
	h.mu.Unlock()

	for _, conn := range all {
		_ = conn.sink.Close()
	}
}
