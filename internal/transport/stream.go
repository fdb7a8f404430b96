package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cartlane/notification-engine/internal/observability"
	"github.com/cartlane/notification-engine/internal/realtime"
	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	streamSendBuffer         = 32
)

// StreamHandler serves one-way server-sent event streams. The handshake runs
// the full rate-limited authentication, so an address that exceeds its attempt
// budget is rejected even with a valid token.
type StreamHandler struct {
	auth      *realtime.Authenticator
	hub       *realtime.Hub
	metrics   *observability.Metrics
	logger    *zap.Logger
	heartbeat time.Duration
}

func NewStreamHandler(auth *realtime.Authenticator, hub *realtime.Hub, metrics *observability.Metrics, logger *zap.Logger) (*StreamHandler, error) {
	if auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if hub == nil {
		return nil, fmt.Errorf("realtime hub is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StreamHandler{
		auth:      auth,
		hub:       hub,
		metrics:   metrics,
		logger:    logger,
		heartbeat: defaultHeartbeatInterval,
	}, nil
}

// SetHeartbeatInterval overrides the keep-alive cadence, mainly for tests.
func (h *StreamHandler) SetHeartbeatInterval(interval time.Duration) {
	if interval > 0 {
		h.heartbeat = interval
	}
}

func (h *StreamHandler) Stream(c *fiber.Ctx) error {
	identity, err := h.auth.Authenticate(c.Context(), bearerToken(c), c.IP())
	if err != nil {
		h.metrics.IncConnectionAttemptRejected()
		return toHTTPError(err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	userID := identity.UserID
	sink := newStreamSink(streamSendBuffer)
	conn := realtime.NewConnection(userID, realtime.TransportStream, sink)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		h.hub.Register(conn)
		h.metrics.IncRealtimeConnections(string(realtime.TransportStream))
		defer func() {
			h.hub.Unregister(conn)
			h.metrics.DecRealtimeConnections(string(realtime.TransportStream))
		}()

		if err := writeSSEFrame(w, realtime.ConnectedEvent(userID, time.Now())); err != nil {
			return
		}
		h.metrics.IncRealtimeEvent(realtime.EventConnected)

		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-sink.done:
				return
			case event := <-sink.events:
				if err := writeSSEFrame(w, event); err != nil {
					h.logger.Debug("stream write failed, closing",
						zap.String("userId", userID), zap.Error(err))
					return
				}
				h.metrics.IncRealtimeEvent(event.Type)
			case now := <-ticker.C:
				if err := writeSSEFrame(w, realtime.HeartbeatEvent(now)); err != nil {
					return
				}
				h.metrics.IncRealtimeEvent(realtime.EventHeartbeat)
			}
		}
	}))

	return nil
}

func writeSSEFrame(w *bufio.Writer, event realtime.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
		return err
	}
	return w.Flush()
}

// streamSink buffers events between the hub and the stream writer goroutine.
// Send never blocks: a full buffer means the client is not draining and the
// connection is reported dead so the hub prunes it.
type streamSink struct {
	mu     sync.Mutex
	closed bool
	events chan realtime.Event
	done   chan struct{}
}

func newStreamSink(buffer int) *streamSink {
	return &streamSink{
		events: make(chan realtime.Event, buffer),
		done:   make(chan struct{}),
	}
}

func (s *streamSink) Send(event realtime.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("stream closed")
	}

	select {
	case s.events <- event:
		return nil
	default:
		return fmt.Errorf("stream buffer full")
	}
}

func (s *streamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}
