package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/cartlane/notification-engine/internal/observability"
	"github.com/cartlane/notification-engine/internal/realtime"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const pushChannelWriteTimeout = 10 * time.Second

// PushChannelHandler serves persistent bidirectional push channels. The
// handshake is authenticated before the protocol upgrade, so rejected
// attempts never hold an upgraded socket.
type PushChannelHandler struct {
	auth    *realtime.Authenticator
	hub     *realtime.Hub
	metrics *observability.Metrics
	logger  *zap.Logger
}

func NewPushChannelHandler(auth *realtime.Authenticator, hub *realtime.Hub, metrics *observability.Metrics, logger *zap.Logger) (*PushChannelHandler, error) {
	if auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if hub == nil {
		return nil, fmt.Errorf("realtime hub is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PushChannelHandler{auth: auth, hub: hub, metrics: metrics, logger: logger}, nil
}

// UpgradeGate authenticates the handshake and only then allows the upgrade.
// Rate limiting runs before credential validation, so an address over budget
// is rejected even with a valid token.
func (h *PushChannelHandler) UpgradeGate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		identity, err := h.auth.Authenticate(c.Context(), bearerToken(c), c.IP())
		if err != nil {
			h.metrics.IncConnectionAttemptRejected()
			return toHTTPError(err)
		}

		c.Locals(localUserID, identity.UserID)
		return c.Next()
	}
}

// Serve owns the upgraded socket from registration to disconnect.
func (h *PushChannelHandler) Serve() fiber.Handler {
	return websocket.New(func(ws *websocket.Conn) {
		userID, ok := ws.Locals(localUserID).(string)
		if !ok || userID == "" {
			_ = ws.Close()
			return
		}

		sink := &pushChannelSink{conn: ws}
		conn := realtime.NewConnection(userID, realtime.TransportPushChannel, sink)

		h.hub.Register(conn)
		h.metrics.IncRealtimeConnections(string(realtime.TransportPushChannel))
		defer func() {
			h.hub.Unregister(conn)
			h.metrics.DecRealtimeConnections(string(realtime.TransportPushChannel))
		}()

		if err := conn.Send(realtime.ConnectedEvent(userID, time.Now())); err != nil {
			return
		}
		h.metrics.IncRealtimeEvent(realtime.EventConnected)

		// Inbound frames are ignored. The read loop only detects disconnect.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				h.logger.Debug("push channel closed",
					zap.String("userId", userID), zap.Error(err))
				return
			}
		}
	})
}

// pushChannelSink serializes writes to the underlying socket. The write
// deadline bounds a send to a stalled client so broadcasts cannot hang.
type pushChannelSink struct {
	mu     sync.Mutex
	closed bool
	conn   *websocket.Conn
}

func (s *pushChannelSink) Send(event realtime.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("push channel closed")
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(pushChannelWriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(event)
}

func (s *pushChannelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
