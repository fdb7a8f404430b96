package transport

import (
	"time"

	"github.com/cartlane/notification-engine/internal/observability"
	"github.com/cartlane/notification-engine/internal/realtime"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// RegisterNotificationRoutes wires the authenticated notification API.
// Static segments are registered before the :id routes so fiber does not
// capture them as ids.
func RegisterNotificationRoutes(router fiber.Router, service NotificationService, hub *realtime.Hub, auth *realtime.Authenticator) error {
	h, err := NewNotificationHandler(service, hub)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1", RequireAuth(auth))
	v1.Post("/notifications", h.Create)
	v1.Get("/notifications", h.List)
	v1.Get("/notifications/unread-count", h.UnreadCount)
	v1.Get("/notifications/stats", h.Stats)
	v1.Get("/notifications/connection-status", h.ConnectionStatus)
	v1.Put("/notifications/mark-all-read", h.MarkAllRead)
	v1.Put("/notifications/:id/read", h.MarkRead)
	v1.Delete("/notifications/:id", h.Delete)

	return nil
}

func RegisterPreferenceRoutes(router fiber.Router, service PreferenceService, auth *realtime.Authenticator) error {
	h, err := NewPreferenceHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1", RequireAuth(auth))
	v1.Get("/notification-preferences", h.Get)
	v1.Put("/notification-preferences", h.Update)
	v1.Post("/notification-preferences/reset", h.Reset)

	return nil
}

// RealtimeOption tweaks the realtime handlers at registration time.
type RealtimeOption func(*StreamHandler)

// WithHeartbeatInterval overrides the stream keep-alive cadence.
func WithHeartbeatInterval(interval time.Duration) RealtimeOption {
	return func(h *StreamHandler) {
		h.SetHeartbeatInterval(interval)
	}
}

// RegisterRealtimeRoutes wires the stream and push channel handshakes. These
// stay outside RequireAuth because both run the rate-limited Authenticate
// themselves.
func RegisterRealtimeRoutes(router fiber.Router, auth *realtime.Authenticator, hub *realtime.Hub, metrics *observability.Metrics, logger *zap.Logger, opts ...RealtimeOption) error {
	stream, err := NewStreamHandler(auth, hub, metrics, logger)
	if err != nil {
		return err
	}
	for _, opt := range opts {
		opt(stream)
	}
	push, err := NewPushChannelHandler(auth, hub, metrics, logger)
	if err != nil {
		return err
	}

	router.Get("/v1/notifications/stream", stream.Stream)
	router.Use("/v1/notifications/channel", push.UpgradeGate())
	router.Get("/v1/notifications/channel", push.Serve())

	return nil
}
