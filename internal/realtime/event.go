package realtime

import (
	"time"

	"github.com/cartlane/notification-engine/internal/domain"
)

// Event types pushed over live connections.
const (
	EventConnected    = "connected"
	EventHeartbeat    = "heartbeat"
	EventNotification = "notification"
)

// Event is a JSON frame pushed to a live client connection.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

func ConnectedEvent(userID string, now time.Time) Event {
	return Event{
		Type:      EventConnected,
		Timestamp: now.UTC(),
		Data:      map[string]any{"userId": userID},
	}
}

func HeartbeatEvent(now time.Time) Event {
	return Event{
		Type:      EventHeartbeat,
		Timestamp: now.UTC(),
	}
}

func NotificationEvent(n *domain.Notification, now time.Time) Event {
	data := map[string]any{
		"id":        n.ID,
		"category":  n.Category.String(),
		"channel":   n.Channel.String(),
		"priority":  n.Priority.String(),
		"title":     n.Title,
		"message":   n.Message,
		"isRead":    n.IsRead,
		"createdAt": n.CreatedAt,
	}
	if len(n.Payload) > 0 {
		data["payload"] = n.Payload
	}

	return Event{
		Type:      EventNotification,
		Timestamp: now.UTC(),
		Data:      data,
	}
}
