package events

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// NotificationEvent is the broker payload emitted on notification lifecycle
// transitions so downstream services can react without polling.
type NotificationEvent struct {
	NotificationID string    `json:"notificationId"`
	UserID         string    `json:"userId"`
	Category       string    `json:"category"`
	Channel        string    `json:"channel"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func (e NotificationEvent) Validate() error {
	if strings.TrimSpace(e.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if strings.TrimSpace(e.Status) == "" {
		return fmt.Errorf("status is required")
	}
	return nil
}

// RoutingKey returns the topic routing key, e.g. notification.sent.
func RoutingKey(e NotificationEvent) string {
	return "notification." + strings.ToLower(strings.TrimSpace(e.Status))
}

// Publisher publishes notification lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event NotificationEvent) error
	Close() error
}

// NopPublisher drops events; used when no broker is configured and in tests.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, NotificationEvent) error { return nil }
func (NopPublisher) Close() error                                     { return nil }
