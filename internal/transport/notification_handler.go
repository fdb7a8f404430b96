package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cartlane/notification-engine/internal/domain"
	"github.com/cartlane/notification-engine/internal/realtime"
	"github.com/cartlane/notification-engine/internal/repository"
	"github.com/cartlane/notification-engine/internal/service"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 100
)

// NotificationService is the dispatcher surface the HTTP layer depends on.
type NotificationService interface {
	Create(ctx context.Context, input service.CreateInput) (*domain.Notification, error)
	ListForUser(ctx context.Context, userID string, params repository.ListParams) ([]domain.Notification, int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	Stats(ctx context.Context, userID string) (*repository.Stats, error)
	MarkAsRead(ctx context.Context, id string, userID string) error
	MarkAllAsRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, id string, userID string) error
}

type NotificationHandler struct {
	service NotificationService
	hub     *realtime.Hub
}

func NewNotificationHandler(service NotificationService, hub *realtime.Hub) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	if hub == nil {
		return nil, fmt.Errorf("realtime hub is required")
	}
	return &NotificationHandler{service: service, hub: hub}, nil
}

type notificationResponse struct {
	ID            string         `json:"id"`
	UserID        string         `json:"userId"`
	Category      string         `json:"category"`
	Channel       string         `json:"channel"`
	Priority      string         `json:"priority"`
	Title         string         `json:"title"`
	Message       string         `json:"message"`
	Payload       map[string]any `json:"payload,omitempty"`
	Status        string         `json:"status"`
	IsRead        bool           `json:"isRead"`
	RetryCount    int            `json:"retryCount"`
	MaxRetries    int            `json:"maxRetries"`
	ScheduledFor  *time.Time     `json:"scheduledFor,omitempty"`
	ExpiresAt     *time.Time     `json:"expiresAt,omitempty"`
	SentAt        *time.Time     `json:"sentAt,omitempty"`
	DeliveredAt   *time.Time     `json:"deliveredAt,omitempty"`
	FailureReason *string        `json:"failureReason,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

type listNotificationsResponse struct {
	Data []notificationResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type statsResponse struct {
	Total         int64            `json:"total"`
	Unread        int64            `json:"unread"`
	Read          int64            `json:"read"`
	ByCategory    map[string]int64 `json:"byCategory"`
	LastSevenDays int64            `json:"lastSevenDays"`
}

type connectionStatusResponse struct {
	UserConnections  int  `json:"userConnections"`
	TotalConnections int  `json:"totalConnections"`
	IsConnected      bool `json:"isConnected"`
}

type createNotificationRequest struct {
	UserID       string         `json:"userId"`
	Category     string         `json:"category"`
	Channel      string         `json:"channel"`
	Priority     string         `json:"priority"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	Payload      map[string]any `json:"payload"`
	ScheduledFor *time.Time     `json:"scheduledFor"`
	ExpiresAt    *time.Time     `json:"expiresAt"`
}

// Create accepts a notification from an internal caller and returns the
// persisted record. Delivery runs decoupled from this request.
func (h *NotificationHandler) Create(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return toHTTPError(fmt.Errorf("%w: invalid request body", domain.ErrValidation))
	}

	created, err := h.service.Create(c.UserContext(), service.CreateInput{
		UserID:       req.UserID,
		Category:     req.Category,
		Channel:      req.Channel,
		Priority:     req.Priority,
		Title:        req.Title,
		Message:      req.Message,
		Payload:      req.Payload,
		ScheduledFor: req.ScheduledFor,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toNotificationResponse(created))
}

func (h *NotificationHandler) List(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	userID := authenticatedUserID(c)
	notifications, total, err := h.service.ListForUser(c.UserContext(), userID, params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: toNotificationResponses(notifications),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *NotificationHandler) UnreadCount(c *fiber.Ctx) error {
	count, err := h.service.UnreadCount(c.UserContext(), authenticatedUserID(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"unreadCount": count})
}

func (h *NotificationHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.UserContext(), authenticatedUserID(c))
	if err != nil {
		return toHTTPError(err)
	}

	byCategory := make(map[string]int64, len(stats.ByCategory))
	for category, count := range stats.ByCategory {
		byCategory[category.String()] = count
	}

	return c.Status(fiber.StatusOK).JSON(statsResponse{
		Total:         stats.Total,
		Unread:        stats.Unread,
		Read:          stats.Read,
		ByCategory:    byCategory,
		LastSevenDays: stats.LastSevenDays,
	})
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.MarkAsRead(c.UserContext(), id, authenticatedUserID(c)); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"isRead":         true,
	})
}

func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	updated, err := h.service.MarkAllAsRead(c.UserContext(), authenticatedUserID(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"updated": updated})
}

func (h *NotificationHandler) Delete(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Delete(c.UserContext(), id, authenticatedUserID(c)); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"deleted": id})
}

func (h *NotificationHandler) ConnectionStatus(c *fiber.Ctx) error {
	userConnections := h.hub.ConnectionCount(authenticatedUserID(c))

	return c.Status(fiber.StatusOK).JSON(connectionStatusResponse{
		UserConnections:  userConnections,
		TotalConnections: h.hub.TotalConnections(),
		IsConnected:      userConnections > 0,
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:       c.QueryInt("page", defaultPage),
		PageSize:   c.QueryInt("limit", defaultPageSize),
		UnreadOnly: c.QueryBool("unreadOnly", false),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	return params, nil
}

func toNotificationResponses(notifications []domain.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for i := range notifications {
		responses = append(responses, toNotificationResponse(&notifications[i]))
	}
	return responses
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:            n.ID,
		UserID:        n.UserID,
		Category:      n.Category.String(),
		Channel:       n.Channel.String(),
		Priority:      n.Priority.String(),
		Title:         n.Title,
		Message:       n.Message,
		Payload:       n.Payload,
		Status:        n.Status.String(),
		IsRead:        n.IsRead,
		RetryCount:    n.RetryCount,
		MaxRetries:    n.MaxRetries,
		ScheduledFor:  n.ScheduledFor,
		ExpiresAt:     n.ExpiresAt,
		SentAt:        n.SentAt,
		DeliveredAt:   n.DeliveredAt,
		FailureReason: n.FailureReason,
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.UpdatedAt,
	}
}
