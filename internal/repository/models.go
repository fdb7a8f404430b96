package repository

import (
	"encoding/json"
	"time"

	"github.com/cartlane/notification-engine/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID            string          `gorm:"type:uuid;primaryKey"`
	UserID        string          `gorm:"type:uuid;not null;index:idx_notifications_user_created,priority:1"`
	Category      domain.Category `gorm:"type:varchar(30);not null"`
	Channel       domain.Channel  `gorm:"type:varchar(10);not null"`
	Priority      domain.Priority `gorm:"type:varchar(10);not null"`
	Title         string          `gorm:"type:varchar(255);not null"`
	Message       string          `gorm:"type:text;not null"`
	Payload       []byte          `gorm:"type:jsonb"`
	Status        domain.Status   `gorm:"type:varchar(20);not null"`
	IsRead        bool            `gorm:"not null;default:false"`
	RetryCount    int             `gorm:"not null;default:0"`
	MaxRetries    int             `gorm:"not null;default:3"`
	ScheduledFor  *time.Time      `gorm:"type:timestamptz"`
	ExpiresAt     *time.Time      `gorm:"type:timestamptz"`
	SentAt        *time.Time      `gorm:"type:timestamptz"`
	DeliveredAt   *time.Time      `gorm:"type:timestamptz"`
	FailureReason *string         `gorm:"type:text"`
	CreatedAt     time.Time       `gorm:"index:idx_notifications_user_created,priority:2,sort:desc"`
	UpdatedAt     time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// PreferenceModel is the persistence model for notification_preferences.
type PreferenceModel struct {
	UserID        string                `gorm:"type:uuid;primaryKey"`
	OrderUpdate   domain.ChannelToggles `gorm:"embedded;embeddedPrefix:order_update_"`
	Promotion     domain.ChannelToggles `gorm:"embedded;embeddedPrefix:promotion_"`
	Wishlist      domain.ChannelToggles `gorm:"embedded;embeddedPrefix:wishlist_"`
	Inventory     domain.ChannelToggles `gorm:"embedded;embeddedPrefix:inventory_"`
	ReviewRequest domain.ChannelToggles `gorm:"embedded;embeddedPrefix:review_request_"`
	AbandonedCart domain.ChannelToggles `gorm:"embedded;embeddedPrefix:abandoned_cart_"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (PreferenceModel) TableName() string {
	return "notification_preferences"
}

// UserModel maps the externally owned users table; read-only here.
type UserModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Email     string `gorm:"type:varchar(255)"`
	Phone     string `gorm:"type:varchar(32)"`
	PushToken string `gorm:"type:varchar(512)"`
	Active    bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UserModel) TableName() string {
	return "users"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	var payload []byte
	if len(n.Payload) > 0 {
		payload, _ = json.Marshal(n.Payload)
	}

	return &NotificationModel{
		ID:            n.ID,
		UserID:        n.UserID,
		Category:      n.Category,
		Channel:       n.Channel,
		Priority:      n.Priority,
		Title:         n.Title,
		Message:       n.Message,
		Payload:       payload,
		Status:        n.Status,
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

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	var payload map[string]any
	if len(m.Payload) > 0 {
		_ = json.Unmarshal(m.Payload, &payload)
	}

	return &domain.Notification{
		ID:            m.ID,
		UserID:        m.UserID,
		Category:      m.Category,
		Channel:       m.Channel,
		Priority:      m.Priority,
		Title:         m.Title,
		Message:       m.Message,
		Payload:       payload,
		Status:        m.Status,
		IsRead:        m.IsRead,
		RetryCount:    m.RetryCount,
		MaxRetries:    m.MaxRetries,
		ScheduledFor:  m.ScheduledFor,
		ExpiresAt:     m.ExpiresAt,
		SentAt:        m.SentAt,
		DeliveredAt:   m.DeliveredAt,
		FailureReason: m.FailureReason,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func preferenceModelFromDomain(p *domain.Preferences) *PreferenceModel {
	if p == nil {
		return nil
	}

	return &PreferenceModel{
		UserID:        p.UserID,
		OrderUpdate:   p.OrderUpdate,
		Promotion:     p.Promotion,
		Wishlist:      p.Wishlist,
		Inventory:     p.Inventory,
		ReviewRequest: p.ReviewRequest,
		AbandonedCart: p.AbandonedCart,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func preferenceModelToDomain(m *PreferenceModel) *domain.Preferences {
	if m == nil {
		return nil
	}

	return &domain.Preferences{
		UserID:        m.UserID,
		OrderUpdate:   m.OrderUpdate,
		Promotion:     m.Promotion,
		Wishlist:      m.Wishlist,
		Inventory:     m.Inventory,
		ReviewRequest: m.ReviewRequest,
		AbandonedCart: m.AbandonedCart,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func userModelToDomain(m *UserModel) *domain.User {
	if m == nil {
		return nil
	}

	return &domain.User{
		ID:        m.ID,
		Email:     m.Email,
		Phone:     m.Phone,
		PushToken: m.PushToken,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
