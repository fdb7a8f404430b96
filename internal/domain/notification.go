package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusPending Status = "pending"
	// StatusProcessing marks a record claimed by an in-flight dispatch
	// attempt; transient, never terminal.
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSent, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel represents the delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	// ChannelInApp delivers by presence in the user's notification list;
	// no external send is performed.
	ChannelInApp Channel = "in_app"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

// External reports whether the channel requires an external sender call.
func (c Channel) External() bool {
	return c == ChannelEmail || c == ChannelSMS || c == ChannelPush
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Category is the business reason for a notification and the key used for
// preference gating.
type Category string

const (
	CategoryOrderUpdate       Category = "order_update"
	CategoryPromotion         Category = "promotion"
	CategoryWishlist          Category = "wishlist"
	CategoryInventory         Category = "inventory"
	CategoryReviewRequest     Category = "review_request"
	CategoryAbandonedCart     Category = "abandoned_cart"
	CategoryWelcome           Category = "welcome"
	CategoryPasswordReset     Category = "password_reset"
	CategoryEmailVerification Category = "email_verification"
	CategoryOrderConfirmation Category = "order_confirmation"
)

func (c Category) String() string { return string(c) }

func (c Category) IsValid() bool {
	switch c {
	case CategoryOrderUpdate, CategoryPromotion, CategoryWishlist,
		CategoryInventory, CategoryReviewRequest, CategoryAbandonedCart,
		CategoryWelcome, CategoryPasswordReset, CategoryEmailVerification,
		CategoryOrderConfirmation:
		return true
	}
	return false
}

func ParseCategoryFromString(s string) (Category, error) {
	cat := Category(strings.ToLower(strings.TrimSpace(s)))
	if !cat.IsValid() {
		return "", fmt.Errorf("%w: invalid category %q", ErrValidation, s)
	}
	return cat, nil
}

// Priority represents the message priority level.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

func ParsePriorityFromString(s string) (Priority, error) {
	pr := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

// DefaultMaxRetries is the fixed retry budget for external channel sends.
const DefaultMaxRetries = 3

// Notification is the core domain entity representing a message owned by a
// user and delivered over one channel.
type Notification struct {
	ID            string
	UserID        string
	Category      Category
	Channel       Channel
	Priority      Priority
	Title         string
	Message       string
	Payload       map[string]any
	Status        Status
	IsRead        bool
	RetryCount    int
	MaxRetries    int
	ScheduledFor  *time.Time
	ExpiresAt     *time.Time
	SentAt        *time.Time
	DeliveredAt   *time.Time
	FailureReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.UserID) == "" {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if !n.Category.IsValid() {
		return fmt.Errorf("%w: invalid category %q", ErrValidation, n.Category)
	}
	if !n.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, n.Channel)
	}
	if !n.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, n.Priority)
	}
	if n.RetryCount > n.MaxRetries {
		return fmt.Errorf("%w: retryCount %d exceeds maxRetries %d", ErrValidation, n.RetryCount, n.MaxRetries)
	}
	return nil
}

// Expired reports whether the notification is past its expiry at the given time.
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && n.ExpiresAt.Before(now)
}
