package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cartlane/notification-engine/internal/domain"
	"github.com/cartlane/notification-engine/internal/events"
	"github.com/cartlane/notification-engine/internal/observability"
	"github.com/cartlane/notification-engine/internal/realtime"
	"github.com/cartlane/notification-engine/internal/repository"
	"github.com/cartlane/notification-engine/internal/sender"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	dueBatchSize        = 100
	minSweepConcurrency = 1
	// staleClaimAge bounds how long a processing claim can stand before a
	// sweep treats its owner as dead and returns the record to pending.
	staleClaimAge = 5 * time.Minute

	reasonBlockedByPreference = "blocked by notification preferences"
	reasonUserNotFound        = "user not found"
	reasonUserInactive        = "user is inactive"
	reasonExpired             = "expired before dispatch"
)

// Dispatcher orchestrates the notification lifecycle: creation, preference
// filtering, channel fan-out, status transitions, and retry triggering.
type Dispatcher struct {
	notifications repository.NotificationRepository
	preferences   repository.PreferenceRepository
	users         repository.UserDirectory
	senders       *sender.Registry
	hub           *realtime.Hub
	publisher     events.Publisher
	retry         *RetryPolicy
	logger        *zap.Logger
	metrics       *observability.Metrics
	concurrency   int
	now           func() time.Time
}

func NewDispatcher(
	notifications repository.NotificationRepository,
	preferences repository.PreferenceRepository,
	users repository.UserDirectory,
	senders *sender.Registry,
	hub *realtime.Hub,
	publisher events.Publisher,
	concurrency int,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if preferences == nil {
		return nil, fmt.Errorf("preference repository is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user directory is required")
	}
	if senders == nil {
		return nil, fmt.Errorf("sender registry is required")
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if concurrency < minSweepConcurrency {
		concurrency = minSweepConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		notifications: notifications,
		preferences:   preferences,
		users:         users,
		senders:       senders,
		hub:           hub,
		publisher:     publisher,
		retry:         NewRetryPolicy(),
		logger:        logger,
		concurrency:   concurrency,
		now:           time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// log returns the dispatcher logger enriched with the request id when the
// triggering context carries one, so API-initiated dispatches correlate with
// their HTTP request while sweep-initiated ones log bare.
func (d *Dispatcher) log(ctx context.Context) *zap.Logger {
	return observability.WithContextLogger(d.logger, ctx)
}

// CreateInput carries the caller-supplied fields for a new notification.
type CreateInput struct {
	UserID       string
	Category     string
	Channel      string
	Priority     string
	Title        string
	Message      string
	Payload      map[string]any
	ScheduledFor *time.Time
	ExpiresAt    *time.Time
}

// Create persists a new pending notification and, unless it is scheduled for
// the future, dispatches it immediately. Creation and delivery are decoupled:
// the persisted record is returned regardless of the dispatch outcome.
func (d *Dispatcher) Create(ctx context.Context, input CreateInput) (*domain.Notification, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	notification, err := d.buildNotification(input)
	if err != nil {
		return nil, err
	}

	if err := d.notifications.Create(ctx, notification); err != nil {
		return nil, err
	}
	d.metrics.IncNotificationCreated(notification.Category.String(), notification.Channel.String())
	d.publishEvent(ctx, notification, "")

	if d.shouldDispatchImmediately(notification) {
		if err := d.Dispatch(ctx, notification.ID); err != nil {
			d.log(ctx).Error("immediate dispatch failed",
				zap.String("notificationId", notification.ID),
				zap.String("channel", notification.Channel.String()),
				zap.Error(err),
			)
		}
		if refreshed, err := d.notifications.GetByID(ctx, notification.ID); err == nil {
			notification = refreshed
		}
	}

	return notification, nil
}

// Dispatch runs a single delivery attempt. The record is claimed first via a
// conditional pending->processing transition, so concurrent sweep workers
// cannot double-send; a record that is not pending is skipped silently.
func (d *Dispatcher) Dispatch(ctx context.Context, id string) error {
	claimed, err := d.notifications.ClaimForDispatch(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			d.log(ctx).Warn("notification vanished before dispatch", zap.String("notificationId", id))
			return nil
		}
		return fmt.Errorf("failed to claim notification for dispatch: %w", err)
	}
	if claimed == nil {
		return nil
	}

	now := d.now()
	if claimed.Expired(now) {
		return d.failPermanently(ctx, claimed, reasonExpired)
	}

	prefs, err := d.preferences.Get(ctx, claimed.UserID)
	if err != nil {
		return fmt.Errorf("failed to load preferences for user %s: %w", claimed.UserID, err)
	}

	allowed, gated := prefs.Allows(claimed.Category, claimed.Channel)
	if gated && !allowed {
		// Correctly suppressed, not failed: terminal delivered state.
		if err := d.notifications.MarkDelivered(ctx, claimed.ID, now, reasonBlockedByPreference); err != nil {
			return fmt.Errorf("failed to mark notification as blocked: %w", err)
		}
		d.metrics.IncNotificationBlocked(claimed.Category.String(), claimed.Channel.String())
		claimed.Status = domain.StatusDelivered
		d.publishEvent(ctx, claimed, reasonBlockedByPreference)
		return nil
	}

	if !claimed.Channel.External() {
		// In-app: the stored record is the delivery; push it to any live
		// connections as well.
		if err := d.notifications.MarkDelivered(ctx, claimed.ID, now, ""); err != nil {
			return fmt.Errorf("failed to mark in-app notification as delivered: %w", err)
		}
		claimed.Status = domain.StatusDelivered
		claimed.DeliveredAt = &now
		d.broadcast(claimed)
		d.publishEvent(ctx, claimed, "")
		return nil
	}

	user, err := d.users.GetByID(ctx, claimed.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return d.failPermanently(ctx, claimed, reasonUserNotFound)
		}
		return fmt.Errorf("failed to load user %s: %w", claimed.UserID, err)
	}
	if !user.Active {
		return d.failPermanently(ctx, claimed, reasonUserInactive)
	}

	channelSender, ok := d.senders.ForChannel(claimed.Channel)
	if !ok {
		return d.failPermanently(ctx, claimed, fmt.Sprintf("no sender for channel %s", claimed.Channel))
	}

	sendStart := d.now()
	sendErr := channelSender.Send(ctx, *user, *claimed)
	d.metrics.ObserveNotificationSendDuration(claimed.Channel.String(), d.now().Sub(sendStart))

	if sendErr == nil {
		sentAt := d.now()
		if err := d.notifications.MarkSent(ctx, claimed.ID, sentAt); err != nil {
			return fmt.Errorf("failed to mark notification as sent: %w", err)
		}
		d.metrics.IncNotificationSent(claimed.Channel.String())
		claimed.Status = domain.StatusSent
		claimed.SentAt = &sentAt
		d.publishEvent(ctx, claimed, "")
		return nil
	}

	return d.handleSendFailure(ctx, claimed, sendErr)
}

// handleSendFailure counts the attempt and either re-arms the record for a
// later sweep or fails it terminally once the retry budget is spent.
func (d *Dispatcher) handleSendFailure(ctx context.Context, n *domain.Notification, sendErr error) error {
	reason := sendErr.Error()
	attempts := n.RetryCount + 1

	if sender.IsTransient(sendErr) && d.retry.ShouldRetry(attempts, n.MaxRetries) {
		nextAttempt := d.retry.NextAttempt(n.RetryCount)
		if err := d.notifications.ScheduleRetry(ctx, n.ID, reason, nextAttempt); err != nil {
			return fmt.Errorf("failed to schedule retry: %w", err)
		}
		d.metrics.IncRetryScheduled(n.Channel.String())
		d.log(ctx).Info("retry scheduled",
			zap.String("notificationId", n.ID),
			zap.String("channel", n.Channel.String()),
			zap.Int("attempt", attempts),
			zap.Time("nextAttempt", nextAttempt),
		)
		n.Status = domain.StatusPending
		n.RetryCount = attempts
		d.publishEvent(ctx, n, reason)
		return nil
	}

	if err := d.notifications.RecordSendFailure(ctx, n.ID, reason); err != nil {
		return fmt.Errorf("failed to mark notification as failed: %w", err)
	}
	failureKind := "permanent_error"
	if sender.IsTransient(sendErr) {
		failureKind = "retry_exhausted"
	}
	d.metrics.IncNotificationFailed(n.Channel.String(), failureKind)
	d.log(ctx).Warn("notification failed terminally",
		zap.String("notificationId", n.ID),
		zap.String("channel", n.Channel.String()),
		zap.String("kind", failureKind),
		zap.Error(sendErr),
	)
	n.Status = domain.StatusFailed
	n.RetryCount = min(attempts, n.MaxRetries)
	d.publishEvent(ctx, n, reason)
	return nil
}

func (d *Dispatcher) failPermanently(ctx context.Context, n *domain.Notification, reason string) error {
	if err := d.notifications.MarkFailed(ctx, n.ID, reason); err != nil {
		return fmt.Errorf("failed to mark notification as failed: %w", err)
	}
	d.metrics.IncNotificationFailed(n.Channel.String(), "permanent_error")
	n.Status = domain.StatusFailed
	d.publishEvent(ctx, n, reason)
	return nil
}

// ProcessDue re-dispatches pending records whose scheduled time has arrived,
// up to one batch. The sweep is safe to run from multiple workers because
// Dispatch claims each record before attempting delivery. Returns how many
// due records were picked up.
func (d *Dispatcher) ProcessDue(ctx context.Context) (int, error) {
	reclaimed, err := d.notifications.ReclaimStale(ctx, d.now().Add(-staleClaimAge))
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale claims: %w", err)
	}
	if reclaimed > 0 {
		d.log(ctx).Warn("reclaimed stale dispatch claims", zap.Int64("count", reclaimed))
	}

	due, err := d.notifications.GetDueForDispatch(ctx, dueBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch due notifications: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i := range due {
		notification := due[i]
		g.Go(func() error {
			if err := d.Dispatch(groupCtx, notification.ID); err != nil {
				d.log(groupCtx).Error("due notification dispatch failed",
					zap.String("notificationId", notification.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}

	_ = g.Wait()
	return len(due), nil
}

func (d *Dispatcher) MarkAsRead(ctx context.Context, id string, userID string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return d.notifications.MarkRead(ctx, strings.TrimSpace(id), userID)
}

func (d *Dispatcher) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	return d.notifications.MarkAllRead(ctx, userID)
}

func (d *Dispatcher) Delete(ctx context.Context, id string, userID string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return d.notifications.Delete(ctx, strings.TrimSpace(id), userID)
}

func (d *Dispatcher) ListForUser(ctx context.Context, userID string, params repository.ListParams) ([]domain.Notification, int64, error) {
	return d.notifications.ListByUser(ctx, userID, params)
}

func (d *Dispatcher) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return d.notifications.CountUnread(ctx, userID)
}

func (d *Dispatcher) Stats(ctx context.Context, userID string) (*repository.Stats, error) {
	return d.notifications.Stats(ctx, userID)
}

func (d *Dispatcher) buildNotification(input CreateInput) (*domain.Notification, error) {
	category, err := domain.ParseCategoryFromString(input.Category)
	if err != nil {
		return nil, err
	}
	channel, err := domain.ParseChannelFromString(input.Channel)
	if err != nil {
		return nil, err
	}

	priority := domain.PriorityNormal
	if strings.TrimSpace(input.Priority) != "" {
		priority, err = domain.ParsePriorityFromString(input.Priority)
		if err != nil {
			return nil, err
		}
	}

	notification := &domain.Notification{
		ID:           uuid.NewString(),
		UserID:       strings.TrimSpace(input.UserID),
		Category:     category,
		Channel:      channel,
		Priority:     priority,
		Title:        strings.TrimSpace(input.Title),
		Message:      strings.TrimSpace(input.Message),
		Payload:      input.Payload,
		Status:       domain.StatusPending,
		RetryCount:   0,
		MaxRetries:   domain.DefaultMaxRetries,
		ScheduledFor: input.ScheduledFor,
		ExpiresAt:    input.ExpiresAt,
	}

	if err := notification.Validate(); err != nil {
		return nil, err
	}

	return notification, nil
}

func (d *Dispatcher) shouldDispatchImmediately(n *domain.Notification) bool {
	if n.ScheduledFor == nil {
		return true
	}
	return !n.ScheduledFor.After(d.now())
}

func (d *Dispatcher) broadcast(n *domain.Notification) {
	if d.hub == nil {
		return
	}
	delivered := d.hub.Broadcast(n.UserID, realtime.NotificationEvent(n, d.now()))
	if delivered > 0 {
		d.metrics.IncRealtimeEvent(realtime.EventNotification)
	}
}

func (d *Dispatcher) publishEvent(ctx context.Context, n *domain.Notification, reason string) {
	event := events.NotificationEvent{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Category:       n.Category.String(),
		Channel:        n.Channel.String(),
		Status:         n.Status.String(),
		Reason:         reason,
		OccurredAt:     d.now().UTC(),
	}
	if err := d.publisher.Publish(ctx, event); err != nil {
		d.log(ctx).Warn("failed to publish lifecycle event",
			zap.String("notificationId", n.ID),
			zap.String("status", event.Status),
			zap.Error(err),
		)
	}
}
