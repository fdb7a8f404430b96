package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cartlane/notification-engine/internal/domain"
	"gorm.io/gorm"
)

type ListParams struct {
	Page       int
	PageSize   int
	UnreadOnly bool
}

// Stats aggregates a user's notification counts for the stats endpoint.
type Stats struct {
	Total         int64
	Unread        int64
	Read          int64
	ByCategory    map[domain.Category]int64
	LastSevenDays int64
}

type categoryCount struct {
	Category domain.Category `gorm:"column:category"`
	Count    int64           `gorm:"column:count"`
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	ListByUser(ctx context.Context, userID string, params ListParams) ([]domain.Notification, int64, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	Stats(ctx context.Context, userID string) (*Stats, error)
	ClaimForDispatch(ctx context.Context, id string) (*domain.Notification, error)
	GetDueForDispatch(ctx context.Context, limit int) ([]domain.Notification, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkDelivered(ctx context.Context, id string, at time.Time, reason string) error
	MarkFailed(ctx context.Context, id string, reason string) error
	RecordSendFailure(ctx context.Context, id string, reason string) error
	ScheduleRetry(ctx context.Context, id string, reason string, nextAttempt time.Time) error
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
	MarkRead(ctx context.Context, id string, userID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, id string, userID string) error
}

type GormNotificationRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db, now: time.Now}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) ListByUser(ctx context.Context, userID string, params ListParams) ([]domain.Notification, int64, error) {
	query := r.db.WithContext(ctx).Model(&NotificationModel{}).Where("user_id = ?", userID)
	if params.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	pageSize = min(pageSize, 100)

	var models []NotificationModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, total, nil
}

func (r *GormNotificationRepo) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, err
}

func (r *GormNotificationRepo) Stats(ctx context.Context, userID string) (*Stats, error) {
	stats := &Stats{ByCategory: make(map[domain.Category]int64)}
	base := r.db.WithContext(ctx).Model(&NotificationModel{}).Where("user_id = ?", userID)

	if err := base.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := base.Session(&gorm.Session{}).Where("is_read = ?", false).Count(&stats.Unread).Error; err != nil {
		return nil, err
	}
	stats.Read = stats.Total - stats.Unread

	var counts []categoryCount
	err := base.Session(&gorm.Session{}).
		Select("category, COUNT(*) as count").
		Group("category").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	for _, c := range counts {
		stats.ByCategory[c.Category] = c.Count
	}

	weekAgo := r.now().AddDate(0, 0, -7)
	err = base.Session(&gorm.Session{}).
		Where("created_at >= ?", weekAgo).
		Count(&stats.LastSevenDays).Error
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// ClaimForDispatch performs the conditional pending->processing transition
// that guards against two sweep workers double-sending the same record.
// A nil notification with nil error means the record was already claimed or
// is in a terminal state.
func (r *GormNotificationRepo) ClaimForDispatch(ctx context.Context, id string) (*domain.Notification, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Update("status", domain.StatusProcessing)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		var exists int64
		if err := r.db.WithContext(ctx).
			Model(&NotificationModel{}).
			Where("id = ?", id).
			Count(&exists).Error; err != nil {
			return nil, err
		}
		if exists == 0 {
			return nil, domain.ErrNotFound
		}
		return nil, nil
	}

	var model NotificationModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

// GetDueForDispatch returns pending records whose scheduled time has passed.
// A NULL scheduled_for counts as due: such a record only exists when the
// process died between persisting a notification and its immediate dispatch,
// and the sweep is what rescues it.
func (r *GormNotificationRepo) GetDueForDispatch(ctx context.Context, limit int) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND (scheduled_for IS NULL OR scheduled_for <= ?)", domain.StatusPending, r.now()).
		Order("scheduled_for ASC NULLS FIRST").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, nil
}

// ReclaimStale returns records stranded in processing to pending. A claim
// only outlives one dispatch attempt when the claiming process died mid
// dispatch, so anything processing past the cutoff is an orphan.
func (r *GormNotificationRepo) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("status = ? AND updated_at < ?", domain.StatusProcessing, cutoff).
		Update("status", domain.StatusPending)
	return result.RowsAffected, result.Error
}

func (r *GormNotificationRepo) MarkSent(ctx context.Context, id string, at time.Time) error {
	return r.updateByID(ctx, id, map[string]any{
		"status":  domain.StatusSent,
		"sent_at": at,
	})
}

func (r *GormNotificationRepo) MarkDelivered(ctx context.Context, id string, at time.Time, reason string) error {
	updates := map[string]any{
		"status":       domain.StatusDelivered,
		"delivered_at": at,
	}
	if reason != "" {
		updates["failure_reason"] = reason
	}
	return r.updateByID(ctx, id, updates)
}

func (r *GormNotificationRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	return r.updateByID(ctx, id, map[string]any{
		"status":         domain.StatusFailed,
		"failure_reason": reason,
	})
}

// RecordSendFailure marks a failed send attempt terminally and counts the
// attempt against the retry budget.
func (r *GormNotificationRepo) RecordSendFailure(ctx context.Context, id string, reason string) error {
	return r.updateByID(ctx, id, map[string]any{
		"status":         domain.StatusFailed,
		"failure_reason": reason,
		"retry_count":    gorm.Expr("LEAST(retry_count + 1, max_retries)"),
	})
}

// ScheduleRetry re-arms a failed send: the record returns to pending with the
// next attempt time, and the attempt is counted.
func (r *GormNotificationRepo) ScheduleRetry(ctx context.Context, id string, reason string, nextAttempt time.Time) error {
	return r.updateByID(ctx, id, map[string]any{
		"status":         domain.StatusPending,
		"failure_reason": reason,
		"scheduled_for":  nextAttempt,
		"retry_count":    gorm.Expr("LEAST(retry_count + 1, max_retries)"),
	})
}

func (r *GormNotificationRepo) MarkRead(ctx context.Context, id string, userID string) error {
	if err := r.checkOwnership(ctx, id, userID); err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Update("is_read", true).Error
}

func (r *GormNotificationRepo) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	return result.RowsAffected, result.Error
}

func (r *GormNotificationRepo) Delete(ctx context.Context, id string, userID string) error {
	if err := r.checkOwnership(ctx, id, userID); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Delete(&NotificationModel{}, "id = ?", id).Error
}

func (r *GormNotificationRepo) checkOwnership(ctx context.Context, id string, userID string) error {
	var model NotificationModel
	err := r.db.WithContext(ctx).Select("id", "user_id").First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	if model.UserID != userID {
		return domain.ErrForbidden
	}
	return nil
}

func (r *GormNotificationRepo) updateByID(ctx context.Context, id string, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
