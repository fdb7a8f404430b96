package repository

import (
	"context"
	"errors"

	"github.com/cartlane/notification-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PreferenceRepository interface {
	// Get returns the stored matrix, creating the defaults first when the
	// user has none. Default creation is idempotent under concurrency.
	Get(ctx context.Context, userID string) (*domain.Preferences, error)
	Save(ctx context.Context, p *domain.Preferences) error
}

type GormPreferenceRepo struct {
	db *gorm.DB
}

func NewGormPreferenceRepo(db *gorm.DB) *GormPreferenceRepo {
	return &GormPreferenceRepo{db: db}
}

func (r *GormPreferenceRepo) Get(ctx context.Context, userID string) (*domain.Preferences, error) {
	// Insert-if-absent then read: two racing callers both succeed and
	// observe the same single row.
	defaults := preferenceModelFromDomain(domain.DefaultPreferences(userID))
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(defaults).Error
	if err != nil {
		return nil, err
	}

	var model PreferenceModel
	err = r.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return preferenceModelToDomain(&model), nil
}

func (r *GormPreferenceRepo) Save(ctx context.Context, p *domain.Preferences) error {
	model := preferenceModelFromDomain(p)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(model).Error
	if err != nil {
		return err
	}
	*p = *preferenceModelToDomain(model)
	return nil
}
