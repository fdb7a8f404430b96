package repository

import (
	"context"
	"errors"

	"github.com/cartlane/notification-engine/internal/domain"
	"gorm.io/gorm"
)

// UserDirectory is the read-only lookup into the externally owned user store.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

type GormUserDirectory struct {
	db *gorm.DB
}

func NewGormUserDirectory(db *gorm.DB) *GormUserDirectory {
	return &GormUserDirectory{db: db}
}

func (r *GormUserDirectory) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var model UserModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return userModelToDomain(&model), nil
}
