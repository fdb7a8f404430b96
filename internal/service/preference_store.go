package service

import (
	"context"
	"fmt"

	"github.com/cartlane/notification-engine/internal/domain"
	"github.com/cartlane/notification-engine/internal/repository"
	"go.uber.org/zap"
)

// PreferenceStore owns the per-user channel preference matrix.
type PreferenceStore struct {
	preferences repository.PreferenceRepository
	logger      *zap.Logger
}

func NewPreferenceStore(preferences repository.PreferenceRepository, logger *zap.Logger) (*PreferenceStore, error) {
	if preferences == nil {
		return nil, fmt.Errorf("preference repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PreferenceStore{preferences: preferences, logger: logger}, nil
}

// Get returns the user's matrix, creating the defaults on first access.
func (s *PreferenceStore) Get(ctx context.Context, userID string) (*domain.Preferences, error) {
	return s.preferences.Get(ctx, userID)
}

// Update validates and merges a partial matrix update. Invalid input leaves
// the stored preferences untouched.
func (s *PreferenceStore) Update(ctx context.Context, userID string, update map[string]map[string]any) (*domain.Preferences, error) {
	prefs, err := s.preferences.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := prefs.ApplyUpdate(update); err != nil {
		return nil, err
	}

	if err := s.preferences.Save(ctx, prefs); err != nil {
		return nil, err
	}

	s.logger.Info("preferences updated", zap.String("userId", userID))
	return prefs, nil
}

// Reset restores the default matrix for the user.
func (s *PreferenceStore) Reset(ctx context.Context, userID string) (*domain.Preferences, error) {
	prefs := domain.DefaultPreferences(userID)
	if err := s.preferences.Save(ctx, prefs); err != nil {
		return nil, err
	}

	s.logger.Info("preferences reset to defaults", zap.String("userId", userID))
	return prefs, nil
}
