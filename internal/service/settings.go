package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Strob0t/PostForge/internal/domain"
	"github.com/Strob0t/PostForge/internal/domain/settings"
	"github.com/Strob0t/PostForge/internal/port/database"
)

// SettingsService provides access to persisted application settings.
type SettingsService struct {
	store database.SettingsStore
}

// NewSettingsService creates a new SettingsService.
func NewSettingsService(store database.SettingsStore) *SettingsService {
	return &SettingsService{store: store}
}

// List returns all settings.
func (s *SettingsService) List(ctx context.Context) ([]settings.Setting, error) {
	return s.store.ListSettings(ctx)
}

// Get returns a single setting by key.
func (s *SettingsService) Get(ctx context.Context, key string) (*settings.Setting, error) {
	if key == "" {
		return nil, fmt.Errorf("setting key is required: %w", domain.ErrValidation)
	}
	return s.store.GetSetting(ctx, key)
}

// Update upserts one setting. value must be valid JSON.
func (s *SettingsService) Update(ctx context.Context, key string, value json.RawMessage) error {
	if key == "" {
		return fmt.Errorf("setting key must not be empty: %w", domain.ErrValidation)
	}
	if !json.Valid(value) {
		return fmt.Errorf("invalid JSON value for setting %q: %w", key, domain.ErrValidation)
	}
	return s.store.UpsertSetting(ctx, key, value)
}

// DeliveryDefaults returns the stored default destination, or the zero value
// when none was saved.
func (s *SettingsService) DeliveryDefaults(ctx context.Context) (settings.DeliveryDefaults, error) {
	var d settings.DeliveryDefaults
	st, err := s.store.GetSetting(ctx, settings.KeyDeliveryDefaults)
	if errors.Is(err, domain.ErrNotFound) {
		return d, nil
	}
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal(st.Value, &d); err != nil {
		return d, fmt.Errorf("decode delivery defaults: %w", err)
	}
	return d, nil
}

// SetDeliveryDefaults stores the default destination. Both ids are required.
func (s *SettingsService) SetDeliveryDefaults(ctx context.Context, d settings.DeliveryDefaults) error {
	if !d.Complete() {
		return fmt.Errorf("teamId and channelId are required: %w", domain.ErrValidation)
	}
	value, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode delivery defaults: %w", err)
	}
	return s.store.UpsertSetting(ctx, settings.KeyDeliveryDefaults, value)
}
