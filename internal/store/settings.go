package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"taskcron/internal/core"
)

// SettingsStore loads and persists the process-wide settings object.
type SettingsStore struct {
	kv     KV
	logger *slog.Logger

	mu sync.Mutex
}

func NewSettingsStore(kv KV, logger *slog.Logger) *SettingsStore {
	return &SettingsStore{kv: kv, logger: logger}
}

// Get returns the persisted settings merged over the defaults. Read failures
// degrade to the defaults.
func (s *SettingsStore) Get(ctx context.Context) core.Settings {
	settings, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("read settings, using defaults", "err", err)
		return core.DefaultSettings()
	}
	return settings
}

// Update merges patch into the current settings and persists the result. A
// stored value that cannot be read is left in place and the error returned.
func (s *SettingsStore) Update(ctx context.Context, patch core.SettingsPatch) (core.Settings, error) {
	if patch.MaxHistoryItems != nil && *patch.MaxHistoryItems < 0 {
		return core.Settings{}, fmt.Errorf("%w: maxHistoryItems must not be negative", core.ErrValidation)
	}
	if patch.MaxOutputLength != nil && *patch.MaxOutputLength < 0 {
		return core.Settings{}, fmt.Errorf("%w: maxOutputLength must not be negative", core.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	settings, err := s.load(ctx)
	if err != nil {
		return core.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	patch.Apply(&settings)
	settings = settings.Normalize()
	if err := setJSON(ctx, s.kv, KeySettings, settings); err != nil {
		return core.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	return settings, nil
}

func (s *SettingsStore) load(ctx context.Context) (core.Settings, error) {
	settings := core.DefaultSettings()
	if _, err := getJSON(ctx, s.kv, KeySettings, &settings); err != nil {
		return core.DefaultSettings(), err
	}
	return settings.Normalize(), nil
}
