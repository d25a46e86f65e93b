package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"taskcron/internal/core"
)

// HistoryStore keeps a newest-first log of execution records capped at the
// configured maxHistoryItems.
type HistoryStore struct {
	kv       KV
	settings core.SettingsSource
	logger   *slog.Logger

	mu sync.Mutex
}

func NewHistoryStore(kv KV, settings core.SettingsSource, logger *slog.Logger) *HistoryStore {
	return &HistoryStore{kv: kv, settings: settings, logger: logger}
}

// Append assigns an id to entry, prepends it and evicts the oldest entries
// beyond the cap before persisting.
func (s *HistoryStore) Append(ctx context.Context, entry *core.HistoryEntry) (*core.HistoryEntry, error) {
	limit := s.settings.Get(ctx).Normalize().MaxHistoryItems

	s.mu.Lock()
	defer s.mu.Unlock()
	history, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	stored := *entry
	stored.ID = core.NewID("hist")
	history = append([]*core.HistoryEntry{&stored}, history...)
	if len(history) > limit {
		history = history[:limit]
	}
	if err := setJSON(ctx, s.kv, KeyHistory, history); err != nil {
		return nil, fmt.Errorf("save history: %w", err)
	}
	return &stored, nil
}

// List returns the log newest first. A read failure degrades to an empty log.
func (s *HistoryStore) List(ctx context.Context) ([]*core.HistoryEntry, error) {
	history, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("read history", "err", err)
		return []*core.HistoryEntry{}, nil
	}
	if limit := s.settings.Get(ctx).Normalize().MaxHistoryItems; len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}

// ListByTask returns up to limit entries for taskID, newest first. A
// non-positive limit returns all of them.
func (s *HistoryStore) ListByTask(ctx context.Context, taskID string, limit int) ([]*core.HistoryEntry, error) {
	history, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*core.HistoryEntry, 0)
	for _, h := range history {
		if h.TaskID != taskID {
			continue
		}
		out = append(out, h)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Clear empties the log.
func (s *HistoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := setJSON(ctx, s.kv, KeyHistory, []*core.HistoryEntry{}); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (s *HistoryStore) load(ctx context.Context) ([]*core.HistoryEntry, error) {
	var history []*core.HistoryEntry
	if _, err := getJSON(ctx, s.kv, KeyHistory, &history); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if history == nil {
		history = []*core.HistoryEntry{}
	}
	return history, nil
}
