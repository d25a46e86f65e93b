package store

import (
	"context"
	"time"
)

// BgState records whether the scheduler was running when the daemon last
// changed state, for inspection after a restart.
type BgState struct {
	Running   bool       `json:"running"`
	TaskCount int        `json:"taskCount"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// SaveBgState stamps and persists state.
func SaveBgState(ctx context.Context, kv KV, state BgState) error {
	state.Timestamp = time.Now()
	return setJSON(ctx, kv, KeyBgState, state)
}

// LoadBgState returns the last saved state, or nil if none was saved.
func LoadBgState(ctx context.Context, kv KV) (*BgState, error) {
	var state BgState
	found, err := getJSON(ctx, kv, KeyBgState, &state)
	if err != nil || !found {
		return nil, err
	}
	return &state, nil
}
