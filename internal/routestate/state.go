// Package routestate stores the per-conversation route override.
package routestate

import (
	"context"
	"errors"
	"time"

	"chatroute/internal/provider"
)

// ErrNotFound is returned when a conversation has no stored route.
var ErrNotFound = errors.New("routestate: not found")

// State is a conversation's active (profile, model) override.
type State struct {
	ActiveProfileID string    `json:"activeProfileId"`
	ActiveModelID   string    `json:"activeModelId,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt,omitempty"`
}

// Target returns the state as a route target.
func (s State) Target() provider.Target {
	return provider.Target{ProfileID: s.ActiveProfileID, ModelID: s.ActiveModelID}
}

// Store is a keyed conversation-route store. Writes are last-write-wins.
type Store interface {
	Get(ctx context.Context, conversationID string) (State, error)
	Upsert(ctx context.Context, conversationID string, st State) error
	Delete(ctx context.Context, conversationID string) error
}

// Lookup returns the stored state, or nil when none exists or id is empty.
func Lookup(ctx context.Context, s Store, conversationID string) (*State, error) {
	if s == nil || conversationID == "" {
		return nil, nil
	}
	st, err := s.Get(ctx, conversationID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}
