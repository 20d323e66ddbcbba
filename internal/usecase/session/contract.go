package session

import (
	"context"

	"github.com/kailas-cloud/discovery/internal/domain"
)

// Assistant resolves a query page into a reply plus candidate cards.
type Assistant interface {
	Query(ctx context.Context, req domain.QueryRequest) (domain.QueryResponse, error)
}

// PreferenceStore persists location preferences across sessions.
type PreferenceStore interface {
	Load(ctx context.Context, ownerID string) (domain.LocationPreference, bool, error)
	Save(ctx context.Context, ownerID string, pref domain.LocationPreference) error
}
