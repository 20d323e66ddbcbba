// Package preference persists location preferences to durable storage so a
// returning client starts with the location it last settled on.
package preference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/discovery/internal/db"
	"github.com/kailas-cloud/discovery/internal/domain"
)

// store is the consumer interface for preference persistence.
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Repo stores location preferences as JSON blobs keyed by owner.
type Repo struct {
	store     store
	keyPrefix string
	ttl       time.Duration
}

// New creates a preference repository. keyPrefix namespaces the keys
// (e.g. "discovery:"); ttl bounds how long an idle preference survives.
func New(s store, keyPrefix string, ttl time.Duration) *Repo {
	return &Repo{store: s, keyPrefix: keyPrefix, ttl: ttl}
}

// Load returns the stored preference for ownerID. The second return value
// is false when nothing was stored.
func (r *Repo) Load(ctx context.Context, ownerID string) (domain.LocationPreference, bool, error) {
	data, err := r.store.Get(ctx, r.key(ownerID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.LocationPreference{}, false, nil
		}
		return domain.LocationPreference{}, false, fmt.Errorf("load preference %s: %w", ownerID, err)
	}

	var dto prefDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return domain.LocationPreference{}, false, fmt.Errorf("decode preference %s: %w", ownerID, err)
	}
	return fromDTO(dto), true, nil
}

// Save persists the preference for ownerID, refreshing its TTL.
func (r *Repo) Save(ctx context.Context, ownerID string, pref domain.LocationPreference) error {
	data, err := json.Marshal(toDTO(pref))
	if err != nil {
		return fmt.Errorf("encode preference %s: %w", ownerID, err)
	}
	if err := r.store.SetWithTTL(ctx, r.key(ownerID), data, r.ttl); err != nil {
		return fmt.Errorf("save preference %s: %w", ownerID, err)
	}
	return nil
}

// Delete removes the stored preference for ownerID.
func (r *Repo) Delete(ctx context.Context, ownerID string) error {
	if err := r.store.Del(ctx, r.key(ownerID)); err != nil {
		return fmt.Errorf("delete preference %s: %w", ownerID, err)
	}
	return nil
}

func (r *Repo) key(ownerID string) string {
	return r.keyPrefix + "pref:" + ownerID
}
