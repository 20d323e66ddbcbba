package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/discovery/internal/domain"
	"github.com/kailas-cloud/discovery/internal/domain/rank"
)

// Config tunes the session service.
type Config struct {
	// PageSize is the fixed number of cards requested per page.
	PageSize int
	// PersistDebounce is how long a preference change must settle before
	// it is written to durable storage.
	PersistDebounce time.Duration
	// IdleTimeout is how long an untouched session survives before the
	// janitor evicts it.
	IdleTimeout time.Duration
}

const (
	defaultPageSize        = 9
	defaultPersistDebounce = 250 * time.Millisecond
	defaultIdleTimeout     = 30 * time.Minute
	persistWriteTimeout    = 5 * time.Second
)

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.PersistDebounce <= 0 {
		c.PersistDebounce = defaultPersistDebounce
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
}

// Service creates, looks up, and tears down sessions.
type Service struct {
	assistant Assistant
	prefs     PreferenceStore
	logger    *zap.Logger
	cfg       Config

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates a session service.
func New(assistant Assistant, prefs PreferenceStore, logger *zap.Logger, cfg Config) *Service {
	cfg.applyDefaults()
	return &Service{
		assistant: assistant,
		prefs:     prefs,
		logger:    logger,
		cfg:       cfg,
		sessions:  map[string]*Session{},
	}
}

// Create starts a session for ownerID, hydrating the location preference
// from durable storage before the first query can run. A storage failure
// degrades to an empty preference rather than blocking the session.
func (s *Service) Create(ctx context.Context, ownerID string) *Session {
	sess := &Session{
		id:        uuid.NewString(),
		ownerID:   ownerID,
		assistant: s.assistant,
		logger:    s.logger,
		pageSize:  s.cfg.PageSize,
		phase:     PhaseIdle,
		sortMode:  rank.Relevance,
	}
	sess.lastActive = time.Now()
	sess.persist = newDebouncer(s.cfg.PersistDebounce, s.persistFunc(ownerID))

	if sess.pref.IsZero() {
		pref, ok, err := s.prefs.Load(ctx, ownerID)
		switch {
		case err != nil:
			s.logger.Warn("hydrate location preference",
				zap.String("owner_id", ownerID), zap.Error(err))
		case ok:
			sess.pref = pref
		}
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	return sess
}

// Get returns the session with the given id.
func (s *Service) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

// Close tears down the session: its in-flight responses will be discarded
// on arrival and any pending debounced write is cleared.
func (s *Service) Close(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess.close()
	return nil
}

// EvictIdle tears down sessions idle longer than the configured timeout
// and returns how many were removed.
func (s *Service) EvictIdle(now time.Time) int {
	s.mu.Lock()
	var victims []*Session
	for id, sess := range s.sessions {
		if sess.idleSince(now, s.cfg.IdleTimeout) {
			victims = append(victims, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range victims {
		sess.close()
	}
	return len(victims)
}

// RunJanitor evicts idle sessions on the given interval until ctx ends.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.EvictIdle(now); n > 0 {
				s.logger.Info("evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}

func (s *Service) persistFunc(ownerID string) func(domain.LocationPreference) {
	return func(pref domain.LocationPreference) {
		ctx, cancel := context.WithTimeout(context.Background(), persistWriteTimeout)
		defer cancel()
		if err := s.prefs.Save(ctx, ownerID, pref); err != nil {
			s.logger.Warn("persist location preference",
				zap.String("owner_id", ownerID), zap.Error(err))
		}
	}
}
