// Package session owns conversational state: history, location preference,
// and the query/pagination lifecycle over the assistant service.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/discovery/internal/domain"
	"github.com/kailas-cloud/discovery/internal/domain/card"
	"github.com/kailas-cloud/discovery/internal/domain/chat"
	"github.com/kailas-cloud/discovery/internal/domain/geo"
	"github.com/kailas-cloud/discovery/internal/domain/intent"
	"github.com/kailas-cloud/discovery/internal/domain/rank"
	"github.com/kailas-cloud/discovery/internal/metrics"
)

// Phase is the query lifecycle state.
type Phase string

// Lifecycle phases.
const (
	// PhaseIdle means no request is outstanding.
	PhaseIdle Phase = "idle"
	// PhaseFetching means a query or load-more request is outstanding.
	PhaseFetching Phase = "fetching"
	// PhaseError means the last request failed; previously loaded cards
	// are preserved unless the failure was the initial query itself.
	PhaseError Phase = "error"
)

// genericFailureMessage is shown when the assistant gives no usable detail.
const genericFailureMessage = "Something went wrong. Please try again."

// Session holds one conversation: its append-only history, location
// preference, and the accumulated card collection with its page state.
//
// All mutation of the collection and page state happens under mu inside
// this type. Responses carry the generation they were issued under and are
// discarded when a newer query has superseded them, so an out-of-order
// network reply can never overwrite current results.
type Session struct {
	id      string
	ownerID string

	assistant Assistant
	persist   *debouncer
	logger    *zap.Logger
	pageSize  int

	mu               sync.Mutex
	phase            Phase
	generation       uint64
	history          []chat.Turn
	pref             domain.LocationPreference
	sortMode         rank.Mode
	cards            []card.Card
	page             int
	hasMore          bool
	answer           string
	ack              string
	failure          string
	lastQuery        string
	lastQueryHistory []chat.Turn
	lastActive       time.Time
	closed           bool
}

// Snapshot is a consistent read-only view of a session for rendering.
type Snapshot struct {
	ID             string
	Phase          Phase
	Answer         string
	Acknowledgment string
	Failure        string
	Cards          []card.Card
	HasMore        bool
	Page           int
	SortMode       rank.Mode
	Location       domain.LocationPreference
	History        []chat.Turn
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Query runs a new top-level query: the page state is reset, the
// accumulated collection cleared, and the query sent with the full history
// and current location context at page 0. On success the returned batch is
// enriched, sorted, and installed as the whole collection, and the
// user/assistant turn pair is appended to history atomically.
//
// A query issued while another request is outstanding supersedes it:
// the older response is discarded on arrival (last write wins).
func (s *Session) Query(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ErrEmptyQuery
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	s.touch()
	s.generation++
	gen := s.generation
	s.phase = PhaseFetching
	s.failure = ""
	s.page = 0
	s.cards = nil
	s.hasMore = false
	historyAtQuery := chat.CloneTurns(s.history)
	req := domain.QueryRequest{
		Message:      text,
		History:      historyAtQuery,
		Page:         0,
		Limit:        s.pageSize,
		UserLocation: s.pref.Label,
		Coords:       cloneCoords(s.pref.Coords),
		Filters:      []string{},
	}
	s.mu.Unlock()

	resp, err := s.assistant.Query(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		metrics.StaleResponsesTotal.Inc()
		s.logger.Debug("discarded superseded query response",
			zap.String("session_id", s.id), zap.Uint64("generation", gen))
		return nil
	}

	if err != nil {
		s.phase = PhaseError
		s.cards = nil
		s.hasMore = false
		s.failure = failureMessage(err)
		return err
	}

	s.applyIntent(resp.Intent)

	s.cards = rank.Sort(rank.Enrich(resp.Cards, s.pref.Coords), s.sortMode)
	s.page = 0
	s.hasMore = resp.HasMore
	s.answer = resp.Answer
	s.ack = intent.Acknowledge(resp.Intent, s.pref.Label)
	s.history = append(s.history,
		chat.Turn{Role: chat.RoleUser, Content: text},
		chat.Turn{Role: chat.RoleAssistant, Content: resp.Answer},
	)
	s.lastQuery = text
	s.lastQueryHistory = historyAtQuery
	s.phase = PhaseIdle
	return nil
}

// LoadMore fetches the next page for the last successful query and merges
// it into the accumulated collection, re-sorting the whole merged set so
// ordering stays globally consistent. Without a prior successful query it
// is a no-op. While a request is outstanding it refuses to start another.
//
// A load-more failure leaves the displayed collection untouched; the user
// may retry.
func (s *Session) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	s.touch()
	if s.phase == PhaseFetching {
		s.mu.Unlock()
		return domain.ErrRequestInFlight
	}
	if strings.TrimSpace(s.lastQuery) == "" {
		s.mu.Unlock()
		return nil
	}
	gen := s.generation
	nextPage := s.page + 1
	req := domain.QueryRequest{
		Message:      s.lastQuery,
		History:      chat.CloneTurns(s.lastQueryHistory),
		Page:         nextPage,
		Limit:        s.pageSize,
		UserLocation: s.pref.Label,
		Coords:       cloneCoords(s.pref.Coords),
		Filters:      []string{},
	}
	s.phase = PhaseFetching
	s.mu.Unlock()

	resp, err := s.assistant.Query(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		metrics.StaleResponsesTotal.Inc()
		s.logger.Debug("discarded superseded page response",
			zap.String("session_id", s.id), zap.Uint64("generation", gen))
		return nil
	}

	if err != nil {
		s.phase = PhaseError
		s.failure = failureMessage(err)
		return err
	}

	merged := append(append([]card.Card(nil), s.cards...), rank.Enrich(resp.Cards, s.pref.Coords)...)
	s.cards = rank.Sort(merged, s.sortMode)
	s.page = nextPage
	s.hasMore = resp.HasMore
	s.failure = ""
	s.phase = PhaseIdle
	return nil
}

// SetSortMode switches the ordering and re-sorts the existing collection.
// No re-enrichment and no network traffic.
func (s *Session) SetSortMode(m rank.Mode) error {
	if !m.IsValid() {
		return domain.ErrInvalidSortMode
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	s.touch()
	s.sortMode = m
	s.cards = rank.Sort(s.cards, m)
	return nil
}

// SetLocation updates the location preference (including an initial
// coordinate resolution), re-enriches and re-sorts the existing collection
// against the new reference, and schedules a debounced persistence write.
// The assistant service is not contacted.
func (s *Session) SetLocation(label string, coords *geo.Coordinates) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	s.touch()
	s.pref = domain.LocationPreference{Label: label, Coords: cloneCoords(coords)}
	s.cards = rank.Sort(rank.Enrich(s.cards, s.pref.Coords), s.sortMode)
	s.persist.Schedule(s.pref)
	return nil
}

// Snapshot returns a consistent copy of the render-facing state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	cards := make([]card.Card, len(s.cards))
	for i := range s.cards {
		cards[i] = s.cards[i].Clone()
	}
	return Snapshot{
		ID:             s.id,
		Phase:          s.phase,
		Answer:         s.answer,
		Acknowledgment: s.ack,
		Failure:        s.failure,
		Cards:          cards,
		HasMore:        s.hasMore,
		Page:           s.page,
		SortMode:       s.sortMode,
		Location:       s.pref.Clone(),
		History:        chat.CloneTurns(s.history),
	}
}

// applyIntent lets an extracted intent move the location preference, per
// the ownership rules: explicit user input or query intent may mutate it.
// A changed label invalidates any previously resolved coordinate.
func (s *Session) applyIntent(in *intent.Intent) {
	if in == nil {
		return
	}
	loc := strings.TrimSpace(in.Location)
	if loc == "" || loc == s.pref.Label {
		return
	}
	s.pref = domain.LocationPreference{Label: loc}
	s.persist.Schedule(s.pref)
}

// close tears the session down: in-flight responses are discarded on
// arrival and the pending debounced write is cleared.
func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.generation++
	s.mu.Unlock()
	s.persist.Stop()
}

func (s *Session) idleSince(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive) > timeout
}

// touch records activity; callers hold mu.
func (s *Session) touch() {
	s.lastActive = time.Now()
}

func failureMessage(err error) string {
	var ae *domain.AssistantError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return genericFailureMessage
}

func cloneCoords(c *geo.Coordinates) *geo.Coordinates {
	if c == nil {
		return nil
	}
	cc := *c
	return &cc
}
