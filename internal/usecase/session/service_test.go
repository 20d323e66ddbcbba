package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/discovery/internal/domain"
	"github.com/kailas-cloud/discovery/internal/domain/card"
	"github.com/kailas-cloud/discovery/internal/domain/geo"
	"github.com/kailas-cloud/discovery/internal/domain/intent"
	"github.com/kailas-cloud/discovery/internal/domain/rank"
)

// --- Mocks ---

type mockAssistant struct {
	mu    sync.Mutex
	fn    func(req domain.QueryRequest) (domain.QueryResponse, error)
	calls []domain.QueryRequest
	gate  chan struct{}
}

func (m *mockAssistant) Query(_ context.Context, req domain.QueryRequest) (domain.QueryResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	fn := m.fn
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return fn(req)
}

func (m *mockAssistant) setGate(gate chan struct{}) {
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()
}

func (m *mockAssistant) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockAssistant) lastCall(t *testing.T) domain.QueryRequest {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		t.Fatal("no assistant calls recorded")
	}
	return m.calls[len(m.calls)-1]
}

type mockPrefs struct {
	mu      sync.Mutex
	stored  map[string]domain.LocationPreference
	saves   []domain.LocationPreference
	loadErr error
	saveErr error
}

func newMockPrefs() *mockPrefs {
	return &mockPrefs{stored: map[string]domain.LocationPreference{}}
}

func (m *mockPrefs) Load(_ context.Context, ownerID string) (domain.LocationPreference, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return domain.LocationPreference{}, false, m.loadErr
	}
	p, ok := m.stored[ownerID]
	return p, ok, nil
}

func (m *mockPrefs) Save(_ context.Context, ownerID string, pref domain.LocationPreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.stored[ownerID] = pref
	m.saves = append(m.saves, pref)
	return nil
}

func (m *mockPrefs) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saves)
}

func (m *mockPrefs) lastSave(t *testing.T) domain.LocationPreference {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saves) == 0 {
		t.Fatal("no saves recorded")
	}
	return m.saves[len(m.saves)-1]
}

// --- Helpers ---

func f64(v float64) *float64 { return &v }

func newTestService(assistant Assistant, prefs PreferenceStore) *Service {
	return New(assistant, prefs, zap.NewNop(), Config{
		PageSize:        9,
		PersistDebounce: 5 * time.Millisecond,
	})
}

func respondWith(cards []card.Card, hasMore bool) func(domain.QueryRequest) (domain.QueryResponse, error) {
	return func(domain.QueryRequest) (domain.QueryResponse, error) {
		return domain.QueryResponse{Answer: "here you go", Cards: cards, HasMore: hasMore}, nil
	}
}

func ratedCard(title string, rating *float64) card.Card {
	return card.Card{Title: title, Rating: rating}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

// --- Query ---

func TestQuery_Success(t *testing.T) {
	ma := &mockAssistant{fn: func(req domain.QueryRequest) (domain.QueryResponse, error) {
		return domain.QueryResponse{
			Answer:  "two salons nearby",
			Cards:   []card.Card{{Title: "Salon A"}, {Title: "Salon B"}},
			Intent:  &intent.Intent{Service: "hairdresser"},
			HasMore: true,
		}, nil
	}}
	svc := newTestService(ma, newMockPrefs())
	sess := svc.Create(context.Background(), "owner")

	if err := sess.Query(context.Background(), "hairdresser"); err != nil {
		t.Fatalf("Query: %v", err)
	}

	snap := sess.Snapshot()
	if snap.Phase != PhaseIdle {
		t.Errorf("phase = %v, want idle", snap.Phase)
	}
	if snap.Answer != "two salons nearby" {
		t.Errorf("answer = %q", snap.Answer)
	}
	if len(snap.Cards) != 2 {
		t.Errorf("cards = %d, want 2", len(snap.Cards))
	}
	if !snap.HasMore {
		t.Error("hasMore = false, want true")
	}
	if snap.Page != 0 {
		t.Errorf("page = %d, want 0", snap.Page)
	}
	if snap.Acknowledgment != "Understood: service hairdresser" {
		t.Errorf("ack = %q", snap.Acknowledgment)
	}
	if len(snap.History) != 2 {
		t.Fatalf("history = %d turns, want 2", len(snap.History))
	}
	if snap.History[0].Content != "hairdresser" || snap.History[1].Content != "two salons nearby" {
		t.Errorf("history = %+v", snap.History)
	}

	req := ma.lastCall(t)
	if req.Page != 0 || req.Limit != 9 {
		t.Errorf("request page/limit = %d/%d, want 0/9", req.Page, req.Limit)
	}
	if req.Filters == nil || len(req.Filters) != 0 {
		t.Errorf("filters = %v, want empty non-nil", req.Filters)
	}
	if len(req.History) != 0 {
		t.Errorf("first query history = %d turns, want 0", len(req.History))
	}
}

func TestQuery_Empty(t *testing.T) {
	ma := &mockAssistant{fn: respondWith(nil, false)}
	svc := newTestService(ma, newMockPrefs())
	sess := svc.Create(context.Background(), "owner")

	if err := sess.Query(context.Background(), "   "); !errors.Is(err, domain.ErrEmptyQuery) {
		t.Errorf("err = %v, want ErrEmptyQuery", err)
	}
	if ma.callCount() != 0 {
		t.Error("no request should be issued for an empty query")
	}
}

func TestQuery_SendsFullHistory(t *testing.T) {
	ma := &mockAssistant{fn: respondWith([]card.Card{{Title: "x"}}, false)}
	svc := newTestService(ma, newMockPrefs())
	sess := svc.Create(context.Background(), "owner")

	_ = sess.Query(context.Background(), "first")
	_ = sess.Query(context.Background(), "second")

	req := ma.lastCall(t)
	if len(req.History) != 2 {
		t.Fatalf("second query history = %d turns, want 2", len(req.History))
	}
	if req.History[0].Content != "first" {
		t.Errorf("history[0] = %+v", req.History[0])
	}
}

func TestQuery_FailureClearsCollection(t *testing.T) {
	calls := 0
	ma := &mockAssistant{fn: func(req domain.QueryRequest) (domain.QueryResponse, error) {
		calls++
		if calls == 1 {
			return domain.QueryResponse{Answer: "ok", Cards: []card.Card{{Title: "a"}}}, nil
		}
		return domain.QueryResponse{}, fmt.Errorf("boom: %w", domain.ErrAssistantUnavailable)
	}}
	svc := newTestService(ma, newMockPrefs())
	sess := svc.Create(context.Background(), "owner")

	_ = sess.Query(context.Background(), "first")
	err := sess.Query(context.Background(), "second")
	if !errors.Is(err, domain.ErrAssistantUnavailable) {
		t.Fatalf("err = %v", err)
	}

	snap := sess.Snapshot()
	if snap.Phase != PhaseError {
		t.Errorf("phase = %v, want error", snap.Phase)
	}
	if len(snap.Cards) != 0 {
		t.Errorf("cards = %d, want 0 after failed new query", len(snap.Cards))
	}
	if snap.Failure != genericFailureMessage {
		t.Errorf("failure = %q, want generic message", snap.Failure)
	}
	// A failed exchange must not leave an unanswered user turn behind.
	if len(snap.History) != 2 {
		t.Errorf("history = %d turns, want 2 (failed exchange excluded)", len(snap.History))
	}
}

func TestQuery_FailureUsesProvidedMessage(t *testing.T) {
	ma := &mockAssistant{fn: func(domain.QueryRequest) (domain.QueryResponse, error) {
		return domain.QueryResponse{}, &domain.AssistantError{Message: "site is over quota"}
	}}
	svc := newTestService(ma, newMockPrefs())
	sess := svc.Create(context.Background(), "owner")

	_ = sess.Query(context.Background(), "q")
	if got := sess.Snapshot().Failure; got != "site is over quota" {
		t.Errorf("failure = %q, want provided message", got)
	}
}

func TestQuery_EnrichesAndSorts(t *testing.T) {
	ma := &mockAssistant{fn: respondWith([]card.Card{
		{Title: "far", Coords: &geo.Coordinates{Lat: 48.1374, Lng: 11.5755}},
		{Title: "near", Coords: &geo.Coordinates{Lat: 52.51, Lng: 13.4}},
		{Title: "nowhere"},
	}, false)}
	svc := newTestService(ma, newMockPrefs())
	sess := svc.Create(context.Background(), "owner")

	_ = sess.SetLocation("Berlin", &geo.Coordinates{Lat: 52.52, Lng: 13.405})
	_ = sess.SetSortMode(rank.Distance)
	if err := sess.Query(context.Background(), "q"); err != nil {
		t.Fatalf("Query: %v", err)
	}

	snap := sess.Snapshot()
	if snap.Cards[0].Title != "near" || snap.Cards[1].Title != "far" || snap.Cards[2].Title != "nowhere" {
		t.Errorf("order = %v/%v/%v", snap.Cards[0].Title, snap.Cards[1].Title, snap.Cards[2].Title)
	}
	if snap.Cards[0].DistanceKm == nil {
		t.Error("near card should have a distance")
	}
	if snap.Cards[2].DistanceKm != nil {
		t.Error("card without coords should have unknown distance")
	}

	req := ma.lastCall(t)
	if req.UserLocation != "Berlin" || req.Coords == nil {
		t.Errorf("request location = %q coords = %v", req.UserLocation, req.Coords)
	}
}

func TestQuery_NoLocationAllDistancesUnknown(t *testing.T) {
	ma := &mockAssistant{fn: respondWith([]card.Card{
		{Title: "a", Coords: &geo.Coordinates{Lat: 1, Lng: 1}},
		{Title: "b"},
		{Title: "c", Coords: &geo.Coordinates{Lat: 2, Lng: 2}},
	}, false)}
	svc := newTestService(ma, newMockPrefs())
	sess := svc.Create(context.Background(), "owner")

	_ = sess.Query(context.Background(), "hairdresser in city A")

	snap := sess.Snapshot()
	for _, c := range snap.Cards {
		if c.DistanceKm != nil {
			t.Errorf("card %q: distance = %v, want unknown", c.Title, *c.DistanceKm)
		}
	}

	// All cards tie on unknown distance, so switching to distance mode
	// must keep the original relative order.
	_ = sess.SetSortMode(rank.Distance)
	snap = sess.Snapshot()
	want := []string{"a", "b", "c"}
	for i, c := range snap.Cards {
		if c.Title != want[i] {
			t.Fatalf("order changed: got %q at %d, want %q", c.Title, i, want[i])
		}
	}
}

// --- Load more ---

func TestLoadMore_NoPriorQueryIsNoop(t *testing.T) {
	ma := &mockAssistant{fn: respondWith(nil, false)}
	svc := newTestService(ma, newMockPrefs())
	sess := svc.Create(context.Background(), "owner")

	if err := sess.LoadMore(context.Background()); err != nil {
		t.Fatalf("LoadMore: %v", err)
	}
	if ma.callCount() != 0 {
		t.Error("no request should be issued without a prior query")
	}
	snap := sess.Snapshot()
	if snap.Phase != PhaseIdle || len(snap.Cards) != 0 {
		t.Errorf("state changed: phase=%v cards=%d", snap.Phase, len(snap.Cards))
	}
}

func TestLoadMore_MergesGloballySorted(t *testing.T) {
	page0 := []card.Card{
		ratedCard("p0-1", f64(5)), ratedCard("p0-2", f64(4)), ratedCard("p0-3", f64(3.5)),
		ratedCard("p0-4", f64(3)), ratedCard("p0-5", f64(2.5)), ratedCard("p0-6", f64(2)),
		ratedCard("p0-7", f64(1)), ratedCard("p0-8", nil), ratedCard("p0-9", nil),
	}
	page1 := []card.Card{
		ratedCard("p1-1", f64(4.8)), ratedCard("p1-2", f64(2.2)),
		ratedCard("p1-3", nil), ratedCard("p1-4", f64(3.3)), ratedCard("p1-5", f64(0.5)),
	}
	ma := &mockAssistant{fn: func(req domain.QueryRequest) (domain.QueryResponse, error) {
		if req.Page == 0 {
			return domain.QueryResponse{Answer: "a", Cards: page0, HasMore: true}, nil
		}
		return domain.QueryResponse{Answer: "a", Cards: page1, HasMore: false}, nil
	}}
	svc := newTestService(ma, newMockPrefs())
	sess := svc.Create(context.Background(), "owner")

	_ = sess.Query(context.Background(), "hairdresser")
	_ = sess.SetSortMode(rank.Rating)
	if err := sess.LoadMore(context.Background()); err != nil {
		t.Fatalf("LoadMore: %v", err)
	}

	snap := sess.Snapshot()
	if len(snap.Cards) != 14 {
		t.Fatalf("merged cards = %d, want 14", len(snap.Cards))
	}
	if snap.Page != 1 {
		t.Errorf("page = %d, want 1", snap.Page)
	}
	if snap.HasMore {
		t.Error("hasMore = true, want false")
	}

	// One globally consistent order, not two sorted blocks: non-increasing
	// ratings with all unrated cards at the end.
	seenUnrated := false
	prev := 6.0
	for i, c := range snap.Cards {
		if c.Rating == nil {
			seenUnrated = true
			continue
		}
		if seenUnrated {
			t.Fatalf("rated card %q at %d after unrated cards", c.Title, i)
		}
		if *c.Rating > prev {
			t.Fatalf("rating increased at %d: %v after %v", i, *c.Rating, prev)
		}
		prev = *c.Rating
	}
	if snap.Cards[0].Title != "p0-1" || snap.Cards[1].Title != "p1-1" {
		t.Errorf("top cards = %q, %q", snap.Cards[0].Title, snap.Cards[1].Title)
	}
}

func TestLoadMore_RequestsNextPageWithQueryTimeHistory(t *testing.T) {
	ma := &mockAssistant{fn: respondWith([]card.Card{{Title: "x"}}, true)}
	svc := newTestService(ma, newMockPrefs())
	sess := svc.Create(context.Background(), "owner")

	_ = sess.Query(context.Background(), "first")
	_ = sess.Query(context.Background(), "second")
	_ = sess.LoadMore(context.Background())

	req := ma.lastCall(t)
	if req.Message != "second" {
		t.Errorf("message = %q, want the last query text", req.Message)
	}
	if req.Page != 1 {
		t.Errorf("page = %d, want 1", req.Page)
	}
	// History as it stood when "second" was issued: the completed first
	// exchange only, not the turns appended afterwards.
	if len(req.History) != 2 {
		t.Errorf("history = %d turns, want 2", len(req.History))
	}
}

func TestLoadMore_FailurePreservesCollection(t *testing.T) {
	calls := 0
	ma := &mockAssistant{fn: func(req domain.QueryRequest) (domain.QueryResponse, error) {
		calls++
		if calls == 1 {
			return domain.QueryResponse{Answer: "a", Cards: []card.Card{{Title: "kept"}}, HasMore: true}, nil
		}
		return domain.QueryResponse{}, fmt.Errorf("late failure: %w", domain.ErrAssistantUnavailable)
	}}
	svc := newTestService(ma, newMockPrefs())
	sess := svc.Create(context.Background(), "owner")

	_ = sess.Query(context.Background(), "q")
	err := sess.LoadMore(context.Background())
	if !errors.Is(err, domain.ErrAssistantUnavailable) {
		t.Fatalf("err = %v", err)
	}

	snap := sess.Snapshot()
	if len(snap.Cards) != 1 || snap.Cards[0].Title != "kept" {
		t.Errorf("cards = %v, want the previously loaded card", snap.Cards)
	}
	if snap.Page != 0 {
		t.Errorf("page = %d, want unchanged 0", snap.Page)
	}
	if !snap.HasMore {
		t.Error("hasMore should stay true so the user can retry")
	}

	// Retry succeeds.
	ma.mu.Lock()
	ma.fn = respondWith([]card.Card{{Title: "more"}}, false)
	ma.mu.Unlock()
	if err := sess.LoadMore(context.Background()); err != nil {
		t.Fatalf("retry LoadMore: %v", err)
	}
	if snap = sess.Snapshot(); len(snap.Cards) != 2 {
		t.Errorf("cards after retry = %d, want 2", len(snap.Cards))
	}
}

func TestLoadMore_BlockedWhileFetching(t *testing.T) {
	gate := make(chan struct{})
	ma := &mockAssistant{fn: respondWith([]card.Card{{Title: "x"}}, true)}
	svc := newTestService(ma, newMockPrefs())
	sess := svc.Create(context.Background(), "owner")

	_ = sess.Query(context.Background(), "q")

	ma.setGate(gate)
	done := make(chan error, 1)
	go func() { done <- sess.LoadMore(context.Background()) }()
	waitFor(t, func() bool { return sess.Snapshot().Phase == PhaseFetching }, "load-more never started")

	ma.setGate(nil)
	if err := sess.LoadMore(context.Background()); !errors.Is(err, domain.ErrRequestInFlight) {
		t.Errorf("err = %v, want ErrRequestInFlight", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first LoadMore: %v", err)
	}
}

// --- Stale responses ---

func TestStaleLoadMoreDiscarded(t *testing.T) {
	ma := &mockAssistant{}
	ma.fn = func(req domain.QueryRequest) (domain.QueryResponse, error) {
		switch {
		case req.Message == "old" && req.Page == 0:
			return domain.QueryResponse{Answer: "old answer", Cards: []card.Card{{Title: "old-1"}}, HasMore: true}, nil
		case req.Message == "old" && req.Page == 1:
			return domain.QueryResponse{Answer: "old answer", Cards: []card.Card{{Title: "old-2"}}, HasMore: true}, nil
		default:
			return domain.QueryResponse{Answer: "new answer", Cards: []card.Card{{Title: "new-1"}}, HasMore: false}, nil
		}
	}
	svc := newTestService(ma, newMockPrefs())
	sess := svc.Create(context.Background(), "owner")

	_ = sess.Query(context.Background(), "old")

	// Block the load-more in flight, then supersede it with a new query.
	gate := make(chan struct{})
	ma.setGate(gate)
	done := make(chan error, 1)
	go func() { done <- sess.LoadMore(context.Background()) }()
	waitFor(t, func() bool { return sess.Snapshot().Phase == PhaseFetching }, "load-more never started")

	ma.setGate(nil)
	if err := sess.Query(context.Background(), "new"); err != nil {
		t.Fatalf("superseding query: %v", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("stale LoadMore should be silently discarded, got %v", err)
	}

	snap := sess.Snapshot()
	if len(snap.Cards) != 1 || snap.Cards[0].Title != "new-1" {
		t.Errorf("cards = %v, stale page must not be merged", snap.Cards)
	}
	if snap.Answer != "new answer" {
		t.Errorf("answer = %q", snap.Answer)
	}
	if snap.Page != 0 {
		t.Errorf("page = %d, want 0", snap.Page)
	}
}

func TestStaleQueryDiscarded(t *testing.T) {
	ma := &mockAssistant{}
	ma.fn = func(req domain.QueryRequest) (domain.QueryResponse, error) {
		if req.Message == "slow" {
			return domain.QueryResponse{Answer: "slow answer", Cards: []card.Card{{Title: "slow-1"}}}, nil
		}
		return domain.QueryResponse{Answer: "fast answer", Cards: []card.Card{{Title: "fast-1"}}}, nil
	}
	svc := newTestService(ma, newMockPrefs())
	sess := svc.Create(context.Background(), "owner")

	gate := make(chan struct{})
	ma.setGate(gate)
	done := make(chan error, 1)
	go func() { done <- sess.Query(context.Background(), "slow") }()
	waitFor(t, func() bool { return ma.callCount() == 1 }, "slow query never issued")

	ma.setGate(nil)
	if err := sess.Query(context.Background(), "fast"); err != nil {
		t.Fatalf("fast query: %v", err)
	}

	close(gate)
	<-done

	snap := sess.Snapshot()
	if snap.Answer != "fast answer" {
		t.Errorf("answer = %q, stale query response applied", snap.Answer)
	}
	if len(snap.Cards) != 1 || snap.Cards[0].Title != "fast-1" {
		t.Errorf("cards = %v", snap.Cards)
	}
	// Only the winning exchange lands in history.
	if len(snap.History) != 2 {
		t.Errorf("history = %d turns, want 2", len(snap.History))
	}
}

// --- Sort and location ---

func TestSetSortMode_NoNetwork(t *testing.T) {
	ma := &mockAssistant{fn: respondWith([]card.Card{
		ratedCard("low", f64(1)), ratedCard("high", f64(5)),
	}, false)}
	svc := newTestService(ma, newMockPrefs())
	sess := svc.Create(context.Background(), "owner")

	_ = sess.Query(context.Background(), "q")
	before := ma.callCount()

	if err := sess.SetSortMode(rank.Rating); err != nil {
		t.Fatalf("SetSortMode: %v", err)
	}
	if ma.callCount() != before {
		t.Error("sort mode change must not contact the assistant")
	}
	snap := sess.Snapshot()
	if snap.Cards[0].Title != "high" {
		t.Errorf("cards[0] = %q, want high", snap.Cards[0].Title)
	}
	if snap.SortMode != rank.Rating {
		t.Errorf("sortMode = %v", snap.SortMode)
	}
}

func TestSetSortMode_Invalid(t *testing.T) {
	svc := newTestService(&mockAssistant{fn: respondWith(nil, false)}, newMockPrefs())
	sess := svc.Create(context.Background(), "owner")

	if err := sess.SetSortMode("price"); !errors.Is(err, domain.ErrInvalidSortMode) {
		t.Errorf("err = %v, want ErrInvalidSortMode", err)
	}
}

func TestSetLocation_ReenrichesWithoutNetwork(t *testing.T) {
	ma := &mockAssistant{fn: func(req domain.QueryRequest) (domain.QueryResponse, error) {
		if req.Page == 0 {
			return domain.QueryResponse{Answer: "a", Cards: []card.Card{
				{Title: "munich", Coords: &geo.Coordinates{Lat: 48.1374, Lng: 11.5755}},
			}, HasMore: true}, nil
		}
		return domain.QueryResponse{Answer: "a", Cards: []card.Card{
			{Title: "berlin", Coords: &geo.Coordinates{Lat: 52.52, Lng: 13.405}},
		}, HasMore: false}, nil
	}}
	svc := newTestService(ma, newMockPrefs())
	sess := svc.Create(context.Background(), "owner")

	_ = sess.Query(context.Background(), "q")
	_ = sess.LoadMore(context.Background())
	_ = sess.SetSortMode(rank.Distance)
	before := ma.callCount()

	// Move the reference next to Berlin: order must flip, both pages kept.
	if err := sess.SetLocation("Berlin", &geo.Coordinates{Lat: 52.52, Lng: 13.4}); err != nil {
		t.Fatalf("SetLocation: %v", err)
	}
	if ma.callCount() != before {
		t.Error("location change must not contact the assistant")
	}

	snap := sess.Snapshot()
	if len(snap.Cards) != 2 {
		t.Fatalf("cards = %d, a loaded page was lost", len(snap.Cards))
	}
	if snap.Cards[0].Title != "berlin" {
		t.Errorf("cards[0] = %q, want berlin after re-sort", snap.Cards[0].Title)
	}
	if snap.Cards[0].DistanceKm == nil || snap.Cards[1].DistanceKm == nil {
		t.Error("both cards should have recomputed distances")
	}
}

func TestSetLocation_DebouncedPersist(t *testing.T) {
	prefs := newMockPrefs()
	svc := newTestService(&mockAssistant{fn: respondWith(nil, false)}, prefs)
	sess := svc.Create(context.Background(), "owner")

	// Rapid edits: only the settled value may hit storage.
	_ = sess.SetLocation("B", nil)
	_ = sess.SetLocation("Be", nil)
	_ = sess.SetLocation("Berlin", &geo.Coordinates{Lat: 52.52, Lng: 13.405})

	waitFor(t, func() bool { return prefs.saveCount() > 0 }, "debounced save never fired")
	time.Sleep(20 * time.Millisecond)

	if n := prefs.saveCount(); n != 1 {
		t.Errorf("saves = %d, want exactly 1", n)
	}
	if got := prefs.lastSave(t); got.Label != "Berlin" || got.Coords == nil {
		t.Errorf("persisted = %+v, want settled value", got)
	}
}

func TestCreate_HydratesPreference(t *testing.T) {
	prefs := newMockPrefs()
	prefs.stored["owner"] = domain.LocationPreference{
		Label:  "Hamburg",
		Coords: &geo.Coordinates{Lat: 53.55, Lng: 9.99},
	}
	ma := &mockAssistant{fn: respondWith(nil, false)}
	svc := newTestService(ma, prefs)
	sess := svc.Create(context.Background(), "owner")

	snap := sess.Snapshot()
	if snap.Location.Label != "Hamburg" {
		t.Errorf("label = %q, want hydrated Hamburg", snap.Location.Label)
	}

	_ = sess.Query(context.Background(), "q")
	req := ma.lastCall(t)
	if req.UserLocation != "Hamburg" || req.Coords == nil {
		t.Errorf("request location = %q coords = %v", req.UserLocation, req.Coords)
	}
}

func TestCreate_HydrationFailureDegrades(t *testing.T) {
	prefs := newMockPrefs()
	prefs.loadErr = errors.New("storage down")
	svc := newTestService(&mockAssistant{fn: respondWith(nil, false)}, prefs)
	sess := svc.Create(context.Background(), "owner")

	if !sess.Snapshot().Location.IsZero() {
		t.Error("preference should stay empty when hydration fails")
	}
}

func TestQuery_IntentMovesPreference(t *testing.T) {
	prefs := newMockPrefs()
	ma := &mockAssistant{fn: func(domain.QueryRequest) (domain.QueryResponse, error) {
		return domain.QueryResponse{
			Answer: "a",
			Intent: &intent.Intent{Service: "plumber", Location: "Cologne"},
		}, nil
	}}
	svc := newTestService(ma, prefs)
	sess := svc.Create(context.Background(), "owner")

	_ = sess.SetLocation("Berlin", &geo.Coordinates{Lat: 52.52, Lng: 13.405})
	_ = sess.Query(context.Background(), "plumber in Cologne")

	snap := sess.Snapshot()
	if snap.Location.Label != "Cologne" {
		t.Errorf("label = %q, want Cologne from intent", snap.Location.Label)
	}
	if snap.Location.Coords != nil {
		t.Error("stale coordinates must be dropped when the label moves")
	}
	if snap.Acknowledgment != "Understood: service plumber, location Cologne" {
		t.Errorf("ack = %q", snap.Acknowledgment)
	}

	waitFor(t, func() bool { return prefs.saveCount() > 0 }, "intent change never persisted")
	if got := prefs.lastSave(t); got.Label != "Cologne" {
		t.Errorf("persisted = %+v", got)
	}
}

// --- Lifecycle ---

func TestService_GetAndClose(t *testing.T) {
	svc := newTestService(&mockAssistant{fn: respondWith(nil, false)}, newMockPrefs())
	sess := svc.Create(context.Background(), "owner")

	got, err := svc.Get(sess.ID())
	if err != nil || got != sess {
		t.Fatalf("Get: %v %v", got, err)
	}

	if err := svc.Close(sess.ID()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := svc.Get(sess.ID()); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
	if err := svc.Close(sess.ID()); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("double close err = %v, want ErrSessionNotFound", err)
	}

	if err := sess.Query(context.Background(), "q"); !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("query on closed session = %v, want ErrSessionClosed", err)
	}
}

func TestClose_ClearsPendingDebounce(t *testing.T) {
	prefs := newMockPrefs()
	svc := New(&mockAssistant{fn: respondWith(nil, false)}, prefs, zap.NewNop(), Config{
		PersistDebounce: 50 * time.Millisecond,
	})
	sess := svc.Create(context.Background(), "owner")

	_ = sess.SetLocation("Berlin", nil)
	_ = svc.Close(sess.ID())

	time.Sleep(80 * time.Millisecond)
	if n := prefs.saveCount(); n != 0 {
		t.Errorf("saves = %d, pending write must be cleared on teardown", n)
	}
}

func TestEvictIdle(t *testing.T) {
	svc := New(&mockAssistant{fn: respondWith(nil, false)}, newMockPrefs(), zap.NewNop(), Config{
		IdleTimeout: time.Minute,
	})
	sess := svc.Create(context.Background(), "owner")

	if n := svc.EvictIdle(time.Now()); n != 0 {
		t.Errorf("evicted %d, want 0", n)
	}
	if n := svc.EvictIdle(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Errorf("evicted %d, want 1", n)
	}
	if _, err := svc.Get(sess.ID()); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}
