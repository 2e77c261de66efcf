package services

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"simboard/content"
	"simboard/feed"
	"simboard/models"
	"simboard/store"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testDeck() *content.Deck {
	return &content.Deck{
		ID:   "test-deck",
		Name: "Test Deck",
		Slides: []content.Slide{
			{ID: "intro", Category: content.CategoryInfo, Title: "Welcome", Round: 0},
			{ID: "rd1-brief", Category: content.CategoryInfo, Title: "Round 1 Briefing", Round: 1},
			{ID: "rd1-invest-slide", Category: content.CategoryInteractive, Title: "Round 1 Investments", Round: 1, DecisionKey: "rd1-invest"},
			{ID: "rd1-interlude", Category: content.CategoryInfo, Title: "Interlude", Round: 1},
			{ID: "rd1-results", Category: content.CategoryConsequence, Title: "Round 1 Results", Round: 1},
			{ID: "rd2-brief", Category: content.CategoryInfo, Title: "Round 2 Briefing", Round: 2},
		},
		Investments: []content.InvestmentOption{
			{ID: "marketing", Name: "Marketing Campaign", Cost: 20000, RevenueBonus: 15000, ScoreBonus: 10},
			{ID: "hiring", Name: "New Hires", Cost: 15000, RevenueBonus: 8000, ScoreBonus: 5},
		},
		Challenges: []content.ChallengeCard{
			{ID: "supply-shock", Name: "Supply Chain Shock", CapitalDelta: -12000, ScoreDelta: -5},
		},
	}
}

// fakeStore is the in-memory stand-in for the durable store. Error
// injection fields let tests exercise failure paths.
type fakeStore struct {
	mu sync.Mutex

	nextSessionID  uint
	nextTeamID     uint
	nextDecisionID uint
	nextRoundID    uint

	sessions  map[uint]models.Session
	teams     map[uint]models.Team
	decisions map[uint]models.TeamDecision
	rounds    map[uint]models.TeamRoundData

	sessionErr         error
	updateErr          error
	decisionsErr       error
	createTeamFailOn   int // fail the nth CreateTeam call (1-based), 0 = never
	createTeamAttempts int

	onUpdate func(fields map[string]interface{})
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:  make(map[uint]models.Session),
		teams:     make(map[uint]models.Team),
		decisions: make(map[uint]models.TeamDecision),
		rounds:    make(map[uint]models.TeamRoundData),
	}
}

var _ store.Store = (*fakeStore)(nil)

func (f *fakeStore) CreateSession(ctx context.Context, session *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSessionID++
	session.ID = f.nextSessionID
	f.sessions[session.ID] = *session
	return nil
}

func (f *fakeStore) GetSession(ctx context.Context, id uint) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	session, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %d: %w", id, store.ErrNotFound)
	}
	return &session, nil
}

func (f *fakeStore) GetSessionsByHost(ctx context.Context, hostID uint) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Session
	for _, session := range f.sessions {
		if session.HostID == hostID {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpdateSession(ctx context.Context, id uint, fields map[string]interface{}) (*models.Session, error) {
	f.mu.Lock()
	if f.updateErr != nil {
		err := f.updateErr
		hook := f.onUpdate
		f.mu.Unlock()
		if hook != nil {
			hook(fields)
		}
		return nil, err
	}
	session, ok := f.sessions[id]
	if !ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("session %d: %w", id, store.ErrNotFound)
	}

	for key, value := range fields {
		switch key {
		case "name":
			session.Name = value.(string)
		case "class_name":
			session.ClassName = value.(string)
		case "grade":
			session.Grade = value.(string)
		case "version":
			session.Version = value.(string)
		case "status":
			session.Status = value.(string)
		case "current_slide_index":
			session.CurrentSlideIndex = value.(int)
		case "is_playing":
			session.IsPlaying = value.(bool)
		case "is_complete":
			session.IsComplete = value.(bool)
		case "host_notes":
			if value == nil {
				session.HostNotes = nil
			} else {
				session.HostNotes = value.(models.JSONMap)
			}
		case "wizard_state":
			if value == nil {
				session.WizardState = nil
			} else {
				session.WizardState = value.(models.JSONMap)
			}
		default:
			f.mu.Unlock()
			return nil, fmt.Errorf("fakeStore: unsupported field %q", key)
		}
	}
	f.sessions[id] = session
	hook := f.onUpdate
	f.mu.Unlock()

	if hook != nil {
		hook(fields)
	}
	return &session, nil
}

func (f *fakeStore) DeleteSession(ctx context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

func (f *fakeStore) CreateTeam(ctx context.Context, team *models.Team) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createTeamAttempts++
	if f.createTeamFailOn > 0 && f.createTeamAttempts == f.createTeamFailOn {
		return fmt.Errorf("fakeStore: create team failed")
	}
	f.nextTeamID++
	team.ID = f.nextTeamID
	f.teams[team.ID] = *team
	return nil
}

func (f *fakeStore) GetTeam(ctx context.Context, id uint) (*models.Team, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	team, ok := f.teams[id]
	if !ok {
		return nil, fmt.Errorf("team %d: %w", id, store.ErrNotFound)
	}
	return &team, nil
}

func (f *fakeStore) GetTeams(ctx context.Context, sessionID uint) ([]models.Team, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Team
	for _, team := range f.teams {
		if team.SessionID == sessionID {
			out = append(out, team)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpsertDecision(ctx context.Context, decision *models.TeamDecision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, existing := range f.decisions {
		if existing.SessionID == decision.SessionID &&
			existing.TeamID == decision.TeamID &&
			existing.PhaseID == decision.PhaseID {
			decision.ID = id
			f.decisions[id] = *decision
			return nil
		}
	}
	f.nextDecisionID++
	decision.ID = f.nextDecisionID
	f.decisions[decision.ID] = *decision
	return nil
}

func (f *fakeStore) GetDecisions(ctx context.Context, sessionID uint) ([]models.TeamDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decisionsErr != nil {
		return nil, f.decisionsErr
	}
	var out []models.TeamDecision
	for _, decision := range f.decisions {
		if decision.SessionID == sessionID {
			out = append(out, decision)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) DeleteDecision(ctx context.Context, sessionID, teamID uint, phaseID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, decision := range f.decisions {
		if decision.SessionID == sessionID && decision.TeamID == teamID && decision.PhaseID == phaseID {
			delete(f.decisions, id)
			return nil
		}
	}
	return nil
}

func (f *fakeStore) UpsertRoundData(ctx context.Context, data *models.TeamRoundData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, existing := range f.rounds {
		if existing.SessionID == data.SessionID &&
			existing.TeamID == data.TeamID &&
			existing.Round == data.Round {
			data.ID = id
			f.rounds[id] = *data
			return nil
		}
	}
	f.nextRoundID++
	data.ID = f.nextRoundID
	f.rounds[data.ID] = *data
	return nil
}

func (f *fakeStore) GetRoundData(ctx context.Context, sessionID uint) ([]models.TeamRoundData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.TeamRoundData
	for _, row := range f.rounds {
		if row.SessionID == sessionID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) DeleteRoundData(ctx context.Context, sessionID, teamID uint, round int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, row := range f.rounds {
		if row.SessionID == sessionID && row.TeamID == teamID && row.Round == round {
			delete(f.rounds, id)
			return nil
		}
	}
	return nil
}

// fakeFeed delivers published events synchronously to subscribers,
// which keeps feed-driven tests deterministic.
type fakeFeed struct {
	mu       sync.Mutex
	handlers map[uint][]func(feed.Event)
	events   []feed.Event
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{handlers: make(map[uint][]func(feed.Event))}
}

var _ feed.Feed = (*fakeFeed)(nil)

func (f *fakeFeed) Publish(ctx context.Context, ev feed.Event) error {
	f.mu.Lock()
	f.events = append(f.events, ev)
	handlers := append([]func(feed.Event){}, f.handlers[ev.SessionID]...)
	f.mu.Unlock()

	for _, handler := range handlers {
		handler(ev)
	}
	return nil
}

func (f *fakeFeed) Subscribe(ctx context.Context, sessionID uint, handler func(feed.Event)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[sessionID] = append(f.handlers[sessionID], handler)
	return func() {}, nil
}

// fakeFinalizer and fakeConsequence record invocations and can be
// primed to fail.
type fakeFinalizer struct {
	mu    sync.Mutex
	calls int
	err   error
	fn    func(ctx context.Context, session *models.Session, slide content.Slide) error
}

func (f *fakeFinalizer) Process(ctx context.Context, session *models.Session, slide content.Slide) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, session, slide)
	}
	return f.err
}

func (f *fakeFinalizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeConsequence struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeConsequence) Process(ctx context.Context, session *models.Session, slide content.Slide) error {
	f.mu.Lock()
	f.calls = append(f.calls, slide.ID)
	f.mu.Unlock()
	return f.err
}

func (f *fakeConsequence) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// memViewCache is an in-memory ViewCache.
type memViewCache struct {
	mu    sync.Mutex
	views map[uint]*SessionView
}

func newMemViewCache() *memViewCache {
	return &memViewCache{views: make(map[uint]*SessionView)}
}

func (c *memViewCache) StoreView(ctx context.Context, view *SessionView) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[view.SessionID] = view
	return nil
}

func (c *memViewCache) GetView(ctx context.Context, sessionID uint) (*SessionView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	view, ok := c.views[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return view, nil
}

// seedSession inserts an active session against the test deck.
func seedSession(st *fakeStore, index int) *models.Session {
	session := &models.Session{
		HostID:            1,
		DeckID:            "test-deck",
		Name:              "Seeded Session",
		Status:            models.SessionStatusActive,
		CurrentSlideIndex: index,
		HostNotes:         models.JSONMap{},
	}
	st.CreateSession(context.Background(), session)
	return session
}

func seedTeam(st *fakeStore, sessionID uint, name, passcode string) *models.Team {
	team := &models.Team{SessionID: sessionID, Name: name, Passcode: passcode}
	st.CreateTeam(context.Background(), team)
	return team
}

func newTestSessions(st *fakeStore) *SessionService {
	return NewSessionService(st, content.NewLibrary(testDeck()), testLogger())
}

func newTestOrchestrator(st *fakeStore, finalizer InteractiveFinalizer, consequences ConsequenceProcessor) *Orchestrator {
	return NewOrchestrator(newTestSessions(st), finalizer, consequences, newMemViewCache(), nil, testLogger())
}
