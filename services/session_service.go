package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"time"

	"simboard/content"
	"simboard/models"
	"simboard/store"

	"github.com/sirupsen/logrus"
)

// SessionService owns the session lifecycle: draft creation, wizard
// progress, finalization with team provisioning, status transitions
// and reset.
type SessionService struct {
	store store.Store
	decks *content.Library
	log   *logrus.Logger
}

func NewSessionService(st store.Store, decks *content.Library, log *logrus.Logger) *SessionService {
	return &SessionService{store: st, decks: decks, log: log}
}

// TeamSpec describes one team to provision at finalization.
type TeamSpec struct {
	Name     string `json:"name" binding:"required"`
	Passcode string `json:"passcode" binding:"required"`
}

// FinalizeRequest carries the wizard's final payload. Either an
// explicit team list or a team count; with a count, teams get
// sequential letter names and random 4-digit passcodes.
type FinalizeRequest struct {
	Name      string     `json:"name"`
	ClassName string     `json:"class_name"`
	Grade     string     `json:"grade"`
	Version   string     `json:"version"`
	Teams     []TeamSpec `json:"teams"`
	NumTeams  int        `json:"num_teams"`
}

// SessionBuckets partitions a host's sessions by lifecycle stage.
type SessionBuckets struct {
	Draft     []models.Session `json:"draft"`
	Active    []models.Session `json:"active"`
	Completed []models.Session `json:"completed"`
}

// SessionStatus is the lightweight existence probe result. It never
// carries an error: a failed lookup reports Exists=false.
type SessionStatus struct {
	Exists       bool      `json:"exists"`
	Status       string    `json:"status,omitempty"`
	IsComplete   bool      `json:"is_complete"`
	CurrentPhase int       `json:"current_phase"`
	LastUpdated  time.Time `json:"last_updated,omitempty"`
}

// ParseSessionID turns a route parameter into a session id. The
// "unsaved" sentinel the wizard uses before first save is rejected
// explicitly.
func ParseSessionID(raw string) (uint, error) {
	if raw == "" || raw == models.SessionUnsaved {
		return 0, ErrUnsavedSession
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid session id %q", ErrPrecondition, raw)
	}
	return uint(id), nil
}

func (s *SessionService) Deck(deckID string) (*content.Deck, error) {
	deck, ok := s.decks.Deck(deckID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown deck %q", ErrPrecondition, deckID)
	}
	return deck, nil
}

// CreateDraft starts a new wizard-backed draft session against a deck.
func (s *SessionService) CreateDraft(ctx context.Context, hostID uint, deckID string) (*models.Session, error) {
	deck, err := s.Deck(deckID)
	if err != nil {
		return nil, err
	}
	if len(deck.Slides) == 0 {
		return nil, fmt.Errorf("%w: deck %q has no slides", ErrPrecondition, deckID)
	}

	session := &models.Session{
		HostID:      hostID,
		DeckID:      deckID,
		Status:      models.SessionStatusDraft,
		HostNotes:   models.JSONMap{},
		WizardState: models.JSONMap{},
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"host_id":    hostID,
		"deck_id":    deckID,
	}).Info("created draft session")

	return session, nil
}

// SaveWizardProgress merges a partial payload into the draft's wizard
// state.
func (s *SessionService) SaveWizardProgress(ctx context.Context, sessionID uint, partial models.JSONMap) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	merged := models.JSONMap{}
	for k, v := range session.WizardState {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}

	_, err = s.Patch(ctx, sessionID, map[string]interface{}{"wizard_state": merged})
	return err
}

// Finalize transitions a draft to active, clears the wizard state and
// provisions teams.
func (s *SessionService) Finalize(ctx context.Context, sessionID uint, req *FinalizeRequest) (*models.Session, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusDraft {
		return nil, fmt.Errorf("%w: session %d is not a draft", ErrPrecondition, sessionID)
	}

	updated, err := s.Patch(ctx, sessionID, map[string]interface{}{
		"name":         fallbackName(req.Name),
		"class_name":   req.ClassName,
		"grade":        req.Grade,
		"version":      req.Version,
		"status":       models.SessionStatusActive,
		"wizard_state": nil,
	})
	if err != nil {
		return nil, err
	}

	if err := s.provisionTeams(ctx, sessionID, req); err != nil {
		return nil, err
	}

	s.log.WithField("session_id", sessionID).Info("finalized session")
	return updated, nil
}

// CreateActive creates a session directly in the active state,
// skipping the draft phase. Same provisioning rules as Finalize.
func (s *SessionService) CreateActive(ctx context.Context, hostID uint, deckID string, req *FinalizeRequest) (*models.Session, error) {
	deck, err := s.Deck(deckID)
	if err != nil {
		return nil, err
	}
	if len(deck.Slides) == 0 {
		return nil, fmt.Errorf("%w: deck %q has no slides", ErrPrecondition, deckID)
	}

	session := &models.Session{
		HostID:    hostID,
		DeckID:    deckID,
		Name:      fallbackName(req.Name),
		ClassName: req.ClassName,
		Grade:     req.Grade,
		Version:   req.Version,
		Status:    models.SessionStatusActive,
		HostNotes: models.JSONMap{},
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if err := s.provisionTeams(ctx, session.ID, req); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SessionService) Get(ctx context.Context, sessionID uint) (*models.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

// Patch applies a partial field update.
func (s *SessionService) Patch(ctx context.Context, sessionID uint, fields map[string]interface{}) (*models.Session, error) {
	session, err := s.store.UpdateSession(ctx, sessionID, fields)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	return session, nil
}

// Update is Patch with the route-level id, rejecting the "unsaved"
// sentinel before touching the store.
func (s *SessionService) Update(ctx context.Context, rawID string, fields map[string]interface{}) (*models.Session, error) {
	id, err := ParseSessionID(rawID)
	if err != nil {
		return nil, err
	}
	return s.Patch(ctx, id, fields)
}

// ResetProgress rewinds a session to the first slide and re-opens it.
// Teams and their decisions are untouched; clearing those is the
// caller's call.
func (s *SessionService) ResetProgress(ctx context.Context, sessionID uint) (*models.Session, error) {
	return s.Patch(ctx, sessionID, map[string]interface{}{
		"current_slide_index": 0,
		"is_playing":          false,
		"is_complete":         false,
		"host_notes":          models.JSONMap{},
		"wizard_state":        nil,
		"status":              models.SessionStatusActive,
	})
}

// Complete marks a session finished. A later ResetProgress can
// re-open it for replay.
func (s *SessionService) Complete(ctx context.Context, sessionID uint) (*models.Session, error) {
	return s.Patch(ctx, sessionID, map[string]interface{}{
		"is_complete": true,
		"is_playing":  false,
		"status":      models.SessionStatusCompleted,
	})
}

func (s *SessionService) Delete(ctx context.Context, sessionID uint) error {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListForHost partitions the host's sessions by lifecycle stage.
// Legacy rows without a status field land in completed when their
// completion flag is set, otherwise in active.
func (s *SessionService) ListForHost(ctx context.Context, hostID uint) (*SessionBuckets, error) {
	sessions, err := s.store.GetSessionsByHost(ctx, hostID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	buckets := &SessionBuckets{
		Draft:     []models.Session{},
		Active:    []models.Session{},
		Completed: []models.Session{},
	}
	for _, session := range sessions {
		switch {
		case session.Status == models.SessionStatusCompleted || session.IsComplete:
			buckets.Completed = append(buckets.Completed, session)
		case session.Status == models.SessionStatusDraft:
			buckets.Draft = append(buckets.Draft, session)
		default:
			buckets.Active = append(buckets.Active, session)
		}
	}
	return buckets, nil
}

// Status is a best-effort existence probe. Any failure reports
// Exists=false instead of an error; do not use it on critical paths.
func (s *SessionService) Status(ctx context.Context, sessionID uint) SessionStatus {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return SessionStatus{Exists: false}
	}
	return SessionStatus{
		Exists:       true,
		Status:       session.Status,
		IsComplete:   session.IsComplete,
		CurrentPhase: session.CurrentSlideIndex,
		LastUpdated:  session.UpdatedAt,
	}
}

// provisionTeams creates the session's teams as an unordered batch.
// Not transactional: an error mid-batch leaves earlier teams in place.
func (s *SessionService) provisionTeams(ctx context.Context, sessionID uint, req *FinalizeRequest) error {
	specs := req.Teams
	if len(specs) == 0 && req.NumTeams > 0 {
		for i := 0; i < req.NumTeams; i++ {
			specs = append(specs, TeamSpec{Name: teamName(i), Passcode: generatePasscode()})
		}
	}

	for _, spec := range specs {
		team := &models.Team{
			SessionID: sessionID,
			Name:      spec.Name,
			Passcode:  spec.Passcode,
		}
		if err := s.store.CreateTeam(ctx, team); err != nil {
			return fmt.Errorf("failed to create team %q: %w", spec.Name, err)
		}
	}
	return nil
}

func fallbackName(name string) string {
	if name != "" {
		return name
	}
	return "Session " + time.Now().Format("Jan 2, 2006")
}

func teamName(i int) string {
	if i < 26 {
		return fmt.Sprintf("Team %c", 'A'+i)
	}
	return fmt.Sprintf("Team %d", i+1)
}

// generatePasscode draws an independent random 4-digit code per team.
// Collisions across teams are possible and not checked.
func generatePasscode() string {
	bytes := make([]byte, 2)
	rand.Read(bytes)
	n := (int(bytes[0])<<8 | int(bytes[1])) % 10000
	return fmt.Sprintf("%04d", n)
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
