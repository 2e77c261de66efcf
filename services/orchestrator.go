package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"simboard/content"
	"simboard/models"

	"github.com/sirupsen/logrus"
)

// InteractiveFinalizer settles team input for an interactive slide
// before the host may advance past it. Side effects (scoring,
// persisting final choices) are the finalizer's responsibility; the
// orchestrator only gates navigation on the outcome.
type InteractiveFinalizer interface {
	Process(ctx context.Context, session *models.Session, slide content.Slide) error
}

// ConsequenceProcessor computes the outcomes a consequence slide
// triggers. The orchestrator guarantees at most one invocation per
// slide per session load; the processor need not be idempotent.
type ConsequenceProcessor interface {
	Process(ctx context.Context, session *models.Session, slide content.Slide) error
}

// Broadcaster fans a message out to every client watching a session.
type Broadcaster interface {
	BroadcastToSession(sessionID uint, messageType string, payload interface{})
}

// Host alert kinds.
const (
	AlertError        = "error"
	AlertAllSubmitted = "all_submitted"
)

// HostAlert is the single pending host-facing alert.
type HostAlert struct {
	Kind       string `json:"kind"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	SlideIndex int    `json:"slide_index"`
}

// Orchestrator drives one session's slide pointer. There is exactly
// one instance per running session (handed out by the Registry), and
// navigation calls are serialized: a call that arrives while another
// is in flight is rejected, not queued.
type Orchestrator struct {
	sessions     *SessionService
	finalizer    InteractiveFinalizer
	consequences ConsequenceProcessor
	views        ViewCache
	broadcast    Broadcaster
	log          *logrus.Logger

	mu          sync.Mutex
	session     *models.Session
	deck        *content.Deck
	navInFlight bool
	// processed holds consequence slide ids already handled in this
	// orchestrator's lifetime; cleared when the session identity
	// changes since slide ids are only unique within a deck instance.
	processed           map[string]bool
	alert               *HostAlert
	alertDismissedSlide int
}

func NewOrchestrator(
	sessions *SessionService,
	finalizer InteractiveFinalizer,
	consequences ConsequenceProcessor,
	views ViewCache,
	broadcast Broadcaster,
	log *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		sessions:            sessions,
		finalizer:           finalizer,
		consequences:        consequences,
		views:               views,
		broadcast:           broadcast,
		log:                 log,
		processed:           make(map[string]bool),
		alertDismissedSlide: -1,
	}
}

// LoadSession points the orchestrator at a session. Loading a
// different session resets the processed-consequence set and any
// pending alert.
func (o *Orchestrator) LoadSession(ctx context.Context, sessionID uint) error {
	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	deck, err := o.sessions.Deck(session.DeckID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if o.session == nil || o.session.ID != sessionID {
		o.processed = make(map[string]bool)
		o.alert = nil
		o.alertDismissedSlide = -1
	}
	o.session = session
	o.deck = deck
	o.mu.Unlock()

	o.EvaluateSlide(ctx)
	o.syncView(ctx)
	return nil
}

// Session returns the cached session record.
func (o *Orchestrator) Session() *models.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// CurrentSlide returns the slide the session pointer sits on.
func (o *Orchestrator) CurrentSlide() (content.Slide, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil || o.deck == nil {
		return content.Slide{}, false
	}
	return o.deck.SlideAt(o.session.CurrentSlideIndex)
}

// Alert returns the pending host alert, if any.
func (o *Orchestrator) Alert() *HostAlert {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.alert
}

// Advance moves one slide forward, clamped to the last slide. If the
// current slide is interactive and carries a decision key, the
// finalizer runs first; a finalizer failure raises an alert and
// leaves the index unchanged.
func (o *Orchestrator) Advance(ctx context.Context) error {
	if err := o.beginNav(); err != nil {
		return err
	}
	defer o.endNav()

	o.mu.Lock()
	session, deck := o.session, o.deck
	o.mu.Unlock()
	if session == nil {
		return fmt.Errorf("%w: no session loaded", ErrPrecondition)
	}

	if slide, ok := deck.SlideAt(session.CurrentSlideIndex); ok &&
		slide.Category == content.CategoryInteractive && slide.DecisionKey != "" {
		if err := o.finalizer.Process(ctx, session, slide); err != nil {
			o.raiseAlert(ctx, &HostAlert{
				Kind:       AlertError,
				Title:      "Could not process team submissions",
				Message:    err.Error(),
				SlideIndex: session.CurrentSlideIndex,
			})
			return fmt.Errorf("interactive slide finalization failed: %w", err)
		}
	}

	next := session.CurrentSlideIndex + 1
	if next > len(deck.Slides)-1 {
		next = len(deck.Slides) - 1
	}
	return o.moveTo(ctx, next)
}

// Retreat moves one slide back, clamped to zero. Going back never
// reprocesses anything.
func (o *Orchestrator) Retreat(ctx context.Context) error {
	if err := o.beginNav(); err != nil {
		return err
	}
	defer o.endNav()

	o.mu.Lock()
	session := o.session
	o.mu.Unlock()
	if session == nil {
		return fmt.Errorf("%w: no session loaded", ErrPrecondition)
	}

	prev := session.CurrentSlideIndex - 1
	if prev < 0 {
		prev = 0
	}
	return o.moveTo(ctx, prev)
}

// JumpTo sets the pointer directly, for host free navigation. Out of
// range targets are rejected without mutating the session.
func (o *Orchestrator) JumpTo(ctx context.Context, target int) error {
	if err := o.beginNav(); err != nil {
		return err
	}
	defer o.endNav()

	o.mu.Lock()
	session, deck := o.session, o.deck
	o.mu.Unlock()
	if session == nil {
		return fmt.Errorf("%w: no session loaded", ErrPrecondition)
	}
	if target < 0 || target >= len(deck.Slides) {
		return fmt.Errorf("%w: slide index %d out of range", ErrPrecondition, target)
	}
	return o.moveTo(ctx, target)
}

func (o *Orchestrator) moveTo(ctx context.Context, index int) error {
	o.mu.Lock()
	id := o.session.ID
	o.mu.Unlock()

	updated, err := o.sessions.Patch(ctx, id, map[string]interface{}{"current_slide_index": index})
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.session = updated
	o.alertDismissedSlide = -1
	if o.alert != nil && o.alert.Kind == AlertAllSubmitted && o.alert.SlideIndex != index {
		o.alert = nil
	}
	o.mu.Unlock()

	o.EvaluateSlide(ctx)
	o.syncView(ctx)
	return nil
}

// EvaluateSlide runs consequence auto-processing for the current
// slide. Safe to call repeatedly (navigation, reconnects, polling):
// each consequence slide fires at most once per session load. The
// processed mark is set before the processor runs, so a concurrent
// re-evaluation cannot trigger a second invocation; on failure the
// mark is rolled back and the next evaluation retries.
func (o *Orchestrator) EvaluateSlide(ctx context.Context) {
	o.mu.Lock()
	session, deck := o.session, o.deck
	if session == nil || deck == nil {
		o.mu.Unlock()
		return
	}
	slide, ok := deck.SlideAt(session.CurrentSlideIndex)
	if !ok || slide.Category != content.CategoryConsequence || o.processed[slide.ID] {
		o.mu.Unlock()
		return
	}
	o.processed[slide.ID] = true
	o.mu.Unlock()

	if err := o.consequences.Process(ctx, session, slide); err != nil {
		o.mu.Lock()
		delete(o.processed, slide.ID)
		o.mu.Unlock()

		o.log.WithError(err).WithFields(logrus.Fields{
			"session_id": session.ID,
			"slide_id":   slide.ID,
		}).Error("consequence processing failed")
		o.raiseAlert(ctx, &HostAlert{
			Kind:       AlertError,
			Title:      "Consequence processing failed",
			Message:    err.Error(),
			SlideIndex: session.CurrentSlideIndex,
		})
	}
}

// HandleAllSubmitted raises the standing "all teams submitted" alert
// when the signal turns true for a decision slide, unless an alert is
// already showing or this slide's alert was already dismissed.
func (o *Orchestrator) HandleAllSubmitted(ctx context.Context, allSubmitted bool) {
	o.mu.Lock()
	if !allSubmitted || o.session == nil || o.deck == nil {
		o.mu.Unlock()
		return
	}
	index := o.session.CurrentSlideIndex
	slide, ok := o.deck.SlideAt(index)
	if !ok || slide.DecisionKey == "" || o.alert != nil || o.alertDismissedSlide == index {
		o.mu.Unlock()
		return
	}
	alert := &HostAlert{
		Kind:       AlertAllSubmitted,
		Title:      "All teams have submitted",
		Message:    "Every team has submitted for this slide. Ready to move on?",
		SlideIndex: index,
	}
	o.alert = alert
	sessionID := o.session.ID
	o.mu.Unlock()

	o.notify(sessionID, "host_alert", alert)
	o.syncView(ctx)
}

// DismissAlert clears the pending alert. Dismissing the all-submitted
// alert for the current slide also advances one slide as a
// convenience, and the alert stays dismissed until the slide changes.
func (o *Orchestrator) DismissAlert(ctx context.Context) error {
	o.mu.Lock()
	alert := o.alert
	o.alert = nil
	autoAdvance := false
	if alert != nil && alert.Kind == AlertAllSubmitted &&
		o.session != nil && alert.SlideIndex == o.session.CurrentSlideIndex {
		o.alertDismissedSlide = o.session.CurrentSlideIndex
		autoAdvance = true
	}
	o.mu.Unlock()

	if autoAdvance {
		return o.Advance(ctx)
	}
	o.syncView(ctx)
	return nil
}

// UpdateHostNotes records the host's note for the current slide in
// memory and persists it in the background. A persistence failure is
// logged; the optimistic in-memory value stands until an
// authoritative reload says otherwise.
func (o *Orchestrator) UpdateHostNotes(ctx context.Context, text string) error {
	o.mu.Lock()
	if o.session == nil {
		o.mu.Unlock()
		return fmt.Errorf("%w: no session loaded", ErrPrecondition)
	}
	notes := models.JSONMap{}
	for k, v := range o.session.HostNotes {
		notes[k] = v
	}
	notes[strconv.Itoa(o.session.CurrentSlideIndex)] = text
	o.session.HostNotes = notes
	sessionID := o.session.ID
	o.mu.Unlock()

	go func() {
		if _, err := o.sessions.Patch(context.Background(), sessionID, map[string]interface{}{"host_notes": notes}); err != nil {
			o.log.WithError(err).WithField("session_id", sessionID).Warn("failed to persist host notes")
		}
	}()
	return nil
}

// SetPlaying persists the play/pause flag.
func (o *Orchestrator) SetPlaying(ctx context.Context, playing bool) error {
	o.mu.Lock()
	if o.session == nil {
		o.mu.Unlock()
		return fmt.Errorf("%w: no session loaded", ErrPrecondition)
	}
	sessionID := o.session.ID
	o.mu.Unlock()

	updated, err := o.sessions.Patch(ctx, sessionID, map[string]interface{}{"is_playing": playing})
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.session = updated
	o.mu.Unlock()

	o.syncView(ctx)
	return nil
}

func (o *Orchestrator) beginNav() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.navInFlight {
		return ErrNavigationInFlight
	}
	o.navInFlight = true
	return nil
}

func (o *Orchestrator) endNav() {
	o.mu.Lock()
	o.navInFlight = false
	o.mu.Unlock()
}

func (o *Orchestrator) raiseAlert(ctx context.Context, alert *HostAlert) {
	o.mu.Lock()
	o.alert = alert
	var sessionID uint
	if o.session != nil {
		sessionID = o.session.ID
	}
	o.mu.Unlock()

	o.notify(sessionID, "host_alert", alert)
	o.syncView(ctx)
}

func (o *Orchestrator) notify(sessionID uint, messageType string, payload interface{}) {
	if o.broadcast == nil || sessionID == 0 {
		return
	}
	o.broadcast.BroadcastToSession(sessionID, messageType, payload)
}

// syncView mirrors the current state into the view cache and pushes
// it to connected clients.
func (o *Orchestrator) syncView(ctx context.Context) {
	o.mu.Lock()
	if o.session == nil || o.deck == nil {
		o.mu.Unlock()
		return
	}
	view := &SessionView{
		SessionID:         o.session.ID,
		Status:            o.session.Status,
		CurrentSlideIndex: o.session.CurrentSlideIndex,
		TotalSlides:       len(o.deck.Slides),
		IsPlaying:         o.session.IsPlaying,
		IsComplete:        o.session.IsComplete,
		Alert:             o.alert,
	}
	if slide, ok := o.deck.SlideAt(o.session.CurrentSlideIndex); ok {
		view.CurrentSlide = &slide
	}
	o.mu.Unlock()

	if o.views != nil {
		if err := o.views.StoreView(ctx, view); err != nil {
			o.log.WithError(err).WithField("session_id", view.SessionID).Warn("failed to cache session view")
		}
	}
	o.notify(view.SessionID, "session_view", view)
}
