package services

import (
	"context"
	"strconv"
	"sync"

	"simboard/feed"
	"simboard/store"

	"github.com/sirupsen/logrus"
)

// Runtime is the in-process handle for one running session: its
// orchestrator, its team-data projection and its live feed
// subscription. One Runtime exists per session per process.
type Runtime struct {
	SessionID    uint
	Orchestrator *Orchestrator
	Reconciler   *TeamReconciler

	registry   *Registry
	cancelFeed func()
}

// Registry hands out session runtimes. Orchestrators are explicitly
// constructed per session context instead of living in a process-wide
// singleton, so sessions never bleed state into each other.
type Registry struct {
	sessions     *SessionService
	decisions    *DecisionService
	store        store.Store
	feed         feed.Feed
	finalizer    InteractiveFinalizer
	consequences ConsequenceProcessor
	views        ViewCache
	broadcast    Broadcaster
	log          *logrus.Logger

	mu       sync.Mutex
	runtimes map[uint]*Runtime
}

func NewRegistry(
	sessions *SessionService,
	decisions *DecisionService,
	st store.Store,
	fd feed.Feed,
	finalizer InteractiveFinalizer,
	consequences ConsequenceProcessor,
	views ViewCache,
	broadcast Broadcaster,
	log *logrus.Logger,
) *Registry {
	return &Registry{
		sessions:     sessions,
		decisions:    decisions,
		store:        st,
		feed:         fd,
		finalizer:    finalizer,
		consequences: consequences,
		views:        views,
		broadcast:    broadcast,
		log:          log,
		runtimes:     make(map[uint]*Runtime),
	}
}

// Get returns the session's runtime, building it on first use: the
// orchestrator loads the session, the reconciler does its initial
// loads and the feed subscription starts delivering into it.
func (g *Registry) Get(ctx context.Context, sessionID uint) (*Runtime, error) {
	g.mu.Lock()
	if rt, ok := g.runtimes[sessionID]; ok {
		g.mu.Unlock()
		return rt, nil
	}
	g.mu.Unlock()

	orch := NewOrchestrator(g.sessions, g.finalizer, g.consequences, g.views, g.broadcast, g.log)
	if err := orch.LoadSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rec := NewTeamReconciler(g.store, g.log)
	raw := strconv.FormatUint(uint64(sessionID), 10)
	rec.LoadTeams(ctx, raw)
	rec.LoadDecisions(ctx, raw)
	rec.LoadRoundData(ctx, raw)

	rt := &Runtime{
		SessionID:    sessionID,
		Orchestrator: orch,
		Reconciler:   rec,
		registry:     g,
	}

	// The feed outlives the request that created the runtime.
	cancel, err := g.feed.Subscribe(context.Background(), sessionID, rt.onFeedEvent)
	if err != nil {
		return nil, err
	}
	rt.cancelFeed = cancel

	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.runtimes[sessionID]; ok {
		// Lost the race against a concurrent Get; keep theirs.
		cancel()
		return existing, nil
	}
	g.runtimes[sessionID] = rt
	return rt, nil
}

// Close tears down one session's runtime and its feed subscription.
func (g *Registry) Close(sessionID uint) {
	g.mu.Lock()
	rt, ok := g.runtimes[sessionID]
	delete(g.runtimes, sessionID)
	g.mu.Unlock()

	if ok && rt.cancelFeed != nil {
		rt.cancelFeed()
	}
}

// CloseAll tears down every runtime, for shutdown.
func (g *Registry) CloseAll() {
	g.mu.Lock()
	runtimes := g.runtimes
	g.runtimes = make(map[uint]*Runtime)
	g.mu.Unlock()

	for _, rt := range runtimes {
		if rt.cancelFeed != nil {
			rt.cancelFeed()
		}
	}
}

// onFeedEvent runs on the feed's goroutine, independent of host
// actions. It folds the event into the projection, fans the change
// out to clients, and re-derives the all-submitted signal for the
// current slide.
func (rt *Runtime) onFeedEvent(ev feed.Event) {
	ctx := context.Background()
	rt.Reconciler.ApplyFeedEvent(ctx, ev)

	if rt.registry.broadcast != nil {
		rt.registry.broadcast.BroadcastToSession(rt.SessionID, "team_data_update", map[string]interface{}{
			"table": ev.Table,
			"kind":  ev.Kind,
		})
	}

	if ev.Table != feed.TableDecisions {
		return
	}
	slide, ok := rt.Orchestrator.CurrentSlide()
	if !ok || slide.DecisionKey == "" {
		return
	}
	all, err := rt.registry.decisions.AllSubmitted(ctx, rt.SessionID, slide.DecisionKey)
	if err != nil {
		rt.registry.log.WithError(err).Warn("failed to derive all-submitted signal")
		return
	}
	rt.Orchestrator.HandleAllSubmitted(ctx, all)
}
