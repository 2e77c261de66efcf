package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"simboard/feed"
	"simboard/models"
	"simboard/store"

	"github.com/sirupsen/logrus"
)

// TeamReconciler projects a session's team decisions and round
// results out of the durable store and keeps the projection aligned
// with the change feed. Feed callbacks interleave freely with host
// actions; the maps they touch are disjoint from the slide pointer.
//
// Reconciliation policy differs per table. Decisions are low
// frequency and need referential correctness across phase keys, so
// any decisions event triggers a full reload. Round data is a flat
// snapshot written at higher frequency, so its events patch the
// (team, round) slot directly.
type TeamReconciler struct {
	store store.Store
	log   *logrus.Logger

	mu        sync.RWMutex
	sessionID uint
	teams     []models.Team
	// decisions keyed by team id, then phase id. Phase keys are
	// exact: "rd1-invest" and "rd1-invest-immediate" are independent
	// entries.
	decisions map[uint]map[string]models.TeamDecision
	rounds    map[uint]map[int]models.TeamRoundData

	teamsLoading     bool
	decisionsLoading bool
	roundsLoading    bool
	teamsErr         string
	decisionsErr     string
	roundsErr        string
}

func NewTeamReconciler(st store.Store, log *logrus.Logger) *TeamReconciler {
	return &TeamReconciler{
		store:     st,
		log:       log,
		decisions: make(map[uint]map[string]models.TeamDecision),
		rounds:    make(map[uint]map[int]models.TeamRoundData),
	}
}

// LoadTeams refreshes the team list. An absent or "unsaved" session
// id clears the projection instead of failing.
func (r *TeamReconciler) LoadTeams(ctx context.Context, rawSessionID string) error {
	sessionID, err := ParseSessionID(rawSessionID)
	if err != nil {
		r.mu.Lock()
		r.teams = nil
		r.teamsErr = ""
		r.mu.Unlock()
		return nil
	}

	r.mu.Lock()
	r.sessionID = sessionID
	r.teamsLoading = true
	r.mu.Unlock()

	teams, err := r.store.GetTeams(ctx, sessionID)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.teamsLoading = false
	if err != nil {
		r.teams = nil
		r.teamsErr = err.Error()
		return nil
	}
	r.teams = teams
	r.teamsErr = ""
	return nil
}

// LoadDecisions fully refreshes the decision projection.
func (r *TeamReconciler) LoadDecisions(ctx context.Context, rawSessionID string) error {
	sessionID, err := ParseSessionID(rawSessionID)
	if err != nil {
		r.mu.Lock()
		r.decisions = make(map[uint]map[string]models.TeamDecision)
		r.decisionsErr = ""
		r.mu.Unlock()
		return nil
	}

	r.mu.Lock()
	r.sessionID = sessionID
	r.decisionsLoading = true
	r.mu.Unlock()

	rows, err := r.store.GetDecisions(ctx, sessionID)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisionsLoading = false
	if err != nil {
		r.decisions = make(map[uint]map[string]models.TeamDecision)
		r.decisionsErr = err.Error()
		return nil
	}

	decisions := make(map[uint]map[string]models.TeamDecision)
	for _, row := range rows {
		if decisions[row.TeamID] == nil {
			decisions[row.TeamID] = make(map[string]models.TeamDecision)
		}
		decisions[row.TeamID][row.PhaseID] = row
	}
	r.decisions = decisions
	r.decisionsErr = ""
	return nil
}

// LoadRoundData fully refreshes the round-data projection.
func (r *TeamReconciler) LoadRoundData(ctx context.Context, rawSessionID string) error {
	sessionID, err := ParseSessionID(rawSessionID)
	if err != nil {
		r.mu.Lock()
		r.rounds = make(map[uint]map[int]models.TeamRoundData)
		r.roundsErr = ""
		r.mu.Unlock()
		return nil
	}

	r.mu.Lock()
	r.sessionID = sessionID
	r.roundsLoading = true
	r.mu.Unlock()

	rows, err := r.store.GetRoundData(ctx, sessionID)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.roundsLoading = false
	if err != nil {
		r.rounds = make(map[uint]map[int]models.TeamRoundData)
		r.roundsErr = err.Error()
		return nil
	}

	rounds := make(map[uint]map[int]models.TeamRoundData)
	for _, row := range rows {
		if rounds[row.TeamID] == nil {
			rounds[row.TeamID] = make(map[int]models.TeamRoundData)
		}
		rounds[row.TeamID][row.Round] = row
	}
	r.rounds = rounds
	r.roundsErr = ""
	return nil
}

// ResetDecision deletes exactly the decision at (team, phase). Rows
// under any other phase id, including a same-round immediate
// purchase, are untouched. Missing identifiers are precondition
// violations, not transient faults. After the delete, the projection
// entry is pruned and a full reload reconciles against the store in
// case of concurrent writers.
func (r *TeamReconciler) ResetDecision(ctx context.Context, rawSessionID string, teamID uint, phaseID string) error {
	if rawSessionID == "" || rawSessionID == models.SessionUnsaved {
		return fmt.Errorf("%w: session id is required", ErrPrecondition)
	}
	if teamID == 0 {
		return fmt.Errorf("%w: team id is required", ErrPrecondition)
	}
	if phaseID == "" {
		return fmt.Errorf("%w: phase id is required", ErrPrecondition)
	}
	sessionID, err := ParseSessionID(rawSessionID)
	if err != nil {
		return err
	}

	if err := r.store.DeleteDecision(ctx, sessionID, teamID, phaseID); err != nil {
		return fmt.Errorf("failed to delete decision: %w", err)
	}

	r.mu.Lock()
	if _, ok := r.decisions[teamID][phaseID]; ok {
		next := cloneDecisions(r.decisions)
		delete(next[teamID], phaseID)
		if len(next[teamID]) == 0 {
			delete(next, teamID)
		}
		r.decisions = next
	}
	r.mu.Unlock()

	return r.LoadDecisions(ctx, rawSessionID)
}

// ApplyFeedEvent folds one change-feed event into the projection.
// Duplicates and reordering are routine: decisions events always
// reload, round-data patches are keyed upserts/deletes where a
// duplicate delete of an absent slot is a no-op.
func (r *TeamReconciler) ApplyFeedEvent(ctx context.Context, ev feed.Event) {
	switch ev.Table {
	case feed.TableDecisions:
		if err := r.LoadDecisions(ctx, fmt.Sprintf("%d", ev.SessionID)); err != nil {
			r.log.WithError(err).Warn("failed to reload decisions after feed event")
		}
	case feed.TableRoundData:
		r.applyRoundEvent(ev)
	default:
		r.log.WithField("table", ev.Table).Debug("ignoring feed event for unknown table")
	}
}

func (r *TeamReconciler) applyRoundEvent(ev feed.Event) {
	switch ev.Kind {
	case feed.KindInsert, feed.KindUpdate:
		var row models.TeamRoundData
		if err := json.Unmarshal(ev.New, &row); err != nil {
			r.log.WithError(err).Warn("dropping malformed round-data event")
			return
		}
		r.mu.Lock()
		next := cloneRounds(r.rounds)
		if next[row.TeamID] == nil {
			next[row.TeamID] = make(map[int]models.TeamRoundData)
		}
		next[row.TeamID][row.Round] = row
		r.rounds = next
		r.mu.Unlock()

	case feed.KindDelete:
		var row models.TeamRoundData
		if err := json.Unmarshal(ev.Old, &row); err != nil {
			r.log.WithError(err).Warn("dropping malformed round-data delete event")
			return
		}
		r.mu.Lock()
		if _, ok := r.rounds[row.TeamID][row.Round]; ok {
			next := cloneRounds(r.rounds)
			delete(next[row.TeamID], row.Round)
			if len(next[row.TeamID]) == 0 {
				delete(next, row.TeamID)
			}
			r.rounds = next
		}
		r.mu.Unlock()
	}
}

// Teams returns the current team list.
func (r *TeamReconciler) Teams() []models.Team {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Team, len(r.teams))
	copy(out, r.teams)
	return out
}

// Decisions returns a snapshot of the decision projection. The inner
// maps are shared copy-on-write state; callers must not mutate them.
func (r *TeamReconciler) Decisions() map[uint]map[string]models.TeamDecision {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uint]map[string]models.TeamDecision, len(r.decisions))
	for team, phases := range r.decisions {
		out[team] = phases
	}
	return out
}

// RoundData returns a snapshot of the round-data projection.
func (r *TeamReconciler) RoundData() map[uint]map[int]models.TeamRoundData {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uint]map[int]models.TeamRoundData, len(r.rounds))
	for team, rounds := range r.rounds {
		out[team] = rounds
	}
	return out
}

// Decision looks up one (team, phase) entry.
func (r *TeamReconciler) Decision(teamID uint, phaseID string) (models.TeamDecision, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decisions[teamID][phaseID]
	return d, ok
}

// Errors reports the per-collection soft error strings (empty when
// the last load succeeded).
func (r *TeamReconciler) Errors() (teams, decisions, rounds string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.teamsErr, r.decisionsErr, r.roundsErr
}

// cloneDecisions copies the outer map and each inner phase map, so
// snapshots handed out earlier stay stable.
func cloneDecisions(in map[uint]map[string]models.TeamDecision) map[uint]map[string]models.TeamDecision {
	out := make(map[uint]map[string]models.TeamDecision, len(in))
	for team, phases := range in {
		inner := make(map[string]models.TeamDecision, len(phases))
		for phase, d := range phases {
			inner[phase] = d
		}
		out[team] = inner
	}
	return out
}

func cloneRounds(in map[uint]map[int]models.TeamRoundData) map[uint]map[int]models.TeamRoundData {
	out := make(map[uint]map[int]models.TeamRoundData, len(in))
	for team, rounds := range in {
		inner := make(map[int]models.TeamRoundData, len(rounds))
		for round, d := range rounds {
			inner[round] = d
		}
		out[team] = inner
	}
	return out
}
