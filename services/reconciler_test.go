package services

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"simboard/feed"
	"simboard/models"
)

func seedDecision(st *fakeStore, sessionID, teamID uint, phaseID string) models.TeamDecision {
	decision := models.TeamDecision{
		SessionID: sessionID,
		TeamID:    teamID,
		PhaseID:   phaseID,
		Payload:   models.JSONMap{"option_ids": []interface{}{"marketing"}},
	}
	st.UpsertDecision(context.Background(), &decision)
	return decision
}

func loadedReconciler(t *testing.T, st *fakeStore, sessionID uint) *TeamReconciler {
	t.Helper()
	rec := NewTeamReconciler(st, testLogger())
	raw := strconv.FormatUint(uint64(sessionID), 10)
	ctx := context.Background()
	if err := rec.LoadTeams(ctx, raw); err != nil {
		t.Fatalf("LoadTeams: %v", err)
	}
	if err := rec.LoadDecisions(ctx, raw); err != nil {
		t.Fatalf("LoadDecisions: %v", err)
	}
	if err := rec.LoadRoundData(ctx, raw); err != nil {
		t.Fatalf("LoadRoundData: %v", err)
	}
	return rec
}

func TestLoadProjections(t *testing.T) {
	st := newFakeStore()
	session := seedSession(st, 0)
	teamA := seedTeam(st, session.ID, "Team A", "1234")
	teamB := seedTeam(st, session.ID, "Team B", "5678")
	seedDecision(st, session.ID, teamA.ID, "rd1-invest")
	seedDecision(st, session.ID, teamB.ID, "rd1-invest")
	st.UpsertRoundData(context.Background(), &models.TeamRoundData{
		SessionID: session.ID, TeamID: teamA.ID, Round: 1, Capital: 95000,
	})

	rec := loadedReconciler(t, st, session.ID)

	if got := len(rec.Teams()); got != 2 {
		t.Errorf("teams = %d, want 2", got)
	}
	if _, ok := rec.Decision(teamA.ID, "rd1-invest"); !ok {
		t.Error("team A decision missing from projection")
	}
	if got := rec.RoundData()[teamA.ID][1].Capital; got != 95000 {
		t.Errorf("round data capital = %v, want 95000", got)
	}
}

func TestLoadClearsOnUnsavedSentinel(t *testing.T) {
	st := newFakeStore()
	session := seedSession(st, 0)
	team := seedTeam(st, session.ID, "Team A", "1234")
	seedDecision(st, session.ID, team.ID, "rd1-invest")
	rec := loadedReconciler(t, st, session.ID)
	ctx := context.Background()

	for _, raw := range []string{"", models.SessionUnsaved} {
		if err := rec.LoadTeams(ctx, raw); err != nil {
			t.Fatalf("LoadTeams(%q): %v", raw, err)
		}
		if err := rec.LoadDecisions(ctx, raw); err != nil {
			t.Fatalf("LoadDecisions(%q): %v", raw, err)
		}
		if len(rec.Teams()) != 0 || len(rec.Decisions()) != 0 {
			t.Errorf("sentinel %q should clear projections", raw)
		}
	}
}

func TestLoadFailureIsSoft(t *testing.T) {
	st := newFakeStore()
	session := seedSession(st, 0)
	team := seedTeam(st, session.ID, "Team A", "1234")
	seedDecision(st, session.ID, team.ID, "rd1-invest")
	rec := loadedReconciler(t, st, session.ID)
	ctx := context.Background()
	raw := strconv.FormatUint(uint64(session.ID), 10)

	st.decisionsErr = errors.New("connection reset")
	if err := rec.LoadDecisions(ctx, raw); err != nil {
		t.Fatalf("LoadDecisions should not surface a hard error, got %v", err)
	}
	if len(rec.Decisions()) != 0 {
		t.Error("failed load should clear the projection")
	}
	_, decisionsErr, _ := rec.Errors()
	if decisionsErr == "" {
		t.Error("failed load should record a soft error")
	}

	// Recovery clears the error.
	st.decisionsErr = nil
	rec.LoadDecisions(ctx, raw)
	if _, decisionsErr, _ := rec.Errors(); decisionsErr != "" {
		t.Errorf("soft error = %q, want cleared after recovery", decisionsErr)
	}
	if _, ok := rec.Decision(team.ID, "rd1-invest"); !ok {
		t.Error("projection should be repopulated after recovery")
	}
}

func TestResetDecisionIsPhaseExact(t *testing.T) {
	st := newFakeStore()
	session := seedSession(st, 0)
	team := seedTeam(st, session.ID, "Team A", "1234")
	seedDecision(st, session.ID, team.ID, "rd1-invest")
	seedDecision(st, session.ID, team.ID, "rd1-invest-immediate")
	rec := loadedReconciler(t, st, session.ID)
	raw := strconv.FormatUint(uint64(session.ID), 10)

	if err := rec.ResetDecision(context.Background(), raw, team.ID, "rd1-invest"); err != nil {
		t.Fatalf("ResetDecision: %v", err)
	}

	if _, ok := rec.Decision(team.ID, "rd1-invest"); ok {
		t.Error("rd1-invest should be gone")
	}
	if _, ok := rec.Decision(team.ID, "rd1-invest-immediate"); !ok {
		t.Error("rd1-invest-immediate must survive a rd1-invest reset")
	}

	// The delete was exact in the store too.
	rows, _ := st.GetDecisions(context.Background(), session.ID)
	if len(rows) != 1 || rows[0].PhaseID != "rd1-invest-immediate" {
		t.Errorf("stored decisions = %+v, want only the immediate row", rows)
	}
}

func TestResetDecisionValidatesIdentifiers(t *testing.T) {
	st := newFakeStore()
	session := seedSession(st, 0)
	rec := loadedReconciler(t, st, session.ID)
	raw := strconv.FormatUint(uint64(session.ID), 10)
	ctx := context.Background()

	cases := []struct {
		name    string
		raw     string
		teamID  uint
		phaseID string
	}{
		{"missing session", "", 1, "rd1-invest"},
		{"unsaved session", models.SessionUnsaved, 1, "rd1-invest"},
		{"missing team", raw, 0, "rd1-invest"},
		{"missing phase", raw, 1, ""},
	}
	for _, tc := range cases {
		if err := rec.ResetDecision(ctx, tc.raw, tc.teamID, tc.phaseID); !errors.Is(err, ErrPrecondition) {
			t.Errorf("%s: err = %v, want precondition", tc.name, err)
		}
	}
}

func TestResetDecisionAbsentRowIsNoOp(t *testing.T) {
	st := newFakeStore()
	session := seedSession(st, 0)
	team := seedTeam(st, session.ID, "Team A", "1234")
	rec := loadedReconciler(t, st, session.ID)
	raw := strconv.FormatUint(uint64(session.ID), 10)

	if err := rec.ResetDecision(context.Background(), raw, team.ID, "rd1-invest"); err != nil {
		t.Errorf("resetting an absent decision should succeed, got %v", err)
	}
}

func TestDecisionsFeedEventTriggersReload(t *testing.T) {
	st := newFakeStore()
	session := seedSession(st, 0)
	team := seedTeam(st, session.ID, "Team A", "1234")
	rec := loadedReconciler(t, st, session.ID)
	ctx := context.Background()

	// The store gained a row the projection hasn't seen; any decisions
	// event resynchronizes, whatever its kind or payload.
	seedDecision(st, session.ID, team.ID, "rd2-invest")
	rec.ApplyFeedEvent(ctx, feed.Event{
		Table:     feed.TableDecisions,
		Kind:      feed.KindDelete,
		SessionID: session.ID,
	})

	if _, ok := rec.Decision(team.ID, "rd2-invest"); !ok {
		t.Error("decisions event should trigger a full reload")
	}
}

func TestRoundDataEventsPatchInPlace(t *testing.T) {
	st := newFakeStore()
	session := seedSession(st, 0)
	team := seedTeam(st, session.ID, "Team A", "1234")
	rec := loadedReconciler(t, st, session.ID)
	ctx := context.Background()

	insert, err := feed.NewEvent(feed.TableRoundData, feed.KindInsert, session.ID,
		models.TeamRoundData{SessionID: session.ID, TeamID: team.ID, Round: 1, Capital: 90000, Score: 10}, nil)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	rec.ApplyFeedEvent(ctx, insert)
	if got := rec.RoundData()[team.ID][1].Capital; got != 90000 {
		t.Fatalf("capital after insert = %v, want 90000", got)
	}

	update, _ := feed.NewEvent(feed.TableRoundData, feed.KindUpdate, session.ID,
		models.TeamRoundData{SessionID: session.ID, TeamID: team.ID, Round: 1, Capital: 85000, Score: 15}, nil)
	rec.ApplyFeedEvent(ctx, update)
	if got := rec.RoundData()[team.ID][1].Capital; got != 85000 {
		t.Fatalf("capital after update = %v, want 85000", got)
	}

	del, _ := feed.NewEvent(feed.TableRoundData, feed.KindDelete, session.ID,
		nil, models.TeamRoundData{SessionID: session.ID, TeamID: team.ID, Round: 1})
	rec.ApplyFeedEvent(ctx, del)
	if _, ok := rec.RoundData()[team.ID]; ok {
		t.Error("deleted slot should be pruned")
	}

	// At-least-once delivery: a duplicate delete must be a no-op.
	rec.ApplyFeedEvent(ctx, del)
	if _, ok := rec.RoundData()[team.ID]; ok {
		t.Error("duplicate delete should be a no-op")
	}
}

func TestRoundDataEventsOrderIndependentAcrossKeys(t *testing.T) {
	st := newFakeStore()
	session := seedSession(st, 0)
	rec := loadedReconciler(t, st, session.ID)
	ctx := context.Background()

	rows := []models.TeamRoundData{
		{SessionID: session.ID, TeamID: 2, Round: 2, Capital: 70000},
		{SessionID: session.ID, TeamID: 1, Round: 1, Capital: 90000},
		{SessionID: session.ID, TeamID: 2, Round: 1, Capital: 80000},
		{SessionID: session.ID, TeamID: 1, Round: 2, Capital: 60000},
	}
	for _, row := range rows {
		ev, err := feed.NewEvent(feed.TableRoundData, feed.KindInsert, session.ID, row, nil)
		if err != nil {
			t.Fatalf("NewEvent: %v", err)
		}
		rec.ApplyFeedEvent(ctx, ev)
	}

	data := rec.RoundData()
	for _, row := range rows {
		if got := data[row.TeamID][row.Round].Capital; got != row.Capital {
			t.Errorf("team %d round %d capital = %v, want %v", row.TeamID, row.Round, got, row.Capital)
		}
	}
}

func TestMalformedRoundEventDropped(t *testing.T) {
	st := newFakeStore()
	session := seedSession(st, 0)
	rec := loadedReconciler(t, st, session.ID)

	rec.ApplyFeedEvent(context.Background(), feed.Event{
		Table:     feed.TableRoundData,
		Kind:      feed.KindInsert,
		SessionID: session.ID,
		New:       []byte("{not json"),
	})
	if len(rec.RoundData()) != 0 {
		t.Error("malformed event should leave the projection untouched")
	}
}

func TestUnknownTableIgnored(t *testing.T) {
	st := newFakeStore()
	session := seedSession(st, 0)
	team := seedTeam(st, session.ID, "Team A", "1234")
	seedDecision(st, session.ID, team.ID, "rd1-invest")
	rec := loadedReconciler(t, st, session.ID)

	rec.ApplyFeedEvent(context.Background(), feed.Event{Table: "hosts", Kind: feed.KindUpdate, SessionID: session.ID})
	if _, ok := rec.Decision(team.ID, "rd1-invest"); !ok {
		t.Error("unknown-table event must not disturb projections")
	}
}

func TestSnapshotsStableUnderPatches(t *testing.T) {
	st := newFakeStore()
	session := seedSession(st, 0)
	rec := loadedReconciler(t, st, session.ID)
	ctx := context.Background()

	first, _ := feed.NewEvent(feed.TableRoundData, feed.KindInsert, session.ID,
		models.TeamRoundData{SessionID: session.ID, TeamID: 1, Round: 1, Capital: 90000}, nil)
	rec.ApplyFeedEvent(ctx, first)

	snapshot := rec.RoundData()

	second, _ := feed.NewEvent(feed.TableRoundData, feed.KindUpdate, session.ID,
		models.TeamRoundData{SessionID: session.ID, TeamID: 1, Round: 1, Capital: 40000}, nil)
	rec.ApplyFeedEvent(ctx, second)

	if got := snapshot[1][1].Capital; got != 90000 {
		t.Errorf("earlier snapshot mutated: capital = %v, want 90000", got)
	}
	if got := rec.RoundData()[1][1].Capital; got != 40000 {
		t.Errorf("current projection capital = %v, want 40000", got)
	}
}
