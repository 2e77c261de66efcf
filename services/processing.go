package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"simboard/content"
	"simboard/models"
	"simboard/store"

	"github.com/sirupsen/logrus"
)

// startingCapital is each team's budget at the start of round one.
const startingCapital = 100000

// DecisionFinalizer is the default InteractiveFinalizer: it validates
// every submitted option against the deck's catalog and locks the
// phase's decisions so teams can no longer change them.
type DecisionFinalizer struct {
	store store.Store
	decks *content.Library
	log   *logrus.Logger
}

func NewDecisionFinalizer(st store.Store, decks *content.Library, log *logrus.Logger) *DecisionFinalizer {
	return &DecisionFinalizer{store: st, decks: decks, log: log}
}

func (f *DecisionFinalizer) Process(ctx context.Context, session *models.Session, slide content.Slide) error {
	deck, ok := f.decks.Deck(session.DeckID)
	if !ok {
		return fmt.Errorf("unknown deck %q", session.DeckID)
	}

	decisions, err := f.store.GetDecisions(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("failed to load decisions: %w", err)
	}

	for _, decision := range decisions {
		if decision.PhaseID != slide.DecisionKey {
			continue
		}
		for _, id := range optionIDs(decision.Payload) {
			if _, ok := deck.Investment(id); !ok {
				return fmt.Errorf("team %d picked unknown option %q", decision.TeamID, id)
			}
		}

		locked := models.JSONMap{}
		for k, v := range decision.Payload {
			locked[k] = v
		}
		locked["locked"] = true
		decision.Payload = locked
		decision.SubmittedAt = time.Now()
		d := decision
		if err := f.store.UpsertDecision(ctx, &d); err != nil {
			return fmt.Errorf("failed to lock decision: %w", err)
		}
	}

	f.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"phase_id":   slide.DecisionKey,
	}).Info("finalized interactive slide")
	return nil
}

// RoundConsequenceProcessor is the default ConsequenceProcessor: it
// computes each team's round result from its submitted decisions and
// the deck catalogs, chaining capital from the previous round. The
// orchestrator guarantees at most one call per slide per session
// load; the upsert keying makes a defensive rerun overwrite rather
// than duplicate.
type RoundConsequenceProcessor struct {
	store store.Store
	decks *content.Library
	log   *logrus.Logger
}

func NewRoundConsequenceProcessor(st store.Store, decks *content.Library, log *logrus.Logger) *RoundConsequenceProcessor {
	return &RoundConsequenceProcessor{store: st, decks: decks, log: log}
}

func (p *RoundConsequenceProcessor) Process(ctx context.Context, session *models.Session, slide content.Slide) error {
	deck, ok := p.decks.Deck(session.DeckID)
	if !ok {
		return fmt.Errorf("unknown deck %q", session.DeckID)
	}

	teams, err := p.store.GetTeams(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("failed to load teams: %w", err)
	}
	decisions, err := p.store.GetDecisions(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("failed to load decisions: %w", err)
	}
	priorRounds, err := p.store.GetRoundData(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("failed to load round data: %w", err)
	}

	roundPrefix := fmt.Sprintf("rd%d-", slide.Round)

	for _, team := range teams {
		capital := float64(startingCapital)
		for _, prior := range priorRounds {
			if prior.TeamID == team.ID && prior.Round == slide.Round-1 {
				capital = prior.Capital
			}
		}

		var revenue float64
		var score int
		for _, decision := range decisions {
			if decision.TeamID != team.ID || !strings.HasPrefix(decision.PhaseID, roundPrefix) {
				continue
			}
			for _, id := range optionIDs(decision.Payload) {
				if opt, ok := deck.Investment(id); ok {
					capital -= opt.Cost
					revenue += opt.RevenueBonus
					score += opt.ScoreBonus
				}
			}
			if challengeID, ok := decision.Payload["challenge_id"].(string); ok {
				if card, ok := deck.Challenge(challengeID); ok {
					capital += card.CapitalDelta
					score += card.ScoreDelta
				}
			}
		}

		row := &models.TeamRoundData{
			SessionID: session.ID,
			TeamID:    team.ID,
			Round:     slide.Round,
			Capital:   capital + revenue,
			Revenue:   revenue,
			Score:     score,
		}
		if err := p.store.UpsertRoundData(ctx, row); err != nil {
			return fmt.Errorf("failed to save round data for team %d: %w", team.ID, err)
		}
	}

	p.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"slide_id":   slide.ID,
		"round":      slide.Round,
	}).Info("processed consequence slide")
	return nil
}

// optionIDs pulls the selected option id list out of a decision
// payload, tolerating both []string and the []interface{} form JSON
// decoding produces.
func optionIDs(payload models.JSONMap) []string {
	raw, ok := payload["option_ids"]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
