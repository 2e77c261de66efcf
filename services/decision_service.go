package services

import (
	"context"
	"fmt"
	"time"

	"simboard/models"
	"simboard/store"

	"github.com/sirupsen/logrus"
)

// DecisionService handles team-side writes: passcode-checked decision
// submission. Teams only ever touch their own decision rows; session
// records stay host-only.
type DecisionService struct {
	store store.Store
	log   *logrus.Logger
}

func NewDecisionService(st store.Store, log *logrus.Logger) *DecisionService {
	return &DecisionService{store: st, log: log}
}

type SubmitDecisionRequest struct {
	TeamID   uint           `json:"team_id" binding:"required"`
	Passcode string         `json:"passcode" binding:"required"`
	PhaseID  string         `json:"phase_id" binding:"required"`
	Payload  models.JSONMap `json:"payload"`
}

// Submit upserts the team's decision for a phase. An immediate
// purchase goes in under its own phase id (e.g. "rd1-invest-immediate")
// and is a separate row from the ordinary phase decision.
func (s *DecisionService) Submit(ctx context.Context, sessionID uint, req *SubmitDecisionRequest) (*models.TeamDecision, error) {
	team, err := s.store.GetTeam(ctx, req.TeamID)
	if err != nil || team.SessionID != sessionID {
		return nil, ErrTeamNotFound
	}
	if team.Passcode != req.Passcode {
		return nil, ErrInvalidPasscode
	}

	decision := &models.TeamDecision{
		SessionID:   sessionID,
		TeamID:      req.TeamID,
		PhaseID:     req.PhaseID,
		Payload:     req.Payload,
		SubmittedAt: time.Now(),
	}
	if err := s.store.UpsertDecision(ctx, decision); err != nil {
		return nil, fmt.Errorf("failed to save decision: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"team_id":    req.TeamID,
		"phase_id":   req.PhaseID,
	}).Info("team decision submitted")

	return decision, nil
}

// AllSubmitted reports whether every team in the session has a
// decision row under the given phase id. False for sessions without
// teams.
func (s *DecisionService) AllSubmitted(ctx context.Context, sessionID uint, phaseID string) (bool, error) {
	teams, err := s.store.GetTeams(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if len(teams) == 0 {
		return false, nil
	}

	decisions, err := s.store.GetDecisions(ctx, sessionID)
	if err != nil {
		return false, err
	}

	submitted := make(map[uint]bool)
	for _, d := range decisions {
		if d.PhaseID == phaseID {
			submitted[d.TeamID] = true
		}
	}
	for _, team := range teams {
		if !submitted[team.ID] {
			return false, nil
		}
	}
	return true, nil
}
