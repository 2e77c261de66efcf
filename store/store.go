// Package store is the durable-record boundary. Services depend on
// these interfaces; the gorm implementation lives alongside and
// in-memory fakes back the tests.
package store

import (
	"context"
	"errors"

	"simboard/models"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id uint) (*models.Session, error)
	GetSessionsByHost(ctx context.Context, hostID uint) ([]models.Session, error)
	// UpdateSession applies a partial field update and returns the
	// fresh record. ErrNotFound when the record vanished mid-update.
	UpdateSession(ctx context.Context, id uint, fields map[string]interface{}) (*models.Session, error)
	DeleteSession(ctx context.Context, id uint) error
}

type TeamStore interface {
	CreateTeam(ctx context.Context, team *models.Team) error
	GetTeam(ctx context.Context, id uint) (*models.Team, error)
	GetTeams(ctx context.Context, sessionID uint) ([]models.Team, error)
}

type DecisionStore interface {
	// UpsertDecision inserts or replaces the row keyed by
	// (session, team, phase).
	UpsertDecision(ctx context.Context, decision *models.TeamDecision) error
	GetDecisions(ctx context.Context, sessionID uint) ([]models.TeamDecision, error)
	// DeleteDecision removes exactly the row at (session, team,
	// phase). Rows under any other phase id are untouched. Deleting
	// an absent row is a no-op.
	DeleteDecision(ctx context.Context, sessionID, teamID uint, phaseID string) error
}

type RoundDataStore interface {
	UpsertRoundData(ctx context.Context, data *models.TeamRoundData) error
	GetRoundData(ctx context.Context, sessionID uint) ([]models.TeamRoundData, error)
	DeleteRoundData(ctx context.Context, sessionID, teamID uint, round int) error
}

// Store bundles everything the services need from the durable layer.
type Store interface {
	SessionStore
	TeamStore
	DecisionStore
	RoundDataStore
}
