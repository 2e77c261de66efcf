package store

import (
	"context"
	"errors"
	"fmt"

	"simboard/feed"
	"simboard/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// GormStore is the postgres-backed Store. Decision and round-data
// writes publish change-feed events after the row is committed; a
// failed publish is logged but does not fail the write, since the
// database stays the source of truth and readers reconcile against it.
type GormStore struct {
	db   *gorm.DB
	feed feed.Publisher
	log  *logrus.Logger
}

func NewGormStore(db *gorm.DB, publisher feed.Publisher, log *logrus.Logger) *GormStore {
	return &GormStore{db: db, feed: publisher, log: log}
}

func (s *GormStore) CreateSession(ctx context.Context, session *models.Session) error {
	return s.db.WithContext(ctx).Create(session).Error
}

func (s *GormStore) GetSession(ctx context.Context, id uint) (*models.Session, error) {
	var session models.Session
	if err := s.db.WithContext(ctx).First(&session, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &session, nil
}

func (s *GormStore) GetSessionsByHost(ctx context.Context, hostID uint) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.WithContext(ctx).
		Where("host_id = ?", hostID).
		Order("updated_at DESC").
		Find(&sessions).Error
	return sessions, err
}

func (s *GormStore) UpdateSession(ctx context.Context, id uint, fields map[string]interface{}) (*models.Session, error) {
	res := s.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	return s.GetSession(ctx, id)
}

func (s *GormStore) DeleteSession(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&models.Session{}, id).Error
}

func (s *GormStore) CreateTeam(ctx context.Context, team *models.Team) error {
	return s.db.WithContext(ctx).Create(team).Error
}

func (s *GormStore) GetTeam(ctx context.Context, id uint) (*models.Team, error) {
	var team models.Team
	if err := s.db.WithContext(ctx).First(&team, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("team %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &team, nil
}

func (s *GormStore) GetTeams(ctx context.Context, sessionID uint) ([]models.Team, error) {
	var teams []models.Team
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&teams).Error
	return teams, err
}

func (s *GormStore) UpsertDecision(ctx context.Context, decision *models.TeamDecision) error {
	var existing models.TeamDecision
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND team_id = ? AND phase_id = ?",
			decision.SessionID, decision.TeamID, decision.PhaseID).
		First(&existing).Error

	kind := feed.KindInsert
	switch {
	case err == nil:
		kind = feed.KindUpdate
		decision.ID = existing.ID
		decision.CreatedAt = existing.CreatedAt
		if err := s.db.WithContext(ctx).Save(decision).Error; err != nil {
			return err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(decision).Error; err != nil {
			return err
		}
	default:
		return err
	}

	s.publish(ctx, feed.TableDecisions, kind, decision.SessionID, decision, nil)
	return nil
}

func (s *GormStore) GetDecisions(ctx context.Context, sessionID uint) ([]models.TeamDecision, error) {
	var decisions []models.TeamDecision
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Find(&decisions).Error
	return decisions, err
}

func (s *GormStore) DeleteDecision(ctx context.Context, sessionID, teamID uint, phaseID string) error {
	var existing models.TeamDecision
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND team_id = ? AND phase_id = ?", sessionID, teamID, phaseID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	// Scoped by the full composite key so differently-keyed rows for
	// the same team and round survive.
	res := s.db.WithContext(ctx).
		Where("session_id = ? AND team_id = ? AND phase_id = ?", sessionID, teamID, phaseID).
		Delete(&models.TeamDecision{})
	if res.Error != nil {
		return res.Error
	}

	s.publish(ctx, feed.TableDecisions, feed.KindDelete, sessionID, nil, &existing)
	return nil
}

func (s *GormStore) UpsertRoundData(ctx context.Context, data *models.TeamRoundData) error {
	var existing models.TeamRoundData
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND team_id = ? AND round = ?",
			data.SessionID, data.TeamID, data.Round).
		First(&existing).Error

	kind := feed.KindInsert
	switch {
	case err == nil:
		kind = feed.KindUpdate
		data.ID = existing.ID
		data.CreatedAt = existing.CreatedAt
		if err := s.db.WithContext(ctx).Save(data).Error; err != nil {
			return err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(data).Error; err != nil {
			return err
		}
	default:
		return err
	}

	s.publish(ctx, feed.TableRoundData, kind, data.SessionID, data, nil)
	return nil
}

func (s *GormStore) GetRoundData(ctx context.Context, sessionID uint) ([]models.TeamRoundData, error) {
	var rows []models.TeamRoundData
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Find(&rows).Error
	return rows, err
}

func (s *GormStore) DeleteRoundData(ctx context.Context, sessionID, teamID uint, round int) error {
	var existing models.TeamRoundData
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND team_id = ? AND round = ?", sessionID, teamID, round).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).
		Where("session_id = ? AND team_id = ? AND round = ?", sessionID, teamID, round).
		Delete(&models.TeamRoundData{})
	if res.Error != nil {
		return res.Error
	}

	s.publish(ctx, feed.TableRoundData, feed.KindDelete, sessionID, nil, &existing)
	return nil
}

func (s *GormStore) publish(ctx context.Context, table, kind string, sessionID uint, newRow, oldRow interface{}) {
	if s.feed == nil {
		return
	}
	ev, err := feed.NewEvent(table, kind, sessionID, newRow, oldRow)
	if err != nil {
		s.log.WithError(err).Warn("failed to build feed event")
		return
	}
	if err := s.feed.Publish(ctx, ev); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"table": table,
			"kind":  kind,
		}).Warn("failed to publish feed event")
	}
}
