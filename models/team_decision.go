package models

import (
	"time"

	"gorm.io/gorm"
)

// TeamDecision is one team's input for a logical phase. The phase id
// is part of the key: an ordinary decision ("rd1-invest") and an
// immediate purchase ("rd1-invest-immediate") for the same round are
// separate rows, so deleting one never touches the other.
type TeamDecision struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	SessionID   uint           `json:"session_id" gorm:"not null;uniqueIndex:idx_decision_key"`
	TeamID      uint           `json:"team_id" gorm:"not null;uniqueIndex:idx_decision_key"`
	PhaseID     string         `json:"phase_id" gorm:"not null;uniqueIndex:idx_decision_key"`
	Payload     JSONMap        `json:"payload" gorm:"type:jsonb"`
	SubmittedAt time.Time      `json:"submitted_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Team Team `json:"team,omitempty"`
}
