package models

import (
	"time"

	"gorm.io/gorm"
)

// TeamRoundData is the computed result snapshot for one team and
// round. Written by consequence processing, never by teams.
type TeamRoundData struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	SessionID uint           `json:"session_id" gorm:"not null;uniqueIndex:idx_round_key"`
	TeamID    uint           `json:"team_id" gorm:"not null;uniqueIndex:idx_round_key"`
	Round     int            `json:"round" gorm:"not null;uniqueIndex:idx_round_key"`
	Capital   float64        `json:"capital" gorm:"not null;default:0"`
	Revenue   float64        `json:"revenue" gorm:"not null;default:0"`
	Score     int            `json:"score" gorm:"not null;default:0"`
	Extra     JSONMap        `json:"extra" gorm:"type:jsonb"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Team Team `json:"team,omitempty"`
}
