package models

import (
	"time"

	"gorm.io/gorm"
)

// Session statuses.
const (
	SessionStatusDraft     = "draft"
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
)

// SessionUnsaved is the sentinel id the frontend uses for a session
// that has never been persisted. Mutating operations reject it.
const SessionUnsaved = "unsaved"

type Session struct {
	ID                uint           `json:"id" gorm:"primaryKey"`
	HostID            uint           `json:"host_id" gorm:"not null;index"`
	DeckID            string         `json:"deck_id" gorm:"not null"`
	Name              string         `json:"name"`
	ClassName         string         `json:"class_name"`
	Grade             string         `json:"grade"`
	Version           string         `json:"version"`
	Status            string         `json:"status" gorm:"not null;default:'draft'"` // draft, active, completed
	CurrentSlideIndex int            `json:"current_slide_index" gorm:"not null;default:0"`
	IsPlaying         bool           `json:"is_playing" gorm:"not null;default:false"`
	IsComplete        bool           `json:"is_complete" gorm:"not null;default:false"`
	HostNotes         JSONMap        `json:"host_notes" gorm:"type:jsonb"`
	WizardState       JSONMap        `json:"wizard_state" gorm:"type:jsonb"` // non-nil only while status=draft
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Host  Host   `json:"host,omitempty"`
	Teams []Team `json:"teams,omitempty" gorm:"foreignKey:SessionID"`
}
