package models

import (
	"time"

	"gorm.io/gorm"
)

// ParticipantStatus represents a user's membership state within a group
type ParticipantStatus string

const (
	ParticipantConfirmed ParticipantStatus = "confirmed"
	ParticipantPending   ParticipantStatus = "pending"
)

// GroupParticipant represents a user's membership in exactly one active group
type GroupParticipant struct {
	ID      uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	GroupID string            `gorm:"size:50;not null;index:idx_participant_group" json:"group_id"`
	UserID  string            `gorm:"size:50;not null;index" json:"user_id"`
	Status  ParticipantStatus `gorm:"size:20;not null;default:confirmed;index:idx_participant_group" json:"status"`

	JoinedAt time.Time `gorm:"not null" json:"joined_at"`
	LastSeen time.Time `gorm:"not null;index" json:"last_seen"`

	// Location at join time, kept for diagnostics only
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// BeforeCreate hook initialises the membership timestamps
func (p *GroupParticipant) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if p.JoinedAt.IsZero() {
		p.JoinedAt = now
	}
	if p.LastSeen.IsZero() {
		p.LastSeen = now
	}
	if p.Status == "" {
		p.Status = ParticipantConfirmed
	}
	return nil
}

// TableName specifies the table name for the GroupParticipant model
func (GroupParticipant) TableName() string {
	return "group_participant"
}
