package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GroupStatus represents the lifecycle state of a group
type GroupStatus string

const (
	GroupWaiting   GroupStatus = "waiting"
	GroupConfirmed GroupStatus = "confirmed"
	GroupCompleted GroupStatus = "completed"
	GroupCancelled GroupStatus = "cancelled"
)

// DefaultMaxParticipants is the fixed size of a rendezvous group
const DefaultMaxParticipants = 5

// Group represents an ephemeral matchmaking unit bound to a location
type Group struct {
	ID                  string      `gorm:"primaryKey;size:50" json:"id"`
	Status              GroupStatus `gorm:"size:20;not null;default:waiting;index" json:"status"`
	CurrentParticipants int         `gorm:"not null;default:0" json:"current_participants"`
	MaxParticipants     int         `gorm:"not null;default:5" json:"max_participants"`

	Latitude     *float64 `gorm:"index:idx_group_coords" json:"latitude"`
	Longitude    *float64 `gorm:"index:idx_group_coords" json:"longitude"`
	LocationName string   `gorm:"size:255" json:"location_name"`
	SearchRadius float64  `gorm:"not null;default:10000" json:"search_radius"`

	// Venue fields are all-null until assignment commits, then all-set
	VenueName      *string    `gorm:"size:255" json:"venue_name"`
	VenueAddress   *string    `gorm:"size:500" json:"venue_address"`
	VenuePlaceID   *string    `gorm:"size:255" json:"venue_place_id"`
	VenueLatitude  *float64   `json:"venue_latitude"`
	VenueLongitude *float64   `json:"venue_longitude"`
	MeetingTime    *time.Time `json:"meeting_time"`

	IsScheduled  bool       `gorm:"not null;default:false;index" json:"is_scheduled"`
	ScheduledFor *time.Time `json:"scheduled_for"`
	ReminderSent bool       `gorm:"not null;default:false" json:"reminder_sent"`
	CreatedBy    string     `gorm:"size:50" json:"created_by"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`

	Participants []GroupParticipant `gorm:"foreignKey:GroupID" json:"participants,omitempty"`
}

// BeforeCreate hook assigns an ID and timestamps for new groups
func (g *Group) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = GroupWaiting
	}
	if g.MaxParticipants == 0 {
		g.MaxParticipants = DefaultMaxParticipants
	}
	now := time.Now()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = now
	}
	return nil
}

// BeforeSave hook keeps UpdatedAt current
func (g *Group) BeforeSave(tx *gorm.DB) error {
	g.UpdatedAt = time.Now()
	return nil
}

// HasVenue reports whether venue assignment already committed for this group
func (g *Group) HasVenue() bool {
	return g.VenuePlaceID != nil
}

// IsFull reports whether the group reached its fixed size
func (g *Group) IsFull() bool {
	return g.CurrentParticipants >= g.MaxParticipants
}

// IsActive reports whether the group is still relevant for matching or cleanup
func (g *Group) IsActive() bool {
	return g.Status == GroupWaiting || g.Status == GroupConfirmed
}

// PendingScheduled reports whether this is a scheduled group whose time has not arrived
func (g *Group) PendingScheduled(now time.Time) bool {
	return g.IsScheduled && g.ScheduledFor != nil && g.ScheduledFor.After(now)
}

// ClearVenue resets all venue fields together so they are never partially set
func (g *Group) ClearVenue() {
	g.VenueName = nil
	g.VenueAddress = nil
	g.VenuePlaceID = nil
	g.VenueLatitude = nil
	g.VenueLongitude = nil
	g.MeetingTime = nil
}

// TableName specifies the table name for the Group model
func (Group) TableName() string {
	return "group"
}

// JoinGroupRequest represents the data needed to join or create a group
type JoinGroupRequest struct {
	Latitude     float64 `json:"latitude" binding:"required"`
	Longitude    float64 `json:"longitude" binding:"required"`
	LocationName string  `json:"location_name"`
}

// CreateScheduledGroupRequest represents the data needed to plan a group in advance
type CreateScheduledGroupRequest struct {
	Latitude     float64   `json:"latitude" binding:"required"`
	Longitude    float64   `json:"longitude" binding:"required"`
	LocationName string    `json:"location_name"`
	ScheduledFor time.Time `json:"scheduled_for" binding:"required"`
}
