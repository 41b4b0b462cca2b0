package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SystemSender is the sender recorded on engine-generated messages
const SystemSender = "system"

// Message represents a chat message in a group
type Message struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	GroupID   string         `gorm:"size:50;not null;index:idx_messages_group_created" json:"group_id"`
	Sender    string         `gorm:"size:50;not null;index" json:"sender"`
	Content   string         `gorm:"type:text;not null;size:1000" json:"content"`
	ReadBy    datatypes.JSON `gorm:"type:jsonb;default:'[]'" json:"read_by"`
	CreatedAt time.Time      `gorm:"not null;index:idx_messages_group_created" json:"created_at"`
}

// BeforeCreate hook is called before creating a new message
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return nil
}

// IsSystem reports whether the message was emitted by the engine
func (m *Message) IsSystem() bool {
	return m.Sender == SystemSender
}

// TableName specifies the table name for the Message model
func (Message) TableName() string {
	return "message"
}
