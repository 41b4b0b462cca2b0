package services

import (
	"fmt"
	"time"

	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/config"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MessageService posts engine-generated messages into a group's chat.
type MessageService struct {
	db *gorm.DB
}

func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{db: db}
}

// PostSystemMessage writes a system message to the group, unless an identical
// one was already posted within the duplicate-suppression window. Duplicate
// triggers of venue assignment would otherwise double-announce.
func (s *MessageService) PostSystemMessage(groupID, content string) error {
	window := config.DuplicateMessageWindow()

	var count int64
	err := s.db.Model(&models.Message{}).
		Where("group_id = ? AND sender = ? AND content = ? AND created_at > ?",
			groupID, models.SystemSender, content, time.Now().Add(-window)).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("failed to check recent system messages: %w", err)
	}
	if count > 0 {
		return nil
	}

	msg := models.Message{
		GroupID: groupID,
		Sender:  models.SystemSender,
		Content: content,
		ReadBy:  datatypes.JSON([]byte("[]")),
	}
	if err := s.db.Create(&msg).Error; err != nil {
		return fmt.Errorf("failed to post system message: %w", err)
	}
	return nil
}

// GroupMessages returns a page of a group's messages, oldest first
func (s *MessageService) GroupMessages(groupID string, limit, offset int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.Where("group_id = ?", groupID).
		Order("created_at asc").
		Limit(limit).Offset(offset).
		Find(&messages).Error
	return messages, err
}
