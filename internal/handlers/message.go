package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/database"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// GetGroupMessages handles fetching messages for a group. Only confirmed
// participants can read, and reading marks the page as read for the caller.
func GetGroupMessages(c *gin.Context) {
	groupID := c.Param("group_id")
	userID := c.GetString("user_id")

	db := database.GetDB()

	var group models.Group
	if err := db.Where("id = ?", groupID).First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			handleError(c, http.StatusNotFound, "Group not found", err)
			return
		}
		handleError(c, http.StatusInternalServerError, "Failed to fetch group", err)
		return
	}

	var membership models.GroupParticipant
	if err := db.Where("group_id = ? AND user_id = ? AND status = ?",
		groupID, userID, models.ParticipantConfirmed).First(&membership).Error; err != nil {
		handleError(c, http.StatusForbidden, "Not authorized to view group messages", err)
		return
	}

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	messages, err := messageService.GroupMessages(groupID, limit, offset)
	if err != nil {
		handleError(c, http.StatusInternalServerError, "Failed to fetch messages", err)
		return
	}

	// Mark this page as read by the caller
	for i := range messages {
		var readers []string
		if messages[i].ReadBy != nil {
			if err := json.Unmarshal(messages[i].ReadBy, &readers); err != nil {
				log.Printf("Warning: Failed to parse ReadBy for message %d: %v", messages[i].ID, err)
				readers = []string{}
			}
		}

		alreadyRead := false
		for _, reader := range readers {
			if reader == userID {
				alreadyRead = true
				break
			}
		}
		if alreadyRead {
			continue
		}

		readers = append(readers, userID)
		updated, err := json.Marshal(readers)
		if err != nil {
			log.Printf("Warning: Failed to marshal ReadBy for message %d: %v", messages[i].ID, err)
			continue
		}
		if err := db.Model(&messages[i]).Update("read_by", updated).Error; err != nil {
			log.Printf("Warning: Failed to update ReadBy for message %d: %v", messages[i].ID, err)
		}
		messages[i].ReadBy = updated
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
