package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/database"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/geo"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/models"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/services"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// JoinRandomGroup attaches the requester to the nearest compatible waiting
// group, or creates a new one with them as its first participant.
func JoinRandomGroup(c *gin.Context) {
	var request models.JoinGroupRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		handleError(c, http.StatusBadRequest, "Invalid input: "+err.Error(), err)
		return
	}

	userID := c.GetString("user_id")

	group, created, err := matchingService.JoinOrCreate(userID, request.Latitude, request.Longitude, request.LocationName)
	if err != nil {
		switch {
		case errors.Is(err, geo.ErrInvalidLatitude), errors.Is(err, geo.ErrInvalidLongitude):
			handleError(c, http.StatusBadRequest, err.Error(), err)
		case errors.Is(err, services.ErrAlreadyInGroup):
			handleError(c, http.StatusConflict, "Already in an active group", err)
		default:
			handleError(c, http.StatusInternalServerError, "Failed to join a group", err)
		}
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"group": group, "created": created})
}

// LeaveGroup removes the requester from a group
func LeaveGroup(c *gin.Context) {
	groupID := c.Param("group_id")
	userID := c.GetString("user_id")

	if err := lifecycleService.RemoveParticipant(groupID, userID); err != nil {
		if errors.Is(err, services.ErrNotParticipant) {
			handleError(c, http.StatusNotFound, "Not a group participant", err)
			return
		}
		handleError(c, http.StatusInternalServerError, "Failed to leave group", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Left group successfully"})
}

// Heartbeat refreshes the requester's last-seen timestamp; a client that
// stops sending these is eventually reclaimed by the cleanup worker.
func Heartbeat(c *gin.Context) {
	userID := c.GetString("user_id")

	if err := lifecycleService.Heartbeat(userID); err != nil {
		if errors.Is(err, services.ErrNotParticipant) {
			handleError(c, http.StatusNotFound, "No active group membership", err)
			return
		}
		handleError(c, http.StatusInternalServerError, "Failed to record heartbeat", err)
		return
	}

	log.Printf("Heartbeat from %s (%s)", userID, utils.GetRealClientIP(c))
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// GetGroupByID handles fetching a single group's details by ID
func GetGroupByID(c *gin.Context) {
	groupID := c.Param("group_id")
	db := database.GetDB()

	var group models.Group
	if err := db.Preload("Participants").Where("id = ?", groupID).First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			handleError(c, http.StatusNotFound, "Group not found", err)
			return
		}
		handleError(c, http.StatusInternalServerError, "Failed to fetch group", err)
		return
	}

	c.JSON(http.StatusOK, group)
}

// GetMyGroup returns the requester's active group, if any
func GetMyGroup(c *gin.Context) {
	userID := c.GetString("user_id")

	group, err := lifecycleService.ActiveGroupFor(userID)
	if err != nil {
		handleError(c, http.StatusInternalServerError, "Failed to fetch active group", err)
		return
	}
	if group == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active group"})
		return
	}

	c.JSON(http.StatusOK, group)
}

// CreateScheduledGroup plans a group in advance: it stays out of the matching
// pool until its scheduled time arrives.
func CreateScheduledGroup(c *gin.Context) {
	var request models.CreateScheduledGroupRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		handleError(c, http.StatusBadRequest, "Invalid input: "+err.Error(), err)
		return
	}

	if request.ScheduledFor.Before(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Scheduled time must be in the future"})
		return
	}

	point, err := geo.Sanitize(request.Latitude, request.Longitude)
	if err != nil {
		handleError(c, http.StatusBadRequest, err.Error(), err)
		return
	}

	userID := c.GetString("user_id")

	group, err := lifecycleService.CreateGroupWithCreator(point, request.LocationName, userID, &request.ScheduledFor)
	if err != nil {
		if errors.Is(err, services.ErrAlreadyInGroup) {
			handleError(c, http.StatusConflict, "Already in an active group", err)
			return
		}
		handleError(c, http.StatusInternalServerError, "Failed to create scheduled group", err)
		return
	}

	c.JSON(http.StatusCreated, group)
}

// CancelScheduledGroup cancels a scheduled group before its time, owner only
func CancelScheduledGroup(c *gin.Context) {
	groupID := c.Param("group_id")
	userID := c.GetString("user_id")

	if err := lifecycleService.CancelScheduledGroup(groupID, userID); err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			handleError(c, http.StatusNotFound, "Group not found", err)
		case errors.Is(err, services.ErrNotOwner):
			handleError(c, http.StatusForbidden, "Only the creator can cancel a scheduled group", err)
		case errors.Is(err, services.ErrAlreadyStarted):
			handleError(c, http.StatusConflict, "Scheduled group can no longer be cancelled", err)
		default:
			handleError(c, http.StatusInternalServerError, "Failed to cancel scheduled group", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Scheduled group cancelled"})
}
