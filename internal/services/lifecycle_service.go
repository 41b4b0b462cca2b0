package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/geo"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/models"

	"gorm.io/gorm"
)

var (
	ErrGroupFull        = errors.New("group is full")
	ErrGroupNotJoinable = errors.New("group is no longer accepting participants")
	ErrAlreadyInGroup   = errors.New("user already has an active group")
	ErrNotParticipant   = errors.New("user is not a participant of this group")
	ErrNotOwner         = errors.New("only the creator can cancel a scheduled group")
	ErrAlreadyStarted   = errors.New("scheduled group can no longer be cancelled")
)

// LifecycleService owns group state transitions as participants join, leave
// and time out. Every count it stores is re-derived from participant rows
// inside the same transaction, never incremented in place.
type LifecycleService struct {
	db *gorm.DB

	// onConfirmed fires after a commit takes a group to full capacity,
	// typically wired to venue assignment
	onConfirmed func(groupID string)
}

func NewLifecycleService(db *gorm.DB) *LifecycleService {
	return &LifecycleService{db: db}
}

// OnConfirmed registers the callback invoked when a group fills up
func (s *LifecycleService) OnConfirmed(fn func(groupID string)) {
	s.onConfirmed = fn
}

// isParticipationConflict detects a violation of the one-active-membership
// partial unique index, which is how the store enforces that invariant.
func isParticipationConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "idx_one_confirmed_participation") ||
		strings.Contains(msg, "UNIQUE constraint failed: group_participant.user_id")
}

// insertParticipantGuarded inserts a confirmed participant only while the group
// is still waiting and below capacity. The capacity predicate lives inside the
// INSERT itself so two concurrent joiners cannot both take the last seat.
func insertParticipantGuarded(tx *gorm.DB, groupID, userID string, loc *geo.Point) (bool, error) {
	now := time.Now()
	var lat, lon interface{}
	if loc != nil {
		lat, lon = loc.Latitude, loc.Longitude
	}

	res := tx.Exec(`
		INSERT INTO group_participant (group_id, user_id, status, joined_at, last_seen, latitude, longitude)
		SELECT ?, ?, 'confirmed', ?, ?, ?, ?
		WHERE EXISTS (
			SELECT 1 FROM "group" WHERE id = ? AND status = 'waiting'
		)
		AND (
			SELECT COUNT(*) FROM group_participant WHERE group_id = ? AND status = 'confirmed'
		) < (
			SELECT max_participants FROM "group" WHERE id = ?
		)`,
		groupID, userID, now, now, lat, lon,
		groupID, groupID, groupID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// recountAndTransition recomputes the authoritative participant count and
// applies the state machine: the 5th confirmed join promotes waiting to
// confirmed, dropping below capacity demotes confirmed to waiting and clears
// the venue fields so assignment can re-trigger.
func recountAndTransition(tx *gorm.DB, groupID string) (*models.Group, bool, error) {
	var group models.Group
	if err := tx.Where("id = ?", groupID).First(&group).Error; err != nil {
		return nil, false, err
	}

	var count int64
	if err := tx.Model(&models.GroupParticipant{}).
		Where("group_id = ? AND status = ?", groupID, models.ParticipantConfirmed).
		Count(&count).Error; err != nil {
		return nil, false, err
	}

	group.CurrentParticipants = int(count)
	becameConfirmed := false

	switch {
	case group.Status == models.GroupWaiting && group.CurrentParticipants >= group.MaxParticipants:
		group.Status = models.GroupConfirmed
		becameConfirmed = true
	case group.Status == models.GroupConfirmed && group.CurrentParticipants < group.MaxParticipants:
		group.Status = models.GroupWaiting
		group.ClearVenue()
	}

	updates := map[string]interface{}{
		"current_participants": group.CurrentParticipants,
		"status":               group.Status,
		"updated_at":           time.Now(),
	}
	if group.Status == models.GroupWaiting && !group.HasVenue() {
		updates["venue_name"] = nil
		updates["venue_address"] = nil
		updates["venue_place_id"] = nil
		updates["venue_latitude"] = nil
		updates["venue_longitude"] = nil
		updates["meeting_time"] = nil
	}

	if err := tx.Model(&models.Group{}).Where("id = ?", groupID).Updates(updates).Error; err != nil {
		return nil, false, err
	}

	return &group, becameConfirmed, nil
}

// AddParticipant joins a user to an existing waiting group. It returns
// ErrGroupFull or ErrGroupNotJoinable when the group just filled or stopped
// waiting, and ErrAlreadyInGroup when the user already holds an active seat.
func (s *LifecycleService) AddParticipant(groupID, userID string, loc *geo.Point) (*models.Group, error) {
	var result *models.Group
	becameConfirmed := false

	err := s.db.Transaction(func(tx *gorm.DB) error {
		inserted, err := insertParticipantGuarded(tx, groupID, userID, loc)
		if err != nil {
			if isParticipationConflict(err) {
				return ErrAlreadyInGroup
			}
			return fmt.Errorf("failed to add participant: %w", err)
		}
		if !inserted {
			var group models.Group
			if err := tx.Where("id = ?", groupID).First(&group).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrGroupNotJoinable
				}
				return err
			}
			if group.Status != models.GroupWaiting {
				return ErrGroupNotJoinable
			}
			return ErrGroupFull
		}

		group, confirmed, err := recountAndTransition(tx, groupID)
		if err != nil {
			return err
		}
		result = group
		becameConfirmed = confirmed
		return nil
	})
	if err != nil {
		return nil, err
	}

	if becameConfirmed && s.onConfirmed != nil {
		go s.onConfirmed(result.ID)
	}
	return result, nil
}

// CreateGroupWithCreator atomically creates a group and seats its first
// participant in one transaction, so two concurrent requesters who both found
// no compatible group cannot each end up owning a half-made one.
func (s *LifecycleService) CreateGroupWithCreator(loc geo.Point, locationName, userID string, scheduledFor *time.Time) (*models.Group, error) {
	var result *models.Group

	err := s.db.Transaction(func(tx *gorm.DB) error {
		lat, lon := loc.Latitude, loc.Longitude
		group := models.Group{
			Status:          models.GroupWaiting,
			MaxParticipants: models.DefaultMaxParticipants,
			Latitude:        &lat,
			Longitude:       &lon,
			LocationName:    locationName,
			CreatedBy:       userID,
		}
		if scheduledFor != nil {
			group.IsScheduled = true
			t := *scheduledFor
			group.ScheduledFor = &t
		}
		if err := tx.Create(&group).Error; err != nil {
			return fmt.Errorf("failed to create group: %w", err)
		}

		inserted, err := insertParticipantGuarded(tx, group.ID, userID, &loc)
		if err != nil {
			if isParticipationConflict(err) {
				return ErrAlreadyInGroup
			}
			return fmt.Errorf("failed to add creator: %w", err)
		}
		if !inserted {
			return fmt.Errorf("failed to seat creator in new group %s", group.ID)
		}

		updated, _, err := recountAndTransition(tx, group.ID)
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RemoveParticipant takes a user out of a group. An emptied group is deleted
// unless it is a scheduled group whose time has not arrived; a confirmed group
// that loses a member drops back to waiting with its venue cleared.
func (s *LifecycleService) RemoveParticipant(groupID, userID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("group_id = ? AND user_id = ?", groupID, userID).
			Delete(&models.GroupParticipant{})
		if res.Error != nil {
			return fmt.Errorf("failed to remove participant: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotParticipant
		}

		group, _, err := recountAndTransition(tx, groupID)
		if err != nil {
			return err
		}

		if group.CurrentParticipants == 0 && !group.PendingScheduled(time.Now()) {
			return deleteGroupCascade(tx, groupID)
		}
		return nil
	})
}

// Heartbeat refreshes the last-seen timestamp on the user's active membership
func (s *LifecycleService) Heartbeat(userID string) error {
	res := s.db.Model(&models.GroupParticipant{}).
		Where("user_id = ? AND status = ?", userID, models.ParticipantConfirmed).
		Update("last_seen", time.Now())
	if res.Error != nil {
		return fmt.Errorf("failed to record heartbeat: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotParticipant
	}
	return nil
}

// ActiveGroupFor returns the group the user currently holds a confirmed seat in
func (s *LifecycleService) ActiveGroupFor(userID string) (*models.Group, error) {
	var participant models.GroupParticipant
	err := s.db.Where("user_id = ? AND status = ?", userID, models.ParticipantConfirmed).
		First(&participant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var group models.Group
	if err := s.db.Preload("Participants").Where("id = ?", participant.GroupID).First(&group).Error; err != nil {
		return nil, err
	}
	return &group, nil
}

// CancelScheduledGroup cancels a scheduled group before its time, owner only.
// Participant rows are released so members can match elsewhere immediately.
func (s *LifecycleService) CancelScheduledGroup(groupID, userID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var group models.Group
		if err := tx.Where("id = ?", groupID).First(&group).Error; err != nil {
			return err
		}
		if !group.IsScheduled {
			return ErrAlreadyStarted
		}
		if group.CreatedBy != userID {
			return ErrNotOwner
		}
		if group.ScheduledFor == nil || !group.ScheduledFor.After(time.Now()) {
			return ErrAlreadyStarted
		}

		if err := tx.Where("group_id = ?", groupID).Delete(&models.GroupParticipant{}).Error; err != nil {
			return fmt.Errorf("failed to release participants: %w", err)
		}
		return tx.Model(&models.Group{}).Where("id = ?", groupID).Updates(map[string]interface{}{
			"status":               models.GroupCancelled,
			"current_participants": 0,
			"updated_at":           time.Now(),
		}).Error
	})
}

// deleteGroupCascade removes a group with its participants and messages
func deleteGroupCascade(tx *gorm.DB, groupID string) error {
	if err := tx.Where("group_id = ?", groupID).Delete(&models.GroupParticipant{}).Error; err != nil {
		return fmt.Errorf("failed to delete participants: %w", err)
	}
	if err := tx.Where("group_id = ?", groupID).Delete(&models.Message{}).Error; err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if err := tx.Where("id = ?", groupID).Delete(&models.Group{}).Error; err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return nil
}
