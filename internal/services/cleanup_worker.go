package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/config"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/models"

	"gorm.io/gorm"
)

// CleanupWorker is the periodic job that reconciles group and participant
// state against reality: it protects live groups, purges abandoned state,
// corrects counters, and drives scheduled-group activation and completion.
// It is the single source of truth for destructive cleanup; the leader lock
// keeps one active instance per deployment.
type CleanupWorker struct {
	db       *gorm.DB
	alerts   *AlertService
	messages *MessageService
	locker   Locker
	interval time.Duration
}

func NewCleanupWorker(db *gorm.DB, alerts *AlertService, messages *MessageService, locker Locker) *CleanupWorker {
	return &CleanupWorker{
		db:       db,
		alerts:   alerts,
		messages: messages,
		locker:   locker,
		interval: config.CleanupInterval(),
	}
}

func (w *CleanupWorker) Start() {
	go w.run()
}

func (w *CleanupWorker) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for range ticker.C {
		ctx := context.Background()
		if !w.locker.TryAcquire(ctx) {
			log.Println("Cleanup tick skipped, another instance holds the leader lock")
			continue
		}
		w.RunOnce()
		w.locker.Release(ctx)
	}
}

// RunOnce executes the full ordered pass. Every step is idempotent and safe to
// retry; a failing step is logged and reported but never aborts the rest of
// the pass, the next tick is the retry mechanism.
func (w *CleanupWorker) RunOnce() {
	now := time.Now()

	protected, err := w.protectedGroupIDs(now)
	if err != nil {
		log.Printf("Error: failed to compute protected groups, skipping cleanup pass: %v", err)
		w.reportStepFailure("protect live groups", err)
		return
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"purge empty groups", func() error { return w.purgeEmptyGroups(protected) }},
		{"purge abandoned participants", func() error { return w.purgeAbandonedParticipants(now, protected) }},
		{"purge timed-out waiting groups", func() error { return w.purgeTimedOutGroups(now, protected) }},
		{"purge very old groups", func() error { return w.purgeVeryOldGroups(now) }},
		{"reconcile participant counters", func() error { return w.reconcileCounters(now, protected) }},
		{"activate scheduled groups", func() error { return w.activateScheduledGroups(now) }},
		{"send meeting reminders", func() error { return w.sendMeetingReminders(now) }},
		{"transition completed groups", func() error { return w.transitionCompletedGroups(now) }},
	}

	for _, step := range steps {
		if err := step.fn(); err != nil {
			log.Printf("Error: cleanup step %q failed: %v", step.name, err)
			w.reportStepFailure(step.name, err)
		}
	}
}

func (w *CleanupWorker) reportStepFailure(step string, stepErr error) {
	if w.alerts == nil {
		return
	}
	if err := w.alerts.SendCleanupFailureAlert(step, stepErr); err != nil {
		log.Printf("Warning: failed to send cleanup alert: %v", err)
	}
}

// protectedGroupIDs collects groups excluded from every destructive step of
// this pass: groups younger than the active-protection threshold and scheduled
// groups whose time has not arrived.
func (w *CleanupWorker) protectedGroupIDs(now time.Time) (map[string]bool, error) {
	thresholds := config.ActivityThresholds()
	cutoff := now.Add(-thresholds.ActiveProtection)

	var ids []string
	err := w.db.Model(&models.Group{}).
		Where("created_at > ? OR (is_scheduled = ? AND scheduled_for > ?)", cutoff, true, now).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}

	protected := make(map[string]bool, len(ids))
	for _, id := range ids {
		protected[id] = true
	}
	return protected, nil
}

// purgeEmptyGroups deletes unprotected groups with zero confirmed participants
func (w *CleanupWorker) purgeEmptyGroups(protected map[string]bool) error {
	var groups []models.Group
	err := w.db.Where("status IN ?", []models.GroupStatus{models.GroupWaiting, models.GroupConfirmed}).
		Find(&groups).Error
	if err != nil {
		return err
	}

	for _, group := range groups {
		if protected[group.ID] {
			continue
		}
		var count int64
		if err := w.db.Model(&models.GroupParticipant{}).
			Where("group_id = ? AND status = ?", group.ID, models.ParticipantConfirmed).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			if err := w.deleteGroup(group.ID); err != nil {
				return err
			}
			log.Printf("Purged empty group %s", group.ID)
		}
	}
	return nil
}

// purgeAbandonedParticipants deletes memberships whose activity state derived
// from the heartbeat is abandoned, leaving protected groups alone.
func (w *CleanupWorker) purgeAbandonedParticipants(now time.Time, protected map[string]bool) error {
	thresholds := config.ActivityThresholds()
	cutoff := now.Add(-thresholds.Abandoned)

	var stale []models.GroupParticipant
	if err := w.db.Where("last_seen < ?", cutoff).Find(&stale).Error; err != nil {
		return err
	}

	for _, participant := range stale {
		if protected[participant.GroupID] {
			continue
		}
		if err := w.db.Delete(&models.GroupParticipant{}, participant.ID).Error; err != nil {
			return err
		}
		log.Printf("Purged abandoned participant %s from group %s", participant.UserID, participant.GroupID)
	}
	return nil
}

// purgeTimedOutGroups deletes waiting groups that never filled within the
// formation timeout.
func (w *CleanupWorker) purgeTimedOutGroups(now time.Time, protected map[string]bool) error {
	thresholds := config.ActivityThresholds()
	cutoff := now.Add(-thresholds.FormationTimeout)

	var groups []models.Group
	err := w.db.Where("status = ? AND created_at < ?", models.GroupWaiting, cutoff).
		Find(&groups).Error
	if err != nil {
		return err
	}

	for _, group := range groups {
		if protected[group.ID] {
			continue
		}
		if err := w.deleteGroup(group.ID); err != nil {
			return err
		}
		log.Printf("Purged timed-out waiting group %s", group.ID)
	}
	return nil
}

// purgeVeryOldGroups deletes any non-scheduled group past the very-old
// threshold regardless of status.
func (w *CleanupWorker) purgeVeryOldGroups(now time.Time) error {
	cutoff := now.Add(-config.VeryOldThreshold())

	var groups []models.Group
	err := w.db.Where("created_at < ? AND is_scheduled = ?", cutoff, false).
		Find(&groups).Error
	if err != nil {
		return err
	}

	for _, group := range groups {
		if err := w.deleteGroup(group.ID); err != nil {
			return err
		}
		log.Printf("Purged very old group %s (status %s)", group.ID, group.Status)
	}
	return nil
}

// reconcileCounters recomputes the true confirmed count for every remaining
// active group and repairs drift: stale counters are corrected, emptied groups
// deleted (protected and pending scheduled groups excepted), and confirmed
// groups that fell below capacity are demoted with venue fields cleared.
func (w *CleanupWorker) reconcileCounters(now time.Time, protected map[string]bool) error {
	var groups []models.Group
	err := w.db.Where("status IN ?", []models.GroupStatus{models.GroupWaiting, models.GroupConfirmed}).
		Find(&groups).Error
	if err != nil {
		return err
	}

	for _, group := range groups {
		var count int64
		if err := w.db.Model(&models.GroupParticipant{}).
			Where("group_id = ? AND status = ?", group.ID, models.ParticipantConfirmed).
			Count(&count).Error; err != nil {
			return err
		}
		trueCount := int(count)

		if trueCount == 0 {
			if protected[group.ID] || group.PendingScheduled(now) {
				continue
			}
			if err := w.deleteGroup(group.ID); err != nil {
				return err
			}
			log.Printf("Reconcile: deleted emptied group %s", group.ID)
			continue
		}

		updates := map[string]interface{}{}
		if trueCount != group.CurrentParticipants {
			updates["current_participants"] = trueCount
		}
		if group.Status == models.GroupConfirmed && trueCount < group.MaxParticipants {
			updates["status"] = models.GroupWaiting
			updates["venue_name"] = nil
			updates["venue_address"] = nil
			updates["venue_place_id"] = nil
			updates["venue_latitude"] = nil
			updates["venue_longitude"] = nil
			updates["meeting_time"] = nil
		}
		if len(updates) == 0 {
			continue
		}
		updates["updated_at"] = now

		if err := w.db.Model(&models.Group{}).Where("id = ?", group.ID).Updates(updates).Error; err != nil {
			return err
		}
		log.Printf("Reconcile: corrected group %s (count %d -> %d)", group.ID, group.CurrentParticipants, trueCount)
	}
	return nil
}

// activateScheduledGroups flips scheduled groups whose time has arrived into
// the normal matching pool.
func (w *CleanupWorker) activateScheduledGroups(now time.Time) error {
	res := w.db.Model(&models.Group{}).
		Where("is_scheduled = ? AND scheduled_for <= ? AND status = ?", true, now, models.GroupWaiting).
		Updates(map[string]interface{}{
			"is_scheduled": false,
			"updated_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		log.Printf("Activated %d scheduled groups", res.RowsAffected)
	}
	return nil
}

// sendMeetingReminders posts a one-off reminder into groups whose meeting time
// is approaching. The reminder_sent flag keeps this idempotent across ticks.
func (w *CleanupWorker) sendMeetingReminders(now time.Time) error {
	window := now.Add(30 * time.Minute)

	var groups []models.Group
	err := w.db.Where("status = ? AND reminder_sent = ? AND meeting_time IS NOT NULL AND meeting_time BETWEEN ? AND ?",
		models.GroupConfirmed, false, now, window).
		Find(&groups).Error
	if err != nil {
		return err
	}

	for _, group := range groups {
		if group.VenueName == nil {
			continue
		}
		content := fmt.Sprintf("Reminder: your group meets at %s at %s",
			*group.VenueName, group.MeetingTime.Format("15:04"))
		if err := w.messages.PostSystemMessage(group.ID, content); err != nil {
			return err
		}
		if err := w.db.Model(&models.Group{}).Where("id = ?", group.ID).
			Updates(map[string]interface{}{"reminder_sent": true, "updated_at": now}).Error; err != nil {
			return err
		}
	}
	return nil
}

// transitionCompletedGroups moves confirmed groups whose meeting time plus the
// retention window has elapsed into completed, releasing their participants so
// they can match again.
func (w *CleanupWorker) transitionCompletedGroups(now time.Time) error {
	cutoff := now.Add(-config.CompletionRetention())

	var groups []models.Group
	err := w.db.Where("status = ? AND meeting_time IS NOT NULL AND meeting_time < ?",
		models.GroupConfirmed, cutoff).
		Find(&groups).Error
	if err != nil {
		return err
	}

	for _, group := range groups {
		err := w.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("group_id = ?", group.ID).Delete(&models.GroupParticipant{}).Error; err != nil {
				return err
			}
			return tx.Model(&models.Group{}).Where("id = ? AND status = ?", group.ID, models.GroupConfirmed).
				Updates(map[string]interface{}{
					"status":     models.GroupCompleted,
					"updated_at": now,
				}).Error
		})
		if err != nil {
			return fmt.Errorf("failed to complete group %s: %w", group.ID, err)
		}
		log.Printf("Group %s completed", group.ID)
	}
	return nil
}

// deleteGroup removes a group with its participants and messages in one
// transaction.
func (w *CleanupWorker) deleteGroup(groupID string) error {
	return w.db.Transaction(func(tx *gorm.DB) error {
		return deleteGroupCascade(tx, groupID)
	})
}
