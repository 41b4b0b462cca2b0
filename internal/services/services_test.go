package services

import (
	"testing"
	"time"

	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/database"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/geo"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Central Paris, used as the default test location
var testPoint = geo.Point{Latitude: 48.8566, Longitude: 2.3522}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

func fetchGroup(t *testing.T, db *gorm.DB, id string) models.Group {
	t.Helper()
	var group models.Group
	if err := db.Where("id = ?", id).First(&group).Error; err != nil {
		t.Fatalf("Failed to fetch group %s: %v", id, err)
	}
	return group
}

func confirmedCount(t *testing.T, db *gorm.DB, groupID string) int {
	t.Helper()
	var count int64
	if err := db.Model(&models.GroupParticipant{}).
		Where("group_id = ? AND status = ?", groupID, models.ParticipantConfirmed).
		Count(&count).Error; err != nil {
		t.Fatalf("Failed to count participants: %v", err)
	}
	return int(count)
}

func setVenue(t *testing.T, db *gorm.DB, groupID string) {
	t.Helper()
	meetingTime := time.Now().Add(30 * time.Minute)
	err := db.Model(&models.Group{}).Where("id = ?", groupID).Updates(map[string]interface{}{
		"venue_name":      "Le Comptoir",
		"venue_address":   "12 Rue Example, Paris",
		"venue_place_id":  "place-123",
		"venue_latitude":  48.857,
		"venue_longitude": 2.353,
		"meeting_time":    meetingTime,
	}).Error
	if err != nil {
		t.Fatalf("Failed to set venue: %v", err)
	}
}

func venueCleared(g models.Group) bool {
	return g.VenueName == nil && g.VenueAddress == nil && g.VenuePlaceID == nil &&
		g.VenueLatitude == nil && g.VenueLongitude == nil && g.MeetingTime == nil
}
