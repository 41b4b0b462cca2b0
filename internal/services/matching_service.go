package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/activity"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/cache"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/config"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/geo"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/models"

	"gorm.io/gorm"
)

// cacheCellPrecision buckets requesters onto a ~1km grid for the re-join cache
const cacheCellPrecision = 2

// MatchingService decides whether a joining user attaches to an existing
// nearby group or creates a new one. It owns the location cache exclusively;
// the cache only shortlists a candidate and every decision is re-validated
// against a fresh row.
type MatchingService struct {
	db        *gorm.DB
	lifecycle *LifecycleService
	cache     *cache.GroupCache
}

func NewMatchingService(db *gorm.DB, lifecycle *LifecycleService) *MatchingService {
	return &MatchingService{
		db:        db,
		lifecycle: lifecycle,
		cache:     cache.New(5*time.Minute, 1024),
	}
}

// JoinOrCreate is the single entry point for a user action: find a compatible
// waiting group and take a seat, or create a new group with the requester as
// its first participant. The returned bool is true when a group was created.
func (s *MatchingService) JoinOrCreate(userID string, lat, lon float64, locationName string) (*models.Group, bool, error) {
	point, err := geo.Sanitize(lat, lon)
	if err != nil {
		return nil, false, err
	}

	radius := config.SearchRadiusMeters()
	maxAge := config.MaxCandidateAge()

	candidate := s.cachedCandidate(point, radius, maxAge)
	if candidate == nil {
		candidate, err = s.findCompatibleGroup(point, radius, maxAge)
		if err != nil {
			return nil, false, err
		}
	}

	if candidate != nil {
		group, err := s.lifecycle.AddParticipant(candidate.ID, userID, &point)
		switch {
		case err == nil:
			s.rememberMatch(point, group)
			return group, false, nil
		case errors.Is(err, ErrAlreadyInGroup):
			return nil, false, err
		case errors.Is(err, ErrGroupFull) || errors.Is(err, ErrGroupNotJoinable):
			// The group filled or vanished between lookup and join; retry once
			// against freshly re-fetched state before giving up on attaching.
			s.cache.Invalidate(candidate.ID)
			retry, ferr := s.findCompatibleGroup(point, radius, maxAge)
			if ferr != nil {
				return nil, false, ferr
			}
			if retry != nil {
				group, err = s.lifecycle.AddParticipant(retry.ID, userID, &point)
				if err == nil {
					s.rememberMatch(point, group)
					return group, false, nil
				}
				if errors.Is(err, ErrAlreadyInGroup) {
					return nil, false, err
				}
			}
		default:
			return nil, false, err
		}
	}

	group, err := s.lifecycle.CreateGroupWithCreator(point, locationName, userID, nil)
	if err != nil {
		return nil, false, err
	}
	s.rememberMatch(point, group)
	return group, true, nil
}

// findCompatibleGroup returns the nearest compatible waiting group within the
// search radius, or nil when none exists. The primary path is one geospatial
// query ordered by distance; if that query errors the linear-scan fallback
// keeps matching alive with the same eligibility predicate, trading "nearest"
// for "first within radius". Candidates whose members have all gone abandoned
// are skipped in favor of the next one.
func (s *MatchingService) findCompatibleGroup(p geo.Point, radiusMeters float64, maxAge time.Duration) (*models.Group, error) {
	ids, err := s.nearestGroupIDs(p, radiusMeters, maxAge)
	if err != nil {
		log.Printf("Warning: geospatial query failed, falling back to linear scan: %v", err)
		ids, err = s.fallbackScan(p, radiusMeters, maxAge)
		if err != nil {
			return nil, fmt.Errorf("fallback scan failed: %w", err)
		}
	}

	for _, id := range ids {
		if !s.hasLiveParticipant(id) {
			continue
		}
		var group models.Group
		if err := s.db.Where("id = ?", id).First(&group).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		return &group, nil
	}
	return nil, nil
}

// nearestGroupIDs issues the single Haversine-ordered query against waiting
// groups. Only IDs leave the subquery; the chosen row is re-read through GORM
// so column order stays a non-issue.
func (s *MatchingService) nearestGroupIDs(p geo.Point, radiusMeters float64, maxAge time.Duration) ([]string, error) {
	minCreatedAt := time.Now().Add(-maxAge)

	var ids []string
	err := s.db.Raw(`
		SELECT id FROM (
			SELECT id,
			       (? * acos(
			           LEAST(1.0,
			               cos(radians(?)) * cos(radians(latitude)) * cos(radians(longitude) - radians(?))
			               + sin(radians(?)) * sin(radians(latitude))
			           )
			       )) AS distance_m
			FROM "group"
			WHERE status = 'waiting'
			  AND current_participants < max_participants
			  AND is_scheduled = false
			  AND created_at > ?
			  AND latitude IS NOT NULL
			  AND longitude IS NOT NULL
		) candidates
		WHERE distance_m <= ?
		ORDER BY distance_m ASC
		LIMIT 5`,
		geo.EarthRadiusMeters, p.Latitude, p.Longitude, p.Latitude,
		minCreatedAt, radiusMeters,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// fallbackScan loads eligible waiting groups and walks them with an in-process
// Haversine, returning the IDs of those within radius, oldest group first.
func (s *MatchingService) fallbackScan(p geo.Point, radiusMeters float64, maxAge time.Duration) ([]string, error) {
	minCreatedAt := time.Now().Add(-maxAge)

	var candidates []models.Group
	err := s.db.
		Where("status = ? AND current_participants < max_participants AND is_scheduled = ? AND created_at > ?",
			models.GroupWaiting, false, minCreatedAt).
		Where("latitude IS NOT NULL AND longitude IS NOT NULL").
		Order("created_at asc").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	var ids []string
	for i := range candidates {
		g := &candidates[i]
		d := geo.HaversineMeters(p.Latitude, p.Longitude, *g.Latitude, *g.Longitude)
		if d <= radiusMeters {
			ids = append(ids, g.ID)
		}
	}
	return ids, nil
}

// hasLiveParticipant reports whether a group still has at least one member
// whose activity state is not abandoned.
func (s *MatchingService) hasLiveParticipant(groupID string) bool {
	var participants []models.GroupParticipant
	if err := s.db.Where("group_id = ? AND status = ?", groupID, models.ParticipantConfirmed).
		Find(&participants).Error; err != nil {
		log.Printf("Warning: failed to load participants for group %s: %v", groupID, err)
		return false
	}

	thresholds := config.ActivityThresholds()
	now := time.Now()
	for _, participant := range participants {
		if activity.IsLive(activity.Classify(participant.LastSeen, now, thresholds)) {
			return true
		}
	}
	return false
}

// cachedCandidate resolves the cache shortcut for the requester's cell and
// re-validates the group against a fresh row before it may be used.
func (s *MatchingService) cachedCandidate(p geo.Point, radiusMeters float64, maxAge time.Duration) *models.Group {
	groupID, ok := s.cache.Get(cellKey(p))
	if !ok {
		return nil
	}

	var group models.Group
	if err := s.db.Where("id = ?", groupID).First(&group).Error; err != nil {
		s.cache.Invalidate(groupID)
		return nil
	}

	eligible := group.Status == models.GroupWaiting &&
		!group.IsFull() &&
		!group.IsScheduled &&
		group.CreatedAt.After(time.Now().Add(-maxAge)) &&
		group.Latitude != nil && group.Longitude != nil &&
		geo.HaversineMeters(p.Latitude, p.Longitude, *group.Latitude, *group.Longitude) <= radiusMeters &&
		s.hasLiveParticipant(group.ID)
	if !eligible {
		s.cache.Invalidate(groupID)
		return nil
	}
	return &group
}

func (s *MatchingService) rememberMatch(p geo.Point, group *models.Group) {
	if group.IsFull() || group.Status != models.GroupWaiting {
		s.cache.Invalidate(group.ID)
		return
	}
	s.cache.Put(cellKey(p), group.ID)
}

func cellKey(p geo.Point) string {
	cell := geo.CellKey(p.Latitude, p.Longitude, cacheCellPrecision)
	return fmt.Sprintf("%.2f,%.2f", cell.Latitude, cell.Longitude)
}
