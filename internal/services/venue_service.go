package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/config"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/geo"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/models"

	"googlemaps.github.io/maps"
	"gorm.io/gorm"
)

const (
	statusOperational       = "OPERATIONAL"
	statusClosedTemporarily = "CLOSED_TEMPORARILY"
	statusClosedPermanently = "CLOSED_PERMANENTLY"
)

// Candidate priority, highest wins; zero is excluded from selection
const (
	priorityExcluded = 0
	priorityOther    = 0
	priorityLodging  = 1
	priorityBarFood  = 2
	priorityPureBar  = 3
)

var ErrNoVenueFound = errors.New("no venue candidate passed filtering")

// VenueCandidate is a transient provider record, consumed and discarded
// within one assignment attempt.
type VenueCandidate struct {
	Name      string
	Address   string
	PlaceID   string
	Latitude  float64
	Longitude float64
	Types     []string
	Status    string
}

// VenueService assigns a meeting venue to a group that just filled up. The
// whole procedure is idempotent: preconditions are re-checked under a fresh
// read before commit, so duplicate triggers collapse into no-ops.
type VenueService struct {
	db       *gorm.DB
	places   MapsAPI
	messages *MessageService
	alerts   *AlertService
}

func NewVenueService(db *gorm.DB, places MapsAPI, messages *MessageService, alerts *AlertService) *VenueService {
	return &VenueService{db: db, places: places, messages: messages, alerts: alerts}
}

// AssignVenue runs the assignment for a group, logging and reporting failure.
// It is the callback wired into the lifecycle's confirmed transition.
func (s *VenueService) AssignVenue(groupID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.Assign(ctx, groupID); err != nil {
		log.Printf("Error: venue assignment for group %s failed: %v", groupID, err)
	}
}

// Assign picks and commits a venue for the group. Assignment failure is
// terminal for this trigger: the group stays confirmed without a venue and
// the failure is reported, not retried.
func (s *VenueService) Assign(ctx context.Context, groupID string) error {
	var group models.Group
	if err := s.db.Where("id = ?", groupID).First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if !s.assignable(&group) {
		// Benign: the group moved on (member left, venue already set)
		return nil
	}

	groupCenter := geo.Point{Latitude: *group.Latitude, Longitude: *group.Longitude}
	override, overrideCenter := s.resolveRegionalOverride(ctx, groupCenter)

	tiers := config.VenueSearchTiers()
	rules := config.VenueExclusions()

	var selected *VenueCandidate
	for tierIdx, radius := range tiers {
		center := groupCenter
		searchRadius := radius
		// The override biases tier zero toward the metropolitan core's venue
		// density; the first fallback tier reverts to the group's own location.
		if override && tierIdx == 0 {
			center = overrideCenter
			searchRadius = config.Regional().RadiusMeters
		}

		candidates, err := s.searchCandidates(ctx, center, searchRadius)
		if err != nil {
			return fmt.Errorf("venue search failed at tier %d: %w", tierIdx, err)
		}

		candidates = filterCandidates(candidates, rules)
		selected = s.selectVerified(ctx, candidates)
		if selected != nil {
			break
		}
		log.Printf("No venue candidate at tier %d for group %s, escalating", tierIdx, group.ID)
	}

	if selected == nil {
		s.reportFailure(group)
		return ErrNoVenueFound
	}

	return s.commit(group.ID, selected)
}

func (s *VenueService) assignable(group *models.Group) bool {
	return group.Status == models.GroupConfirmed &&
		group.CurrentParticipants >= group.MaxParticipants &&
		!group.HasVenue() &&
		group.Latitude != nil && group.Longitude != nil
}

// resolveRegionalOverride reverse-geocodes the group center and checks the
// administrative area against the configured metropolitan-core keywords.
func (s *VenueService) resolveRegionalOverride(ctx context.Context, center geo.Point) (bool, geo.Point) {
	regional := config.Regional()

	results, err := s.places.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: center.Latitude, Lng: center.Longitude},
	})
	if err != nil {
		log.Printf("Warning: reverse geocode failed, skipping regional override: %v", err)
		return false, geo.Point{}
	}

	for _, result := range results {
		for _, component := range result.AddressComponents {
			for _, keyword := range regional.AreaKeywords {
				if strings.EqualFold(component.LongName, keyword) ||
					strings.EqualFold(component.ShortName, keyword) {
					return true, regional.Center
				}
			}
		}
	}
	return false, geo.Point{}
}

// searchCandidates queries the provider for bars and pubs around the center.
// "pub" is not a provider category, so a keyword search is merged in.
func (s *VenueService) searchCandidates(ctx context.Context, center geo.Point, radiusMeters float64) ([]VenueCandidate, error) {
	location := &maps.LatLng{Lat: center.Latitude, Lng: center.Longitude}

	barResp, err := s.places.NearbySearch(ctx, &maps.NearbySearchRequest{
		Location: location,
		Radius:   uint(radiusMeters),
		Type:     maps.PlaceTypeBar,
	})
	if err != nil {
		return nil, err
	}

	pubResp, err := s.places.NearbySearch(ctx, &maps.NearbySearchRequest{
		Location: location,
		Radius:   uint(radiusMeters),
		Keyword:  "pub",
	})
	if err != nil {
		// The bar search already succeeded; a failed pub merge narrows the
		// pool but should not abort the tier.
		log.Printf("Warning: pub keyword search failed: %v", err)
		pubResp = maps.PlacesSearchResponse{}
	}

	seen := make(map[string]bool)
	var candidates []VenueCandidate
	for _, result := range append(barResp.Results, pubResp.Results...) {
		if result.PlaceID == "" || seen[result.PlaceID] {
			continue
		}
		seen[result.PlaceID] = true

		address := result.FormattedAddress
		if address == "" {
			address = result.Vicinity
		}
		candidates = append(candidates, VenueCandidate{
			Name:      result.Name,
			Address:   address,
			PlaceID:   result.PlaceID,
			Latitude:  result.Geometry.Location.Lat,
			Longitude: result.Geometry.Location.Lng,
			Types:     result.Types,
			Status:    result.BusinessStatus,
		})
	}
	return candidates, nil
}

// filterCandidates drops closed venues and everything the exclusion rules
// reject. Missing provider status defaults to open.
func filterCandidates(candidates []VenueCandidate, rules config.ExclusionRules) []VenueCandidate {
	var kept []VenueCandidate
	for _, c := range candidates {
		if c.Status == statusClosedPermanently || c.Status == statusClosedTemporarily {
			continue
		}
		if excluded(c, rules) {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// excluded applies the rule set: category tags first, then name keywords,
// with the allowlist rescuing named exceptions. Failing any rule drops the
// venue regardless of how well its category matched.
func excluded(c VenueCandidate, rules config.ExclusionRules) bool {
	for _, t := range c.Types {
		for _, banned := range rules.Types {
			if t == banned {
				return true
			}
		}
	}

	name := strings.ToLower(c.Name)
	for _, allowed := range rules.Allowlist {
		if strings.Contains(name, strings.ToLower(allowed)) {
			return false
		}
	}
	for _, keyword := range rules.Keywords {
		if strings.Contains(name, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

// priorityOf ranks candidates: a pure bar or pub beats a bar-restaurant,
// which beats a hotel bar; anything else never gets selected.
func priorityOf(c VenueCandidate) int {
	hasBar := false
	hasRestaurant := false
	hasLodging := false
	for _, t := range c.Types {
		switch t {
		case "bar", "pub", "night_club":
			hasBar = true
		case "restaurant", "food", "cafe":
			hasRestaurant = true
		case "lodging":
			hasLodging = true
		}
	}

	switch {
	case hasBar && hasLodging:
		return priorityLodging
	case hasBar && hasRestaurant:
		return priorityBarFood
	case hasBar:
		return priorityPureBar
	default:
		return priorityOther
	}
}

// selectVerified repeatedly picks uniformly among the top-priority candidates
// and re-verifies the pick's live status with a second provider call, removing
// closed venues from the pool until one passes or the pool empties.
func (s *VenueService) selectVerified(ctx context.Context, candidates []VenueCandidate) *VenueCandidate {
	pool := make([]VenueCandidate, len(candidates))
	copy(pool, candidates)

	for len(pool) > 0 {
		best := priorityExcluded
		for _, c := range pool {
			if p := priorityOf(c); p > best {
				best = p
			}
		}
		if best == priorityExcluded {
			return nil
		}

		var top []int
		for i, c := range pool {
			if priorityOf(c) == best {
				top = append(top, i)
			}
		}
		pick := top[rand.Intn(len(top))]
		candidate := pool[pick]

		if s.verifyOpen(ctx, candidate.PlaceID) {
			return &candidate
		}
		log.Printf("Venue %s (%s) no longer operating, removing from pool", candidate.Name, candidate.PlaceID)
		pool = append(pool[:pick], pool[pick+1:]...)
	}
	return nil
}

// verifyOpen re-checks operating status right before commit; an unavailable
// status or a failed lookup counts as open, matching the search-time default.
func (s *VenueService) verifyOpen(ctx context.Context, placeID string) bool {
	details, err := s.places.PlaceDetails(ctx, &maps.PlaceDetailsRequest{
		PlaceID: placeID,
		Fields: []maps.PlaceDetailsFieldMask{
			maps.PlaceDetailsFieldMaskBusinessStatus,
		},
	})
	if err != nil {
		log.Printf("Warning: status re-check failed for %s: %v", placeID, err)
		return true
	}
	return details.BusinessStatus != statusClosedPermanently &&
		details.BusinessStatus != statusClosedTemporarily
}

// commit writes all venue fields and the meeting time in one guarded update.
// The precondition predicate rides inside the UPDATE so a concurrent commit
// or a demotion to waiting turns this into a no-op.
func (s *VenueService) commit(groupID string, venue *VenueCandidate) error {
	meetingTime := time.Now().Add(config.MeetingOffset())

	res := s.db.Model(&models.Group{}).
		Where("id = ? AND status = ? AND venue_place_id IS NULL", groupID, models.GroupConfirmed).
		Updates(map[string]interface{}{
			"venue_name":      venue.Name,
			"venue_address":   venue.Address,
			"venue_place_id":  venue.PlaceID,
			"venue_latitude":  venue.Latitude,
			"venue_longitude": venue.Longitude,
			"meeting_time":    meetingTime,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to commit venue: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Someone else committed first, or the group left confirmed
		return nil
	}

	content := fmt.Sprintf("Rendez-vous at %s, %s. Meeting time: %s",
		venue.Name, venue.Address, meetingTime.Format("15:04"))
	if err := s.messages.PostSystemMessage(groupID, content); err != nil {
		log.Printf("Warning: failed to post venue message for group %s: %v", groupID, err)
	}
	return nil
}

// reportFailure surfaces an exhausted search: a system message for the group
// and an ops alert. No automatic retry; the next qualifying transition re-arms
// the preconditions.
func (s *VenueService) reportFailure(group models.Group) {
	if err := s.messages.PostSystemMessage(group.ID,
		"No venue found nearby. The group stays confirmed, hang tight."); err != nil {
		log.Printf("Warning: failed to post no-venue message for group %s: %v", group.ID, err)
	}
	if s.alerts == nil {
		return
	}
	if err := s.alerts.SendVenueFailureAlert(group, "all fallback tiers exhausted"); err != nil {
		log.Printf("Warning: failed to send venue failure alert: %v", err)
	}
}
