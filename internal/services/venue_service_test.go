package services

import (
	"context"
	"errors"
	"testing"

	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/config"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/models"

	"googlemaps.github.io/maps"
	"gorm.io/gorm"
)

// fakeMaps scripts the provider: nearby results per tier, per-place statuses,
// and the administrative area returned by reverse geocoding.
type fakeMaps struct {
	nearbyByRadius map[uint][]maps.PlacesSearchResult
	statusByPlace  map[string]string
	adminArea      string
	geocodeErr     error

	nearbyCenters []maps.LatLng
	detailCalls   int
}

func (f *fakeMaps) NearbySearch(ctx context.Context, r *maps.NearbySearchRequest) (maps.PlacesSearchResponse, error) {
	f.nearbyCenters = append(f.nearbyCenters, *r.Location)
	return maps.PlacesSearchResponse{Results: f.nearbyByRadius[r.Radius]}, nil
}

func (f *fakeMaps) PlaceDetails(ctx context.Context, r *maps.PlaceDetailsRequest) (maps.PlaceDetailsResult, error) {
	f.detailCalls++
	status, ok := f.statusByPlace[r.PlaceID]
	if !ok {
		status = statusOperational
	}
	return maps.PlaceDetailsResult{BusinessStatus: status}, nil
}

func (f *fakeMaps) ReverseGeocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error) {
	if f.geocodeErr != nil {
		return nil, f.geocodeErr
	}
	if f.adminArea == "" {
		return nil, nil
	}
	return []maps.GeocodingResult{{
		AddressComponents: []maps.AddressComponent{
			{LongName: f.adminArea, Types: []string{"administrative_area_level_1"}},
		},
	}}, nil
}

func barResult(placeID, name string, types ...string) maps.PlacesSearchResult {
	return maps.PlacesSearchResult{
		PlaceID:        placeID,
		Name:           name,
		Vicinity:       "1 Rue du Test",
		Types:          types,
		BusinessStatus: statusOperational,
		Geometry:       maps.AddressGeometry{Location: maps.LatLng{Lat: 48.86, Lng: 2.35}},
	}
}

func newVenueFixture(t *testing.T, fake *fakeMaps) (*gorm.DB, *VenueService, *models.Group) {
	t.Helper()
	db := setupTestDB(t)
	lifecycle := NewLifecycleService(db)
	venueSvc := NewVenueService(db, fake, NewMessageService(db), nil)

	group := fillGroup(t, lifecycle, "user")
	return db, venueSvc, group
}

func TestAssignCommitsVenueAndMeetingTime(t *testing.T) {
	fake := &fakeMaps{
		nearbyByRadius: map[uint][]maps.PlacesSearchResult{
			5000: {barResult("bar-1", "Chez Marcel", "bar")},
		},
	}
	db, venueSvc, group := newVenueFixture(t, fake)

	if err := venueSvc.Assign(context.Background(), group.ID); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	updated := fetchGroup(t, db, group.ID)
	if updated.VenuePlaceID == nil || *updated.VenuePlaceID != "bar-1" {
		t.Fatal("venue not committed")
	}
	if updated.VenueName == nil || updated.VenueAddress == nil ||
		updated.VenueLatitude == nil || updated.VenueLongitude == nil || updated.MeetingTime == nil {
		t.Error("venue fields must be all-set after assignment")
	}

	var messages int64
	db.Model(&models.Message{}).
		Where("group_id = ? AND sender = ?", group.ID, models.SystemSender).
		Count(&messages)
	if messages != 1 {
		t.Errorf("expected one system message, got %d", messages)
	}
}

func TestAssignIsIdempotent(t *testing.T) {
	fake := &fakeMaps{
		nearbyByRadius: map[uint][]maps.PlacesSearchResult{
			5000: {barResult("bar-1", "Chez Marcel", "bar")},
		},
	}
	db, venueSvc, group := newVenueFixture(t, fake)

	if err := venueSvc.Assign(context.Background(), group.ID); err != nil {
		t.Fatalf("first Assign failed: %v", err)
	}
	first := fetchGroup(t, db, group.ID)

	if err := venueSvc.Assign(context.Background(), group.ID); err != nil {
		t.Fatalf("second Assign failed: %v", err)
	}
	second := fetchGroup(t, db, group.ID)

	if *first.VenuePlaceID != *second.VenuePlaceID || !first.MeetingTime.Equal(*second.MeetingTime) {
		t.Error("second invocation changed the committed venue")
	}

	var messages int64
	db.Model(&models.Message{}).
		Where("group_id = ? AND sender = ?", group.ID, models.SystemSender).
		Count(&messages)
	if messages != 1 {
		t.Errorf("duplicate system message emitted: %d", messages)
	}
}

func TestAssignEscalatesPastExcludedCandidates(t *testing.T) {
	// Tier zero only offers a fast-food place and a tobacco shop; both are
	// excluded, so the search must escalate to the next radius.
	fake := &fakeMaps{
		nearbyByRadius: map[uint][]maps.PlacesSearchResult{
			5000: {
				barResult("ff-1", "Burger Corner", "bar", "meal_takeaway"),
				barResult("tb-1", "Le Tabac du Coin", "bar"),
			},
			10000: {barResult("bar-2", "The Green Pub", "bar")},
		},
	}
	db, venueSvc, group := newVenueFixture(t, fake)

	if err := venueSvc.Assign(context.Background(), group.ID); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	updated := fetchGroup(t, db, group.ID)
	if updated.VenuePlaceID == nil || *updated.VenuePlaceID != "bar-2" {
		t.Error("expected the tier-1 candidate after tier-0 exclusions")
	}
}

func TestAssignFailsWhenAllTiersExhausted(t *testing.T) {
	fake := &fakeMaps{nearbyByRadius: map[uint][]maps.PlacesSearchResult{}}
	db, venueSvc, group := newVenueFixture(t, fake)

	err := venueSvc.Assign(context.Background(), group.ID)
	if !errors.Is(err, ErrNoVenueFound) {
		t.Fatalf("expected ErrNoVenueFound, got %v", err)
	}

	updated := fetchGroup(t, db, group.ID)
	if updated.Status != models.GroupConfirmed {
		t.Errorf("group must stay confirmed without a venue, got %s", updated.Status)
	}
	if updated.HasVenue() {
		t.Error("no venue fields should be set")
	}

	var messages int64
	db.Model(&models.Message{}).
		Where("group_id = ? AND sender = ?", group.ID, models.SystemSender).
		Count(&messages)
	if messages != 1 {
		t.Errorf("expected one no-venue message, got %d", messages)
	}
}

func TestAssignSkipsClosedOnRecheck(t *testing.T) {
	fake := &fakeMaps{
		nearbyByRadius: map[uint][]maps.PlacesSearchResult{
			5000: {
				barResult("bar-closed", "Le Fermé", "bar"),
				barResult("bar-food", "Brasserie Ouverte", "bar", "restaurant"),
			},
		},
		statusByPlace: map[string]string{"bar-closed": statusClosedPermanently},
	}
	db, venueSvc, group := newVenueFixture(t, fake)

	if err := venueSvc.Assign(context.Background(), group.ID); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	updated := fetchGroup(t, db, group.ID)
	if updated.VenuePlaceID == nil || *updated.VenuePlaceID != "bar-food" {
		t.Error("closed venue should be dropped on re-verification")
	}
}

func TestAssignNoOpWhenGroupNotEligible(t *testing.T) {
	fake := &fakeMaps{
		nearbyByRadius: map[uint][]maps.PlacesSearchResult{
			5000: {barResult("bar-1", "Chez Marcel", "bar")},
		},
	}
	db, venueSvc, group := newVenueFixture(t, fake)

	// A member left before the trigger actually ran
	db.Model(&models.Group{}).Where("id = ?", group.ID).Updates(map[string]interface{}{
		"status":               models.GroupWaiting,
		"current_participants": 4,
	})

	if err := venueSvc.Assign(context.Background(), group.ID); err != nil {
		t.Fatalf("expected benign no-op, got %v", err)
	}

	updated := fetchGroup(t, db, group.ID)
	if updated.HasVenue() {
		t.Error("ineligible group must not receive a venue")
	}
}

func TestRegionalOverrideRecentersTierZero(t *testing.T) {
	fake := &fakeMaps{
		adminArea: "Paris",
		nearbyByRadius: map[uint][]maps.PlacesSearchResult{
			4000: {barResult("bar-1", "Chez Marcel", "bar")},
		},
	}
	db, venueSvc, group := newVenueFixture(t, fake)

	// Group center inside the administrative area but away from the core
	db.Model(&models.Group{}).Where("id = ?", group.ID).
		Updates(map[string]interface{}{"latitude": 48.8924, "longitude": 2.2370})

	if err := venueSvc.Assign(context.Background(), group.ID); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	regional := config.Regional()
	if len(fake.nearbyCenters) == 0 {
		t.Fatal("no nearby search issued")
	}
	first := fake.nearbyCenters[0]
	if first.Lat != regional.Center.Latitude || first.Lng != regional.Center.Longitude {
		t.Errorf("tier zero should center on the regional core, got %v", first)
	}
}

func TestPriorityOf(t *testing.T) {
	cases := []struct {
		name  string
		types []string
		want  int
	}{
		{"pure bar", []string{"bar", "point_of_interest"}, priorityPureBar},
		{"bar and restaurant", []string{"bar", "restaurant"}, priorityBarFood},
		{"hotel bar", []string{"bar", "lodging"}, priorityLodging},
		{"plain restaurant", []string{"restaurant"}, priorityOther},
		{"unrelated", []string{"museum"}, priorityOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := priorityOf(VenueCandidate{Types: tc.types})
			if got != tc.want {
				t.Errorf("priorityOf(%v) = %d, want %d", tc.types, got, tc.want)
			}
		})
	}
}

func TestExclusionRules(t *testing.T) {
	rules := config.VenueExclusions()

	cases := []struct {
		name     string
		venue    VenueCandidate
		excluded bool
	}{
		{"regular bar", VenueCandidate{Name: "Le Comptoir", Types: []string{"bar"}}, false},
		{"airport type", VenueCandidate{Name: "Sky Bar", Types: []string{"bar", "airport"}}, true},
		{"fast food keyword", VenueCandidate{Name: "McDonald's Opéra", Types: []string{"bar"}}, true},
		{"tobacco keyword", VenueCandidate{Name: "Bar Tabac de la Gare", Types: []string{"bar"}}, true},
		{"betting keyword", VenueCandidate{Name: "PMU Le Trio", Types: []string{"bar"}}, true},
		{"marina keyword", VenueCandidate{Name: "Marina Lounge", Types: []string{"bar"}}, true},
		{"allowlisted exception", VenueCandidate{Name: "Bar du Vieux Port", Types: []string{"bar"}}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := excluded(tc.venue, rules); got != tc.excluded {
				t.Errorf("excluded(%q) = %v, want %v", tc.venue.Name, got, tc.excluded)
			}
		})
	}
}

func TestFilterCandidatesDropsClosed(t *testing.T) {
	rules := config.VenueExclusions()
	candidates := []VenueCandidate{
		{Name: "Open Bar", PlaceID: "a", Types: []string{"bar"}, Status: statusOperational},
		{Name: "Closed Bar", PlaceID: "b", Types: []string{"bar"}, Status: statusClosedTemporarily},
		{Name: "Unknown Status Bar", PlaceID: "c", Types: []string{"bar"}},
	}

	kept := filterCandidates(candidates, rules)
	if len(kept) != 2 {
		t.Fatalf("expected 2 kept, got %d", len(kept))
	}
	for _, c := range kept {
		if c.PlaceID == "b" {
			t.Error("temporarily closed venue should be filtered out")
		}
	}
}
