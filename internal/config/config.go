package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/activity"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/geo"
)

// All engine tunables come from the environment with code defaults, so thresholds
// and radii can be changed per deployment without a rebuild.

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}

// ActivityThresholds returns the four ascending liveness thresholds
func ActivityThresholds() activity.Thresholds {
	return activity.Thresholds{
		Connection:       envDuration("ACTIVITY_CONNECTION_THRESHOLD", 5*time.Minute),
		ActiveProtection: envDuration("ACTIVITY_PROTECTION_THRESHOLD", 30*time.Minute),
		FormationTimeout: envDuration("GROUP_FORMATION_TIMEOUT", time.Hour),
		Abandoned:        envDuration("ACTIVITY_ABANDONED_THRESHOLD", 3*time.Hour),
	}
}

// SearchRadiusMeters is the radius within which a requester can attach to a waiting group
func SearchRadiusMeters() float64 {
	return envFloat("MATCH_SEARCH_RADIUS_METERS", 10000)
}

// MaxCandidateAge bounds how old a waiting group may be and still accept joiners
func MaxCandidateAge() time.Duration {
	return envDuration("MATCH_MAX_CANDIDATE_AGE", time.Hour)
}

// CleanupInterval is the period of the eviction scheduler
func CleanupInterval() time.Duration {
	return envDuration("CLEANUP_INTERVAL", 30*time.Minute)
}

// VeryOldThreshold is the age past which any non-scheduled group is purged
func VeryOldThreshold() time.Duration {
	return envDuration("CLEANUP_VERY_OLD_THRESHOLD", 24*time.Hour)
}

// CompletionRetention is how long after its meeting time a confirmed group
// stays confirmed before moving to completed
func CompletionRetention() time.Duration {
	return envDuration("GROUP_COMPLETION_RETENTION", 2*time.Hour)
}

// MeetingOffset is how far in the future the meeting time is set at assignment
func MeetingOffset() time.Duration {
	return envDuration("VENUE_MEETING_OFFSET", 15*time.Minute)
}

// DuplicateMessageWindow is the recent window checked before emitting a system message
func DuplicateMessageWindow() time.Duration {
	return envDuration("MESSAGE_DEDUP_WINDOW", 10*time.Minute)
}

// VenueSearchTiers returns the escalating search radii for venue assignment,
// first entry being the primary tier
func VenueSearchTiers() []float64 {
	return []float64{
		envFloat("VENUE_RADIUS_TIER0", 5000),
		envFloat("VENUE_RADIUS_TIER1", 10000),
		envFloat("VENUE_RADIUS_TIER2", 15000),
	}
}

// RegionalOverride describes the metropolitan-core recentering rule: requesters
// resolving to the named administrative area are searched from the canonical
// center with a tighter radius.
type RegionalOverride struct {
	Center       geo.Point
	RadiusMeters float64
	AreaKeywords []string
}

// Regional returns the configured metropolitan-core override
func Regional() RegionalOverride {
	return RegionalOverride{
		Center: geo.Point{
			Latitude:  envFloat("REGION_CENTER_LAT", 48.8566),
			Longitude: envFloat("REGION_CENTER_LON", 2.3522),
		},
		RadiusMeters: envFloat("REGION_RADIUS_METERS", 4000),
		AreaKeywords: envList("REGION_AREA_KEYWORDS", []string{"Paris", "Île-de-France"}),
	}
}

// ExclusionRules is the configurable venue filter: category tags are the primary
// signal, name keywords the secondary, with a small allowlist for named exceptions.
type ExclusionRules struct {
	Types     []string
	Keywords  []string
	Allowlist []string
}

// VenueExclusions returns the active exclusion rule set
func VenueExclusions() ExclusionRules {
	return ExclusionRules{
		Types: envList("VENUE_EXCLUDED_TYPES", []string{
			"airport", "casino", "gas_station", "convenience_store",
			"meal_takeaway", "meal_delivery",
		}),
		Keywords: envList("VENUE_EXCLUDED_KEYWORDS", []string{
			"aéroport", "airport", "port", "marina",
			"tabac", "pmu", "betting", "paris sportifs",
			"mcdonald", "kfc", "burger king", "quick", "subway", "fast food",
		}),
		Allowlist: envList("VENUE_KEYWORD_ALLOWLIST", []string{"vieux port"}),
	}
}
