package activity

import "time"

// State classifies a participant's liveness from their last heartbeat.
// It is derived on every read and never persisted.
type State string

const (
	Connected State = "connected"
	Waiting   State = "waiting"
	Passive   State = "passive"
	Abandoned State = "abandoned"
)

// Thresholds are the four ascending durations that partition elapsed time
// since the last heartbeat into activity states.
type Thresholds struct {
	Connection       time.Duration // below this: connected
	ActiveProtection time.Duration // below this: waiting
	FormationTimeout time.Duration // below this: passive
	Abandoned        time.Duration // at or past this: abandoned
}

// Classify maps the elapsed time since lastSeen onto an activity state.
// Thresholds must be ascending; elapsed time in the future counts as connected.
func Classify(lastSeen, now time.Time, t Thresholds) State {
	elapsed := now.Sub(lastSeen)
	switch {
	case elapsed < t.Connection:
		return Connected
	case elapsed < t.ActiveProtection:
		return Waiting
	case elapsed < t.Abandoned:
		return Passive
	default:
		return Abandoned
	}
}

// IsLive reports whether a participant in the given state still counts
// toward a group's viability.
func IsLive(s State) bool {
	return s != Abandoned
}
