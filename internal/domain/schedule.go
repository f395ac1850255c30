package domain

import "time"

// Feed identifies one of the two independently scheduled source feeds.
type Feed string

const (
	FeedAlerts  Feed = "alerts"
	FeedReports Feed = "reports"
)

// MaxReportAgeDays bounds automatic report polling. Dates older than this
// are settled historical data and fire only on manual trigger, protecting
// them from late corrections overwriting verified rows.
const MaxReportAgeDays = 15

// CadenceTier is the polling-interval bracket for a target date, selected
// by how many days old the data is.
type CadenceTier int

const (
	TierRealtime CadenceTier = iota // age 0: 5 minutes
	TierRecent                      // age 1–4: 30 minutes
	TierWeek                        // age 5–7: 60 minutes
	TierSettling                    // age 8–15: 24 hours
	TierManual                      // age >15: no automatic fire
)

// TierForAge maps target-day age in days to its cadence tier.
func TierForAge(ageDays int) CadenceTier {
	switch {
	case ageDays <= 0:
		return TierRealtime
	case ageDays <= 4:
		return TierRecent
	case ageDays <= 7:
		return TierWeek
	case ageDays <= MaxReportAgeDays:
		return TierSettling
	default:
		return TierManual
	}
}

// Interval returns the polling interval for the tier, and false for
// manual-only tiers.
func (t CadenceTier) Interval() (time.Duration, bool) {
	switch t {
	case TierRealtime:
		return 5 * time.Minute, true
	case TierRecent:
		return 30 * time.Minute, true
	case TierWeek:
		return time.Hour, true
	case TierSettling:
		return 24 * time.Hour, true
	default:
		return 0, false
	}
}

func (t CadenceTier) String() string {
	switch t {
	case TierRealtime:
		return "realtime"
	case TierRecent:
		return "recent"
	case TierWeek:
		return "week"
	case TierSettling:
		return "settling"
	default:
		return "manual"
	}
}

// ScheduleSnapshot is a read-only view of one feed lane's state, served by
// the administrative surface.
type ScheduleSnapshot struct {
	Feed          Feed          `json:"feed"`
	Running       bool          `json:"running"`
	Firing        bool          `json:"firing"`
	Tier          string        `json:"tier"`
	NextFireIn    time.Duration `json:"next_fire_in"`
	LastSuccess   string        `json:"last_success,omitempty"`
	LastSuccessAt time.Time     `json:"last_success_at,omitzero"`
	LastFailure   string        `json:"last_failure,omitempty"`
	LastFailureAt time.Time     `json:"last_failure_at,omitzero"`
}
