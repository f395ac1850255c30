package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// Severity is the alert issuer's severity classification.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
	SeverityExtreme  Severity = "extreme"
	SeverityUnknown  Severity = "unknown"
)

// Urgency is the alert issuer's urgency classification.
type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencyExpected  Urgency = "expected"
	UrgencyFuture    Urgency = "future"
	UrgencyPast      Urgency = "past"
	UrgencyUnknown   Urgency = "unknown"
)

// Certainty is the alert issuer's certainty classification.
type Certainty string

const (
	CertaintyObserved Certainty = "observed"
	CertaintyLikely   Certainty = "likely"
	CertaintyPossible Certainty = "possible"
	CertaintyUnlikely Certainty = "unlikely"
	CertaintyUnknown  Certainty = "unknown"
)

// Magnitudes holds the radar-indicated hail and wind magnitudes attached to
// an alert, either from structured feed parameters or extracted from free
// text. A nil value with a false detected flag means the signal was absent,
// never that it was zero.
type Magnitudes struct {
	HailInches   *float64 `json:"hail_inches,omitempty"`
	HailDetected bool     `json:"hail_detected"`
	WindMPH      *float64 `json:"wind_mph,omitempty"`
	WindDetected bool     `json:"wind_detected"`
}

// AlertRecord is a normalized hazard alert.
type AlertRecord struct {
	ID          uuid.UUID `json:"id"`
	ExternalID  string    `json:"external_id"`
	Event       string    `json:"event"`
	Severity    Severity  `json:"severity"`
	Urgency     Urgency   `json:"urgency"`
	Certainty   Certainty `json:"certainty"`
	Effective   time.Time `json:"effective"`
	Expires     time.Time `json:"expires"`
	Sent        time.Time `json:"sent"`
	Headline    string    `json:"headline,omitempty"`
	Description string    `json:"description,omitempty"`

	// Geometry is the alert polygon, nil when the feed supplied none.
	// RawGeometry preserves the feed's GeoJSON encoding for storage.
	Geometry    orb.MultiPolygon `json:"-"`
	RawGeometry []byte           `json:"geometry,omitempty"`

	Magnitudes Magnitudes `json:"magnitudes"`

	State     string   `json:"state,omitempty"`
	Counties  []string `json:"counties,omitempty"`
	AreaCodes []string `json:"area_codes,omitempty"`

	Verified   bool      `json:"verified"`
	IngestedAt time.Time `json:"ingested_at"`
}

// HasGeometry reports whether the alert carries a usable polygon.
func (a AlertRecord) HasGeometry() bool {
	return len(a.Geometry) > 0
}

// Window returns the alert's [effective, expires] validity window.
func (a AlertRecord) Window() (time.Time, time.Time) {
	return a.Effective, a.Expires
}

// ParseSeverity normalizes a feed severity string.
func ParseSeverity(s string) Severity {
	switch normalizeEnum(s) {
	case "minor":
		return SeverityMinor
	case "moderate":
		return SeverityModerate
	case "severe":
		return SeveritySevere
	case "extreme":
		return SeverityExtreme
	default:
		return SeverityUnknown
	}
}

// ParseUrgency normalizes a feed urgency string.
func ParseUrgency(s string) Urgency {
	switch normalizeEnum(s) {
	case "immediate":
		return UrgencyImmediate
	case "expected":
		return UrgencyExpected
	case "future":
		return UrgencyFuture
	case "past":
		return UrgencyPast
	default:
		return UrgencyUnknown
	}
}

// ParseCertainty normalizes a feed certainty string.
func ParseCertainty(s string) Certainty {
	switch normalizeEnum(s) {
	case "observed":
		return CertaintyObserved
	case "likely":
		return CertaintyLikely
	case "possible":
		return CertaintyPossible
	case "unlikely":
		return CertaintyUnlikely
	default:
		return CertaintyUnknown
	}
}
