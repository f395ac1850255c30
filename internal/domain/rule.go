package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NotificationRule selects records for delivery to a target endpoint.
// Rules are created through the administrative surface; the pipeline only
// reads active ones. Empty filter sets mean "match everything"; magnitude
// thresholds are >= comparisons against detected magnitudes.
type NotificationRule struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	States        []string  `json:"states,omitempty"`
	Counties      []string  `json:"counties,omitempty"`
	AreaCodes     []string  `json:"area_codes,omitempty"`
	MinHailInches *float64  `json:"min_hail_inches,omitempty"`
	MinWindMPH    *float64  `json:"min_wind_mph,omitempty"`
	EventTypes    []string  `json:"event_types,omitempty"`
	Endpoint      string    `json:"endpoint"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MatchesAlert reports whether the rule's geographic, magnitude, and
// event-type filters all pass for the alert.
func (r NotificationRule) MatchesAlert(a AlertRecord) bool {
	if !r.matchesGeo(a.State, a.Counties, a.AreaCodes) {
		return false
	}
	if !r.matchesEventType(a.Event) {
		return false
	}
	return r.matchesMagnitudes(a.Magnitudes)
}

// MatchesReport reports whether the rule's filters pass for the storm
// report. The report's single magnitude is compared against the threshold
// for its own category; tornado reports bypass the magnitude gate since
// rules carry no EF threshold.
func (r NotificationRule) MatchesReport(rep StormReport) bool {
	if !r.matchesGeo(rep.State, []string{rep.County}, nil) {
		return false
	}
	if !r.matchesEventType(string(rep.Category)) {
		return false
	}
	switch rep.Category {
	case CategoryHail:
		return r.MinHailInches == nil || (!rep.UnknownMag && rep.Magnitude >= *r.MinHailInches)
	case CategoryWind:
		return r.MinWindMPH == nil || (!rep.UnknownMag && rep.Magnitude >= *r.MinWindMPH)
	default:
		return r.MinHailInches == nil && r.MinWindMPH == nil
	}
}

// matchesGeo tests set membership for any configured geographic filter.
// A rule with no geographic sets matches every location.
func (r NotificationRule) matchesGeo(state string, counties, areaCodes []string) bool {
	if len(r.States) == 0 && len(r.Counties) == 0 && len(r.AreaCodes) == 0 {
		return true
	}
	if containsFold(r.States, state) {
		return true
	}
	for _, c := range counties {
		if containsFold(r.Counties, c) {
			return true
		}
	}
	for _, code := range areaCodes {
		if containsFold(r.AreaCodes, code) {
			return true
		}
	}
	return false
}

func (r NotificationRule) matchesEventType(event string) bool {
	if len(r.EventTypes) == 0 {
		return true
	}
	for _, t := range r.EventTypes {
		if strings.Contains(strings.ToLower(event), strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// matchesMagnitudes passes when no threshold is configured, or when any
// configured threshold is met by a detected magnitude of the same kind.
// An undetected magnitude never satisfies a threshold.
func (r NotificationRule) matchesMagnitudes(m Magnitudes) bool {
	if r.MinHailInches == nil && r.MinWindMPH == nil {
		return true
	}
	if r.MinHailInches != nil && m.HailDetected && m.HailInches != nil && *m.HailInches >= *r.MinHailInches {
		return true
	}
	if r.MinWindMPH != nil && m.WindDetected && m.WindMPH != nil && *m.WindMPH >= *r.MinWindMPH {
		return true
	}
	return false
}

func containsFold(set []string, v string) bool {
	if v == "" {
		return false
	}
	return slices.ContainsFunc(set, func(s string) bool {
		return strings.EqualFold(s, v)
	})
}
