package domain

import (
	"time"

	"github.com/google/uuid"
)

// VerificationLink is a confidence-scored association between an alert and
// a storm report. Links are many-to-many and identified by the
// (alert, report) pair: re-matching the same pair supersedes the existing
// link rather than creating a second one.
type VerificationLink struct {
	ID                 uuid.UUID `json:"id"`
	AlertID            uuid.UUID `json:"alert_id"`
	ReportID           uuid.UUID `json:"report_id"`
	Confidence         float64   `json:"confidence"` // 0.0–1.0
	SpatialContainment bool      `json:"spatial_containment"`
	TemporalOverlap    bool      `json:"temporal_overlap"`
	CreatedAt          time.Time `json:"created_at"`
}
