package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReportCategory is the hazard class of a ground-truth storm report.
type ReportCategory string

const (
	CategoryHail    ReportCategory = "hail"
	CategoryWind    ReportCategory = "wind"
	CategoryTornado ReportCategory = "tornado"
)

// ParseReportCategory validates a report category string.
func ParseReportCategory(s string) (ReportCategory, bool) {
	switch normalizeEnum(s) {
	case "hail":
		return CategoryHail, true
	case "wind":
		return CategoryWind, true
	case "tornado":
		return CategoryTornado, true
	default:
		return "", false
	}
}

// StormReport is a single ground-truth point observation from the daily
// report feed. Magnitude units depend on the category: inches for hail,
// mph for wind, EF-scale for tornado.
type StormReport struct {
	ID          uuid.UUID      `json:"id"`
	Date        time.Time      `json:"date"` // nominal file date, midnight UTC
	Category    ReportCategory `json:"category"`
	Time        time.Time      `json:"time"` // full UTC observation time
	Lat         float64        `json:"lat"`
	Lon         float64        `json:"lon"`
	County      string         `json:"county,omitempty"`
	State       string         `json:"state,omitempty"`
	Magnitude   float64        `json:"magnitude"`
	Comments    string         `json:"comments,omitempty"`
	UnknownMag  bool           `json:"unknown_magnitude,omitempty"` // "UNK" in the source
	ContentHash string         `json:"content_hash"`
	IngestedAt  time.Time      `json:"ingested_at"`
}

// ReportContentHash derives the report's identity from its content.
// The feed has no stable row identifier, so two lines with identical
// (date, category, time, rounded coordinates, magnitude, normalized
// comments) must hash equal across re-downloads. Coordinates are rounded
// to four decimals so formatting drift does not produce a second row.
func ReportContentHash(r StormReport) string {
	input := fmt.Sprintf("%s|%s|%s|%.4f|%.4f|%g|%s",
		r.Date.UTC().Format("2006-01-02"),
		r.Category,
		r.Time.UTC().Format("1504"),
		r.Lat, r.Lon,
		r.Magnitude,
		normalizeComments(r.Comments),
	)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

// normalizeComments collapses internal whitespace and trims the ends so
// cosmetic differences between downloads hash identically.
func normalizeComments(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ParseHHMM combines a base date with an HHMM time string ("1510" -> 15:10).
// Three-digit values are zero-padded. Returns the base date unchanged when
// the string does not parse.
func ParseHHMM(baseDate time.Time, hhmm string) (time.Time, bool) {
	hhmm = strings.TrimSpace(hhmm)
	if len(hhmm) == 3 {
		hhmm = "0" + hhmm
	}
	if len(hhmm) != 4 {
		return baseDate, false
	}

	var hour, mins int
	if _, err := fmt.Sscanf(hhmm, "%2d%2d", &hour, &mins); err != nil {
		return baseDate, false
	}
	if hour < 0 || hour > 23 || mins < 0 || mins > 59 {
		return baseDate, false
	}

	return time.Date(
		baseDate.Year(), baseDate.Month(), baseDate.Day(),
		hour, mins, 0, 0, time.UTC,
	), true
}

func normalizeEnum(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
