package alerts

import (
	"errors"
	"strconv"
	"strings"

	"github.com/couchcryptid/storm-watch/internal/domain"
)

// normalizeFeature converts one feed feature into an alert record.
// Structured magnitude parameters win over free-text extraction; when
// neither exists the magnitudes stay absent rather than defaulting.
func normalizeFeature(f feature) (domain.AlertRecord, error) {
	if f.ID == "" {
		return domain.AlertRecord{}, errors.New("feature missing id")
	}
	if f.Properties.Sent.IsZero() {
		return domain.AlertRecord{}, errors.New("feature missing sent timestamp")
	}

	p := f.Properties
	a := domain.AlertRecord{
		ExternalID:  f.ID,
		Event:       p.Event,
		Severity:    domain.ParseSeverity(p.Severity),
		Urgency:     domain.ParseUrgency(p.Urgency),
		Certainty:   domain.ParseCertainty(p.Certainty),
		Effective:   p.Effective.UTC(),
		Expires:     p.Expires.UTC(),
		Sent:        p.Sent.UTC(),
		Headline:    p.Headline,
		Description: p.Description,
		AreaCodes:   p.Geocode.UGC,
		IngestedAt:  domain.Now(),
	}

	if len(f.Geometry) > 0 && string(f.Geometry) != "null" {
		a.RawGeometry = f.Geometry
		a.Geometry = domain.DecodeGeometry(f.Geometry)
	}

	a.State, a.Counties = parseAreaDesc(p.AreaDesc, p.Geocode.UGC)
	a.Magnitudes = extractMagnitudes(p.Parameters, p.Headline, p.Description)

	return a, nil
}

// extractMagnitudes prefers the feed's structured hailSize/windGust
// parameters and falls back to scanning free text.
func extractMagnitudes(params map[string][]any, headline, description string) domain.Magnitudes {
	var m domain.Magnitudes
	if v, ok := firstNumber(params["hailSize"]); ok {
		m.HailInches = &v
		m.HailDetected = true
	}
	if v, ok := firstNumber(params["windGust"]); ok {
		m.WindMPH = &v
		m.WindDetected = true
	}
	if m.HailDetected && m.WindDetected {
		return m
	}

	extracted := domain.ExtractMagnitudes(headline, description)
	if !m.HailDetected && extracted.HailDetected {
		m.HailInches = extracted.HailInches
		m.HailDetected = true
	}
	if !m.WindDetected && extracted.WindDetected {
		m.WindMPH = extracted.WindMPH
		m.WindDetected = true
	}
	return m
}

// firstNumber coerces the first parameter value to a float. Issuing offices
// encode these inconsistently as numbers or strings.
func firstNumber(vals []any) (float64, bool) {
	for _, v := range vals {
		switch n := v.(type) {
		case float64:
			return n, n > 0
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err == nil {
				return f, f > 0
			}
		}
	}
	return 0, false
}

// parseAreaDesc derives the state and county list from the feed's area
// description ("Denton, TX; Tarrant, TX"), falling back to the UGC codes
// ("TXC121") for the state.
func parseAreaDesc(areaDesc string, ugc []string) (string, []string) {
	var state string
	var counties []string

	for _, part := range strings.Split(areaDesc, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if name, st, found := strings.Cut(part, ","); found {
			counties = append(counties, strings.TrimSpace(name))
			if state == "" {
				state = strings.ToUpper(strings.TrimSpace(st))
			}
		} else {
			counties = append(counties, part)
		}
	}

	if state == "" {
		for _, code := range ugc {
			if len(code) >= 2 {
				state = strings.ToUpper(code[:2])
				break
			}
		}
	}
	return state, counties
}
