package domain

import (
	"regexp"
	"strconv"
	"strings"
)

// hailSizeNames maps the canonical NWS object-size phrases to hail diameter
// in inches. Multi-word phrases come first so "half dollar" is not consumed
// by a shorter name.
var hailSizeNames = []struct {
	phrase string
	inches float64
}{
	{"ping pong ball", 1.50},
	{"half dollar", 1.25},
	{"tennis ball", 2.50},
	{"golf ball", 1.75},
	{"golfball", 1.75},
	{"hen egg", 2.00},
	{"tea cup", 3.00},
	{"grapefruit", 4.50},
	{"softball", 4.00},
	{"baseball", 2.75},
	{"quarter", 1.00},
	{"nickel", 0.88},
	{"penny", 0.75},
	{"dime", 0.70},
	{"pea", 0.25},
}

// magnitudeNumber matches decimals ("1.75"), ASCII fractions ("1 3/4",
// "3/4"), and unicode fractions ("1¾", "¾").
const magnitudeNumber = `\d+\s+\d/\d|\d/\d|\d+(?:\.\d+)?[¼½¾]?|[¼½¾]`

var (
	// "1.75 inch hail", `1 3/4" hail`, "1¾ inch diameter hail"
	hailSizeBeforeRe = regexp.MustCompile(`(` + magnitudeNumber + `)[\s-]*(?:inch(?:es)?|in\b|")?[\s-]*(?:diameter[\s-]+)?hail`)
	// "hail up to 1.75 inches", "hail of 2 inch"
	hailSizeAfterRe = regexp.MustCompile(`hail\s+(?:up\s+to\s+|of\s+|to\s+)?(` + magnitudeNumber + `)[\s-]*(?:inch(?:es)?|in\b|")`)
	// "wind gusts to 70 mph", "gusting to 85 mph"
	windBeforeRe = regexp.MustCompile(`(?:wind|gust)[a-z]*[^.;]{0,24}?(\d{2,3})\s*mph`)
	// "70 mph wind gust"
	windAfterRe = regexp.MustCompile(`(\d{2,3})\s*mph\s+(?:wind|gust)`)
)

// ExtractMagnitudes scans alert free text for hail-size and wind-gust
// phrases and maps them to numeric magnitudes. It is the fallback used when
// the feed supplies no structured parameters; when neither signal exists the
// magnitudes stay nil with detected flags false — a missing signal is never
// turned into a nonzero default.
func ExtractMagnitudes(headline, description string) Magnitudes {
	text := strings.ToLower(headline + " " + description)

	var m Magnitudes
	if inches, ok := extractHailInches(text); ok {
		m.HailInches = &inches
		m.HailDetected = true
	}
	if mph, ok := extractWindMPH(text); ok {
		m.WindMPH = &mph
		m.WindDetected = true
	}
	return m
}

func extractHailInches(text string) (float64, bool) {
	if !strings.Contains(text, "hail") {
		return 0, false
	}

	if match := hailSizeBeforeRe.FindStringSubmatch(text); len(match) == 2 {
		if v, ok := parseMagnitudeNumber(match[1]); ok {
			return v, true
		}
	}
	if match := hailSizeAfterRe.FindStringSubmatch(text); len(match) == 2 {
		if v, ok := parseMagnitudeNumber(match[1]); ok {
			return v, true
		}
	}

	for _, sz := range hailSizeNames {
		if strings.Contains(text, sz.phrase+" size") ||
			strings.Contains(text, "size of "+sz.phrase) {
			return sz.inches, true
		}
	}
	return 0, false
}

func extractWindMPH(text string) (float64, bool) {
	match := windBeforeRe.FindStringSubmatch(text)
	if len(match) != 2 {
		match = windAfterRe.FindStringSubmatch(text)
	}
	if len(match) != 2 {
		return 0, false
	}
	v, err := strconv.ParseFloat(match[1], 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

var unicodeFractions = map[rune]float64{'¼': 0.25, '½': 0.5, '¾': 0.75}

// parseMagnitudeNumber converts "1.75", "1 3/4", "3/4", "1¾" and "¾" to a
// float. Returns false for zero or unparseable values.
func parseMagnitudeNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	runes := []rune(s)
	if frac, ok := unicodeFractions[runes[len(runes)-1]]; ok {
		whole := strings.TrimSpace(string(runes[:len(runes)-1]))
		if whole == "" {
			return frac, true
		}
		w, err := strconv.ParseFloat(whole, 64)
		if err != nil {
			return 0, false
		}
		return w + frac, true
	}

	if whole, frac, found := splitFraction(s); found {
		return whole + frac, whole+frac > 0
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// splitFraction handles "1 3/4" and "3/4" forms, returning the whole part
// and the fractional value separately.
func splitFraction(s string) (whole, frac float64, ok bool) {
	slash := strings.IndexByte(s, '/')
	if slash < 0 {
		return 0, 0, false
	}

	fields := strings.Fields(s)
	fracPart := fields[len(fields)-1]
	if len(fields) == 2 {
		w, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0, 0, false
		}
		whole = w
	}

	parts := strings.Split(fracPart, "/")
	if len(parts) != 2 {
		return 0, 0, false
	}
	num, errN := strconv.ParseFloat(parts[0], 64)
	den, errD := strconv.ParseFloat(parts[1], 64)
	if errN != nil || errD != nil || den == 0 {
		return 0, 0, false
	}
	return whole, num / den, true
}
