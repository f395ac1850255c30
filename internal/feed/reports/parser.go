package reports

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/storm-watch/internal/domain"
)

// Report files carry three sections, each introduced by a marker line and
// a column header. The magnitude column differs per section: Size for
// hail (inches, legacy files use hundredths), Speed for wind (mph),
// F_Scale for tornado (EF integer, optional EF/F prefix).
//
//	#HAIL
//	Time,Size,Location,County,State,Lat,Lon,Comments
//	1510,175,2 N Denton,Denton,TX,33.25,-97.13,Golf ball size hail. (FWD)
const reportColumnCount = 8

var sectionMarkers = map[string]domain.ReportCategory{
	"#TORNADO": domain.CategoryTornado,
	"#WIND":    domain.CategoryWind,
	"#HAIL":    domain.CategoryHail,
}

// ParseResult is the outcome of parsing one report file.
type ParseResult struct {
	Reports   []domain.StormReport
	Malformed int
}

// Parse reads a report file line by line. A section marker switches the
// active category; each data line is parsed independently, and a line that
// fails validation is counted and skipped — one bad line never aborts the
// rest of the file. The context is checked between lines so a stopping
// scheduler can abort cleanly.
func Parse(ctx context.Context, date time.Time, r io.Reader) (ParseResult, error) {
	var result ParseResult
	var category domain.ReportCategory

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if cat, ok := sectionMarkers[strings.ToUpper(line)]; ok {
			category = cat
			continue
		}
		if strings.HasPrefix(line, "Time,") {
			// Column header following a marker.
			continue
		}
		if category == "" {
			// Data before any section marker has no schema.
			result.Malformed++
			continue
		}

		report, ok := parseLine(date, category, line)
		if !ok {
			result.Malformed++
			continue
		}
		result.Reports = append(result.Reports, report)
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("read report file: %w", err)
	}
	return result, nil
}

// parseLine validates and converts one data line under the active section
// schema. Comments are the final column and may contain commas.
func parseLine(date time.Time, category domain.ReportCategory, line string) (domain.StormReport, bool) {
	cols := strings.SplitN(line, ",", reportColumnCount)
	if len(cols) != reportColumnCount {
		return domain.StormReport{}, false
	}

	observedAt, ok := domain.ParseHHMM(date, cols[0])
	if !ok {
		return domain.StormReport{}, false
	}

	lat, errLat := strconv.ParseFloat(strings.TrimSpace(cols[5]), 64)
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(cols[6]), 64)
	if errLat != nil || errLon != nil {
		return domain.StormReport{}, false
	}

	magnitude, unknown, ok := parseMagnitude(category, cols[1])
	if !ok {
		return domain.StormReport{}, false
	}

	report := domain.StormReport{
		Date:       date,
		Category:   category,
		Time:       observedAt,
		Lat:        lat,
		Lon:        lon,
		County:     strings.TrimSpace(cols[3]),
		State:      strings.ToUpper(strings.TrimSpace(cols[4])),
		Magnitude:  magnitude,
		UnknownMag: unknown,
		Comments:   strings.TrimSpace(cols[7]),
		IngestedAt: domain.Now(),
	}
	report.ContentHash = domain.ReportContentHash(report)
	return report, true
}

// parseMagnitude decodes the section-specific magnitude column. "UNK" and
// empty values are unknown, not zero measurements.
func parseMagnitude(category domain.ReportCategory, raw string) (float64, bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "UNK") {
		return 0, true, true
	}

	if category == domain.CategoryTornado {
		raw = strings.TrimPrefix(raw, "EF")
		raw = strings.TrimPrefix(raw, "F")
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0, false, false
	}

	// Legacy hail files encode diameter in hundredths of inches
	// (175 = 1.75in). Values >= 10 are assumed to use that encoding;
	// the largest hail ever recorded in the US was about 8 inches.
	if category == domain.CategoryHail && v >= 10 {
		v /= 100.0
	}
	return v, false, true
}
