// Package domain models the storm-watch pipeline's core records: hazard
// alerts, ground-truth storm reports, verification links between the two,
// notification rules, and delivery audit rows.
//
// # Data Sources
//
// The alert feed is a CAP-style paginated GeoJSON collection in the shape of
// the NWS alerts API (https://api.weather.gov/alerts). Each feature carries a
// feed-assigned identifier, event/severity/urgency/certainty metadata,
// effective/expiry/sent timestamps, an optional polygon, free-text
// headline/description, UGC area codes, and optional structured magnitude
// parameters (hailSize in inches, windGust in mph).
//
// The report feed follows the SPC daily report file conventions: one flat
// text file per date, split into #TORNADO, #WIND and #HAIL sections, each
// with its own fixed column layout. Report times are HHMM in 24-hour UTC
// notation; three-digit values are zero-padded ("930" -> "0930").
//
// # Magnitude Conventions
//
// Hail magnitudes are inches of diameter, wind magnitudes are mph, tornado
// magnitudes are Enhanced Fujita scale integers (a leading "EF" or "F"
// prefix is stripped during parsing). "UNK" is the sentinel for unknown.
//
// Alert text frequently describes hail by object size rather than number
// ("golf ball size hail"). The free-text extractor maps the canonical NWS
// size names to inches and parses decimal, ASCII-fraction ("1 3/4") and
// unicode-fraction ("1¾") forms. See [ExtractMagnitudes].
//
// # Identity
//
// Alerts carry a stable feed-assigned identifier and are upserted by it.
// Storm reports have no stable row identifier, so identity is a SHA-256
// content hash over (date, category, time, rounded coordinates, magnitude,
// normalized comments). Coordinates are rounded to four decimal places so
// floating-point formatting drift across re-downloads of the same file does
// not defeat deduplication. See [ReportContentHash].
package domain
