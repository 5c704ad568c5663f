package ephemeris

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/orbitdash/gateway/internal/apierror"
)

// Sentinel markers delimiting the data block in ephemeris responses.
const (
	startSentinel = "$$SOE"
	endSentinel   = "$$EOE"
)

// labeled matches the tolerant "LABEL = number" pattern used in vector and
// element tables. Whitespace width varies between responses, and negative
// values are often glued to the equals sign (Y =-1.1E+08).
var labeled = regexp.MustCompile(`\b(VX|VY|VZ|EC|QR|IN|LT|RG|RR|X|Y|Z)\s*=\s*([-+]?(?:\d+\.?\d*|\.\d+)(?:[Ee][-+]?\d+)?)`)

// calendarDate matches the "A.D. 2023-Feb-25 00:00:00.0000" timestamps that
// open each vector-table record.
var calendarDate = regexp.MustCompile(`A\.D\.\s+(\d{4}-[A-Za-z]{3}-\d{1,2}\s+\d{2}:\d{2}:\d{2}(?:\.\d+)?)`)

// Parse decodes a raw ephemeris text blob into a Record. It locates the
// sentinel-delimited data block, detects whether it is a vector table or an
// elements table, and extracts what it can. Fields that cannot be
// confidently identified stay nil; a partial record is a soft degradation,
// not a hard error. Missing sentinels or an empty data block are hard
// errors; the parser never fabricates zeros.
func Parse(raw string) (*Record, error) {
	block, err := dataBlock(raw)
	if err != nil {
		return nil, err
	}

	lines := nonEmptyLines(block)
	if len(lines) == 0 {
		return nil, &apierror.MalformedResponseError{
			Service: "ephemeris",
			Reason:  "sentinels present but no data lines",
		}
	}

	rec := &Record{}
	parseVectorLines(lines, rec)
	if rec.PositionKm == nil && rec.VelocityKmPerSec == nil {
		parseElementLines(lines, rec)
	}
	if rec.Empty() {
		parseObserverLine(lines[0], rec)
	}

	if rec.Empty() {
		return nil, &apierror.MalformedResponseError{
			Service: "ephemeris",
			Reason:  "no recognizable fields in data block",
			Partial: rec,
		}
	}
	return rec, nil
}

// dataBlock extracts the text between the start and end sentinels.
func dataBlock(raw string) (string, error) {
	start := strings.Index(raw, startSentinel)
	if start < 0 {
		return "", &apierror.MalformedResponseError{
			Service: "ephemeris",
			Reason:  "start sentinel " + startSentinel + " not found",
		}
	}
	rest := raw[start+len(startSentinel):]
	end := strings.Index(rest, endSentinel)
	if end < 0 {
		return "", &apierror.MalformedResponseError{
			Service: "ephemeris",
			Reason:  "end sentinel " + endSentinel + " not found",
		}
	}
	return rest[:end], nil
}

func nonEmptyLines(block string) []string {
	var lines []string
	for _, ln := range strings.Split(block, "\n") {
		if strings.TrimSpace(ln) != "" {
			lines = append(lines, ln)
		}
	}
	return lines
}

// parseVectorLines fills position and velocity from a vector-table record.
// The service returns chronological order; the first record is taken. Sub-
// lines are located by their field-name prefixes, not fixed column offsets,
// since whitespace width varies between responses.
func parseVectorLines(lines []string, rec *Record) {
	for _, ln := range lines {
		if m := calendarDate.FindStringSubmatch(ln); m != nil {
			if rec.TimestampUTC != nil {
				// Second record starts here; the first is complete.
				return
			}
			if ts, ok := parseCalendar(m[1]); ok {
				rec.TimestampUTC = &ts
			}
		}

		fields := labeledFields(ln)
		if rec.PositionKm == nil {
			if x, okx := fields["X"]; okx {
				y, oky := fields["Y"]
				z, okz := fields["Z"]
				if oky && okz {
					rec.PositionKm = &Vector3{X: x, Y: y, Z: z}
				}
			}
		}
		if rec.VelocityKmPerSec == nil {
			if vx, okx := fields["VX"]; okx {
				vy, oky := fields["VY"]
				vz, okz := fields["VZ"]
				if oky && okz {
					rec.VelocityKmPerSec = &Vector3{X: vx, Y: vy, Z: vz}
				}
			}
		}
		if rg, ok := fields["RG"]; ok && rec.DistanceFromEarthAU == nil {
			// RG is in km for vector output relative to Earth center.
			au := rg / KmPerAU
			rec.DistanceFromEarthAU = &au
		}
	}
}

// parseElementLines fills orbital elements. Labeled "EC= / QR= / IN="
// fields are preferred; when the labels are absent the line is tokenized
// (comma first, whitespace as fallback) and elements are selected by
// value-range heuristics, because column order is not stable across object
// types.
func parseElementLines(lines []string, rec *Record) {
	for _, ln := range lines {
		fields := labeledFields(ln)
		if ec, ok := fields["EC"]; ok && rec.Eccentricity == nil {
			v := ec
			rec.Eccentricity = &v
		}
		if qr, ok := fields["QR"]; ok && rec.PerihelionDistanceAU == nil {
			v := qr
			rec.PerihelionDistanceAU = &v
		}
		if in, ok := fields["IN"]; ok && rec.InclinationDeg == nil {
			v := in
			rec.InclinationDeg = &v
		}
	}
	if rec.Eccentricity != nil || rec.PerihelionDistanceAU != nil || rec.InclinationDeg != nil {
		return
	}

	// No labels anywhere, so fall back to tokenizing the first data line.
	// Only comma-separated rows are treated as element tables; an unlabeled
	// whitespace row is more likely an observer row (RA values overlap the
	// eccentricity band) and is left for parseObserverLine.
	if !strings.Contains(lines[0], ",") {
		return
	}
	tokens := tokenize(lines[0])
	var nums []float64
	for _, t := range tokens {
		if v, err := strconv.ParseFloat(t, 64); err == nil {
			nums = append(nums, v)
		}
	}

	// Value-range disambiguation: the first token in [0.5, 50] is taken as
	// eccentricity (admitting hyperbolic orbits), the next in (0, 10] as
	// perihelion distance in AU, the next in [0, 180] as inclination in
	// degrees. Anything that cannot be identified stays nil.
	i := 0
	for ; i < len(nums); i++ {
		if nums[i] >= 0.5 && nums[i] <= 50 {
			v := nums[i]
			rec.Eccentricity = &v
			i++
			break
		}
	}
	for ; i < len(nums); i++ {
		if nums[i] > 0 && nums[i] <= 10 {
			v := nums[i]
			rec.PerihelionDistanceAU = &v
			i++
			break
		}
	}
	for ; i < len(nums); i++ {
		if nums[i] >= 0 && nums[i] <= 180 {
			v := nums[i]
			rec.InclinationDeg = &v
			break
		}
	}
}

// parseObserverLine attempts to recover right ascension, declination,
// distances, and apparent magnitude from an observer-table row:
//
//	2024-Jan-01 00:00  213.55818 -12.51214  14.32  2.31293867 1.54107  ...
//
// The RA/Dec pair is identified by range ([0,360) and [-90,90]) in adjacent
// tokens; the next token in [-30,35] is taken as apparent magnitude and the
// following plausible AU values as Earth and Sun distances.
func parseObserverLine(line string, rec *Record) {
	tokens := tokenize(line)
	var nums []float64
	for _, t := range tokens {
		if v, err := strconv.ParseFloat(t, 64); err == nil {
			nums = append(nums, v)
		}
	}

	i := 0
	for ; i+1 < len(nums); i++ {
		if nums[i] >= 0 && nums[i] < 360 && nums[i+1] >= -90 && nums[i+1] <= 90 {
			ra, dec := nums[i], nums[i+1]
			rec.RightAscensionDeg = &ra
			rec.DeclinationDeg = &dec
			i += 2
			break
		}
	}
	for ; i < len(nums); i++ {
		if nums[i] >= -30 && nums[i] <= 35 {
			v := nums[i]
			rec.ApparentMagnitude = &v
			i++
			break
		}
	}
	for ; i < len(nums); i++ {
		if nums[i] > 0 && nums[i] <= 100 {
			v := nums[i]
			rec.DistanceFromEarthAU = &v
			i++
			break
		}
	}
	for ; i < len(nums); i++ {
		if nums[i] > 0 && nums[i] <= 100 {
			v := nums[i]
			rec.DistanceFromSunAU = &v
			break
		}
	}
}

// labeledFields extracts all "LABEL = number" pairs from a line.
func labeledFields(line string) map[string]float64 {
	matches := labeled.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return nil
	}
	fields := make(map[string]float64, len(matches))
	for _, m := range matches {
		if v, err := strconv.ParseFloat(m[2], 64); err == nil {
			fields[m[1]] = v
		}
	}
	return fields
}

// tokenize splits a data line by comma when present, whitespace otherwise.
func tokenize(line string) []string {
	if strings.Contains(line, ",") {
		parts := strings.Split(line, ",")
		tokens := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				tokens = append(tokens, t)
			}
		}
		return tokens
	}
	return strings.Fields(line)
}

// parseCalendar parses the "2023-Feb-25 00:00:00.0000" calendar timestamps.
func parseCalendar(s string) (time.Time, bool) {
	for _, layout := range []string{
		"2006-Jan-2 15:04:05.0000",
		"2006-Jan-2 15:04:05",
	} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
