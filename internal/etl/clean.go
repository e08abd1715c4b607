package etl

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/osha-insights/internal/model"
)

var titleCaser = cases.Title(language.AmericanEnglish)

// RawRecord is one parsed CSV row before cleaning.
type RawRecord struct {
	Year                   string
	State                  string
	NAICS                  string
	Sector                 string
	Employees              string
	HoursWorked            string
	Injuries               string
	Fatalities             string
	DaysAwayFromWork       string
	JobTransferRestriction string
	OtherCases             string
}

// CleanRecord is a validated row ready for insertion, carrying the derived
// reference rows alongside the incident.
type CleanRecord struct {
	Region   model.Region
	Sector   model.Sector
	Incident model.Incident
}

// SkipReason explains why a raw row was dropped.
type SkipReason string

const (
	SkipMissingFields SkipReason = "missing required fields"
	SkipInvalidYear   SkipReason = "invalid year"
	SkipUnknownState  SkipReason = "state outside 50 states + DC"
	SkipInvalidNAICS  SkipReason = "NAICS not 2-6 digits"
)

// Clean validates and normalizes one raw row. A nil record with a non-empty
// reason means the row is dropped, not an error.
func Clean(raw RawRecord) (*CleanRecord, SkipReason) {
	year := strings.TrimSpace(raw.Year)
	state := strings.ToUpper(strings.TrimSpace(raw.State))
	naics := normalizeNAICS(raw.NAICS)
	sector := strings.TrimSpace(raw.Sector)

	if year == "" || state == "" || strings.TrimSpace(raw.NAICS) == "" || sector == "" {
		return nil, SkipMissingFields
	}

	y, err := strconv.Atoi(year)
	if err != nil || y <= 0 {
		return nil, SkipInvalidYear
	}

	stateName, ok := StateName(state)
	if !ok {
		return nil, SkipUnknownState
	}

	if !ValidNAICS(naics) {
		return nil, SkipInvalidNAICS
	}

	sectorRaw := strings.ToUpper(sector)
	rec := &CleanRecord{
		Region: model.Region{StateCode: state, StateName: stateName},
		Sector: model.Sector{
			NAICSCode:   naics,
			SectorName:  sectorRaw,
			SectorClean: CleanSectorName(sectorRaw),
			SectorMacro: MacroSector(naics),
		},
		Incident: model.Incident{
			Year:                   y,
			StateCode:              state,
			NAICSCode:              naics,
			Employees:              parseNullableInt(raw.Employees),
			HoursWorked:            parseNullableInt(raw.HoursWorked),
			Injuries:               parseCount(raw.Injuries),
			Fatalities:             parseCount(raw.Fatalities),
			DaysAwayFromWork:       parseCount(raw.DaysAwayFromWork),
			JobTransferRestriction: parseCount(raw.JobTransferRestriction),
			OtherCases:             parseCount(raw.OtherCases),
		},
	}
	return rec, ""
}

// CleanSectorName produces the display label: quotes stripped, whitespace
// collapsed, title-cased, with the standalone word "And" shortened to "&".
func CleanSectorName(name string) string {
	name = strings.Trim(name, `"`)
	name = titleCaser.String(name)
	words := strings.Fields(name)
	for i, w := range words {
		if w == "And" {
			words[i] = "&"
		}
	}
	return strings.Join(words, " ")
}

// ValidNAICS reports whether the code is 2 to 6 digits.
func ValidNAICS(naics string) bool {
	if len(naics) < 2 || len(naics) > 6 {
		return false
	}
	for _, r := range naics {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// normalizeNAICS strips whitespace and a trailing ".0" left over from
// spreadsheet exports that treat the code as numeric.
func normalizeNAICS(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	return s
}

// parseNullableInt returns nil for empty or unparseable values, matching
// the NULL semantics of employees and hoursworked.
func parseNullableInt(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	n := int64(v)
	return &n
}

// parseCount returns 0 for empty, unparseable, or negative values; count
// columns default to 0.
func parseCount(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return int64(v)
}
