// Package model defines the entities and report rows of the injury store.
package model

import "time"

// Region is a reference row mapping a two-letter state code to its name.
// Reference data is created at load time and never mutated.
type Region struct {
	StateCode string `json:"state_code"`
	StateName string `json:"state_name"`
}

// Sector is a reference row for a NAICS industry code.
type Sector struct {
	NAICSCode   string `json:"naics_code"`
	SectorName  string `json:"sector_name"`
	SectorClean string `json:"sector_clean"`
	SectorMacro string `json:"sector_macro"`
}

// Incident is one OSHA ITA establishment-year record. Employees and
// HoursWorked are nullable; count columns default to 0 and are never
// negative.
type Incident struct {
	ID                     int64  `json:"incident_id"`
	Year                   int    `json:"year"`
	StateCode              string `json:"state_code"`
	NAICSCode              string `json:"naics_code"`
	Employees              *int64 `json:"employees"`
	HoursWorked            *int64 `json:"hoursworked"`
	Injuries               int64  `json:"injuries"`
	Fatalities             int64  `json:"fatalities"`
	DaysAwayFromWork       int64  `json:"daysawayfromwork"`
	JobTransferRestriction int64  `json:"jobtransferrestriction"`
	OtherCases             int64  `json:"othercases"`
}

// JoinedIncident is an incident joined to both reference tables. The store
// returns these in ascending incident_id order, which fixes the tie-break
// order used by the report rankings.
type JoinedIncident struct {
	Incident
	StateName   string `json:"state_name"`
	SectorName  string `json:"sector_name"`
	SectorClean string `json:"sector_clean"`
	SectorMacro string `json:"sector_macro"`
}

// RecordCounts holds independent row counts of the three entity tables.
type RecordCounts struct {
	Incidents int64 `json:"incidents"`
	Regions   int64 `json:"regions"`
	Sectors   int64 `json:"sectors"`
}

// YearTrend is one row of the yearly national trend report.
type YearTrend struct {
	Year            int   `json:"year"`
	TotalInjuries   int64 `json:"total_injuries"`
	TotalFatalities int64 `json:"total_fatalities"`
}

// SectorInjuries is one row of the top-sectors-by-injuries ranking.
type SectorInjuries struct {
	SectorClean   string `json:"sector_clean"`
	TotalInjuries int64  `json:"total_injuries"`
}

// SectorYearRate is one row of the per-sector incident-rate report.
// IncidentRate is injuries per 1000 employees, nil when the group has no
// employees at all.
type SectorYearRate struct {
	SectorClean  string   `json:"sector_clean"`
	Year         int      `json:"year"`
	IncidentRate *float64 `json:"incident_rate"`
}

// RegionInjuries is one row of the top-regions-by-injuries ranking.
type RegionInjuries struct {
	StateName     string `json:"state_name"`
	TotalInjuries int64  `json:"total_injuries"`
}

// SectorFatalityRatio is one row of the fatality-ratio report. The ratio is
// fatalities over injuries, nil when the group recorded no injuries.
type SectorFatalityRatio struct {
	SectorClean   string   `json:"sector_clean"`
	FatalityRatio *float64 `json:"fatality_ratio"`
}

// SafetyKPI carries the three derived safety indicators for one year, plus
// deltas against the previous year where one exists.
//
//	TRIR         = injuries / hours worked * 200000
//	SeverityRate = days away from work / hours worked * 200000
//	FatalityRate = fatalities / employees * 100000
//
// Each indicator is nil when its divisor is zero.
type SafetyKPI struct {
	Year              int      `json:"year"`
	TRIR              *float64 `json:"trir"`
	SeverityRate      *float64 `json:"severity_rate"`
	FatalityRate      *float64 `json:"fatality_rate"`
	TRIRDelta         *float64 `json:"trir_delta,omitempty"`
	SeverityRateDelta *float64 `json:"severity_rate_delta,omitempty"`
	FatalityRateDelta *float64 `json:"fatality_rate_delta,omitempty"`
}

// StateYearSummary is one row of the per-state summary table.
type StateYearSummary struct {
	Year                   int      `json:"year"`
	Injuries               int64    `json:"injuries"`
	Fatalities             int64    `json:"fatalities"`
	DaysAwayFromWork       int64    `json:"daysawayfromwork"`
	JobTransferRestriction int64    `json:"jobtransferrestriction"`
	TRIR                   *float64 `json:"trir"`
	FatalityRate           *float64 `json:"fatality_rate"`
}

// StateTRIR ranks a state by TRIR for a given year.
type StateTRIR struct {
	StateName string  `json:"state_name"`
	TRIR      float64 `json:"trir"`
}

// MacroSectorTRIR ranks a macro-sector by TRIR for a given year.
type MacroSectorTRIR struct {
	SectorMacro string  `json:"sector_macro"`
	TRIR        float64 `json:"trir"`
}

// MacroSectorRate is injuries per 1000 employees for one macro-sector.
type MacroSectorRate struct {
	SectorMacro  string  `json:"sector_macro"`
	IncidentRate float64 `json:"incident_rate"`
}

// SubsectorInjuries ranks a 3-digit NAICS sub-sector within a macro-sector.
type SubsectorInjuries struct {
	NAICS3        string `json:"naics3"`
	TotalInjuries int64  `json:"total_injuries"`
}

// SummaryRow is one row of the filterable export report.
type SummaryRow struct {
	Year        int      `json:"year"`
	StateName   string   `json:"state_name"`
	SectorMacro string   `json:"sector_macro"`
	Injuries    int64    `json:"injuries"`
	Fatalities  int64    `json:"fatalities"`
	TRIR        *float64 `json:"trir"`
}

// LoadRunStatus enumerates the lifecycle of a load run.
type LoadRunStatus string

const (
	LoadRunRunning  LoadRunStatus = "running"
	LoadRunComplete LoadRunStatus = "complete"
	LoadRunFailed   LoadRunStatus = "failed"
)

// LoadRun is one audit-log entry for a load operation.
type LoadRun struct {
	ID          string        `json:"id"`
	Source      string        `json:"source"`
	Status      LoadRunStatus `json:"status"`
	RowsLoaded  int64         `json:"rows_loaded"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}
