package store

import (
	"context"

	"github.com/sells-group/osha-insights/internal/model"
)

// Store defines the persistence contract for the injury schema. Both the
// SQLite and Postgres implementations enforce the same integrity semantics:
// reference keys are unique, incident foreign keys must resolve at insert
// time, and deletes of referenced reference rows are rejected (RESTRICT,
// never cascade). Batch operations are atomic.
type Store interface {
	// Reference data
	GetRegion(ctx context.Context, stateCode string) (*model.Region, error)
	GetSector(ctx context.Context, naicsCode string) (*model.Sector, error)
	ListRegions(ctx context.Context) ([]model.Region, error)
	ListSectors(ctx context.Context) ([]model.Sector, error)
	LoadRegions(ctx context.Context, regions []model.Region) (int64, error)
	LoadSectors(ctx context.Context, sectors []model.Sector) (int64, error)
	DeleteRegion(ctx context.Context, stateCode string) error
	DeleteSector(ctx context.Context, naicsCode string) error

	// Incidents
	InsertIncident(ctx context.Context, inc model.Incident) (*model.Incident, error)
	InsertIncidents(ctx context.Context, incs []model.Incident) (int64, error)
	ListJoinedIncidents(ctx context.Context) ([]model.JoinedIncident, error)
	Counts(ctx context.Context) (*model.RecordCounts, error)

	// Load audit
	CreateLoadRun(ctx context.Context, source string) (*model.LoadRun, error)
	CompleteLoadRun(ctx context.Context, id string, status model.LoadRunStatus, rows int64, errMsg string) error
	ListLoadRuns(ctx context.Context, limit int) ([]model.LoadRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// validateRegion applies the reference-data constraints shared by both
// backends.
func validateRegion(r model.Region) error {
	if len(r.StateCode) != 2 {
		return &ConstraintError{Table: "regions", Field: "state_code", Reason: "must be exactly 2 characters"}
	}
	if r.StateName == "" {
		return &ConstraintError{Table: "regions", Field: "state_name", Reason: "must not be empty"}
	}
	return nil
}

func validateSector(s model.Sector) error {
	if s.NAICSCode == "" {
		return &ConstraintError{Table: "sectors", Field: "naics_code", Reason: "must not be empty"}
	}
	if s.SectorMacro == "" {
		return &ConstraintError{Table: "sectors", Field: "sector_macro", Reason: "must not be empty"}
	}
	return nil
}

func validateIncident(inc model.Incident) error {
	if inc.Year == 0 {
		return &ConstraintError{Table: "incidents", Field: "year", Reason: "must be set"}
	}
	counts := []struct {
		field string
		value int64
	}{
		{"injuries", inc.Injuries},
		{"fatalities", inc.Fatalities},
		{"daysawayfromwork", inc.DaysAwayFromWork},
		{"jobtransferrestriction", inc.JobTransferRestriction},
		{"othercases", inc.OtherCases},
	}
	for _, c := range counts {
		if c.value < 0 {
			return &ConstraintError{Table: "incidents", Field: c.field, Reason: "must be non-negative"}
		}
	}
	return nil
}
