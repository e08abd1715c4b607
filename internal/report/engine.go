// Package report implements the aggregation engine: deterministic,
// read-only reports over the joined incident store.
//
// Grouping runs in Go over a single joined read so the semantics do not
// depend on a SQL dialect. Groups are accumulated in first-occurrence order
// of the underlying rows (ascending incident_id); rankings sort with
// sort.SliceStable, so equal measures keep that order. Nil ratios sort
// after every non-nil value regardless of direction.
package report

import (
	"context"
	"math"
	"sort"

	"github.com/sells-group/osha-insights/internal/model"
	"github.com/sells-group/osha-insights/internal/store"
)

// Default row limits per report, matching the dashboard queries.
const (
	DefaultTopSectorsLimit    = 10
	DefaultSectorRatesLimit   = 20
	DefaultTopRegionsLimit    = 10
	DefaultFatalityRatioLimit = 10
	DefaultTRIRLimit          = 10
	DefaultSubsectorLimit     = 10
)

// Engine computes reports against a Store. All methods are side-effect-free
// reads and safe to call concurrently.
type Engine struct {
	store store.Store
}

// New creates an Engine over the given store.
func New(st store.Store) *Engine {
	return &Engine{store: st}
}

// RecordCounts returns independent row counts of the three entity tables.
func (e *Engine) RecordCounts(ctx context.Context) (*model.RecordCounts, error) {
	return e.store.Counts(ctx)
}

// YearlyTrend groups incidents by year and sums injuries and fatalities,
// ascending by year.
func (e *Engine) YearlyTrend(ctx context.Context) ([]model.YearTrend, error) {
	incs, err := e.store.ListJoinedIncidents(ctx)
	if err != nil {
		return nil, err
	}

	byYear := make(map[int]*model.YearTrend)
	var years []int
	for _, inc := range incs {
		t, ok := byYear[inc.Year]
		if !ok {
			t = &model.YearTrend{Year: inc.Year}
			byYear[inc.Year] = t
			years = append(years, inc.Year)
		}
		t.TotalInjuries += inc.Injuries
		t.TotalFatalities += inc.Fatalities
	}

	sort.Ints(years)
	out := make([]model.YearTrend, 0, len(years))
	for _, y := range years {
		out = append(out, *byYear[y])
	}
	return out, nil
}

// TopSectorsByInjuries ranks sectors (by cleaned label) on total injuries,
// descending, truncated to limit (default 10).
func (e *Engine) TopSectorsByInjuries(ctx context.Context, limit int) ([]model.SectorInjuries, error) {
	if limit <= 0 {
		limit = DefaultTopSectorsLimit
	}
	incs, err := e.store.ListJoinedIncidents(ctx)
	if err != nil {
		return nil, err
	}

	idx := make(map[string]int)
	var rows []model.SectorInjuries
	for _, inc := range incs {
		i, ok := idx[inc.SectorClean]
		if !ok {
			i = len(rows)
			idx[inc.SectorClean] = i
			rows = append(rows, model.SectorInjuries{SectorClean: inc.SectorClean})
		}
		rows[i].TotalInjuries += inc.Injuries
	}

	sort.SliceStable(rows, func(a, b int) bool {
		return rows[a].TotalInjuries > rows[b].TotalInjuries
	})
	return truncate(rows, limit), nil
}

// IncidentRatePerSector computes injuries per 1000 employees for each
// (sector_clean, year) group, rounded to 2 digits. Groups without any
// employees get a nil rate and sort after every valued row. Descending by
// rate, truncated to limit (default 20).
func (e *Engine) IncidentRatePerSector(ctx context.Context, limit int) ([]model.SectorYearRate, error) {
	if limit <= 0 {
		limit = DefaultSectorRatesLimit
	}
	incs, err := e.store.ListJoinedIncidents(ctx)
	if err != nil {
		return nil, err
	}

	type key struct {
		sector string
		year   int
	}
	type acc struct {
		injuries  int64
		employees int64
	}
	idx := make(map[key]int)
	var keys []key
	var sums []acc
	for _, inc := range incs {
		k := key{inc.SectorClean, inc.Year}
		i, ok := idx[k]
		if !ok {
			i = len(sums)
			idx[k] = i
			keys = append(keys, k)
			sums = append(sums, acc{})
		}
		sums[i].injuries += inc.Injuries
		if inc.Employees != nil {
			sums[i].employees += *inc.Employees
		}
	}

	rows := make([]model.SectorYearRate, len(keys))
	for i, k := range keys {
		rows[i] = model.SectorYearRate{SectorClean: k.sector, Year: k.year}
		if sums[i].employees > 0 {
			rows[i].IncidentRate = ptr(roundTo(float64(sums[i].injuries)/float64(sums[i].employees)*1000, 2))
		}
	}

	sort.SliceStable(rows, func(a, b int) bool {
		return lessDescNullsLast(rows[a].IncidentRate, rows[b].IncidentRate)
	})
	return truncate(rows, limit), nil
}

// TopRegionsByInjuries ranks states on total injuries, descending,
// truncated to limit (default 10).
func (e *Engine) TopRegionsByInjuries(ctx context.Context, limit int) ([]model.RegionInjuries, error) {
	if limit <= 0 {
		limit = DefaultTopRegionsLimit
	}
	incs, err := e.store.ListJoinedIncidents(ctx)
	if err != nil {
		return nil, err
	}

	idx := make(map[string]int)
	var rows []model.RegionInjuries
	for _, inc := range incs {
		i, ok := idx[inc.StateName]
		if !ok {
			i = len(rows)
			idx[inc.StateName] = i
			rows = append(rows, model.RegionInjuries{StateName: inc.StateName})
		}
		rows[i].TotalInjuries += inc.Injuries
	}

	sort.SliceStable(rows, func(a, b int) bool {
		return rows[a].TotalInjuries > rows[b].TotalInjuries
	})
	return truncate(rows, limit), nil
}

// FatalityRatioBySector computes fatalities over injuries per sector,
// rounded to 3 digits. Sectors with no injuries get a nil ratio, sorting
// last. Descending, truncated to limit (default 10).
func (e *Engine) FatalityRatioBySector(ctx context.Context, limit int) ([]model.SectorFatalityRatio, error) {
	if limit <= 0 {
		limit = DefaultFatalityRatioLimit
	}
	incs, err := e.store.ListJoinedIncidents(ctx)
	if err != nil {
		return nil, err
	}

	type acc struct {
		injuries   int64
		fatalities int64
	}
	idx := make(map[string]int)
	var names []string
	var sums []acc
	for _, inc := range incs {
		i, ok := idx[inc.SectorClean]
		if !ok {
			i = len(sums)
			idx[inc.SectorClean] = i
			names = append(names, inc.SectorClean)
			sums = append(sums, acc{})
		}
		sums[i].injuries += inc.Injuries
		sums[i].fatalities += inc.Fatalities
	}

	rows := make([]model.SectorFatalityRatio, len(names))
	for i, name := range names {
		rows[i] = model.SectorFatalityRatio{SectorClean: name}
		if sums[i].injuries > 0 {
			rows[i].FatalityRatio = ptr(roundTo(float64(sums[i].fatalities)/float64(sums[i].injuries), 3))
		}
	}

	sort.SliceStable(rows, func(a, b int) bool {
		return lessDescNullsLast(rows[a].FatalityRatio, rows[b].FatalityRatio)
	})
	return truncate(rows, limit), nil
}

// helpers

// roundTo rounds half away from zero to the given number of fractional
// digits.
func roundTo(x float64, digits int) float64 {
	pow := math.Pow(10, float64(digits))
	return math.Round(x*pow) / pow
}

func ptr(f float64) *float64 { return &f }

// lessDescNullsLast orders two nullable measures descending, with nil after
// every non-nil value.
func lessDescNullsLast(a, b *float64) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return *a > *b
	}
}

func truncate[T any](rows []T, limit int) []T {
	if len(rows) > limit {
		return rows[:limit]
	}
	return rows
}
