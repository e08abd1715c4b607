package report

import (
	"context"
	"sort"
	"strings"

	"github.com/sells-group/osha-insights/internal/model"
)

// exposure accumulates the measures every KPI derives from.
type exposure struct {
	injuries   int64
	fatalities int64
	dafw       int64
	djtr       int64
	employees  int64
	hours      int64
}

func (x *exposure) add(inc model.JoinedIncident) {
	x.injuries += inc.Injuries
	x.fatalities += inc.Fatalities
	x.dafw += inc.DaysAwayFromWork
	x.djtr += inc.JobTransferRestriction
	if inc.Employees != nil {
		x.employees += *inc.Employees
	}
	if inc.HoursWorked != nil {
		x.hours += *inc.HoursWorked
	}
}

// trir is injuries per 200,000 hours worked, nil when no hours recorded.
func (x *exposure) trir() *float64 {
	if x.hours == 0 {
		return nil
	}
	return ptr(roundTo(float64(x.injuries)/float64(x.hours)*200000, 2))
}

// severityRate is days away from work per 200,000 hours worked.
func (x *exposure) severityRate() *float64 {
	if x.hours == 0 {
		return nil
	}
	return ptr(roundTo(float64(x.dafw)/float64(x.hours)*200000, 2))
}

// fatalityRate is fatalities per 100,000 employees.
func (x *exposure) fatalityRate() *float64 {
	if x.employees == 0 {
		return nil
	}
	return ptr(roundTo(float64(x.fatalities)/float64(x.employees)*100000, 2))
}

// SafetyKPIsByYear computes TRIR, severity rate, and fatality rate per
// year, ascending, with deltas against the previous year where both values
// exist.
func (e *Engine) SafetyKPIsByYear(ctx context.Context) ([]model.SafetyKPI, error) {
	incs, err := e.store.ListJoinedIncidents(ctx)
	if err != nil {
		return nil, err
	}

	byYear := make(map[int]*exposure)
	var years []int
	for _, inc := range incs {
		x, ok := byYear[inc.Year]
		if !ok {
			x = &exposure{}
			byYear[inc.Year] = x
			years = append(years, inc.Year)
		}
		x.add(inc)
	}
	sort.Ints(years)

	out := make([]model.SafetyKPI, 0, len(years))
	for i, y := range years {
		x := byYear[y]
		kpi := model.SafetyKPI{
			Year:         y,
			TRIR:         x.trir(),
			SeverityRate: x.severityRate(),
			FatalityRate: x.fatalityRate(),
		}
		if i > 0 {
			prev := out[i-1]
			kpi.TRIRDelta = delta(kpi.TRIR, prev.TRIR)
			kpi.SeverityRateDelta = delta(kpi.SeverityRate, prev.SeverityRate)
			kpi.FatalityRateDelta = delta(kpi.FatalityRate, prev.FatalityRate)
		}
		out = append(out, kpi)
	}
	return out, nil
}

// StateSummary returns the per-year summary table for one state, matched
// case-insensitively against the state name, ascending by year.
func (e *Engine) StateSummary(ctx context.Context, stateName string) ([]model.StateYearSummary, error) {
	incs, err := e.store.ListJoinedIncidents(ctx)
	if err != nil {
		return nil, err
	}

	byYear := make(map[int]*exposure)
	var years []int
	for _, inc := range incs {
		if !strings.EqualFold(inc.StateName, stateName) {
			continue
		}
		x, ok := byYear[inc.Year]
		if !ok {
			x = &exposure{}
			byYear[inc.Year] = x
			years = append(years, inc.Year)
		}
		x.add(inc)
	}
	sort.Ints(years)

	out := make([]model.StateYearSummary, 0, len(years))
	for _, y := range years {
		x := byYear[y]
		out = append(out, model.StateYearSummary{
			Year:                   y,
			Injuries:               x.injuries,
			Fatalities:             x.fatalities,
			DaysAwayFromWork:       x.dafw,
			JobTransferRestriction: x.djtr,
			TRIR:                   x.trir(),
			FatalityRate:           x.fatalityRate(),
		})
	}
	return out, nil
}

// TopStatesByTRIR ranks states by TRIR for one year, descending. States
// with no recorded hours are excluded rather than ranked nil.
func (e *Engine) TopStatesByTRIR(ctx context.Context, year, limit int) ([]model.StateTRIR, error) {
	if limit <= 0 {
		limit = DefaultTRIRLimit
	}
	incs, err := e.store.ListJoinedIncidents(ctx)
	if err != nil {
		return nil, err
	}

	idx := make(map[string]int)
	var names []string
	var sums []exposure
	for _, inc := range incs {
		if inc.Year != year {
			continue
		}
		i, ok := idx[inc.StateName]
		if !ok {
			i = len(sums)
			idx[inc.StateName] = i
			names = append(names, inc.StateName)
			sums = append(sums, exposure{})
		}
		sums[i].add(inc)
	}

	var rows []model.StateTRIR
	for i, name := range names {
		if t := sums[i].trir(); t != nil {
			rows = append(rows, model.StateTRIR{StateName: name, TRIR: *t})
		}
	}
	sort.SliceStable(rows, func(a, b int) bool { return rows[a].TRIR > rows[b].TRIR })
	return truncate(rows, limit), nil
}

// TopMacroSectorsByTRIR ranks macro-sectors by TRIR for one year,
// descending, excluding groups with no recorded hours.
func (e *Engine) TopMacroSectorsByTRIR(ctx context.Context, year, limit int) ([]model.MacroSectorTRIR, error) {
	if limit <= 0 {
		limit = DefaultTRIRLimit
	}
	incs, err := e.store.ListJoinedIncidents(ctx)
	if err != nil {
		return nil, err
	}

	idx := make(map[string]int)
	var names []string
	var sums []exposure
	for _, inc := range incs {
		if inc.Year != year {
			continue
		}
		i, ok := idx[inc.SectorMacro]
		if !ok {
			i = len(sums)
			idx[inc.SectorMacro] = i
			names = append(names, inc.SectorMacro)
			sums = append(sums, exposure{})
		}
		sums[i].add(inc)
	}

	var rows []model.MacroSectorTRIR
	for i, name := range names {
		if t := sums[i].trir(); t != nil {
			rows = append(rows, model.MacroSectorTRIR{SectorMacro: name, TRIR: *t})
		}
	}
	sort.SliceStable(rows, func(a, b int) bool { return rows[a].TRIR > rows[b].TRIR })
	return truncate(rows, limit), nil
}

// IncidentRateByMacroSector computes injuries per 1000 employees per
// macro-sector across all years, descending, excluding groups with no
// employees.
func (e *Engine) IncidentRateByMacroSector(ctx context.Context) ([]model.MacroSectorRate, error) {
	incs, err := e.store.ListJoinedIncidents(ctx)
	if err != nil {
		return nil, err
	}

	idx := make(map[string]int)
	var names []string
	var sums []exposure
	for _, inc := range incs {
		i, ok := idx[inc.SectorMacro]
		if !ok {
			i = len(sums)
			idx[inc.SectorMacro] = i
			names = append(names, inc.SectorMacro)
			sums = append(sums, exposure{})
		}
		sums[i].add(inc)
	}

	var rows []model.MacroSectorRate
	for i, name := range names {
		if sums[i].employees > 0 {
			rate := roundTo(float64(sums[i].injuries)/float64(sums[i].employees)*1000, 2)
			rows = append(rows, model.MacroSectorRate{SectorMacro: name, IncidentRate: rate})
		}
	}
	sort.SliceStable(rows, func(a, b int) bool { return rows[a].IncidentRate > rows[b].IncidentRate })
	return rows, nil
}

// TopSubsectorsByInjuries ranks the 3-digit NAICS prefixes within one
// macro-sector on total injuries, descending.
func (e *Engine) TopSubsectorsByInjuries(ctx context.Context, macro string, limit int) ([]model.SubsectorInjuries, error) {
	if limit <= 0 {
		limit = DefaultSubsectorLimit
	}
	incs, err := e.store.ListJoinedIncidents(ctx)
	if err != nil {
		return nil, err
	}

	idx := make(map[string]int)
	var rows []model.SubsectorInjuries
	for _, inc := range incs {
		if !strings.EqualFold(inc.SectorMacro, macro) {
			continue
		}
		naics3 := inc.NAICSCode
		if len(naics3) > 3 {
			naics3 = naics3[:3]
		}
		i, ok := idx[naics3]
		if !ok {
			i = len(rows)
			idx[naics3] = i
			rows = append(rows, model.SubsectorInjuries{NAICS3: naics3})
		}
		rows[i].TotalInjuries += inc.Injuries
	}

	sort.SliceStable(rows, func(a, b int) bool {
		return rows[a].TotalInjuries > rows[b].TotalInjuries
	})
	return truncate(rows, limit), nil
}

// SummaryFilter restricts the Summary report; zero values mean no filter.
type SummaryFilter struct {
	Year        int
	StateName   string
	SectorMacro string
}

// Summary groups by (year, state, macro-sector) with optional equality
// filters, ordered by year, state, macro. This is the export surface.
func (e *Engine) Summary(ctx context.Context, filter SummaryFilter) ([]model.SummaryRow, error) {
	incs, err := e.store.ListJoinedIncidents(ctx)
	if err != nil {
		return nil, err
	}

	type key struct {
		year   int
		state  string
		sector string
	}
	idx := make(map[key]int)
	var keys []key
	var sums []exposure
	for _, inc := range incs {
		if filter.Year != 0 && inc.Year != filter.Year {
			continue
		}
		if filter.StateName != "" && !strings.EqualFold(inc.StateName, filter.StateName) {
			continue
		}
		if filter.SectorMacro != "" && !strings.EqualFold(inc.SectorMacro, filter.SectorMacro) {
			continue
		}
		k := key{inc.Year, inc.StateName, inc.SectorMacro}
		i, ok := idx[k]
		if !ok {
			i = len(sums)
			idx[k] = i
			keys = append(keys, k)
			sums = append(sums, exposure{})
		}
		sums[i].add(inc)
	}

	rows := make([]model.SummaryRow, len(keys))
	for i, k := range keys {
		rows[i] = model.SummaryRow{
			Year:        k.year,
			StateName:   k.state,
			SectorMacro: k.sector,
			Injuries:    sums[i].injuries,
			Fatalities:  sums[i].fatalities,
			TRIR:        sums[i].trir(),
		}
	}

	sort.SliceStable(rows, func(a, b int) bool {
		if rows[a].Year != rows[b].Year {
			return rows[a].Year < rows[b].Year
		}
		if rows[a].StateName != rows[b].StateName {
			return rows[a].StateName < rows[b].StateName
		}
		return rows[a].SectorMacro < rows[b].SectorMacro
	})
	return rows, nil
}

// delta returns a-b when both are set.
func delta(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	return ptr(roundTo(*a-*b, 2))
}
