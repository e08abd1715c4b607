package report

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/osha-insights/internal/model"
	"github.com/sells-group/osha-insights/internal/store"
)

// stubStore serves a fixed joined slice; only the read methods the engine
// touches are implemented.
type stubStore struct {
	store.Store
	incs   []model.JoinedIncident
	counts model.RecordCounts
	err    error
}

func (s *stubStore) ListJoinedIncidents(ctx context.Context) ([]model.JoinedIncident, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.incs, nil
}

func (s *stubStore) Counts(ctx context.Context) (*model.RecordCounts, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &s.counts, nil
}

func i64(v int64) *int64 { return &v }

func ji(year int, stateName, naics, clean, macro string, employees, hours *int64, injuries, fatalities int64) model.JoinedIncident {
	return model.JoinedIncident{
		Incident: model.Incident{
			Year:        year,
			NAICSCode:   naics,
			Employees:   employees,
			HoursWorked: hours,
			Injuries:    injuries,
			Fatalities:  fatalities,
		},
		StateName:   stateName,
		SectorClean: clean,
		SectorMacro: macro,
	}
}

func TestYearlyTrend(t *testing.T) {
	eng := New(&stubStore{incs: []model.JoinedIncident{
		ji(2023, "California", "2382", "Plumbing", "Construction", nil, nil, 4, 1),
		ji(2022, "Texas", "3111", "Animal Food", "Manufacturing", nil, nil, 2, 0),
		ji(2023, "Texas", "3111", "Animal Food", "Manufacturing", nil, nil, 6, 2),
	}})

	trend, err := eng.YearlyTrend(context.Background())
	require.NoError(t, err)
	require.Len(t, trend, 2)

	assert.Equal(t, model.YearTrend{Year: 2022, TotalInjuries: 2, TotalFatalities: 0}, trend[0])
	assert.Equal(t, model.YearTrend{Year: 2023, TotalInjuries: 10, TotalFatalities: 3}, trend[1])

	// The trend partitions every incident: totals match the raw sum.
	var raw int64
	for _, tr := range trend {
		raw += tr.TotalInjuries
	}
	assert.Equal(t, int64(12), raw)
}

func TestTopSectorsByInjuries(t *testing.T) {
	eng := New(&stubStore{incs: []model.JoinedIncident{
		ji(2023, "California", "2382", "Plumbing", "Construction", nil, nil, 5, 0),
		ji(2023, "California", "3111", "Animal Food", "Manufacturing", nil, nil, 9, 0),
		ji(2023, "Texas", "2382", "Plumbing", "Construction", nil, nil, 4, 0),
		ji(2023, "Texas", "4451", "Grocery", "Retail Trade", nil, nil, 9, 0),
	}})

	rows, err := eng.TopSectorsByInjuries(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// All three sectors tie at 9; the stable sort keeps first-occurrence
	// order of the rows, so Plumbing (row 1) leads, then Animal Food,
	// then Grocery.
	assert.Equal(t, "Plumbing", rows[0].SectorClean)
	assert.Equal(t, int64(9), rows[0].TotalInjuries)
	assert.Equal(t, "Animal Food", rows[1].SectorClean)
	assert.Equal(t, int64(9), rows[1].TotalInjuries)
	assert.Equal(t, "Grocery", rows[2].SectorClean)
	assert.Equal(t, int64(9), rows[2].TotalInjuries)
}

func TestTopSectorsByInjuries_Limit(t *testing.T) {
	eng := New(&stubStore{incs: []model.JoinedIncident{
		ji(2023, "California", "1", "A", "M", nil, nil, 3, 0),
		ji(2023, "California", "2", "B", "M", nil, nil, 2, 0),
		ji(2023, "California", "3", "C", "M", nil, nil, 1, 0),
	}})

	rows, err := eng.TopSectorsByInjuries(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0].SectorClean)
	assert.Equal(t, "B", rows[1].SectorClean)
}

func TestIncidentRatePerSector(t *testing.T) {
	eng := New(&stubStore{incs: []model.JoinedIncident{
		// 15 injuries over 1000 employees: 15 per 1000.
		ji(2023, "California", "2382", "Plumbing", "Construction", i64(600), nil, 9, 0),
		ji(2023, "Texas", "2382", "Plumbing", "Construction", i64(400), nil, 6, 0),
		// Same sector, other year, groups separately.
		ji(2022, "Texas", "2382", "Plumbing", "Construction", i64(200), nil, 1, 0),
		// No employees recorded at all: nil rate, sorts last.
		ji(2023, "Texas", "3111", "Animal Food", "Manufacturing", nil, nil, 50, 0),
	}})

	rows, err := eng.IncidentRatePerSector(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "Plumbing", rows[0].SectorClean)
	assert.Equal(t, 2023, rows[0].Year)
	require.NotNil(t, rows[0].IncidentRate)
	assert.InDelta(t, 15.0, *rows[0].IncidentRate, 0.0001)

	require.NotNil(t, rows[1].IncidentRate)
	assert.InDelta(t, 5.0, *rows[1].IncidentRate, 0.0001)

	assert.Equal(t, "Animal Food", rows[2].SectorClean)
	assert.Nil(t, rows[2].IncidentRate)
}

func TestIncidentRatePerSector_NullEmployeesStillCountInjuries(t *testing.T) {
	// A row without employees contributes its injuries to the group but
	// nothing to the denominator: 10/1000 + 5/NULL is 15 per 1000.
	eng := New(&stubStore{incs: []model.JoinedIncident{
		ji(2023, "California", "2382", "Plumbing", "Construction", i64(1000), nil, 10, 0),
		ji(2023, "Texas", "2382", "Plumbing", "Construction", nil, nil, 5, 0),
	}})

	rows, err := eng.IncidentRatePerSector(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].IncidentRate)
	assert.InDelta(t, 15.0, *rows[0].IncidentRate, 0.0001)
}

func TestTopRegionsByInjuries(t *testing.T) {
	eng := New(&stubStore{incs: []model.JoinedIncident{
		ji(2023, "California", "2382", "Plumbing", "Construction", nil, nil, 5, 0),
		ji(2022, "California", "3111", "Animal Food", "Manufacturing", nil, nil, 3, 0),
		ji(2023, "Texas", "2382", "Plumbing", "Construction", nil, nil, 6, 0),
	}})

	rows, err := eng.TopRegionsByInjuries(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, model.RegionInjuries{StateName: "California", TotalInjuries: 8}, rows[0])
	assert.Equal(t, model.RegionInjuries{StateName: "Texas", TotalInjuries: 6}, rows[1])
}

func TestFatalityRatioBySector(t *testing.T) {
	eng := New(&stubStore{incs: []model.JoinedIncident{
		ji(2023, "California", "2382", "Plumbing", "Construction", nil, nil, 8, 1),
		ji(2023, "Texas", "3111", "Animal Food", "Manufacturing", nil, nil, 3, 3),
		// No injuries: ratio undefined, sorts last.
		ji(2023, "Texas", "4451", "Grocery", "Retail Trade", nil, nil, 0, 2),
	}})

	rows, err := eng.FatalityRatioBySector(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "Animal Food", rows[0].SectorClean)
	require.NotNil(t, rows[0].FatalityRatio)
	assert.InDelta(t, 1.0, *rows[0].FatalityRatio, 0.0001)

	assert.Equal(t, "Plumbing", rows[1].SectorClean)
	require.NotNil(t, rows[1].FatalityRatio)
	assert.InDelta(t, 0.125, *rows[1].FatalityRatio, 0.0001)

	assert.Equal(t, "Grocery", rows[2].SectorClean)
	assert.Nil(t, rows[2].FatalityRatio)
}

func TestRecordCounts(t *testing.T) {
	eng := New(&stubStore{counts: model.RecordCounts{Incidents: 3, Regions: 2, Sectors: 1}})

	c, err := eng.RecordCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.Incidents)
}

func TestEngine_StoreErrorPropagates(t *testing.T) {
	eng := New(&stubStore{err: eris.New("store down")})

	_, err := eng.YearlyTrend(context.Background())
	assert.Error(t, err)

	_, err = eng.TopSectorsByInjuries(context.Background(), 0)
	assert.Error(t, err)
}

func TestRoundTo(t *testing.T) {
	// Half rounds away from zero.
	assert.InDelta(t, 0.13, roundTo(0.125, 2), 1e-9)
	assert.InDelta(t, -0.13, roundTo(-0.125, 2), 1e-9)
	assert.InDelta(t, 15.0, roundTo(15.0, 2), 1e-9)
	assert.InDelta(t, 0.333, roundTo(1.0/3.0, 3), 1e-9)
}

func TestLessDescNullsLast(t *testing.T) {
	a, b := 2.0, 1.0
	assert.True(t, lessDescNullsLast(&a, &b))
	assert.False(t, lessDescNullsLast(&b, &a))
	assert.True(t, lessDescNullsLast(&b, nil))
	assert.False(t, lessDescNullsLast(nil, &a))
	assert.False(t, lessDescNullsLast(nil, nil))
}
