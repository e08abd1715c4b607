package report

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/osha-insights/internal/model"
)

func kpiFixture() *stubStore {
	rows := []model.JoinedIncident{
		// 2022: 10 injuries over 2M hours (TRIR 1.0), 40 DAFW days
		// (severity 4.0), 2 fatalities over 100k employees (rate 2.0).
		ji(2022, "California", "2382", "Plumbing", "Construction", i64(60000), i64(1200000), 6, 1),
		ji(2022, "Texas", "3111", "Animal Food", "Manufacturing", i64(40000), i64(800000), 4, 1),
		// 2023: 30 injuries over 2M hours (TRIR 3.0).
		ji(2023, "California", "2382", "Plumbing", "Construction", i64(50000), i64(1000000), 20, 2),
		ji(2023, "Texas", "3111", "Animal Food", "Manufacturing", i64(50000), i64(1000000), 10, 0),
		// 2024: no hours or employees recorded anywhere.
		ji(2024, "California", "2382", "Plumbing", "Construction", nil, nil, 5, 0),
	}
	rows[0].DaysAwayFromWork = 25
	rows[1].DaysAwayFromWork = 15
	return &stubStore{incs: rows}
}

func TestSafetyKPIsByYear(t *testing.T) {
	eng := New(kpiFixture())

	kpis, err := eng.SafetyKPIsByYear(context.Background())
	require.NoError(t, err)
	require.Len(t, kpis, 3)

	y2022 := kpis[0]
	assert.Equal(t, 2022, y2022.Year)
	require.NotNil(t, y2022.TRIR)
	assert.InDelta(t, 1.0, *y2022.TRIR, 0.0001)
	require.NotNil(t, y2022.SeverityRate)
	assert.InDelta(t, 4.0, *y2022.SeverityRate, 0.0001)
	require.NotNil(t, y2022.FatalityRate)
	assert.InDelta(t, 2.0, *y2022.FatalityRate, 0.0001)
	assert.Nil(t, y2022.TRIRDelta)

	y2023 := kpis[1]
	require.NotNil(t, y2023.TRIR)
	assert.InDelta(t, 3.0, *y2023.TRIR, 0.0001)
	require.NotNil(t, y2023.TRIRDelta)
	assert.InDelta(t, 2.0, *y2023.TRIRDelta, 0.0001)

	// 2024 has no exposure data: every indicator and delta is nil.
	y2024 := kpis[2]
	assert.Nil(t, y2024.TRIR)
	assert.Nil(t, y2024.SeverityRate)
	assert.Nil(t, y2024.FatalityRate)
	assert.Nil(t, y2024.TRIRDelta)
}

func TestStateSummary(t *testing.T) {
	eng := New(kpiFixture())

	// Case-insensitive state match.
	rows, err := eng.StateSummary(context.Background(), "california")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, 2022, rows[0].Year)
	assert.Equal(t, int64(6), rows[0].Injuries)
	assert.Equal(t, int64(1), rows[0].Fatalities)
	assert.Equal(t, int64(25), rows[0].DaysAwayFromWork)
	require.NotNil(t, rows[0].TRIR)
	assert.InDelta(t, 1.0, *rows[0].TRIR, 0.0001)

	assert.Equal(t, 2024, rows[2].Year)
	assert.Nil(t, rows[2].TRIR)
}

func TestStateSummary_UnknownState(t *testing.T) {
	eng := New(kpiFixture())

	rows, err := eng.StateSummary(context.Background(), "Atlantis")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestTopStatesByTRIR(t *testing.T) {
	eng := New(kpiFixture())

	rows, err := eng.TopStatesByTRIR(context.Background(), 2023, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// CA: 20/1M*200k = 4.0, TX: 10/1M*200k = 2.0.
	assert.Equal(t, "California", rows[0].StateName)
	assert.InDelta(t, 4.0, rows[0].TRIR, 0.0001)
	assert.Equal(t, "Texas", rows[1].StateName)
	assert.InDelta(t, 2.0, rows[1].TRIR, 0.0001)

	// 2024 has no hours anywhere, so no state is rankable.
	rows, err = eng.TopStatesByTRIR(context.Background(), 2024, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestTopMacroSectorsByTRIR(t *testing.T) {
	eng := New(kpiFixture())

	rows, err := eng.TopMacroSectorsByTRIR(context.Background(), 2023, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Construction", rows[0].SectorMacro)
	assert.InDelta(t, 4.0, rows[0].TRIR, 0.0001)
	assert.Equal(t, "Manufacturing", rows[1].SectorMacro)
}

func TestIncidentRateByMacroSector(t *testing.T) {
	eng := New(&stubStore{incs: []model.JoinedIncident{
		ji(2023, "California", "2382", "Plumbing", "Construction", i64(1000), nil, 15, 0),
		ji(2023, "Texas", "3111", "Animal Food", "Manufacturing", i64(2000), nil, 10, 0),
		// No employees: excluded from the ranking entirely.
		ji(2023, "Texas", "4451", "Grocery", "Retail Trade", nil, nil, 99, 0),
	}})

	rows, err := eng.IncidentRateByMacroSector(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Construction", rows[0].SectorMacro)
	assert.InDelta(t, 15.0, rows[0].IncidentRate, 0.0001)
	assert.Equal(t, "Manufacturing", rows[1].SectorMacro)
	assert.InDelta(t, 5.0, rows[1].IncidentRate, 0.0001)
}

func TestTopSubsectorsByInjuries(t *testing.T) {
	eng := New(&stubStore{incs: []model.JoinedIncident{
		ji(2023, "California", "23821", "Electrical", "Construction", nil, nil, 5, 0),
		ji(2023, "Texas", "23822", "Plumbing", "Construction", nil, nil, 3, 0),
		ji(2023, "Texas", "2371", "Utility Construction", "Construction", nil, nil, 9, 0),
		ji(2023, "Texas", "3111", "Animal Food", "Manufacturing", nil, nil, 50, 0),
	}})

	// 238xx codes collapse into one 3-digit group; macro match ignores case.
	rows, err := eng.TopSubsectorsByInjuries(context.Background(), "construction", 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, model.SubsectorInjuries{NAICS3: "237", TotalInjuries: 9}, rows[0])
	assert.Equal(t, model.SubsectorInjuries{NAICS3: "238", TotalInjuries: 8}, rows[1])
}

func TestTopSubsectorsByInjuries_Ordering(t *testing.T) {
	eng := New(&stubStore{incs: []model.JoinedIncident{
		ji(2023, "Texas", "2371", "Utility Construction", "Construction", nil, nil, 9, 0),
		ji(2023, "California", "2382", "Electrical", "Construction", nil, nil, 5, 0),
	}})

	rows, err := eng.TopSubsectorsByInjuries(context.Background(), "Construction", 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "237", rows[0].NAICS3)
	assert.Equal(t, "238", rows[1].NAICS3)
}

func TestSummary(t *testing.T) {
	eng := New(kpiFixture())

	rows, err := eng.Summary(context.Background(), SummaryFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 5)

	// Ordered by year, then state, then macro.
	assert.Equal(t, 2022, rows[0].Year)
	assert.Equal(t, "California", rows[0].StateName)
	assert.Equal(t, 2022, rows[1].Year)
	assert.Equal(t, "Texas", rows[1].StateName)
	assert.Equal(t, 2024, rows[4].Year)
}

func TestSummary_Filters(t *testing.T) {
	eng := New(kpiFixture())

	rows, err := eng.Summary(context.Background(), SummaryFilter{Year: 2023, StateName: "texas"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Texas", rows[0].StateName)
	assert.Equal(t, "Manufacturing", rows[0].SectorMacro)
	assert.Equal(t, int64(10), rows[0].Injuries)
	require.NotNil(t, rows[0].TRIR)
	assert.InDelta(t, 2.0, *rows[0].TRIR, 0.0001)

	rows, err = eng.Summary(context.Background(), SummaryFilter{SectorMacro: "construction"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
}

func TestDelta(t *testing.T) {
	a, b := 3.0, 1.25
	d := delta(&a, &b)
	require.NotNil(t, d)
	assert.InDelta(t, 1.75, *d, 0.0001)

	assert.Nil(t, delta(nil, &b))
	assert.Nil(t, delta(&a, nil))
}
