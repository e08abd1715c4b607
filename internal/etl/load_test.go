package etl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/osha-insights/internal/model"
	"github.com/sells-group/osha-insights/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const itaCSV = `year_filing_for,state,naics_code,industry_description,annual_average_employees,total_hours_worked,total_injuries,total_deaths,total_dafw_cases,total_djtr_cases,total_other_cases
2023,CA,238220.0,"PLUMBING AND HVAC CONTRACTORS",120,240000,4,0,12,3,1
2023,ca,238220,"PLUMBING AND HVAC CONTRACTORS",80,160000,2,0,4,1,0
2023,TX,311111,ANIMAL FOOD MANUFACTURING,50,100000,1,0,0,0,0
2023,XX,238220,UNKNOWN PLACE,10,20000,1,0,0,0,0
bad,CA,238220,"PLUMBING AND HVAC CONTRACTORS",10,20000,1,0,0,0,0
`

func TestLoader_LoadCSV_ITAHeaders(t *testing.T) {
	st := newTestStore(t)
	loader := NewLoader(st, 0)
	ctx := context.Background()

	res, err := loader.LoadCSV(ctx, writeCSV(t, itaCSV))
	require.NoError(t, err)

	assert.Equal(t, int64(5), res.RowsRead)
	assert.Equal(t, int64(3), res.RowsLoaded)
	assert.Equal(t, int64(2), res.NewRegions)
	assert.Equal(t, int64(2), res.NewSectors)
	assert.Equal(t, int64(1), res.RowsSkipped[SkipUnknownState])
	assert.Equal(t, int64(1), res.RowsSkipped[SkipInvalidYear])

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts.Incidents)
	assert.Equal(t, int64(2), counts.Regions)
	assert.Equal(t, int64(2), counts.Sectors)

	// Reference rows derived from the data, not re-inserted per incident.
	sec, err := st.GetSector(ctx, "238220")
	require.NoError(t, err)
	require.NotNil(t, sec)
	assert.Equal(t, "Plumbing & Hvac Contractors", sec.SectorClean)
	assert.Equal(t, "Construction", sec.SectorMacro)

	// The run is recorded as complete.
	runs, err := st.ListLoadRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.LoadRunComplete, runs[0].Status)
	assert.Equal(t, int64(3), runs[0].RowsLoaded)
	assert.Equal(t, res.RunID, runs[0].ID)
}

func TestLoader_LoadCSV_CleanHeaders(t *testing.T) {
	st := newTestStore(t)
	loader := NewLoader(st, 0)

	csv := `Year,State,NAICS,Sector,Employees,HoursWorked,Injuries,Fatalities,DaysAwayFromWork,JobTransferRestriction,OtherCases
2022,WA,4451,GROCERY RETAILERS,200,400000,7,1,10,2,3
`
	res, err := loader.LoadCSV(context.Background(), writeCSV(t, csv))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsLoaded)

	joined, err := st.ListJoinedIncidents(context.Background())
	require.NoError(t, err)
	require.Len(t, joined, 1)
	assert.Equal(t, "Washington", joined[0].StateName)
	assert.Equal(t, "Retail Trade", joined[0].SectorMacro)
	assert.Equal(t, int64(7), joined[0].Injuries)
}

func TestLoader_SecondLoadReusesReferences(t *testing.T) {
	st := newTestStore(t)
	loader := NewLoader(st, 0)
	ctx := context.Background()

	_, err := loader.LoadCSV(ctx, writeCSV(t, itaCSV))
	require.NoError(t, err)

	second := `year_filing_for,state,naics_code,industry_description,annual_average_employees,total_hours_worked,total_injuries,total_deaths,total_dafw_cases,total_djtr_cases,total_other_cases
2024,CA,238220,"PLUMBING AND HVAC CONTRACTORS",100,200000,3,0,1,0,0
`
	res, err := loader.LoadCSV(ctx, writeCSV(t, second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsLoaded)
	assert.Equal(t, int64(0), res.NewRegions)
	assert.Equal(t, int64(0), res.NewSectors)

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts.Incidents)
	assert.Equal(t, int64(2), counts.Regions)
}

func TestLoader_SmallBatches(t *testing.T) {
	st := newTestStore(t)
	loader := NewLoader(st, 1)

	res, err := loader.LoadCSV(context.Background(), writeCSV(t, itaCSV))
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.RowsLoaded)
}

func TestLoader_MissingColumn(t *testing.T) {
	st := newTestStore(t)
	loader := NewLoader(st, 0)
	ctx := context.Background()

	csv := `year_filing_for,naics_code,industry_description
2023,238220,"PLUMBING"
`
	_, err := loader.LoadCSV(ctx, writeCSV(t, csv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"state"`)

	// The failed run is still recorded.
	runs, err := st.ListLoadRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.LoadRunFailed, runs[0].Status)
	assert.NotEmpty(t, runs[0].Error)
}

func TestLoader_MissingFile(t *testing.T) {
	st := newTestStore(t)
	loader := NewLoader(st, 0)

	_, err := loader.LoadCSV(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestMapHeader_MixedCase(t *testing.T) {
	cols, err := mapHeader([]string{"Year", "STATE", "naics", "Sector"})
	require.NoError(t, err)
	assert.Equal(t, 0, cols["year"])
	assert.Equal(t, 1, cols["state"])
	assert.Equal(t, 2, cols["naics"])
	assert.Equal(t, 3, cols["sector"])
}
