package etl

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/osha-insights/internal/model"
	"github.com/sells-group/osha-insights/internal/store"
)

// DefaultBatchSize is the number of incidents flushed per transaction.
const DefaultBatchSize = 5000

// columnAliases maps each canonical column to the headers it may appear
// under: the cleaned-export header and the raw ITA header.
var columnAliases = map[string][]string{
	"year":                   {"year", "year_filing_for"},
	"state":                  {"state"},
	"naics":                  {"naics", "naics_code"},
	"sector":                 {"sector", "industry_description"},
	"employees":              {"employees", "annual_average_employees"},
	"hoursworked":            {"hoursworked", "total_hours_worked"},
	"injuries":               {"injuries", "total_injuries"},
	"fatalities":             {"fatalities", "total_deaths"},
	"daysawayfromwork":       {"daysawayfromwork", "total_dafw_cases"},
	"jobtransferrestriction": {"jobtransferrestriction", "total_djtr_cases"},
	"othercases":             {"othercases", "total_other_cases"},
}

// requiredColumns must be present in the header for a load to start.
var requiredColumns = []string{"year", "state", "naics", "sector"}

// Result summarizes one load run.
type Result struct {
	RunID       string
	RowsRead    int64
	RowsLoaded  int64
	RowsSkipped map[SkipReason]int64
	NewRegions  int64
	NewSectors  int64
}

// Loader streams a CSV into the store in atomic batches, deriving the
// reference tables from the incident rows as it goes.
type Loader struct {
	store     store.Store
	batchSize int
}

// NewLoader creates a Loader. batchSize <= 0 selects DefaultBatchSize.
func NewLoader(st store.Store, batchSize int) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Loader{store: st, batchSize: batchSize}
}

// LoadCSV loads one CSV file and records the outcome in load_runs.
func (l *Loader) LoadCSV(ctx context.Context, path string) (*Result, error) {
	run, err := l.store.CreateLoadRun(ctx, path)
	if err != nil {
		return nil, err
	}

	res, err := l.load(ctx, path)
	if err != nil {
		if cerr := l.store.CompleteLoadRun(ctx, run.ID, model.LoadRunFailed, 0, err.Error()); cerr != nil {
			zap.L().Error("failed to record load failure", zap.String("run_id", run.ID), zap.Error(cerr))
		}
		return nil, err
	}

	res.RunID = run.ID
	if err := l.store.CompleteLoadRun(ctx, run.ID, model.LoadRunComplete, res.RowsLoaded, ""); err != nil {
		return nil, err
	}
	return res, nil
}

func (l *Loader) load(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "etl: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	// Stops the streaming goroutine on early return.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := zap.L().With(zap.String("source", path))

	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamCSV(ctx, f, CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})

	var cols map[string]int
	res := &Result{RowsSkipped: make(map[SkipReason]int64)}

	// Reference rows already pushed to the store this run.
	loadedRegions := make(map[string]bool)
	loadedSectors := make(map[string]bool)

	var batch []model.Incident
	var batchRegions []model.Region
	var batchSectors []model.Sector

	flush := func() error {
		if len(batchRegions) > 0 {
			n, err := l.store.LoadRegions(ctx, batchRegions)
			if err != nil {
				return err
			}
			res.NewRegions += n
			batchRegions = batchRegions[:0]
		}
		if len(batchSectors) > 0 {
			n, err := l.store.LoadSectors(ctx, batchSectors)
			if err != nil {
				return err
			}
			res.NewSectors += n
			batchSectors = batchSectors[:0]
		}
		if len(batch) > 0 {
			n, err := l.store.InsertIncidents(ctx, batch)
			if err != nil {
				return err
			}
			res.RowsLoaded += n
			batch = batch[:0]
		}
		return nil
	}

	for row := range rowCh {
		if cols == nil {
			header, ok := <-headerCh
			if !ok {
				return nil, eris.New("etl: missing header row")
			}
			cols, err = mapHeader(header)
			if err != nil {
				return nil, err
			}
		}

		res.RowsRead++
		raw := rawFromRow(row, cols)
		rec, skip := Clean(raw)
		if skip != "" {
			res.RowsSkipped[skip]++
			continue
		}

		if !loadedRegions[rec.Region.StateCode] {
			loadedRegions[rec.Region.StateCode] = true
			if exists, err := l.regionExists(ctx, rec.Region.StateCode); err != nil {
				return nil, err
			} else if !exists {
				batchRegions = append(batchRegions, rec.Region)
			}
		}
		if !loadedSectors[rec.Sector.NAICSCode] {
			loadedSectors[rec.Sector.NAICSCode] = true
			if exists, err := l.sectorExists(ctx, rec.Sector.NAICSCode); err != nil {
				return nil, err
			} else if !exists {
				batchSectors = append(batchSectors, rec.Sector)
			}
		}

		batch = append(batch, rec.Incident)
		if len(batch) >= l.batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
			log.Debug("batch flushed", zap.Int64("rows_loaded", res.RowsLoaded))
		}
	}

	if err := <-errCh; err != nil {
		return nil, err
	}
	if cols == nil {
		// No data rows: validate the header anyway if one arrived.
		select {
		case header := <-headerCh:
			if _, err := mapHeader(header); err != nil {
				return nil, err
			}
		default:
			return nil, eris.New("etl: empty file")
		}
	}

	if err := flush(); err != nil {
		return nil, err
	}

	log.Info("load complete",
		zap.Int64("rows_read", res.RowsRead),
		zap.Int64("rows_loaded", res.RowsLoaded),
		zap.Int64("new_regions", res.NewRegions),
		zap.Int64("new_sectors", res.NewSectors),
	)
	return res, nil
}

func (l *Loader) regionExists(ctx context.Context, code string) (bool, error) {
	r, err := l.store.GetRegion(ctx, code)
	if err != nil {
		return false, err
	}
	return r != nil, nil
}

func (l *Loader) sectorExists(ctx context.Context, naics string) (bool, error) {
	s, err := l.store.GetSector(ctx, naics)
	if err != nil {
		return false, err
	}
	return s != nil, nil
}

// mapHeader resolves each canonical column to its index, failing when a
// required column is absent.
func mapHeader(header []string) (map[string]int, error) {
	byName := make(map[string]int, len(header))
	for i, h := range header {
		byName[strings.ToLower(strings.TrimSpace(h))] = i
	}

	cols := make(map[string]int)
	for canonical, aliases := range columnAliases {
		for _, alias := range aliases {
			if i, ok := byName[alias]; ok {
				cols[canonical] = i
				break
			}
		}
	}
	for _, req := range requiredColumns {
		if _, ok := cols[req]; !ok {
			return nil, eris.Errorf("etl: header missing required column %q", req)
		}
	}
	return cols, nil
}

func rawFromRow(row []string, cols map[string]int) RawRecord {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}
	return RawRecord{
		Year:                   field("year"),
		State:                  field("state"),
		NAICS:                  field("naics"),
		Sector:                 field("sector"),
		Employees:              field("employees"),
		HoursWorked:            field("hoursworked"),
		Injuries:               field("injuries"),
		Fatalities:             field("fatalities"),
		DaysAwayFromWork:       field("daysawayfromwork"),
		JobTransferRestriction: field("jobtransferrestriction"),
		OtherCases:             field("othercases"),
	}
}
