package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/osha-insights/internal/export"
	"github.com/sells-group/osha-insights/internal/report"
)

var (
	reportLimit  int
	reportYear   int
	reportState  string
	reportSector string
	reportFormat string
	reportOut    string
)

var reportNames = []string{
	"counts", "trend", "top-sectors", "sector-rates", "top-regions",
	"fatality-ratio", "kpi", "kpi-states", "kpi-sectors", "macro-rates",
	"subsectors", "state", "summary", "all",
}

var reportCmd = &cobra.Command{
	Use:       "report <name>",
	Short:     "Run an aggregate report",
	Long:      "Runs one of the fixed aggregate reports, or 'all' to export every parameterless report as one XLSX workbook.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: reportNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := newStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		eng := report.New(st)

		if args[0] == "all" {
			return reportAll(ctx, eng)
		}

		table, err := buildReport(ctx, eng, args[0])
		if err != nil {
			return err
		}
		return writeReport(*table)
	},
}

func buildReport(ctx context.Context, eng *report.Engine, name string) (*export.Table, error) {
	switch name {
	case "counts":
		c, err := eng.RecordCounts(ctx)
		if err != nil {
			return nil, err
		}
		return &export.Table{
			Name:    "Counts",
			Headers: []string{"table", "rows"},
			Rows: [][]string{
				{"incidents", strconv.FormatInt(c.Incidents, 10)},
				{"regions", strconv.FormatInt(c.Regions, 10)},
				{"sectors", strconv.FormatInt(c.Sectors, 10)},
			},
		}, nil

	case "trend":
		rows, err := eng.YearlyTrend(ctx)
		if err != nil {
			return nil, err
		}
		t := &export.Table{Name: "Trend", Headers: []string{"year", "total_injuries", "total_fatalities"}}
		for _, r := range rows {
			t.Rows = append(t.Rows, []string{
				strconv.Itoa(r.Year),
				strconv.FormatInt(r.TotalInjuries, 10),
				strconv.FormatInt(r.TotalFatalities, 10),
			})
		}
		return t, nil

	case "top-sectors":
		rows, err := eng.TopSectorsByInjuries(ctx, reportLimit)
		if err != nil {
			return nil, err
		}
		t := &export.Table{Name: "Top Sectors", Headers: []string{"sector", "total_injuries"}}
		for _, r := range rows {
			t.Rows = append(t.Rows, []string{r.SectorClean, strconv.FormatInt(r.TotalInjuries, 10)})
		}
		return t, nil

	case "sector-rates":
		rows, err := eng.IncidentRatePerSector(ctx, reportLimit)
		if err != nil {
			return nil, err
		}
		t := &export.Table{Name: "Sector Rates", Headers: []string{"sector", "year", "incident_rate"}}
		for _, r := range rows {
			t.Rows = append(t.Rows, []string{r.SectorClean, strconv.Itoa(r.Year), fmtRate(r.IncidentRate)})
		}
		return t, nil

	case "top-regions":
		rows, err := eng.TopRegionsByInjuries(ctx, reportLimit)
		if err != nil {
			return nil, err
		}
		t := &export.Table{Name: "Top States", Headers: []string{"state", "total_injuries"}}
		for _, r := range rows {
			t.Rows = append(t.Rows, []string{r.StateName, strconv.FormatInt(r.TotalInjuries, 10)})
		}
		return t, nil

	case "fatality-ratio":
		rows, err := eng.FatalityRatioBySector(ctx, reportLimit)
		if err != nil {
			return nil, err
		}
		t := &export.Table{Name: "Fatality Ratio", Headers: []string{"sector", "fatality_ratio"}}
		for _, r := range rows {
			t.Rows = append(t.Rows, []string{r.SectorClean, fmtRate(r.FatalityRatio)})
		}
		return t, nil

	case "kpi":
		rows, err := eng.SafetyKPIsByYear(ctx)
		if err != nil {
			return nil, err
		}
		t := &export.Table{
			Name:    "Safety KPIs",
			Headers: []string{"year", "trir", "severity_rate", "fatality_rate", "trir_delta", "severity_delta", "fatality_delta"},
		}
		for _, r := range rows {
			t.Rows = append(t.Rows, []string{
				strconv.Itoa(r.Year),
				fmtRate(r.TRIR), fmtRate(r.SeverityRate), fmtRate(r.FatalityRate),
				fmtRate(r.TRIRDelta), fmtRate(r.SeverityRateDelta), fmtRate(r.FatalityRateDelta),
			})
		}
		return t, nil

	case "kpi-states":
		if reportYear == 0 {
			return nil, eris.New("report: kpi-states requires --year")
		}
		rows, err := eng.TopStatesByTRIR(ctx, reportYear, reportLimit)
		if err != nil {
			return nil, err
		}
		t := &export.Table{Name: "States by TRIR", Headers: []string{"state", "trir"}}
		for _, r := range rows {
			t.Rows = append(t.Rows, []string{r.StateName, fmtFloat(r.TRIR)})
		}
		return t, nil

	case "kpi-sectors":
		if reportYear == 0 {
			return nil, eris.New("report: kpi-sectors requires --year")
		}
		rows, err := eng.TopMacroSectorsByTRIR(ctx, reportYear, reportLimit)
		if err != nil {
			return nil, err
		}
		t := &export.Table{Name: "Sectors by TRIR", Headers: []string{"sector_macro", "trir"}}
		for _, r := range rows {
			t.Rows = append(t.Rows, []string{r.SectorMacro, fmtFloat(r.TRIR)})
		}
		return t, nil

	case "macro-rates":
		rows, err := eng.IncidentRateByMacroSector(ctx)
		if err != nil {
			return nil, err
		}
		t := &export.Table{Name: "Macro Rates", Headers: []string{"sector_macro", "incident_rate"}}
		for _, r := range rows {
			t.Rows = append(t.Rows, []string{r.SectorMacro, fmtFloat(r.IncidentRate)})
		}
		return t, nil

	case "subsectors":
		if reportSector == "" {
			return nil, eris.New("report: subsectors requires --sector <macro-sector>")
		}
		rows, err := eng.TopSubsectorsByInjuries(ctx, reportSector, reportLimit)
		if err != nil {
			return nil, err
		}
		t := &export.Table{Name: "Subsectors", Headers: []string{"naics3", "total_injuries"}}
		for _, r := range rows {
			t.Rows = append(t.Rows, []string{r.NAICS3, strconv.FormatInt(r.TotalInjuries, 10)})
		}
		return t, nil

	case "state":
		if reportState == "" {
			return nil, eris.New("report: state requires --state <name>")
		}
		rows, err := eng.StateSummary(ctx, reportState)
		if err != nil {
			return nil, err
		}
		t := &export.Table{
			Name:    "State Summary",
			Headers: []string{"year", "injuries", "fatalities", "daysawayfromwork", "jobtransferrestriction", "trir", "fatality_rate"},
		}
		for _, r := range rows {
			t.Rows = append(t.Rows, []string{
				strconv.Itoa(r.Year),
				strconv.FormatInt(r.Injuries, 10),
				strconv.FormatInt(r.Fatalities, 10),
				strconv.FormatInt(r.DaysAwayFromWork, 10),
				strconv.FormatInt(r.JobTransferRestriction, 10),
				fmtRate(r.TRIR), fmtRate(r.FatalityRate),
			})
		}
		return t, nil

	case "summary":
		rows, err := eng.Summary(ctx, report.SummaryFilter{
			Year:        reportYear,
			StateName:   reportState,
			SectorMacro: reportSector,
		})
		if err != nil {
			return nil, err
		}
		t := &export.Table{
			Name:    "Summary",
			Headers: []string{"year", "state", "sector_macro", "injuries", "fatalities", "trir"},
		}
		for _, r := range rows {
			t.Rows = append(t.Rows, []string{
				strconv.Itoa(r.Year), r.StateName, r.SectorMacro,
				strconv.FormatInt(r.Injuries, 10),
				strconv.FormatInt(r.Fatalities, 10),
				fmtRate(r.TRIR),
			})
		}
		return t, nil

	default:
		return nil, eris.Errorf("report: unknown report %q", name)
	}
}

// reportAll runs every parameterless report concurrently and writes them as
// one workbook, a sheet per report.
func reportAll(ctx context.Context, eng *report.Engine) error {
	names := []string{"counts", "trend", "top-sectors", "sector-rates", "top-regions", "fatality-ratio", "kpi", "macro-rates", "summary"}
	tables := make([]export.Table, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			t, err := buildReport(gctx, eng, name)
			if err != nil {
				return err
			}
			tables[i] = *t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := reportOut
	if out == "" {
		out = "reports.xlsx"
	}
	f, err := os.Create(out)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", out)
	}
	defer f.Close() //nolint:errcheck

	if err := export.WriteXLSX(f, tables...); err != nil {
		return err
	}
	fmt.Printf("wrote %d reports to %s\n", len(tables), out)
	return nil
}

func writeReport(t export.Table) error {
	switch reportFormat {
	case "", "table":
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for i, h := range t.Headers {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprint(w, h)
		}
		fmt.Fprintln(w)
		for _, row := range t.Rows {
			for i, v := range row {
				if i > 0 {
					fmt.Fprint(w, "\t")
				}
				fmt.Fprint(w, v)
			}
			fmt.Fprintln(w)
		}
		return w.Flush()

	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		rows := make([]map[string]string, 0, len(t.Rows))
		for _, row := range t.Rows {
			m := make(map[string]string, len(t.Headers))
			for i, h := range t.Headers {
				if i < len(row) {
					m[h] = row[i]
				}
			}
			rows = append(rows, m)
		}
		return eris.Wrap(enc.Encode(rows), "report: encode json")

	case "csv":
		if reportOut == "" {
			return export.WriteCSV(os.Stdout, t)
		}
		f, err := os.Create(reportOut)
		if err != nil {
			return eris.Wrapf(err, "report: create %s", reportOut)
		}
		defer f.Close() //nolint:errcheck
		return export.WriteCSV(f, t)

	case "xlsx":
		out := reportOut
		if out == "" {
			out = "report.xlsx"
		}
		f, err := os.Create(out)
		if err != nil {
			return eris.Wrapf(err, "report: create %s", out)
		}
		defer f.Close() //nolint:errcheck
		return export.WriteXLSX(f, t)

	default:
		return eris.Errorf("report: unknown format %q", reportFormat)
	}
}

// fmtRate renders a nullable rate; groups with a zero divisor print as n/a.
func fmtRate(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmtFloat(*v)
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func init() {
	reportCmd.Flags().IntVar(&reportLimit, "limit", 0, "rows per ranking (0 = report default)")
	reportCmd.Flags().IntVar(&reportYear, "year", 0, "filter to one filing year")
	reportCmd.Flags().StringVar(&reportState, "state", "", "filter to one state name")
	reportCmd.Flags().StringVar(&reportSector, "sector", "", "filter to one macro-sector")
	reportCmd.Flags().StringVar(&reportFormat, "format", "table", "output format: table, json, csv, xlsx")
	reportCmd.Flags().StringVar(&reportOut, "out", "", "output file for csv and xlsx formats")
	rootCmd.AddCommand(reportCmd)
}
