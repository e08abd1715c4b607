package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusRuns int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show record counts and recent load runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := newStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		counts, err := st.Counts(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("incidents: %d\nregions:   %d\nsectors:   %d\n",
			counts.Incidents, counts.Regions, counts.Sectors)

		runs, err := st.ListLoadRuns(ctx, statusRuns)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return nil
		}

		fmt.Println("\nrecent load runs:")
		for _, run := range runs {
			line := fmt.Sprintf("  %s  %-8s  %7d rows  %s",
				run.StartedAt.Format("2006-01-02 15:04:05"), run.Status, run.RowsLoaded, run.Source)
			if run.Error != "" {
				line += "  (" + run.Error + ")"
			}
			fmt.Println(line)
		}

		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusRuns, "runs", 10, "number of recent load runs to show")
	rootCmd.AddCommand(statusCmd)
}
