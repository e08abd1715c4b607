package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/osha-insights/internal/etl"
)

var loadBatchSize int

var loadCmd = &cobra.Command{
	Use:   "load <file.csv> [file.csv ...]",
	Short: "Load injury summary CSV files into the store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := newStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		batchSize := loadBatchSize
		if batchSize == 0 {
			batchSize = cfg.Load.BatchSize
		}
		loader := etl.NewLoader(st, batchSize)

		for _, path := range args {
			res, err := loader.LoadCSV(ctx, path)
			if err != nil {
				return err
			}

			fmt.Printf("%s: %d rows read, %d loaded, %d regions added, %d sectors added\n",
				path, res.RowsRead, res.RowsLoaded, res.NewRegions, res.NewSectors)
			for reason, n := range res.RowsSkipped {
				fmt.Printf("  skipped %d: %s\n", n, reason)
			}

			zap.L().Info("file loaded",
				zap.String("run_id", res.RunID),
				zap.String("source", path),
				zap.Int64("rows_loaded", res.RowsLoaded),
			)
		}

		return nil
	},
}

func init() {
	loadCmd.Flags().IntVar(&loadBatchSize, "batch-size", 0, "incidents per transaction (default from config)")
	rootCmd.AddCommand(loadCmd)
}
