package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"crop-sell-advisor/internal/app"
)

var (
	backfillCrops   []string
	backfillDays    int
	backfillDryRun  bool
	backfillWorkers int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill price history for tracked crops",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillDays <= 0 {
			return fmt.Errorf("--days must be greater than zero")
		}

		opts := app.BackfillOptions{
			Crops:   backfillCrops,
			Days:    backfillDays,
			DryRun:  backfillDryRun,
			Workers: backfillWorkers,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringSliceVar(&backfillCrops, "crop", nil, "Crops to backfill (defaults to crops.tracked)")
	backfillCmd.Flags().IntVar(&backfillDays, "days", 60, "Number of days of history")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Run without writing to storage")
	backfillCmd.Flags().IntVar(&backfillWorkers, "workers", 2, "Number of concurrent workers")
}
