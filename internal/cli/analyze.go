package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"crop-sell-advisor/internal/app"
)

var (
	analyzeCity      string
	analyzeDays      int
	analyzeRisk      string
	analyzeSynthetic bool
	analyzeJSON      bool

	acquireDays      int
	acquireSynthetic bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <crop>",
	Short: "Recommend whether to sell, hold or wait",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if analyzeDays < 0 {
			return fmt.Errorf("--days must not be negative")
		}
		opts := app.AnalyzeOptions{
			Crop:           args[0],
			City:           analyzeCity,
			DaysAhead:      analyzeDays,
			RiskTolerance:  analyzeRisk,
			ForceSynthetic: analyzeSynthetic,
			JSON:           analyzeJSON,
		}
		return getApp().Analyze(cmd.Context(), opts)
	},
}

var acquireCmd = &cobra.Command{
	Use:   "acquire <crop>",
	Short: "Fetch price history through the cache, remote and synthetic tiers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if acquireDays <= 0 {
			return fmt.Errorf("--days must be greater than zero")
		}
		opts := app.AcquireOptions{
			Crop:           args[0],
			Days:           acquireDays,
			ForceSynthetic: acquireSynthetic,
		}
		return getApp().Acquire(cmd.Context(), opts)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeCity, "city", "", "City for the weather forecast (defaults to config)")
	analyzeCmd.Flags().IntVar(&analyzeDays, "days", 0, "Forecast horizon in days (defaults to config)")
	analyzeCmd.Flags().StringVar(&analyzeRisk, "risk", "", "Risk tolerance: low, medium or high")
	analyzeCmd.Flags().BoolVar(&analyzeSynthetic, "synthetic", false, "Skip the remote source and use synthetic prices")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the decision as JSON")

	acquireCmd.Flags().IntVar(&acquireDays, "days", 30, "Number of days of history")
	acquireCmd.Flags().BoolVar(&acquireSynthetic, "synthetic", false, "Skip the remote source and use synthetic prices")
}
