package cli

import (
	"github.com/spf13/cobra"

	"crop-sell-advisor/internal/app"
)

var (
	exportDays      int
	exportAhead     int
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export <crop>",
	Short: "Export stored prices and the forecast as CSV and/or PNG chart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Crop:      args[0],
			Days:      exportDays,
			DaysAhead: exportAhead,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().IntVar(&exportDays, "days", 90, "Days of stored history to export")
	exportCmd.Flags().IntVar(&exportAhead, "ahead", 7, "Days of forecast to append (0 disables)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
