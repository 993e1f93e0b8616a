package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"crop-sell-advisor/internal/monitor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var runJobCmd = &cobra.Command{
	Use:   "run-job <job>",
	Short: "Run one monitoring job immediately",
	Long: fmt.Sprintf("Run one monitoring job immediately. Jobs: %s.",
		strings.Join([]string{monitor.JobAlertSweep, monitor.JobDailyAnalysis, monitor.JobPriceCollection}, ", ")),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RunJob(cmd.Context(), args[0])
	},
}
