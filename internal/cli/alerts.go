package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"crop-sell-advisor/internal/app"
)

var (
	alertUser     int64
	alertMarket   string
	alertChannels []string
	alertListUser int64
	watchUser     int64
	watchCity     string
	watchRisk     string
	watchChannels []string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage price alert rules",
}

var alertsAddCmd = &cobra.Command{
	Use:   "add <crop> <above|below|change> <threshold>",
	Short: "Create a price alert rule",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		rule, err := getApp().AddAlert(cmd.Context(), app.AlertOptions{
			UserID:    alertUser,
			Crop:      args[0],
			Market:    alertMarket,
			Kind:      args[1],
			Threshold: args[2],
			Channels:  alertChannels,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rule.ID)
		return nil
	},
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alert rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListAlerts(cmd.Context(), alertListUser)
	},
}

var alertsEnableCmd = &cobra.Command{
	Use:   "enable <rule-id>",
	Short: "Activate an alert rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetAlertActive(cmd.Context(), args[0], true)
	},
}

var alertsDisableCmd = &cobra.Command{
	Use:   "disable <rule-id>",
	Short: "Deactivate an alert rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetAlertActive(cmd.Context(), args[0], false)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage crops covered by the daily analysis",
}

var watchAddCmd = &cobra.Command{
	Use:   "add <crop>",
	Short: "Watch a crop for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AddWatch(cmd.Context(), app.WatchOptions{
			UserID:        watchUser,
			Crop:          args[0],
			City:          watchCity,
			RiskTolerance: watchRisk,
			Channels:      watchChannels,
		})
	},
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched crops",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListWatches(cmd.Context())
	},
}

func init() {
	alertsAddCmd.Flags().Int64Var(&alertUser, "user", 0, "Owner user id")
	alertsAddCmd.Flags().StringVar(&alertMarket, "market", "", "Restrict to one market")
	alertsAddCmd.Flags().StringSliceVar(&alertChannels, "channel", nil, "Delivery channels (defaults to alerting.channels)")
	alertsListCmd.Flags().Int64Var(&alertListUser, "user", 0, "Only list rules of this user (0 lists all)")
	alertsCmd.AddCommand(alertsAddCmd, alertsListCmd, alertsEnableCmd, alertsDisableCmd)

	watchAddCmd.Flags().Int64Var(&watchUser, "user", 0, "Owner user id")
	watchAddCmd.Flags().StringVar(&watchCity, "city", "", "City for the weather forecast (defaults to config)")
	watchAddCmd.Flags().StringVar(&watchRisk, "risk", "", "Risk tolerance: low, medium or high")
	watchAddCmd.Flags().StringSliceVar(&watchChannels, "channel", nil, "Delivery channels (defaults to alerting.channels)")
	watchCmd.AddCommand(watchAddCmd, watchListCmd)
}
