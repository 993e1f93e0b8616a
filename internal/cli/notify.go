package cli

import (
	"github.com/spf13/cobra"

	"crop-sell-advisor/internal/app"
)

var (
	notifyCrop     string
	notifyPrice    float64
	notifyChannels []string
)

var notifyTestCmd = &cobra.Command{
	Use:   "notify-test",
	Short: "Send a test notification through the configured channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().NotifyTest(cmd.Context(), app.NotifyTestOptions{
			Crop:     notifyCrop,
			Price:    notifyPrice,
			Channels: notifyChannels,
		})
	},
}

func init() {
	notifyTestCmd.Flags().StringVar(&notifyCrop, "crop", "wheat", "Crop named in the test message")
	notifyTestCmd.Flags().Float64Var(&notifyPrice, "price", 2400, "Price named in the test message")
	notifyTestCmd.Flags().StringSliceVar(&notifyChannels, "channel", nil, "Channels to send to (defaults to alerting.channels)")
}
