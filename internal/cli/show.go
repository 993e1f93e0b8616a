package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"crop-sell-advisor/internal/app"
)

var (
	showLimit int
	showCrop  string
)

var showCmd = &cobra.Command{
	Use:       "show [decisions|notifications]",
	Short:     "Display recent decisions or notifications",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{app.ShowDecisions, app.ShowNotifications},
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			What:  app.ShowDecisions,
			Crop:  showCrop,
			Limit: showLimit,
		}
		if len(args) == 1 {
			opts.What = args[0]
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().StringVar(&showCrop, "crop", "", "Only show decisions for this crop")
}
