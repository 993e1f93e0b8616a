package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"crop-sell-advisor/internal/alerting"
	"crop-sell-advisor/internal/model"
)

// NotifyTestOptions control the test notification.
type NotifyTestOptions struct {
	Crop     string
	Price    float64
	Channels []string
}

// NotifyTest sends a sample price alert through the configured channels.
func (a *App) NotifyTest(ctx context.Context, opts NotifyTestOptions) error {
	crop := model.NormalizeCrop(opts.Crop)
	if crop == "" {
		crop = "wheat"
	}
	price := decimal.NewFromFloat(opts.Price)

	note := alerting.Notification{
		Kind:      model.NotificationPriceAlert,
		Crop:      crop,
		Title:     "Test notification",
		Message:   "This is a test price alert for " + crop + " at Rs." + price.StringFixed(2) + ".",
		Priority:  alerting.PriorityNormal,
		Price:     &price,
		Channels:  opts.Channels,
		Timestamp: time.Now().UTC(),
	}

	notifier := a.newNotifier()
	if err := notifier.Notify(ctx, note); err != nil {
		a.Logger.Error().Err(err).Msg("test notification failed")
		return err
	}
	a.Logger.Info().Strs("channels", notifier.Channels()).Msg("test notification sent")
	return nil
}
