package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"crop-sell-advisor/internal/model"
	"crop-sell-advisor/internal/storage"
)

// Show subjects.
const (
	ShowDecisions     = "decisions"
	ShowNotifications = "notifications"
)

// Show prints recent decisions or notifications.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	switch opts.What {
	case ShowDecisions, "":
		return showDecisions(ctx, store, opts)
	case ShowNotifications:
		return showNotifications(ctx, store, opts)
	default:
		return fmt.Errorf("unknown show target %q (want %s or %s)", opts.What, ShowDecisions, ShowNotifications)
	}
}

func showDecisions(ctx context.Context, store storage.DecisionStore, opts ShowOptions) error {
	decisions, err := store.ListRecentDecisions(ctx, model.NormalizeCrop(opts.Crop), opts.Limit)
	if err != nil {
		return err
	}
	if len(decisions) == 0 {
		fmt.Fprintln(os.Stdout, "no decisions found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tCrop\tCity\tAction\tConfidence\tRisk\tCurrent\tTarget\tData")

	for _, d := range decisions {
		target := "-"
		if d.TargetPrice != nil {
			target = formatFloat(*d.TargetPrice, 2)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.CreatedAt.UTC().Format(time.RFC3339),
			d.Crop,
			orDash(d.City),
			d.Action,
			formatFloat(d.Confidence, 2),
			d.Risk,
			formatFloat(d.CurrentPrice, 2),
			target,
			orDash(string(d.DataTier)),
		)
	}

	return writer.Flush()
}

func showNotifications(ctx context.Context, store storage.NotificationStore, opts ShowOptions) error {
	records, err := store.ListRecentNotifications(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no notifications found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tUser\tKind\tPriority\tChannels\tDelivered\tTitle\tError")

	for _, rec := range records {
		errMsg := ""
		if rec.Error != nil {
			errMsg = sanitizeInline(*rec.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\t%t\t%s\t%s\n",
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.UserID,
			rec.Kind,
			rec.Priority,
			strings.Join(rec.Channels, ","),
			rec.Delivered,
			sanitizeInline(rec.Title),
			errMsg,
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
