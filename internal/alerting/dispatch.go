package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crop-sell-advisor/internal/model"
	"crop-sell-advisor/internal/storage"
)

const recommendationExcerpt = 300

// Dispatch sends note and records the attempt in audit when it is set. The
// send error is returned after logging; audit failures are only logged.
func Dispatch(ctx context.Context, notifier Notifier, audit storage.NotificationStore, note Notification, logger zerolog.Logger) error {
	var sendErr error
	if notifier != nil {
		sendErr = notifier.Notify(ctx, note)
	}
	if sendErr != nil {
		logger.Error().Err(sendErr).Str("crop", note.Crop).Str("kind", string(note.Kind)).Msg("failed to dispatch notification")
	}

	if audit != nil {
		rec := model.NotificationRecord{
			ID:        uuid.New(),
			UserID:    note.UserID,
			Kind:      note.Kind,
			Title:     note.Title,
			Message:   note.Message,
			Priority:  string(note.Priority),
			Channels:  note.Channels,
			Delivered: notifier != nil && sendErr == nil,
			CreatedAt: note.Timestamp,
		}
		if sendErr != nil {
			msg := sendErr.Error()
			rec.Error = &msg
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		if err := audit.InsertNotification(ctx, rec); err != nil {
			logger.Error().Err(err).Str("crop", note.Crop).Msg("failed to persist notification record")
		}
	}
	return sendErr
}

// RecommendationPriority maps an action onto a notification priority.
func RecommendationPriority(action model.Action) Priority {
	switch action {
	case model.ActionSellNow:
		return PriorityUrgent
	case model.ActionWait:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// Recommendation builds the notification sent to a watcher for a decision.
func Recommendation(watch model.Watch, d model.Decision, now time.Time) Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Alert\n\n", strings.ToUpper(d.Crop))
	fmt.Fprintf(&b, "Recommendation: %s\n", d.Action)
	fmt.Fprintf(&b, "Confidence: %.0f%%\n", d.Confidence*100)
	if d.TargetPrice != nil && *d.TargetPrice > 0 {
		fmt.Fprintf(&b, "Expected Price: Rs.%.2f\n", *d.TargetPrice)
	}
	if data := dataLine(d.DataTier); data != "" {
		fmt.Fprintf(&b, "Data: %s\n", data)
	}
	text := d.Insights
	if text == "" {
		text = d.Reasoning
	}
	fmt.Fprintf(&b, "\n%s", truncate(text, recommendationExcerpt))

	note := Notification{
		UserID:    watch.UserID,
		Kind:      model.NotificationRecommendation,
		Crop:      d.Crop,
		Title:     fmt.Sprintf("%s - %s", strings.ToUpper(d.Crop), strings.ReplaceAll(string(d.Action), "_", " ")),
		Message:   b.String(),
		Priority:  RecommendationPriority(d.Action),
		Channels:  watch.Channels,
		Timestamp: now,
	}
	return note
}

func dataLine(tier model.DataTier) string {
	switch tier {
	case model.TierHybrid:
		return "market prices extended with estimates"
	case model.TierSynthetic:
		return "estimated prices only"
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
