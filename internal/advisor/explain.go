package advisor

import (
	"context"
	"fmt"
	"strings"

	"crop-sell-advisor/internal/model"
)

// SummaryExplainer condenses a decision into a short message suitable for chat
// channels.
type SummaryExplainer struct{}

var _ Explainer = SummaryExplainer{}

// Explain implements Explainer.
func (SummaryExplainer) Explain(_ context.Context, d model.Decision) (string, error) {
	var b strings.Builder
	crop := d.Crop
	if crop != "" {
		crop = strings.ToUpper(crop[:1]) + crop[1:]
	}

	switch d.Action {
	case model.ActionSellNow:
		fmt.Fprintf(&b, "%s: sell now at about Rs.%.2f.", crop, d.CurrentPrice)
	case model.ActionWait:
		fmt.Fprintf(&b, "%s: wait before selling.", crop)
		if d.TargetPrice != nil && d.TargetDate != nil {
			fmt.Fprintf(&b, " Expected Rs.%.2f around %s.", *d.TargetPrice, d.TargetDate.Format(model.DateLayout))
		}
	default:
		fmt.Fprintf(&b, "%s: no urgent action, keep watching prices (now Rs.%.2f).", crop, d.CurrentPrice)
	}

	if s, ok := strongest(d.Signals); ok {
		fmt.Fprintf(&b, "\nWhy: %s", s.Reason)
	}
	fmt.Fprintf(&b, "\nConfidence %.0f%%, risk %s.", d.Confidence*100, d.Risk)
	return b.String(), nil
}

func strongest(sigs []model.MarketSignal) (model.MarketSignal, bool) {
	var best model.MarketSignal
	found := false
	for _, s := range sigs {
		if s.Type == model.Neutral {
			continue
		}
		if !found || s.Strength > best.Strength {
			best, found = s, true
		}
	}
	return best, found
}
