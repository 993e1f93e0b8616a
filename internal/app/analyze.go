package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"crop-sell-advisor/internal/advisor"
	"crop-sell-advisor/internal/model"
)

// Analyze runs one sell/hold/wait analysis and prints the decision.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) error {
	if strings.TrimSpace(opts.Crop) == "" {
		return errors.New("crop is required")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	acq, err := a.newAcquirer(store)
	if err != nil {
		return err
	}
	adv := a.newAdvisor(acq, store)

	req := advisor.Request{
		Crop:           opts.Crop,
		City:           a.Config.ResolveCity(opts.City),
		DaysAhead:      opts.DaysAhead,
		ForceSynthetic: opts.ForceSynthetic,
	}
	if opts.RiskTolerance != "" {
		tolerance, err := model.ParseRiskTolerance(opts.RiskTolerance)
		if err != nil {
			return err
		}
		req.Preferences = &model.UserPreferences{RiskTolerance: tolerance}
	}

	decision := adv.Analyze(ctx, req)
	if opts.JSON {
		return writeDecisionJSON(os.Stdout, decision)
	}
	writeDecision(os.Stdout, decision)
	return nil
}

type decisionView struct {
	Crop           string               `json:"crop"`
	City           string               `json:"city"`
	Action         model.Action         `json:"action"`
	Confidence     float64              `json:"confidence"`
	Risk           model.Risk           `json:"risk"`
	CurrentPrice   float64              `json:"current_price"`
	PredictedPrice *float64             `json:"predicted_price,omitempty"`
	TargetPrice    *float64             `json:"target_price,omitempty"`
	TargetDate     string               `json:"target_date,omitempty"`
	BullishScore   float64              `json:"bullish_score"`
	BearishScore   float64              `json:"bearish_score"`
	DataTier       model.DataTier       `json:"data_tier,omitempty"`
	Signals        []model.MarketSignal `json:"signals"`
	Reasoning      string               `json:"reasoning"`
	Insights       string               `json:"insights,omitempty"`
	DurationMS     int64                `json:"duration_ms"`
}

func writeDecisionJSON(w io.Writer, d model.Decision) error {
	view := decisionView{
		Crop:           d.Crop,
		City:           d.City,
		Action:         d.Action,
		Confidence:     d.Confidence,
		Risk:           d.Risk,
		CurrentPrice:   d.CurrentPrice,
		PredictedPrice: d.PredictedPrice,
		TargetPrice:    d.TargetPrice,
		BullishScore:   d.BullishScore,
		BearishScore:   d.BearishScore,
		DataTier:       d.DataTier,
		Signals:        d.Signals,
		Reasoning:      d.Reasoning,
		Insights:       d.Insights,
		DurationMS:     d.Duration.Milliseconds(),
	}
	if d.TargetDate != nil {
		view.TargetDate = d.TargetDate.Format(model.DateLayout)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func writeDecision(w io.Writer, d model.Decision) {
	fmt.Fprintf(w, "%s (%s): %s  confidence %.0f%%  risk %s\n", strings.ToUpper(d.Crop), d.City, d.Action, d.Confidence*100, d.Risk)
	fmt.Fprintf(w, "current Rs.%.2f", d.CurrentPrice)
	if d.PredictedPrice != nil {
		fmt.Fprintf(w, "  predicted Rs.%.2f", *d.PredictedPrice)
	}
	if d.TargetPrice != nil && d.TargetDate != nil {
		fmt.Fprintf(w, "  target Rs.%.2f on %s", *d.TargetPrice, d.TargetDate.Format(model.DateLayout))
	}
	fmt.Fprintf(w, "\nbullish %.2f  bearish %.2f  data %s  took %s\n\n", d.BullishScore, d.BearishScore, orDash(string(d.DataTier)), d.Duration.Round(time.Millisecond))
	fmt.Fprintln(w, d.Reasoning)
	if d.Insights != "" && d.Insights != d.Reasoning {
		fmt.Fprintf(w, "\n%s\n", d.Insights)
	}
}

// Acquire runs the tiered acquisition for one crop and prints a summary.
func (a *App) Acquire(ctx context.Context, opts AcquireOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	acq, err := a.newAcquirer(store)
	if err != nil {
		return err
	}
	res, err := acq.Acquire(ctx, opts.Crop, opts.Days, opts.ForceSynthetic)
	if err != nil {
		return err
	}

	first, _ := firstPoint(res.Series)
	last, _ := res.Series.Latest()
	fmt.Fprintf(os.Stdout, "%s: %d points (%d real, %d synthetic) via %s tier\n",
		model.NormalizeCrop(opts.Crop), len(res.Series), res.RealDays, res.SyntheticDays, res.Tier)
	if len(res.Series) > 0 {
		fmt.Fprintf(os.Stdout, "%s Rs.%.2f -> %s Rs.%.2f\n", first.DayKey(), first.Price, last.DayKey(), last.Price)
	}
	return nil
}

func firstPoint(s model.Series) (model.PricePoint, bool) {
	if len(s) == 0 {
		return model.PricePoint{}, false
	}
	return s[0], true
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
