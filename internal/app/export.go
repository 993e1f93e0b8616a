package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"crop-sell-advisor/internal/forecast"
	"crop-sell-advisor/internal/model"
)

// exportRow is one line of the export: a stored observation or a forecast point.
type exportRow struct {
	Date       time.Time
	Price      float64
	Market     string
	Source     string
	Forecast   bool
	Confidence float64
}

// Export renders a crop's stored history and its forecast as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if strings.TrimSpace(opts.Crop) == "" {
		return errors.New("crop is required")
	}
	if opts.Days <= 0 {
		return errors.New("days must be greater than zero")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)
	crop := model.NormalizeCrop(opts.Crop)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	since := model.Day(time.Now().UTC()).AddDate(0, 0, -opts.Days)
	rows, err := store.PricesSince(ctx, crop, since)
	if err != nil {
		return err
	}
	history := rows.CollapseByDate()
	if len(history) == 0 {
		a.Logger.Info().Str("crop", crop).Msg("no prices found for export window")
		return nil
	}

	daysAhead := opts.DaysAhead
	if daysAhead < 0 {
		daysAhead = 0
	}
	preds := forecast.NewLinear(a.Config.Forecast.Confidence).Predict(history, daysAhead)

	downsampled := downsampleSeries(history, opts.MaxPoints)
	a.Logger.Info().
		Str("crop", crop).
		Int("total", len(history)).
		Int("exported", len(downsampled)).
		Int("forecast", len(preds)).
		Msg("exporting prices")

	out := buildExportRows(downsampled, preds)
	if opts.CSVPath != "" {
		if err := writePricesCSV(opts.CSVPath, out); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writePricesPNG(opts.PNGPath, crop, out); err != nil {
			return err
		}
	}
	return nil
}

func buildExportRows(history model.Series, preds []model.Prediction) []exportRow {
	out := make([]exportRow, 0, len(history)+len(preds))
	for _, p := range history {
		out = append(out, exportRow{Date: p.Date, Price: p.Price, Market: p.Market, Source: string(p.Source)})
	}
	for _, p := range preds {
		out = append(out, exportRow{Date: p.Date, Price: p.Price, Source: "forecast", Forecast: true, Confidence: p.Confidence})
	}
	return out
}

func downsampleSeries(series model.Series, max int) model.Series {
	if max <= 1 || len(series) <= max {
		return series
	}

	result := make(model.Series, 0, max)
	step := float64(len(series)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(series) {
			idx = len(series) - 1
		}
		result = append(result, series[idx])
	}
	return result
}

func writePricesCSV(path string, rows []exportRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"date", "price", "market", "source", "forecast", "confidence"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		confidence := ""
		if row.Forecast {
			confidence = formatFloat(row.Confidence, 2)
		}
		record := []string{
			row.Date.Format(model.DateLayout),
			formatFloat(row.Price, 2),
			row.Market,
			row.Source,
			fmt.Sprint(row.Forecast),
			confidence,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writePricesPNG(path, crop string, rows []exportRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var histX, fcX []time.Time
	var histY, fcY []float64
	for _, row := range rows {
		if row.Forecast {
			fcX = append(fcX, row.Date)
			fcY = append(fcY, row.Price)
			continue
		}
		histX = append(histX, row.Date)
		histY = append(histY, row.Price)
	}
	// join the forecast line to the last observed point
	if len(histX) > 0 && len(fcX) > 0 {
		fcX = append([]time.Time{histX[len(histX)-1]}, fcX...)
		fcY = append([]float64{histY[len(histY)-1]}, fcY...)
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Price",
			XValues: histX,
			YValues: histY,
		},
	}
	if len(fcX) > 1 {
		series = append(series, chart.TimeSeries{
			Name:    "Forecast",
			XValues: fcX,
			YValues: fcY,
			Style: chart.Style{
				StrokeColor:     chart.ColorRed,
				StrokeDashArray: []float64{5, 5},
			},
		})
	}

	graph := chart.Chart{
		Title:  strings.ToUpper(crop),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (Rs./quintal)",
			ValueFormatter: priceFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatFloat(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}
