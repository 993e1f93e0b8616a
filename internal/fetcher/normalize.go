package fetcher

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crop-sell-advisor/internal/model"
)

var errEmptyPrice = errors.New("empty price")

// ArrivalDateLayout is the day/month/year format used by data.gov.in.
const ArrivalDateLayout = "02/01/2006"

var commodityNames = map[string]string{
	"wheat":     "Wheat",
	"rice":      "Rice",
	"tomato":    "Tomato",
	"onion":     "Onion",
	"potato":    "Potato",
	"cotton":    "Cotton",
	"sugarcane": "Sugarcane",
	"soyabean":  "Soyabean",
	"maize":     "Maize",
}

// CommodityName maps a crop to the commodity label used by the remote API.
func CommodityName(crop string) string {
	crop = model.NormalizeCrop(crop)
	if name, ok := commodityNames[crop]; ok {
		return name
	}
	if crop == "" {
		return ""
	}
	return strings.ToUpper(crop[:1]) + crop[1:]
}

// NormalizeRecords converts raw rows into typed price points for crop.
// Rows naming another commodity, or carrying an unparseable date or a
// non-positive modal price, are dropped and counted.
func NormalizeRecords(crop string, records []Record) (model.Series, int) {
	crop = model.NormalizeCrop(crop)
	series := make(model.Series, 0, len(records))
	dropped := 0
	for _, rec := range records {
		point, err := normalizeRecord(crop, rec)
		if err != nil {
			dropped++
			continue
		}
		series = append(series, point)
	}
	return series.SortAscending(), dropped
}

func normalizeRecord(crop string, rec Record) (model.PricePoint, error) {
	if crop != "" && rec.Commodity != "" && !strings.Contains(strings.ToLower(rec.Commodity), crop) {
		return model.PricePoint{}, fmt.Errorf("commodity %q does not match %q", rec.Commodity, crop)
	}

	date, err := time.ParseInLocation(ArrivalDateLayout, rec.ArrivalDate, time.UTC)
	if err != nil {
		return model.PricePoint{}, fmt.Errorf("parse arrival date: %w", err)
	}

	modal, err := parsePrice(rec.ModalPrice)
	if err != nil {
		return model.PricePoint{}, fmt.Errorf("parse modal price: %w", err)
	}
	if !modal.IsPositive() {
		return model.PricePoint{}, fmt.Errorf("modal price %s not positive", modal)
	}

	market := strings.TrimSpace(rec.Market)
	if market == "" {
		market = "Unknown"
	}

	point := model.PricePoint{
		Crop:   crop,
		Date:   model.Day(date),
		Price:  modal.InexactFloat64(),
		Market: market,
		State:  strings.TrimSpace(rec.State),
		Source: model.SourceReal,
	}
	if lo, err := parsePrice(rec.MinPrice); err == nil && lo.IsPositive() {
		point.MinPrice = model.Float(lo.InexactFloat64())
	}
	if hi, err := parsePrice(rec.MaxPrice); err == nil && hi.IsPositive() {
		point.MaxPrice = model.Float(hi.InexactFloat64())
	}
	return point, nil
}

func parsePrice(raw string) (decimal.Decimal, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if raw == "" || strings.EqualFold(raw, "NA") {
		return decimal.Decimal{}, errEmptyPrice
	}
	return decimal.NewFromString(raw)
}
