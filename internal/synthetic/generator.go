package synthetic

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"crop-sell-advisor/internal/model"
)

// Market and state labels carried by generated points.
const (
	Market = "Synthetic"
	State  = "Multiple"
)

// trendEpoch anchors the linear drift so a date's price does not depend on
// the window it was generated in.
var trendEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Generator produces deterministic synthetic price series.
type Generator struct {
	profiles Profiles
	now      func() time.Time
}

// Option customises a Generator.
type Option func(*Generator)

// WithClock overrides the time source used to pick the window end.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// New constructs a generator over the given profiles.
func New(profiles Profiles, opts ...Option) *Generator {
	if len(profiles) == 0 {
		profiles = BuiltinProfiles()
	}
	g := &Generator{profiles: profiles, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns days points ending today, ascending.
func (g *Generator) Generate(crop string, days int, anchor *float64) model.Series {
	return g.GenerateWindow(crop, model.Day(g.now()), days, anchor)
}

// GenerateWindow returns days points ending at end (inclusive), ascending.
func (g *Generator) GenerateWindow(crop string, end time.Time, days int, anchor *float64) model.Series {
	if days <= 0 {
		return model.Series{}
	}
	crop = model.NormalizeCrop(crop)
	end = model.Day(end)
	start := end.AddDate(0, 0, -(days - 1))

	series := make(model.Series, 0, days)
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i)
		price := g.PriceAt(crop, date, anchor)
		series = append(series, model.PricePoint{
			Crop:     crop,
			Date:     date,
			Price:    price,
			MinPrice: model.Float(price * 0.95),
			MaxPrice: model.Float(price * 1.05),
			Market:   Market,
			State:    State,
			Source:   model.SourceSynthetic,
		})
	}
	return series
}

// PriceAt computes the synthetic price of crop on date. The result depends
// only on (crop, date, anchor).
func (g *Generator) PriceAt(crop string, date time.Time, anchor *float64) float64 {
	crop = model.NormalizeCrop(crop)
	date = model.Day(date)
	prof := g.profiles.Lookup(crop)

	base := prof.Base
	if anchor != nil && *anchor > 0 {
		base = *anchor
	}

	daysSinceEpoch := date.Sub(trendEpoch).Hours() / 24
	trended := base * (1 + prof.TrendRate*daysSinceEpoch)

	seasonal := math.Sin(2*math.Pi*float64(date.YearDay())/365) * prof.Variance * 0.3

	rng := seededRand(crop, date)
	noise := rng.Float64()*prof.Variance - prof.Variance/2

	price := trended + seasonal + noise
	// The floor follows the anchor when one is given.
	return math.Max(price, base*0.5)
}

func seededRand(crop string, date time.Time) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(crop))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(date.Format(model.DateLayout)))
	seed := h.Sum64()
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
