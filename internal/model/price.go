package model

import (
	"sort"
	"strings"
	"time"
)

// DateLayout is the canonical ISO day format used for keys, seeds and storage.
const DateLayout = "2006-01-02"

// SourceTag records where a price point came from.
type SourceTag string

const (
	SourceReal      SourceTag = "real"
	SourceSynthetic SourceTag = "synthetic"
)

// MultipleMarkets labels a collapsed point aggregated over several markets.
const MultipleMarkets = "Multiple"

// PricePoint is one daily observation of a crop price in a market.
type PricePoint struct {
	Crop     string
	Date     time.Time
	Price    float64
	MinPrice *float64
	MaxPrice *float64
	Market   string
	State    string
	Source   SourceTag
}

// Day returns the point date truncated to a UTC calendar day.
func (p PricePoint) Day() time.Time {
	return Day(p.Date)
}

// DayKey returns the ISO date string of the point.
func (p PricePoint) DayKey() string {
	return p.Day().Format(DateLayout)
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizeCrop lowercases and trims a crop name.
func NormalizeCrop(crop string) string {
	return strings.ToLower(strings.TrimSpace(crop))
}

// Series is an ordered sequence of price points for one crop.
type Series []PricePoint

// SortAscending orders the series by date, oldest first.
func (s Series) SortAscending() Series {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Date.Before(s[j].Date) })
	return s
}

// UniqueDates counts distinct calendar days present in the series.
func (s Series) UniqueDates() int {
	seen := make(map[string]struct{}, len(s))
	for _, p := range s {
		seen[p.DayKey()] = struct{}{}
	}
	return len(seen)
}

// Tail returns the last n points of an ascending series.
func (s Series) Tail(n int) Series {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Prices extracts the price column.
func (s Series) Prices() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Price
	}
	return out
}

// Latest returns the most recent point of an ascending series.
func (s Series) Latest() (PricePoint, bool) {
	if len(s) == 0 {
		return PricePoint{}, false
	}
	return s[len(s)-1], true
}

// Count returns how many points carry the given tag.
func (s Series) Count(tag SourceTag) int {
	n := 0
	for _, p := range s {
		if p.Source == tag {
			n++
		}
	}
	return n
}

// Mean returns the arithmetic mean price, or zero for an empty series.
func (s Series) Mean() float64 {
	if len(s) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range s {
		sum += p.Price
	}
	return sum / float64(len(s))
}

// FilterMarket keeps only points from market. An empty market keeps everything.
func (s Series) FilterMarket(market string) Series {
	if market == "" {
		return s
	}
	out := make(Series, 0, len(s))
	for _, p := range s {
		if strings.EqualFold(p.Market, market) {
			out = append(out, p)
		}
	}
	return out
}

// FilterSource keeps only points with the given tag.
func (s Series) FilterSource(tag SourceTag) Series {
	out := make(Series, 0, len(s))
	for _, p := range s {
		if p.Source == tag {
			out = append(out, p)
		}
	}
	return out
}

// CollapseByDate reduces the series to one point per calendar day, ascending.
// Real points shadow synthetic ones on the same day; several real markets on
// one day are averaged into a single point.
func (s Series) CollapseByDate() Series {
	type bucket struct {
		real      Series
		synthetic Series
	}
	buckets := make(map[string]*bucket)
	keys := make([]string, 0)
	for _, p := range s {
		key := p.DayKey()
		b, ok := buckets[key]
		if !ok {
			b = &bucket{}
			buckets[key] = b
			keys = append(keys, key)
		}
		if p.Source == SourceReal {
			b.real = append(b.real, p)
		} else {
			b.synthetic = append(b.synthetic, p)
		}
	}
	sort.Strings(keys)

	out := make(Series, 0, len(keys))
	for _, key := range keys {
		b := buckets[key]
		group := b.real
		if len(group) == 0 {
			group = b.synthetic
		}
		out = append(out, mergeDay(group))
	}
	return out
}

func mergeDay(group Series) PricePoint {
	if len(group) == 1 {
		p := group[0]
		p.Date = p.Day()
		return p
	}

	merged := group[0]
	merged.Date = merged.Day()
	merged.Price = group.Mean()

	var lo, hi *float64
	markets := make(map[string]struct{})
	for _, p := range group {
		markets[strings.ToLower(p.Market)] = struct{}{}
		if p.MinPrice != nil && (lo == nil || *p.MinPrice < *lo) {
			v := *p.MinPrice
			lo = &v
		}
		if p.MaxPrice != nil && (hi == nil || *p.MaxPrice > *hi) {
			v := *p.MaxPrice
			hi = &v
		}
	}
	merged.MinPrice = lo
	merged.MaxPrice = hi
	if len(markets) > 1 {
		merged.Market = MultipleMarkets
		merged.State = ""
	}
	return merged
}

// Float returns a pointer to v, for optional price bounds.
func Float(v float64) *float64 {
	return &v
}
