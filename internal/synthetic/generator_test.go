package synthetic

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"crop-sell-advisor/internal/model"
)

var fixedNow = time.Date(2025, time.June, 15, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func TestGenerateIsDeterministic(t *testing.T) {
	a := New(nil, WithClock(fixedClock)).Generate("tomato", 30, nil)
	b := New(nil, WithClock(fixedClock)).Generate("Tomato ", 30, nil)

	if len(a) != 30 || len(b) != 30 {
		t.Fatalf("expected 30 points, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Price != b[i].Price {
			t.Fatalf("point %d differs: %v vs %v", i, a[i].Price, b[i].Price)
		}
	}
}

func TestPriceDoesNotDependOnWindow(t *testing.T) {
	gen := New(nil, WithClock(fixedClock))
	short := gen.Generate("onion", 5, nil)
	long := gen.Generate("onion", 60, nil)

	shortLast, _ := short.Latest()
	longLast, _ := long.Latest()
	if shortLast.Price != longLast.Price {
		t.Fatalf("same date should yield the same price: %v vs %v", shortLast.Price, longLast.Price)
	}
}

func TestGenerateWindowShape(t *testing.T) {
	gen := New(nil, WithClock(fixedClock))
	series := gen.Generate("rice", 10, nil)

	first := series[0]
	last, _ := series.Latest()
	if !last.Date.Equal(model.Day(fixedNow)) {
		t.Fatalf("window should end today, got %s", last.Date)
	}
	if !first.Date.Equal(model.Day(fixedNow).AddDate(0, 0, -9)) {
		t.Fatalf("window should start 9 days back, got %s", first.Date)
	}
	for i, p := range series {
		if p.Source != model.SourceSynthetic || p.Market != Market {
			t.Fatalf("point %d should be tagged synthetic: %+v", i, p)
		}
		if i > 0 && !p.Date.After(series[i-1].Date) {
			t.Fatalf("dates must be strictly increasing at %d", i)
		}
		if *p.MinPrice != p.Price*0.95 || *p.MaxPrice != p.Price*1.05 {
			t.Fatalf("bounds should be ±5%% of price at %d", i)
		}
	}
}

func TestPriceClampedAtHalfBase(t *testing.T) {
	profiles := Profiles{"wheat": {Base: 100, Variance: 10000, TrendRate: 0}}
	gen := New(profiles, WithClock(fixedClock))
	for _, p := range gen.Generate("wheat", 120, nil) {
		if p.Price < 50 {
			t.Fatalf("price %v below clamp on %s", p.Price, p.Date)
		}
	}
}

func TestClampFloorFollowsAnchor(t *testing.T) {
	profiles := Profiles{"wheat": {Base: 100, Variance: 10000, TrendRate: 0}}
	gen := New(profiles, WithClock(fixedClock))

	anchor := 1000.0
	clamped := 0
	for _, p := range gen.Generate("wheat", 120, &anchor) {
		if p.Price < 500 {
			t.Fatalf("anchored price %v below half the anchor on %s", p.Price, p.Date)
		}
		if p.Price == 500 {
			clamped++
		}
	}
	if clamped == 0 {
		t.Fatal("expected some anchored prices to sit on the anchor floor")
	}
}

func TestAnchorReplacesBase(t *testing.T) {
	profiles := Profiles{"wheat": {Base: 2000, Variance: 0, TrendRate: 0}}
	gen := New(profiles, WithClock(fixedClock))

	anchor := 5000.0
	date := time.Date(2025, time.March, 21, 0, 0, 0, 0, time.UTC)
	plain := gen.PriceAt("wheat", date, nil)
	anchored := gen.PriceAt("wheat", date, &anchor)

	if anchored-plain != 3000 {
		t.Fatalf("anchored price should shift by anchor-base, got %v vs %v", anchored, plain)
	}
}

func TestUnknownCropUsesDefaultProfile(t *testing.T) {
	profiles := Profiles{DefaultCrop: {Base: 1000, Variance: 0, TrendRate: 0}}
	gen := New(profiles, WithClock(fixedClock))
	date := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	if gen.PriceAt("dragonfruit", date, nil) != gen.PriceAt(DefaultCrop, date, nil) {
		t.Fatal("unknown crop should follow the default profile")
	}
}

func TestLoadProfilesMergesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crops.yaml")
	content := "crops:\n  Garlic:\n    base: 9000\n    variance: 1200\n  wheat:\n    base: 2300\n    variance: 250\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write profiles: %v", err)
	}

	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("load profiles: %v", err)
	}
	if profiles.Lookup("garlic").Base != 9000 {
		t.Fatalf("garlic override missing")
	}
	if profiles.Lookup("wheat").Base != 2300 {
		t.Fatalf("wheat override not applied")
	}
	if profiles.Lookup("garlic").TrendRate != DefaultTrendRate {
		t.Fatalf("missing trend rate should default")
	}
	if profiles.Lookup("rice").Base != 2800 {
		t.Fatalf("built-in profiles should survive the merge")
	}
}

func TestLoadProfilesRejectsInvalidBase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crops.yaml")
	if err := os.WriteFile(path, []byte("crops:\n  wheat:\n    base: 0\n"), 0o644); err != nil {
		t.Fatalf("write profiles: %v", err)
	}
	if _, err := LoadProfiles(path); err == nil {
		t.Fatal("zero base should be rejected")
	}
}
