package synthetic

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultTrendRate is the daily relative drift applied to every profile.
const DefaultTrendRate = 0.0001

// Profile parameterises the synthetic price model of one crop.
type Profile struct {
	Base        float64 `yaml:"base"`
	Variance    float64 `yaml:"variance"`
	Seasonality float64 `yaml:"seasonality"`
	TrendRate   float64 `yaml:"trend_rate"`
}

// DefaultCrop is the profile used for crops without their own entry.
const DefaultCrop = "wheat"

// Profiles maps normalised crop names to their price profile.
type Profiles map[string]Profile

// BuiltinProfiles returns the realistic per-quintal price ranges shipped with
// the binary.
func BuiltinProfiles() Profiles {
	return Profiles{
		"wheat":     {Base: 2100, Variance: 300, Seasonality: 1.2, TrendRate: DefaultTrendRate},
		"rice":      {Base: 2800, Variance: 400, Seasonality: 1.15, TrendRate: DefaultTrendRate},
		"tomato":    {Base: 2000, Variance: 1500, Seasonality: 2.0, TrendRate: DefaultTrendRate},
		"onion":     {Base: 2500, Variance: 2000, Seasonality: 1.8, TrendRate: DefaultTrendRate},
		"potato":    {Base: 1200, Variance: 600, Seasonality: 1.4, TrendRate: DefaultTrendRate},
		"cotton":    {Base: 6500, Variance: 800, Seasonality: 1.1, TrendRate: DefaultTrendRate},
		"sugarcane": {Base: 3000, Variance: 300, Seasonality: 1.05, TrendRate: DefaultTrendRate},
		"soyabean":  {Base: 3500, Variance: 500, Seasonality: 1.15, TrendRate: DefaultTrendRate},
		"maize":     {Base: 2000, Variance: 300, Seasonality: 1.1, TrendRate: DefaultTrendRate},
	}
}

// Lookup returns the profile for crop, falling back to the default crop.
func (p Profiles) Lookup(crop string) Profile {
	if prof, ok := p[strings.ToLower(strings.TrimSpace(crop))]; ok {
		return prof
	}
	if prof, ok := p[DefaultCrop]; ok {
		return prof
	}
	return BuiltinProfiles()[DefaultCrop]
}

type profileFile struct {
	Crops map[string]Profile `yaml:"crops"`
}

// LoadProfiles reads YAML overrides from path and merges them over the
// built-in profiles. An empty path returns the built-ins.
func LoadProfiles(path string) (Profiles, error) {
	profiles := BuiltinProfiles()
	if path == "" {
		return profiles, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read crop profiles: %w", err)
	}

	var file profileFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode crop profiles: %w", err)
	}

	for name, prof := range file.Crops {
		if prof.Base <= 0 {
			return nil, fmt.Errorf("crop profile %q: base must be greater than zero", name)
		}
		if prof.Variance < 0 {
			return nil, fmt.Errorf("crop profile %q: variance cannot be negative", name)
		}
		if prof.TrendRate == 0 {
			prof.TrendRate = DefaultTrendRate
		}
		profiles[strings.ToLower(strings.TrimSpace(name))] = prof
	}
	return profiles, nil
}
