package model

import "time"

// WeatherPeriod is one forecast slot. RainMM is nil when no rain is forecast.
type WeatherPeriod struct {
	Time   time.Time
	RainMM *float64
}

// WeatherForecast is the short-term outlook for a city.
type WeatherForecast struct {
	City    string
	Periods []WeatherPeriod
}
