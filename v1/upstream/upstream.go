// Package upstream fetches air quality data from the remote provider and
// shapes it into the Report values the lookup service caches.
package upstream

import (
	"context"
	"fmt"

	warperrors "github.com/mirkobrombin/warp-aqi/v1/errors"
)

// Provider fetches the current report for a city.
//
// Implementations return an error wrapping errors.ErrNotFound when the
// source has no data for the city and errors.ErrUpstream for transport or
// decoding failures.
type Provider interface {
	Fetch(ctx context.Context, city string) (*Report, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, city string) (*Report, error)

// Fetch implements Provider.
func (f ProviderFunc) Fetch(ctx context.Context, city string) (*Report, error) {
	return f(ctx, city)
}

// Report is the transformed upstream response. Once cached it must be
// treated as read-only.
type Report struct {
	City              string             `json:"city"`
	AQI               int                `json:"aqi"`
	AQIInfo           AQIInfo            `json:"aqiInfo"`
	DominantPollutant string             `json:"dominantPollutant"`
	Location          Location           `json:"location"`
	Timestamp         string             `json:"timestamp"`
	Pollutants        map[string]float64 `json:"pollutants"`
	Attribution       []Attribution      `json:"attribution"`
}

// AQIInfo describes the band an AQI value falls in.
type AQIInfo struct {
	Color  string `json:"color"`
	Status string `json:"status"`
	Level  string `json:"level"`
}

// Location is the monitoring station position.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Attribution credits a data source.
type Attribution struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Logo string `json:"logo,omitempty"`
}

// Classify maps an AQI value to its US EPA band.
func Classify(aqi int) AQIInfo {
	switch {
	case aqi <= 50:
		return AQIInfo{Color: "#00E400", Status: "Good", Level: "good"}
	case aqi <= 100:
		return AQIInfo{Color: "#FFFF00", Status: "Moderate", Level: "moderate"}
	case aqi <= 150:
		return AQIInfo{Color: "#FF7E00", Status: "Unhealthy for Sensitive Groups", Level: "unhealthy-sg"}
	case aqi <= 200:
		return AQIInfo{Color: "#FF0000", Status: "Unhealthy", Level: "unhealthy"}
	case aqi <= 300:
		return AQIInfo{Color: "#8F3F97", Status: "Very Unhealthy", Level: "very-unhealthy"}
	default:
		return AQIInfo{Color: "#7E0023", Status: "Hazardous", Level: "hazardous"}
	}
}

// DefaultNotFoundMessage is reported when the source gives no reason.
const DefaultNotFoundMessage = "City not found or data unavailable"

// NotFoundError reports that the source has no data for City.
type NotFoundError struct {
	City    string
	Message string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", e.City, e.Message)
}

// Unwrap lets errors.Is match errors.ErrNotFound.
func (e *NotFoundError) Unwrap() error { return warperrors.ErrNotFound }
