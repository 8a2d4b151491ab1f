package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-data-collector/internal/weather"
)

// OpenMeteoProvider implements weather.Adapter for Open-Meteo. It needs no
// API key but works on coordinates, which it gets from its Locator.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	locator Locator
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewOpenMeteoProvider creates the provider. A nil locator uses the built-in city table only.
func NewOpenMeteoProvider(client *http.Client, locator Locator) *OpenMeteoProvider {
	if locator == nil {
		locator = StaticLocator{}
	}
	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: "https://api.open-meteo.com/v1/forecast",
		locator: locator,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: DefaultBackoff,
		},
		circuit: newCircuit("openmeteo"),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context, loc weather.Location) (weather.Reading, error) {
	coords, err := p.locator.Locate(ctx, loc)
	if err != nil {
		return weather.Reading{}, err
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", fmt.Sprintf("%f", coords.Lat))
		values.Set("longitude", fmt.Sprintf("%f", coords.Lon))
		values.Set("current", "temperature_2m,apparent_temperature,relative_humidity_2m,surface_pressure,wind_speed_10m,weather_code")
		values.Set("wind_speed_unit", "ms")
		values.Set("timezone", "UTC")

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return weather.Reading{}, classify(err)
	}
	defer resp.Body.Close()

	var payload struct {
		Current struct {
			Time        string   `json:"time"`
			Temperature *float64 `json:"temperature_2m"`
			Apparent    *float64 `json:"apparent_temperature"`
			Humidity    *float64 `json:"relative_humidity_2m"`
			Pressure    *float64 `json:"surface_pressure"`
			WindSpeed   *float64 `json:"wind_speed_10m"`
			WeatherCode *int     `json:"weather_code"`
		} `json:"current"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.Reading{}, fmt.Errorf("decode openmeteo response: %w", err)
	}

	cur := payload.Current
	if cur.Temperature == nil {
		return weather.Reading{}, unavailablef("openmeteo response has no temperature")
	}

	r := weather.Reading{
		Temperature: *cur.Temperature,
		FeelsLike:   cur.Apparent,
		Humidity:    cur.Humidity,
		WindSpeed:   cur.WindSpeed,
	}
	if cur.Pressure != nil {
		r.Pressure = weather.Float(hPaToMmHg(*cur.Pressure))
	}
	if cur.WeatherCode != nil {
		r.Description = describeWeatherCode(*cur.WeatherCode)
	}
	// Open-Meteo reports minutes without seconds or zone.
	if ts, err := time.Parse("2006-01-02T15:04", cur.Time); err == nil {
		r.ObservedAt = ts.UTC()
	}
	return r, nil
}

// describeWeatherCode maps WMO weather codes to a short description.
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code >= 1 && code <= 3:
		return "partly cloudy"
	case code == 45 || code == 48:
		return "fog"
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return "rain"
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return "snow"
	case code >= 95:
		return "thunderstorm"
	default:
		return ""
	}
}
