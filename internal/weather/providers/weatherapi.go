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

// WeatherAPIProvider implements weather.Adapter for WeatherAPI.com.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewWeatherAPIProvider(client *http.Client, apiKey string) *WeatherAPIProvider {
	return &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  apiKey,
		baseURL: "https://api.weatherapi.com/v1/current.json",
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: DefaultBackoff,
		},
		circuit: newCircuit("weatherapi"),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

func (p *WeatherAPIProvider) Fetch(ctx context.Context, loc weather.Location) (weather.Reading, error) {
	if p.apiKey == "" {
		return weather.Reading{}, unavailablef("weatherapi api key is not configured")
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("key", p.apiKey)
		// WeatherAPI uses "q" for location; it accepts "city,country".
		q := loc.City
		if loc.Country != "" {
			q = fmt.Sprintf("%s,%s", loc.City, loc.Country)
		}
		values.Set("q", q)

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
			LastUpdatedEpoch int64    `json:"last_updated_epoch"`
			TempC            *float64 `json:"temp_c"`
			FeelsLikeC       *float64 `json:"feelslike_c"`
			Humidity         *float64 `json:"humidity"`
			WindKph          *float64 `json:"wind_kph"`
			PressureMb       *float64 `json:"pressure_mb"`
			Condition        struct {
				Text string `json:"text"`
			} `json:"condition"`
		} `json:"current"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.Reading{}, fmt.Errorf("decode weatherapi response: %w", err)
	}

	cur := payload.Current
	if cur.TempC == nil {
		return weather.Reading{}, unavailablef("weatherapi response has no temperature")
	}

	r := weather.Reading{
		Temperature: *cur.TempC,
		FeelsLike:   cur.FeelsLikeC,
		Humidity:    cur.Humidity,
		Description: cur.Condition.Text,
	}
	if cur.WindKph != nil {
		r.WindSpeed = weather.Float(kmhToMs(*cur.WindKph))
	}
	if cur.PressureMb != nil {
		r.Pressure = weather.Float(hPaToMmHg(*cur.PressureMb))
	}
	if cur.LastUpdatedEpoch > 0 {
		r.ObservedAt = time.Unix(cur.LastUpdatedEpoch, 0).UTC()
	}
	return r, nil
}
