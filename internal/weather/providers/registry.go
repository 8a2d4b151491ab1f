package providers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/i474232898/weather-data-collector/internal/weather"
)

// DefaultOrder is the dispatch order when no explicit source list is configured.
var DefaultOrder = []string{
	"gismeteo",
	"yandex",
	"sinoptik",
	"mailru",
	"openweathermap",
	"weatherapi",
	"openmeteo",
}

// Options carries what the adapters need to reach their sources.
type Options struct {
	Client         *http.Client
	OpenWeatherKey string
	WeatherAPIKey  string
	GeocoderKey    string
}

// Known reports whether name is a registered source.
func Known(name string) bool {
	for _, n := range DefaultOrder {
		if n == name {
			return true
		}
	}
	return false
}

// Build creates adapters for names, in the given order. An empty list builds every source.
func Build(names []string, opts Options) ([]weather.Adapter, error) {
	if len(names) == 0 {
		names = DefaultOrder
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	adapters := make([]weather.Adapter, 0, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case "gismeteo":
			adapters = append(adapters, NewPageProvider(client, GismeteoSite()))
		case "yandex":
			adapters = append(adapters, NewPageProvider(client, YandexSite()))
		case "sinoptik":
			adapters = append(adapters, NewPageProvider(client, SinoptikSite()))
		case "mailru":
			adapters = append(adapters, NewPageProvider(client, MailRuSite()))
		case "openweathermap":
			adapters = append(adapters, NewOpenWeatherProvider(client, opts.OpenWeatherKey))
		case "weatherapi":
			adapters = append(adapters, NewWeatherAPIProvider(client, opts.WeatherAPIKey))
		case "openmeteo":
			var next Locator
			if opts.GeocoderKey != "" {
				next = NewGoogleGeocoder(opts.GeocoderKey)
			}
			adapters = append(adapters, NewOpenMeteoProvider(client, StaticLocator{Next: next}))
		default:
			return nil, fmt.Errorf("%w: unknown source %q", weather.ErrConfiguration, raw)
		}
	}
	return adapters, nil
}
