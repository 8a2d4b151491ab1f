package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/weather-data-collector/internal/weather"
)

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Lat float64
	Lon float64
}

// Locator resolves a location to coordinates.
type Locator interface {
	Locate(ctx context.Context, loc weather.Location) (Coordinates, error)
}

var knownCities = map[string]Coordinates{
	"moscow":           {Lat: 55.7558, Lon: 37.6173},
	"москва":           {Lat: 55.7558, Lon: 37.6173},
	"saint petersburg": {Lat: 59.9343, Lon: 30.3351},
	"saint-petersburg": {Lat: 59.9343, Lon: 30.3351},
	"санкт-петербург":  {Lat: 59.9343, Lon: 30.3351},
	"novosibirsk":      {Lat: 55.0084, Lon: 82.9357},
	"новосибирск":      {Lat: 55.0084, Lon: 82.9357},
	"yekaterinburg":    {Lat: 56.8389, Lon: 60.6057},
	"екатеринбург":     {Lat: 56.8389, Lon: 60.6057},
	"kazan":            {Lat: 55.7887, Lon: 49.1221},
	"казань":           {Lat: 55.7887, Lon: 49.1221},
	"kyiv":             {Lat: 50.4501, Lon: 30.5234},
	"киев":             {Lat: 50.4501, Lon: 30.5234},
	"london":           {Lat: 51.5072, Lon: -0.1276},
	"berlin":           {Lat: 52.5200, Lon: 13.4050},
}

// StaticLocator looks cities up in a built-in table and falls back to Next.
type StaticLocator struct {
	Next Locator
}

func (s StaticLocator) Locate(ctx context.Context, loc weather.Location) (Coordinates, error) {
	if c, ok := knownCities[strings.ToLower(strings.TrimSpace(loc.City))]; ok {
		return c, nil
	}
	if s.Next != nil {
		return s.Next.Locate(ctx, loc)
	}
	return Coordinates{}, unavailablef("no coordinates for %s", loc)
}

// geocodeMu guards the package-level API key of the geocoder library.
var geocodeMu sync.Mutex

// GoogleGeocoder resolves coordinates through the Google Geocoding API and
// caches the results.
type GoogleGeocoder struct {
	apiKey string

	mu    sync.Mutex
	cache map[string]Coordinates
}

func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	return &GoogleGeocoder{apiKey: apiKey, cache: make(map[string]Coordinates)}
}

func (g *GoogleGeocoder) Locate(ctx context.Context, loc weather.Location) (Coordinates, error) {
	if g.apiKey == "" {
		return Coordinates{}, unavailablef("geocoder api key is not configured")
	}
	if err := ctx.Err(); err != nil {
		return Coordinates{}, err
	}

	key := loc.Key()
	g.mu.Lock()
	c, ok := g.cache[key]
	g.mu.Unlock()
	if ok {
		return c, nil
	}

	geocodeMu.Lock()
	geocoder.ApiKey = g.apiKey
	res, err := geocoder.Geocoding(geocoder.Address{City: loc.City, Country: loc.Country})
	geocodeMu.Unlock()
	if err != nil {
		return Coordinates{}, fmt.Errorf("geocode %s: %w", loc, err)
	}

	c = Coordinates{Lat: res.Latitude, Lon: res.Longitude}
	g.mu.Lock()
	g.cache[key] = c
	g.mu.Unlock()
	return c, nil
}
