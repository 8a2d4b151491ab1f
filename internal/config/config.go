package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/i474232898/weather-data-collector/internal/weather"
	"github.com/i474232898/weather-data-collector/internal/weather/providers"
)

type AppConfig struct {
	OpenWeatherAPIKey string
	WeatherAPIKey     string
	GeocoderAPIKey    string

	// EnabledSources lists adapters in dispatch order.
	EnabledSources []string `validate:"min=1,dive,required"`

	SourceTimeout time.Duration `validate:"gt=0"`
	Pacing        time.Duration `validate:"gte=0"`

	// FetchInterval controls how often we collect for each location.
	FetchInterval time.Duration `validate:"gt=0"`

	// Locations to track.
	Locations []weather.Location `validate:"min=1"`

	// In-memory store retention.
	StoreMaxHistory int           `validate:"gte=0"` // max number of runs per location (0 = unlimited)
	StoreMaxAge     time.Duration `validate:"gte=0"` // max age of runs (0 = unlimited)

	HistoryFile      string `validate:"required"`
	HistoryRetention int    `validate:"gte=1"`
	ExportDir        string `validate:"required"`

	// FallbackSeed seeds synthetic readings; 0 means time-based.
	FallbackSeed uint64
	// Bias overrides the fallback temperature range per city.
	Bias map[string]weather.Range `validate:"dive"`

	KafkaBrokers      []string
	KafkaHistoryTopic string

	LogLevel  string
	LogFormat string `validate:"oneof=console json"`

	Port string `validate:"required"`
}

const defaultConfigName = "weather-collector"

func setDefaults(v *viper.Viper) {
	v.SetDefault("enabled_sources", strings.Join(providers.DefaultOrder, ","))
	v.SetDefault("source_timeout", "10s")
	v.SetDefault("pacing", "300ms")
	v.SetDefault("fetch_interval", "15m")
	v.SetDefault("store_max_history", 96) // roughly 24h at 15-minute intervals
	v.SetDefault("store_max_age", "24h")
	v.SetDefault("history_file", "weather_history.json")
	v.SetDefault("history_retention", 50)
	v.SetDefault("export_dir", ".")
	v.SetDefault("fallback_seed", 0)
	v.SetDefault("weather_location_city", "Moscow")
	v.SetDefault("weather_location_country", "RU")
	v.SetDefault("kafka_history_topic", "weather-history")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("port", "8080")
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"port":      "port",
	"log-level": "log_level",
	"sources":   "enabled_sources",
	"interval":  "fetch_interval",
}

// Load reads configuration from .env, the environment, an optional config
// file and command-line flags, in increasing precedence. An empty path looks
// for weather-collector.{yaml,toml,json} in the working directory. fs may be nil.
//
// Every invalid setting is reported as weather.ErrConfiguration.
func Load(path string, fs *pflag.FlagSet) (*AppConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, configErr("read config file %s: %v", path, err)
		}
	} else {
		v.SetConfigName(defaultConfigName)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, configErr("read config file: %v", err)
			}
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, configErr("bind flag %s: %v", name, err)
				}
			}
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*AppConfig, error) {
	cfg := &AppConfig{
		OpenWeatherAPIKey: v.GetString("openweather_api_key"),
		WeatherAPIKey:     v.GetString("weatherapi_api_key"),
		GeocoderAPIKey:    v.GetString("geocoder_api_key"),
		HistoryFile:       v.GetString("history_file"),
		ExportDir:         v.GetString("export_dir"),
		KafkaBrokers:      list(v.Get("kafka_brokers")),
		KafkaHistoryTopic: v.GetString("kafka_history_topic"),
		LogLevel:          v.GetString("log_level"),
		LogFormat:         strings.ToLower(v.GetString("log_format")),
		Port:              v.GetString("port"),
	}

	var err error
	if cfg.SourceTimeout, err = duration(v, "source_timeout"); err != nil {
		return nil, err
	}
	if cfg.Pacing, err = duration(v, "pacing"); err != nil {
		return nil, err
	}
	if cfg.FetchInterval, err = duration(v, "fetch_interval"); err != nil {
		return nil, err
	}
	if cfg.StoreMaxAge, err = duration(v, "store_max_age"); err != nil {
		return nil, err
	}
	if cfg.StoreMaxHistory, err = integer(v, "store_max_history"); err != nil {
		return nil, err
	}
	if cfg.HistoryRetention, err = integer(v, "history_retention"); err != nil {
		return nil, err
	}

	seed := strings.TrimSpace(v.GetString("fallback_seed"))
	if cfg.FallbackSeed, err = strconv.ParseUint(seed, 10, 64); err != nil {
		return nil, configErr("invalid FALLBACK_SEED %q", seed)
	}

	if cfg.EnabledSources, err = sources(v.Get("enabled_sources")); err != nil {
		return nil, err
	}
	if cfg.Locations, err = locations(v.GetString("weather_location_city"), v.GetString("weather_location_country")); err != nil {
		return nil, err
	}

	if v.IsSet("bias") {
		if err := v.UnmarshalKey("bias", &cfg.Bias); err != nil {
			return nil, configErr("invalid bias table: %v", err)
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, configErr("%v", err)
	}
	return cfg, nil
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", weather.ErrConfiguration, fmt.Sprintf(format, args...))
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, configErr("invalid %s %q", strings.ToUpper(key), raw)
	}
	return d, nil
}

func integer(v *viper.Viper, key string) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, configErr("invalid %s %q", strings.ToUpper(key), raw)
	}
	return n, nil
}

// list accepts a comma-separated string or a list from a config file.
func list(raw any) []string {
	var parts []string
	switch t := raw.(type) {
	case nil:
		return nil
	case string:
		parts = strings.Split(t, ",")
	case []string:
		parts = t
	case []any:
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
	default:
		parts = []string{fmt.Sprint(t)}
	}

	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sources(raw any) ([]string, error) {
	names := list(raw)
	if len(names) == 0 {
		return nil, configErr("no sources enabled")
	}

	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(n)
		if !providers.Known(n) {
			return nil, configErr("unknown source %q", n)
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out, nil
}

func locations(city, country string) ([]weather.Location, error) {
	cities := strings.Split(city, ",")
	var countries []string
	if strings.TrimSpace(country) != "" {
		countries = strings.Split(country, ",")
		if len(cities) != len(countries) {
			return nil, configErr("number of cities and countries must be the same")
		}
	}

	var locs []weather.Location
	for i := range cities {
		loc := weather.Location{City: strings.TrimSpace(cities[i])}
		if countries != nil {
			loc.Country = strings.TrimSpace(countries[i])
		}
		if loc.City == "" {
			return nil, configErr("empty city in WEATHER_LOCATION_CITY")
		}
		locs = append(locs, loc)
	}
	return locs, nil
}
