package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-data-collector/internal/weather"
	"github.com/i474232898/weather-data-collector/internal/weather/providers"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, providers.DefaultOrder, cfg.EnabledSources)
	assert.Equal(t, 10*time.Second, cfg.SourceTimeout)
	assert.Equal(t, 300*time.Millisecond, cfg.Pacing)
	assert.Equal(t, 15*time.Minute, cfg.FetchInterval)
	assert.Equal(t, 96, cfg.StoreMaxHistory)
	assert.Equal(t, 24*time.Hour, cfg.StoreMaxAge)
	assert.Equal(t, "weather_history.json", cfg.HistoryFile)
	assert.Equal(t, 50, cfg.HistoryRetention)
	assert.Equal(t, []weather.Location{{City: "Moscow", Country: "RU"}}, cfg.Locations)
	assert.Equal(t, "weather-history", cfg.KafkaHistoryTopic)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "8080", cfg.Port)
}

func TestLoad_Environment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENABLED_SOURCES", "openmeteo, Yandex")
	t.Setenv("SOURCE_TIMEOUT", "5s")
	t.Setenv("PACING", "0s")
	t.Setenv("HISTORY_RETENTION", "10")
	t.Setenv("WEATHER_LOCATION_CITY", "Kazan,Berlin")
	t.Setenv("WEATHER_LOCATION_COUNTRY", "RU,DE")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("FALLBACK_SEED", "42")
	t.Setenv("OPENWEATHER_API_KEY", "ow-key")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"openmeteo", "yandex"}, cfg.EnabledSources)
	assert.Equal(t, 5*time.Second, cfg.SourceTimeout)
	assert.Zero(t, cfg.Pacing)
	assert.Equal(t, 10, cfg.HistoryRetention)
	assert.Equal(t, []weather.Location{{City: "Kazan", Country: "RU"}, {City: "Berlin", Country: "DE"}}, cfg.Locations)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, uint64(42), cfg.FallbackSeed)
	assert.Equal(t, "ow-key", cfg.OpenWeatherAPIKey)
}

func TestLoad_CitiesWithoutCountries(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WEATHER_LOCATION_CITY", "Kazan,Novosibirsk")
	t.Setenv("WEATHER_LOCATION_COUNTRY", " ")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, []weather.Location{{City: "Kazan"}, {City: "Novosibirsk"}}, cfg.Locations)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string][2]string{
		"bad duration":       {"SOURCE_TIMEOUT", "soon"},
		"zero timeout":       {"SOURCE_TIMEOUT", "0s"},
		"retention below 1":  {"HISTORY_RETENTION", "0"},
		"retention not int":  {"HISTORY_RETENTION", "many"},
		"unknown source":     {"ENABLED_SOURCES", "gismeteo,accuweather"},
		"empty source list":  {"ENABLED_SOURCES", " , "},
		"bad log format":     {"LOG_FORMAT", "xml"},
		"mismatched country": {"WEATHER_LOCATION_COUNTRY", "RU,DE"},
		"bad seed":           {"FALLBACK_SEED", "-1"},
	}

	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(kv[0], kv[1])

			_, err := Load("", nil)
			require.ErrorIs(t, err, weather.ErrConfiguration)
		})
	}
}

func TestLoad_ConfigFileWithBias(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "collector.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
enabled_sources:
  - sinoptik
  - mailru
history_retention: 20
bias:
  Kazan:
    min: -20
    max: -10
`), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"sinoptik", "mailru"}, cfg.EnabledSources)
	assert.Equal(t, 20, cfg.HistoryRetention)
	assert.Equal(t, weather.Range{Min: -20, Max: -10}, cfg.Bias["kazan"])
}

func TestLoad_InvertedBiasRange(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "collector.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bias:\n  kazan:\n    min: 5\n    max: -5\n"), 0o644))

	_, err := Load(path, nil)
	require.ErrorIs(t, err, weather.ErrConfiguration)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("does-not-exist.yaml", nil)
	require.ErrorIs(t, err, weather.ErrConfiguration)
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9000")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("port", "8080", "")
	fs.String("sources", "", "")
	require.NoError(t, fs.Parse([]string{"--port=9100"}))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, providers.DefaultOrder, cfg.EnabledSources)
}
