package weather

import (
	"math"
	"strings"
	"time"
)

// Location represents a logical place for which we collect weather.
// City must be provided; Country is optional.
type Location struct {
	City    string `json:"city"`
	Country string `json:"country,omitempty"`
}

// Key returns a canonical string key for indexing this location in stores
// and for the one-run-per-location guard.
func (l Location) Key() string {
	return strings.ToLower(strings.TrimSpace(l.City)) + ":" + strings.ToUpper(strings.TrimSpace(l.Country))
}

func (l Location) String() string {
	if l.Country == "" {
		return l.City
	}
	return l.City + ", " + l.Country
}

// Provenance tells how a Reading was obtained.
type Provenance string

const (
	// Authentic readings come from the source's own extraction.
	Authentic Provenance = "authentic"
	// Synthetic readings substitute an unavailable source.
	Synthetic Provenance = "synthetic"
	// Faulted readings substitute a source that failed with an error.
	Faulted Provenance = "faulted"
)

// Reading is one observation from one source in one collection run.
// Units: temperature and feels-like in °C, humidity in %, pressure in mmHg,
// wind speed in m/s.
type Reading struct {
	Source      string     `json:"source"`
	Temperature float64    `json:"temperature"`
	FeelsLike   *float64   `json:"feels_like,omitempty"`
	Humidity    *float64   `json:"humidity,omitempty"`
	Pressure    *float64   `json:"pressure,omitempty"`
	WindSpeed   *float64   `json:"wind_speed,omitempty"`
	Description string     `json:"description,omitempty"`
	ObservedAt  time.Time  `json:"timestamp"`
	Provenance  Provenance `json:"provenance"`

	// Cause keeps the (truncated) error message of a Faulted reading.
	Cause string `json:"cause,omitempty"`
}

// Clone returns a deep copy so optional fields are never shared.
func (r Reading) Clone() Reading {
	out := r
	out.FeelsLike = cloneFloat(r.FeelsLike)
	out.Humidity = cloneFloat(r.Humidity)
	out.Pressure = cloneFloat(r.Pressure)
	out.WindSpeed = cloneFloat(r.WindSpeed)
	return out
}

// Value returns the field value and whether it is present.
func (r Reading) Value(f Field) (float64, bool) {
	switch f {
	case FieldTemperature:
		return r.Temperature, true
	case FieldFeelsLike:
		return deref(r.FeelsLike)
	case FieldHumidity:
		return deref(r.Humidity)
	case FieldPressure:
		return deref(r.Pressure)
	case FieldWindSpeed:
		return deref(r.WindSpeed)
	default:
		return 0, false
	}
}

// Float returns a pointer to v, for filling optional Reading fields.
func Float(v float64) *float64 {
	return &v
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func deref(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// dropNonFinite clears optional fields holding NaN or an infinity.
func (r *Reading) dropNonFinite() {
	for _, p := range []**float64{&r.FeelsLike, &r.Humidity, &r.Pressure, &r.WindSpeed} {
		if *p != nil && !finite(**p) {
			*p = nil
		}
	}
}

// CloneReadings deep-copies a reading slice.
func CloneReadings(in []Reading) []Reading {
	if in == nil {
		return nil
	}
	out := make([]Reading, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// CollectionRun is the ordered set of Readings produced by one collection trigger.
type CollectionRun struct {
	ID          string    `json:"id"`
	Location    Location  `json:"location"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Readings    []Reading `json:"sources"`
	Aggregate   Aggregate `json:"averages"`
}

// Clone returns a deep copy of the run.
func (r CollectionRun) Clone() CollectionRun {
	out := r
	out.Readings = CloneReadings(r.Readings)
	out.Aggregate = r.Aggregate.Clone()
	return out
}

// HistoryEntry is the append-only record kept for every completed run.
type HistoryEntry struct {
	City         string    `json:"city"`
	Country      string    `json:"country,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	SourcesCount int       `json:"sources_count"`
	Averages     Aggregate `json:"averages"`
}

// NewHistoryEntry derives the history record of a completed run.
func NewHistoryEntry(run CollectionRun) HistoryEntry {
	return HistoryEntry{
		City:         run.Location.City,
		Country:      run.Location.Country,
		Timestamp:    run.CompletedAt,
		SourcesCount: len(run.Readings),
		Averages:     run.Aggregate.Clone(),
	}
}

// Range is a closed interval used by the fallback generator.
type Range struct {
	Min float64 `json:"min" mapstructure:"min" validate:"ltefield=Max"`
	Max float64 `json:"max" mapstructure:"max"`
}
