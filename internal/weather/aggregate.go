package weather

import "math"

// Field names a numeric Reading field that takes part in aggregation.
type Field string

const (
	FieldTemperature Field = "temperature"
	FieldFeelsLike   Field = "feels_like"
	FieldHumidity    Field = "humidity"
	FieldPressure    Field = "pressure"
	FieldWindSpeed   Field = "wind_speed"
)

// Fields lists aggregated fields in report order.
var Fields = []Field{FieldTemperature, FieldFeelsLike, FieldHumidity, FieldPressure, FieldWindSpeed}

// decimals is the rounding precision per field.
var decimals = map[Field]int{
	FieldTemperature: 1,
	FieldFeelsLike:   1,
	FieldWindSpeed:   1,
	FieldHumidity:    0,
	FieldPressure:    0,
}

// Aggregate maps a field to its rounded mean over the readings that carry it.
// Fields absent from every reading are omitted.
type Aggregate map[Field]float64

// Empty reports whether there is nothing to report.
func (a Aggregate) Empty() bool {
	return len(a) == 0
}

// Get returns the mean for f and whether it is present.
func (a Aggregate) Get(f Field) (float64, bool) {
	v, ok := a[f]
	return v, ok
}

func (a Aggregate) Clone() Aggregate {
	if a == nil {
		return nil
	}
	out := make(Aggregate, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// AggregateReadings computes per-field means over present, finite values only.
// Temperature-like fields round to one decimal, humidity and pressure to whole numbers.
// An empty input yields an empty Aggregate.
func AggregateReadings(readings []Reading) Aggregate {
	agg := make(Aggregate)
	if len(readings) == 0 {
		return agg
	}

	for _, f := range Fields {
		var (
			sum float64
			n   int
		)
		for _, r := range readings {
			if v, ok := r.Value(f); ok && finite(v) {
				sum += v
				n++
			}
		}
		if n == 0 {
			continue
		}
		agg[f] = roundTo(sum/float64(n), decimals[f])
	}

	return agg
}

func roundTo(v float64, places int) float64 {
	if places <= 0 {
		return math.Round(v)
	}
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
