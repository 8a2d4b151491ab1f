package weather

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	suffixGenerated = " (generated)"
	suffixFault     = " (fault)"
)

// DefaultRange is used for cities without a bias entry.
var DefaultRange = Range{Min: -10, Max: 5}

// DefaultBias holds per-city temperature ranges, keyed by lowercase city name.
// Both Latin and Cyrillic spellings are recognized.
func DefaultBias() map[string]Range {
	moscow := Range{Min: -8, Max: 2}
	spb := Range{Min: -6, Max: 3}
	novosibirsk := Range{Min: -12, Max: -3}
	yekaterinburg := Range{Min: -10, Max: -1}
	kazan := Range{Min: -8, Max: 0}

	return map[string]Range{
		"moscow":           moscow,
		"москва":           moscow,
		"saint petersburg": spb,
		"saint-petersburg": spb,
		"санкт-петербург":  spb,
		"novosibirsk":      novosibirsk,
		"новосибирск":      novosibirsk,
		"yekaterinburg":    yekaterinburg,
		"екатеринбург":     yekaterinburg,
		"kazan":            kazan,
		"казань":           kazan,
	}
}

var (
	humidityRange = Range{Min: 70, Max: 90}
	pressureRange = Range{Min: 735, Max: 765}
	windRange     = Range{Min: 1, Max: 6}
	feelsOffset   = Range{Min: 1, Max: 3}
)

// FallbackGenerator produces plausible synthetic readings for sources that
// could not deliver data. Output is deterministic for a given random source.
type FallbackGenerator struct {
	mu    sync.Mutex
	rnd   *rand.Rand
	bias  map[string]Range
	clock clockwork.Clock
}

// NewFallbackGenerator creates a generator. A nil rnd is time-seeded, a nil
// bias uses DefaultBias and a nil clock uses the real clock.
func NewFallbackGenerator(rnd *rand.Rand, bias map[string]Range, clock clockwork.Clock) *FallbackGenerator {
	if rnd == nil {
		rnd = NewSeededRand(0)
	}
	if bias == nil {
		bias = DefaultBias()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	normalized := make(map[string]Range, len(bias))
	for k, v := range bias {
		normalized[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &FallbackGenerator{
		rnd:   rnd,
		bias:  normalized,
		clock: clock,
	}
}

// NewSeededRand returns a PCG-backed random source. A zero seed is replaced
// by the current time.
func NewSeededRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// RangeFor returns the temperature range used for loc.
func (g *FallbackGenerator) RangeFor(loc Location) Range {
	if r, ok := g.bias[strings.ToLower(strings.TrimSpace(loc.City))]; ok {
		return r
	}
	return DefaultRange
}

// Generate builds a substitute reading for source. cause must be Synthetic
// or Faulted; anything else is treated as Synthetic.
func (g *FallbackGenerator) Generate(loc Location, source string, cause Provenance) Reading {
	tr := g.RangeFor(loc)

	g.mu.Lock()
	temp := roundTo(g.uniform(tr), 1)
	feels := roundTo(temp-g.uniform(feelsOffset), 1)
	humidity := float64(g.intBetween(humidityRange))
	pressure := float64(g.intBetween(pressureRange))
	wind := roundTo(g.uniform(windRange), 1)
	g.mu.Unlock()

	r := Reading{
		Temperature: temp,
		FeelsLike:   Float(feels),
		Humidity:    Float(humidity),
		Pressure:    Float(pressure),
		WindSpeed:   Float(wind),
		ObservedAt:  g.clock.Now(),
	}

	if cause == Faulted {
		r.Source = source + suffixFault
		r.Description = "data after error"
		r.Provenance = Faulted
	} else {
		r.Source = source + suffixGenerated
		r.Description = "generated data"
		r.Provenance = Synthetic
	}
	return r
}

func (g *FallbackGenerator) uniform(r Range) float64 {
	return r.Min + g.rnd.Float64()*(r.Max-r.Min)
}

func (g *FallbackGenerator) intBetween(r Range) int {
	lo, hi := int(r.Min), int(r.Max)
	if hi <= lo {
		return lo
	}
	return lo + g.rnd.IntN(hi-lo+1)
}
