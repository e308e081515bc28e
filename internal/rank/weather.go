package rank

import (
	"errors"
	"math/rand/v2"
	"sync"
	"time"
)

// Forecaster yields a sky condition for a pass rising at at, as seen from now.
type Forecaster interface {
	Simulate(at, now time.Time) Weather
}

// Weights is the categorical distribution the simulator draws from. Values
// are relative and need not sum to one.
type Weights struct {
	Clear        float64 `toml:"clear"         json:"clear"`
	PartlyCloudy float64 `toml:"partly_cloudy" json:"partly_cloudy"`
	Overcast     float64 `toml:"overcast"      json:"overcast"`
	Rainy        float64 `toml:"rainy"         json:"rainy"`
}

// DefaultWeights returns the stock 50/20/20/10 split.
func DefaultWeights() Weights {
	return Weights{Clear: 0.5, PartlyCloudy: 0.2, Overcast: 0.2, Rainy: 0.1}
}

// Validate checks that every weight is non-negative and at least one is
// positive.
func (w Weights) Validate() error {
	if w.Clear < 0 || w.PartlyCloudy < 0 || w.Overcast < 0 || w.Rainy < 0 {
		return errors.New("weather weights must be >= 0")
	}
	if w.total() <= 0 {
		return errors.New("weather weights must not all be zero")
	}
	return nil
}

func (w Weights) total() float64 {
	return w.Clear + w.PartlyCloudy + w.Overcast + w.Rainy
}

// WeatherSimulator draws sky conditions from a fixed distribution. Every draw
// uses the same weights regardless of the pass time or how far ahead it is.
// It is safe for concurrent use.
type WeatherSimulator struct {
	mu      sync.Mutex
	rnd     *rand.Rand
	weights Weights
}

// NewWeatherSimulator returns a simulator drawing from src with weights w. A
// nil src seeds a fresh PCG from the clock.
func NewWeatherSimulator(src rand.Source, w Weights) *WeatherSimulator {
	if src == nil {
		src = rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())
	}
	return &WeatherSimulator{rnd: rand.New(src), weights: w}
}

// Simulate draws one sky condition.
func (s *WeatherSimulator) Simulate(_, _ time.Time) Weather {
	s.mu.Lock()
	x := s.rnd.Float64() * s.weights.total()
	s.mu.Unlock()

	switch {
	case x < s.weights.Clear:
		return Clear
	case x < s.weights.Clear+s.weights.PartlyCloudy:
		return PartlyCloudy
	case x < s.weights.Clear+s.weights.PartlyCloudy+s.weights.Overcast:
		return Overcast
	default:
		return Rainy
	}
}

// FixedWeather always forecasts the same condition.
type FixedWeather Weather

// Simulate returns the fixed condition.
func (f FixedWeather) Simulate(_, _ time.Time) Weather {
	return Weather(f)
}

// DaysAhead returns the number of calendar days between now and at, both
// read in at's location.
func DaysAhead(at, now time.Time) int {
	now = now.In(at.Location())
	ay, am, ad := at.Date()
	ny, nm, nd := now.Date()
	a := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	n := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return int(a.Sub(n).Hours() / 24)
}
