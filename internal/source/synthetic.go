package source

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/large-farva/passwatch/internal/pass"
)

// Synthetic pass shape. One orbit is roughly 90 minutes; the observer only
// sees some of them, so each gap adds 30 minutes to 2 hours on top.
const (
	orbitalPeriodSeconds = 5400
	minGapJitterSeconds  = 1800
	maxGapJitterSeconds  = 7200

	shortPassMinSeconds = 100
	shortPassMaxSeconds = 300
	longPassMinSeconds  = 400
	longPassMaxSeconds  = 600

	// Out of every 10 synthetic passes, this many are short.
	shortPassWeight = 8
)

// Generator produces plausible passes when the remote service is unusable.
// It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

// NewGenerator returns a generator drawing from src. A nil src seeds a fresh
// PCG from the clock.
func NewGenerator(src rand.Source) *Generator {
	if src == nil {
		src = rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())
	}
	return &Generator{
		rnd: rand.New(src),
		now: time.Now,
	}
}

// WithClock replaces the generator's time source and returns it.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate returns exactly count passes with strictly increasing rise times,
// starting one gap after the current time.
func (g *Generator) Generate(count int) []pass.RawPass {
	if count <= 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]pass.RawPass, 0, count)
	ts := g.now().UTC().Truncate(time.Second)
	for range count {
		gap := orbitalPeriodSeconds + g.between(minGapJitterSeconds, maxGapJitterSeconds)
		ts = ts.Add(time.Duration(gap) * time.Second)

		var dur int
		if g.rnd.IntN(10) < shortPassWeight {
			dur = g.between(shortPassMinSeconds, shortPassMaxSeconds)
		} else {
			dur = g.between(longPassMinSeconds, longPassMaxSeconds)
		}

		out = append(out, pass.RawPass{RiseTime: ts, DurationSeconds: dur})
	}
	return out
}

// between draws uniformly from [lo, hi].
func (g *Generator) between(lo, hi int) int {
	return lo + g.rnd.IntN(hi-lo+1)
}
