// Package rank turns raw pass predictions into a ranked list of observable
// passes. Each pass is classified by time of day, given a simulated sky
// condition, filtered by the observer's preferences, scored, and sorted.
package rank

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/large-farva/passwatch/internal/pass"
)

// Score components.
const (
	ScoreVisibilityOptimal   = 10
	ScoreWeatherClear        = 5
	ScoreWeatherPartlyCloudy = 1
)

// NoRawDataSpan replaces the date span when there is nothing to span.
const NoRawDataSpan = "(no raw data)"

// EnrichedPass is a raw pass with its derived sky attributes.
type EnrichedPass struct {
	pass.RawPass
	TimeOfDay  TimeOfDay  `json:"time_of_day"`
	Visibility Visibility `json:"visibility"`
	Weather    Weather    `json:"weather"`
	DaysAhead  int        `json:"days_ahead"`
}

// ScoredPass is an observable pass with its composite score and rank.
type ScoredPass struct {
	EnrichedPass
	Rank            int `json:"rank"`
	VisibilityScore int `json:"visibility_score"`
	WeatherScore    int `json:"weather_score"`
	TotalScore      int `json:"total_score"`
}

// Result is the outcome of one ranking run.
type Result struct {
	ID           string    `json:"id,omitempty"`
	GeneratedAt  time.Time `json:"generated_at"`
	Request      Request   `json:"request"`
	DataSource   string    `json:"data_source,omitempty"`
	SourceStatus string    `json:"source_status,omitempty"`

	Enriched []EnrichedPass `json:"enriched"`
	Ranked   []ScoredPass   `json:"ranked"`

	RawCount        int    `json:"raw_count"`
	FilteredCount   int    `json:"filtered_count"`
	ObservableCount int    `json:"observable_count"`
	Span            string `json:"span"`
	Summary         string `json:"summary"`
}

// Best returns the top-ranked pass, if any.
func (r Result) Best() (ScoredPass, bool) {
	if len(r.Ranked) == 0 {
		return ScoredPass{}, false
	}
	return r.Ranked[0], true
}

// Processor runs the enrich, filter, score, and rank stages.
type Processor struct {
	weather  Forecaster
	location *time.Location
	now      func() time.Time
}

// NewProcessor returns a processor drawing sky conditions from w and reading
// rise times in loc. A nil loc means UTC.
func NewProcessor(w Forecaster, loc *time.Location) *Processor {
	if loc == nil {
		loc = time.UTC
	}
	return &Processor{weather: w, location: loc, now: time.Now}
}

// WithClock replaces the processor's time source and returns it.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Location returns the time zone rise times are classified in.
func (p *Processor) Location() *time.Location {
	return p.location
}

// Process ranks raw passes for the given preferences. Passes rising before
// midnight of startDate, shorter than minDurationSeconds, or outside slot are
// filtered out; of the rest, only passes under a clear or partly cloudy sky
// are scored and ranked. Empty input yields an empty result.
func (p *Processor) Process(raw []pass.RawPass, slot TimeSlot, minDurationSeconds int, startDate time.Time) Result {
	enriched := p.enrich(raw)

	y, m, d := startDate.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, p.location)

	var filtered []EnrichedPass
	for _, e := range enriched {
		if e.RiseTime.Before(midnight) {
			continue
		}
		if e.DurationSeconds < minDurationSeconds {
			continue
		}
		if !slot.Matches(e.TimeOfDay) {
			continue
		}
		filtered = append(filtered, e)
	}

	ranked := make([]ScoredPass, 0, len(filtered))
	for _, e := range filtered {
		if !e.Weather.Observable() {
			continue
		}
		ranked = append(ranked, score(e))
	}

	slices.SortStableFunc(ranked, func(a, b ScoredPass) int {
		if c := cmp.Compare(b.TotalScore, a.TotalScore); c != 0 {
			return c
		}
		return cmp.Compare(b.DurationSeconds, a.DurationSeconds)
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	res := Result{
		GeneratedAt:     p.now().UTC(),
		Enriched:        enriched,
		Ranked:          ranked,
		RawCount:        len(enriched),
		FilteredCount:   len(filtered),
		ObservableCount: len(ranked),
		Span:            span(enriched),
	}
	res.Summary = fmt.Sprintf(
		"Raw passes %s: %d. Filtered passes (date/duration/time slot): %d. Ranked observable passes (clear/partly cloudy): %d.",
		res.Span, res.RawCount, res.FilteredCount, res.ObservableCount,
	)
	return res
}

// enrich classifies every valid raw pass and draws its weather. Invalid
// records are dropped.
func (p *Processor) enrich(raw []pass.RawPass) []EnrichedPass {
	now := p.now()
	out := make([]EnrichedPass, 0, len(raw))
	for _, r := range raw {
		if !r.Valid() {
			continue
		}
		r.RiseTime = r.RiseTime.In(p.location)
		tod, vis := Classify(r.RiseTime)
		out = append(out, EnrichedPass{
			RawPass:    r,
			TimeOfDay:  tod,
			Visibility: vis,
			Weather:    p.weather.Simulate(r.RiseTime, now),
			DaysAhead:  DaysAhead(r.RiseTime, now),
		})
	}
	return out
}

func score(e EnrichedPass) ScoredPass {
	s := ScoredPass{
		EnrichedPass:    e,
		VisibilityScore: VisibilityScore(e.Visibility),
		WeatherScore:    WeatherScore(e.Weather),
	}
	s.TotalScore = s.VisibilityScore + s.WeatherScore
	return s
}

// VisibilityScore is 10 for optimal visibility and 0 otherwise.
func VisibilityScore(v Visibility) int {
	if v == Optimal {
		return ScoreVisibilityOptimal
	}
	return 0
}

// WeatherScore is 5 for clear skies, 1 for partly cloudy, 0 otherwise.
func WeatherScore(w Weather) int {
	switch w {
	case Clear:
		return ScoreWeatherClear
	case PartlyCloudy:
		return ScoreWeatherPartlyCloudy
	default:
		return 0
	}
}

// span renders the first and last rise dates, e.g. "(01 Jun to 09 Jun)".
func span(passes []EnrichedPass) string {
	if len(passes) == 0 {
		return NoRawDataSpan
	}
	first, last := passes[0].RiseTime, passes[0].RiseTime
	for _, p := range passes[1:] {
		if p.RiseTime.Before(first) {
			first = p.RiseTime
		}
		if p.RiseTime.After(last) {
			last = p.RiseTime
		}
	}
	return fmt.Sprintf("(%s to %s)", first.Format("02 Jan"), last.Format("02 Jan"))
}
