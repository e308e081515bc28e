// Package source acquires upcoming ISS passes for an observer. It queries the
// remote pass-prediction service once per request and, when that fails for
// any reason, substitutes synthetic passes of the same shape so callers
// always get a usable batch plus a status explaining where it came from.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/large-farva/passwatch/internal/metrics"
	"github.com/large-farva/passwatch/internal/pass"
)

const (
	// DefaultURL is the Open Notify pass endpoint.
	DefaultURL = "http://api.open-notify.org/iss-pass.json"

	// MaxTimeout caps how long a single remote call may block.
	MaxTimeout = 10 * time.Second

	// DefaultCacheTTL is how long live results are reused per location.
	DefaultCacheTTL = 10 * time.Minute

	tracerName = "github.com/large-farva/passwatch/internal/source"
)

// Fallback reasons.
const (
	ReasonConnection      = "connection error"
	ReasonMalformed       = "malformed payload"
	ReasonInvalidLocation = "invalid location"
	ReasonOffline         = "offline mode"
	ReasonUnknown         = "unknown"
)

// Options configures a Source.
type Options struct {
	URL      string
	Timeout  time.Duration
	CacheTTL time.Duration

	// Offline skips the remote service entirely and always serves synthetic
	// passes.
	Offline bool

	HTTPClient *http.Client
	Generator  *Generator
	Logger     *log.Logger
	Metrics    *metrics.Collector
}

// Source fetches passes from the remote service with synthetic failover and
// a per-location TTL cache. It is safe for concurrent use.
type Source struct {
	url     string
	timeout time.Duration
	offline bool

	client  *http.Client
	gen     *Generator
	cache   *Cache
	log     *log.Logger
	metrics *metrics.Collector
}

// New builds a Source, filling unset options with defaults.
func New(opts Options) *Source {
	s := &Source{
		url:     opts.URL,
		timeout: opts.Timeout,
		offline: opts.Offline,
		client:  opts.HTTPClient,
		gen:     opts.Generator,
		cache:   NewCache(opts.CacheTTL),
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
	if s.url == "" {
		s.url = DefaultURL
	}
	if s.timeout <= 0 || s.timeout > MaxTimeout {
		s.timeout = MaxTimeout
	}
	if s.client == nil {
		s.client = &http.Client{}
	}
	if s.gen == nil {
		s.gen = NewGenerator(nil)
	}
	if s.log == nil {
		s.log = log.New(io.Discard, "", 0)
	}
	return s
}

// Fetch returns up to count upcoming passes for (lat, lon). count is clamped
// to [1, pass.MaxCount]. Fetch never fails: any problem with the remote
// service yields exactly count synthetic passes and a fallback status.
func (s *Source) Fetch(ctx context.Context, lat, lon float64, count int) ([]pass.RawPass, pass.Status) {
	count = pass.ClampCount(count)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "source.fetch", trace.WithAttributes(
		attribute.Float64("observer.lat", lat),
		attribute.Float64("observer.lon", lon),
		attribute.Int("pass.count", count),
	))
	defer span.End()

	passes, status := s.fetch(ctx, lat, lon, count)
	span.SetAttributes(attribute.String("pass.source", status.String()))
	s.metrics.ObserveFetch(status)
	return passes, status
}

// Invalidate drops every cached result, forcing the next Fetch to the remote
// service.
func (s *Source) Invalidate() {
	s.cache.Invalidate()
}

func (s *Source) fetch(ctx context.Context, lat, lon float64, count int) ([]pass.RawPass, pass.Status) {
	if !ValidLocation(lat, lon) {
		return s.fallback(count, ReasonInvalidLocation)
	}
	if s.offline {
		return s.fallback(count, ReasonOffline)
	}

	if s.cache.Locate(lat, lon) {
		s.log.Printf("source: observer moved to %.4f, %.4f, cache invalidated", lat, lon)
	}
	if cached, ok := s.cache.Get(lat, lon, count); ok {
		s.metrics.ObserveCache(true)
		return cached, pass.Live()
	}
	s.metrics.ObserveCache(false)

	passes, reason, err := s.fetchRemote(ctx, lat, lon, count)
	if err != nil {
		s.log.Printf("source: remote fetch failed (%v), switching to synthetic passes", err)
		return s.fallback(count, reason)
	}

	s.cache.Put(lat, lon, count, passes)
	return passes, pass.Live()
}

func (s *Source) fallback(count int, reason string) ([]pass.RawPass, pass.Status) {
	return s.gen.Generate(count), pass.Fallback(reason)
}

// remotePayload is the Open Notify response envelope. Entries are decoded
// one by one so a single bad record does not sink the batch.
type remotePayload struct {
	Message  string            `json:"message"`
	Reason   string            `json:"reason"`
	Response []json.RawMessage `json:"response"`
}

type remoteEntry struct {
	RiseTime *float64 `json:"risetime"`
	Duration *float64 `json:"duration"`
}

// fetchRemote performs the single remote call. On failure it returns the
// fallback reason alongside a descriptive error.
func (s *Source) fetchRemote(ctx context.Context, lat, lon float64, count int) ([]pass.RawPass, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	u, err := url.Parse(s.url)
	if err != nil {
		return nil, ReasonConnection, fmt.Errorf("parse source url: %w", err)
	}
	q := u.Query()
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("n", strconv.Itoa(count))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, ReasonConnection, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, ReasonConnection, fmt.Errorf("pass request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Sprintf("http %d", resp.StatusCode), fmt.Errorf("pass service returned HTTP %d", resp.StatusCode)
	}

	var payload remotePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, ReasonMalformed, fmt.Errorf("decode payload: %w", err)
	}

	if payload.Message != "success" {
		reason := payload.Reason
		if reason == "" {
			reason = ReasonUnknown
		}
		return nil, reason, fmt.Errorf("pass service reported failure: %s", reason)
	}

	passes, dropped := parseEntries(payload.Response, count)
	if dropped > 0 {
		s.log.Printf("source: dropped %d malformed pass records", dropped)
	}
	return passes, "", nil
}

// parseEntries converts raw entries into passes, skipping malformed ones and
// keeping at most limit records. It returns the number of skipped entries.
func parseEntries(raw []json.RawMessage, limit int) ([]pass.RawPass, int) {
	out := make([]pass.RawPass, 0, min(len(raw), limit))
	dropped := 0
	for _, r := range raw {
		if len(out) == limit {
			break
		}
		var e remoteEntry
		if err := json.Unmarshal(r, &e); err != nil {
			dropped++
			continue
		}
		if e.RiseTime == nil || e.Duration == nil || *e.RiseTime <= 0 || *e.Duration < 0 {
			dropped++
			continue
		}
		p := pass.RawPass{
			RiseTime:        time.Unix(int64(*e.RiseTime), 0).UTC(),
			DurationSeconds: int(*e.Duration),
		}
		out = append(out, p)
	}
	return out, dropped
}

// ValidLocation reports whether (lat, lon) is a real position on Earth.
func ValidLocation(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
