package rank

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/large-farva/passwatch/internal/metrics"
	"github.com/large-farva/passwatch/internal/pass"
)

const (
	// DefaultCount asks for the service maximum, roughly two weeks of passes.
	DefaultCount = pass.MaxCount

	// DefaultMinDurationSeconds drops passes too short to find in the sky.
	DefaultMinDurationSeconds = 30

	tracerName = "github.com/large-farva/passwatch/internal/rank"
)

// ErrInvalidRequest wraps every request validation failure.
var ErrInvalidRequest = errors.New("invalid request")

// Request is one ranking query. It is never modified by the pipeline.
type Request struct {
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	StartDate          time.Time `json:"start_date"`
	MinDurationSeconds int       `json:"min_duration_seconds"`
	Slot               TimeSlot  `json:"slot"`
	Count              int       `json:"count"`
}

// WithDefaults fills zero fields: today for StartDate, SlotAny, and the
// package defaults for count and minimum duration.
func (r Request) WithDefaults(now time.Time) Request {
	if r.StartDate.IsZero() {
		r.StartDate = now
	}
	if r.Slot == "" {
		r.Slot = SlotAny
	}
	if r.Count == 0 {
		r.Count = DefaultCount
	}
	if r.MinDurationSeconds == 0 {
		r.MinDurationSeconds = DefaultMinDurationSeconds
	}
	return r
}

// Validate reports the first parameter outside its allowed range.
func (r Request) Validate() error {
	if r.Latitude < -90 || r.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v outside [-90, 90]", ErrInvalidRequest, r.Latitude)
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v outside [-180, 180]", ErrInvalidRequest, r.Longitude)
	}
	if r.MinDurationSeconds < 1 {
		return fmt.Errorf("%w: min duration must be >= 1 second", ErrInvalidRequest)
	}
	if r.Count < 1 || r.Count > pass.MaxCount {
		return fmt.Errorf("%w: count %d outside [1, %d]", ErrInvalidRequest, r.Count, pass.MaxCount)
	}
	if _, err := ParseTimeSlot(string(r.Slot)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Fetcher supplies raw passes for an observer.
type Fetcher interface {
	Fetch(ctx context.Context, lat, lon float64, count int) ([]pass.RawPass, pass.Status)
}

// Pipeline couples a pass source with a processor.
type Pipeline struct {
	src     Fetcher
	proc    *Processor
	log     *log.Logger
	metrics *metrics.Collector
}

// NewPipeline wires a pipeline. logger and m may be nil.
func NewPipeline(src Fetcher, proc *Processor, logger *log.Logger, m *metrics.Collector) *Pipeline {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Pipeline{src: src, proc: proc, log: logger, metrics: m}
}

// Location is the time zone passes are classified in.
func (p *Pipeline) Location() *time.Location {
	return p.proc.Location()
}

// Run validates req, fetches passes and ranks them. The only error is a
// wrapped ErrInvalidRequest; source trouble shows up in the result's status.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	req = req.WithDefaults(p.proc.now().In(p.proc.location))
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	req.Slot, _ = ParseTimeSlot(string(req.Slot))

	ctx, span := otel.Tracer(tracerName).Start(ctx, "rank.run", trace.WithAttributes(
		attribute.Float64("observer.lat", req.Latitude),
		attribute.Float64("observer.lon", req.Longitude),
		attribute.String("rank.slot", string(req.Slot)),
		attribute.Int("rank.min_duration", req.MinDurationSeconds),
	))
	defer span.End()

	raw, status := p.src.Fetch(ctx, req.Latitude, req.Longitude, req.Count)
	if !status.IsLive() {
		span.SetStatus(codes.Error, status.String())
	}

	_, pspan := otel.Tracer(tracerName).Start(ctx, "rank.process")
	res := p.proc.Process(raw, req.Slot, req.MinDurationSeconds, req.StartDate)
	pspan.End()

	res.ID = uuid.NewString()
	res.Request = req
	res.DataSource = status.Source
	res.SourceStatus = status.String()

	span.SetAttributes(
		attribute.String("rank.id", res.ID),
		attribute.Int("rank.raw", res.RawCount),
		attribute.Int("rank.filtered", res.FilteredCount),
		attribute.Int("rank.observable", res.ObservableCount),
	)
	p.metrics.ObservePipeline(time.Since(start), res.RawCount, res.FilteredCount, res.ObservableCount)
	p.log.Printf("rank: %s %s (%.4f, %.4f) raw=%d filtered=%d observable=%d",
		res.ID[:8], res.SourceStatus, req.Latitude, req.Longitude,
		res.RawCount, res.FilteredCount, res.ObservableCount)
	return res, nil
}
