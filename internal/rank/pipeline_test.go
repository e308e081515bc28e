package rank

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/passwatch/internal/metrics"
	"github.com/large-farva/passwatch/internal/pass"
)

type stubFetcher struct {
	passes []pass.RawPass
	status pass.Status
	calls  int
	count  int
}

func (s *stubFetcher) Fetch(_ context.Context, _, _ float64, count int) ([]pass.RawPass, pass.Status) {
	s.calls++
	s.count = count
	return s.passes, s.status
}

func TestPipelineRun(t *testing.T) {
	src := &stubFetcher{
		passes: []pass.RawPass{
			{RiseTime: at(1, 6), DurationSeconds: 300},
			{RiseTime: at(1, 12), DurationSeconds: 300},
		},
		status: pass.Live(),
	}
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	p := NewPipeline(src, newTestProcessor(FixedWeather(Clear)), nil, m)

	res, err := p.Run(context.Background(), Request{Latitude: 48.85, Longitude: 2.35})
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, pass.SourceLive, res.DataSource)
	assert.Equal(t, "live", res.SourceStatus)
	assert.Equal(t, DefaultCount, src.count)
	assert.Equal(t, DefaultMinDurationSeconds, res.Request.MinDurationSeconds)
	assert.Equal(t, SlotAny, res.Request.Slot)
	assert.Equal(t, 2, res.ObservableCount)

	assert.Equal(t, 1, testutil.CollectAndCount(m.PipelineDuration))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.StagePasses.WithLabelValues(metrics.StageObservable)))
}

func TestPipelineReportsFallback(t *testing.T) {
	src := &stubFetcher{status: pass.Fallback("http 503")}
	p := NewPipeline(src, newTestProcessor(FixedWeather(Clear)), nil, nil)

	res, err := p.Run(context.Background(), Request{Latitude: 1, Longitude: 1, Count: 5})
	require.NoError(t, err)

	assert.Equal(t, pass.SourceFallback, res.DataSource)
	assert.Equal(t, "fallback: http 503", res.SourceStatus)
	assert.Equal(t, NoRawDataSpan, res.Span)
}

func TestPipelineRejectsInvalidRequests(t *testing.T) {
	cases := map[string]Request{
		"latitude":  {Latitude: 91},
		"longitude": {Longitude: -181},
		"count":     {Count: 101},
		"duration":  {MinDurationSeconds: -3},
		"slot":      {Slot: "noon"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			src := &stubFetcher{status: pass.Live()}
			p := NewPipeline(src, newTestProcessor(FixedWeather(Clear)), nil, nil)

			_, err := p.Run(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Zero(t, src.calls, "source must not be called")
		})
	}
}

func TestPipelineNormalizesSlot(t *testing.T) {
	src := &stubFetcher{
		passes: []pass.RawPass{{RiseTime: at(1, 20), DurationSeconds: 300}},
		status: pass.Live(),
	}
	p := NewPipeline(src, newTestProcessor(FixedWeather(Clear)), nil, nil)

	res, err := p.Run(context.Background(), Request{Slot: "Low-Visibility"})
	require.NoError(t, err)
	assert.Equal(t, SlotLowVisibility, res.Request.Slot)
	assert.Zero(t, res.FilteredCount)
}

func TestRequestWithDefaultsKeepsExplicitValues(t *testing.T) {
	start := time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC)
	req := Request{StartDate: start, Count: 7, MinDurationSeconds: 90, Slot: SlotDusk}.WithDefaults(testNow)

	assert.Equal(t, start, req.StartDate)
	assert.Equal(t, 7, req.Count)
	assert.Equal(t, 90, req.MinDurationSeconds)
	assert.Equal(t, SlotDusk, req.Slot)
}
