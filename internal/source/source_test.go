package source

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/passwatch/internal/metrics"
	"github.com/large-farva/passwatch/internal/pass"
)

func newTestSource(t *testing.T, url string, mut ...func(*Options)) *Source {
	t.Helper()
	opts := Options{
		URL:       url,
		Timeout:   2 * time.Second,
		CacheTTL:  DefaultCacheTTL,
		Generator: NewGenerator(rand.NewPCG(1, 2)),
	}
	for _, m := range mut {
		m(&opts)
	}
	return New(opts)
}

func successPayload(n int) map[string]any {
	entries := make([]map[string]any, n)
	for i := range entries {
		entries[i] = map[string]any{
			"risetime": 1717221600 + i*6000,
			"duration": 300 + i,
		}
	}
	return map[string]any{"message": "success", "response": entries}
}

func assertFallbackShape(t *testing.T, passes []pass.RawPass, count int) {
	t.Helper()
	require.Len(t, passes, count)
	for i := 1; i < len(passes); i++ {
		assert.True(t, passes[i].RiseTime.After(passes[i-1].RiseTime), "rise times must increase at %d", i)
	}
}

// ---------------------------------------------------------------------------
// Live fetches
// ---------------------------------------------------------------------------

func TestFetchLive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "48.8566", r.URL.Query().Get("lat"))
		assert.Equal(t, "2.3522", r.URL.Query().Get("lon"))
		assert.Equal(t, "3", r.URL.Query().Get("n"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(successPayload(3))
	}))
	defer srv.Close()

	s := newTestSource(t, srv.URL)
	passes, status := s.Fetch(context.Background(), 48.8566, 2.3522, 3)

	assert.Equal(t, "live", status.String())
	require.Len(t, passes, 3)
	assert.Equal(t, time.Unix(1717221600, 0).UTC(), passes[0].RiseTime)
	assert.Equal(t, 300, passes[0].DurationSeconds)
	assert.Equal(t, 302, passes[2].DurationSeconds)
}

func TestFetchLiveTruncatesToRequestedCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(successPayload(10))
	}))
	defer srv.Close()

	passes, status := newTestSource(t, srv.URL).Fetch(context.Background(), 10, 10, 4)
	assert.True(t, status.IsLive())
	assert.Len(t, passes, 4)
}

func TestFetchDropsMalformedRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"success","response":[
			{"risetime":1717221600,"duration":120},
			{"risetime":1717230000},
			{"duration":50},
			"garbage",
			{"risetime":"soon","duration":60},
			{"risetime":1717240000,"duration":-5},
			{"risetime":1717250000,"duration":480}
		]}`))
	}))
	defer srv.Close()

	passes, status := newTestSource(t, srv.URL).Fetch(context.Background(), 0, 0, 100)
	assert.True(t, status.IsLive())
	require.Len(t, passes, 2)
	assert.Equal(t, 120, passes[0].DurationSeconds)
	assert.Equal(t, 480, passes[1].DurationSeconds)
}

// ---------------------------------------------------------------------------
// Failover
// ---------------------------------------------------------------------------

func TestFetchFallbackOnHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	passes, status := newTestSource(t, srv.URL).Fetch(context.Background(), 48.8566, 2.3522, 25)
	assert.Equal(t, "fallback: http 503", status.String())
	assertFallbackShape(t, passes, 25)
}

func TestFetchFallbackOnPayloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"message": "failure", "reason": "Latitude must be number between -90.0 and 90.0"})
	}))
	defer srv.Close()

	passes, status := newTestSource(t, srv.URL).Fetch(context.Background(), 1, 1, 5)
	assert.Equal(t, "fallback: Latitude must be number between -90.0 and 90.0", status.String())
	assertFallbackShape(t, passes, 5)
}

func TestFetchFallbackOnPayloadFailureWithoutReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"message": "failure"})
	}))
	defer srv.Close()

	_, status := newTestSource(t, srv.URL).Fetch(context.Background(), 1, 1, 5)
	assert.Equal(t, "fallback: unknown", status.String())
}

func TestFetchFallbackOnMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	passes, status := newTestSource(t, srv.URL).Fetch(context.Background(), 1, 1, 7)
	assert.Equal(t, "fallback: malformed payload", status.String())
	assertFallbackShape(t, passes, 7)
}

func TestFetchFallbackOnConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	passes, status := newTestSource(t, url).Fetch(context.Background(), 1, 1, 100)
	assert.Equal(t, "fallback: connection error", status.String())
	assertFallbackShape(t, passes, 100)
}

func TestFetchFallbackOnTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	s := newTestSource(t, srv.URL, func(o *Options) { o.Timeout = 50 * time.Millisecond })

	start := time.Now()
	passes, status := s.Fetch(context.Background(), 1, 1, 3)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "fallback: connection error", status.String())
	assertFallbackShape(t, passes, 3)
}

func TestFetchInvalidLocationSkipsRemote(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	passes, status := newTestSource(t, srv.URL).Fetch(context.Background(), 91, 0, 4)
	assert.Equal(t, "fallback: invalid location", status.String())
	assertFallbackShape(t, passes, 4)
	assert.Zero(t, hits.Load())
}

func TestFetchOffline(t *testing.T) {
	s := newTestSource(t, "http://127.0.0.1:1", func(o *Options) { o.Offline = true })
	passes, status := s.Fetch(context.Background(), 48.8566, 2.3522, 10)
	assert.Equal(t, "fallback: offline mode", status.String())
	assertFallbackShape(t, passes, 10)
}

func TestFetchClampsCount(t *testing.T) {
	s := newTestSource(t, "", func(o *Options) { o.Offline = true })

	passes, _ := s.Fetch(context.Background(), 0, 0, 0)
	assert.Len(t, passes, 1)

	passes, _ = s.Fetch(context.Background(), 0, 0, 500)
	assert.Len(t, passes, pass.MaxCount)
}

// ---------------------------------------------------------------------------
// Caching
// ---------------------------------------------------------------------------

func TestFetchCachesLiveResultsPerLocation(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(successPayload(3))
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	s := newTestSource(t, srv.URL, func(o *Options) { o.Metrics = m })
	ctx := context.Background()

	first, _ := s.Fetch(ctx, 48.8566, 2.3522, 3)
	second, status := s.Fetch(ctx, 48.8566, 2.3522, 3)

	assert.Equal(t, int32(1), hits.Load())
	assert.True(t, status.IsLive())
	assert.Equal(t, first, second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Fetches.WithLabelValues("live")))
}

func TestFetchLocationChangeInvalidatesCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(successPayload(2))
	}))
	defer srv.Close()

	s := newTestSource(t, srv.URL)
	ctx := context.Background()

	s.Fetch(ctx, 48.8566, 2.3522, 2)
	s.Fetch(ctx, 40.7128, -74.006, 2)
	s.Fetch(ctx, 48.8566, 2.3522, 2)

	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, 1, s.cache.Len())
}

func TestFetchDoesNotCacheFallbacks(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(successPayload(2))
	}))
	defer srv.Close()

	s := newTestSource(t, srv.URL)
	_, first := s.Fetch(context.Background(), 5, 5, 2)
	_, second := s.Fetch(context.Background(), 5, 5, 2)

	assert.Equal(t, "fallback: http 502", first.String())
	assert.Equal(t, "live", second.String())
}

func TestInvalidateForcesRemoteCall(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(successPayload(1))
	}))
	defer srv.Close()

	s := newTestSource(t, srv.URL)
	s.Fetch(context.Background(), 5, 5, 1)
	s.Invalidate()
	s.Fetch(context.Background(), 5, 5, 1)

	assert.Equal(t, int32(2), hits.Load())
}

func TestValidLocation(t *testing.T) {
	tests := []struct {
		lat, lon float64
		want     bool
	}{
		{0, 0, true},
		{90, 180, true},
		{-90, -180, true},
		{90.01, 0, false},
		{0, -180.5, false},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%v,%v", tc.lat, tc.lon), func(t *testing.T) {
			assert.Equal(t, tc.want, ValidLocation(tc.lat, tc.lon))
		})
	}
}
