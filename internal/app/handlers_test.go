package app

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/passwatch/internal/config"
	"github.com/large-farva/passwatch/internal/locate"
	"github.com/large-farva/passwatch/internal/rank"
	"github.com/large-farva/passwatch/internal/trajectory"
)

func noEnv(string) string { return "" }

// newTestApp builds an offline App whose geocoder talks to a stub that knows
// a single address.
func newTestApp(t *testing.T, configPath string, mutate func(*config.Config)) *App {
	t.Helper()

	nominatim := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("q") == "Sydney Opera House" {
			_, _ = w.Write([]byte(`[{"lat":"-33.8568","lon":"151.2153","display_name":"Sydney Opera House"}]`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(nominatim.Close)

	cfg := config.Default()
	cfg.Source.Offline = true
	cfg.Scheduler.Enabled = false
	cfg.Geocode.URL = nominatim.URL
	if mutate != nil {
		mutate(&cfg)
	}

	a, err := New(Options{
		Cfg:        cfg,
		ConfigPath: configPath,
		Registry:   prometheus.NewRegistry(),
		Rand:       rand.NewPCG(7, 11),
		Getenv:     noEnv,
	})
	require.NoError(t, err)
	return a
}

func do(t *testing.T, a *App, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealthz(t *testing.T) {
	a := newTestApp(t, "", nil)

	rec := do(t, a, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Accept", "application/json")
	rec = httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Healthy bool           `json:"healthy"`
		Checks  map[string]any `json:"checks"`
	}
	decode(t, rec, &body)
	assert.True(t, body.Healthy)
	assert.Contains(t, body.Checks, "source")
}

func TestStatusAndVersion(t *testing.T) {
	a := newTestApp(t, "", nil)

	rec := do(t, a, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	decode(t, rec, &status)
	assert.Equal(t, "BOOTING", status["state"])
	assert.Equal(t, true, status["offline"])
	assert.Equal(t, map[string]any{"enabled": false}, status["scheduler"])

	rec = do(t, a, http.MethodGet, "/api/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var version map[string]string
	decode(t, rec, &version)
	assert.Equal(t, Version, version["version"])
	assert.NotEmpty(t, version["go_version"])
}

func TestRankWithCoordinates(t *testing.T) {
	a := newTestApp(t, "", nil)

	rec := do(t, a, http.MethodGet, "/api/rank?lat=51.5&lon=-0.12&count=12&min_duration=60&slot=any", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Location locate.Position `json:"location"`
		Result   rank.Result     `json:"result"`
	}
	decode(t, rec, &body)
	assert.Equal(t, locate.OriginCoordinates, body.Location.Origin)
	assert.Equal(t, 51.5, body.Result.Request.Latitude)
	assert.Equal(t, 12, body.Result.RawCount)
	assert.Equal(t, 60, body.Result.Request.MinDurationSeconds)
	assert.NotEmpty(t, body.Result.ID)
	assert.LessOrEqual(t, body.Result.ObservableCount, body.Result.FilteredCount)
	assert.Len(t, body.Result.Ranked, body.Result.ObservableCount)
	for i, p := range body.Result.Ranked {
		assert.Equal(t, i+1, p.Rank)
		assert.True(t, p.Weather.Observable())
	}
}

func TestRankWithAddress(t *testing.T) {
	a := newTestApp(t, "", nil)

	rec := do(t, a, http.MethodGet, "/api/rank?address=Sydney+Opera+House&count=3", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Location locate.Position `json:"location"`
		Result   rank.Result     `json:"result"`
	}
	decode(t, rec, &body)
	assert.Equal(t, locate.OriginAddress, body.Location.Origin)
	assert.InDelta(t, -33.8568, body.Result.Request.Latitude, 1e-9)
	assert.Equal(t, 3, body.Result.RawCount)
}

func TestRankRejectsBadParameters(t *testing.T) {
	a := newTestApp(t, "", nil)

	for name, target := range map[string]string{
		"count too large":   "/api/rank?count=500",
		"count not numeric": "/api/rank?count=lots",
		"unknown slot":      "/api/rank?slot=noon",
		"lat without lon":   "/api/rank?lat=10",
		"lat out of range":  "/api/rank?lat=95&lon=0",
		"bad start date":    "/api/rank?start=01/06/2024",
		"negative duration": "/api/rank?min_duration=-5",
		"zero min duration": "/api/rank?min_duration=0",
		"zero count":        "/api/rank?count=0",
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(t, a, http.MethodGet, target, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			var body map[string]any
			decode(t, rec, &body)
			assert.Equal(t, false, body["ok"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestLatestRequiresScheduler(t *testing.T) {
	a := newTestApp(t, "", nil)
	assert.Equal(t, http.StatusConflict, do(t, a, http.MethodGet, "/api/latest", "").Code)
	assert.Equal(t, http.StatusConflict, do(t, a, http.MethodPost, "/api/refresh", "").Code)
	assert.Equal(t, http.StatusConflict, do(t, a, http.MethodPost, "/api/relocate", `{"latitude":1,"longitude":2}`).Code)

	b := newTestApp(t, "", func(c *config.Config) { c.Scheduler.Enabled = true })
	assert.Equal(t, http.StatusNotFound, do(t, b, http.MethodGet, "/api/latest", "").Code)
}

func TestRelocateValidatesBody(t *testing.T) {
	a := newTestApp(t, "", func(c *config.Config) { c.Scheduler.Enabled = true })

	for name, body := range map[string]string{
		"empty":           `{}`,
		"latitude only":   `{"latitude":10}`,
		"out of range":    `{"latitude":120,"longitude":0}`,
		"unknown address": `{"address":"Atlantis"}`,
		"not json":        `nope`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(t, a, http.MethodPost, "/api/relocate", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestTrajectory(t *testing.T) {
	a := newTestApp(t, "", nil)

	rec := do(t, a, http.MethodGet, "/api/trajectory?lat=10&lon=20&duration=330", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var path trajectory.Path
	decode(t, rec, &path)
	assert.Len(t, path.Points, trajectory.Points)
	assert.Equal(t, 330, path.DurationSeconds)
	assert.Equal(t, "Simulated pass (5m 30s)", path.Label)

	// Nothing ranked yet, so there is no best pass to borrow a duration from.
	assert.Equal(t, http.StatusBadRequest, do(t, a, http.MethodGet, "/api/trajectory", "").Code)
}

func TestTrajectoryKeepsEquatorHome(t *testing.T) {
	a := newTestApp(t, "", func(c *config.Config) {
		c.Scheduler.Enabled = true
		c.Station.Latitude = 0
		c.Station.Longitude = 0
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.scheduler.Run(ctx, a.transition)

	require.Eventually(t, func() bool {
		_, ok := a.scheduler.Home()
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	// The watcher's home is (0, 0). A later station change must not leak
	// into the trajectory until the next refresh.
	a.resolver.SetStation(locate.Station{Lat: 45, Lon: 7})

	rec := do(t, a, http.MethodGet, "/api/trajectory?duration=120", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var path trajectory.Path
	decode(t, rec, &path)
	assert.Equal(t, trajectory.Point{Lat: 0, Lon: 0}, path.Observer)
}

func TestGeocode(t *testing.T) {
	a := newTestApp(t, "", nil)

	assert.Equal(t, http.StatusBadRequest, do(t, a, http.MethodGet, "/api/geocode", "").Code)

	rec := do(t, a, http.MethodGet, "/api/geocode?q=Sydney+Opera+House", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var found struct {
		OK       bool `json:"ok"`
		Location struct {
			Lat float64 `json:"lat"`
		} `json:"location"`
	}
	decode(t, rec, &found)
	assert.True(t, found.OK)
	assert.InDelta(t, -33.8568, found.Location.Lat, 1e-9)

	rec = do(t, a, http.MethodGet, "/api/geocode?q=Atlantis", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &found)
	assert.False(t, found.OK)
}

func TestReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwatch.toml")
	a := newTestApp(t, path, nil)

	require.NoError(t, os.WriteFile(path, []byte(`
[station]
latitude = 40.7128
longitude = -74.006
timezone = "America/New_York"

[source]
offline = true

[filter]
min_duration_seconds = 90
time_slot = "dusk"
`), 0o644))

	rec := do(t, a, http.MethodPost, "/api/reload", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cfg := a.getConfig()
	assert.Equal(t, 90, cfg.Filter.MinDurationSeconds)
	assert.Equal(t, "America/New_York", cfg.Station.Timezone)
	assert.Equal(t, 40.7128, a.resolver.Station().Lat)
	assert.Equal(t, "America/New_York", a.pipeline.Load().Location().String())

	rec = do(t, a, http.MethodGet, "/api/rank?count=5", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Result rank.Result `json:"result"`
	}
	decode(t, rec, &body)
	assert.Equal(t, rank.SlotDusk, body.Result.Request.Slot)
	assert.Equal(t, 90, body.Result.Request.MinDurationSeconds)
}

func TestReloadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwatch.toml")
	a := newTestApp(t, path, nil)
	require.NoError(t, os.WriteFile(path, []byte("[station]\nlatitude = 123\n"), 0o644))

	rec := do(t, a, http.MethodPost, "/api/reload", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, config.Default().Station.Latitude, a.getConfig().Station.Latitude)
}

func TestReloadKeepsOfflineOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwatch.toml")
	require.NoError(t, os.WriteFile(path, []byte("[source]\noffline = false\n"), 0o644))

	cfg := config.Default()
	cfg.Scheduler.Enabled = false
	a, err := New(Options{
		Cfg:        cfg,
		ConfigPath: path,
		Registry:   prometheus.NewRegistry(),
		Rand:       rand.NewPCG(7, 11),
		Getenv:     noEnv,
		Offline:    true,
	})
	require.NoError(t, err)
	require.True(t, a.getConfig().Source.Offline)

	rec := do(t, a, http.MethodPost, "/api/reload", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, a.getConfig().Source.Offline)

	rec = do(t, a, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	decode(t, rec, &status)
	assert.Equal(t, true, status["offline"])
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Station.Latitude = 123
	_, err := New(Options{Cfg: cfg, Registry: prometheus.NewRegistry(), Getenv: noEnv})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "station.latitude")
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestApp(t, "", nil)
	require.Equal(t, http.StatusOK, do(t, a, http.MethodGet, "/api/rank?lat=1&lon=1&count=2", "").Code)

	rec := do(t, a, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "passwatch_fetch_total")
	assert.Contains(t, rec.Body.String(), "passwatch_pipeline_duration_seconds")
}
