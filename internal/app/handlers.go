package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/large-farva/passwatch/internal/config"
	"github.com/large-farva/passwatch/internal/locate"
	"github.com/large-farva/passwatch/internal/rank"
	"github.com/large-farva/passwatch/internal/scheduler"
	"github.com/large-farva/passwatch/internal/trajectory"
)

// Router builds the daemon's HTTP routes.
func (a *App) Router() http.Handler {
	cfg := a.getConfig()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/healthz", a.handleHealthz)
	r.Handle("/metrics", a.metrics.Handler())
	r.Handle("/ws", a.wsHub.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", a.handleStatus)
		r.Get("/version", a.handleVersion)
		r.Get("/config", a.handleConfig)
		r.Get("/rank", a.handleRank)
		r.Get("/latest", a.handleLatest)
		r.Get("/trajectory", a.handleTrajectory)
		r.Get("/geocode", a.handleGeocode)

		r.Post("/refresh", a.handleSchedulerCommand(scheduler.CmdRefresh))
		r.Post("/pause", a.handleSchedulerCommand(scheduler.CmdPause))
		r.Post("/resume", a.handleSchedulerCommand(scheduler.CmdResume))
		r.Post("/relocate", a.handleRelocate)
		r.Post("/reload", a.handleReload)
	})
	return r
}

// ---------------------------------------------------------------------------
// Core handlers
// ---------------------------------------------------------------------------

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	// If the client asks for JSON, return component-level health checks.
	if r.Header.Get("Accept") == "application/json" {
		a.handleHealthDetailed(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *App) handleHealthDetailed(w http.ResponseWriter, _ *http.Request) {
	cfg := a.getConfig()

	checks := map[string]any{}
	allOK := true

	if cfg.Source.Offline {
		checks["source"] = map[string]any{"ok": true, "mode": "offline"}
	} else {
		checks["source"] = map[string]any{"ok": true, "mode": "live", "url": cfg.Source.URL}
	}

	if a.scheduler != nil {
		last := a.scheduler.LastRun()
		stale := 2 * a.scheduler.Interval()
		switch {
		case a.scheduler.IsPaused():
			checks["scheduler"] = map[string]any{"ok": true, "paused": true}
		case last.IsZero():
			checks["scheduler"] = map[string]any{"ok": true, "error": "no ranking yet"}
		case time.Since(last) > stale:
			checks["scheduler"] = map[string]any{"ok": false, "error": "last ranking is stale", "age_s": int(time.Since(last).Seconds())}
			allOK = false
		default:
			checks["scheduler"] = map[string]any{"ok": true, "age_s": int(time.Since(last).Seconds())}
		}
	}

	// Config file readable.
	if a.configPath != "" {
		if _, err := os.Stat(a.configPath); err != nil {
			checks["config_file"] = map[string]any{"ok": false, "error": err.Error()}
			allOK = false
		} else {
			checks["config_file"] = map[string]any{"ok": true, "path": a.configPath}
		}
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy": allOK,
		"checks":  checks,
	})
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := a.getConfig()
	st := a.resolver.Station()

	resp := map[string]any{
		"name":           "passwatch",
		"state":          a.currentState(),
		"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
		"station": map[string]any{
			"lat":      st.Lat,
			"lon":      st.Lon,
			"timezone": cfg.Station.Timezone,
			"use_gpsd": st.UseGPSD,
		},
		"offline":    cfg.Source.Offline,
		"ws_clients": a.wsHub.Clients(),
	}

	sched := map[string]any{"enabled": a.scheduler != nil}
	if a.scheduler != nil {
		sched["paused"] = a.scheduler.IsPaused()
		sched["refresh_minutes"] = int(a.scheduler.Interval().Minutes())
		if last := a.scheduler.LastRun(); !last.IsZero() {
			sched["last_run"] = last.Format(time.RFC3339)
		}
		if res, ok := a.scheduler.Latest(); ok {
			latest := map[string]any{
				"id":               res.ID,
				"source":           res.SourceStatus,
				"observable_count": res.ObservableCount,
				"summary":          res.Summary,
			}
			if best, ok := res.Best(); ok {
				latest["best"] = best
			}
			resp["latest"] = latest
		}
		if home, ok := a.scheduler.Home(); ok {
			resp["home"] = home
		}
	}
	resp["scheduler"] = sched

	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	goVersion := GoVersion
	if goVersion == "unknown" {
		goVersion = runtime.Version()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    Version,
		"go_version": goVersion,
		"built_at":   BuiltAt,
	})
}

func (a *App) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.getConfig())
}

// ---------------------------------------------------------------------------
// Ranking
// ---------------------------------------------------------------------------

func (a *App) handleRank(w http.ResponseWriter, r *http.Request) {
	cfg := a.getConfig()
	q := r.URL.Query()

	lq, err := parseLocationQuery(q.Get("lat"), q.Get("lon"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	lq.Address = strings.TrimSpace(q.Get("address"))

	req := templateFromConfig(cfg)
	if v := q.Get("min_duration"); v != "" {
		if req.MinDurationSeconds, err = positiveInt("min_duration", v); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("count"); v != "" {
		if req.Count, err = positiveInt("count", v); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("slot"); v != "" {
		if req.Slot, err = rank.ParseTimeSlot(v); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("start"); v != "" {
		tz, _ := cfg.Station.Location()
		if req.StartDate, err = time.ParseInLocation(time.DateOnly, v, tz); err != nil {
			jsonError(w, "start must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}

	pos := a.resolver.Resolve(r.Context(), lq)
	req.Latitude, req.Longitude = pos.Lat, pos.Lon
	if cfg.Logging.Debug() {
		a.log.Printf("debug: rank %q resolved to %.4f, %.4f via %s", r.URL.RawQuery, pos.Lat, pos.Lon, pos.Origin)
	}

	res, err := a.pipeline.Run(r.Context(), req)
	if errors.Is(err, rank.ErrInvalidRequest) {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"location": pos,
		"result":   res,
	})
}

func (a *App) handleLatest(w http.ResponseWriter, _ *http.Request) {
	if a.scheduler == nil {
		jsonError(w, "scheduler disabled", http.StatusConflict)
		return
	}
	res, ok := a.scheduler.Latest()
	if !ok {
		jsonError(w, "no ranking yet", http.StatusNotFound)
		return
	}
	resp := map[string]any{"result": res}
	if home, ok := a.scheduler.Home(); ok {
		resp["location"] = home
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTrajectory draws a track for the given position and duration. Missing
// values come from the latest ranking's home position and best pass.
func (a *App) handleTrajectory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lq, err := parseLocationQuery(q.Get("lat"), q.Get("lon"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	lat, lon := 0.0, 0.0
	haveHome := false
	duration := 0
	if a.scheduler != nil {
		if home, ok := a.scheduler.Home(); ok {
			lat, lon = home.Lat, home.Lon
			haveHome = true
		}
		if res, ok := a.scheduler.Latest(); ok {
			if best, ok := res.Best(); ok {
				duration = best.DurationSeconds
			}
		}
	}
	if lq.Lat != nil && lq.Lon != nil {
		lat, lon = *lq.Lat, *lq.Lon
	} else if !haveHome {
		st := a.resolver.Station()
		lat, lon = st.Lat, st.Lon
	}
	if v := q.Get("duration"); v != "" {
		if duration, err = strconv.Atoi(v); err != nil || duration < 0 {
			jsonError(w, "duration must be a non-negative integer", http.StatusBadRequest)
			return
		}
	}
	if duration == 0 {
		jsonError(w, "duration required: no ranked pass to default to", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, trajectory.Simulate(lat, lon, duration, nil))
}

func (a *App) handleGeocode(w http.ResponseWriter, r *http.Request) {
	addr := strings.TrimSpace(r.URL.Query().Get("q"))
	if addr == "" {
		jsonError(w, "q parameter required", http.StatusBadRequest)
		return
	}
	loc, ok := a.geocoder.Geocode(r.Context(), addr)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       ok,
		"location": loc,
	})
}

// ---------------------------------------------------------------------------
// Scheduler controls + reload
// ---------------------------------------------------------------------------

func (a *App) handleSchedulerCommand(cmd string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.scheduler == nil {
			jsonError(w, "scheduler disabled", http.StatusConflict)
			return
		}
		writeCommandResult(w, a.sendSchedulerCommand(r.Context(), cmd, nil))
	}
}

func (a *App) handleRelocate(w http.ResponseWriter, r *http.Request) {
	if a.scheduler == nil {
		jsonError(w, "scheduler disabled", http.StatusConflict)
		return
	}

	var body struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Address   string   `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	var payload scheduler.RelocatePayload
	switch {
	case strings.TrimSpace(body.Address) != "":
		loc, ok := a.geocoder.Geocode(r.Context(), body.Address)
		if !ok {
			jsonError(w, loc.DisplayName, http.StatusBadRequest)
			return
		}
		payload = scheduler.RelocatePayload{Latitude: loc.Lat, Longitude: loc.Lon}
	case body.Latitude != nil && body.Longitude != nil:
		payload = scheduler.RelocatePayload{Latitude: *body.Latitude, Longitude: *body.Longitude}
	default:
		jsonError(w, "latitude and longitude, or address, required", http.StatusBadRequest)
		return
	}
	if !validLatLon(payload.Latitude, payload.Longitude) {
		jsonError(w, fmt.Sprintf("invalid location %.4f, %.4f", payload.Latitude, payload.Longitude), http.StatusBadRequest)
		return
	}

	writeCommandResult(w, a.sendSchedulerCommand(r.Context(), scheduler.CmdRelocate, payload))
}

func (a *App) handleReload(w http.ResponseWriter, r *http.Request) {
	if a.configPath == "" {
		jsonError(w, "no config file path set", http.StatusInternalServerError)
		return
	}

	newCfg, err := config.LoadOrDefault(a.configPath, a.getenv)
	if err != nil {
		jsonError(w, "config reload failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	a.applyOverrides(&newCfg)
	loc, err := newCfg.Station.Location()
	if err != nil {
		jsonError(w, "config reload failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	a.cfgMu.Lock()
	a.cfg = newCfg
	a.cfgMu.Unlock()
	a.pipeline.Store(a.buildPipeline(newCfg, loc, nil))

	if a.scheduler != nil {
		res := a.sendSchedulerCommand(r.Context(), scheduler.CmdReload, scheduler.ReloadPayload{
			Station:  stationFromConfig(newCfg),
			Template: templateFromConfig(newCfg),
			Interval: time.Duration(newCfg.Scheduler.RefreshMinutes) * time.Minute,
		})
		if !res.OK {
			writeCommandResult(w, res)
			return
		}
	} else {
		a.resolver.SetStation(stationFromConfig(newCfg))
	}

	a.emitLog("info", fmt.Sprintf("config reloaded from %s", a.configPath))
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": "configuration reloaded from " + a.configPath,
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// sendSchedulerCommand sends a command to the scheduler and waits for the
// reply, giving up after a few seconds.
func (a *App) sendSchedulerCommand(ctx context.Context, cmd string, payload any) scheduler.CommandResult {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return a.scheduler.Send(ctx, cmd, payload)
}

// parseLocationQuery reads optional lat/lon query values. Both or neither
// must be given.
func parseLocationQuery(latStr, lonStr string) (locate.Query, error) {
	var q locate.Query
	if latStr == "" && lonStr == "" {
		return q, nil
	}
	if latStr == "" || lonStr == "" {
		return q, errors.New("lat and lon must be given together")
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return q, errors.New("lat must be a number")
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return q, errors.New("lon must be a number")
	}
	if !validLatLon(lat, lon) {
		return q, fmt.Errorf("invalid location %.4f, %.4f", lat, lon)
	}
	q.Lat, q.Lon = &lat, &lon
	return q, nil
}

// positiveInt parses an explicit query value that must be at least 1. Zero is
// rejected here because the pipeline reads a zero field as "use the default".
func positiveInt(name, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if n < 1 {
		return 0, fmt.Errorf("%s must be >= 1, got %d", name, n)
	}
	return n, nil
}

func validLatLon(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]any{
		"ok":    false,
		"error": msg,
	})
}

// writeCommandResult writes a scheduler.CommandResult as JSON.
func writeCommandResult(w http.ResponseWriter, result scheduler.CommandResult) {
	status := http.StatusOK
	if !result.OK {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}
