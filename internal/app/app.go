// Package app wires together the HTTP server, WebSocket hub, ranking
// pipeline, and the watch scheduler. It owns the daemon's lifecycle and is
// the single source of truth for the current operating state.
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/large-farva/passwatch/internal/config"
	"github.com/large-farva/passwatch/internal/geocode"
	"github.com/large-farva/passwatch/internal/locate"
	"github.com/large-farva/passwatch/internal/metrics"
	"github.com/large-farva/passwatch/internal/rank"
	"github.com/large-farva/passwatch/internal/scheduler"
	"github.com/large-farva/passwatch/internal/source"
	"github.com/large-farva/passwatch/internal/telemetry"
	"github.com/large-farva/passwatch/internal/ws"
)

const component = "passwatchd"

// Options holds everything the App needs from the caller.
type Options struct {
	Logger     *log.Logger
	Cfg        config.Config
	ConfigPath string
	Bind       string

	// Registry receives the daemon's metrics. Nil uses a fresh registry.
	Registry *prometheus.Registry

	// Rand seeds the synthetic passes and the weather draws. Nil seeds from
	// the clock.
	Rand rand.Source

	// Getenv feeds environment overrides on reload. Nil uses os.Getenv.
	Getenv func(string) string

	// Offline forces synthetic passes regardless of the config file. It
	// survives config reloads.
	Offline bool
}

// App is the top-level daemon process. It manages the HTTP server, the
// WebSocket event hub, the ranking pipeline, and the watch scheduler.
type App struct {
	log        *log.Logger
	cfgMu      sync.RWMutex
	cfg        config.Config
	configPath string
	getenv     func(string) string
	offline    bool
	bind       string
	server     *http.Server

	startedAt time.Time
	state     atomic.Value // current state string (BOOTING, WATCHING, etc.)

	wsHub     *ws.Hub
	registry  *prometheus.Registry
	metrics   *metrics.Collector
	source    *source.Source
	pipeline  *pipelineRef
	geocoder  *geocode.Client
	resolver  *locate.Resolver
	scheduler *scheduler.Runner // nil when the scheduler is disabled
}

// New builds an App in the BOOTING state. Call Run to start serving.
func New(opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	cfg := opts.Cfg
	if opts.Offline {
		cfg.Source.Offline = true
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	loc, err := cfg.Station.Location()
	if err != nil {
		return nil, fmt.Errorf("station timezone: %w", err)
	}

	var genSrc, weatherSrc rand.Source
	if opts.Rand != nil {
		r := rand.New(opts.Rand)
		genSrc = rand.NewPCG(r.Uint64(), r.Uint64())
		weatherSrc = rand.NewPCG(r.Uint64(), r.Uint64())
	}

	src := source.New(source.Options{
		URL:       cfg.Source.URL,
		Timeout:   cfg.Source.Timeout(),
		CacheTTL:  cfg.Source.CacheTTL(),
		Offline:   cfg.Source.Offline,
		Generator: source.NewGenerator(genSrc),
		Logger:    logger,
		Metrics:   m,
	})
	geo := geocode.New(geocode.Options{
		URL:       cfg.Geocode.URL,
		UserAgent: cfg.Geocode.UserAgent,
		Timeout:   time.Duration(cfg.Geocode.TimeoutSeconds) * time.Second,
		Logger:    logger,
	})

	a := &App{
		log:        logger,
		cfg:        cfg,
		configPath: opts.ConfigPath,
		getenv:     opts.Getenv,
		offline:    opts.Offline,
		bind:       opts.Bind,
		startedAt:  time.Now(),
		wsHub:      ws.NewHub(cfg.Server.CORSOrigins),
		registry:   reg,
		metrics:    m,
		source:     src,
		pipeline:   &pipelineRef{},
		geocoder:   geo,
		resolver:   locate.NewResolver(stationFromConfig(cfg), geo, logger),
	}
	a.pipeline.Store(a.buildPipeline(cfg, loc, weatherSrc))
	if cfg.Scheduler.Enabled {
		a.scheduler = scheduler.New(scheduler.Options{
			Ranker:      a.pipeline,
			Locator:     a.resolver,
			Invalidator: a.source,
			Hub:         a.wsHub,
			Logger:      logger,
			Template:    templateFromConfig(cfg),
			Interval:    time.Duration(cfg.Scheduler.RefreshMinutes) * time.Minute,
		})
	}
	a.state.Store("BOOTING")
	return a, nil
}

// buildPipeline assembles a pipeline over the shared source for the weather
// and time zone settings in cfg. A nil rnd seeds the weather from the clock.
func (a *App) buildPipeline(cfg config.Config, loc *time.Location, rnd rand.Source) *rank.Pipeline {
	proc := rank.NewProcessor(rank.NewWeatherSimulator(rnd, cfg.Weather), loc)
	return rank.NewPipeline(a.source, proc, a.log, a.metrics)
}

// applyOverrides re-applies command-line settings that outrank the config
// file.
func (a *App) applyOverrides(cfg *config.Config) {
	if a.offline {
		cfg.Source.Offline = true
	}
}

// pipelineRef lets a reload swap the pipeline under running callers.
type pipelineRef struct {
	atomic.Pointer[rank.Pipeline]
}

func (p *pipelineRef) Run(ctx context.Context, req rank.Request) (rank.Result, error) {
	return p.Load().Run(ctx, req)
}

func stationFromConfig(cfg config.Config) locate.Station {
	return locate.Station{
		Lat:      cfg.Station.Latitude,
		Lon:      cfg.Station.Longitude,
		UseGPSD:  cfg.Station.UseGPSD,
		GPSDHost: cfg.Station.GPSDHost,
	}
}

// templateFromConfig builds the default request for the home station.
func templateFromConfig(cfg config.Config) rank.Request {
	slot, _ := rank.ParseTimeSlot(cfg.Filter.TimeSlot)
	return rank.Request{
		MinDurationSeconds: cfg.Filter.MinDurationSeconds,
		Slot:               slot,
		Count:              cfg.Source.PassCount,
	}
}

// Run starts the HTTP server, WebSocket hub, heartbeat ticker, and the
// scheduler. It blocks until the context is cancelled or the server returns
// an error.
func (a *App) Run(ctx context.Context) error {
	bind := a.bind
	if bind == "" {
		bind = a.getConfig().Server.Bind
	}
	if bind == "" {
		bind = "0.0.0.0:8080"
	}

	a.server = &http.Server{
		Addr:              bind,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}

	a.log.Printf("listening on http://%s", bind)

	go a.wsHub.Run(ctx)
	a.transition(scheduler.StateIdle)
	go a.heartbeatLoop(ctx)

	if a.scheduler != nil {
		go a.scheduler.Run(ctx, a.transition)
	} else {
		a.emitLog("info", "scheduler disabled, serving on-demand rankings only")
	}

	go func() {
		<-ctx.Done()
		a.log.Printf("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.server.Shutdown(shutdownCtx)
	}()

	if err := a.server.Serve(ln); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// transition atomically updates the daemon state and broadcasts the change
// to all connected WebSocket clients.
func (a *App) transition(newState string) {
	old := a.state.Swap(newState).(string)
	if old == newState {
		return
	}
	a.wsHub.BroadcastJSON(telemetry.NewStateTransition(component, old, newState))
}

// heartbeatLoop sends a periodic heartbeat event so clients can detect
// connectivity and track uptime without polling.
func (a *App) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.wsHub.BroadcastJSON(telemetry.NewHeartbeat(component, a.currentState(), time.Since(a.startedAt)))
		}
	}
}

func (a *App) currentState() string {
	return a.state.Load().(string)
}

func (a *App) getConfig() config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// emitLog writes a log line and pushes it to every connected WebSocket
// client.
func (a *App) emitLog(level, message string) {
	a.log.Printf("%s", message)
	a.wsHub.BroadcastJSON(telemetry.NewLog(component, level, message))
}
