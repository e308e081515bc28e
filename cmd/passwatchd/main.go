// Passwatchd is the passwatch daemon. It ranks upcoming ISS passes on demand
// over HTTP and keeps a watch on the home station, pushing fresh rankings and
// countdowns to WebSocket clients.
//
// Configuration comes from a TOML file, then a .env file, then PASSWATCH_*
// environment variables, then command-line flags. Shutdown is handled
// gracefully on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/large-farva/passwatch/internal/app"
	"github.com/large-farva/passwatch/internal/config"
	"github.com/large-farva/passwatch/internal/tracing"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "/etc/passwatch/passwatch.toml", "Path to config TOML")
		envFile    = pflag.String("env-file", ".env", "Optional dotenv file with PASSWATCH_* overrides")
		bind       = pflag.String("bind", "", "HTTP bind address (overrides server.bind)")
		offline    = pflag.Bool("offline", false, "Never call the remote pass service; use synthetic passes")
	)
	pflag.Parse()

	logger := log.New(os.Stdout, "passwatchd ", log.LstdFlags|log.Lmicroseconds)

	// A missing .env is normal; .env.local wins over the process environment.
	_ = godotenv.Load(*envFile)
	_ = godotenv.Overload(*envFile + ".local")

	cfg, err := config.LoadOrDefault(*configPath, os.Getenv)
	if err != nil {
		logger.Fatalf("config load failed: %v", err)
	}
	if _, err := os.Stat(*configPath); err != nil {
		logger.Printf("config: %s not readable (%v), running on defaults", *configPath, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, os.Stdout, logger)
	if err != nil {
		logger.Fatalf("tracing init failed: %v", err)
	}
	defer tracing.Shutdown(shutdownTracing, logger)

	a, err := app.New(app.Options{
		Logger:     logger,
		Cfg:        cfg,
		ConfigPath: *configPath,
		Bind:       *bind,
		Getenv:     os.Getenv,
		Offline:    *offline,
	})
	if err != nil {
		logger.Fatalf("startup failed: %v", err)
	}

	if err := a.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("passwatchd failed: %v", err)
		tracing.Shutdown(shutdownTracing, logger)
		os.Exit(1)
	}

	// Brief pause so in-flight log writes can flush before exit.
	time.Sleep(50 * time.Millisecond)
}
