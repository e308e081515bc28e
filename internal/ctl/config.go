package ctl

import (
	"fmt"
	"strings"

	"github.com/large-farva/passwatch/internal/config"
)

// Config fetches and displays the daemon's running configuration.
func Config(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var cfg config.Config
	if err := getJSON(baseURL, "/api/config", &cfg); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cfg)
	}

	fmt.Println()
	fmt.Println(header("  DAEMON CONFIGURATION"))
	fmt.Println(rule(50))

	section := func(name string) {
		fmt.Printf("\n  %s\n", colorize(bold, "["+name+"]"))
	}
	field := func(key string, val any) {
		fmt.Printf("    %-22s %v\n", colorize(dim, key+":"), val)
	}

	section("server")
	field("bind", cfg.Server.Bind)
	field("cors_origins", strings.Join(cfg.Server.CORSOrigins, ", "))

	section("logging")
	field("level", cfg.Logging.Level)

	section("station")
	field("latitude", cfg.Station.Latitude)
	field("longitude", cfg.Station.Longitude)
	field("timezone", cfg.Station.Timezone)
	field("use_gpsd", cfg.Station.UseGPSD)
	field("gpsd_host", cfg.Station.GPSDHost)

	section("source")
	field("url", cfg.Source.URL)
	field("timeout_seconds", cfg.Source.TimeoutSeconds)
	field("cache_ttl_seconds", cfg.Source.CacheTTLSeconds)
	field("pass_count", cfg.Source.PassCount)
	field("offline", cfg.Source.Offline)

	section("filter")
	field("min_duration_seconds", cfg.Filter.MinDurationSeconds)
	field("time_slot", cfg.Filter.TimeSlot)

	section("weather")
	field("clear", cfg.Weather.Clear)
	field("partly_cloudy", cfg.Weather.PartlyCloudy)
	field("overcast", cfg.Weather.Overcast)
	field("rainy", cfg.Weather.Rainy)

	section("geocode")
	field("url", cfg.Geocode.URL)
	field("user_agent", cfg.Geocode.UserAgent)
	field("timeout_seconds", cfg.Geocode.TimeoutSeconds)

	section("scheduler")
	field("enabled", cfg.Scheduler.Enabled)
	field("refresh_minutes", cfg.Scheduler.RefreshMinutes)

	section("tracing")
	field("enabled", cfg.Tracing.Enabled)
	field("exporter", cfg.Tracing.Exporter)
	field("endpoint", cfg.Tracing.Endpoint)
	field("service_name", cfg.Tracing.ServiceName)
	field("sample_ratio", cfg.Tracing.SampleRatio)

	fmt.Println()

	return nil
}
