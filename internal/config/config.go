// Package config handles loading, defaulting, and validation of the passwatch
// TOML configuration file. Every section maps to a typed struct so the rest
// of the codebase gets strong typing without manual key lookups.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // station time zones resolve without system zoneinfo

	"github.com/pelletier/go-toml/v2"

	"github.com/large-farva/passwatch/internal/pass"
	"github.com/large-farva/passwatch/internal/rank"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Server    ServerConfig    `toml:"server"    json:"server"`
	Logging   LoggingConfig   `toml:"logging"   json:"logging"`
	Station   StationConfig   `toml:"station"   json:"station"`
	Source    SourceConfig    `toml:"source"    json:"source"`
	Filter    FilterConfig    `toml:"filter"    json:"filter"`
	Weather   rank.Weights    `toml:"weather"   json:"weather"`
	Geocode   GeocodeConfig   `toml:"geocode"   json:"geocode"`
	Scheduler SchedulerConfig `toml:"scheduler" json:"scheduler"`
	Tracing   TracingConfig   `toml:"tracing"   json:"tracing"`
}

type ServerConfig struct {
	Bind        string   `toml:"bind"         json:"bind"`
	CORSOrigins []string `toml:"cors_origins" json:"cors_origins"`
}

type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
}

// Debug reports whether debug lines should be written.
func (l LoggingConfig) Debug() bool {
	return strings.EqualFold(l.Level, "debug")
}

type StationConfig struct {
	Latitude  float64 `toml:"latitude"  json:"latitude"`
	Longitude float64 `toml:"longitude" json:"longitude"`
	Timezone  string  `toml:"timezone"  json:"timezone"`
	UseGPSD   bool    `toml:"use_gpsd"  json:"use_gpsd"`
	GPSDHost  string  `toml:"gpsd_host" json:"gpsd_host"`
}

// Location loads the station time zone.
func (s StationConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

type SourceConfig struct {
	URL             string `toml:"url"               json:"url"`
	TimeoutSeconds  int    `toml:"timeout_seconds"   json:"timeout_seconds"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds" json:"cache_ttl_seconds"`
	PassCount       int    `toml:"pass_count"        json:"pass_count"`
	Offline         bool   `toml:"offline"           json:"offline"`
}

func (s SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (s SourceConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSeconds) * time.Second
}

type FilterConfig struct {
	MinDurationSeconds int    `toml:"min_duration_seconds" json:"min_duration_seconds"`
	TimeSlot           string `toml:"time_slot"            json:"time_slot"`
}

type GeocodeConfig struct {
	URL            string `toml:"url"             json:"url"`
	UserAgent      string `toml:"user_agent"      json:"user_agent"`
	TimeoutSeconds int    `toml:"timeout_seconds" json:"timeout_seconds"`
}

type SchedulerConfig struct {
	Enabled        bool `toml:"enabled"         json:"enabled"`
	RefreshMinutes int  `toml:"refresh_minutes" json:"refresh_minutes"`
}

type TracingConfig struct {
	Enabled     bool    `toml:"enabled"      json:"enabled"`
	Exporter    string  `toml:"exporter"     json:"exporter"`
	Endpoint    string  `toml:"endpoint"     json:"endpoint"`
	ServiceName string  `toml:"service_name" json:"service_name"`
	SampleRatio float64 `toml:"sample_ratio" json:"sample_ratio"`
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind:        "0.0.0.0:8080",
			CORSOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Station: StationConfig{
			Latitude:  48.8566,
			Longitude: 2.3522,
			Timezone:  "UTC",
			UseGPSD:   false,
			GPSDHost:  "localhost:2947",
		},
		Source: SourceConfig{
			URL:             "http://api.open-notify.org/iss-pass.json",
			TimeoutSeconds:  10,
			CacheTTLSeconds: 600,
			PassCount:       pass.MaxCount,
		},
		Filter: FilterConfig{
			MinDurationSeconds: rank.DefaultMinDurationSeconds,
			TimeSlot:           string(rank.SlotAny),
		},
		Weather: rank.DefaultWeights(),
		Geocode: GeocodeConfig{
			URL:            "https://nominatim.openstreetmap.org/search",
			UserAgent:      "passwatch",
			TimeoutSeconds: 10,
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			RefreshMinutes: 30,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "stdout",
			Endpoint:    "localhost:4317",
			ServiceName: "passwatchd",
			SampleRatio: 1.0,
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. An error is returned if the file can't be read,
// parsed, or if any constraint is violated.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
// Environment overrides are applied before validation either way.
func LoadOrDefault(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := ApplyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks every constraint on cfg.
func Validate(cfg Config) error {
	return validate(cfg)
}

func validate(cfg Config) error {
	if cfg.Server.Bind == "" {
		return errors.New("server.bind must not be empty")
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", cfg.Logging.Level)
	}
	if cfg.Station.Latitude < -90 || cfg.Station.Latitude > 90 {
		return errors.New("station.latitude must be between -90 and 90")
	}
	if cfg.Station.Longitude < -180 || cfg.Station.Longitude > 180 {
		return errors.New("station.longitude must be between -180 and 180")
	}
	if _, err := cfg.Station.Location(); err != nil {
		return fmt.Errorf("station.timezone: %w", err)
	}
	if cfg.Station.UseGPSD && cfg.Station.GPSDHost == "" {
		return errors.New("station.gpsd_host must not be empty when use_gpsd is set")
	}
	if cfg.Source.URL == "" {
		return errors.New("source.url must not be empty")
	}
	if cfg.Source.TimeoutSeconds < 1 || cfg.Source.TimeoutSeconds > 10 {
		return errors.New("source.timeout_seconds must be between 1 and 10")
	}
	if cfg.Source.CacheTTLSeconds < 0 {
		return errors.New("source.cache_ttl_seconds must be >= 0")
	}
	if cfg.Source.PassCount < 1 || cfg.Source.PassCount > pass.MaxCount {
		return fmt.Errorf("source.pass_count must be between 1 and %d", pass.MaxCount)
	}
	if cfg.Filter.MinDurationSeconds < 1 {
		return errors.New("filter.min_duration_seconds must be >= 1")
	}
	if _, err := rank.ParseTimeSlot(cfg.Filter.TimeSlot); err != nil {
		return fmt.Errorf("filter.time_slot: %w", err)
	}
	if err := cfg.Weather.Validate(); err != nil {
		return fmt.Errorf("weather: %w", err)
	}
	if cfg.Geocode.TimeoutSeconds < 1 {
		return errors.New("geocode.timeout_seconds must be >= 1")
	}
	if cfg.Scheduler.RefreshMinutes < 1 {
		return errors.New("scheduler.refresh_minutes must be >= 1")
	}
	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Exporter {
		case "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter %q must be stdout or otlp", cfg.Tracing.Exporter)
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			return errors.New("tracing.sample_ratio must be between 0 and 1")
		}
	}
	return nil
}

// ApplyEnv overrides cfg from PASSWATCH_* variables read through getenv.
// Unset or empty variables leave the field alone.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *float64) {
		if v := getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("PASSWATCH_BIND", &cfg.Server.Bind)
	str("PASSWATCH_LOG_LEVEL", &cfg.Logging.Level)
	num("PASSWATCH_LATITUDE", &cfg.Station.Latitude)
	num("PASSWATCH_LONGITUDE", &cfg.Station.Longitude)
	str("PASSWATCH_TIMEZONE", &cfg.Station.Timezone)
	boolean("PASSWATCH_USE_GPSD", &cfg.Station.UseGPSD)
	str("PASSWATCH_GPSD_HOST", &cfg.Station.GPSDHost)
	str("PASSWATCH_SOURCE_URL", &cfg.Source.URL)
	integer("PASSWATCH_SOURCE_TIMEOUT", &cfg.Source.TimeoutSeconds)
	boolean("PASSWATCH_OFFLINE", &cfg.Source.Offline)
	str("PASSWATCH_GEOCODE_URL", &cfg.Geocode.URL)
	str("PASSWATCH_GEOCODE_USER_AGENT", &cfg.Geocode.UserAgent)
	boolean("PASSWATCH_TRACING", &cfg.Tracing.Enabled)
	str("PASSWATCH_TRACING_EXPORTER", &cfg.Tracing.Exporter)
	str("PASSWATCH_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
	if v := getenv("PASSWATCH_CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.Server.CORSOrigins = origins
	}
	return errors.Join(errs...)
}
