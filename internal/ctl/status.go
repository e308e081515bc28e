package ctl

import (
	"fmt"
	"strings"
	"time"
)

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Offline       bool   `json:"offline"`
	WSClients     int    `json:"ws_clients"`
	Station       struct {
		Lat      float64 `json:"lat"`
		Lon      float64 `json:"lon"`
		Timezone string  `json:"timezone"`
		UseGPSD  bool    `json:"use_gpsd"`
	} `json:"station"`
	Scheduler struct {
		Enabled        bool   `json:"enabled"`
		Paused         bool   `json:"paused"`
		RefreshMinutes int    `json:"refresh_minutes"`
		LastRun        string `json:"last_run"`
	} `json:"scheduler"`
	Latest *struct {
		ID              string `json:"id"`
		Source          string `json:"source"`
		ObservableCount int    `json:"observable_count"`
		Summary         string `json:"summary"`
	} `json:"latest"`
}

// Status fetches the daemon status and prints a formatted summary.
func Status(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(s)
	}

	uptime := formatDuration(time.Duration(s.UptimeSeconds) * time.Second)
	stateStr := colorize(stateColor(s.State), s.State)

	mode := "live"
	if s.Offline {
		mode = colorize(yellow, "offline (synthetic passes)")
	}
	station := fmt.Sprintf("%.4f, %.4f (%s)", s.Station.Lat, s.Station.Lon, s.Station.Timezone)
	if s.Station.UseGPSD {
		station += " via gpsd"
	}

	fmt.Println()
	fmt.Println(header("  PASSWATCH STATUS"))
	fmt.Println(rule(38))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Daemon:"), s.Name)
	fmt.Printf("  %-12s %s\n", colorize(dim, "State:"), stateStr)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Uptime:"), uptime)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Station:"), station)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Source:"), mode)
	fmt.Printf("  %-12s %d\n", colorize(dim, "Watchers:"), s.WSClients)

	switch {
	case !s.Scheduler.Enabled:
		fmt.Printf("  %-12s %s\n", colorize(dim, "Scheduler:"), colorize(dim, "disabled"))
	case s.Scheduler.Paused:
		fmt.Printf("  %-12s %s\n", colorize(dim, "Scheduler:"), colorize(yellow, "paused"))
	default:
		fmt.Printf("  %-12s every %dm\n", colorize(dim, "Scheduler:"), s.Scheduler.RefreshMinutes)
	}
	if s.Scheduler.LastRun != "" {
		fmt.Printf("  %-12s %s\n", colorize(dim, "Last run:"), formatEventTimestamp(s.Scheduler.LastRun))
	}
	if s.Latest != nil {
		fmt.Printf("  %-12s %s\n", colorize(dim, "Latest:"), s.Latest.Summary)
	}
	fmt.Printf("  %-12s %s\n", colorize(dim, "Host:"), baseURL)
	fmt.Println()

	return nil
}
