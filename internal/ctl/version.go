package ctl

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Build-time variables set via -ldflags.
var (
	Version   = "dev"
	GoVersion = "unknown"
)

// buildInfo mirrors GET /api/version.
type buildInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	BuiltAt   string `json:"built_at"`
}

// versionReport pairs the CLI build with what the daemon reports about its
// own build and the pass source it is serving from.
type versionReport struct {
	CLI         buildInfo  `json:"cli"`
	Daemon      *buildInfo `json:"daemon,omitempty"`
	DataSource  string     `json:"data_source,omitempty"`
	State       string     `json:"state,omitempty"`
	Uptime      int64      `json:"uptime_seconds,omitempty"`
	DaemonError string     `json:"daemon_error,omitempty"`
}

// VersionInfo shows the CLI build next to the daemon's build and data source.
func VersionInfo(baseURL string, jsonOutput bool) error {
	report := collectVersion(baseURL)
	if jsonOutput {
		return printJSON(report)
	}
	writeVersion(os.Stdout, report)
	return nil
}

func collectVersion(baseURL string) versionReport {
	report := versionReport{CLI: buildInfo{Version: Version, GoVersion: GoVersion}}

	var daemon buildInfo
	if err := getJSON(baseURL, "/api/version", &daemon); err != nil {
		report.DaemonError = err.Error()
		return report
	}
	report.Daemon = &daemon

	// An older daemon without /api/status still has a usable version.
	var status StatusResponse
	if err := getJSON(baseURL, "/api/status", &status); err == nil {
		report.DataSource = dataSourceMode(status.Offline)
		report.State = status.State
		report.Uptime = status.UptimeSeconds
	}
	return report
}

func dataSourceMode(offline bool) string {
	if offline {
		return "offline"
	}
	return "live"
}

func writeVersion(w io.Writer, r versionReport) {
	row := func(label, value string) {
		fmt.Fprintf(w, "  %s %s\n", colorize(dim, padRight(label, 13)), value)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, header("  PASSWATCH"))
	fmt.Fprintln(w, rule(44))
	row("passctl", fmt.Sprintf("%s, %s", r.CLI.Version, r.CLI.GoVersion))
	if r.Daemon == nil {
		row("passwatchd", colorize(red, "unreachable: "+r.DaemonError))
		fmt.Fprintln(w)
		return
	}
	row("passwatchd", fmt.Sprintf("%s, %s", r.Daemon.Version, r.Daemon.GoVersion))
	row("built", r.Daemon.BuiltAt)
	switch r.DataSource {
	case "offline":
		row("data source", colorize(yellow, "offline (synthetic passes)"))
	case "live":
		row("data source", colorize(green, "live"))
	}
	if r.State != "" {
		row("state", fmt.Sprintf("%s for %s", colorize(stateColor(r.State), r.State),
			formatDuration(time.Duration(r.Uptime)*time.Second)))
	}
	fmt.Fprintln(w)
}
