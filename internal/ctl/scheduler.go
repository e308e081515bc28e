package ctl

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// commandResult mirrors the daemon's reply to a control command.
type commandResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Refresh asks the watcher to re-rank the home station now.
func Refresh(baseURL string, jsonOutput bool) error {
	return schedulerControl(baseURL, "/api/refresh", "REFRESHED", nil, jsonOutput)
}

// Pause stops the watcher's periodic re-ranking.
func Pause(baseURL string, jsonOutput bool) error {
	return schedulerControl(baseURL, "/api/pause", "PAUSED", nil, jsonOutput)
}

// Resume restarts the watcher's periodic re-ranking.
func Resume(baseURL string, jsonOutput bool) error {
	return schedulerControl(baseURL, "/api/resume", "RESUMED", nil, jsonOutput)
}

// RelocateOptions names the new home station, either by coordinates or by
// address.
type RelocateOptions struct {
	Lat, Lon  float64
	HasCoords bool
	Address   string
	JSON      bool
}

// Relocate moves the watcher's home station.
func Relocate(baseURL string, opts RelocateOptions) error {
	body := map[string]any{}
	switch {
	case strings.TrimSpace(opts.Address) != "":
		body["address"] = opts.Address
	case opts.HasCoords:
		body["latitude"] = opts.Lat
		body["longitude"] = opts.Lon
	default:
		return errors.New("relocate needs --lat and --lon, or --address")
	}
	// The daemon may geocode the address before answering.
	return schedulerControlWith(rankClient, baseURL, "/api/relocate", "RELOCATED", body, opts.JSON)
}

func schedulerControl(baseURL, path, label string, body any, jsonOutput bool) error {
	return schedulerControlWith(httpClient, baseURL, path, label, body, jsonOutput)
}

func schedulerControlWith(client *http.Client, baseURL, path, label string, body any, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var result commandResult
	if err := postJSONWith(client, baseURL, path, body, &result); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(result)
	}
	printCommandResult(label, result)
	return nil
}

func printCommandResult(label string, result commandResult) {
	if result.OK {
		fmt.Printf("\n  %s  %s\n\n", colorize(green, label), result.Message)
	} else {
		fmt.Printf("\n  %s  %s\n\n", colorize(red, "ERROR"), result.Error)
	}
}
