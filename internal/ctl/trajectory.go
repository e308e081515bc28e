package ctl

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/large-farva/passwatch/internal/trajectory"
)

// TrajectoryOptions carries the trajectory command flags. Missing values
// default on the daemon side to the latest ranking.
type TrajectoryOptions struct {
	Lat, Lon  float64
	HasCoords bool
	Duration  int
	JSON      bool
}

// Trajectory prints a simulated ground track for a pass.
func Trajectory(baseURL string, opts TrajectoryOptions) error {
	params := url.Values{}
	if opts.HasCoords {
		params.Set("lat", strconv.FormatFloat(opts.Lat, 'f', -1, 64))
		params.Set("lon", strconv.FormatFloat(opts.Lon, 'f', -1, 64))
	}
	if opts.Duration > 0 {
		params.Set("duration", strconv.Itoa(opts.Duration))
	}
	path := "/api/trajectory"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var p trajectory.Path
	if err := getJSON(baseURL, path, &p); err != nil {
		return err
	}
	if opts.JSON {
		return printJSON(p)
	}

	fmt.Println()
	fmt.Println(header("  " + strings.ToUpper(p.Label)))
	fmt.Printf("  %s %.4f, %.4f\n", colorize(dim, "Observer:"), p.Observer.Lat, p.Observer.Lon)
	fmt.Printf("  %s %.0f km over %d points\n", colorize(dim, "Track:"), p.LengthKm, len(p.Points))
	fmt.Println(rule(38))
	for i, pt := range p.Points {
		fmt.Printf("  %-4d %9.4f %10.4f\n", i+1, pt.Lat, pt.Lon)
	}
	fmt.Println()
	return nil
}

// Geocode resolves an address through the daemon's geocoder.
func Geocode(baseURL, address string, jsonOutput bool) error {
	var resp struct {
		OK       bool `json:"ok"`
		Location struct {
			Lat         float64 `json:"lat"`
			Lon         float64 `json:"lon"`
			DisplayName string  `json:"display_name"`
		} `json:"location"`
	}
	if err := getJSONWith(rankClient, baseURL, "/api/geocode?q="+url.QueryEscape(address), &resp); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(resp)
	}

	fmt.Println()
	label := colorize(green, "FOUND")
	if !resp.OK {
		label = colorize(yellow, "NOT FOUND")
	}
	fmt.Printf("  %s  %s\n", label, resp.Location.DisplayName)
	fmt.Printf("  %s %.4f, %.4f\n", colorize(dim, "Coordinates:"), resp.Location.Lat, resp.Location.Lon)
	fmt.Println()
	return nil
}
