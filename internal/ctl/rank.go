package ctl

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	"github.com/large-farva/passwatch/internal/locate"
	"github.com/large-farva/passwatch/internal/pass"
	"github.com/large-farva/passwatch/internal/rank"
)

// RankOptions carries the rank command flags. Zero values leave the daemon's
// configured defaults in place.
type RankOptions struct {
	Lat, Lon    float64
	HasCoords   bool
	Address     string
	Start       string // YYYY-MM-DD
	MinDuration int
	Slot        string
	Count       int
	All         bool
	JSON        bool
}

// RankResponse mirrors GET /api/rank and GET /api/latest.
type RankResponse struct {
	Location *locate.Position `json:"location,omitempty"`
	Result   rank.Result      `json:"result"`
}

// Rank asks the daemon for a fresh ranking and prints it.
func Rank(baseURL string, opts RankOptions) error {
	params := url.Values{}
	if opts.HasCoords {
		params.Set("lat", strconv.FormatFloat(opts.Lat, 'f', -1, 64))
		params.Set("lon", strconv.FormatFloat(opts.Lon, 'f', -1, 64))
	}
	if opts.Address != "" {
		params.Set("address", opts.Address)
	}
	if opts.Start != "" {
		params.Set("start", opts.Start)
	}
	if opts.MinDuration > 0 {
		params.Set("min_duration", strconv.Itoa(opts.MinDuration))
	}
	if opts.Slot != "" {
		params.Set("slot", opts.Slot)
	}
	if opts.Count > 0 {
		params.Set("count", strconv.Itoa(opts.Count))
	}
	path := "/api/rank"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp RankResponse
	if err := getJSONWith(rankClient, baseURL, path, &resp); err != nil {
		return err
	}
	if opts.JSON {
		return printJSON(resp)
	}
	writeRanking(os.Stdout, resp, opts.All)
	return nil
}

// Latest prints the watcher's most recent ranking.
func Latest(baseURL string, all, jsonOutput bool) error {
	var resp RankResponse
	if err := getJSON(baseURL, "/api/latest", &resp); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(resp)
	}
	writeRanking(os.Stdout, resp, all)
	return nil
}

// writeRanking renders a ranking as tiered tables. Passes past the second
// tier are only listed when all is set.
func writeRanking(w io.Writer, resp RankResponse, all bool) {
	res := resp.Result

	fmt.Fprintln(w)
	fmt.Fprintln(w, header("  ISS PASSES"))
	if loc := resp.Location; loc != nil {
		name := loc.DisplayName
		if name == "" {
			name = loc.Origin
		}
		fmt.Fprintf(w, "  %s %s (%.4f, %.4f)\n", colorize(dim, "Location:"), name, loc.Lat, loc.Lon)
		if loc.Warning != "" {
			fmt.Fprintf(w, "  %s\n", colorize(yellow, loc.Warning))
		}
	}
	fmt.Fprintf(w, "  %s %s, min %ds, from %s\n", colorize(dim, "Filter:"),
		res.Request.Slot.Label(), res.Request.MinDurationSeconds, res.Request.StartDate.Format("02 Jan 2006"))
	if res.DataSource != "" && res.DataSource != pass.SourceLive {
		fmt.Fprintf(w, "  %s %s\n", colorize(yellow, "Source:"), colorize(yellow, res.SourceStatus))
	}
	fmt.Fprintf(w, "  %s\n", colorize(dim, res.Summary))
	fmt.Fprintln(w, rule(86))

	if len(res.Ranked) == 0 {
		fmt.Fprintln(w, colorize(dim, "  No observable passes match the filters."))
		fmt.Fprintln(w)
		return
	}

	var current rank.Tier
	hidden := 0
	for _, p := range res.Ranked {
		tier := rank.TierOf(p.Rank)
		if tier == rank.TierMore && !all {
			hidden++
			continue
		}
		if tier != current {
			current = tier
			fmt.Fprintf(w, "\n  %s\n", header(tier.Label()))
			fmt.Fprintf(w, "  %-4s %-20s %-6s %-14s %-14s %-18s %s\n",
				"#", "Rise", "Dur", "Visibility", "Time of day", "Weather", "Score")
		}
		fmt.Fprintf(w, "  %-4d %-20s %-6s %-14s %-14s %-18s %d\n",
			p.Rank,
			rank.FormatRise(p.RiseTime.Local()),
			rank.FormatDuration(p.DurationSeconds),
			p.Visibility.Symbol(),
			p.TimeOfDay.Symbol(),
			p.Weather.Symbol(),
			p.TotalScore,
		)
	}
	if hidden > 0 {
		fmt.Fprintf(w, "\n  %s\n", colorize(dim, fmt.Sprintf("%s: %d more (use --all to list)", rank.TierMore.Label(), hidden)))
	}
	fmt.Fprintln(w)
}
