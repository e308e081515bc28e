// Passctl is the command-line client for a running passwatchd. It ranks ISS
// passes through the daemon, controls the watcher, and streams live events
// over WebSocket.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/large-farva/passwatch/internal/ctl"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:8080", "Passwatch daemon URL (e.g. http://192.168.8.1:8080)")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter ranking,log)")
	)

	// Stop parsing global flags at the first non-flag argument (the command
	// name), so subcommand-specific flags like --slot are not rejected.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]

	var err error
	switch cmd {
	// ── Query commands ────────────────────────────────────────────
	case "status":
		err = ctl.Status(*host, *jsonOut)

	case "health":
		err = ctl.Health(*host, *jsonOut)

	case "version":
		err = ctl.VersionInfo(*host, *jsonOut)

	case "config":
		err = ctl.Config(*host, *jsonOut)

	case "rank":
		opts := ctl.RankOptions{JSON: *jsonOut}
		fs := pflag.NewFlagSet("rank", pflag.ContinueOnError)
		fs.Float64Var(&opts.Lat, "lat", 0, "Observer latitude")
		fs.Float64Var(&opts.Lon, "lon", 0, "Observer longitude")
		fs.StringVar(&opts.Address, "address", "", "Observer address, geocoded by the daemon")
		fs.StringVar(&opts.Start, "start", "", "First day to consider (YYYY-MM-DD, default today)")
		fs.IntVar(&opts.MinDuration, "min-duration", 0, "Minimum pass duration in seconds")
		fs.StringVar(&opts.Slot, "slot", "", "Time slot: any, dawn, dusk, low_visibility")
		fs.IntVar(&opts.Count, "count", 0, "Number of passes to fetch (1-100)")
		fs.BoolVar(&opts.All, "all", false, "List every ranked pass, not just the top 20")
		err = fs.Parse(subArgs)
		if err == nil {
			opts.HasCoords, err = coordsGiven(fs)
		}
		if err == nil {
			err = ctl.Rank(*host, opts)
		}

	case "latest":
		fs := pflag.NewFlagSet("latest", pflag.ContinueOnError)
		all := fs.Bool("all", false, "List every ranked pass, not just the top 20")
		err = fs.Parse(subArgs)
		if err == nil {
			err = ctl.Latest(*host, *all, *jsonOut)
		}

	case "trajectory":
		opts := ctl.TrajectoryOptions{JSON: *jsonOut}
		fs := pflag.NewFlagSet("trajectory", pflag.ContinueOnError)
		fs.Float64Var(&opts.Lat, "lat", 0, "Observer latitude")
		fs.Float64Var(&opts.Lon, "lon", 0, "Observer longitude")
		fs.IntVar(&opts.Duration, "duration", 0, "Pass duration in seconds (default: latest best pass)")
		err = fs.Parse(subArgs)
		if err == nil {
			opts.HasCoords, err = coordsGiven(fs)
		}
		if err == nil {
			err = ctl.Trajectory(*host, opts)
		}

	case "geocode":
		if len(subArgs) == 0 {
			err = errors.New("geocode needs an address")
			break
		}
		err = ctl.Geocode(*host, strings.Join(subArgs, " "), *jsonOut)

	// ── Control commands ──────────────────────────────────────────
	case "refresh":
		err = ctl.Refresh(*host, *jsonOut)

	case "pause":
		err = ctl.Pause(*host, *jsonOut)

	case "resume":
		err = ctl.Resume(*host, *jsonOut)

	case "relocate":
		opts := ctl.RelocateOptions{JSON: *jsonOut}
		fs := pflag.NewFlagSet("relocate", pflag.ContinueOnError)
		fs.Float64Var(&opts.Lat, "lat", 0, "New station latitude")
		fs.Float64Var(&opts.Lon, "lon", 0, "New station longitude")
		fs.StringVar(&opts.Address, "address", "", "New station address")
		err = fs.Parse(subArgs)
		if err == nil {
			opts.HasCoords, err = coordsGiven(fs)
		}
		if err == nil {
			err = ctl.Relocate(*host, opts)
		}

	case "reload":
		err = ctl.Reload(*host, *jsonOut)

	// ── Live streaming ────────────────────────────────────────────
	case "watch":
		fs := pflag.NewFlagSet("watch", pflag.ContinueOnError)
		types := fs.StringSlice("filter", *filter, "Event types to show")
		err = fs.Parse(subArgs)
		if err == nil {
			err = ctl.Watch(*host, ctl.WatchOptions{
				Filter: *types,
				JSON:   *jsonOut,
			})
		}

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// coordsGiven reports whether --lat and --lon were both set.
func coordsGiven(fs *pflag.FlagSet) (bool, error) {
	lat, lon := fs.Changed("lat"), fs.Changed("lon")
	if lat != lon {
		return false, errors.New("--lat and --lon must be given together")
	}
	return lat, nil
}

func usage() {
	fmt.Print(`
  passctl, the passwatch control CLI

  USAGE
    passctl [flags] <command> [command-flags]

  COMMANDS (query)
    status          Show daemon state, station, and watcher activity
    health          Check daemon and component health
    version         Show CLI and daemon version information
    config          Show the daemon's running configuration
    rank            Rank upcoming ISS passes
    latest          Show the watcher's latest ranking
    trajectory      Show a simulated ground track for a pass
    geocode         Resolve an address to coordinates

  COMMANDS (control)
    refresh         Re-rank the home station now
    pause           Pause periodic re-ranking
    resume          Resume periodic re-ranking
    relocate        Move the home station
    reload          Reload configuration from disk

  COMMANDS (live)
    watch           Stream live events from the daemon (Ctrl-C to stop)

  GLOBAL FLAGS
    -H, --host URL      Daemon base URL (default: http://127.0.0.1:8080)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch (comma-separated)

  COMMAND FLAGS
    rank:
        --lat, --lon        Observer coordinates
        --address TEXT      Observer address (takes precedence over coordinates)
        --start DATE        First day to consider (YYYY-MM-DD)
        --min-duration N    Minimum pass duration in seconds (default: 30)
        --slot SLOT         any, dawn, dusk, or low_visibility
        --count N           Passes to fetch, 1 to 100 (default: 100)
        --all               List every ranked pass

    latest:
        --all               List every ranked pass

    trajectory:
        --lat, --lon        Observer coordinates (default: home station)
        --duration SECS     Pass duration (default: latest best pass)

    relocate:
        --lat, --lon        New station coordinates
        --address TEXT      New station address

  EXAMPLES
    passctl status
    passctl --json rank --count 20
    passctl rank --address "Berlin" --slot dusk --min-duration 120
    passctl rank --lat 51.5 --lon -0.12 --start 2024-06-01 --all
    passctl latest
    passctl trajectory --duration 330
    passctl geocode Sydney Opera House
    passctl relocate --lat 40.7128 --lon -74.006
    passctl pause
    passctl --host http://192.168.8.1:8080 watch --filter ranking,log

`)
}
