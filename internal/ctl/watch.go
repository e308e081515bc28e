package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/large-farva/passwatch/internal/rank"
	"github.com/large-farva/passwatch/internal/telemetry"
)

var eventTypes = []telemetry.EventType{
	telemetry.EventHeartbeat,
	telemetry.EventState,
	telemetry.EventProgress,
	telemetry.EventLog,
	telemetry.EventRanking,
}

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Filter []string // event types to show (empty = all)
	JSON   bool     // output raw JSON per event
}

// Watch connects to the daemon's WebSocket endpoint and streams events to
// the terminal until interrupted or the daemon hangs up.
func Watch(baseURL string, opts WatchOptions) error {
	endpoint, err := wsURL(baseURL)
	if err != nil {
		return err
	}
	want, err := eventFilter(opts.Filter)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !opts.JSON {
		fmt.Println()
		fmt.Printf("  %s %s\n", colorize(green, "connected"), colorize(dim, endpoint))
		if len(opts.Filter) > 0 {
			fmt.Printf("  %s %s\n", colorize(dim, "filter:"), colorize(dim, strings.Join(opts.Filter, ", ")))
		}
		fmt.Println(rule(50))
		fmt.Println()
	}

	// Closing the connection unblocks ReadMessage on interrupt.
	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				if !opts.JSON {
					fmt.Println()
					fmt.Println(colorize(dim, "  disconnected"))
				}
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("watch: %w", err)
		}

		var env telemetry.Event
		if len(want) > 0 && json.Unmarshal(msg, &env) == nil && !want[env.Type] {
			continue
		}
		if opts.JSON {
			fmt.Println(string(msg))
		} else {
			renderEvent(os.Stdout, msg)
		}
	}
}

// wsURL maps the daemon's HTTP base URL to its WebSocket endpoint.
func wsURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// eventFilter turns --filter values into a lookup set, rejecting unknown
// event types.
func eventFilter(names []string) (map[telemetry.EventType]bool, error) {
	want := make(map[telemetry.EventType]bool, len(names))
	for _, n := range names {
		t := telemetry.EventType(strings.TrimSpace(n))
		if !slices.Contains(eventTypes, t) {
			return nil, fmt.Errorf("unknown event type %q", n)
		}
		want[t] = true
	}
	return want, nil
}

// renderEvent prints one event in a human-friendly format. Unknown event
// types are dumped as indented JSON.
func renderEvent(w io.Writer, raw []byte) {
	var env telemetry.Event
	if err := json.Unmarshal(raw, &env); err != nil {
		fmt.Fprintf(w, "  %s\n", string(raw))
		return
	}
	ts := colorize(dim, eventClock(env.TS))

	switch env.Type {
	case telemetry.EventHeartbeat:
		var ev telemetry.Heartbeat
		_ = json.Unmarshal(raw, &ev)
		fmt.Fprintf(w, "  %s %s  %s  up %s\n",
			ts,
			colorize(dim, "heartbeat"),
			colorize(stateColor(ev.State), ev.State),
			colorize(dim, formatDuration(time.Duration(ev.UptimeSeconds)*time.Second)),
		)

	case telemetry.EventState:
		var ev telemetry.StateTransition
		_ = json.Unmarshal(raw, &ev)
		fmt.Fprintf(w, "  %s %s  %s %s %s\n",
			ts,
			colorize(bold, "STATE"),
			colorize(stateColor(ev.From), ev.From),
			colorize(dim, "->"),
			colorize(stateColor(ev.To), ev.To),
		)

	case telemetry.EventLog:
		var ev telemetry.LogLine
		_ = json.Unmarshal(raw, &ev)
		src := ""
		if ev.Component != "" {
			src = colorize(dim, "["+ev.Component+"] ")
		}
		fmt.Fprintf(w, "  %s %s  %s%s\n", ts, formatLogLevel(ev.Level), src, ev.Message)

	case telemetry.EventProgress:
		var ev telemetry.Progress
		_ = json.Unmarshal(raw, &ev)
		fmt.Fprintf(w, "  %s %s  [%s] %3.0f%%  %s\n",
			ts,
			colorize(cyan, padRight(ev.Stage, 10)),
			progressBar(int(ev.Percent), 20),
			ev.Percent,
			colorize(dim, ev.Detail),
		)

	case telemetry.EventRanking:
		var ev telemetry.Ranking
		_ = json.Unmarshal(raw, &ev)
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %s %s  %s\n", ts, header("RANKING"), colorize(dim, shortID(ev.ID)))
		fmt.Fprintf(w, "    %-14s %.4f, %.4f\n", colorize(dim, "Location:"), ev.Latitude, ev.Longitude)
		fmt.Fprintf(w, "    %-14s %s\n", colorize(dim, "Source:"), ev.Source)
		fmt.Fprintf(w, "    %-14s %d raw, %d filtered, %d observable\n", colorize(dim, "Passes:"),
			ev.RawCount, ev.FilteredCount, ev.ObservableCount)
		if b := ev.Best; b != nil {
			fmt.Fprintf(w, "    %-14s %s  %s  %s / %s  score %d\n", colorize(dim, "Best:"),
				colorize(bold, formatEventTimestamp(b.RiseTime)),
				rank.FormatDuration(b.DurationSeconds),
				rank.TimeOfDay(b.TimeOfDay).Label(),
				rank.Weather(b.Weather).Label(),
				b.TotalScore,
			)
		} else {
			fmt.Fprintf(w, "    %-14s %s\n", colorize(dim, "Best:"), colorize(yellow, "no observable pass"))
		}
		fmt.Fprintln(w)

	default:
		var ev map[string]any
		_ = json.Unmarshal(raw, &ev)
		pretty, err := json.MarshalIndent(ev, "  ", "  ")
		if err != nil {
			fmt.Fprintf(w, "  %s\n", string(raw))
			return
		}
		fmt.Fprintf(w, "  %s\n", string(pretty))
	}
}

// eventClock shortens an event timestamp to local wall-clock time.
func eventClock(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return padRight(ts, 8)
	}
	return t.Local().Format("15:04:05")
}

// formatLogLevel returns a colored, fixed-width log level label.
func formatLogLevel(level string) string {
	switch level {
	case "info":
		return colorize(green, "INFO ")
	case "warn":
		return colorize(yellow, "WARN ")
	case "error":
		return colorize(red, "ERROR")
	default:
		return padRight(level, 5)
	}
}

// formatEventTimestamp renders an RFC 3339 timestamp in local time.
func formatEventTimestamp(s string) string {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return s
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
