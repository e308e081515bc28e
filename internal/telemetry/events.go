// Package telemetry defines the typed events that flow over the WebSocket
// connection between passwatchd and its clients. Every event carries its
// type, a timestamp, and the component that emitted it.
package telemetry

import "time"

// EventType identifies the kind of WebSocket event.
type EventType string

const (
	EventHeartbeat EventType = "heartbeat"
	EventState     EventType = "state"
	EventProgress  EventType = "progress"
	EventLog       EventType = "log"
	EventRanking   EventType = "ranking"
)

// Event is the base envelope shared by every event type.
type Event struct {
	Type      EventType `json:"type"`
	TS        string    `json:"ts"`
	Component string    `json:"component,omitempty"`
}

// NowTS returns the current UTC time as an RFC 3339 nano string, matching the
// timestamp format used across all events.
func NowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func envelope(t EventType, component string) Event {
	return Event{Type: t, TS: NowTS(), Component: component}
}

// Heartbeat is sent periodically so clients can detect connectivity and
// monitor daemon uptime.
type Heartbeat struct {
	Event
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func NewHeartbeat(component, state string, uptime time.Duration) Heartbeat {
	return Heartbeat{Event: envelope(EventHeartbeat, component), State: state, UptimeSeconds: int64(uptime.Seconds())}
}

// StateTransition is emitted whenever the daemon moves between operating
// states (e.g. RANKING -> WATCHING).
type StateTransition struct {
	Event
	From string `json:"from"`
	To   string `json:"to"`
}

func NewStateTransition(component, from, to string) StateTransition {
	return StateTransition{Event: envelope(EventState, component), From: from, To: to}
}

// Progress reports the countdown to the next refresh and the best pass.
type Progress struct {
	Event
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Detail  string  `json:"detail"`
}

func NewProgress(component, stage string, percent float64, detail string) Progress {
	return Progress{Event: envelope(EventProgress, component), Stage: stage, Percent: percent, Detail: detail}
}

// LogLine carries a human-readable log message at a severity level.
type LogLine struct {
	Event
	Level   string `json:"level"`
	Message string `json:"message"`
}

func NewLog(component, level, message string) LogLine {
	return LogLine{Event: envelope(EventLog, component), Level: level, Message: message}
}

// BestPass is the top-ranked pass in a Ranking event.
type BestPass struct {
	RiseTime        string `json:"rise_time"`
	DurationSeconds int    `json:"duration_seconds"`
	TimeOfDay       string `json:"time_of_day"`
	Weather         string `json:"weather"`
	TotalScore      int    `json:"total_score"`
}

// Ranking announces a freshly computed ranking.
type Ranking struct {
	Event
	ID              string    `json:"id"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	Source          string    `json:"source"`
	RawCount        int       `json:"raw_count"`
	FilteredCount   int       `json:"filtered_count"`
	ObservableCount int       `json:"observable_count"`
	Best            *BestPass `json:"best,omitempty"`
}

func NewRanking(component string) Ranking {
	return Ranking{Event: envelope(EventRanking, component)}
}
