// Package scheduler runs the watch loop that drives the passwatch daemon. It
// periodically re-ranks the passes over the home station, publishes the
// result, and counts down to the best upcoming pass until the next refresh.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/large-farva/passwatch/internal/locate"
	"github.com/large-farva/passwatch/internal/rank"
	"github.com/large-farva/passwatch/internal/telemetry"
)

const component = "scheduler"

// States reported through the state callback.
const (
	StateIdle     = "IDLE"
	StateRanking  = "RANKING"
	StateWatching = "WATCHING"
	StatePaused   = "PAUSED"
)

const (
	// retryDelay is how long to wait after a failed ranking.
	retryDelay = 5 * time.Minute

	// tickInterval is how often countdown progress is broadcast.
	tickInterval = 30 * time.Second
)

// Command types.
const (
	CmdRefresh  = "refresh"
	CmdPause    = "pause"
	CmdResume   = "resume"
	CmdRelocate = "relocate"
	CmdReload   = "reload"
)

// Command represents an external command sent to the scheduler via its
// Commands channel. The Reply channel receives exactly one result.
type Command struct {
	Type    string
	Payload json.RawMessage
	Reply   chan<- CommandResult
}

// CommandResult is the response sent back through a Command's Reply channel.
type CommandResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RelocatePayload moves the home station.
type RelocatePayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ReloadPayload replaces the watch settings after a config reload.
type ReloadPayload struct {
	Station  locate.Station `json:"station"`
	Template rank.Request   `json:"template"`
	Interval time.Duration  `json:"interval"`
}

// Ranker runs one ranking.
type Ranker interface {
	Run(ctx context.Context, req rank.Request) (rank.Result, error)
}

// Broadcaster fans events out to clients.
type Broadcaster interface {
	BroadcastJSON(v any)
}

// Locator resolves the home position.
type Locator interface {
	Home(ctx context.Context) locate.Position
	Station() locate.Station
	SetStation(locate.Station)
}

// Invalidator drops cached source data.
type Invalidator interface {
	Invalidate()
}

// Options configures a Runner.
type Options struct {
	Ranker      Ranker
	Locator     Locator
	Invalidator Invalidator
	Hub         Broadcaster
	Logger      *log.Logger

	// Template supplies the filter settings for every ranking; its
	// coordinates are replaced with the home position.
	Template rank.Request
	Interval time.Duration
}

// Runner owns the watch loop.
type Runner struct {
	// Commands receives external commands from HTTP handlers. The loop
	// checks this channel whenever it is waiting.
	Commands chan Command

	ranker  Ranker
	locator Locator
	inval   Invalidator
	hub     Broadcaster
	log     *log.Logger

	mu       sync.Mutex
	template rank.Request
	interval time.Duration

	paused  atomic.Bool
	latest  atomic.Pointer[rank.Result]
	home    atomic.Pointer[locate.Position]
	lastRun atomic.Int64
	now     func() time.Time
}

// New creates a Runner. Call Run in a goroutine to start it.
func New(opts Options) *Runner {
	r := &Runner{
		Commands: make(chan Command, 4),
		ranker:   opts.Ranker,
		locator:  opts.Locator,
		inval:    opts.Invalidator,
		hub:      opts.Hub,
		log:      opts.Logger,
		template: opts.Template,
		interval: opts.Interval,
		now:      time.Now,
	}
	if r.log == nil {
		r.log = log.New(io.Discard, "", 0)
	}
	if r.interval <= 0 {
		r.interval = 30 * time.Minute
	}
	return r
}

// IsPaused reports whether the loop is paused.
func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

// Latest returns the most recent ranking, if any.
func (r *Runner) Latest() (rank.Result, bool) {
	p := r.latest.Load()
	if p == nil {
		return rank.Result{}, false
	}
	return *p, true
}

// Home returns the position used by the last ranking.
func (r *Runner) Home() (locate.Position, bool) {
	p := r.home.Load()
	if p == nil {
		return locate.Position{}, false
	}
	return *p, true
}

// LastRun returns when the last ranking finished.
func (r *Runner) LastRun() time.Time {
	ns := r.lastRun.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// Interval returns the refresh interval.
func (r *Runner) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// Send delivers cmd to the loop and waits for its reply or ctx.
func (r *Runner) Send(ctx context.Context, typ string, payload any) CommandResult {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return CommandResult{OK: false, Error: "invalid payload: " + err.Error()}
		}
		raw = b
	}
	reply := make(chan CommandResult, 1)
	select {
	case r.Commands <- Command{Type: typ, Payload: raw, Reply: reply}:
	case <-ctx.Done():
		return CommandResult{OK: false, Error: ctx.Err().Error()}
	}
	select {
	case res := <-reply:
		return res
	case <-ctx.Done():
		return CommandResult{OK: false, Error: ctx.Err().Error()}
	}
}

// Run is the main watch loop.
//
// Lifecycle:
//  1. Rank passes over the home position (RANKING)
//  2. On failure, wait retryDelay then try again
//  3. Publish the result and broadcast it (WATCHING)
//  4. Count down to the best pass until the refresh interval elapses
//  5. Loop back to step 1; any command cuts the wait short
func (r *Runner) Run(ctx context.Context, setState func(string)) {
	r.emitLog("info", "scheduler started")

	for {
		if ctx.Err() != nil {
			return
		}

		if r.paused.Load() {
			setState(StatePaused)
			r.emitLog("info", "scheduler paused, waiting for resume")
			// Sleep for a very long time; a resume command will interrupt.
			if r.sleepOrCommand(ctx, 24*365*time.Hour) == sleepCancelled {
				return
			}
			continue
		}

		setState(StateRanking)
		res, err := r.refresh(ctx)
		if err != nil {
			setState(StateIdle)
			r.emitLog("error", "ranking failed: "+err.Error())
			if r.sleepOrCommand(ctx, retryDelay) == sleepCancelled {
				return
			}
			continue
		}

		setState(StateWatching)
		if !r.watch(ctx, res) && ctx.Err() != nil {
			return
		}
	}
}

// refresh ranks the home position and publishes the result.
func (r *Runner) refresh(ctx context.Context) (rank.Result, error) {
	home := r.locator.Home(ctx)
	r.home.Store(&home)

	r.mu.Lock()
	req := r.template
	r.mu.Unlock()
	req.Latitude, req.Longitude = home.Lat, home.Lon
	req.StartDate = time.Time{}

	res, err := r.ranker.Run(ctx, req)
	if err != nil {
		return rank.Result{}, err
	}
	r.latest.Store(&res)
	r.lastRun.Store(r.now().UnixNano())

	ev := telemetry.NewRanking(component)
	ev.ID = res.ID
	ev.Latitude, ev.Longitude = home.Lat, home.Lon
	ev.Source = res.SourceStatus
	ev.RawCount, ev.FilteredCount, ev.ObservableCount = res.RawCount, res.FilteredCount, res.ObservableCount
	if best, ok := res.Best(); ok {
		ev.Best = &telemetry.BestPass{
			RiseTime:        best.RiseTime.Format(time.RFC3339),
			DurationSeconds: best.DurationSeconds,
			TimeOfDay:       string(best.TimeOfDay),
			Weather:         string(best.Weather),
			TotalScore:      best.TotalScore,
		}
	}
	r.broadcast(ev)
	r.emitLog("info", fmt.Sprintf("ranked %s (%s): %s", home.DisplayName, res.SourceStatus, res.Summary))
	return res, nil
}

// watch counts down to the best pass until the refresh interval elapses.
// Returns true if the interval ran out, false if a command or ctx cut it
// short.
func (r *Runner) watch(ctx context.Context, res rank.Result) bool {
	interval := r.Interval()
	deadline := r.now().Add(interval)
	best, hasBest := res.Best()

	for {
		remaining := deadline.Sub(r.now())
		if remaining <= 0 {
			return true
		}

		detail := countdownDetail(best, hasBest, r.now())
		percent := 100 * float64(interval-remaining) / float64(interval)
		r.broadcast(telemetry.NewProgress(component, "watching", percent, detail))

		if r.sleepOrCommand(ctx, min(tickInterval, remaining)) != sleepCompleted {
			return false
		}
	}
}

// countdownDetail describes where now falls relative to the best pass.
func countdownDetail(best rank.ScoredPass, hasBest bool, now time.Time) string {
	if !hasBest {
		return "no observable passes"
	}
	if until := best.RiseTime.Sub(now).Truncate(time.Second); until > 0 {
		return fmt.Sprintf("best pass in %s (%s, %s, score %d)",
			until, best.TimeOfDay.Label(), rank.FormatDuration(best.DurationSeconds), best.TotalScore)
	}
	if left := best.RiseTime.Add(best.Duration()).Sub(now).Truncate(time.Second); left > 0 {
		return fmt.Sprintf("best pass under way, %s left", left)
	}
	return "best pass is over"
}

// sleepResult indicates what ended a sleep period.
type sleepResult int

const (
	sleepCompleted   sleepResult = iota // timer expired normally
	sleepCancelled                      // context was cancelled
	sleepInterrupted                    // a command was received and handled
)

// sleepOrCommand blocks for duration d, until ctx is cancelled, or until a
// command arrives on r.Commands. Commands are handled inline.
func (r *Runner) sleepOrCommand(ctx context.Context, d time.Duration) sleepResult {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return sleepCancelled
	case <-t.C:
		return sleepCompleted
	case cmd := <-r.Commands:
		r.handleCommand(cmd)
		return sleepInterrupted
	}
}

// handleCommand dispatches an incoming command to the appropriate handler.
func (r *Runner) handleCommand(cmd Command) {
	switch cmd.Type {
	case CmdRefresh:
		r.handleRefreshCommand(cmd)
	case CmdPause:
		r.handlePauseCommand(cmd)
	case CmdResume:
		r.handleResumeCommand(cmd)
	case CmdRelocate:
		r.handleRelocateCommand(cmd)
	case CmdReload:
		r.handleReloadCommand(cmd)
	default:
		cmd.Reply <- CommandResult{OK: false, Error: "unknown command: " + cmd.Type}
	}
}

func (r *Runner) handleRefreshCommand(cmd Command) {
	if r.inval != nil {
		r.inval.Invalidate()
	}
	r.emitLog("info", "refresh requested by user")
	if r.paused.Load() {
		cmd.Reply <- CommandResult{OK: true, Message: "scheduler paused, refresh will run on resume"}
		return
	}
	cmd.Reply <- CommandResult{OK: true, Message: "re-ranking passes"}
}

func (r *Runner) handlePauseCommand(cmd Command) {
	if r.paused.Load() {
		cmd.Reply <- CommandResult{OK: true, Message: "scheduler already paused"}
		return
	}
	r.paused.Store(true)
	r.emitLog("info", "scheduler paused by user")
	cmd.Reply <- CommandResult{OK: true, Message: "scheduler paused"}
}

func (r *Runner) handleResumeCommand(cmd Command) {
	if !r.paused.Load() {
		cmd.Reply <- CommandResult{OK: true, Message: "scheduler already running"}
		return
	}
	r.paused.Store(false)
	r.emitLog("info", "scheduler resumed by user")
	cmd.Reply <- CommandResult{OK: true, Message: "scheduler resumed"}
}

func (r *Runner) handleRelocateCommand(cmd Command) {
	var p RelocatePayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		cmd.Reply <- CommandResult{OK: false, Error: "invalid payload: " + err.Error()}
		return
	}
	if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		cmd.Reply <- CommandResult{OK: false, Error: fmt.Sprintf("invalid location %.4f, %.4f", p.Latitude, p.Longitude)}
		return
	}

	st := r.locator.Station()
	st.Lat, st.Lon = p.Latitude, p.Longitude
	st.UseGPSD = false
	r.locator.SetStation(st)
	if r.inval != nil {
		r.inval.Invalidate()
	}

	msg := fmt.Sprintf("home station moved to %.4f, %.4f", p.Latitude, p.Longitude)
	r.emitLog("info", msg)
	cmd.Reply <- CommandResult{OK: true, Message: msg}
}

func (r *Runner) handleReloadCommand(cmd Command) {
	var p ReloadPayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		cmd.Reply <- CommandResult{OK: false, Error: "invalid payload: " + err.Error()}
		return
	}
	r.locator.SetStation(p.Station)
	r.mu.Lock()
	r.template = p.Template
	if p.Interval > 0 {
		r.interval = p.Interval
	}
	r.mu.Unlock()
	if r.inval != nil {
		r.inval.Invalidate()
	}
	r.emitLog("info", "watch settings reloaded")
	cmd.Reply <- CommandResult{OK: true, Message: "watch settings reloaded"}
}

func (r *Runner) emitLog(level, msg string) {
	r.log.Printf("scheduler: %s", msg)
	r.broadcast(telemetry.NewLog(component, level, msg))
}

func (r *Runner) broadcast(v any) {
	if r.hub != nil {
		r.hub.BroadcastJSON(v)
	}
}
