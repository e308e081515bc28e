package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/passwatch/internal/locate"
	"github.com/large-farva/passwatch/internal/pass"
	"github.com/large-farva/passwatch/internal/rank"
	"github.com/large-farva/passwatch/internal/telemetry"
)

type fakeRanker struct {
	mu   sync.Mutex
	reqs []rank.Request
	err  error
}

func (f *fakeRanker) Run(_ context.Context, req rank.Request) (rank.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return rank.Result{}, f.err
	}
	best := rank.ScoredPass{Rank: 1, TotalScore: 15}
	best.RiseTime = time.Now().Add(time.Hour)
	best.DurationSeconds = 300
	best.TimeOfDay = rank.Dusk
	best.Weather = rank.Clear
	return rank.Result{
		ID:              fmt.Sprintf("r%d", len(f.reqs)),
		Request:         req,
		SourceStatus:    pass.Live().String(),
		Ranked:          []rank.ScoredPass{best},
		RawCount:        3,
		FilteredCount:   2,
		ObservableCount: 1,
	}, nil
}

func (f *fakeRanker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeRanker) last() rank.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type fakeHub struct {
	mu     sync.Mutex
	events []any
}

func (h *fakeHub) BroadcastJSON(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, v)
}

func (h *fakeHub) count(match func(any) bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if match(e) {
			n++
		}
	}
	return n
}

type countingInvalidator struct {
	mu sync.Mutex
	n  int
}

func (c *countingInvalidator) Invalidate() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingInvalidator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type states struct {
	mu  sync.Mutex
	all []string
}

func (s *states) set(st string) {
	s.mu.Lock()
	s.all = append(s.all, st)
	s.mu.Unlock()
}

func (s *states) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.all) == 0 {
		return ""
	}
	return s.all[len(s.all)-1]
}

type harness struct {
	runner *Runner
	ranker *fakeRanker
	hub    *fakeHub
	inval  *countingInvalidator
	loc    *locate.Resolver
	states *states
	cancel context.CancelFunc
}

func start(t *testing.T, rankErr error) *harness {
	t.Helper()
	h := &harness{
		ranker: &fakeRanker{err: rankErr},
		hub:    &fakeHub{},
		inval:  &countingInvalidator{},
		loc:    locate.NewResolver(locate.Station{Lat: 48.85, Lon: 2.35}, nil, nil),
		states: &states{},
	}
	h.runner = New(Options{
		Ranker:      h.ranker,
		Locator:     h.loc,
		Invalidator: h.inval,
		Hub:         h.hub,
		Template:    rank.Request{MinDurationSeconds: 60, Slot: rank.SlotDusk, Count: 50},
		Interval:    time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)
	go h.runner.Run(ctx, h.states.set)
	return h
}

func send(t *testing.T, r *Runner, typ string, payload any) CommandResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.Send(ctx, typ, payload)
}

func TestRunnerPublishesRanking(t *testing.T) {
	h := start(t, nil)

	require.Eventually(t, func() bool { _, ok := h.runner.Latest(); return ok }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.states.last() == StateWatching }, 2*time.Second, 5*time.Millisecond)

	req := h.ranker.last()
	assert.Equal(t, 48.85, req.Latitude)
	assert.Equal(t, 2.35, req.Longitude)
	assert.Equal(t, rank.SlotDusk, req.Slot)
	assert.Equal(t, 50, req.Count)

	home, ok := h.runner.Home()
	require.True(t, ok)
	assert.Equal(t, locate.OriginStation, home.Origin)
	assert.False(t, h.runner.LastRun().IsZero())

	assert.Equal(t, 1, h.hub.count(func(e any) bool {
		r, ok := e.(telemetry.Ranking)
		return ok && r.Best != nil && r.Best.TotalScore == 15
	}))
	assert.GreaterOrEqual(t, h.hub.count(func(e any) bool { _, ok := e.(telemetry.Progress); return ok }), 1)
}

func TestRunnerRefreshCommand(t *testing.T) {
	h := start(t, nil)
	require.Eventually(t, func() bool { return h.ranker.calls() == 1 }, 2*time.Second, 5*time.Millisecond)

	res := send(t, h.runner, CmdRefresh, nil)
	assert.True(t, res.OK)

	require.Eventually(t, func() bool { return h.ranker.calls() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.inval.count())
}

func TestRunnerPauseResume(t *testing.T) {
	h := start(t, nil)
	require.Eventually(t, func() bool { return h.ranker.calls() == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.True(t, send(t, h.runner, CmdPause, nil).OK)
	require.Eventually(t, func() bool { return h.states.last() == StatePaused }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, h.runner.IsPaused())

	again := send(t, h.runner, CmdPause, nil)
	assert.Equal(t, "scheduler already paused", again.Message)
	assert.Equal(t, 1, h.ranker.calls(), "paused loop does not rank")

	assert.True(t, send(t, h.runner, CmdResume, nil).OK)
	require.Eventually(t, func() bool { return h.ranker.calls() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, h.runner.IsPaused())
}

func TestRunnerRelocate(t *testing.T) {
	h := start(t, nil)
	require.Eventually(t, func() bool { return h.ranker.calls() == 1 }, 2*time.Second, 5*time.Millisecond)

	res := send(t, h.runner, CmdRelocate, RelocatePayload{Latitude: -33.87, Longitude: 151.21})
	require.True(t, res.OK, res.Error)

	require.Eventually(t, func() bool { return h.ranker.calls() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, -33.87, h.ranker.last().Latitude)
	assert.Equal(t, 1, h.inval.count())

	bad := send(t, h.runner, CmdRelocate, RelocatePayload{Latitude: 100})
	assert.False(t, bad.OK)
}

func TestRunnerReload(t *testing.T) {
	h := start(t, nil)
	require.Eventually(t, func() bool { return h.ranker.calls() == 1 }, 2*time.Second, 5*time.Millisecond)

	res := send(t, h.runner, CmdReload, ReloadPayload{
		Station:  locate.Station{Lat: 1, Lon: 2},
		Template: rank.Request{MinDurationSeconds: 120, Slot: rank.SlotDawn, Count: 10},
		Interval: 2 * time.Hour,
	})
	require.True(t, res.OK)

	require.Eventually(t, func() bool { return h.ranker.calls() == 2 }, 2*time.Second, 5*time.Millisecond)
	req := h.ranker.last()
	assert.Equal(t, rank.SlotDawn, req.Slot)
	assert.Equal(t, 1.0, req.Latitude)
	assert.Equal(t, 2*time.Hour, h.runner.Interval())
}

func TestRunnerUnknownCommand(t *testing.T) {
	h := start(t, nil)
	res := send(t, h.runner, "launch", nil)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "unknown command")
}

func TestRunnerRankingFailure(t *testing.T) {
	h := start(t, errors.New("boom"))

	require.Eventually(t, func() bool {
		return h.hub.count(func(e any) bool {
			l, ok := e.(telemetry.LogLine)
			return ok && l.Level == "error"
		}) == 1
	}, 2*time.Second, 5*time.Millisecond)
	_, ok := h.runner.Latest()
	assert.False(t, ok)
	assert.Equal(t, StateIdle, h.states.last())
}

func TestSendHonorsContext(t *testing.T) {
	r := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Fill the queue so the send blocks.
	for range cap(r.Commands) {
		r.Commands <- Command{}
	}
	res := r.Send(ctx, CmdRefresh, nil)
	assert.False(t, res.OK)
}

func TestCountdownDetail(t *testing.T) {
	rise := time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)
	best := rank.ScoredPass{TotalScore: 7}
	best.RiseTime = rise
	best.DurationSeconds = 300
	best.TimeOfDay = rank.Dusk

	assert.Equal(t, "no observable passes", countdownDetail(rank.ScoredPass{}, false, rise))
	assert.Contains(t, countdownDetail(best, true, rise.Add(-90*time.Second)), "best pass in 1m30s")
	assert.Equal(t, "best pass under way, 4m0s left", countdownDetail(best, true, rise.Add(time.Minute)))
	assert.Equal(t, "best pass is over", countdownDetail(best, true, rise.Add(5*time.Minute)))
}
