package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/lapboard/pkg/types"
)

// ============================================================================
// Test Helpers
// ============================================================================

// recordingSink keeps every sink call in order.
type recordingSink struct {
	mu     sync.Mutex
	events []string
	boards []types.Leaderboard
	errs   []error
	ends   chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ends: make(chan struct{}, 100)}
}

func (r *recordingSink) record(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) OnLoadingStart() { r.record("start") }

func (r *recordingSink) OnResult(b types.Leaderboard) {
	r.mu.Lock()
	r.boards = append(r.boards, b)
	r.mu.Unlock()
	r.record("result")
}

func (r *recordingSink) OnError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.record("error")
}

func (r *recordingSink) OnLoadingEnd() {
	r.record("end")
	r.ends <- struct{}{}
}

func (r *recordingSink) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingSink) waitEnds(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.ends:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for loading end %d of %d", i+1, n)
		}
	}
}

// fakeFetcher returns a fixed snapshot. hook, when set, runs before returning.
type fakeFetcher struct {
	calls atomic.Int32
	err   error
	hook  func(call int32)
}

func (f *fakeFetcher) FetchSession(_ context.Context, eventID, sessionID string) (types.SessionSnapshot, error) {
	n := f.calls.Add(1)
	if f.hook != nil {
		f.hook(n)
	}
	if f.err != nil {
		return types.SessionSnapshot{}, f.err
	}
	return types.SessionSnapshot{
		EventID:   eventID,
		SessionID: sessionID,
		Competitors: []types.Competitor{
			{ID: "1", Name: "Slow", RawLapTimes: []string{"11.000", "12.000"}},
			{ID: "2", Name: "Fast", RawLapTimes: []string{"9.000", "10.000"}},
			{ID: "3", Name: "NoLaps", RawLapTimes: []string{"garbage"}},
		},
	}, nil
}

func validInput() types.Input {
	return types.Input{EventID: "100", SessionID: "200", Laps: "2", Method: "best"}
}

func newTestScheduler(t *testing.T, f Fetcher, sink Sink, interval time.Duration) *Scheduler {
	t.Helper()
	s, err := New(Config{Interval: interval, CycleTimeout: time.Second, Input: validInput()}, f, sink)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// ============================================================================
// Cycle Tests
// ============================================================================

func TestNew_RequiresFetcherAndSink(t *testing.T) {
	_, err := New(Config{}, nil, newRecordingSink())
	assert.Error(t, err)
	_, err = New(Config{}, &fakeFetcher{}, nil)
	assert.Error(t, err)
}

func TestNew_LogsWorkerCount(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	s, err := New(Config{Logger: logger, Input: validInput()}, &fakeFetcher{}, newRecordingSink())
	require.NoError(t, err)
	s.Close()

	assert.Contains(t, buf.String(), "scheduler ready")
	assert.Contains(t, buf.String(), "workers=1")
}

func TestRefreshNow_DeliversInOrder(t *testing.T) {
	sink := newRecordingSink()
	s := newTestScheduler(t, &fakeFetcher{}, sink, time.Hour)

	require.NoError(t, s.RefreshNow())
	sink.waitEnds(t, 1)

	assert.Equal(t, []string{"start", "result", "end"}, sink.Events())
	require.Len(t, sink.boards, 1)
	board := sink.boards[0]
	require.Len(t, board.Results, 2, "competitor without valid laps is excluded")
	assert.Equal(t, "Fast", board.Results[0].Name)
	assert.Equal(t, 1, board.Results[0].Position)
	assert.Equal(t, "9.500", board.Results[0].Average)
	assert.Equal(t, "Slow", board.Results[1].Name)
	assert.False(t, s.Running(), "RefreshNow does not start the periodic chain")
}

func TestRefreshNow_ValidationErrorSkipsNetwork(t *testing.T) {
	sink := newRecordingSink()
	fetcher := &fakeFetcher{}
	s := newTestScheduler(t, fetcher, sink, time.Hour)

	s.SetInput(types.Input{EventID: "100", SessionID: "200", Laps: "abc", Method: "best"})
	err := s.RefreshNow()
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	sink.waitEnds(t, 1)

	assert.Equal(t, []string{"start", "error", "end"}, sink.Events())
	assert.ErrorIs(t, sink.errs[0], types.ErrInvalidInput)
	assert.Equal(t, int32(0), fetcher.calls.Load())
}

func TestRefreshNow_InputIsReadEveryCycle(t *testing.T) {
	sink := newRecordingSink()
	s := newTestScheduler(t, &fakeFetcher{}, sink, time.Hour)

	s.SetInput(types.Input{EventID: "100", SessionID: "200", Laps: "2", Method: "fastest"})
	assert.Error(t, s.RefreshNow())
	sink.waitEnds(t, 1)

	s.SetInput(validInput())
	assert.Equal(t, validInput(), s.Input())
	require.NoError(t, s.RefreshNow())
	sink.waitEnds(t, 1)

	assert.Equal(t, []string{"start", "error", "end", "start", "result", "end"}, sink.Events())
}

func TestRefreshNow_FetchErrorIsDelivered(t *testing.T) {
	boom := errors.New("timing service down")
	sink := newRecordingSink()
	s := newTestScheduler(t, &fakeFetcher{err: boom}, sink, time.Hour)

	require.NoError(t, s.RefreshNow())
	sink.waitEnds(t, 1)

	assert.Equal(t, []string{"start", "error", "end"}, sink.Events())
	assert.ErrorIs(t, sink.errs[0], boom)
	assert.Empty(t, sink.boards, "no partial leaderboard")
}

func TestRefreshNow_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	fetcher := &fakeFetcher{hook: func(int32) {
		entered <- struct{}{}
		<-release
	}}
	sink := newRecordingSink()
	s := newTestScheduler(t, fetcher, sink, time.Hour)

	require.NoError(t, s.RefreshNow())
	<-entered

	assert.ErrorIs(t, s.RefreshNow(), ErrCycleInFlight)

	close(release)
	sink.waitEnds(t, 1)
	assert.Equal(t, int32(1), fetcher.calls.Load())

	require.NoError(t, s.RefreshNow(), "a new cycle is accepted once the previous one completed")
	sink.waitEnds(t, 1)
}

// ============================================================================
// Periodic Refresh Tests
// ============================================================================

func TestStart_RunsPeriodicCycles(t *testing.T) {
	sink := newRecordingSink()
	fetcher := &fakeFetcher{}
	s := newTestScheduler(t, fetcher, sink, 10*time.Millisecond)

	require.NoError(t, s.Start())
	assert.True(t, s.Running())
	sink.waitEnds(t, 3)
	s.Stop()
	assert.False(t, s.Running())

	assert.GreaterOrEqual(t, fetcher.calls.Load(), int32(3))
	events := sink.Events()
	for i := 0; i+2 < 9; i += 3 {
		assert.Equal(t, []string{"start", "result", "end"}, events[i:i+3])
	}
}

func TestStart_IsNoopWhenRunning(t *testing.T) {
	s := newTestScheduler(t, &fakeFetcher{}, newRecordingSink(), time.Hour)

	require.NoError(t, s.Start())
	gen := s.Generation()
	require.NoError(t, s.Start())
	assert.Equal(t, gen, s.Generation())

	s.Stop()
	assert.Equal(t, gen+1, s.Generation())
	s.Stop()
	assert.Equal(t, gen+1, s.Generation(), "Stop on a stopped scheduler changes nothing")
}

func TestStop_InFlightCycleStillEndsButDoesNotReschedule(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	fetcher := &fakeFetcher{hook: func(n int32) {
		if n == 1 {
			entered <- struct{}{}
			<-release
		}
	}}
	sink := newRecordingSink()
	s := newTestScheduler(t, fetcher, sink, 10*time.Millisecond)

	require.NoError(t, s.Start())
	<-entered
	s.Stop()
	close(release)

	sink.waitEnds(t, 1)
	assert.Equal(t, []string{"start", "result", "end"}, sink.Events())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), fetcher.calls.Load(), "no cycle after stop")
	assert.Len(t, sink.Events(), 3)
}

func TestStart_ChainSurvivesSkippedTrigger(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	fetcher := &fakeFetcher{hook: func(n int32) {
		if n == 2 {
			entered <- struct{}{}
			<-release
		}
	}}
	sink := newRecordingSink()
	s := newTestScheduler(t, fetcher, sink, 50*time.Millisecond)

	require.NoError(t, s.Start())
	sink.waitEnds(t, 1)

	// The periodic timer is pending; hold a manual cycle past its deadline.
	require.NoError(t, s.RefreshNow())
	<-entered
	time.Sleep(150 * time.Millisecond)
	close(release)

	assert.Eventually(t, func() bool {
		return fetcher.calls.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond, "completion of the in-flight cycle reschedules")
	s.Stop()
}

func TestStart_ValidationErrorKeepsChainAlive(t *testing.T) {
	sink := newRecordingSink()
	fetcher := &fakeFetcher{}
	s := newTestScheduler(t, fetcher, sink, 10*time.Millisecond)
	s.SetInput(types.Input{EventID: "", SessionID: "200", Laps: "2", Method: "best"})

	require.NoError(t, s.Start())
	sink.waitEnds(t, 2)
	assert.Equal(t, int32(0), fetcher.calls.Load())

	s.SetInput(validInput())
	assert.Eventually(t, func() bool {
		return fetcher.calls.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)
	s.Stop()
}

// ============================================================================
// Shutdown Tests
// ============================================================================

func TestClose_DrainsAndRejects(t *testing.T) {
	fetcher := &fakeFetcher{hook: func(int32) { time.Sleep(30 * time.Millisecond) }}
	sink := newRecordingSink()
	s, err := New(Config{Interval: time.Hour, Input: validInput()}, fetcher, sink)
	require.NoError(t, err)

	require.NoError(t, s.RefreshNow())
	s.Close()

	assert.Equal(t, []string{"start", "result", "end"}, sink.Events(), "in-flight cycle is delivered before Close returns")
	assert.ErrorIs(t, s.Start(), ErrClosed)
	assert.ErrorIs(t, s.RefreshNow(), ErrClosed)
	assert.False(t, s.Running())

	assert.NotPanics(t, s.Close)
}

// panicSink panics on results.
type panicSink struct{ *recordingSink }

func (p panicSink) OnResult(types.Leaderboard) { panic("render failed") }

func TestDeliver_PanickingSinkDoesNotStopScheduler(t *testing.T) {
	rec := newRecordingSink()
	s := newTestScheduler(t, &fakeFetcher{}, panicSink{rec}, time.Hour)

	require.NoError(t, s.RefreshNow())
	rec.waitEnds(t, 1)
	require.NoError(t, s.RefreshNow())
	rec.waitEnds(t, 1)

	assert.Equal(t, []string{"start", "end", "start", "end"}, rec.Events())
}

// stalledSink blocks every OnLoadingStart until release is closed.
type stalledSink struct {
	release chan struct{}
	ends    atomic.Int32
}

func (b *stalledSink) OnLoadingStart() { <-b.release }
func (b *stalledSink) OnResult(types.Leaderboard) {}
func (b *stalledSink) OnError(error) {}
func (b *stalledSink) OnLoadingEnd() { b.ends.Add(1) }

func TestStalledSinkDoesNotBlockControls(t *testing.T) {
	sink := &stalledSink{release: make(chan struct{})}
	s, err := New(Config{Interval: time.Hour, Input: types.Input{EventID: "100"}}, &fakeFetcher{}, sink)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// invalid input: every call queues three events without touching the worker
		for i := 0; i < 500; i++ {
			s.RefreshNow()
		}
		assert.NoError(t, s.Start())
		s.Stop()
		_ = s.Running()
		_ = s.Generation()
		_ = s.Input()
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("control calls blocked behind a stalled sink")
	}
	assert.False(t, s.Running())
	assert.Equal(t, uint64(2), s.Generation())

	close(sink.release)
	s.Close()
	assert.Equal(t, int32(501), sink.ends.Load(), "queued events are delivered once the sink recovers")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "running", Running.String())
}
