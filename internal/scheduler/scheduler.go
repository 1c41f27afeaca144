// ============================================================================
// lapboard Scheduler - periodic refresh coordinator
// ============================================================================
//
// Package: internal/scheduler
// File: scheduler.go
// Function: Drives fetch -> rank -> deliver cycles on a timer with start/stop
//
// Architecture:
//   ┌────────────┐  Submit   ┌────────────┐  Result   ┌─────────────┐
//   │  trigger   │ ────────> │ worker.Pool│ ────────> │ resultLoop  │
//   │ (timer /   │           │ (1 worker) │           │             │
//   │  Start /   │           └────────────┘           └─────────────┘
//   │ RefreshNow)│                                           │
//   └────────────┘                                           │
//         │              outbox (FIFO)                       │
//         └──────────────────> deliverLoop <─────────────────┘
//                                  │
//                                  v
//                                 Sink
//
// Goroutines:
//   1. resultLoop  - receives worker results, emits result/error + loading end,
//                    reschedules the next periodic cycle
//   2. deliverLoop - the only caller of Sink; drains the outbox in order
//   3. time.AfterFunc callbacks - fire periodic triggers
//
// State:
//   state, generation, timer, busy/busyGen, input are guarded by mu.
//   generation increments on every Start and Stop. A timer or completion that
//   carries an older generation never reschedules.
//
// Single-flight:
//   A trigger is skipped while a cycle of the same generation is in flight.
//   A skipped periodic trigger clears the timer, so the in-flight cycle
//   reschedules on completion and the chain keeps going.
//
// Outbox:
//   An unbounded FIFO (slice + sync.Cond) with its own mutex. Emitting never
//   waits on the sink, so a stalled sink cannot hold mu and freeze the
//   control calls. Events pile up in memory until the sink drains them.
//
// Sinks run on deliverLoop and must not call back into the Scheduler
// synchronously.
//
// ============================================================================

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChuLiYu/lapboard/internal/metrics"
	"github.com/ChuLiYu/lapboard/internal/standings"
	"github.com/ChuLiYu/lapboard/internal/worker"
	"github.com/ChuLiYu/lapboard/pkg/types"
)

const (
	DefaultInterval     = 5 * time.Second
	DefaultCycleTimeout = 30 * time.Second

	queueSize = 8
)

var (
	// ErrClosed is returned by every call after Close
	ErrClosed = errors.New("scheduler is closed")
	// ErrCycleInFlight is returned by RefreshNow when a cycle is already running
	ErrCycleInFlight = errors.New("refresh cycle already in flight")
)

// Fetcher retrieves one session snapshot. *speedhive.Client implements it.
type Fetcher interface {
	FetchSession(ctx context.Context, eventID, sessionID string) (types.SessionSnapshot, error)
}

// Sink receives the outcome of every cycle. Exactly one of OnResult or
// OnError is called per cycle, always between OnLoadingStart and OnLoadingEnd.
type Sink interface {
	OnLoadingStart()
	OnResult(board types.Leaderboard)
	OnError(err error)
	OnLoadingEnd()
}

// State is the scheduler run state
type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Config Scheduler 配置
type Config struct {
	Interval     time.Duration      // delay between the end of a cycle and the next one
	CycleTimeout time.Duration      // deadline for fetch + rank
	Input        types.Input        // initial form input
	Logger       *slog.Logger       // defaults to slog.Default()
	Metrics      *metrics.Collector // optional
}

// ============================================================================
// 資料結構定義
// ============================================================================

type eventKind int

const (
	evLoadingStart eventKind = iota
	evResult
	evError
	evLoadingEnd
)

type event struct {
	kind  eventKind
	board types.Leaderboard
	err   error
}

// Scheduler runs refresh cycles. It is safe for concurrent use.
type Scheduler struct {
	mu         sync.Mutex
	state      State
	generation uint64
	timer      *time.Timer // pending periodic trigger, nil if none
	busy       bool        // a cycle is in flight
	busyGen    uint64      // generation of the in-flight cycle
	closed     bool
	input      types.Input

	cfg     Config
	pool    *worker.Pool
	sink    Sink
	log     *slog.Logger
	metrics *metrics.Collector

	// outbox 佇列，獨立於 mu
	outMu     sync.Mutex
	outCond   *sync.Cond
	outbox    []event
	outClosed bool

	closeOnce sync.Once
	resultWg  sync.WaitGroup
	deliverWg sync.WaitGroup
}

// New builds a Scheduler and starts its worker and loops. The scheduler
// starts Stopped.
func New(cfg Config, fetcher Fetcher, sink Sink) (*Scheduler, error) {
	if fetcher == nil {
		return nil, errors.New("scheduler: fetcher is required")
	}
	if sink == nil {
		return nil, errors.New("scheduler: sink is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = DefaultCycleTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	run := func(ctx context.Context, q types.Query) (types.Leaderboard, error) {
		snap, err := fetcher.FetchSession(ctx, q.EventID, q.SessionID)
		if err != nil {
			return types.Leaderboard{}, err
		}
		return standings.Rank(snap, q), nil
	}

	pool := worker.NewPool(queueSize, run)
	if err := pool.Start(1); err != nil {
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}

	s := &Scheduler{
		state:   Stopped,
		input:   cfg.Input,
		cfg:     cfg,
		pool:    pool,
		sink:    sink,
		log:     logger,
		metrics: cfg.Metrics,
	}
	s.outCond = sync.NewCond(&s.outMu)
	s.metrics.SetRunning(false)
	logger.Debug("scheduler ready", "workers", pool.GetWorkerCount(), "interval", cfg.Interval)

	s.resultWg.Add(1)
	go s.resultLoop()
	s.deliverWg.Add(1)
	go s.deliverLoop()

	return s, nil
}

// ============================================================================
// Control
// ============================================================================

// Start switches to Running and triggers a cycle immediately. It is a no-op
// when already Running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.state == Running {
		return nil
	}
	s.state = Running
	s.generation++
	s.metrics.SetRunning(true)
	s.log.Info("periodic refresh started", "generation", s.generation, "interval", s.cfg.Interval)

	// The outcome of the first cycle goes to the sink.
	_ = s.cycleLocked()
	return nil
}

// Stop switches to Stopped and cancels the pending timer. A cycle in flight
// still delivers its result but does not schedule another.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Stopped {
		return
	}
	s.stopLocked()
	s.log.Info("periodic refresh stopped", "generation", s.generation)
}

// RefreshNow runs one cycle under the current generation. It never starts the
// periodic chain. A validation error is returned as well as delivered.
func (s *Scheduler) RefreshNow() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return s.cycleLocked()
}

// Close stops the scheduler, waits for the in-flight cycle, delivers every
// pending event and stops the loops.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.stopLocked()
		s.mu.Unlock()

		s.pool.Stop()
		s.resultWg.Wait()
		s.outMu.Lock()
		s.outClosed = true
		s.outCond.Signal()
		s.outMu.Unlock()
		s.deliverWg.Wait()
		s.log.Debug("scheduler closed")
	})
}

// SetInput replaces the input used by the next cycle.
func (s *Scheduler) SetInput(in types.Input) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = in
}

// Input returns the current input.
func (s *Scheduler) Input() types.Input {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// Running reports whether periodic refresh is on.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Running
}

// Generation returns the current generation.
func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// ============================================================================
// Cycle
// ============================================================================

func (s *Scheduler) stopLocked() {
	s.state = Stopped
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.metrics.SetRunning(false)
}

// fire is the periodic timer callback.
func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != Running || gen != s.generation {
		return
	}
	s.timer = nil
	_ = s.cycleLocked()
}

// cycleLocked starts one cycle: loading start, validation, submit.
func (s *Scheduler) cycleLocked() error {
	if s.busy && s.busyGen == s.generation {
		s.metrics.RecordCycleSkipped()
		s.log.Debug("refresh skipped, cycle in flight", "generation", s.generation)
		return ErrCycleInFlight
	}

	s.emitLocked(event{kind: evLoadingStart})

	q, err := s.input.Parse()
	if err != nil {
		s.metrics.RecordValidationError()
		s.log.Warn("invalid refresh input", "error", err)
		s.failLocked(err)
		return err
	}

	task := worker.Task{
		ID:         uuid.NewString(),
		Generation: s.generation,
		Query:      q,
		Timeout:    s.cfg.CycleTimeout,
	}
	if err := s.pool.Submit(task); err != nil {
		s.log.Error("failed to submit refresh cycle", "cycle", task.ID, "error", err)
		s.failLocked(err)
		return err
	}

	s.busy = true
	s.busyGen = s.generation
	s.metrics.RecordCycleStarted()
	s.log.Debug("refresh cycle submitted",
		"cycle", task.ID,
		"generation", task.Generation,
		"event", q.EventID,
		"session", q.SessionID,
		"laps", q.Laps,
		"method", q.Method)
	return nil
}

// failLocked ends a cycle that never reached the worker.
func (s *Scheduler) failLocked(err error) {
	s.emitLocked(event{kind: evError, err: err})
	s.emitLocked(event{kind: evLoadingEnd})
	s.rescheduleLocked()
}

func (s *Scheduler) rescheduleLocked() {
	if s.closed || s.state != Running || s.timer != nil {
		return
	}
	gen := s.generation
	s.timer = time.AfterFunc(s.cfg.Interval, func() { s.fire(gen) })
}

// emitLocked appends to the outbox. It never blocks on the sink.
func (s *Scheduler) emitLocked(ev event) {
	s.outMu.Lock()
	s.outbox = append(s.outbox, ev)
	s.outCond.Signal()
	s.outMu.Unlock()
}

// ============================================================================
// Loops
// ============================================================================

func (s *Scheduler) resultLoop() {
	defer s.resultWg.Done()

	for {
		res, err := s.pool.ReceiveResult()
		if err != nil {
			return
		}
		s.complete(res)
	}
}

func (s *Scheduler) complete(res worker.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy && s.busyGen == res.Generation {
		s.busy = false
	}

	if res.Err != nil {
		s.metrics.RecordCycleFailed(res.Duration.Seconds())
		s.log.Warn("refresh cycle failed",
			"cycle", res.TaskID,
			"generation", res.Generation,
			"duration", res.Duration,
			"error", res.Err)
		s.emitLocked(event{kind: evError, err: res.Err})
	} else {
		s.metrics.RecordCycleSucceeded(res.Duration.Seconds(), len(res.Board.Results), res.Board.Missing)
		s.log.Info("refresh cycle completed",
			"cycle", res.TaskID,
			"generation", res.Generation,
			"duration", res.Duration,
			"ranked", len(res.Board.Results),
			"missing", res.Board.Missing)
		s.emitLocked(event{kind: evResult, board: res.Board})
	}
	s.emitLocked(event{kind: evLoadingEnd})

	if res.Generation == s.generation {
		s.rescheduleLocked()
	}
}

func (s *Scheduler) deliverLoop() {
	defer s.deliverWg.Done()

	for {
		s.outMu.Lock()
		for len(s.outbox) == 0 && !s.outClosed {
			s.outCond.Wait()
		}
		if len(s.outbox) == 0 {
			s.outMu.Unlock()
			return
		}
		batch := s.outbox
		s.outbox = nil
		s.outMu.Unlock()

		for _, ev := range batch {
			s.deliver(ev)
		}
	}
}

// deliver hands one event to the sink. A panicking sink is logged and the
// loop keeps going.
func (s *Scheduler) deliver(ev event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("result sink panicked", "panic", r)
		}
	}()

	switch ev.kind {
	case evLoadingStart:
		s.sink.OnLoadingStart()
	case evResult:
		s.sink.OnResult(ev.board)
	case evError:
		s.sink.OnError(ev.err)
	case evLoadingEnd:
		s.sink.OnLoadingEnd()
	}
}
