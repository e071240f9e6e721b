package indexer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrSyncInProgress is returned by RunNow while another run is executing.
var ErrSyncInProgress = errors.New("sync already in progress")

// Runner runs one sync pass. *Engine implements it.
type Runner interface {
	RunSync(ctx context.Context, mode Mode) (*Report, error)
}

// CompletionFunc observes every finished run.
type CompletionFunc func(rep *Report, err error)

// Scheduler runs syncs periodically and on demand, one at a time.
//
// Triggers arriving while a run is queued are coalesced into it; a full
// trigger upgrades a queued incremental run.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	tickMode Mode
	logger   *zap.Logger

	triggerCh chan struct{}
	pendingMu sync.Mutex
	pending   Mode

	runMu sync.Mutex

	stateMu    sync.RWMutex
	running    bool
	lastReport *Report
	lastErr    error
	lastRunAt  time.Time
	onComplete []CompletionFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickMode sets the mode of periodic runs. The default is incremental.
func WithTickMode(mode Mode) SchedulerOption {
	return func(s *Scheduler) {
		s.tickMode = mode
	}
}

// NewScheduler creates a scheduler. An interval of zero disables periodic
// runs; triggers still work.
func NewScheduler(runner Runner, interval time.Duration, logger *zap.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		runner:    runner,
		interval:  interval,
		tickMode:  ModeIncremental,
		logger:    logger,
		triggerCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnComplete registers a callback run after every sync, from the
// scheduler's goroutine.
func (s *Scheduler) OnComplete(fn CompletionFunc) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.onComplete = append(s.onComplete, fn)
}

// Start launches the scheduling loop. It stops when ctx ends or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	s.logger.Info("sync scheduler started", zap.Duration("interval", s.interval))
}

// Stop cancels any running sync and waits for the loop to exit.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.logger.Info("sync scheduler stopping")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("sync scheduler stopped")
}

// Trigger requests a run without blocking.
func (s *Scheduler) Trigger(mode Mode) {
	s.pendingMu.Lock()
	if s.pending != ModeFull {
		s.pending = mode
	}
	s.pendingMu.Unlock()

	select {
	case s.triggerCh <- struct{}{}:
	default:
		s.logger.Debug("sync trigger coalesced", zap.String("mode", string(mode)))
	}
}

func (s *Scheduler) takePending() Mode {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	mode := s.pending
	s.pending = ""
	if mode == "" {
		mode = ModeIncremental
	}
	return mode
}

func (s *Scheduler) loop() {
	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-tick:
			s.runLocked(s.ctx, s.tickMode)
		case <-s.triggerCh:
			s.runLocked(s.ctx, s.takePending())
		}
	}
}

// RunNow runs a sync synchronously unless one is already executing.
func (s *Scheduler) RunNow(ctx context.Context, mode Mode) (*Report, error) {
	if !s.runMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.runMu.Unlock()
	return s.execute(ctx, mode)
}

func (s *Scheduler) runLocked(ctx context.Context, mode Mode) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	_, _ = s.execute(ctx, mode)
}

func (s *Scheduler) execute(ctx context.Context, mode Mode) (*Report, error) {
	s.setRunning(true)
	rep, err := s.runner.RunSync(ctx, mode)

	s.stateMu.Lock()
	s.running = false
	s.lastRunAt = time.Now()
	if rep != nil {
		s.lastReport = rep
	}
	s.lastErr = err
	hooks := append([]CompletionFunc(nil), s.onComplete...)
	s.stateMu.Unlock()

	if err != nil {
		s.logger.Warn("scheduled sync ended with error", zap.String("mode", string(mode)), zap.Error(err))
	}
	for _, fn := range hooks {
		fn(rep, err)
	}
	return rep, err
}

func (s *Scheduler) setRunning(v bool) {
	s.stateMu.Lock()
	s.running = v
	s.stateMu.Unlock()
}

// Status describes the scheduler for operators.
type Status struct {
	Running    bool      `json:"running"`
	LastRunAt  time.Time `json:"last_run_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	LastReport *Report   `json:"last_report,omitempty"`
}

// Status returns the state of the last run.
func (s *Scheduler) Status() Status {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	st := Status{Running: s.running, LastRunAt: s.lastRunAt, LastReport: s.lastReport}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
