package emission

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/karma_ledger/internal/app/domain/protocol"
	"github.com/R3E-Network/karma_ledger/internal/app/system"
	"github.com/R3E-Network/karma_ledger/pkg/logger"
)

var _ system.Service = (*Scheduler)(nil)

// Runner executes one emission cycle.
type Runner interface {
	RunOnce(ctx context.Context) (protocol.Result, error)
}

// Scheduler triggers emission once at start and then on a fixed interval.
// Overlapping ticks are skipped, and stopping waits for an in-flight run to
// finish instead of cancelling it.
type Scheduler struct {
	runner   Runner
	log      *logger.Logger
	interval time.Duration

	mu       sync.Mutex
	cron     *cron.Cron
	runCtx   context.Context
	running  bool
	busy     atomic.Bool
	inflight sync.WaitGroup
}

// NewScheduler creates a lifecycle-managed emission scheduler. A
// non-positive interval disables it.
func NewScheduler(runner Runner, interval time.Duration, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("emission-scheduler")
	}
	return &Scheduler{
		runner:   runner,
		log:      log,
		interval: interval,
	}
}

func (s *Scheduler) Name() string { return "protocol-emission-scheduler" }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.interval <= 0 {
		s.log.Warn("emission interval not set; scheduler disabled")
		return nil
	}

	c := cron.New(
		cron.WithLogger(cron.PrintfLogger(s.log)),
		cron.WithChain(cron.Recover(cron.PrintfLogger(s.log)), cron.SkipIfStillRunning(cron.PrintfLogger(s.log))),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), s.tick); err != nil {
		return fmt.Errorf("schedule emission: %w", err)
	}
	// Runs must not observe shutdown: an in-flight cycle commits or aborts on
	// its own.
	s.runCtx = context.WithoutCancel(ctx)
	s.cron = c
	s.running = true
	c.Start()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.tick()
	}()

	s.log.WithField("interval", s.interval.String()).Info("emission scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.running = false
	s.cron = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("emission scheduler stopped")
	return nil
}

func (s *Scheduler) tick() {
	if !s.busy.CompareAndSwap(false, true) {
		s.log.Debug("emission run still in flight; tick skipped")
		return
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.runner.RunOnce(ctx)
	if err != nil {
		s.log.WithError(err).Warn("scheduled emission run failed")
		return
	}
	s.log.WithField("emitted", result.Emitted).
		WithField("block_id", result.BlockID).
		Debug("scheduled emission run finished")
}
