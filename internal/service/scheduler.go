package service

import (
	"context"
	"sync"
	"time"

	"github.com/donorflow/donorflow/internal/domain"
	"github.com/donorflow/donorflow/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// DelayScheduler is the engine's heartbeat. On every tick it claims the
// executions whose fire time has arrived and runs them on a bounded worker
// pool, then advances the schedule-typed triggers. Due work is claimed in
// fire-time order straight from the store, so a restart resumes exactly
// where the previous process stopped.
type DelayScheduler struct {
	execRepo domain.ExecutionRepository
	runner   *Runner
	triggers *TriggerEvaluator
	logger   logger.Logger

	interval  time.Duration
	batchSize int
	workers   int

	stopChan    chan struct{}
	stoppedChan chan struct{}
	mu          sync.Mutex
	running     bool
}

// SchedulerConfig holds the delay scheduler tuning knobs
type SchedulerConfig struct {
	Interval  time.Duration
	BatchSize int
	Workers   int
}

// NewDelayScheduler creates a new delay scheduler
func NewDelayScheduler(
	execRepo domain.ExecutionRepository,
	runner *Runner,
	triggers *TriggerEvaluator,
	log logger.Logger,
	cfg SchedulerConfig,
) *DelayScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	return &DelayScheduler{
		execRepo:    execRepo,
		runner:      runner,
		triggers:    triggers,
		logger:      log,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		workers:     cfg.Workers,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start begins the scheduler loop
func (s *DelayScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("Delay scheduler already running")
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"interval":   s.interval,
		"batch_size": s.batchSize,
		"workers":    s.workers,
	}).Info("Starting delay scheduler")

	go s.run(ctx)
}

// Stop gracefully stops the scheduler, waiting for the in-flight batch
func (s *DelayScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)

	select {
	case <-s.stoppedChan:
		s.logger.Info("Delay scheduler stopped")
	case <-time.After(30 * time.Second):
		s.logger.Warn("Delay scheduler stop timeout exceeded")
	}
}

func (s *DelayScheduler) run(ctx context.Context) {
	defer close(s.stoppedChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Catch up immediately on start: anything that came due while the
	// process was down is claimed on the first pass
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *DelayScheduler) tick(ctx context.Context) {
	s.processDue(ctx)
	s.triggers.OnTick(ctx)
}

// processDue drains the due executions in fire-time order. The claim marks
// rows running inside the store, so concurrent engine instances never pick
// up the same execution twice.
func (s *DelayScheduler) processDue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		default:
		}

		due, err := s.execRepo.ClaimDue(ctx, time.Now().UTC(), s.batchSize)
		if err != nil {
			s.logger.WithField("error", err.Error()).Error("Failed to claim due executions")
			return
		}
		if len(due) == 0 {
			return
		}

		s.logger.WithField("count", len(due)).Info("Processing due executions")

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)
		for _, execution := range due {
			execution := execution
			g.Go(func() error {
				if err := s.runner.Run(gctx, execution); err != nil {
					s.logger.WithFields(map[string]interface{}{
						"execution_id": execution.ID,
						"error":        err.Error(),
					}).Error("Failed to process due execution")
				}
				return nil
			})
		}
		_ = g.Wait()

		if len(due) < s.batchSize {
			return
		}
	}
}
