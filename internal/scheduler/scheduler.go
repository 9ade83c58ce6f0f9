// Package scheduler fans a batch of records out over a bounded worker pool
// and streams back one result per record.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/report-harvester/internal/harvest"
)

// Mode selects the execution strategy.
type Mode string

// Supported execution modes.
const (
	// ModeSequential processes records one at a time in batch order.
	ModeSequential Mode = "sequential"
	// ModePool processes records on a fixed-size pool of workers.
	ModePool Mode = "pool"
)

// Config controls how a batch is scheduled.
type Config struct {
	Mode Mode
	// Workers is the pool size in ModePool; zero means runtime.NumCPU().
	Workers   int
	OutputDir string
}

// Scheduler drives an Acquirer across a batch.
type Scheduler struct {
	acquirer harvest.Acquirer
	cfg      Config
	observer harvest.Observer
	logger   *zap.Logger
}

// New creates a Scheduler.
func New(acquirer harvest.Acquirer, cfg Config, observer harvest.Observer, logger *zap.Logger) (*Scheduler, error) {
	if acquirer == nil {
		return nil, fmt.Errorf("acquirer is required")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModePool
	case ModePool, ModeSequential:
	default:
		return nil, fmt.Errorf("unknown scheduler mode %q", cfg.Mode)
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("workers must be >= 0")
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if observer == nil {
		observer = harvest.NopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		acquirer: acquirer,
		cfg:      cfg,
		observer: observer,
		logger:   logger,
	}, nil
}

// Workers returns the effective concurrency.
func (s *Scheduler) Workers() int {
	if s.cfg.Mode == ModeSequential {
		return 1
	}
	return s.cfg.Workers
}

// Stream prepares the output directory and starts processing batch. Exactly
// one Result per record is delivered on the returned channel, which is
// closed once every worker has finished. In sequential mode results arrive in
// batch order. Canceling ctx stops dispatch; undispatched records are
// reported as failed with the context error.
func (s *Scheduler) Stream(ctx context.Context, batch harvest.Batch) (<-chan harvest.Result, error) {
	if err := prepareOutputDir(s.cfg.OutputDir); err != nil {
		return nil, err
	}
	results := make(chan harvest.Result, len(batch))
	go func() {
		defer close(results)
		if s.cfg.Mode == ModeSequential {
			s.runSequential(ctx, batch, results)
			return
		}
		s.runPool(ctx, batch, results)
	}()
	return results, nil
}

// Run processes batch and blocks until every record has a result.
func (s *Scheduler) Run(ctx context.Context, batch harvest.Batch) ([]harvest.Result, error) {
	stream, err := s.Stream(ctx, batch)
	if err != nil {
		return nil, err
	}
	out := make([]harvest.Result, 0, len(batch))
	for res := range stream {
		out = append(out, res)
	}
	return out, nil
}

func (s *Scheduler) runSequential(ctx context.Context, batch harvest.Batch, results chan<- harvest.Result) {
	s.logger.Info("processing batch sequentially", zap.Int("records", len(batch)))
	for _, rec := range batch {
		if err := ctx.Err(); err != nil {
			s.emit(results, canceled(rec, err))
			continue
		}
		s.emit(results, s.process(ctx, rec))
	}
}

func (s *Scheduler) runPool(ctx context.Context, batch harvest.Batch, results chan<- harvest.Result) {
	s.logger.Info("processing batch on worker pool",
		zap.Int("records", len(batch)),
		zap.Int("workers", s.cfg.Workers),
	)
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, rec := range batch {
		if err := ctx.Err(); err != nil {
			s.emit(results, canceled(rec, err))
			continue
		}
		g.Go(func() error {
			s.emit(results, s.process(ctx, rec))
			return nil
		})
	}
	_ = g.Wait()
}

// process runs the acquirer for one record and turns a worker crash into a
// failed result.
func (s *Scheduler) process(ctx context.Context, rec harvest.Record) (res harvest.Result) {
	s.observer.WorkerStarted()
	defer s.observer.WorkerFinished()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("worker crashed",
				zap.String("record_id", rec.ID),
				zap.Any("panic", r),
			)
			res = harvest.Result{
				RecordID: rec.ID,
				Outcome:  harvest.OutcomeFailed,
				Err:      fmt.Errorf("worker panic: %v", r),
			}
		}
	}()
	outcome := s.acquirer.Acquire(ctx, rec, s.cfg.OutputDir)
	return harvest.Result{RecordID: rec.ID, Outcome: outcome}
}

func (s *Scheduler) emit(results chan<- harvest.Result, res harvest.Result) {
	s.observer.ObserveOutcome(res.Outcome)
	results <- res
}

func canceled(rec harvest.Record, err error) harvest.Result {
	return harvest.Result{
		RecordID: rec.ID,
		Outcome:  harvest.OutcomeFailed,
		Err:      fmt.Errorf("not dispatched: %w", err),
	}
}

// prepareOutputDir creates dir if needed and verifies it is a writable directory.
func prepareOutputDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return fmt.Errorf("create output directory: %w", mkErr)
		}
	case err != nil:
		return fmt.Errorf("stat output directory: %w", err)
	case !info.IsDir():
		return fmt.Errorf("output path %s is not a directory", dir)
	}

	probe := filepath.Join(dir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("output directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("clean up write probe: %w", err)
	}
	return nil
}
