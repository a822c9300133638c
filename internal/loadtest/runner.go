package loadtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FairForge/docstress/internal/config"
	"github.com/FairForge/docstress/internal/metrics"
	"github.com/FairForge/docstress/internal/pipeio"
	"github.com/FairForge/docstress/internal/stats"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Mode names what a run does with its targets.
type Mode string

const (
	ModeReplay    Mode = "replay"
	ModeBenchmark Mode = "benchmark"
)

// Summary aggregates a finished run.
type Summary struct {
	RunID     string
	Mode      Mode
	StartTime time.Time
	EndTime   time.Time
	Results   []Result
	Failed    int
	Stopped   int

	// Benchmark mode only.
	Samples stats.Samples
	Stats   *stats.Summary

	// Replay mode only, summed over workers.
	Replay ReplayStats
}

// Option customizes a Runner.
type Option func(*Runner)

// WithLogger sets the run logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Runner) { r.metrics = c }
}

// WithControl reads stop and status commands from rd while the run lasts.
func WithControl(rd *pipeio.PipeReader) Option {
	return func(r *Runner) { r.control = rd }
}

// Runner starts one worker per target replica and waits for all of them.
type Runner struct {
	cfg       config.Config
	connector Connector
	opener    TraceOpener
	logger    *zap.Logger
	metrics   *metrics.Collector
	control   *pipeio.PipeReader

	sessionIDs atomic.Uint64
	finished   atomic.Int64

	mu      sync.RWMutex
	running bool
	workers []*Worker
}

// NewRunner creates a Runner. cfg is copied.
func NewRunner(cfg config.Config, connector Connector, opener TraceOpener, opts ...Option) *Runner {
	r := &Runner{
		cfg:       cfg,
		connector: connector,
		opener:    opener,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cfg.Run.ClientsPerDocument < 1 {
		r.cfg.Run.ClientsPerDocument = 1
	}
	return r
}

// Run drives every target to completion. Worker failures are reported in
// the Summary and never abort sibling workers.
func (r *Runner) Run(ctx context.Context, targets []string) (*Summary, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, fmt.Errorf("run already in progress")
	}
	r.running = true
	r.workers = nil
	r.finished.Store(0)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	summary := &Summary{
		RunID:     uuid.NewString(),
		Mode:      ModeReplay,
		StartTime: time.Now(),
	}
	if r.cfg.Run.Benchmark {
		summary.Mode = ModeBenchmark
	}
	logger := r.logger.With(zap.String("run_id", summary.RunID))
	logger.Info("starting run",
		zap.String("mode", string(summary.Mode)),
		zap.Int("targets", len(targets)),
		zap.Int("clients_per_doc", r.cfg.Run.ClientsPerDocument))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var controlDone chan struct{}
	if r.control != nil {
		controlDone = make(chan struct{})
		go func() {
			defer close(controlDone)
			r.watchControl(runCtx, cancel, logger)
		}()
	}

	for _, target := range targets {
		logger.Info("Arg", zap.String("target", target))
	}

	workers := make([]*Worker, 0, len(targets)*r.cfg.Run.ClientsPerDocument)
	for _, target := range targets {
		for replica := 0; replica < r.cfg.Run.ClientsPerDocument; replica++ {
			workers = append(workers, NewWorker(r.cfg, target, replica, r.connector, r.opener,
				&r.sessionIDs, logger, r.metrics))
		}
	}
	r.mu.Lock()
	r.workers = workers
	r.mu.Unlock()

	results := make([]Result, len(workers))
	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w *Worker) {
			defer wg.Done()
			results[i] = w.Run(runCtx)
			r.finished.Add(1)
		}(i, w)
	}
	wg.Wait()

	cancel()
	if controlDone != nil {
		<-controlDone
	}

	summary.EndTime = time.Now()
	summary.Results = results
	for _, res := range results {
		switch {
		case res.Ok():
		case res.Stopped():
			summary.Stopped++
			logger.Warn("worker stopped", zap.String("target", res.Target), zap.Int("replica", res.Replica))
		default:
			summary.Failed++
			logger.Error("worker failed",
				zap.String("target", res.Target),
				zap.Int("replica", res.Replica),
				zap.Duration("duration", res.Duration),
				zap.Error(res.Err))
		}
	}

	if r.cfg.Run.Benchmark {
		sets := make([]stats.Samples, 0, len(workers))
		for _, w := range workers {
			sets = append(sets, w.Samples())
		}
		summary.Samples = stats.Merge(sets...)
		st := stats.Summarize(summary.Samples, TileWidthPixels, TileHeightPixels)
		summary.Stats = &st
	} else {
		for _, w := range workers {
			rs := w.ReplayStats()
			summary.Replay.Records += rs.Records
			summary.Replay.Sent += rs.Sent
			summary.Replay.Outgoing += rs.Outgoing
			summary.Replay.SessionsOpened += rs.SessionsOpened
			summary.Replay.SessionsClosed += rs.SessionsClosed
			summary.Replay.Dropped += rs.Dropped
		}
	}

	logger.Info("run finished",
		zap.Duration("elapsed", summary.EndTime.Sub(summary.StartTime)),
		zap.Int("workers", len(workers)),
		zap.Int("failed", summary.Failed),
		zap.Int("stopped", summary.Stopped))
	return summary, nil
}

// IsRunning reports whether Run is in progress.
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Progress returns how many workers are running and how many have
// finished.
func (r *Runner) Progress() (running, finished int) {
	r.mu.RLock()
	total := len(r.workers)
	r.mu.RUnlock()

	done := int(r.finished.Load())
	return total - done, done
}
