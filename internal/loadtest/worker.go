package loadtest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/FairForge/docstress/internal/config"
	"github.com/FairForge/docstress/internal/metrics"
	"github.com/FairForge/docstress/internal/session"
	"github.com/FairForge/docstress/internal/stats"
	"github.com/FairForge/docstress/internal/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// State is a worker's lifecycle stage.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrAlreadyStarted is returned when Run is called on a used worker.
var ErrAlreadyStarted = errors.New("worker already started")

// Connector opens sessions. *session.Connector implements it.
type Connector interface {
	Connect(ctx context.Context, documentURL, sessionID string) (*session.Conn, error)
}

// TraceOpener opens trace sources. *trace.Opener implements it.
type TraceOpener interface {
	Open(ctx context.Context, source string) (*trace.StreamReader, error)
}

// Result is the outcome of one worker run.
type Result struct {
	Target   string
	Replica  int
	Duration time.Duration
	Err      error
}

// Ok reports whether the run completed.
func (r Result) Ok() bool { return r.Err == nil }

// Stopped reports whether the run ended because it was cancelled.
func (r Result) Stopped() bool {
	return errors.Is(r.Err, context.Canceled)
}

// ReplayStats counts what a replay did with its records.
type ReplayStats struct {
	Records        int
	Sent           int
	Outgoing       int
	SessionsOpened int
	SessionsClosed int
	Dropped        int
}

// Worker drives one target: a document URL in benchmark mode or a trace
// source in replay mode.
type Worker struct {
	cfg        config.Config
	target     string
	replica    int
	connector  Connector
	opener     TraceOpener
	sessionIDs *atomic.Uint64
	logger     *zap.Logger
	metrics    *metrics.Collector
	limiter    *rate.Limiter

	// overridable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	state       atomic.Int32
	samples     stats.Samples
	replayStats ReplayStats
	reg         *registry
}

// NewWorker creates an idle worker. sessionIDs supplies benchmark session
// ids and is normally shared by every worker of a run.
func NewWorker(cfg config.Config, target string, replica int, connector Connector, opener TraceOpener,
	sessionIDs *atomic.Uint64, logger *zap.Logger, collector *metrics.Collector) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sessionIDs == nil {
		sessionIDs = new(atomic.Uint64)
	}

	w := &Worker{
		cfg:        cfg,
		target:     target,
		replica:    replica,
		connector:  connector,
		opener:     opener,
		sessionIDs: sessionIDs,
		logger:     logger.With(zap.String("target", target), zap.Int("replica", replica)),
		metrics:    collector,
		now:        time.Now,
		sleep:      sleepContext,
		reg:        newRegistry(),
	}
	if cfg.Run.RecordRate > 0 {
		burst := int(cfg.Run.RecordRate)
		if burst < 1 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(cfg.Run.RecordRate), burst)
	}
	return w
}

// State returns the current lifecycle stage.
func (w *Worker) State() State { return State(w.state.Load()) }

// Samples returns the benchmark measurements. Read it only after Run
// returns.
func (w *Worker) Samples() stats.Samples { return w.samples }

// ReplayStats returns replay counters. Read it only after Run returns.
func (w *Worker) ReplayStats() ReplayStats { return w.replayStats }

// Run executes the worker's mode once. Failures, including panics, are
// returned in the Result and never propagate.
func (w *Worker) Run(ctx context.Context) (res Result) {
	res = Result{Target: w.target, Replica: w.replica}
	if !w.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		res.Err = ErrAlreadyStarted
		return res
	}

	start := w.now()
	w.metrics.WorkerStarted()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			res.Err = fmt.Errorf("worker panic: %v", r)
		}
		res.Duration = w.now().Sub(start)
		w.state.Store(int32(StateTerminated))
		w.metrics.WorkerFinished(res.Err == nil)
	}()

	if w.cfg.Run.Benchmark {
		res.Err = w.benchmark(ctx)
	} else {
		res.Err = w.runReplay(ctx)
	}
	return res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
