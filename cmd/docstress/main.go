// cmd/docstress/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FairForge/docstress/internal/config"
	"github.com/FairForge/docstress/internal/loadtest"
	"github.com/FairForge/docstress/internal/logging"
	"github.com/FairForge/docstress/internal/metrics"
	"github.com/FairForge/docstress/internal/pipeio"
	"github.com/FairForge/docstress/internal/session"
	"github.com/FairForge/docstress/internal/trace"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// sysexits(3)
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 64
	exitNoInput = 66
)

// exitError carries a process exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, ee.err)
		}
		return ee.code
	}

	// flag parse failures
	fmt.Fprintln(stderr, err)
	fmt.Fprint(stderr, cmd.UsageString())
	return exitUsage
}

type options struct {
	configPath    string
	bench         bool
	noDelay       bool
	clientsPerDoc int
	server        string
	timeout       time.Duration
	recordRate    float64
	controlPipe   string
	metricsAddr   string
	logLevel      string
	logFormat     string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "docstress [flags] <trace or document> [...]",
		Short: "Load-test a collaborative document server",
		Long: "Replays captured session traces against a document server, or with --bench\n" +
			"measures edit latency and tile rendering throughput on the given documents.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprint(stderr, cmd.UsageString())
				return &exitError{code: exitNoInput}
			}

			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}
			cfg.Log.Output = stderr

			if err := execute(cmd.Context(), cfg, args, stdout); err != nil {
				return &exitError{code: exitFailure, err: err}
			}
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	f.BoolVar(&opts.bench, "bench", false, "Benchmark tile rendering on the given documents instead of replaying traces")
	f.BoolVar(&opts.noDelay, "nodelay", false, "Replay records as fast as possible, ignoring captured timing")
	f.IntVar(&opts.clientsPerDoc, "clientsperdoc", 1, "Concurrent workers per target (values below 1 become 1)")
	f.StringVar(&opts.server, "server", config.DefaultServerURI, "Server URI")
	f.DurationVar(&opts.timeout, "timeout", 10*time.Second, "How long to wait for each server response")
	f.Float64Var(&opts.recordRate, "record-rate", 0, "Maximum replayed records per second per worker, 0 for no limit")
	f.StringVar(&opts.controlPipe, "control-pipe", "", "Named pipe accepting stop and status commands")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.StringVar(&opts.logLevel, "log-level", logging.LevelInfo, "Log level (debug, info, warn, error)")
	f.StringVar(&opts.logFormat, "log-format", logging.FormatConsole, "Log format (console, json)")

	return cmd
}

// loadConfig layers defaults, the config file, the environment and the
// flags that were set explicitly, in that order.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		if err := config.LoadFile(opts.configPath, cfg); err != nil {
			return nil, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	f := cmd.Flags()
	if f.Changed("bench") {
		cfg.Run.Benchmark = opts.bench
	}
	if f.Changed("nodelay") {
		cfg.Run.NoDelay = opts.noDelay
	}
	if f.Changed("clientsperdoc") {
		cfg.Run.ClientsPerDocument = opts.clientsPerDoc
	}
	if f.Changed("server") {
		cfg.Server.URI = opts.server
	}
	if f.Changed("timeout") {
		cfg.Run.ReceiveTimeout = opts.timeout
	}
	if f.Changed("record-rate") {
		cfg.Run.RecordRate = opts.recordRate
	}
	if f.Changed("control-pipe") {
		cfg.Run.ControlPipe = opts.controlPipe
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if f.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if f.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func execute(ctx context.Context, cfg *config.Config, targets []string, stdout io.Writer) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	collector := metrics.NewCollector()
	if cfg.Metrics.Addr != "" {
		ms, err := metrics.Listen(cfg.Metrics.Addr, logger)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := ms.Shutdown(sctx); err != nil {
				logger.Warn("metrics shutdown", zap.Error(err))
			}
		}()
	}

	connector := session.NewConnector(cfg.Server.URI, session.Options{
		PathPrefix:     cfg.Server.PathPrefix,
		Timeout:        cfg.Run.ReceiveTimeout,
		ConnectTimeout: cfg.Server.ConnectTimeout,
		Logger:         logger,
		Metrics:        collector,
	})

	runnerOpts := []loadtest.Option{loadtest.WithLogger(logger), loadtest.WithMetrics(collector)}
	if path := cfg.Run.ControlPipe; path != "" {
		if err := pipeio.MakeFIFO(path); err != nil {
			return err
		}
		fifo, err := pipeio.OpenFIFO(path)
		if err != nil {
			return err
		}
		defer fifo.Close()
		runnerOpts = append(runnerOpts, loadtest.WithControl(pipeio.NewPipeReader(path, fifo)))
		logger.Info("listening for control commands", zap.String("pipe", path))
	}

	runner := loadtest.NewRunner(*cfg, connector, trace.NewOpener(cfg.S3), runnerOpts...)
	summary, err := runner.Run(ctx, targets)
	if err != nil {
		return err
	}

	if cfg.Run.Benchmark {
		return loadtest.WriteReport(stdout, summary)
	}
	logger.Info("replay complete",
		zap.Int("records", summary.Replay.Records),
		zap.Int("sent", summary.Replay.Sent),
		zap.Int("dropped", summary.Replay.Dropped),
		zap.Int("failed_workers", summary.Failed))
	return nil
}
