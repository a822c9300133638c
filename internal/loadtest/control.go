package loadtest

import (
	"context"
	"errors"
	"strings"

	"github.com/FairForge/docstress/internal/pipeio"
	"go.uber.org/zap"
)

const (
	controlStop   = "stop"
	controlStatus = "status"
)

// watchControl serves control commands until ctx ends. A stop command
// cancels the run.
func (r *Runner) watchControl(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger) {
	logger = logger.With(zap.String("pipe", r.control.Name))
	stop := func() bool { return ctx.Err() != nil }

	for {
		line, err := r.control.ReadLine(stop)
		switch {
		case err == nil:
		case errors.Is(err, pipeio.ErrTimeout):
			continue
		case errors.Is(err, pipeio.ErrStopped):
			return
		default:
			logger.Error("control pipe read failed", zap.Error(err))
			return
		}

		switch cmd := strings.TrimSpace(line); cmd {
		case "":
		case controlStop:
			logger.Info("stop requested")
			cancel()
			return
		case controlStatus:
			running, finished := r.Progress()
			logger.Info("status", zap.Int("running", running), zap.Int("finished", finished))
		default:
			logger.Warn("unknown control command", zap.String("command", cmd))
		}
	}
}
