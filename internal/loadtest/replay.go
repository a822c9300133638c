package loadtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/FairForge/docstress/internal/trace"
	"go.uber.org/zap"
)

const (
	newSessionPrefix = "NewSession: "
	endSessionPrefix = "EndSession: "
)

// runReplay plays the trace named by the worker's target against the
// server, reproducing the captured cadence.
func (w *Worker) runReplay(ctx context.Context) error {
	if w.opener == nil {
		return fmt.Errorf("replay %s: no trace opener", w.target)
	}
	rd, err := w.opener.Open(ctx, w.target)
	if err != nil {
		return err
	}
	defer rd.Close()
	defer w.reg.closeAll(context.WithoutCancel(ctx))

	return w.replay(ctx, rd)
}

func (w *Worker) replay(ctx context.Context, rd trace.Reader) error {
	fileEpoch := rd.Epoch()
	wallEpoch := w.now()

	for {
		rec, err := rd.Next()
		if err != nil {
			return fmt.Errorf("replay %s: %w", w.target, err)
		}
		if rec.Direction == trace.Invalid {
			w.logger.Info("replay finished",
				zap.Int("records", w.replayStats.Records),
				zap.Int("sent", w.replayStats.Sent),
				zap.Int("dropped", w.replayStats.Dropped))
			return nil
		}

		if err := w.pace(ctx, rec.TimestampNs-fileEpoch, w.now().Sub(wallEpoch)); err != nil {
			return err
		}

		w.replayStats.Records++
		w.metrics.RecordRecord(rec.Direction.String())
		if err := w.dispatch(ctx, rec); err != nil {
			return err
		}

		wallEpoch = w.now()
		fileEpoch = rec.TimestampNs
	}
}

// pace sleeps until the wall clock has caught up with the trace clock and
// then waits for the record rate limit, if any.
func (w *Worker) pace(ctx context.Context, elapsedFileNs int64, elapsedWall time.Duration) error {
	delay := time.Duration(elapsedFileNs) - elapsedWall
	if w.cfg.Run.NoDelay {
		delay = 0
	}
	if delay > 0 {
		if delay > time.Second {
			w.logger.Info(fmt.Sprintf("Sleeping for %d ms", delay.Milliseconds()))
		}
		if err := w.sleep(ctx, delay); err != nil {
			return err
		}
	}
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// dispatch applies one record. Bookkeeping problems drop the record and
// return nil; transport failures are returned.
func (w *Worker) dispatch(ctx context.Context, rec trace.Record) error {
	switch rec.Direction {
	case trace.Event:
		if uri, ok := strings.CutPrefix(rec.Payload, newSessionPrefix); ok {
			return w.newSession(ctx, rec, uri)
		}
		if uri, ok := strings.CutPrefix(rec.Payload, endSessionPrefix); ok {
			w.endSession(ctx, rec, uri)
		}
		return nil

	case trace.Incoming:
		conn, err := w.reg.resolve(rec.PID, rec.SessionID)
		if err != nil {
			w.drop(rec, err)
			return nil
		}
		if err := conn.Send(ctx, rec.Payload); err != nil {
			return err
		}
		w.replayStats.Sent++
		return nil

	case trace.Outgoing:
		w.replayStats.Outgoing++
		return nil
	}
	return nil
}

func (w *Worker) newSession(ctx context.Context, rec trace.Record, uri string) error {
	if w.reg.hasDocument(uri) {
		if w.reg.hasSession(uri, rec.SessionID) {
			w.drop(rec, fmt.Errorf("%w: session [%s] on doc [%s]", ErrDuplicateSession, rec.SessionID, uri))
			return nil
		}
		w.logger.Info("New Session", zap.String("session", rec.SessionID), zap.String("doc", uri))
	} else {
		w.logger.Info("New Document", zap.String("doc", uri), zap.Int("pid", rec.PID))
		w.reg.mapPID(rec.PID, uri)
	}

	conn, err := w.connector.Connect(ctx, uri, rec.SessionID)
	if err != nil {
		return err
	}
	if err := w.reg.add(uri, rec.SessionID, conn); err != nil {
		conn.Close(context.WithoutCancel(ctx))
		w.drop(rec, err)
		return nil
	}
	conn.Drain(ctx)
	w.replayStats.SessionsOpened++
	return nil
}

func (w *Worker) endSession(ctx context.Context, rec trace.Record, uri string) {
	conn, docClosed, err := w.reg.remove(uri, rec.SessionID)
	if conn != nil {
		conn.Close(context.WithoutCancel(ctx))
		w.replayStats.SessionsClosed++
	}
	if docClosed {
		w.logger.Info("End Doc", zap.String("doc", uri))
	}
	if err != nil {
		w.drop(rec, err)
	}
}

func (w *Worker) drop(rec trace.Record, err error) {
	w.replayStats.Dropped++
	w.metrics.RecordDrop(dropReason(err))
	w.logger.Error("dropping record",
		zap.Stringer("direction", rec.Direction),
		zap.Int64("timestamp", rec.TimestampNs),
		zap.Int("pid", rec.PID),
		zap.String("session", rec.SessionID),
		zap.Error(err))
}
