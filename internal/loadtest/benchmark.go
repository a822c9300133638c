package loadtest

import (
	"context"
	"strconv"

	"go.uber.org/zap"
)

const (
	benchmarkIterations = 10

	TileWidthPixels  = 256
	TileHeightPixels = 256

	modifyCommand = "key type=input char=97 key=0"
	tileCommand   = "tilecombine part=0 width=256 height=256 tileposx=0 tileposy=0 tilewidth=3840 tileheight=3840"
)

// benchmark opens one session on the target document and measures edit
// latency, fresh rendering and cached tile fetches.
func (w *Worker) benchmark(ctx context.Context) error {
	id := strconv.FormatUint(w.sessionIDs.Add(1), 10)
	conn, err := w.connector.Connect(ctx, w.target, id)
	if err != nil {
		return err
	}
	defer conn.Close(context.WithoutCancel(ctx))

	if !conn.Load(ctx) {
		w.logger.Warn("document load not confirmed")
	}

	for i := 0; i < benchmarkIterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.renderTile(ctx, conn)
		w.fetchCachedTile(ctx, conn)
	}
	return nil
}

// tileSession is the part of *session.Conn the benchmark drives.
type tileSession interface {
	Send(ctx context.Context, data string) error
	Receive(ctx context.Context, prefix string) []byte
}

// modifyDoc types one character and waits for the invalidation.
func (w *Worker) modifyDoc(ctx context.Context, conn tileSession) bool {
	if err := conn.Send(ctx, modifyCommand); err != nil {
		w.logger.Error("modify failed", zap.Error(err))
		return false
	}
	return conn.Receive(ctx, "invalidatetiles:") != nil
}

// requestTile asks for the benchmark tile and waits for it.
func (w *Worker) requestTile(ctx context.Context, conn tileSession) bool {
	if err := conn.Send(ctx, tileCommand); err != nil {
		w.logger.Error("tile request failed", zap.Error(err))
		return false
	}
	return conn.Receive(ctx, "tile:") != nil
}

// renderTile edits the document and times the re-render. A missing
// response skips both samples.
func (w *Worker) renderTile(ctx context.Context, conn tileSession) {
	startModify := w.now()
	w.modifyDoc(ctx, conn)

	startRendering := w.now()
	if !w.requestTile(ctx, conn) {
		return
	}

	end := w.now()
	rendering := end.Sub(startRendering)
	latency := end.Sub(startModify)
	w.samples.AddRendering(rendering)
	w.samples.AddLatency(latency)
	w.metrics.RecordSample("rendering", rendering)
	w.metrics.RecordSample("latency", latency)
}

// fetchCachedTile requests the same tile again without modifying.
func (w *Worker) fetchCachedTile(ctx context.Context, conn tileSession) {
	start := w.now()
	if !w.requestTile(ctx, conn) {
		return
	}
	d := w.now().Sub(start)
	w.samples.AddCache(d)
	w.metrics.RecordSample("cache", d)
}
