package loadtest

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FairForge/docstress/internal/config"
	"github.com/FairForge/docstress/internal/session"
	"github.com/FairForge/docstress/internal/session/sessiontest"
	"github.com/FairForge/docstress/internal/stats"
	"github.com/FairForge/docstress/internal/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// stringOpener serves traces from memory, keyed by source name.
type stringOpener map[string]string

func (o stringOpener) Open(_ context.Context, source string) (*trace.StreamReader, error) {
	data, ok := o[source]
	if !ok {
		return nil, os.ErrNotExist
	}
	return trace.NewStreamReader(strings.NewReader(data), nil)
}

type panicConnector struct{}

func (panicConnector) Connect(context.Context, string, string) (*session.Conn, error) {
	panic("boom")
}

func testConfig(benchmark bool) config.Config {
	cfg := *config.Default()
	cfg.Run.Benchmark = benchmark
	cfg.Run.ReceiveTimeout = time.Second
	return cfg
}

func testConnector(t *testing.T, srv *sessiontest.Server, timeout time.Duration) *session.Connector {
	return session.NewConnector(config.DefaultServerURI, session.Options{
		Timeout: timeout,
		Dial:    srv.Dial,
		Logger:  zaptest.NewLogger(t),
	})
}

// recordingSleep replaces the pacing sleep and remembers every request.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *recordingSleep) calls() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func traceLines(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

func TestWorker_Benchmark(t *testing.T) {
	srv := &sessiontest.Server{RenderDelay: 2 * time.Millisecond, PingFirst: true}
	cfg := testConfig(true)
	var ids atomic.Uint64

	w := NewWorker(cfg, "file:///doc.odt", 0, testConnector(t, srv, cfg.Run.ReceiveTimeout), nil,
		&ids, zaptest.NewLogger(t), nil)
	assert.Equal(t, StateIdle, w.State())

	res := w.Run(context.Background())
	require.True(t, res.Ok(), "unexpected error: %v", res.Err)
	assert.Equal(t, StateTerminated, w.State())
	assert.Equal(t, uint64(1), ids.Load())

	s := w.Samples()
	require.Len(t, s.Latency, benchmarkIterations)
	require.Len(t, s.Rendering, benchmarkIterations)
	require.Len(t, s.Cache, benchmarkIterations)
	for i := range s.Latency {
		assert.GreaterOrEqual(t, s.Latency[i], s.Rendering[i])
		assert.GreaterOrEqual(t, s.Rendering[i], int64(2000))
	}
	assert.Less(t, stats.Percentile(s.Cache, 50), stats.Percentile(s.Rendering, 50))

	msgs := srv.Messages()
	require.Len(t, msgs, 1+3*benchmarkIterations)
	assert.Equal(t, "load url=file:///doc.odt", msgs[0].Payload)
	assert.Equal(t, modifyCommand, msgs[1].Payload)
	assert.Equal(t, tileCommand, msgs[2].Payload)
	assert.Equal(t, tileCommand, msgs[3].Payload)
	assert.Zero(t, srv.OpenConns())
}

func TestWorker_BenchmarkTimeoutSkipsSamples(t *testing.T) {
	srv := &sessiontest.Server{DropTiles: true}
	cfg := testConfig(true)
	cfg.Run.ReceiveTimeout = 5 * time.Millisecond

	w := NewWorker(cfg, "doc", 0, testConnector(t, srv, cfg.Run.ReceiveTimeout), nil, nil, zaptest.NewLogger(t), nil)
	res := w.Run(context.Background())

	require.True(t, res.Ok())
	assert.True(t, w.Samples().Empty())
	// every iteration still ran
	assert.Len(t, srv.Messages(), 1+3*benchmarkIterations)
}

func TestWorker_HandshakeFailureIsResult(t *testing.T) {
	srv := &sessiontest.Server{DialErr: errors.New("refused")}
	cfg := testConfig(true)

	w := NewWorker(cfg, "doc", 0, testConnector(t, srv, time.Second), nil, nil, zaptest.NewLogger(t), nil)
	res := w.Run(context.Background())

	assert.False(t, res.Ok())
	assert.ErrorIs(t, res.Err, session.ErrHandshake)
	assert.Equal(t, StateTerminated, w.State())
}

func TestWorker_PanicIsRecovered(t *testing.T) {
	w := NewWorker(testConfig(true), "doc", 3, panicConnector{}, nil, nil, zaptest.NewLogger(t), nil)

	var res Result
	require.NotPanics(t, func() { res = w.Run(context.Background()) })
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "boom")
	assert.Equal(t, 3, res.Replica)
	assert.Equal(t, StateTerminated, w.State())
}

func TestWorker_RunOnce(t *testing.T) {
	srv := &sessiontest.Server{}
	opener := stringOpener{"empty": ""}
	w := NewWorker(testConfig(false), "empty", 0, testConnector(t, srv, time.Second), opener, nil, zaptest.NewLogger(t), nil)

	require.True(t, w.Run(context.Background()).Ok())
	assert.ErrorIs(t, w.Run(context.Background()).Err, ErrAlreadyStarted)
}

func TestReplay_DuplicateSessionKeepsOne(t *testing.T) {
	srv := &sessiontest.Server{}
	core, logs := observer.New(zapcore.InfoLevel)
	cfg := testConfig(false)
	cfg.Run.NoDelay = true

	w := NewWorker(cfg, "t", 0, testConnector(t, srv, time.Second), nil, nil, zap.New(core), nil)
	rd, err := stringOpener{"t": traceLines(
		"~0~100~A~NewSession: doc1",
		"~10~100~A~NewSession: doc1",
	)}.Open(context.Background(), "t")
	require.NoError(t, err)

	require.NoError(t, w.replay(context.Background(), rd))
	defer w.reg.closeAll(context.Background())

	assert.Equal(t, 1, w.reg.documents())
	assert.Equal(t, 1, w.reg.sessions("doc1"))
	assert.Len(t, srv.Dials(), 1)

	st := w.ReplayStats()
	assert.Equal(t, 2, st.Records)
	assert.Equal(t, 1, st.SessionsOpened)
	assert.Equal(t, 1, st.Dropped)

	dropped := logs.FilterMessage("dropping record").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, zapcore.ErrorLevel, dropped[0].Level)
}

func TestReplay_EndSessionRemovesDocumentAndPID(t *testing.T) {
	srv := &sessiontest.Server{}
	cfg := testConfig(false)
	cfg.Run.NoDelay = true

	w := NewWorker(cfg, "t", 0, testConnector(t, srv, time.Second), nil, nil, zaptest.NewLogger(t), nil)
	rd, err := stringOpener{"t": traceLines(
		"~0~100~A~NewSession: doc1",
		"~1~100~B~NewSession: doc1",
		">2>100>A>load url=doc1",
		"~3~100~A~EndSession: doc1",
		">4>100>B>key type=input char=97 key=0",
		"~5~100~B~EndSession: doc1",
		">6>100>B>key type=input char=98 key=0",
		"<7<100<B<invalidatetiles: part=0",
		"~8~100~B~EndSession: doc1",
	)}.Open(context.Background(), "t")
	require.NoError(t, err)

	require.NoError(t, w.replay(context.Background(), rd))

	assert.Zero(t, w.reg.documents())
	assert.Empty(t, w.reg.pidToDoc)
	_, err = w.reg.resolve(100, "B")
	assert.ErrorIs(t, err, ErrUnknownPID)

	st := w.ReplayStats()
	assert.Equal(t, 9, st.Records)
	assert.Equal(t, 2, st.Sent)
	assert.Equal(t, 1, st.Outgoing)
	assert.Equal(t, 2, st.SessionsOpened)
	assert.Equal(t, 2, st.SessionsClosed)
	// the late key press and the second EndSession
	assert.Equal(t, 2, st.Dropped)

	var payloads []string
	for _, m := range srv.Messages() {
		payloads = append(payloads, m.Payload)
	}
	assert.Equal(t, []string{"load url=doc1", "key type=input char=97 key=0"}, payloads)
	assert.Zero(t, srv.OpenConns())
}

func TestReplay_PacingFollowsTimestamps(t *testing.T) {
	srv := &sessiontest.Server{}
	core, logs := observer.New(zapcore.InfoLevel)
	sleeper := &recordingSleep{}

	w := NewWorker(testConfig(false), "t", 0, testConnector(t, srv, time.Second),
		stringOpener{"t": traceLines(
			"~1000~1~A~SomethingElse",
			"~2001000~1~A~SomethingElse",
			"~3002001000~1~A~SomethingElse",
		)}, nil, zap.New(core), nil)
	w.sleep = sleeper.sleep

	require.True(t, w.Run(context.Background()).Ok())

	delays := sleeper.calls()
	require.Len(t, delays, 2)
	assert.LessOrEqual(t, delays[0], 2*time.Millisecond)
	assert.Greater(t, delays[0], time.Duration(0))
	assert.Greater(t, delays[1], 2*time.Second)

	assert.Equal(t, 1, logs.FilterMessageSnippet("Sleeping for").Len())
}

func TestReplay_PacingRealClock(t *testing.T) {
	srv := &sessiontest.Server{}
	w := NewWorker(testConfig(false), "t", 0, testConnector(t, srv, time.Second),
		stringOpener{"t": traceLines(
			"~0~1~A~SomethingElse",
			"~2000000~1~A~SomethingElse",
		)}, nil, zaptest.NewLogger(t), nil)

	start := time.Now()
	require.True(t, w.Run(context.Background()).Ok())
	assert.GreaterOrEqual(t, time.Since(start), 1500*time.Microsecond)
}

func TestReplay_NoDelayNeverSleeps(t *testing.T) {
	srv := &sessiontest.Server{}
	sleeper := &recordingSleep{}
	cfg := testConfig(false)
	cfg.Run.NoDelay = true

	w := NewWorker(cfg, "t", 0, testConnector(t, srv, time.Second),
		stringOpener{"t": traceLines(
			"~0~1~A~SomethingElse",
			"~60000000000~1~A~SomethingElse",
		)}, nil, zaptest.NewLogger(t), nil)
	w.sleep = sleeper.sleep

	require.True(t, w.Run(context.Background()).Ok())
	assert.Empty(t, sleeper.calls())
	assert.Equal(t, 2, w.ReplayStats().Records)
}

func TestReplay_CancelDuringSleep(t *testing.T) {
	srv := &sessiontest.Server{}
	w := NewWorker(testConfig(false), "t", 0, testConnector(t, srv, time.Second),
		stringOpener{"t": traceLines(
			"~0~100~A~NewSession: doc1",
			"~60000000000~100~A~EndSession: doc1",
		)}, nil, zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := w.Run(ctx)
	assert.False(t, res.Ok())
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Less(t, res.Duration, 5*time.Second)
	// sessions left open by the trace are closed on exit
	assert.Zero(t, srv.OpenConns())
}

func TestReplay_MissingTraceFails(t *testing.T) {
	w := NewWorker(testConfig(false), "nope", 0, nil, stringOpener{}, nil, zaptest.NewLogger(t), nil)
	res := w.Run(context.Background())
	assert.ErrorIs(t, res.Err, os.ErrNotExist)
}

func TestReplay_MalformedRecordFails(t *testing.T) {
	srv := &sessiontest.Server{}
	cfg := testConfig(false)
	cfg.Run.NoDelay = true
	w := NewWorker(cfg, "t", 0, testConnector(t, srv, time.Second),
		stringOpener{"t": traceLines("~0~1~A~x", "garbage")}, nil, zaptest.NewLogger(t), nil)

	res := w.Run(context.Background())
	assert.ErrorIs(t, res.Err, trace.ErrMalformedRecord)
	assert.Contains(t, res.Err.Error(), "line 2")
}

func TestReplay_RecordRateLimits(t *testing.T) {
	srv := &sessiontest.Server{}
	cfg := testConfig(false)
	cfg.Run.NoDelay = true
	cfg.Run.RecordRate = 100

	lines := make([]string, 0, 103)
	for i := 0; i < 103; i++ {
		lines = append(lines, "~0~1~A~x")
	}
	w := NewWorker(cfg, "t", 0, testConnector(t, srv, time.Second),
		stringOpener{"t": traceLines(lines...)}, nil, zaptest.NewLogger(t), nil)

	start := time.Now()
	require.True(t, w.Run(context.Background()).Ok())
	// a full burst of 100, then three more at 10ms each
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
