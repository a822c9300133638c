// Package loadtest drives a document server with captured or synthetic
// client traffic.
//
// # Modes
//
// In replay mode every target is a trace source (a local file, optionally
// gzip or zstd compressed, or an s3:// object). A Worker reads it record by
// record, sleeping so that the gaps between records match the capture, and
// opens, feeds and closes sessions as the trace dictates:
//
//	runner := loadtest.NewRunner(*cfg, connector, trace.NewOpener(cfg.S3),
//	    loadtest.WithLogger(logger))
//	summary, err := runner.Run(ctx, []string{"trace.txt.gz"})
//
// In benchmark mode every target is a document URL. Each Worker opens one
// session, loads the document and ten times over edits it, waits for the
// re-rendered tile and then fetches the same tile again from cache. The
// Runner merges the samples of all workers and WriteReport prints best and
// 95th percentile times plus rendering throughput.
//
// # Concurrency
//
// Each (target, replica) pair gets its own goroutine for the whole run.
// Workers share nothing but the Connector, whose handshakes are
// serialized, and the benchmark session counter. A failing worker records
// its error in its Result; siblings keep running.
//
// # Control
//
// With WithControl, the Runner reads commands from a named pipe while it
// runs: "stop" cancels every worker and "status" logs progress.
package loadtest
