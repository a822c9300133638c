package stats

import "time"

// Samples holds elapsed-time measurements in microseconds. A worker only
// appends to its own set; sets are combined read-only with Merge.
type Samples struct {
	Latency   []int64
	Rendering []int64
	Cache     []int64
}

// AddLatency records the time from the start of a modification to the
// arrival of the re-rendered tile.
func (s *Samples) AddLatency(d time.Duration) { s.Latency = append(s.Latency, d.Microseconds()) }

// AddRendering records the time from a tile request to its fresh response.
func (s *Samples) AddRendering(d time.Duration) { s.Rendering = append(s.Rendering, d.Microseconds()) }

// AddCache records the time to fetch an already-rendered tile.
func (s *Samples) AddCache(d time.Duration) { s.Cache = append(s.Cache, d.Microseconds()) }

// Merge concatenates sets in order.
func Merge(sets ...Samples) Samples {
	var out Samples
	for _, s := range sets {
		out.Latency = append(out.Latency, s.Latency...)
		out.Rendering = append(out.Rendering, s.Rendering...)
		out.Cache = append(out.Cache, s.Cache...)
	}
	return out
}

// Series summarizes one sample set.
type Series struct {
	Count int
	Best  int64
	P95   float64
	// Power is the throughput in MPixels/sec; zero for latency.
	Power float64
}

// Summary is the benchmark report.
type Summary struct {
	Latency   Series
	Rendering Series
	Cache     Series
}

// Summarize computes best, 95th percentile and throughput for tiles of
// tileW x tileH pixels.
func Summarize(s Samples, tileW, tileH int) Summary {
	series := func(v []int64, power bool) Series {
		out := Series{Count: len(v), Best: Min(v), P95: Percentile(v, 95)}
		if power {
			out.Power = Throughput(tileW, tileH, v)
		}
		return out
	}
	return Summary{
		Latency:   series(s.Latency, false),
		Rendering: series(s.Rendering, true),
		Cache:     series(s.Cache, true),
	}
}

// Empty reports whether no set holds a sample.
func (s Samples) Empty() bool {
	return len(s.Latency) == 0 && len(s.Rendering) == 0 && len(s.Cache) == 0
}
