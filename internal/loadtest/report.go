package loadtest

import (
	"fmt"
	"io"
)

// WriteReport prints the benchmark results of s. Latencies are in
// microseconds and power in MPixels/sec.
func WriteReport(w io.Writer, s *Summary) error {
	if s == nil || s.Stats == nil || s.Samples.Empty() {
		_, err := fmt.Fprintln(w, "No benchmark samples collected.")
		return err
	}

	st := s.Stats
	lines := []string{
		fmt.Sprintf("Results (%d latency, %d rendering, %d cache samples):",
			st.Latency.Count, st.Rendering.Count, st.Cache.Count),
		fmt.Sprintf("Latency best: %d microsecs, 95th percentile: %.0f microsecs.",
			st.Latency.Best, st.Latency.P95),
		fmt.Sprintf("Tile best: %d microsecs, rendering 95th percentile: %.0f microsecs.",
			st.Rendering.Best, st.Rendering.P95),
		fmt.Sprintf("Cached best: %d microsecs, tile 95th percentile: %.0f microsecs.",
			st.Cache.Best, st.Cache.P95),
		fmt.Sprintf("Rendering power: %.2f MPixels/sec.", st.Rendering.Power),
		fmt.Sprintf("Cache power: %.2f MPixels/sec.", st.Cache.Power),
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
