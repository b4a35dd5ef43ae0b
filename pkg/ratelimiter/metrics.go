package ratelimiter

// Metric names emitted by the rate limited handler.
const (
	MetricDecision = "ratelimit.decision"
	MetricError    = "ratelimit.error"
)

// MetricsRecorder receives counters from the rate limited handler.
type MetricsRecorder interface {
	Add(name string, value float64, tags map[string]string)
}

// NoOpMetricsRecorder is a placeholder that does nothing.
// It ensures we never have to check 'if recorder != nil' in the hot path.
type NoOpMetricsRecorder struct{}

func (n *NoOpMetricsRecorder) Add(name string, value float64, tags map[string]string) {}
