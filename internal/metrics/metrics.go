package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lowc1012/bot-dispatch/pkg/ratelimiter"
)

// ensure that BotMetrics satisfies an interface MetricsRecorder
var _ ratelimiter.MetricsRecorder = &BotMetrics{}

// BotMetrics owns a private registry with the bot counters.
type BotMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	updatesTotal       *prometheus.CounterVec
	handlerErrorsTotal *prometheus.CounterVec
	ratelimitDecisions *prometheus.CounterVec
	ratelimitErrors    *prometheus.CounterVec
}

// New returns a fresh registry + standard collectors + bot metrics.
// Labels are handler names and fixed states only, never user ids.
func New() *BotMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &BotMetrics{
		updatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_updates_total",
			Help: "Updates received, by whether any handler matched",
		}, []string{"matched"}),
		handlerErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_handler_errors_total",
			Help: "Handler invocations that returned an error or panicked",
		}, []string{"handler"}),
		ratelimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_ratelimit_decisions_total",
			Help: "Rate limit decisions by handler and state",
		}, []string{"handler", "state"}),
		ratelimitErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_ratelimit_errors_total",
			Help: "Rate limiter failures by handler",
		}, []string{"handler"}),
	}
	reg.MustRegister(m.updatesTotal, m.handlerErrorsTotal, m.ratelimitDecisions, m.ratelimitErrors)

	m.reg = reg
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return m
}

func (m *BotMetrics) Handler() http.Handler {
	return m.handler
}

func (m *BotMetrics) Registry() *prometheus.Registry {
	return m.reg
}

// Add implements ratelimiter.MetricsRecorder. Unknown names are ignored.
func (m *BotMetrics) Add(name string, value float64, tags map[string]string) {
	switch name {
	case ratelimiter.MetricDecision:
		m.ratelimitDecisions.WithLabelValues(tags["handler"], tags["state"]).Add(value)
	case ratelimiter.MetricError:
		m.ratelimitErrors.WithLabelValues(tags["handler"]).Add(value)
	}
}

func (m *BotMetrics) IncUpdate(matched bool) {
	label := "false"
	if matched {
		label = "true"
	}
	m.updatesTotal.WithLabelValues(label).Inc()
}

// HandlerError is shaped for dispatch.WithOnError.
func (m *BotMetrics) HandlerError(handler string, _ error) {
	m.handlerErrorsTotal.WithLabelValues(handler).Inc()
}
