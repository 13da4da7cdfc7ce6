// Package metrics holds the Prometheus collectors for the relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "assistant_relay"

// Collector owns a private registry so tests and multiple runtimes never
// collide on the global default registerer. A nil *Collector is a no-op.
type Collector struct {
	registry *prometheus.Registry

	turnsTotal        *prometheus.CounterVec
	turnDuration      *prometheus.HistogramVec
	sessionsActive    prometheus.Gauge
	sessionsTotal     *prometheus.CounterVec
	quotaDropped      *prometheus.CounterVec
	quotaUsed         *prometheus.GaugeVec
	questionsTotal    *prometheus.CounterVec
	deliveryFailures  *prometheus.CounterVec
	assistantRequests *prometheus.CounterVec
	assistantDuration *prometheus.HistogramVec
	componentHealthy  *prometheus.GaugeVec
}

func New() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_turns_total",
			Help:      "Bot-to-bot conversation turns by bot and outcome.",
		}, []string{"bot", "status"}),
		turnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversation_turn_duration_seconds",
			Help:      "Time spent producing a conversation turn reply.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"bot"}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversation_sessions_active",
			Help:      "Group conversations currently running.",
		}),
		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_sessions_ended_total",
			Help:      "Ended group conversations by reason.",
		}, []string{"reason"}),
		quotaDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_dropped_total",
			Help:      "Questions silently dropped because the daily quota was exhausted.",
		}, []string{"bot"}),
		quotaUsed: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quota_used",
			Help:      "Questions consumed today per bot, as of the last quota report.",
		}, []string{"bot"}),
		questionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_total",
			Help:      "Direct questions handled by bot and outcome.",
		}, []string{"bot", "status"}),
		deliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Outbound Telegram messages that could not be delivered.",
		}, []string{"bot"}),
		assistantRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_requests_total",
			Help:      "Assistant ask calls by bot and outcome.",
		}, []string{"bot", "status"}),
		assistantDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assistant_request_duration_seconds",
			Help:      "Assistant ask latency.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"bot"}),
		componentHealthy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "component_healthy",
			Help:      "1 when a runtime component is healthy or idle, 0 when degraded.",
		}, []string{"component"}),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveTurn(bot string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(bot, status(err)).Inc()
	c.turnDuration.WithLabelValues(bot).Observe(elapsed.Seconds())
}

func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
}

func (c *Collector) SessionEnded(reason string) {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
	c.sessionsTotal.WithLabelValues(reason).Inc()
}

func (c *Collector) QuotaDropped(bot string) {
	if c == nil {
		return
	}
	c.quotaDropped.WithLabelValues(bot).Inc()
}

func (c *Collector) QuotaUsed(bot string, count int) {
	if c == nil {
		return
	}
	c.quotaUsed.WithLabelValues(bot).Set(float64(count))
}

func (c *Collector) ObserveQuestion(bot string, err error) {
	if c == nil {
		return
	}
	c.questionsTotal.WithLabelValues(bot, status(err)).Inc()
}

func (c *Collector) DeliveryFailed(bot string) {
	if c == nil {
		return
	}
	c.deliveryFailures.WithLabelValues(bot).Inc()
}

func (c *Collector) ObserveAssistant(bot string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	c.assistantRequests.WithLabelValues(bot, status(err)).Inc()
	c.assistantDuration.WithLabelValues(bot).Observe(elapsed.Seconds())
}

func (c *Collector) ComponentHealthy(component string, healthy bool) {
	if c == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1
	}
	c.componentHealthy.WithLabelValues(component).Set(value)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
