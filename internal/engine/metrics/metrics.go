// Package metrics provides raffle metrics collection.
// It wraps Prometheus collectors to provide structured telemetry for
// entries, rounds, randomness traffic, keeper ticks and the HTTP surface.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector provides raffle metrics collection. A nil *Collector is valid and
// records nothing, so components can be built without metrics.
type Collector struct {
	registry *prometheus.Registry

	// Raffle metrics
	entriesTotal   prometheus.Counter
	entriesAmount  prometheus.Counter
	participants   prometheus.Gauge
	poolBalance    prometheus.Gauge
	roundState     prometheus.Gauge
	upkeepChecks   *prometheus.CounterVec
	requestsTotal  *prometheus.CounterVec
	fulfillments   *prometheus.CounterVec
	payoutAmount   prometheus.Histogram
	roundsFinished prometheus.Counter

	// Keeper metrics
	keeperTicks   *prometheus.CounterVec
	keeperLatency prometheus.Histogram

	// Coordinator metrics
	vrfRequests     prometheus.Counter
	vrfFulfillments *prometheus.CounterVec
	vrfPending      prometheus.Gauge

	// HTTP metrics
	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	uptime    prometheus.GaugeFunc
	startTime time.Time
}

// NewCollector creates a new raffle metrics collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "raffle"
	}

	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}

	c.entriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "entries_total",
		Help:      "Total number of accepted entries",
	})

	c.entriesAmount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "entries_amount_total",
		Help:      "Sum of accepted entrance payments",
	})

	c.participants = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "participants",
		Help:      "Participants in the current round",
	})

	c.poolBalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "pool_balance",
		Help:      "Pool balance of the current round",
	})

	c.roundState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "round",
		Name:      "state",
		Help:      "Current round state (0=open, 1=calculating)",
	})

	c.upkeepChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "round",
			Name:      "upkeep_checks_total",
			Help:      "Total number of upkeep predicate evaluations",
		},
		[]string{"needed"},
	)

	c.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "round",
			Name:      "randomness_requests_total",
			Help:      "Total number of round triggers",
		},
		[]string{"result"},
	)

	c.fulfillments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "round",
			Name:      "fulfillments_total",
			Help:      "Total number of randomness callbacks by result",
		},
		[]string{"result"},
	)

	c.payoutAmount = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "round",
		Name:      "payout_amount",
		Help:      "Prize paid to round winners",
		Buckets:   prometheus.ExponentialBuckets(1_000_000, 4, 10), // 0.01 GAS to ~2600 GAS
	})

	c.roundsFinished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "round",
		Name:      "completed_total",
		Help:      "Total number of completed rounds",
	})

	c.keeperTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "ticks_total",
			Help:      "Total number of keeper ticks by outcome",
		},
		[]string{"outcome"},
	)

	c.keeperLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "keeper",
		Name:      "tick_duration_seconds",
		Help:      "Time taken by a keeper tick",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
	})

	c.vrfRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vrf",
		Name:      "requests_total",
		Help:      "Total number of randomness requests accepted by the coordinator",
	})

	c.vrfFulfillments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vrf",
			Name:      "fulfillments_total",
			Help:      "Total number of coordinator deliveries",
		},
		[]string{"result"},
	)

	c.vrfPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "vrf",
		Name:      "pending_requests",
		Help:      "Requests waiting for fulfillment",
	})

	c.httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests",
	})

	c.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled",
		},
		[]string{"method", "path", "status"},
	)

	c.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	c.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
		func() float64 { return time.Since(c.startTime).Seconds() },
	)

	c.registry.MustRegister(
		c.entriesTotal,
		c.entriesAmount,
		c.participants,
		c.poolBalance,
		c.roundState,
		c.upkeepChecks,
		c.requestsTotal,
		c.fulfillments,
		c.payoutAmount,
		c.roundsFinished,
		c.keeperTicks,
		c.keeperLatency,
		c.vrfRequests,
		c.vrfFulfillments,
		c.vrfPending,
		c.httpInFlight,
		c.httpRequests,
		c.httpDuration,
		c.uptime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler exposes the registry for scraping.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordEntry records an accepted entry.
func (c *Collector) RecordEntry(amount int64) {
	if c == nil {
		return
	}
	c.entriesTotal.Inc()
	c.entriesAmount.Add(float64(amount))
}

// SetPool records the current participant count and pool balance.
func (c *Collector) SetPool(participants int, balance int64) {
	if c == nil {
		return
	}
	c.participants.Set(float64(participants))
	c.poolBalance.Set(float64(balance))
}

// SetRoundState records the current round state.
func (c *Collector) SetRoundState(state int) {
	if c == nil {
		return
	}
	c.roundState.Set(float64(state))
}

// RecordUpkeepCheck records an upkeep predicate evaluation.
func (c *Collector) RecordUpkeepCheck(needed bool) {
	if c == nil {
		return
	}
	c.upkeepChecks.WithLabelValues(strconv.FormatBool(needed)).Inc()
}

// RecordRandomnessRequest records a round trigger attempt.
func (c *Collector) RecordRandomnessRequest(err error) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	c.requestsTotal.WithLabelValues(result).Inc()
}

// RecordFulfillment records a randomness callback outcome.
func (c *Collector) RecordFulfillment(result string) {
	if c == nil {
		return
	}
	c.fulfillments.WithLabelValues(result).Inc()
}

// ObservePayout records a completed round and its prize.
func (c *Collector) ObservePayout(amount int64) {
	if c == nil {
		return
	}
	c.payoutAmount.Observe(float64(amount))
	c.roundsFinished.Inc()
}

// RecordKeeperTick records one keeper evaluation. outcome is one of
// skipped, performed or failed.
func (c *Collector) RecordKeeperTick(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	c.keeperTicks.WithLabelValues(outcome).Inc()
	c.keeperLatency.Observe(duration.Seconds())
}

// RecordVRFRequest records a request accepted by the coordinator.
func (c *Collector) RecordVRFRequest() {
	if c == nil {
		return
	}
	c.vrfRequests.Inc()
}

// RecordVRFFulfillment records a coordinator delivery.
func (c *Collector) RecordVRFFulfillment(err error) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	c.vrfFulfillments.WithLabelValues(result).Inc()
}

// SetVRFPending records the coordinator's pending request count.
func (c *Collector) SetVRFPending(n int) {
	if c == nil {
		return
	}
	c.vrfPending.Set(float64(n))
}

// InstrumentHandler wraps an HTTP handler to record request metrics. Paths are
// labelled with the mux route template when one matched.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		c.httpInFlight.Inc()
		defer c.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		method := strings.ToUpper(r.Method)

		c.httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		c.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
