package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "timeticket",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "timeticket",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "timeticket",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ticketsSold = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "timeticket",
			Subsystem: "game",
			Name:      "tickets_sold_total",
			Help:      "Total number of tickets sold.",
		},
		[]string{"kind"}, // paid or free
	)

	roundsSettled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "timeticket",
			Subsystem: "game",
			Name:      "rounds_settled_total",
			Help:      "Total number of rounds settled.",
		},
	)

	settlementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "timeticket",
			Subsystem: "game",
			Name:      "settlement_duration_seconds",
			Help:      "Duration of settlement runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	claimsPaid = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "timeticket",
			Subsystem: "game",
			Name:      "claims_paid_total",
			Help:      "Total number of successful claim calls.",
		},
	)

	sweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "timeticket",
			Subsystem: "game",
			Name:      "sweeps_total",
			Help:      "Total number of expired rounds swept.",
		},
	)

	randomnessFulfilled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "timeticket",
			Subsystem: "randomness",
			Name:      "fulfilled_total",
			Help:      "Total number of randomness callbacks accepted.",
		},
	)

	currentPool = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "timeticket",
			Subsystem: "game",
			Name:      "current_pool",
			Help:      "Pool of the open round in smallest units.",
		},
	)

	currentRound = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "timeticket",
			Subsystem: "game",
			Name:      "current_round",
			Help:      "Number of the open round.",
		},
	)

	ticketPrice = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "timeticket",
			Subsystem: "game",
			Name:      "ticket_price",
			Help:      "Price of the next ticket in smallest units.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ticketsSold,
		roundsSettled,
		settlementDuration,
		claimsPaid,
		sweeps,
		randomnessFulfilled,
		currentPool,
		currentRound,
		ticketPrice,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordTicketSale records a paid or free ticket purchase.
func RecordTicketSale(quantity int64, free bool) {
	kind := "paid"
	if free {
		kind = "free"
	}
	ticketsSold.WithLabelValues(kind).Add(float64(quantity))
}

// RecordSettlement records one completed settlement run.
func RecordSettlement(duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	roundsSettled.Inc()
	settlementDuration.Observe(duration.Seconds())
}

// RecordClaim records one successful claim call.
func RecordClaim() {
	claimsPaid.Inc()
}

// RecordSweep records one expired-round sweep that moved value.
func RecordSweep() {
	sweeps.Inc()
}

// RecordRandomnessFulfilled records one accepted randomness callback.
func RecordRandomnessFulfilled() {
	randomnessFulfilled.Inc()
}

// SetGameGauges updates the open-round gauges.
func SetGameGauges(round, pool, price int64) {
	currentRound.Set(float64(round))
	currentPool.Set(float64(pool))
	ticketPrice.Set(float64(price))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "rounds":
		switch len(parts) {
		case 1:
			return "/rounds"
		case 2:
			return "/rounds/:round"
		default:
			return "/rounds/:round/" + parts[2]
		}
	case "randomness":
		if len(parts) > 1 {
			return "/randomness/:request"
		}
		return "/randomness"
	default:
		return "/" + parts[0]
	}
}
