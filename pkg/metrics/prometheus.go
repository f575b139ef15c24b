package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsCollector struct {
	registry          *prometheus.Registry
	claimsSubmitted   prometheus.Counter
	fraudScores       prometheus.Histogram
	recommendations   *prometheus.CounterVec
	votes             *prometheus.CounterVec
	sessionsFinalized *prometheus.CounterVec
	payouts           *prometheus.CounterVec
	slashes           prometheus.Counter
	emergencyFund     prometheus.Gauge
	httpDuration      *prometheus.HistogramVec
	logger            *slog.Logger
	server            *http.Server
}

func NewMetricsCollector(logger *slog.Logger) *MetricsCollector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	collector := &MetricsCollector{
		registry: registry,
		claimsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "claims_submitted_total",
			Help: "Total number of submitted claims",
		}),
		fraudScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "claim_fraud_score_distribution",
			Help:    "Distribution of claim fraud scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}),
		recommendations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "claim_recommendations_total",
			Help: "Risk scorer recommendations by outcome",
		}, []string{"recommendation"}),
		votes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jury_votes_total",
			Help: "Recorded juror votes by decision",
		}, []string{"decision"}),
		sessionsFinalized: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "review_sessions_finalized_total",
			Help: "Finalized review sessions by status and trigger",
		}, []string{"status", "trigger"}),
		payouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payouts_total",
			Help: "Payouts by trigger tier and status",
		}, []string{"tier", "status"}),
		slashes: factory.NewCounter(prometheus.CounterOpts{
			Name: "validator_slashes_total",
			Help: "Total number of validator slashing events",
		}),
		emergencyFund: factory.NewGauge(prometheus.GaugeOpts{
			Name: "emergency_fund_available",
			Help: "Currently available emergency fund capacity",
		}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		logger: logger,
	}

	return collector
}

func (m *MetricsCollector) RecordClaimSubmitted() {
	m.claimsSubmitted.Inc()
}

func (m *MetricsCollector) RecordAssessment(score float64, recommendation string) {
	m.fraudScores.Observe(score)
	m.recommendations.WithLabelValues(recommendation).Inc()
}

func (m *MetricsCollector) RecordVote(decision string) {
	m.votes.WithLabelValues(decision).Inc()
}

func (m *MetricsCollector) RecordSessionFinalized(status, trigger string) {
	m.sessionsFinalized.WithLabelValues(status, trigger).Inc()
}

func (m *MetricsCollector) RecordPayout(tier, status string) {
	m.payouts.WithLabelValues(tier, status).Inc()
}

func (m *MetricsCollector) RecordSlash() {
	m.slashes.Inc()
}

func (m *MetricsCollector) SetEmergencyFundAvailable(available float64) {
	m.emergencyFund.Set(available)
}

func (m *MetricsCollector) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	m.httpDuration.WithLabelValues(method, route, http.StatusText(status)).Observe(duration.Seconds())
}

func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsCollector) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsCollector) StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.GetHandler())

	m.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func(server *http.Server) {
		m.logger.Info("Starting metrics server", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}(m.server)

	return m.server
}

func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m.server != nil {
		if err := m.server.Shutdown(ctx); err != nil {
			return err
		}
	}
	m.logger.Info("Metrics collector shutdown complete")
	return nil
}
