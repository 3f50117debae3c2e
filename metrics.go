package sidekiq

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Metrics exports processing counters to Prometheus. A nil *Metrics is valid and records nothing.
type Metrics struct {
	processed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	retried   *prometheus.CounterVec
	dead      *prometheus.CounterVec
	skipped   *prometheus.CounterVec
	promoted  *prometheus.CounterVec
	inFlight  prometheus.Gauge
	duration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sidekiq_jobs_processed_total", Help: "Jobs performed successfully"}, []string{"class", "queue"}),
		failed:    prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sidekiq_jobs_failed_total", Help: "Jobs whose perform returned an error or panicked"}, []string{"class", "queue"}),
		retried:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sidekiq_jobs_retried_total", Help: "Failed jobs scheduled for another attempt"}, []string{"class"}),
		dead:      prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sidekiq_jobs_dead_total", Help: "Jobs moved to the dead set"}, []string{"reason"}),
		skipped:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sidekiq_jobs_skipped_total", Help: "Jobs skipped before perform"}, []string{"reason"}),
		promoted:  prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sidekiq_jobs_promoted_total", Help: "Due entries moved from a sorted set to a ready queue"}, []string{"set"}),
		inFlight:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "sidekiq_jobs_in_flight", Help: "Jobs currently inside the middleware chain"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sidekiq_job_duration_seconds",
			Help:    "Time spent in the middleware chain and perform",
			Buckets: prometheus.DefBuckets,
		}, []string{"class"}),
	}
	reg.MustRegister(m.processed, m.failed, m.retried, m.dead, m.skipped, m.promoted, m.inFlight, m.duration)
	return m
}

// Middleware records outcome, duration and concurrency of every dispatch.
// Register it first so it observes the whole chain.
func (m *Metrics) Middleware() ServerMiddleware {
	return MiddlewareFunc(func(ctx context.Context, chain ChainIter, job *Job, w Worker, rdb redis.UniversalClient) error {
		if m == nil {
			return chain.Next(ctx, job, w, rdb)
		}
		m.inFlight.Inc()
		defer m.inFlight.Dec()
		start := time.Now()
		err := chain.Next(ctx, job, w, rdb)
		m.duration.WithLabelValues(job.Class).Observe(time.Since(start).Seconds())
		if err != nil {
			m.failed.WithLabelValues(job.Class, job.Queue).Inc()
		} else {
			m.processed.WithLabelValues(job.Class, job.Queue).Inc()
		}
		return err
	})
}

func (m *Metrics) observeRetry(class string) {
	if m != nil {
		m.retried.WithLabelValues(class).Inc()
	}
}

func (m *Metrics) observeDead(reason string) {
	if m != nil {
		m.dead.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) observeSkip(reason string) {
	if m != nil {
		m.skipped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) observePromoted(set string, n int) {
	if m != nil && n > 0 {
		m.promoted.WithLabelValues(set).Add(float64(n))
	}
}
