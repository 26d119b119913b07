package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nullbin_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nullbin_paste_retrieved_total",
		Help: "no. of pastes retrieved",
	})
	PasteExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nullbin_paste_expired_total",
		Help: "no. of reads that hit an expired paste",
	})
	PasteNotFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nullbin_paste_not_found_total",
		Help: "no. of reads for unknown paste ids",
	})
	PastesStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nullbin_pastes_stored",
		Help: "current number of stored pastes",
	})
	PruneCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nullbin_prune_cycles_total",
		Help: "no. of cleanup worker cycles",
	})
	PrunedPastes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nullbin_pruned_pastes_total",
		Help: "no. of pastes removed by the cleanup worker",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nullbin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nullbin_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nullbin_recent_error_rate_percent",
		Help: "5min rolling avg error rate percentage",
	})
)

func Init() {
}
