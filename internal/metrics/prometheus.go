package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics
var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_operations_total",
			Help: "Coordinator write operations by operation and result",
		},
		[]string{"operation", "result"},
	)
	verificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_verifications_total",
			Help: "Credential verifications by the tier that resolved them",
		},
		[]string{"source"},
	)
	gatewayFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_gateway_failures_total",
			Help: "Failed content fetch attempts per gateway",
		},
		[]string{"gateway"},
	)

	cacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "verification_cache_entries",
			Help: "Verification cache entries by freshness",
		},
		[]string{"state"},
	)
	localCredentials = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "local_credentials",
			Help: "Credentials held in the local reconciliation cache by state",
		},
		[]string{"state"},
	)
	authorizedIssuers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "authorized_issuers",
			Help: "Issuers currently authorized in the local issuer cache",
		},
	)
	paused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coordinator_paused",
			Help: "1 while issuance and revocation are paused",
		},
	)
)

// Snapshot is the point-in-time state reported through the gauges.
type Snapshot struct {
	CacheValid         int
	CacheExpired       int
	ValidCredentials   int
	RevokedCredentials int
	LocalOnly          int
	AuthorizedIssuers  int
	Paused             bool
}

// RecordOperation counts a write operation. A nil err counts as success.
func RecordOperation(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordVerification counts a verification resolved by source.
func RecordVerification(source string) {
	verificationsTotal.WithLabelValues(source).Inc()
}

// GatewayFailure counts a failed gateway attempt.
func GatewayFailure(gateway string) {
	gatewayFailures.WithLabelValues(gateway).Inc()
}

// Report sets every gauge from s.
func Report(s Snapshot) {
	cacheEntries.WithLabelValues("valid").Set(float64(s.CacheValid))
	cacheEntries.WithLabelValues("expired").Set(float64(s.CacheExpired))
	localCredentials.WithLabelValues("valid").Set(float64(s.ValidCredentials))
	localCredentials.WithLabelValues("revoked").Set(float64(s.RevokedCredentials))
	localCredentials.WithLabelValues("local_only").Set(float64(s.LocalOnly))
	authorizedIssuers.Set(float64(s.AuthorizedIssuers))
	if s.Paused {
		paused.Set(1)
	} else {
		paused.Set(0)
	}
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
