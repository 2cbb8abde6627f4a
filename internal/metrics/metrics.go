package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "selftreat"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by method, route and status code."},
		[]string{"method", "route", "status"},
	)
	LoginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "login_attempts_total", Help: "Admin login attempts by result."},
		[]string{"result"},
	)
	DiseaseMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "disease_mutations_total", Help: "Catalog writes by operation and result."},
		[]string{"op", "result"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Requests rejected by the rate limiter, by route."},
		[]string{"route"},
	)
	Backups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "backups_total", Help: "Document backups by result."},
		[]string{"result"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(HTTPRequests)
	reg.MustRegister(LoginAttempts)
	reg.MustRegister(DiseaseMutations)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(Backups)
}

// Result maps an error to the "ok"/"error" label used by the counters.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
