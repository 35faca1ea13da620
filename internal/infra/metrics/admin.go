package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(adminRequestsTotal) }

var adminRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "admin_requests_total",
		Help: "Requests served by the operator admin endpoints.",
	},
	[]string{"route", "code"},
)

func IncAdminRequest(route string, code int) {
	adminRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
