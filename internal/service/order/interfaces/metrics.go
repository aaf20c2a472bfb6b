// internal/service/order/interfaces/metrics.go
package interfaces

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cancelTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brasa_order_cancel_total",
		Help: "Cancel attempts by outcome kind (success, window_expired, already_terminal, ...).",
	}, []string{"outcome"})

	modificationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brasa_order_modification_total",
		Help: "Modification requests by outcome kind.",
	}, []string{"outcome"})

	refundFailureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brasa_refund_failure_total",
		Help: "Refund failures by classification (retryable, terminal).",
	}, []string{"kind"})
)
