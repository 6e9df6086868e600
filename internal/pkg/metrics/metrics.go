package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 订单链路的核心指标。按状态机动作和回调类型打标签，
// 便于在 Grafana 上区分支付、退款、对账各自的健康度。
var (
	TransitionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wxstore",
			Subsystem: "order",
			Name:      "transition_total",
			Help:      "Number of state machine transitions by action and result.",
		},
		[]string{"action", "result"},
	)

	CallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wxstore",
			Subsystem: "gateway",
			Name:      "callback_total",
			Help:      "Number of gateway callbacks received by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	CallbackDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wxstore",
			Subsystem: "gateway",
			Name:      "callback_duration_seconds",
			Help:      "Callback handling latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	RecoveryProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wxstore",
			Subsystem: "recovery",
			Name:      "processed_total",
			Help:      "Refund records handled by the reconciliation sweep.",
		},
		[]string{"pass", "result"},
	)

	AutoConfirmProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wxstore",
			Subsystem: "autoconfirm",
			Name:      "orders_total",
			Help:      "Orders examined by the auto confirm job.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TransitionTotal,
		CallbackTotal,
		CallbackDuration,
		RecoveryProcessed,
		AutoConfirmProcessed,
	)
}

// Handler 返回 /metrics 的 HTTP 处理器。
func Handler() http.Handler {
	return promhttp.Handler()
}
