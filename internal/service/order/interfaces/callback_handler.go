package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/logger"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/metrics"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/application"
)

type paymentCallbackHandler interface {
	Handle(ctx context.Context, ev application.PaymentCallbackEvent) bool
}

type refundCallbackHandler interface {
	Handle(ctx context.Context, ev application.RefundCallbackEvent)
}

// CallbackHandler 承接支付网关的异步回调。
// 应答约定：errcode 非 0 或 returnCode 为 FAIL 时网关会按退避策略重发，
// 所以退款回调永远应答成功，异常现场转交恢复任务处理。
type CallbackHandler struct {
	payments paymentCallbackHandler
	refunds  refundCallbackHandler
}

func NewCallbackHandler(payments paymentCallbackHandler, refunds refundCallbackHandler) *CallbackHandler {
	return &CallbackHandler{payments: payments, refunds: refunds}
}

func (h *CallbackHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/callback/payment", h.paymentCallback)
	mux.HandleFunc("/callback/refund", h.refundCallback)
}

// callbackAck 是网关要求的应答格式。
type callbackAck struct {
	ErrCode    int    `json:"errcode"`
	ErrMsg     string `json:"errmsg"`
	ReturnCode string `json:"returnCode"`
}

var (
	ackOK   = callbackAck{ErrCode: 0, ErrMsg: "OK", ReturnCode: "SUCCESS"}
	ackFail = callbackAck{ErrCode: 1, ErrMsg: "FAIL", ReturnCode: "FAIL"}
)

func (h *CallbackHandler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	start := time.Now()

	var ev application.PaymentCallbackEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("malformed payment callback")
		writeAck(w, ackFail)
		return
	}

	ok := h.payments.Handle(ctx, ev)
	metrics.CallbackDuration.WithLabelValues("payment").Observe(time.Since(start).Seconds())
	if !ok {
		writeAck(w, ackFail)
		return
	}
	writeAck(w, ackOK)
}

// refundCallback 无论处理结果如何都应答成功，
// 网关重发解决不了数据问题，反而会放大压力。
func (h *CallbackHandler) refundCallback(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	start := time.Now()

	var ev application.RefundCallbackEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("malformed refund callback")
		writeAck(w, ackOK)
		return
	}

	h.refunds.Handle(ctx, ev)
	metrics.CallbackDuration.WithLabelValues("refund").Observe(time.Since(start).Seconds())
	writeAck(w, ackOK)
}

func writeAck(w http.ResponseWriter, ack callbackAck) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ack)
}
