package application

import (
	"context"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/logger"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/metrics"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain"
)

// PaymentCallbackEvent 是支付网关回调的载荷。
type PaymentCallbackEvent struct {
	TransactionID string `json:"transaction_id"`
	OutTradeNo    string `json:"out_trade_no"`
	ResultCode    string `json:"result_code"`
	ReturnCode    string `json:"return_code"`
	TotalFee      int64  `json:"total_fee"`
}

func (e PaymentCallbackEvent) success() bool {
	return e.ReturnCode == "SUCCESS" && e.ResultCode == "SUCCESS"
}

// PaymentCallbackService 处理支付结果回调。
// 与退款回调不同：校验失败要应答 FAIL，让网关按自己的节奏重试。
type PaymentCallbackService struct {
	store  domain.Store
	engine *Engine
}

func NewPaymentCallbackService(store domain.Store, engine *Engine) *PaymentCallbackService {
	return &PaymentCallbackService{store: store, engine: engine}
}

// Handle 返回是否应答成功。幂等：重复回调不产生第二次写入。
func (s *PaymentCallbackService) Handle(ctx context.Context, ev PaymentCallbackEvent) bool {
	log := logger.Ctx(ctx)

	if ev.OutTradeNo == "" || ev.TransactionID == "" {
		log.Error().Interface("event", ev).Msg("payment callback missing required params")
		metrics.CallbackTotal.WithLabelValues("payment", "rejected").Inc()
		return false
	}

	order, err := s.store.Orders().Get(ctx, ev.OutTradeNo)
	if err != nil {
		log.Error().Err(err).Str("order_id", ev.OutTradeNo).Msg("payment callback order lookup failed")
		metrics.CallbackTotal.WithLabelValues("payment", "rejected").Inc()
		return false
	}

	// 幂等检查：同一笔支付的重复投递直接确认
	if order.IsPaid && order.PaymentID != "" {
		log.Info().
			Str("order_id", order.ID).
			Str("payment_id", order.PaymentID).
			Msg("payment callback already processed, skipping")
		metrics.CallbackTotal.WithLabelValues("payment", "duplicate").Inc()
		return true
	}

	if !ev.success() {
		log.Error().
			Str("order_id", order.ID).
			Str("return_code", ev.ReturnCode).
			Str("result_code", ev.ResultCode).
			Msg("payment callback reported failure")
		metrics.CallbackTotal.WithLabelValues("payment", "rejected").Inc()
		return false
	}

	if ev.TotalFee > 0 && ev.TotalFee != order.TotalFee {
		log.Error().
			Str("order_id", order.ID).
			Int64("callback_fee", ev.TotalFee).
			Int64("order_fee", order.TotalFee).
			Msg("payment callback amount mismatch")
		metrics.CallbackTotal.WithLabelValues("payment", "rejected").Inc()
		return false
	}

	if _, err := s.engine.ExecuteTransition(ctx, order.ID, domain.TransitionPayOrder, domain.TransitionContext{
		OperatorID: "system",
		PaymentID:  ev.TransactionID,
	}); err != nil {
		log.Error().Err(err).Str("order_id", order.ID).Msg("payment transition failed")
		metrics.CallbackTotal.WithLabelValues("payment", "error").Inc()
		return false
	}

	metrics.CallbackTotal.WithLabelValues("payment", "success").Inc()
	return true
}
