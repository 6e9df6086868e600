package application

import (
	"context"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/logger"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain/port"
)

// NoticeService 负责把异常现场转成商家通知。
// 通知是尽力而为的：发送失败只记日志，永远不影响订单主流程。
type NoticeService struct {
	producer port.NoticeProducer
}

func NewNoticeService(producer port.NoticeProducer) *NoticeService {
	return &NoticeService{producer: producer}
}

// NotifyRefundFailure 按分层错误信息生成退款异常通知。
func (s *NoticeService) NotifyRefundFailure(ctx context.Context, orderID, refundID string, advice domain.ErrorAdvice) {
	if s == nil || s.producer == nil {
		return
	}
	kind := "refund_failed"
	if advice.ActionRequired {
		kind = "refund_action_required"
	}
	notice := &port.MerchantNotice{
		Kind:           kind,
		OrderID:        orderID,
		RefundID:       refundID,
		Title:          "退款处理异常",
		Content:        advice.MerchantMessage,
		Guidance:       advice.MerchantGuidance,
		ActionRequired: advice.ActionRequired,
		Severity:       string(advice.Severity),
	}
	if err := s.producer.SendMerchantNotice(ctx, notice); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("order_id", orderID).
			Str("refund_id", refundID).
			Msg("failed to send merchant notice")
	}
}
