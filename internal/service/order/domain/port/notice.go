package port

import "context"

// MerchantNotice 是发给商家端的通知事件。
type MerchantNotice struct {
	Kind           string   `json:"kind"` // refund_failed / refund_action_required / order_alert
	OrderID        string   `json:"orderId"`
	RefundID       string   `json:"refundId,omitempty"`
	Title          string   `json:"title"`
	Content        string   `json:"content"`
	Guidance       []string `json:"guidance,omitempty"`
	ActionRequired bool     `json:"actionRequired"`
	Severity       string   `json:"severity"`
}

// NoticeProducer 是商家通知的出站端口。通知失败只记日志，
// 绝不把错误传导回订单主流程。
type NoticeProducer interface {
	SendMerchantNotice(ctx context.Context, notice *MerchantNotice) error
}
