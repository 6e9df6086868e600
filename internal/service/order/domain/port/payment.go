package port

import "context"

// PaymentParams 是下发给小程序端拉起支付的参数。
type PaymentParams struct {
	PrepayID  string `json:"prepayId"`
	NonceStr  string `json:"nonceStr"`
	Timestamp string `json:"timestamp"`
	Package   string `json:"package"`
	PaySign   string `json:"paySign"`
	SignType  string `json:"signType"`
}

// PaymentStatus 是网关侧支付单的查询结果。
type PaymentStatus struct {
	TransactionID string
	TradeState    string // SUCCESS / NOTPAY / CLOSED ...
	TotalFee      int64
}

// RefundRequest 发起退款的参数。OutRefundNo 是幂等键，
// 同一个退款单号重复提交网关只会执行一次。
type RefundRequest struct {
	OutTradeNo  string
	OutRefundNo string
	TotalFee    int64
	RefundFee   int64
	Reason      string
}

// RefundStatus 是网关侧退款单的真实状态，对账以此为准。
type RefundStatus struct {
	OutRefundNo string
	RefundID    string // 网关侧退款流水号
	Status      string // SUCCESS / PROCESSING / FAIL / NOTFOUND
	RefundFee   int64
	RawResponse string
}

// PaymentGateway 是支付网关的出站端口，封装支付与退款的全部交互。
// 业务错误以 *domain.GatewayError 返回，调用方据此区分可否重试。
type PaymentGateway interface {
	// RequestPayment 创建支付单并返回客户端拉起支付所需参数。
	RequestPayment(ctx context.Context, orderID string, totalFee int64, openID string) (*PaymentParams, error)
	// QueryPayment 查询支付单状态。
	QueryPayment(ctx context.Context, orderID string) (*PaymentStatus, error)
	// RequestRefund 发起退款，结果通过异步回调送达。
	RequestRefund(ctx context.Context, req *RefundRequest) error
	// QueryRefund 查询退款单的网关侧真实状态。
	QueryRefund(ctx context.Context, outRefundNo string) (*RefundStatus, error)
}
