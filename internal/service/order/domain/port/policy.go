package port

import "context"

// RefundPolicyInput 是退款资格规则的求值输入。
type RefundPolicyInput struct {
	Status         string
	IsPaid         bool
	TotalFee       int64
	RefundFee      int64
	HoursSincePaid float64
	IsAdmin        bool
}

// RefundPolicy 判断一笔退款是否符合平台规则（如支付后的退款时限）。
// 规则以表达式形式配置，发版之外可调。
type RefundPolicy interface {
	Allow(ctx context.Context, in RefundPolicyInput) (bool, error)
}
