package domain

import "time"

// 历史记录中的操作者展示名
const (
	OperatorUser     = "用户"
	OperatorMerchant = "商家"
	OperatorSystem   = "系统"
)

// HistoryRecord 是订单状态变更的审计记录，只追加，永不修改。
type HistoryRecord struct {
	ID         int64
	OrderID    string
	FromStatus Status
	ToStatus   Status

	Operator   string // 展示名：用户/商家/系统
	OperatorID string // openid 或 "system"、"recovery_system"

	StatusText          string
	Remark              string
	UserFriendlyMessage string
	OperationResult     int // 1 成功 0 失败
	RequestID           string

	CreateTime time.Time
}

// TransitionContext 携带一次状态迁移的操作者信息和附加字段。
type TransitionContext struct {
	OperatorID       string
	IsAdminOperation bool
	Reason           string
	Remark           string
	RequestID        string

	// 支付回调带入网关支付单号，退款迁移带入退款单号
	PaymentID string
	RefundID  string
}

// OperatorName 按原始语义换算展示名：管理员显示商家，
// system 账号显示系统，其余都是用户。
func (c TransitionContext) OperatorName() string {
	if c.IsAdminOperation {
		return OperatorMerchant
	}
	if c.OperatorID == "system" || c.OperatorID == "recovery_system" {
		return OperatorSystem
	}
	return OperatorUser
}
