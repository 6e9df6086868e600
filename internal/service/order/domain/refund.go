package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RefundStatus 是退款记录的状态，success / failed 为终态。
type RefundStatus string

const (
	RefundProcessing RefundStatus = "processing"
	RefundSuccess    RefundStatus = "success"
	RefundFailed     RefundStatus = "failed"
)

// Terminal 表示退款已有最终结论，后续回调只做幂等确认。
func (s RefundStatus) Terminal() bool {
	return s == RefundSuccess || s == RefundFailed
}

// RefundRecord 是一次退款的持久化意图。记录必须在调用网关之前落库，
// 这样无论网关调用在哪一步失败，对账扫描都能发现并收敛它。
// RefundID 作为网关幂等键，数据库层有唯一索引兜底。
type RefundRecord struct {
	ID            int64
	RefundID      string
	OrderID       string
	OperatorID    string // 发起人 openid，管理员操作时为管理员 openid
	TotalFee      int64
	RefundFee     int64
	RefundReason  string
	Status        RefundStatus
	GatewayResult string // 网关最近一次应答原文（JSON）
	RecoveredBy   string // 非空表示由对账扫描修复
	CreateTime    time.Time
	UpdateTime    time.Time
	CompleteTime  *time.Time
}

// NewRefundID 生成退款单号，带时间戳前缀便于按时间排查。
func NewRefundID() string {
	return fmt.Sprintf("refund_%d_%s", time.Now().UnixMilli(), uuid.New().String()[:8])
}

// NewRefundRecord 创建一条处于 processing 的退款意图。
func NewRefundRecord(order *Order, operatorID string, refundFee int64, reason string) (*RefundRecord, error) {
	if !order.IsPaid {
		return nil, ErrValidation("订单未支付，无法申请退款")
	}
	if refundFee <= 0 {
		return nil, ErrValidation("退款金额必须大于0")
	}
	if refundFee > order.TotalFee {
		return nil, ErrValidation("退款金额不能超过订单金额")
	}
	now := time.Now()
	return &RefundRecord{
		RefundID:     NewRefundID(),
		OrderID:      order.ID,
		OperatorID:   operatorID,
		TotalFee:     order.TotalFee,
		RefundFee:    refundFee,
		RefundReason: reason,
		Status:       RefundProcessing,
		CreateTime:   now,
		UpdateTime:   now,
	}, nil
}
