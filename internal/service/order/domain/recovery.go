package domain

import "time"

// RecoveryTask 的优先级：高优先级（回调重试耗尽）在扫描时优先处理。
const (
	PriorityNormal = 1
	PriorityHigh   = 2
)

// 任务来源
const (
	RecoverySourceRefundCallback = "refund_callback"
	RecoverySourceSweep          = "refund_recovery"
)

// RecoveryTask 记录一次需要（或已经）人工/扫描介入的异常现场。
// NeedRecovery 为 true 的任务会被对账扫描重放，处理完置回 false。
type RecoveryTask struct {
	ID           int64
	OrderID      string
	RefundID     string
	Source       string
	Reason       string
	NeedRecovery bool
	Priority     int
	RecoveredAt  *time.Time
	CreateTime   time.Time
}

// NewRecoveryTask 创建一条待重放的恢复任务。
func NewRecoveryTask(orderID, refundID, source, reason string, priority int) *RecoveryTask {
	return &RecoveryTask{
		OrderID:      orderID,
		RefundID:     refundID,
		Source:       source,
		Reason:       reason,
		NeedRecovery: true,
		Priority:     priority,
		CreateTime:   time.Now(),
	}
}
