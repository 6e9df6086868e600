package port

import "context"

// RefundGuard 是"一单同时只有一笔在途退款"的并发闸门。
// Acquire 失败表示已有退款在处理；数据库的退款单号唯一索引是兜底，
// 这里挡掉的是同一订单并发发起的第二笔。
type RefundGuard interface {
	// Acquire 尝试占住订单的退款闸门，返回 false 表示已被占用。
	Acquire(ctx context.Context, orderID, refundID string) (bool, error)
	// Release 退款到达终态后释放闸门。
	Release(ctx context.Context, orderID string) error
}
