package domain

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateRefund 由存储层在退款单号唯一索引冲突时返回，
// 是退款幂等的数据库兜底。
var ErrDuplicateRefund = errors.New("退款单号已存在")

// OrderPatch 是一次状态迁移要写入订单的字段集合，nil 字段不更新。
type OrderPatch struct {
	Status     Status
	UpdateTime time.Time

	IsPaid    *bool
	PaymentID *string
	RefundID  *string

	CancelReason   *string
	CancelOperator *string
	RefundReason   *string

	PayTime       *time.Time
	AcceptTime    *time.Time
	DeliverTime   *time.Time
	DeliveredTime *time.Time
	CompleteTime  *time.Time
	CancelTime    *time.Time
	RefundingTime *time.Time
	RefundTime    *time.Time
}

// OrderQuery 按归属分页查询订单。
type OrderQuery struct {
	OpenID   string
	Status   Status // 空值表示不过滤
	Page     int
	PageSize int
}

type OrderRepository interface {
	Get(ctx context.Context, id string) (*Order, error)
	Create(ctx context.Context, order *Order) error
	// ApplyPatch 按补丁更新单个订单，返回受影响行数。
	ApplyPatch(ctx context.Context, id string, patch OrderPatch) (int64, error)
	// ApplyPatchBatch 对一批订单写入同一个补丁。
	ApplyPatchBatch(ctx context.Context, ids []string, patch OrderPatch) error
	List(ctx context.Context, q OrderQuery) ([]*Order, int64, error)
	ListByIDs(ctx context.Context, ids []string) ([]*Order, error)
	// ListDeliveredBefore 按主键升序翻页取出超期未确认的订单，
	// afterID 为空表示从头开始。
	ListDeliveredBefore(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]*Order, error)
	// ListCancelledWithOpenRefund 找出已中止但关联退款未到终态的订单。
	ListCancelledWithOpenRefund(ctx context.Context, limit int) ([]*Order, error)
}

type HistoryRepository interface {
	Append(ctx context.Context, rec *HistoryRecord) error
	AppendBatch(ctx context.Context, recs []*HistoryRecord) error
	ListByOrder(ctx context.Context, orderID string) ([]*HistoryRecord, error)
}

type RefundRepository interface {
	// Create 落库退款意图，退款单号冲突返回 ErrDuplicateRefund。
	Create(ctx context.Context, rec *RefundRecord) error
	GetByRefundID(ctx context.Context, refundID string) (*RefundRecord, error)
	Update(ctx context.Context, rec *RefundRecord) error
	ListByOrder(ctx context.Context, orderID string) ([]*RefundRecord, error)
	// ListProcessingBetween 取出创建时间落在 (from, to] 区间的 processing 记录。
	ListProcessingBetween(ctx context.Context, from, to time.Time, limit int) ([]*RefundRecord, error)
	CountProcessingBefore(ctx context.Context, before time.Time) (int64, error)
	// ListSucceededWithOrderOpen 找出已退款成功但订单未中止的记录。
	ListSucceededWithOrderOpen(ctx context.Context, limit int) ([]*RefundRecord, error)
}

type RecoveryTaskRepository interface {
	Create(ctx context.Context, task *RecoveryTask) error
	// ListPending 按优先级降序、创建时间升序取出待重放任务。
	ListPending(ctx context.Context, limit int) ([]*RecoveryTask, error)
	CountPending(ctx context.Context) (int64, error)
	MarkRecovered(ctx context.Context, id int64, recoveredAt time.Time) error
}

// Store 聚合四张表的仓储。Transact 在一个数据库事务里执行 fn，
// fn 内通过传入的 Store 取到的仓储都绑定在同一事务上。
type Store interface {
	Orders() OrderRepository
	Histories() HistoryRepository
	Refunds() RefundRepository
	RecoveryTasks() RecoveryTaskRepository
	Transact(ctx context.Context, fn func(Store) error) error
}
