package infrastructure

import (
	"encoding/json"
	"time"

	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain"
)

// OrderModel 对应数据库中的 orders 表
type OrderModel struct {
	ID     string        `gorm:"primaryKey;size:64"`
	OpenID string        `gorm:"index;size:64"`
	Status domain.Status `gorm:"index;size:32"`

	Items    string `gorm:"type:text"` // 商品明细，JSON
	TotalFee int64

	IsPaid    bool
	PaymentID string `gorm:"size:64"`
	RefundID  string `gorm:"size:64"`

	CancelReason   string `gorm:"size:255"`
	CancelOperator string `gorm:"size:32"`
	RefundReason   string `gorm:"size:255"`
	Remark         string `gorm:"size:255"`

	ContactName    string `gorm:"size:64"`
	ContactPhone   string `gorm:"size:32"`
	DeliveryAddr   string `gorm:"size:255"`
	DeliveryRemark string `gorm:"size:255"`

	CreateTime    time.Time `gorm:"index"`
	UpdateTime    time.Time
	PayTime       *time.Time
	AcceptTime    *time.Time
	DeliverTime   *time.Time
	DeliveredTime *time.Time `gorm:"index"`
	CompleteTime  *time.Time
	CancelTime    *time.Time
	RefundingTime *time.Time
	RefundTime    *time.Time
}

func (OrderModel) TableName() string {
	return "orders"
}

// OrderHistoryModel 对应 order_history 表，只追加
type OrderHistoryModel struct {
	ID         int64         `gorm:"primaryKey;autoIncrement"`
	OrderID    string        `gorm:"index;size:64"`
	FromStatus domain.Status `gorm:"size:32"`
	ToStatus   domain.Status `gorm:"size:32"`

	Operator   string `gorm:"size:32"`
	OperatorID string `gorm:"size:64"`

	StatusText          string `gorm:"size:64"`
	Remark              string `gorm:"size:255"`
	UserFriendlyMessage string `gorm:"size:255"`
	OperationResult     int    `gorm:"type:tinyint"`
	RequestID           string `gorm:"size:64"`

	CreateTime time.Time
}

func (OrderHistoryModel) TableName() string {
	return "order_history"
}

// RefundRecordModel 对应 refund_record 表。
// refund_id 上的唯一索引是退款幂等的最后一道防线。
type RefundRecordModel struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	RefundID      string `gorm:"uniqueIndex;size:64"`
	OrderID       string `gorm:"index;size:64"`
	OperatorID    string `gorm:"size:64"`
	TotalFee      int64
	RefundFee     int64
	RefundReason  string              `gorm:"size:255"`
	Status        domain.RefundStatus `gorm:"index;size:16"`
	GatewayResult string              `gorm:"type:text"`
	RecoveredBy   string              `gorm:"size:32"`
	CreateTime    time.Time           `gorm:"index"`
	UpdateTime    time.Time
	CompleteTime  *time.Time
}

func (RefundRecordModel) TableName() string {
	return "refund_record"
}

// RecoveryTaskModel 对应 recovery_task 表
type RecoveryTaskModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	OrderID      string `gorm:"index;size:64"`
	RefundID     string `gorm:"size:64"`
	Source       string `gorm:"size:32"`
	Reason       string `gorm:"type:text"`
	NeedRecovery bool   `gorm:"index"`
	Priority     int    `gorm:"type:tinyint"`
	RecoveredAt  *time.Time
	CreateTime   time.Time
}

func (RecoveryTaskModel) TableName() string {
	return "recovery_task"
}

// --- 领域模型与数据库模型互转 ---

func toOrderModel(o *domain.Order) *OrderModel {
	items, _ := json.Marshal(o.Items)
	return &OrderModel{
		ID:             o.ID,
		OpenID:         o.OpenID,
		Status:         o.Status,
		Items:          string(items),
		TotalFee:       o.TotalFee,
		IsPaid:         o.IsPaid,
		PaymentID:      o.PaymentID,
		RefundID:       o.RefundID,
		CancelReason:   o.CancelReason,
		CancelOperator: o.CancelOperator,
		RefundReason:   o.RefundReason,
		Remark:         o.Remark,
		ContactName:    o.ContactName,
		ContactPhone:   o.ContactPhone,
		DeliveryAddr:   o.DeliveryAddr,
		DeliveryRemark: o.DeliveryRemark,
		CreateTime:     o.CreateTime,
		UpdateTime:     o.UpdateTime,
		PayTime:        o.PayTime,
		AcceptTime:     o.AcceptTime,
		DeliverTime:    o.DeliverTime,
		DeliveredTime:  o.DeliveredTime,
		CompleteTime:   o.CompleteTime,
		CancelTime:     o.CancelTime,
		RefundingTime:  o.RefundingTime,
		RefundTime:     o.RefundTime,
	}
}

func toDomainOrder(m *OrderModel) *domain.Order {
	var items []domain.OrderItem
	if m.Items != "" {
		_ = json.Unmarshal([]byte(m.Items), &items)
	}
	return &domain.Order{
		ID:             m.ID,
		OpenID:         m.OpenID,
		Status:         m.Status,
		Items:          items,
		TotalFee:       m.TotalFee,
		IsPaid:         m.IsPaid,
		PaymentID:      m.PaymentID,
		RefundID:       m.RefundID,
		CancelReason:   m.CancelReason,
		CancelOperator: m.CancelOperator,
		RefundReason:   m.RefundReason,
		Remark:         m.Remark,
		ContactName:    m.ContactName,
		ContactPhone:   m.ContactPhone,
		DeliveryAddr:   m.DeliveryAddr,
		DeliveryRemark: m.DeliveryRemark,
		CreateTime:     m.CreateTime,
		UpdateTime:     m.UpdateTime,
		PayTime:        m.PayTime,
		AcceptTime:     m.AcceptTime,
		DeliverTime:    m.DeliverTime,
		DeliveredTime:  m.DeliveredTime,
		CompleteTime:   m.CompleteTime,
		CancelTime:     m.CancelTime,
		RefundingTime:  m.RefundingTime,
		RefundTime:     m.RefundTime,
	}
}

func toHistoryModel(r *domain.HistoryRecord) *OrderHistoryModel {
	return &OrderHistoryModel{
		ID:                  r.ID,
		OrderID:             r.OrderID,
		FromStatus:          r.FromStatus,
		ToStatus:            r.ToStatus,
		Operator:            r.Operator,
		OperatorID:          r.OperatorID,
		StatusText:          r.StatusText,
		Remark:              r.Remark,
		UserFriendlyMessage: r.UserFriendlyMessage,
		OperationResult:     r.OperationResult,
		RequestID:           r.RequestID,
		CreateTime:          r.CreateTime,
	}
}

func toDomainHistory(m *OrderHistoryModel) *domain.HistoryRecord {
	return &domain.HistoryRecord{
		ID:                  m.ID,
		OrderID:             m.OrderID,
		FromStatus:          m.FromStatus,
		ToStatus:            m.ToStatus,
		Operator:            m.Operator,
		OperatorID:          m.OperatorID,
		StatusText:          m.StatusText,
		Remark:              m.Remark,
		UserFriendlyMessage: m.UserFriendlyMessage,
		OperationResult:     m.OperationResult,
		RequestID:           m.RequestID,
		CreateTime:          m.CreateTime,
	}
}

func toRefundModel(r *domain.RefundRecord) *RefundRecordModel {
	return &RefundRecordModel{
		ID:            r.ID,
		RefundID:      r.RefundID,
		OrderID:       r.OrderID,
		OperatorID:    r.OperatorID,
		TotalFee:      r.TotalFee,
		RefundFee:     r.RefundFee,
		RefundReason:  r.RefundReason,
		Status:        r.Status,
		GatewayResult: r.GatewayResult,
		RecoveredBy:   r.RecoveredBy,
		CreateTime:    r.CreateTime,
		UpdateTime:    r.UpdateTime,
		CompleteTime:  r.CompleteTime,
	}
}

func toDomainRefund(m *RefundRecordModel) *domain.RefundRecord {
	return &domain.RefundRecord{
		ID:            m.ID,
		RefundID:      m.RefundID,
		OrderID:       m.OrderID,
		OperatorID:    m.OperatorID,
		TotalFee:      m.TotalFee,
		RefundFee:     m.RefundFee,
		RefundReason:  m.RefundReason,
		Status:        m.Status,
		GatewayResult: m.GatewayResult,
		RecoveredBy:   m.RecoveredBy,
		CreateTime:    m.CreateTime,
		UpdateTime:    m.UpdateTime,
		CompleteTime:  m.CompleteTime,
	}
}

func toTaskModel(t *domain.RecoveryTask) *RecoveryTaskModel {
	return &RecoveryTaskModel{
		ID:           t.ID,
		OrderID:      t.OrderID,
		RefundID:     t.RefundID,
		Source:       t.Source,
		Reason:       t.Reason,
		NeedRecovery: t.NeedRecovery,
		Priority:     t.Priority,
		RecoveredAt:  t.RecoveredAt,
		CreateTime:   t.CreateTime,
	}
}

func toDomainTask(m *RecoveryTaskModel) *domain.RecoveryTask {
	return &domain.RecoveryTask{
		ID:           m.ID,
		OrderID:      m.OrderID,
		RefundID:     m.RefundID,
		Source:       m.Source,
		Reason:       m.Reason,
		NeedRecovery: m.NeedRecovery,
		Priority:     m.Priority,
		RecoveredAt:  m.RecoveredAt,
		CreateTime:   m.CreateTime,
	}
}
