package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderItem 是订单里的一条商品明细，金额一律用分表示。
type OrderItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
}

// Order 是订单聚合的根实体。时间字段按状态机的 requiredFields
// 在迁移时由引擎盖章，初始都为 nil。
type Order struct {
	ID     string
	OpenID string // 下单用户
	Status Status

	Items    []OrderItem
	TotalFee int64 // 订单总金额（分）

	IsPaid    bool
	PaymentID string // 网关支付单号
	RefundID  string // 最近一次退款单号

	CancelReason   string
	CancelOperator string // "用户" / "商家" / "系统"
	RefundReason   string
	Remark         string

	ContactName    string
	ContactPhone   string
	DeliveryAddr   string
	DeliveryRemark string

	CreateTime    time.Time
	UpdateTime    time.Time
	PayTime       *time.Time
	AcceptTime    *time.Time
	DeliverTime   *time.Time
	DeliveredTime *time.Time
	CompleteTime  *time.Time
	CancelTime    *time.Time
	RefundingTime *time.Time
	RefundTime    *time.Time // 退款完成时间
}

// NewOrder 创建一个待支付订单，总金额由明细算出。
func NewOrder(openID string, items []OrderItem) (*Order, error) {
	if openID == "" {
		return nil, ErrValidation("缺少用户标识")
	}
	if len(items) == 0 {
		return nil, ErrValidation("订单商品不能为空")
	}
	var total int64
	for _, it := range items {
		if it.Price < 0 || it.Quantity <= 0 {
			return nil, ErrValidation("商品价格或数量无效")
		}
		total += it.Price * int64(it.Quantity)
	}
	now := time.Now()
	return &Order{
		ID:         uuid.New().String(),
		OpenID:     openID,
		Status:     StatusPendingPayment,
		Items:      items,
		TotalFee:   total,
		CreateTime: now,
		UpdateTime: now,
	}, nil
}

// OwnedBy 判断订单归属。
func (o *Order) OwnedBy(openID string) bool {
	return o.OpenID == openID
}

// Refundable 判断当前状态是否允许发起退款。
func (o *Order) Refundable() bool {
	switch o.Status {
	case StatusPaid, StatusAccepted, StatusDelivering, StatusDelivered:
		return o.IsPaid
	}
	return false
}

// StatusText 返回当前状态的展示文案。
func (o *Order) StatusText() string {
	return o.Status.Text()
}
