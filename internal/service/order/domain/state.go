package domain

// Status 定义订单的生命周期状态
type Status string

const (
	StatusPendingPayment Status = "pending_payment" // 待支付
	StatusPaid           Status = "paid"            // 已支付
	StatusAccepted       Status = "accepted"        // 已接单
	StatusDelivering     Status = "delivering"      // 配送中
	StatusDelivered      Status = "delivered"       // 待确认收货
	StatusCompleted      Status = "completed"       // 已完成
	StatusCancelled      Status = "cancelled"       // 已中止
	StatusRefunding      Status = "refunding"       // 退款中
)

var statusText = map[Status]string{
	StatusPendingPayment: "待支付",
	StatusPaid:           "已支付",
	StatusAccepted:       "已接单",
	StatusDelivering:     "配送中",
	StatusDelivered:      "待确认收货",
	StatusRefunding:      "退款中",
	StatusCancelled:      "已中止",
	StatusCompleted:      "已完成",
}

// Text 返回状态的展示文案，未知状态原样返回。
func (s Status) Text() string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return string(s)
}

// Terminal 表示该状态没有任何后续转换。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// 转换名称，同时是对外 API 的 action 标识
const (
	TransitionPayOrder           = "payOrder"
	TransitionCancelOrder        = "cancelOrder"
	TransitionConfirmReceived    = "confirmReceived"
	TransitionApplyRefund        = "applyRefund"
	TransitionAcceptOrder        = "acceptOrder"
	TransitionStartDelivery      = "startDelivery"
	TransitionCompleteDelivery   = "completeDelivery"
	TransitionCancelOrderByAdmin = "cancelOrderByAdmin"
	TransitionRefundOrder        = "refundOrder"
	TransitionCancelRefund       = "cancelRefund"
	TransitionCompleteRefund     = "completeRefund"
)

// Transition 描述一次合法的状态迁移
type Transition struct {
	Name           string
	From           []Status
	To             Status
	RequiredFields []string
	FriendlyName   string
}

// AllowsFrom 判断当前状态是否在迁移的起点集合中。
func (t Transition) AllowsFrom(s Status) bool {
	for _, f := range t.From {
		if f == s {
			return true
		}
	}
	return false
}

// IsRefundEntry 表示该迁移会触发退款流程。
func (t Transition) IsRefundEntry() bool {
	return t.Name == TransitionApplyRefund || t.Name == TransitionRefundOrder
}

// Transitions 是完整的状态迁移表。requiredFields 里以 Time 结尾的字段
// 由引擎自动盖当前时间戳，其余字段从迁移上下文取值。
var Transitions = map[string]Transition{
	// 用户操作
	TransitionPayOrder: {
		Name:           TransitionPayOrder,
		From:           []Status{StatusPendingPayment},
		To:             StatusPaid,
		RequiredFields: []string{"isPaid", "payTime"},
		FriendlyName:   "支付订单",
	},
	TransitionCancelOrder: {
		Name:           TransitionCancelOrder,
		From:           []Status{StatusPendingPayment},
		To:             StatusCancelled,
		RequiredFields: []string{"cancelTime", "cancelReason"},
		FriendlyName:   "取消订单",
	},
	TransitionConfirmReceived: {
		Name:           TransitionConfirmReceived,
		From:           []Status{StatusDelivered},
		To:             StatusCompleted,
		RequiredFields: []string{"completeTime"},
		FriendlyName:   "确认收货",
	},
	TransitionApplyRefund: {
		Name:           TransitionApplyRefund,
		From:           []Status{StatusPaid, StatusAccepted, StatusDelivering, StatusDelivered},
		To:             StatusRefunding,
		RequiredFields: []string{"refundingTime", "refundReason"},
		FriendlyName:   "申请退款",
	},

	// 管理员操作
	TransitionAcceptOrder: {
		Name:           TransitionAcceptOrder,
		From:           []Status{StatusPaid},
		To:             StatusAccepted,
		RequiredFields: []string{"acceptTime"},
		FriendlyName:   "接单",
	},
	TransitionStartDelivery: {
		Name:           TransitionStartDelivery,
		From:           []Status{StatusAccepted},
		To:             StatusDelivering,
		RequiredFields: []string{"deliverTime"},
		FriendlyName:   "开始配送",
	},
	TransitionCompleteDelivery: {
		Name:           TransitionCompleteDelivery,
		From:           []Status{StatusDelivering},
		To:             StatusDelivered,
		RequiredFields: []string{"deliveredTime"},
		FriendlyName:   "完成配送",
	},
	TransitionCancelOrderByAdmin: {
		Name:           TransitionCancelOrderByAdmin,
		From:           []Status{StatusPendingPayment, StatusPaid, StatusAccepted, StatusDelivering},
		To:             StatusCancelled,
		RequiredFields: []string{"cancelTime", "cancelReason", "cancelOperator"},
		FriendlyName:   "取消订单",
	},
	TransitionRefundOrder: {
		Name:           TransitionRefundOrder,
		From:           []Status{StatusPaid, StatusAccepted, StatusDelivering, StatusDelivered},
		To:             StatusRefunding,
		RequiredFields: []string{"refundingTime", "refundReason"},
		FriendlyName:   "退款",
	},
	TransitionCancelRefund: {
		Name:           TransitionCancelRefund,
		From:           []Status{StatusRefunding},
		To:             StatusCancelled,
		RequiredFields: []string{"cancelTime", "cancelReason"},
		FriendlyName:   "取消退款",
	},
	TransitionCompleteRefund: {
		Name:           TransitionCompleteRefund,
		From:           []Status{StatusRefunding},
		To:             StatusCancelled,
		RequiredFields: []string{"cancelTime", "refundTime", "refundAmount"},
		FriendlyName:   "完成退款",
	},
}

// NeedsRefund 判断一次迁移是否要求发起退款。
// 只有从已支付类状态进入退款中才需要真正向网关请求退钱。
func NeedsRefund(from, to Status) bool {
	if to != StatusRefunding {
		return false
	}
	switch from {
	case StatusPaid, StatusAccepted, StatusDelivering, StatusDelivered:
		return true
	}
	return false
}

// 状态变更时对用户的友好提示，未列出的组合使用默认文案。
var friendlyMessages = map[Status]map[Status]string{
	StatusPaid:       {StatusRefunding: "正在为您处理退款，预计1-3个工作日到账"},
	StatusAccepted:   {StatusRefunding: "正在为您处理退款，预计1-3个工作日到账"},
	StatusDelivering: {StatusRefunding: "正在为您处理退款，预计1-3个工作日到账"},
	StatusDelivered:  {StatusRefunding: "正在为您处理退款，预计1-3个工作日到账"},
	StatusRefunding:  {StatusCancelled: "订单状态已调整，如需退款请联系客服或重新申请"},
}

// FriendlyMessage 返回状态变更的用户提示，没有专门文案时生成默认提示。
func FriendlyMessage(from, to Status) string {
	if m, ok := friendlyMessages[from]; ok {
		if msg, ok := m[to]; ok {
			return msg
		}
	}
	return "订单状态已更新为" + to.Text()
}

// StateInfo 描述每个状态的展示信息和可用操作。
type StateInfo struct {
	Name         string
	TimeField    string
	UserActions  []string
	AdminActions []string
}

var States = map[Status]StateInfo{
	StatusPendingPayment: {
		Name:        statusText[StatusPendingPayment],
		UserActions: []string{TransitionCancelOrder, TransitionPayOrder},
	},
	StatusPaid: {
		Name:         statusText[StatusPaid],
		TimeField:    "payTime",
		UserActions:  []string{TransitionApplyRefund},
		AdminActions: []string{TransitionAcceptOrder, TransitionCancelOrderByAdmin, TransitionRefundOrder},
	},
	StatusAccepted: {
		Name:         statusText[StatusAccepted],
		TimeField:    "acceptTime",
		UserActions:  []string{TransitionApplyRefund},
		AdminActions: []string{TransitionStartDelivery, TransitionCancelOrderByAdmin, TransitionRefundOrder},
	},
	StatusDelivering: {
		Name:         statusText[StatusDelivering],
		TimeField:    "deliverTime",
		UserActions:  []string{TransitionApplyRefund},
		AdminActions: []string{TransitionCompleteDelivery, TransitionCancelOrderByAdmin, TransitionRefundOrder},
	},
	StatusDelivered: {
		Name:         statusText[StatusDelivered],
		TimeField:    "deliveredTime",
		UserActions:  []string{TransitionConfirmReceived, TransitionApplyRefund},
		AdminActions: []string{TransitionRefundOrder},
	},
	StatusCompleted: {
		Name:      statusText[StatusCompleted],
		TimeField: "completeTime",
	},
	StatusCancelled: {
		Name:      statusText[StatusCancelled],
		TimeField: "cancelTime",
	},
	StatusRefunding: {
		Name:         statusText[StatusRefunding],
		TimeField:    "refundingTime",
		AdminActions: []string{TransitionCancelRefund, TransitionCompleteRefund},
	},
}

// ActionInfo 是返回给前端的可用操作描述。
type ActionInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	To          Status `json:"to"`
}

// AvailableActions 返回某状态下用户或管理员可执行的操作列表。
func AvailableActions(s Status, isAdmin bool) []ActionInfo {
	info, ok := States[s]
	if !ok {
		return nil
	}
	names := info.UserActions
	if isAdmin {
		names = info.AdminActions
	}
	actions := make([]ActionInfo, 0, len(names))
	for _, name := range names {
		t, ok := Transitions[name]
		if !ok {
			continue
		}
		actions = append(actions, ActionInfo{Name: name, DisplayName: t.FriendlyName, To: t.To})
	}
	return actions
}
