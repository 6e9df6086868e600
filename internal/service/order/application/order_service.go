package application

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/logger"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain/port"
)

// OrderService 汇聚订单的读写操作，是 HTTP 接口层背后的门面。
type OrderService struct {
	store   domain.Store
	engine  *Engine
	gateway port.PaymentGateway
	admin   port.AdminChecker
	policy  port.RefundPolicy
	refunds *RefundService
}

func NewOrderService(store domain.Store, engine *Engine, gateway port.PaymentGateway, admin port.AdminChecker, policy port.RefundPolicy, refunds *RefundService) *OrderService {
	return &OrderService{
		store:   store,
		engine:  engine,
		gateway: gateway,
		admin:   admin,
		policy:  policy,
		refunds: refunds,
	}
}

// CreateOrderInput 是下单参数。
type CreateOrderInput struct {
	Items          []domain.OrderItem
	Remark         string
	ContactName    string
	ContactPhone   string
	DeliveryAddr   string
	DeliveryRemark string
}

// CreateOrder 创建待支付订单。
func (s *OrderService) CreateOrder(ctx context.Context, openID string, in CreateOrderInput) (*domain.Order, error) {
	order, err := domain.NewOrder(openID, in.Items)
	if err != nil {
		return nil, err
	}
	order.Remark = in.Remark
	order.ContactName = in.ContactName
	order.ContactPhone = in.ContactPhone
	order.DeliveryAddr = in.DeliveryAddr
	order.DeliveryRemark = in.DeliveryRemark

	if err := s.store.Orders().Create(ctx, order); err != nil {
		return nil, errors.Wrap(err, "persist order")
	}
	logger.Ctx(ctx).Info().
		Str("order_id", order.ID).
		Int64("total_fee", order.TotalFee).
		Msg("order created")
	return order, nil
}

// CreatePayment 为待支付订单创建支付单，返回客户端拉起支付的参数。
func (s *OrderService) CreatePayment(ctx context.Context, openID, orderID string) (*port.PaymentParams, error) {
	order, err := s.store.Orders().Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.OwnedBy(openID) {
		return nil, domain.ErrNotOwner
	}
	if order.IsPaid {
		return nil, domain.ErrValidation("订单已支付，请勿重复支付")
	}
	if order.Status != domain.StatusPendingPayment {
		return nil, domain.ErrValidation("订单当前状态不可支付")
	}
	return s.gateway.RequestPayment(ctx, order.ID, order.TotalFee, openID)
}

// PaymentQueryResult 是支付状态轮询的应答。
type PaymentQueryResult struct {
	IsPaid     bool          `json:"isPaid"`
	Status     domain.Status `json:"status"`
	StatusText string        `json:"statusText"`
}

// QueryPayment 供前端轮询支付结果。支付回调尚未到达时
// 返回未支付，由前端继续等待。
func (s *OrderService) QueryPayment(ctx context.Context, openID, orderID string) (*PaymentQueryResult, error) {
	order, err := s.store.Orders().Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.OwnedBy(openID) {
		return nil, domain.ErrNotOwner
	}
	return &PaymentQueryResult{
		IsPaid:     order.IsPaid,
		Status:     order.Status,
		StatusText: order.StatusText(),
	}, nil
}

// GetOrderDetail 查询订单详情，订单归属人或管理员可见。
func (s *OrderService) GetOrderDetail(ctx context.Context, openID, orderID string) (*domain.Order, error) {
	order, err := s.store.Orders().Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.OwnedBy(openID) && !s.isAdmin(ctx, openID) {
		return nil, domain.ErrNotOwner
	}
	return order, nil
}

// GetOrders 分页查询用户自己的订单。
func (s *OrderService) GetOrders(ctx context.Context, openID string, status domain.Status, page, pageSize int) ([]*domain.Order, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 50 {
		pageSize = 10
	}
	return s.store.Orders().List(ctx, domain.OrderQuery{
		OpenID:   openID,
		Status:   status,
		Page:     page,
		PageSize: pageSize,
	})
}

// GetOrderHistory 查询订单的状态变更历史。
func (s *OrderService) GetOrderHistory(ctx context.Context, openID, orderID string) ([]*domain.HistoryRecord, error) {
	order, err := s.store.Orders().Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.OwnedBy(openID) && !s.isAdmin(ctx, openID) {
		return nil, domain.ErrNotOwner
	}
	return s.store.Histories().ListByOrder(ctx, orderID)
}

// GetOrderActions 返回当前用户对订单可执行的操作，
// 退款入口还要再过一遍退款资格规则。
func (s *OrderService) GetOrderActions(ctx context.Context, openID, orderID string) ([]domain.ActionInfo, error) {
	order, err := s.store.Orders().Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	isAdmin := s.isAdmin(ctx, openID)
	if !order.OwnedBy(openID) && !isAdmin {
		return nil, domain.ErrNotOwner
	}

	actions := domain.AvailableActions(order.Status, isAdmin)
	if s.policy == nil {
		return actions, nil
	}
	filtered := actions[:0]
	for _, a := range actions {
		if a.Name == domain.TransitionApplyRefund || a.Name == domain.TransitionRefundOrder {
			allowed, err := s.policy.Allow(ctx, refundPolicyInput(order, order.TotalFee, isAdmin))
			if err != nil || !allowed {
				continue
			}
		}
		filtered = append(filtered, a)
	}
	return filtered, nil
}

// CancelOrder 用户取消待支付订单。
func (s *OrderService) CancelOrder(ctx context.Context, openID, orderID, reason string) (*TransitionResult, error) {
	if err := s.requireOwner(ctx, openID, orderID); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "用户取消订单"
	}
	return s.engine.ExecuteTransition(ctx, orderID, domain.TransitionCancelOrder, domain.TransitionContext{
		OperatorID: openID,
		Reason:     reason,
	})
}

// ConfirmReceived 用户确认收货。
func (s *OrderService) ConfirmReceived(ctx context.Context, openID, orderID string) (*TransitionResult, error) {
	if err := s.requireOwner(ctx, openID, orderID); err != nil {
		return nil, err
	}
	return s.engine.ExecuteTransition(ctx, orderID, domain.TransitionConfirmReceived, domain.TransitionContext{
		OperatorID: openID,
	})
}

// ApplyRefund 用户申请退款，进入退款 saga。
func (s *OrderService) ApplyRefund(ctx context.Context, openID, orderID string, refundFee int64, reason string) (*domain.RefundRecord, error) {
	if reason == "" {
		reason = "用户申请退款"
	}
	return s.refunds.InitiateRefund(ctx, RefundInput{
		OrderID:    orderID,
		OperatorID: openID,
		RefundFee:  refundFee,
		Reason:     reason,
	})
}

// AcceptOrder 商家接单。
func (s *OrderService) AcceptOrder(ctx context.Context, openID, orderID string) (*TransitionResult, error) {
	if err := s.requireAdmin(ctx, openID); err != nil {
		return nil, err
	}
	return s.engine.ExecuteTransition(ctx, orderID, domain.TransitionAcceptOrder, domain.TransitionContext{
		OperatorID:       openID,
		IsAdminOperation: true,
	})
}

// StartDelivery 商家开始配送。
func (s *OrderService) StartDelivery(ctx context.Context, openID, orderID string) (*TransitionResult, error) {
	if err := s.requireAdmin(ctx, openID); err != nil {
		return nil, err
	}
	return s.engine.ExecuteTransition(ctx, orderID, domain.TransitionStartDelivery, domain.TransitionContext{
		OperatorID:       openID,
		IsAdminOperation: true,
	})
}

// CompleteDelivery 商家送达，订单进入待确认收货。
func (s *OrderService) CompleteDelivery(ctx context.Context, openID, orderID string) (*TransitionResult, error) {
	if err := s.requireAdmin(ctx, openID); err != nil {
		return nil, err
	}
	return s.engine.ExecuteTransition(ctx, orderID, domain.TransitionCompleteDelivery, domain.TransitionContext{
		OperatorID:       openID,
		IsAdminOperation: true,
	})
}

// AdminCancelResult 是管理员取消订单的应答。
type AdminCancelResult struct {
	Refunding bool   `json:"refunding"`
	RefundID  string `json:"refundId,omitempty"`
	Message   string `json:"message"`
}

// CancelOrderByAdmin 商家取消订单。已收款的订单先进入退款 saga，
// 真正的中止由退款回调完成；未收款的订单直接中止。
func (s *OrderService) CancelOrderByAdmin(ctx context.Context, openID, orderID, reason string) (*AdminCancelResult, error) {
	if err := s.requireAdmin(ctx, openID); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "管理员取消订单"
	}

	order, err := s.store.Orders().Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if domain.NeedsRefund(order.Status, domain.StatusRefunding) {
		rec, err := s.refunds.InitiateRefund(ctx, RefundInput{
			OrderID:    orderID,
			OperatorID: openID,
			IsAdmin:    true,
			Reason:     reason,
		})
		if err != nil {
			return nil, err
		}
		return &AdminCancelResult{
			Refunding: true,
			RefundID:  rec.RefundID,
			Message:   "退款申请已提交，处理中",
		}, nil
	}

	result, err := s.engine.ExecuteTransition(ctx, orderID, domain.TransitionCancelOrderByAdmin, domain.TransitionContext{
		OperatorID:       openID,
		IsAdminOperation: true,
		Reason:           reason,
	})
	if err != nil {
		return nil, err
	}
	return &AdminCancelResult{Message: result.Message}, nil
}

// CancelRefund 商家人工中止退款流程（如线下已协商）。
func (s *OrderService) CancelRefund(ctx context.Context, openID, orderID, reason string) (*TransitionResult, error) {
	if err := s.requireAdmin(ctx, openID); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "商家取消退款"
	}
	return s.engine.ExecuteTransition(ctx, orderID, domain.TransitionCancelRefund, domain.TransitionContext{
		OperatorID:       openID,
		IsAdminOperation: true,
		Reason:           reason,
	})
}

// CompleteRefund 商家人工确认退款完成（线下退款等场景）。
func (s *OrderService) CompleteRefund(ctx context.Context, openID, orderID string) (*TransitionResult, error) {
	if err := s.requireAdmin(ctx, openID); err != nil {
		return nil, err
	}
	return s.engine.ExecuteTransition(ctx, orderID, domain.TransitionCompleteRefund, domain.TransitionContext{
		OperatorID:       openID,
		IsAdminOperation: true,
	})
}

func (s *OrderService) requireOwner(ctx context.Context, openID, orderID string) error {
	order, err := s.store.Orders().Get(ctx, orderID)
	if err != nil {
		return err
	}
	if !order.OwnedBy(openID) {
		return domain.ErrNotOwner
	}
	return nil
}

func (s *OrderService) requireAdmin(ctx context.Context, openID string) error {
	if !s.isAdmin(ctx, openID) {
		return domain.ErrNotAdmin
	}
	return nil
}

// isAdmin 查询管理员身份，查询失败按非管理员处理。
func (s *OrderService) isAdmin(ctx context.Context, openID string) bool {
	if s.admin == nil {
		return false
	}
	ok, err := s.admin.IsAdmin(ctx, openID)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("open_id", openID).Msg("admin check failed, denying")
		return false
	}
	return ok
}
