package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/logger"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain/port"
)

// RefundService 实现退款 saga 的发起端：
// 先落可持久的退款意图，再做状态迁移，最后异步调网关。
// 任何一步之后崩溃，对账扫描都能从退款记录收敛现场。
type RefundService struct {
	store   domain.Store
	engine  *Engine
	gateway port.PaymentGateway
	guard   port.RefundGuard
	policy  port.RefundPolicy
	notices *NoticeService

	gatewayTimeout time.Duration
	syncGateway    bool // 测试用：同步执行网关调用
}

func NewRefundService(store domain.Store, engine *Engine, gateway port.PaymentGateway, guard port.RefundGuard, policy port.RefundPolicy, notices *NoticeService) *RefundService {
	return &RefundService{
		store:          store,
		engine:         engine,
		gateway:        gateway,
		guard:          guard,
		policy:         policy,
		notices:        notices,
		gatewayTimeout: 8 * time.Second,
	}
}

// RefundInput 是退款发起参数。RefundFee 为 0 表示全额退款。
type RefundInput struct {
	OrderID    string
	OperatorID string
	IsAdmin    bool
	RefundFee  int64
	Reason     string
	RequestID  string
}

// InitiateRefund 发起退款。返回时退款意图已落库、订单已进入退款中，
// 网关调用在后台进行，最终结果由回调或对账扫描写回。
func (s *RefundService) InitiateRefund(ctx context.Context, in RefundInput) (*domain.RefundRecord, error) {
	order, err := s.store.Orders().Get(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if !in.IsAdmin && !order.OwnedBy(in.OperatorID) {
		return nil, domain.ErrNotOwner
	}

	transitionName := domain.TransitionApplyRefund
	if in.IsAdmin {
		transitionName = domain.TransitionRefundOrder
	}
	tr := domain.Transitions[transitionName]
	if !tr.AllowsFrom(order.Status) {
		return nil, &domain.InvalidTransitionError{From: order.Status, Transition: transitionName}
	}

	fee := in.RefundFee
	if fee == 0 {
		fee = order.TotalFee
	}
	rec, err := domain.NewRefundRecord(order, in.OperatorID, fee, in.Reason)
	if err != nil {
		return nil, err
	}

	if s.policy != nil {
		allowed, err := s.policy.Allow(ctx, refundPolicyInput(order, fee, in.IsAdmin))
		if err != nil {
			return nil, errors.Wrap(err, "evaluate refund policy")
		}
		if !allowed {
			return nil, domain.ErrValidation("当前订单不满足退款条件，请联系商家处理")
		}
	}

	// 并发闸门：一单同时只允许一笔在途退款
	acquired, err := s.guard.Acquire(ctx, order.ID, rec.RefundID)
	if err != nil {
		return nil, errors.Wrap(err, "acquire refund guard")
	}
	if !acquired {
		return nil, domain.ErrRefundInFlight
	}

	// 持久化退款意图，必须先于任何网关交互
	if err := s.store.Refunds().Create(ctx, rec); err != nil {
		_ = s.guard.Release(ctx, order.ID)
		if errors.Is(err, domain.ErrDuplicateRefund) {
			return nil, domain.ErrRefundInFlight
		}
		return nil, errors.Wrap(err, "persist refund record")
	}

	if _, err := s.engine.ExecuteTransition(ctx, order.ID, transitionName, domain.TransitionContext{
		OperatorID:       in.OperatorID,
		IsAdminOperation: in.IsAdmin,
		Reason:           in.Reason,
		RequestID:        in.RequestID,
		RefundID:         rec.RefundID,
	}); err != nil {
		s.markRefundFailed(ctx, rec, "状态迁移失败: "+err.Error())
		_ = s.guard.Release(ctx, order.ID)
		return nil, err
	}

	req := &port.RefundRequest{
		OutTradeNo:  order.ID,
		OutRefundNo: rec.RefundID,
		TotalFee:    order.TotalFee,
		RefundFee:   fee,
		Reason:      in.Reason,
	}
	if s.syncGateway {
		s.callGateway(ctx, order.ID, rec, req)
	} else {
		// 与请求生命周期解耦，HTTP 响应不等网关
		bg := context.WithoutCancel(ctx)
		go s.callGateway(bg, order.ID, rec, req)
	}
	return rec, nil
}

// callGateway 执行真正的退款请求。同步失败走补偿：
// 退款记录置 failed，订单从退款中滚回已支付，并通知商家。
func (s *RefundService) callGateway(ctx context.Context, orderID string, rec *domain.RefundRecord, req *port.RefundRequest) {
	ctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	err := s.gateway.RequestRefund(ctx, req)
	if err == nil {
		logger.Ctx(ctx).Info().
			Str("order_id", orderID).
			Str("refund_id", rec.RefundID).
			Msg("refund submitted, waiting for gateway callback")
		return
	}

	var ge *domain.GatewayError
	if errors.As(err, &ge) && ge.Retryable() {
		retryErr := retryWithBackoff(ctx, defaultMaxRetries, func() error {
			return s.gateway.RequestRefund(ctx, req)
		})
		if retryErr == nil {
			return
		}
		err = retryErr
	}

	logger.Ctx(ctx).Error().Err(err).
		Str("order_id", orderID).
		Str("refund_id", rec.RefundID).
		Msg("refund request failed, compensating")

	advice := domain.AdviceFor(err)
	s.compensateFailedRefund(ctx, orderID, rec, err.Error(), advice)
	s.notices.NotifyRefundFailure(ctx, orderID, rec.RefundID, advice)
}

// compensateFailedRefund 在一个事务里关闭退款并恢复订单状态。
func (s *RefundService) compensateFailedRefund(ctx context.Context, orderID string, rec *domain.RefundRecord, gatewayResult string, advice domain.ErrorAdvice) {
	err := s.store.Transact(ctx, func(st domain.Store) error {
		if err := closeRefund(ctx, st, rec, domain.RefundFailed, gatewayResult); err != nil {
			return err
		}
		return rollbackRefundingOrder(ctx, st, orderID, rec.RefundID, advice.UserMessage)
	})
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("order_id", orderID).
			Str("refund_id", rec.RefundID).
			Msg("refund compensation failed, leaving to reconciliation")
		task := domain.NewRecoveryTask(orderID, rec.RefundID, domain.RecoverySourceRefundCallback, "退款补偿失败", domain.PriorityHigh)
		if err := s.store.RecoveryTasks().Create(ctx, task); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("failed to persist recovery task")
		}
		return
	}
	_ = s.guard.Release(ctx, orderID)
}

func (s *RefundService) markRefundFailed(ctx context.Context, rec *domain.RefundRecord, result string) {
	if err := closeRefund(ctx, s.store, rec, domain.RefundFailed, result); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("refund_id", rec.RefundID).
			Msg("failed to mark refund failed")
	}
}

// ListRefunds 查询订单的退款记录，非管理员只能查自己的订单。
func (s *RefundService) ListRefunds(ctx context.Context, openID, orderID string, isAdmin bool) ([]*domain.RefundRecord, error) {
	order, err := s.store.Orders().Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && !order.OwnedBy(openID) {
		return nil, domain.ErrNotOwner
	}
	return s.store.Refunds().ListByOrder(ctx, orderID)
}

// QueryRefundStatus 查询单笔退款的网关侧真实状态。
func (s *RefundService) QueryRefundStatus(ctx context.Context, refundID string) (*port.RefundStatus, error) {
	return s.gateway.QueryRefund(ctx, refundID)
}

// closeRefund 把退款记录写到终态。
func closeRefund(ctx context.Context, st domain.Store, rec *domain.RefundRecord, status domain.RefundStatus, gatewayResult string) error {
	now := time.Now()
	rec.Status = status
	rec.GatewayResult = gatewayResult
	rec.UpdateTime = now
	rec.CompleteTime = &now
	return st.Refunds().Update(ctx, rec)
}

// rollbackRefundingOrder 把退款失败的订单从退款中恢复为已支付，
// 并追加一条系统操作的历史记录。
func rollbackRefundingOrder(ctx context.Context, st domain.Store, orderID, refundID, userMessage string) error {
	order, err := st.Orders().Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != domain.StatusRefunding {
		// 已被其他路径收敛，无需恢复
		return nil
	}
	now := time.Now()
	affected, err := st.Orders().ApplyPatch(ctx, orderID, domain.OrderPatch{
		Status:     domain.StatusPaid,
		UpdateTime: now,
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.New("恢复订单状态失败")
	}
	if userMessage == "" {
		userMessage = "退款未成功，订单已恢复"
	}
	return st.Histories().Append(ctx, &domain.HistoryRecord{
		OrderID:             orderID,
		FromStatus:          domain.StatusRefunding,
		ToStatus:            domain.StatusPaid,
		Operator:            domain.OperatorSystem,
		OperatorID:          "system",
		StatusText:          domain.StatusPaid.Text(),
		Remark:              "退款失败，状态恢复 [退款单号:" + refundID + "]",
		UserFriendlyMessage: userMessage,
		OperationResult:     1,
		CreateTime:          now,
	})
}

func refundPolicyInput(order *domain.Order, fee int64, isAdmin bool) port.RefundPolicyInput {
	in := port.RefundPolicyInput{
		Status:    string(order.Status),
		IsPaid:    order.IsPaid,
		TotalFee:  order.TotalFee,
		RefundFee: fee,
		IsAdmin:   isAdmin,
	}
	if order.PayTime != nil {
		in.HoursSincePaid = time.Since(*order.PayTime).Hours()
	}
	return in
}

// marshalGatewayResult 把网关应答序列化存档，失败时退化为原始字符串。
func marshalGatewayResult(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
