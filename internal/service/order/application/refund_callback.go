package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/logger"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/metrics"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain/port"
)

// RefundCallbackEvent 是退款结果回调的载荷。
type RefundCallbackEvent struct {
	OutRefundNo  string `json:"out_refund_no"`
	ResultCode   string `json:"result_code"`
	ReturnCode   string `json:"return_code"`
	RefundStatus string `json:"refund_status"`
}

func (e RefundCallbackEvent) success() bool {
	return e.ReturnCode == "SUCCESS" && e.ResultCode == "SUCCESS"
}

// RefundCallbackService 处理退款结果回调。
// 无论内部处理成败，对网关一律应答成功：钱已经退了，
// 让网关重试解决不了我们自己的问题，失败现场交给恢复任务和对账扫描。
type RefundCallbackService struct {
	store   domain.Store
	guard   port.RefundGuard
	notices *NoticeService
}

func NewRefundCallbackService(store domain.Store, guard port.RefundGuard, notices *NoticeService) *RefundCallbackService {
	return &RefundCallbackService{store: store, guard: guard, notices: notices}
}

// Handle 处理一次退款回调投递。
func (s *RefundCallbackService) Handle(ctx context.Context, ev RefundCallbackEvent) {
	requestID := uuid.New().String()
	log := logger.Ctx(ctx).With().Str("request_id", requestID).Logger()

	if ev.OutRefundNo == "" {
		log.Error().Interface("event", ev).Msg("refund callback missing out_refund_no")
		metrics.CallbackTotal.WithLabelValues("refund", "rejected").Inc()
		return
	}

	rec, err := s.store.Refunds().GetByRefundID(ctx, ev.OutRefundNo)
	if err != nil {
		if errors.Is(err, domain.ErrRefundNotFound) {
			log.Error().Str("refund_id", ev.OutRefundNo).Msg("refund record not found for callback")
			metrics.CallbackTotal.WithLabelValues("refund", "orphan").Inc()
			return
		}
		log.Error().Err(err).Str("refund_id", ev.OutRefundNo).Msg("refund record lookup failed")
		s.createRecoveryTask(ctx, "", ev.OutRefundNo, "回调处理异常", domain.PriorityNormal)
		return
	}

	// 首要幂等保障：退款已有终态，重复投递直接确认
	if rec.Status.Terminal() {
		log.Info().
			Str("refund_id", rec.RefundID).
			Str("status", string(rec.Status)).
			Msg("refund already finalized, skipping")
		metrics.CallbackTotal.WithLabelValues("refund", "duplicate").Inc()
		return
	}

	// 退款未到终态但订单已中止：状态不一致，留给对账扫描修复
	if order, err := s.store.Orders().Get(ctx, rec.OrderID); err == nil && order.Status == domain.StatusCancelled {
		log.Error().
			Str("refund_id", rec.RefundID).
			Str("order_id", rec.OrderID).
			Msg("order already cancelled while refund still processing")
		s.createRecoveryTask(ctx, rec.OrderID, rec.RefundID, "数据状态不一致", domain.PriorityNormal)
		metrics.CallbackTotal.WithLabelValues("refund", "inconsistent").Inc()
		return
	}

	if !ev.success() {
		s.handleFailureResult(ctx, rec, ev)
		return
	}

	s.finalizeSuccess(ctx, rec, ev, requestID)
}

// finalizeSuccess 在一个事务里完成三张表的同步写：
// 订单中止、历史追加、退款成功。事务整体重试，重试耗尽转高优先级恢复任务。
func (s *RefundCallbackService) finalizeSuccess(ctx context.Context, rec *domain.RefundRecord, ev RefundCallbackEvent, requestID string) {
	log := logger.Ctx(ctx)

	txErr := retryWithBackoff(ctx, defaultMaxRetries, func() error {
		return s.store.Transact(ctx, func(st domain.Store) error {
			now := time.Now()
			refundID := rec.RefundID
			affected, err := st.Orders().ApplyPatch(ctx, rec.OrderID, domain.OrderPatch{
				Status:     domain.StatusCancelled,
				UpdateTime: now,
				RefundID:   &refundID,
				CancelTime: &now,
			})
			if err != nil {
				return err
			}
			if affected == 0 {
				return errors.New("更新订单状态失败")
			}

			if err := st.Histories().Append(ctx, &domain.HistoryRecord{
				OrderID:             rec.OrderID,
				FromStatus:          domain.StatusRefunding,
				ToStatus:            domain.StatusCancelled,
				Operator:            domain.OperatorSystem,
				OperatorID:          "system",
				StatusText:          domain.StatusCancelled.Text(),
				Remark:              "退款成功 [退款单号:" + rec.RefundID + "]",
				UserFriendlyMessage: "退款成功",
				OperationResult:     1,
				RequestID:           requestID,
				CreateTime:          now,
			}); err != nil {
				return err
			}

			return closeRefund(ctx, st, rec, domain.RefundSuccess, marshalGatewayResult(ev))
		})
	})

	if txErr != nil {
		log.Error().Err(txErr).
			Str("refund_id", rec.RefundID).
			Str("order_id", rec.OrderID).
			Msg("refund finalization failed after retries")
		s.createRecoveryTask(ctx, rec.OrderID, rec.RefundID, "事务处理失败（重试耗尽）", domain.PriorityHigh)
		metrics.CallbackTotal.WithLabelValues("refund", "deferred").Inc()
		return
	}

	_ = s.guard.Release(ctx, rec.OrderID)
	log.Info().
		Str("refund_id", rec.RefundID).
		Str("order_id", rec.OrderID).
		Msg("refund finalized, order cancelled")
	metrics.CallbackTotal.WithLabelValues("refund", "success").Inc()
}

// handleFailureResult 处理网关明确告知的退款失败：
// 关闭退款记录，把订单从退款中恢复，并通知商家。
func (s *RefundCallbackService) handleFailureResult(ctx context.Context, rec *domain.RefundRecord, ev RefundCallbackEvent) {
	log := logger.Ctx(ctx)
	log.Error().
		Str("refund_id", rec.RefundID).
		Str("return_code", ev.ReturnCode).
		Str("result_code", ev.ResultCode).
		Msg("gateway reported refund failure")

	advice := domain.AdviceFor(&domain.GatewayError{Code: ev.ResultCode, Message: ev.RefundStatus})
	err := s.store.Transact(ctx, func(st domain.Store) error {
		if err := closeRefund(ctx, st, rec, domain.RefundFailed, marshalGatewayResult(ev)); err != nil {
			return err
		}
		return rollbackRefundingOrder(ctx, st, rec.OrderID, rec.RefundID, advice.UserMessage)
	})
	if err != nil {
		log.Error().Err(err).
			Str("refund_id", rec.RefundID).
			Msg("refund failure compensation failed")
		s.createRecoveryTask(ctx, rec.OrderID, rec.RefundID, "退款失败补偿失败", domain.PriorityHigh)
		metrics.CallbackTotal.WithLabelValues("refund", "deferred").Inc()
		return
	}

	_ = s.guard.Release(ctx, rec.OrderID)
	s.notices.NotifyRefundFailure(ctx, rec.OrderID, rec.RefundID, advice)
	metrics.CallbackTotal.WithLabelValues("refund", "failed").Inc()
}

func (s *RefundCallbackService) createRecoveryTask(ctx context.Context, orderID, refundID, reason string, priority int) {
	task := domain.NewRecoveryTask(orderID, refundID, domain.RecoverySourceRefundCallback, reason, priority)
	if err := s.store.RecoveryTasks().Create(ctx, task); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("refund_id", refundID).
			Msg("failed to create recovery task")
	}
}
