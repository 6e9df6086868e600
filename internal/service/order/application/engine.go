package application

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/logger"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/metrics"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain"
)

// historyBatchSize 是一次事务内历史记录的分片写入上限。
const historyBatchSize = 20

// Engine 是状态机引擎：校验迁移合法性，盖时间戳，
// 在一个事务里更新订单并追加历史。
type Engine struct {
	store domain.Store
}

func NewEngine(store domain.Store) *Engine {
	return &Engine{store: store}
}

// TransitionResult 携带迁移后的订单快照和用户提示。
type TransitionResult struct {
	Order   *domain.Order
	Message string
}

// ExecuteTransition 对单个订单执行一次命名迁移。
// 校验失败（订单不存在、状态不允许）不产生任何写入。
func (e *Engine) ExecuteTransition(ctx context.Context, orderID, transitionName string, tctx domain.TransitionContext) (*TransitionResult, error) {
	tr, ok := domain.Transitions[transitionName]
	if !ok {
		return nil, domain.ErrValidation("未定义的转换: " + transitionName)
	}

	var result *TransitionResult
	err := e.store.Transact(ctx, func(s domain.Store) error {
		order, err := s.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		if !tr.AllowsFrom(order.Status) {
			return &domain.InvalidTransitionError{From: order.Status, Transition: transitionName}
		}
		if tr.IsRefundEntry() && !order.IsPaid {
			return domain.ErrValidation("订单未支付，无法申请退款")
		}

		now := time.Now()
		patch := buildPatch(tr, tctx, now)
		message := domain.FriendlyMessage(order.Status, tr.To)

		affected, err := s.Orders().ApplyPatch(ctx, orderID, patch)
		if err != nil {
			return errors.Wrap(err, "update order status")
		}
		if affected == 0 {
			return errors.New("更新订单状态失败")
		}

		hist := &domain.HistoryRecord{
			OrderID:             orderID,
			FromStatus:          order.Status,
			ToStatus:            tr.To,
			Operator:            tctx.OperatorName(),
			OperatorID:          operatorID(tctx),
			StatusText:          tr.To.Text(),
			Remark:              tctx.Remark,
			UserFriendlyMessage: message,
			OperationResult:     1,
			RequestID:           tctx.RequestID,
			CreateTime:          now,
		}
		if err := s.Histories().Append(ctx, hist); err != nil {
			return errors.Wrap(err, "append order history")
		}

		applyPatch(order, patch)
		result = &TransitionResult{Order: order, Message: message}
		return nil
	})

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.TransitionTotal.WithLabelValues(transitionName, outcome).Inc()
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("order_id", orderID).
		Str("transition", transitionName).
		Str("to", string(result.Order.Status)).
		Str("operator_id", operatorID(tctx)).
		Msg("order transition executed")
	return result, nil
}

// BatchResult 汇总一次批量迁移的结果。
type BatchResult struct {
	Requested int
	Matched   int
	Skipped   int
	Succeeded []string
	Message   string
}

// ExecuteBatchTransition 对一批订单执行同一迁移。
// 状态不满足的订单跳过并计数，满足的批量更新，
// 历史记录按 historyBatchSize 分片插入，整体一个事务。
func (e *Engine) ExecuteBatchTransition(ctx context.Context, orderIDs []string, transitionName string, tctx domain.TransitionContext) (*BatchResult, error) {
	if len(orderIDs) == 0 {
		return nil, domain.ErrValidation("订单ID列表为空")
	}
	tr, ok := domain.Transitions[transitionName]
	if !ok {
		return nil, domain.ErrValidation("未定义的转换: " + transitionName)
	}

	var result *BatchResult
	err := e.store.Transact(ctx, func(s domain.Store) error {
		orders, err := s.Orders().ListByIDs(ctx, orderIDs)
		if err != nil {
			return err
		}
		if len(orders) == 0 {
			return domain.ErrValidation("未找到指定订单")
		}

		valid := make([]*domain.Order, 0, len(orders))
		for _, o := range orders {
			if tr.AllowsFrom(o.Status) {
				valid = append(valid, o)
			}
		}
		if len(valid) == 0 {
			return domain.ErrValidation("没有订单可以执行 " + tr.FriendlyName + " 操作")
		}

		now := time.Now()
		patch := buildPatch(tr, tctx, now)

		validIDs := make([]string, len(valid))
		for i, o := range valid {
			validIDs[i] = o.ID
		}
		if err := s.Orders().ApplyPatchBatch(ctx, validIDs, patch); err != nil {
			return errors.Wrap(err, "batch update order status")
		}

		records := make([]*domain.HistoryRecord, len(valid))
		for i, o := range valid {
			records[i] = &domain.HistoryRecord{
				OrderID:             o.ID,
				FromStatus:          o.Status,
				ToStatus:            tr.To,
				Operator:            tctx.OperatorName(),
				OperatorID:          operatorID(tctx),
				StatusText:          tr.To.Text(),
				Remark:              tctx.Remark,
				UserFriendlyMessage: domain.FriendlyMessage(o.Status, tr.To),
				OperationResult:     1,
				RequestID:           tctx.RequestID,
				CreateTime:          now,
			}
		}
		for start := 0; start < len(records); start += historyBatchSize {
			end := start + historyBatchSize
			if end > len(records) {
				end = len(records)
			}
			if err := s.Histories().AppendBatch(ctx, records[start:end]); err != nil {
				return errors.Wrap(err, "append order history batch")
			}
		}

		result = &BatchResult{
			Requested: len(orderIDs),
			Matched:   len(valid),
			Skipped:   len(orders) - len(valid),
			Succeeded: validIDs,
			Message:   "批量" + tr.FriendlyName + "完成",
		}
		return nil
	})
	if err != nil {
		metrics.TransitionTotal.WithLabelValues(transitionName, "failure").Inc()
		return nil, err
	}

	metrics.TransitionTotal.WithLabelValues(transitionName, "success").Inc()
	logger.Ctx(ctx).Info().
		Str("transition", transitionName).
		Int("matched", result.Matched).
		Int("skipped", result.Skipped).
		Msg("batch transition executed")
	return result, nil
}

func operatorID(tctx domain.TransitionContext) string {
	if tctx.OperatorID == "" {
		return "system"
	}
	return tctx.OperatorID
}

// buildPatch 按迁移定义的 requiredFields 生成订单补丁。
// Time 结尾的字段盖当前时间，其余字段从迁移上下文取值。
func buildPatch(tr domain.Transition, tctx domain.TransitionContext, now time.Time) domain.OrderPatch {
	patch := domain.OrderPatch{Status: tr.To, UpdateTime: now}
	for _, field := range tr.RequiredFields {
		switch field {
		case "payTime":
			patch.PayTime = &now
		case "acceptTime":
			patch.AcceptTime = &now
		case "deliverTime":
			patch.DeliverTime = &now
		case "deliveredTime":
			patch.DeliveredTime = &now
		case "completeTime":
			patch.CompleteTime = &now
		case "cancelTime":
			patch.CancelTime = &now
		case "refundingTime":
			patch.RefundingTime = &now
		case "refundTime":
			patch.RefundTime = &now
		case "isPaid":
			if tr.To == domain.StatusPaid {
				paid := true
				patch.IsPaid = &paid
			}
		case "cancelReason":
			if tctx.Reason != "" {
				reason := tctx.Reason
				patch.CancelReason = &reason
			}
		case "refundReason":
			if tctx.Reason != "" {
				reason := tctx.Reason
				patch.RefundReason = &reason
			}
		case "cancelOperator":
			op := domain.OperatorUser
			if tctx.IsAdminOperation {
				op = domain.OperatorMerchant
			}
			patch.CancelOperator = &op
		}
	}
	if tctx.PaymentID != "" {
		id := tctx.PaymentID
		patch.PaymentID = &id
	}
	if tctx.RefundID != "" {
		id := tctx.RefundID
		patch.RefundID = &id
	}
	return patch
}

// applyPatch 把补丁同步到内存里的订单对象，供调用方拿到迁移后的快照。
func applyPatch(o *domain.Order, p domain.OrderPatch) {
	o.Status = p.Status
	o.UpdateTime = p.UpdateTime
	if p.IsPaid != nil {
		o.IsPaid = *p.IsPaid
	}
	if p.PaymentID != nil {
		o.PaymentID = *p.PaymentID
	}
	if p.RefundID != nil {
		o.RefundID = *p.RefundID
	}
	if p.CancelReason != nil {
		o.CancelReason = *p.CancelReason
	}
	if p.CancelOperator != nil {
		o.CancelOperator = *p.CancelOperator
	}
	if p.RefundReason != nil {
		o.RefundReason = *p.RefundReason
	}
	if p.PayTime != nil {
		o.PayTime = p.PayTime
	}
	if p.AcceptTime != nil {
		o.AcceptTime = p.AcceptTime
	}
	if p.DeliverTime != nil {
		o.DeliverTime = p.DeliverTime
	}
	if p.DeliveredTime != nil {
		o.DeliveredTime = p.DeliveredTime
	}
	if p.CompleteTime != nil {
		o.CompleteTime = p.CompleteTime
	}
	if p.CancelTime != nil {
		o.CancelTime = p.CancelTime
	}
	if p.RefundingTime != nil {
		o.RefundingTime = p.RefundingTime
	}
	if p.RefundTime != nil {
		o.RefundTime = p.RefundTime
	}
}
