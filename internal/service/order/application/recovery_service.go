package application

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/logger"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/metrics"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain/port"
)

// 高优先级批次固定上限
const highPriorityBatchLimit = 20

// RecoveryService 是退款 saga 的对账扫描：以网关侧状态为准，
// 把滞留的退款和不一致的订单强制收敛到终态。
// 每个条目单独处理，单条失败只计数，不会中断整轮扫描。
type RecoveryService struct {
	store   domain.Store
	gateway port.PaymentGateway
	guard   port.RefundGuard

	staleAfter    time.Duration // 一般滞留阈值，默认1小时
	criticalAfter time.Duration // 高优先级滞留阈值，默认24小时
	workerLimit   int
}

func NewRecoveryService(store domain.Store, gateway port.PaymentGateway, guard port.RefundGuard) *RecoveryService {
	return &RecoveryService{
		store:         store,
		gateway:       gateway,
		guard:         guard,
		staleAfter:    time.Hour,
		criticalAfter: 24 * time.Hour,
		workerLimit:   4,
	}
}

// SetThresholds 覆盖扫描阈值，零值保持默认。
func (s *RecoveryService) SetThresholds(stale, critical time.Duration) {
	if stale > 0 {
		s.staleAfter = stale
	}
	if critical > 0 {
		s.criticalAfter = critical
	}
}

// SweepResult 汇总一轮扫描的处理量。
type SweepResult struct {
	HighPriority  int64 `json:"highPriority"`
	Incomplete    int64 `json:"incompleteRefunds"`
	Inconsistent  int64 `json:"inconsistentStates"`
	TasksReplayed int64 `json:"tasksReplayed"`
	Recovered     int64 `json:"recovered"`
	Failed        int64 `json:"failed"`
}

type sweepCounters struct {
	highPriority  atomic.Int64
	incomplete    atomic.Int64
	inconsistent  atomic.Int64
	tasksReplayed atomic.Int64
	recovered     atomic.Int64
	failed        atomic.Int64
}

// calculateBatchSize 按积压量放大批次：积压越多每轮处理越多。
func calculateBatchSize(count int64) int {
	switch {
	case count > 100:
		return 20
	case count > 50:
		return 15
	default:
		return 10
	}
}

// RunSweep 执行一轮完整的四段扫描，返回处理汇总。
func (s *RecoveryService) RunSweep(ctx context.Context) (*SweepResult, error) {
	log := logger.Ctx(ctx)
	log.Info().Msg("refund recovery sweep started")

	now := time.Now()
	criticalCutoff := now.Add(-s.criticalAfter)
	staleCutoff := now.Add(-s.staleAfter)

	// 按积压量动态决定各段批次大小
	criticalCount, err := s.store.Refunds().CountProcessingBefore(ctx, criticalCutoff)
	if err != nil {
		return nil, err
	}
	staleCount, err := s.store.Refunds().CountProcessingBefore(ctx, staleCutoff)
	if err != nil {
		return nil, err
	}
	taskCount, err := s.store.RecoveryTasks().CountPending(ctx)
	if err != nil {
		return nil, err
	}
	normalBatch := calculateBatchSize(staleCount - criticalCount)
	inconsistentBatch := calculateBatchSize(staleCount)
	taskBatch := calculateBatchSize(taskCount)

	var c sweepCounters
	s.sweepStaleRefunds(ctx, &c, time.Time{}, criticalCutoff, highPriorityBatchLimit, "high_priority", &c.highPriority)
	s.sweepStaleRefunds(ctx, &c, criticalCutoff, staleCutoff, normalBatch, "incomplete", &c.incomplete)
	s.sweepInconsistent(ctx, &c, inconsistentBatch)
	s.replayRecoveryTasks(ctx, &c, taskBatch)

	result := &SweepResult{
		HighPriority:  c.highPriority.Load(),
		Incomplete:    c.incomplete.Load(),
		Inconsistent:  c.inconsistent.Load(),
		TasksReplayed: c.tasksReplayed.Load(),
		Recovered:     c.recovered.Load(),
		Failed:        c.failed.Load(),
	}
	s.persistSummary(ctx, result)

	log.Info().
		Int64("recovered", result.Recovered).
		Int64("failed", result.Failed).
		Int64("high_priority", result.HighPriority).
		Int64("incomplete", result.Incomplete).
		Int64("inconsistent", result.Inconsistent).
		Int64("tasks_replayed", result.TasksReplayed).
		Msg("refund recovery sweep finished")
	return result, nil
}

// sweepStaleRefunds 处理创建时间落在 (from, to] 的 processing 退款：
// 查网关真实状态，按结果强制同步本地。
func (s *RecoveryService) sweepStaleRefunds(ctx context.Context, c *sweepCounters, from, to time.Time, batch int, pass string, seen *atomic.Int64) {
	refunds, err := s.store.Refunds().ListProcessingBetween(ctx, from, to, batch)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("pass", pass).Msg("list stale refunds failed")
		c.failed.Add(1)
		return
	}
	seen.Add(int64(len(refunds)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workerLimit)
	for _, rec := range refunds {
		rec := rec
		g.Go(func() error {
			s.reconcileRefund(gctx, c, rec, pass)
			return nil
		})
	}
	_ = g.Wait()
}

// reconcileRefund 以网关为准收敛一条退款记录。
func (s *RecoveryService) reconcileRefund(ctx context.Context, c *sweepCounters, rec *domain.RefundRecord, pass string) {
	status, err := s.gateway.QueryRefund(ctx, rec.RefundID)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("refund_id", rec.RefundID).
			Str("pass", pass).
			Msg("query gateway refund status failed")
		c.failed.Add(1)
		metrics.RecoveryProcessed.WithLabelValues(pass, "query_failed").Inc()
		return
	}

	switch status.Status {
	case "SUCCESS":
		if err := s.syncRefundSuccess(ctx, rec); err != nil {
			c.failed.Add(1)
			metrics.RecoveryProcessed.WithLabelValues(pass, "sync_failed").Inc()
			return
		}
		c.recovered.Add(1)
		metrics.RecoveryProcessed.WithLabelValues(pass, "recovered").Inc()
	case "FAIL", "NOTFOUND":
		if err := s.syncRefundFailed(ctx, rec); err != nil {
			c.failed.Add(1)
			metrics.RecoveryProcessed.WithLabelValues(pass, "sync_failed").Inc()
			return
		}
		c.recovered.Add(1)
		metrics.RecoveryProcessed.WithLabelValues(pass, "recovered").Inc()
	default:
		// 网关仍在处理，这条留给下一轮
		metrics.RecoveryProcessed.WithLabelValues(pass, "still_processing").Inc()
	}
}

// sweepInconsistent 做双向一致性检查。
func (s *RecoveryService) sweepInconsistent(ctx context.Context, c *sweepCounters, batch int) {
	log := logger.Ctx(ctx)

	// 方向一：退款已成功，订单却没有中止
	refunds, err := s.store.Refunds().ListSucceededWithOrderOpen(ctx, batch)
	if err != nil {
		log.Error().Err(err).Msg("list inconsistent refunds failed")
		c.failed.Add(1)
	} else {
		for _, rec := range refunds {
			order, err := s.store.Orders().Get(ctx, rec.OrderID)
			if err != nil {
				c.failed.Add(1)
				continue
			}
			c.inconsistent.Add(1)
			if err := s.syncOrderCancelled(ctx, rec, order); err != nil {
				c.failed.Add(1)
				metrics.RecoveryProcessed.WithLabelValues("inconsistent", "sync_failed").Inc()
				continue
			}
			c.recovered.Add(1)
			metrics.RecoveryProcessed.WithLabelValues("inconsistent", "recovered").Inc()
		}
	}

	// 方向二：订单已中止并指向退款，退款记录却不是成功
	orders, err := s.store.Orders().ListCancelledWithOpenRefund(ctx, batch)
	if err != nil {
		log.Error().Err(err).Msg("list cancelled orders with open refund failed")
		c.failed.Add(1)
		return
	}
	for _, order := range orders {
		rec, err := s.store.Refunds().GetByRefundID(ctx, order.RefundID)
		if err != nil {
			c.failed.Add(1)
			continue
		}
		if rec.Status == domain.RefundSuccess {
			continue
		}
		c.inconsistent.Add(1)
		if err := s.syncRefundMarkSuccess(ctx, rec); err != nil {
			c.failed.Add(1)
			metrics.RecoveryProcessed.WithLabelValues("inconsistent", "sync_failed").Inc()
			continue
		}
		c.recovered.Add(1)
		metrics.RecoveryProcessed.WithLabelValues("inconsistent", "recovered").Inc()
	}
}

// replayRecoveryTasks 重放回调现场留下的恢复任务。
func (s *RecoveryService) replayRecoveryTasks(ctx context.Context, c *sweepCounters, batch int) {
	tasks, err := s.store.RecoveryTasks().ListPending(ctx, batch)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("list recovery tasks failed")
		c.failed.Add(1)
		return
	}

	for _, task := range tasks {
		c.tasksReplayed.Add(1)
		if task.RefundID != "" {
			rec, err := s.store.Refunds().GetByRefundID(ctx, task.RefundID)
			if err == nil && !rec.Status.Terminal() {
				s.reconcileRefund(ctx, c, rec, "task_replay")
			}
		}
		if err := s.store.RecoveryTasks().MarkRecovered(ctx, task.ID, time.Now()); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Int64("task_id", task.ID).
				Msg("mark recovery task done failed")
			c.failed.Add(1)
		}
	}
}

// syncRefundSuccess 网关确认退款已成功：订单中止、退款置成功，一个事务。
func (s *RecoveryService) syncRefundSuccess(ctx context.Context, rec *domain.RefundRecord) error {
	err := s.store.Transact(ctx, func(st domain.Store) error {
		now := time.Now()
		refundID := rec.RefundID
		if _, err := st.Orders().ApplyPatch(ctx, rec.OrderID, domain.OrderPatch{
			Status:     domain.StatusCancelled,
			UpdateTime: now,
			CancelTime: &now,
			RefundID:   &refundID,
		}); err != nil {
			return err
		}

		rec.Status = domain.RefundSuccess
		rec.RecoveredBy = "system_recovery"
		rec.UpdateTime = now
		rec.CompleteTime = &now
		if err := st.Refunds().Update(ctx, rec); err != nil {
			return err
		}

		return st.Histories().Append(ctx, &domain.HistoryRecord{
			OrderID:             rec.OrderID,
			FromStatus:          domain.StatusRefunding,
			ToStatus:            domain.StatusCancelled,
			Operator:            domain.OperatorSystem,
			OperatorID:          "recovery_system",
			StatusText:          "已中止(状态恢复)",
			Remark:              "系统恢复: 退款成功 [退款单号:" + rec.RefundID + "]",
			UserFriendlyMessage: "退款成功",
			OperationResult:     1,
			CreateTime:          now,
		})
	})
	if err != nil {
		s.logSyncError(ctx, "sync refund success failed", rec, err)
		return err
	}
	_ = s.guard.Release(ctx, rec.OrderID)
	return nil
}

// syncRefundFailed 网关确认退款已失败：退款置失败，
// 订单若还停在退款中则恢复为已支付。
func (s *RecoveryService) syncRefundFailed(ctx context.Context, rec *domain.RefundRecord) error {
	err := s.store.Transact(ctx, func(st domain.Store) error {
		now := time.Now()
		rec.Status = domain.RefundFailed
		rec.RecoveredBy = "system_recovery"
		rec.UpdateTime = now
		rec.CompleteTime = &now
		if err := st.Refunds().Update(ctx, rec); err != nil {
			return err
		}

		order, err := st.Orders().Get(ctx, rec.OrderID)
		if err != nil {
			return err
		}
		if order.Status == domain.StatusRefunding {
			if _, err := st.Orders().ApplyPatch(ctx, rec.OrderID, domain.OrderPatch{
				Status:     domain.StatusPaid,
				UpdateTime: now,
			}); err != nil {
				return err
			}
		}

		return st.Histories().Append(ctx, &domain.HistoryRecord{
			OrderID:             rec.OrderID,
			FromStatus:          domain.StatusRefunding,
			ToStatus:            domain.StatusPaid,
			Operator:            domain.OperatorSystem,
			OperatorID:          "recovery_system",
			StatusText:          "退款失败(状态恢复)",
			Remark:              "系统恢复: 退款失败 [退款单号:" + rec.RefundID + "]",
			UserFriendlyMessage: "退款处理失败，请联系客服",
			OperationResult:     0,
			CreateTime:          now,
		})
	})
	if err != nil {
		s.logSyncError(ctx, "sync refund failed state failed", rec, err)
		return err
	}
	_ = s.guard.Release(ctx, rec.OrderID)
	return nil
}

// syncOrderCancelled 退款成功但订单未中止，把订单拉到中止。
func (s *RecoveryService) syncOrderCancelled(ctx context.Context, rec *domain.RefundRecord, order *domain.Order) error {
	err := s.store.Transact(ctx, func(st domain.Store) error {
		now := time.Now()
		if _, err := st.Orders().ApplyPatch(ctx, order.ID, domain.OrderPatch{
			Status:     domain.StatusCancelled,
			UpdateTime: now,
			CancelTime: &now,
		}); err != nil {
			return err
		}
		return st.Histories().Append(ctx, &domain.HistoryRecord{
			OrderID:             order.ID,
			FromStatus:          order.Status,
			ToStatus:            domain.StatusCancelled,
			Operator:            domain.OperatorSystem,
			OperatorID:          "recovery_system",
			StatusText:          "已中止(状态一致性恢复)",
			Remark:              "系统恢复: 退款与订单状态不一致 [退款单号:" + rec.RefundID + "]",
			UserFriendlyMessage: "订单已退款",
			OperationResult:     1,
			CreateTime:          now,
		})
	})
	if err != nil {
		s.logSyncError(ctx, "sync order cancelled failed", rec, err)
	}
	return err
}

// syncRefundMarkSuccess 订单已中止但退款记录未到成功，补齐退款记录。
func (s *RecoveryService) syncRefundMarkSuccess(ctx context.Context, rec *domain.RefundRecord) error {
	err := s.store.Transact(ctx, func(st domain.Store) error {
		now := time.Now()
		rec.Status = domain.RefundSuccess
		rec.RecoveredBy = "system_recovery"
		rec.UpdateTime = now
		rec.CompleteTime = &now
		return st.Refunds().Update(ctx, rec)
	})
	if err != nil {
		s.logSyncError(ctx, "sync refund record failed", rec, err)
		return err
	}
	_ = s.guard.Release(ctx, rec.OrderID)
	return nil
}

// persistSummary 把扫描汇总落成审计记录，失败只记日志。
func (s *RecoveryService) persistSummary(ctx context.Context, result *SweepResult) {
	raw, _ := json.Marshal(result)
	task := &domain.RecoveryTask{
		Source:     domain.RecoverySourceSweep,
		Reason:     "task_completed: " + string(raw),
		CreateTime: time.Now(),
	}
	if err := s.store.RecoveryTasks().Create(ctx, task); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("persist sweep summary failed")
	}
}

func (s *RecoveryService) logSyncError(ctx context.Context, msg string, rec *domain.RefundRecord, err error) {
	logger.Ctx(ctx).Error().Err(err).
		Str("refund_id", rec.RefundID).
		Str("order_id", rec.OrderID).
		Msg(msg)
}
