package application

import (
	"context"
	"time"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/logger"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/metrics"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain"
)

const (
	// 每页处理的订单数
	autoConfirmPageSize = 100
	// 单次调用的时间预算，留余量给续批消息的发送
	autoConfirmBudget = 50 * time.Second
)

// ConfirmCursor 是跨批次传递的游标，随续批消息走 Kafka。
// LastID 是上一页最后一条订单的主键，下一页从它之后开始。
type ConfirmCursor struct {
	LastID         string `json:"lastId"`
	ProcessedTotal int    `json:"processedTotal"`
	SuccessCount   int    `json:"successCount"`
	FailureCount   int    `json:"failureCount"`
}

// ContinuationPublisher 发送续批消息，由 Kafka 适配器实现。
type ContinuationPublisher interface {
	PublishContinuation(ctx context.Context, cursor ConfirmCursor) error
}

// AutoConfirmService 把送达超过 N 天仍未确认的订单批量确认收货。
// 全量扫描被切成固定大小的页，每次调用在时间预算内处理若干页，
// 预算耗尽时把游标发到续批主题，由消费者接力，避免单次执行超时。
type AutoConfirmService struct {
	store     domain.Store
	engine    *Engine
	publisher ContinuationPublisher

	afterDays int
	pageSize  int
	budget    time.Duration

	// 测试钩子，覆盖时间预算判断用的时钟
	now func() time.Time
}

func NewAutoConfirmService(store domain.Store, engine *Engine, publisher ContinuationPublisher, afterDays int) *AutoConfirmService {
	if afterDays <= 0 {
		afterDays = 7
	}
	return &AutoConfirmService{
		store:     store,
		engine:    engine,
		publisher: publisher,
		afterDays: afterDays,
		pageSize:  autoConfirmPageSize,
		budget:    autoConfirmBudget,
		now:       time.Now,
	}
}

// RunResult 是一次调用的结果。Continued 为 true 表示还有剩余，
// 游标已发往续批主题。
type RunResult struct {
	Cursor    ConfirmCursor
	Continued bool
}

// Run 从游标位置开始逐页处理。新一轮从零值游标开始。
func (s *AutoConfirmService) Run(ctx context.Context, cursor ConfirmCursor) (*RunResult, error) {
	log := logger.Ctx(ctx)
	deadline := s.now().Add(s.budget)
	cutoff := s.now().AddDate(0, 0, -s.afterDays)

	for {
		orders, err := s.store.Orders().ListDeliveredBefore(ctx, cutoff, cursor.LastID, s.pageSize)
		if err != nil {
			return nil, err
		}
		if len(orders) == 0 {
			break
		}

		ids := make([]string, 0, len(orders))
		for _, o := range orders {
			ids = append(ids, o.ID)
		}

		batch, err := s.engine.ExecuteBatchTransition(ctx, ids, "confirmReceived", domain.TransitionContext{
			OperatorID: "system",
			Remark:     "送达超时，系统自动确认收货",
		})
		if err != nil {
			// 整批失败记失败数，游标照常前进，不阻塞后面的页
			log.Error().Err(err).
				Str("last_id", cursor.LastID).
				Int("page", len(orders)).
				Msg("auto confirm batch failed")
			cursor.FailureCount += len(orders)
		} else {
			cursor.SuccessCount += len(batch.Succeeded)
			cursor.FailureCount += batch.Skipped
			metrics.AutoConfirmProcessed.Add(float64(len(batch.Succeeded)))
		}
		cursor.ProcessedTotal += len(orders)
		cursor.LastID = orders[len(orders)-1].ID

		// 不满一页说明已经扫到尾部
		if len(orders) < s.pageSize {
			break
		}

		if s.now().After(deadline) {
			if err := s.publisher.PublishContinuation(ctx, cursor); err != nil {
				log.Error().Err(err).
					Str("last_id", cursor.LastID).
					Msg("publish auto confirm continuation failed")
				return nil, err
			}
			log.Info().
				Str("last_id", cursor.LastID).
				Int("processed_total", cursor.ProcessedTotal).
				Msg("auto confirm budget exhausted, continuation published")
			return &RunResult{Cursor: cursor, Continued: true}, nil
		}
	}

	log.Info().
		Int("processed_total", cursor.ProcessedTotal).
		Int("success", cursor.SuccessCount).
		Int("failure", cursor.FailureCount).
		Msg("auto confirm run finished")
	return &RunResult{Cursor: cursor}, nil
}
