package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/logger"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/mq"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/application"
)

// AutoConfirmConsumer 监听续批主题，驱动自动确认收货的接力执行。
// 一次全量扫描被切成多个批次，每个批次处理完把游标发回主题，
// 由下一次消费接着跑，单条消息的处理时间因此有上界。
type AutoConfirmConsumer struct {
	reader  *kafka.Reader
	service *application.AutoConfirmService
	wg      sync.WaitGroup
	stopped bool
}

func NewAutoConfirmConsumer(reader *kafka.Reader, service *application.AutoConfirmService) *AutoConfirmConsumer {
	return &AutoConfirmConsumer{reader: reader, service: service}
}

// Start 开始监听续批主题。这是一个长期运行的方法。
func (c *AutoConfirmConsumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Logger.Info().Str("topic", c.reader.Config().Topic).Msg("auto confirm consumer started")
		for {
			if c.stopped {
				return
			}
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Logger.Info().Msg("auto confirm consumer shutting down")
					return
				}
				logger.Logger.Error().Err(err).Msg("fetch continuation message failed")
				time.Sleep(1 * time.Second)
				continue
			}

			c.processMessage(ctx, msg)

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				logger.Logger.Error().Err(err).Msg("commit continuation offset failed")
			}
		}
	}()
}

// Stop 优雅地停止消费者。
func (c *AutoConfirmConsumer) Stop() {
	c.stopped = true
	c.reader.Close()
	c.wg.Wait()
}

func (c *AutoConfirmConsumer) processMessage(parentCtx context.Context, msg kafka.Message) {
	var cursor application.ConfirmCursor
	if err := json.Unmarshal(msg.Value, &cursor); err != nil {
		logger.Logger.Error().Err(err).Msg("malformed continuation cursor, message skipped")
		return
	}

	propagator := otel.GetTextMapPropagator()
	headerCarrier := mq.KafkaHeaderCarrier(msg.Headers)
	ctx := propagator.Extract(parentCtx, &headerCarrier)

	if _, err := c.service.Run(ctx, cursor); err != nil {
		// 失败不重发续批消息，下一轮定时触发会从头补扫
		logger.Ctx(ctx).Error().Err(err).
			Str("last_id", cursor.LastID).
			Msg("auto confirm continuation failed")
	}
}
