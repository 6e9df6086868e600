package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/mq"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/application"
)

// AutoConfirmKafkaAdapter 实现了 application.ContinuationPublisher，
// 把自动确认的游标发到续批主题。
type AutoConfirmKafkaAdapter struct {
	writer *kafka.Writer
}

func NewAutoConfirmKafkaAdapter(writer *kafka.Writer) *AutoConfirmKafkaAdapter {
	return &AutoConfirmKafkaAdapter{writer: writer}
}

func (a *AutoConfirmKafkaAdapter) PublishContinuation(ctx context.Context, cursor application.ConfirmCursor) error {
	payload, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("failed to marshal confirm cursor: %w", err)
	}
	// 固定分区键，续批消息串行消费
	return mq.ProduceMessage(ctx, a.writer, []byte("auto-confirm"), payload)
}

// Close 关闭底层的Kafka writer。
func (a *AutoConfirmKafkaAdapter) Close() error {
	return a.writer.Close()
}
