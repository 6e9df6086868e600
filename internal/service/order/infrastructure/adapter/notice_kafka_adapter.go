package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/mq"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain/port"
)

// NoticeKafkaAdapter 实现了 port.NoticeProducer 接口，
// 把商家通知投到 Kafka，由商家端网关消费推送。
type NoticeKafkaAdapter struct {
	writer *kafka.Writer
}

func NewNoticeKafkaAdapter(writer *kafka.Writer) *NoticeKafkaAdapter {
	return &NoticeKafkaAdapter{writer: writer}
}

// SendMerchantNotice 以订单号为分区键发送通知，
// 同一订单的通知保持顺序。
func (a *NoticeKafkaAdapter) SendMerchantNotice(ctx context.Context, notice *port.MerchantNotice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal merchant notice: %w", err)
	}
	// mq.ProduceMessage 会自动注入追踪上下文
	return mq.ProduceMessage(ctx, a.writer, []byte(notice.OrderID), payload)
}

// Close 关闭底层的Kafka writer。
func (a *NoticeKafkaAdapter) Close() error {
	return a.writer.Close()
}
