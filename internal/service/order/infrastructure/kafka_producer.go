package infrastructure

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"brasa/internal/pkg/logger"
	"brasa/internal/pkg/mq"
	"brasa/internal/service/order/domain"
)

// OrderEventProducerAdapter 把订单事件写入 Kafka。
// 消息以 userID 为 Key，同一用户的事件保持有序，推送网关按用户路由。
type OrderEventProducerAdapter struct {
	writer *kafka.Writer
}

func NewOrderEventProducerAdapter(writer *kafka.Writer) *OrderEventProducerAdapter {
	return &OrderEventProducerAdapter{writer: writer}
}

func (p *OrderEventProducerAdapter) Publish(ctx context.Context, event *domain.OrderEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to marshal order event")
		return err
	}

	if err := mq.ProduceMessage(ctx, p.writer, []byte(event.UserID), eventBytes); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to produce order event to Kafka")
		return err
	}
	return nil
}
