// internal/realtime/consumer.go
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"brasa/internal/pkg/logger"
	"brasa/internal/pkg/mq"
	"brasa/internal/service/order/domain"
)

// EventConsumer 消费订单事件 Topic 并通过 Hub 推送给在线用户。
// 这是把订单存储的变更扇出到所有已连接设备的唯一路径。
type EventConsumer struct {
	reader *kafka.Reader
	hub    *Hub
	tracer trace.Tracer
	wg     sync.WaitGroup
}

func NewEventConsumer(reader *kafka.Reader, hub *Hub, tracer trace.Tracer) *EventConsumer {
	return &EventConsumer{reader: reader, hub: hub, tracer: tracer}
}

// Start 开始消费。长期运行，ctx 结束后退出。
func (c *EventConsumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Logger().Info().Str("topic", c.reader.Config().Topic).Msg("order event consumer started")
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Logger().Info().Msg("order event consumer shutting down")
					return
				}
				logger.Logger().Error().Err(err).Msg("could not read order event, retrying")
				time.Sleep(time.Second)
				continue
			}

			c.processMessage(ctx, msg)

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				logger.Logger().Error().Err(err).Msg("failed to commit order event offset")
			}
		}
	}()
}

// Stop 优雅地停止消费者
func (c *EventConsumer) Stop() {
	c.reader.Close()
	c.wg.Wait()
}

func (c *EventConsumer) processMessage(parentCtx context.Context, msg kafka.Message) {
	var event domain.OrderEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Logger().Error().Err(err).Msg("failed to unmarshal order event, message skipped")
		return
	}
	if event.Order == nil {
		// 事件必须携带完整快照。跳过坏消息并照常提交位移，
		// 否则同一条消息会让网关陷入崩溃重启循环。
		logger.Logger().Error().Str("event_id", event.EventID).Msg("order event missing order snapshot, message skipped")
		return
	}

	propagator := otel.GetTextMapPropagator()
	headerCarrier := mq.KafkaHeaderCarrier(msg.Headers)
	ctx := propagator.Extract(parentCtx, &headerCarrier)

	ctx, span := c.tracer.Start(ctx, "push-gateway.RouteOrderEvent",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("order.id", event.Order.ID),
			attribute.String("user.id", event.UserID),
			attribute.String("event.type", string(event.Type)),
		))
	defer span.End()

	delivered := c.hub.Push(event.UserID, msg.Value)
	span.SetAttributes(attribute.Int("event.delivered_connections", delivered))
	if delivered == 0 {
		// 用户不在线：事件不会重放，客户端重连后整体重新拉取
		logger.Ctx(ctx).Debug().Str("user_id", event.UserID).Msg("user offline, event dropped")
	}
}
