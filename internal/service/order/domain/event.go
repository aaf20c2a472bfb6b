// internal/service/order/domain/event.go
package domain

import (
	"context"
	"time"
)

// EventType 是实时通道里事件的类型
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// OrderEvent 是推送给客户端的订单变更事件。
// Order 字段永远是完整的快照：客户端整体替换本地状态，不做字段级合并。
type OrderEvent struct {
	EventID   string    `json:"eventId"`
	Type      EventType `json:"type"`
	UserID    string    `json:"userId"`
	Order     *Order    `json:"order"`
	EmittedAt time.Time `json:"emittedAt"`
}

// PaymentConfirmed 是支付网关回调的载体。整个时间门禁设计都锚定在
// ConfirmedAt 上：取消窗口从支付确认开始计时，而不是从下单开始。
type PaymentConfirmed struct {
	OrderID     string    `json:"orderId"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

// OrderEventProducer 把订单事件发布到实时通道（由基础设施层实现）
type OrderEventProducer interface {
	Publish(ctx context.Context, event *OrderEvent) error
}
