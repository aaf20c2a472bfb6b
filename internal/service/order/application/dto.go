// internal/service/order/application/dto.go
package application

import (
	"time"

	"brasa/internal/service/order/domain"
)

// CancelOutcome 是取消用例的输出数据。
// SettlementDays 只是支付处理方给的预估，用于展示，不是承诺。
type CancelOutcome struct {
	OrderID        string               `json:"orderId"`
	Status         domain.Status        `json:"status"`
	PaymentStatus  domain.PaymentStatus `json:"paymentStatus"`
	RefundRef      string               `json:"refundRef"`
	SettlementDays int                  `json:"settlementDays"`
}

// ModificationOutcome 是改单用例的输出数据。改单只是确认收到，
// 不保证门店一定能照办。
type ModificationOutcome struct {
	RequestID  string    `json:"requestId"`
	OrderID    string    `json:"orderId"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// OrderView 是对外返回的订单快照，附带服务端算好的门禁状态，
// 客户端首屏渲染不需要等第一次 tick。
type OrderView struct {
	Order       *domain.Order `json:"order"`
	RemainingMS int64         `json:"remainingMs"`
	CanAct      bool          `json:"canAct"`
}

func newOrderView(order *domain.Order, now time.Time) *OrderView {
	gate := order.Gate(now)
	return &OrderView{
		Order:       order,
		RemainingMS: gate.Remaining.Milliseconds(),
		CanAct:      gate.CanAct,
	}
}
