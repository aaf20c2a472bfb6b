// internal/service/order/domain/order.go
package domain

import (
	"time"
)

// CancellationWindow 是支付确认后允许顾客取消/改单的固定时长。
// 窗口锚定在支付确认时刻而不是下单时刻：订单可能在未支付状态停留任意久。
const CancellationWindow = 5 * time.Minute

// LineItem 是订单中的一个条目。订单被接单后条目不可变，
// 改单以留言形式记录（见 ModificationRequest），不直接修改条目。
type LineItem struct {
	ID        string
	Name      string
	UnitPrice float64
	Quantity  int
}

// Order 是订单聚合的根实体
type Order struct {
	ID           string
	OrderNumber  int64 // 面向顾客的顺序单号
	UserID       string
	Items        []LineItem
	Total        float64
	PointsEarned int

	Status        Status
	PaymentStatus PaymentStatus

	// CancellationDeadline 由支付确认回调设置且只设置一次，之后不再变化。
	// 支付未确认时为 nil。
	CancellationDeadline *time.Time

	DeliveryAddress string
	PickupNotes     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConfirmPayment 处理支付确认回调：将支付状态置为 succeeded，
// 并以 confirmedAt + CancellationWindow 盖上取消截止时间。
// 回调可能被网关重放，重复确认是无操作，返回 false。
func (o *Order) ConfirmPayment(confirmedAt time.Time) (bool, error) {
	if o.Status == StatusCancelled {
		return false, ErrAlreadyTerminal
	}
	if o.PaymentStatus == PaymentSucceeded {
		return false, nil
	}
	if o.PaymentStatus != PaymentPending && o.PaymentStatus != PaymentProcessing {
		return false, ErrInvalidTransition
	}

	o.PaymentStatus = PaymentSucceeded
	if o.CancellationDeadline == nil {
		deadline := confirmedAt.Add(CancellationWindow)
		o.CancellationDeadline = &deadline
	}
	o.UpdatedAt = confirmedAt
	return true, nil
}

// EnsureActionable 检查取消/改单的门禁条件：
// 支付已成功、履约状态仍在 pending/preparing、且当前时刻严格早于截止时间。
// 这是服务端的权威判定，客户端展示的倒计时只是它的一个投影。
func (o *Order) EnsureActionable(now time.Time) error {
	if o.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	gate := EvaluateGate(now, o.CancellationDeadline, o.PaymentStatus, o.Status)
	if !gate.CanAct {
		return ErrWindowExpired
	}
	return nil
}

// Cancel 在门禁允许的前提下执行取消：履约状态和支付状态作为一个
// 整体流转到 cancelled / canceled。退款成功之前不允许调用本方法。
func (o *Order) Cancel(now time.Time) error {
	if err := o.EnsureActionable(now); err != nil {
		return err
	}
	o.Status = StatusCancelled
	o.PaymentStatus = PaymentCanceled
	o.UpdatedAt = now
	return nil
}

// RefundReceipt 是退款协调器成功后返回的回执
type RefundReceipt struct {
	ProviderRef    string    // 支付处理方的退款单号
	Amount         float64   // 退款金额
	SettlementDays int       // 预计到账天数，仅用于展示
	RefundedAt     time.Time
}

// ModificationRequest 是顾客在窗口内提交的改单请求。
// 只是给门店员工的留言，不改动条目和金额。
type ModificationRequest struct {
	ID        string
	OrderID   string
	UserID    string
	Note      string
	CreatedAt time.Time
}
