// internal/service/order/domain/state.go
package domain

// Status 定义了订单的履约状态（由门店员工推进）
type Status string

const (
	StatusPending   Status = "pending"   // 已下单，门店尚未开始制作
	StatusPreparing Status = "preparing" // 制作中
	StatusReady     Status = "ready"     // 制作完成，等待取餐/配送
	StatusCompleted Status = "completed" // 已完成（终态）
	StatusCancelled Status = "cancelled" // 已取消（终态）
)

// PaymentStatus 定义了订单的支付状态（由支付回调推进）
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"    // 等待支付
	PaymentProcessing PaymentStatus = "processing" // 支付处理中
	PaymentSucceeded  PaymentStatus = "succeeded"  // 支付成功，取消窗口从这一刻开始计时
	PaymentFailed     PaymentStatus = "failed"     // 支付失败
	PaymentCanceled   PaymentStatus = "canceled"   // 已退款
)

// IsTerminal 报告履约状态是否为终态。终态订单拒绝一切核心操作。
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// actionable 报告履约状态是否还允许顾客取消/改单。
// ready 之后餐品已经做出来了，窗口即使没走完也不再允许操作。
func (s Status) actionable() bool {
	return s == StatusPending || s == StatusPreparing
}
