// internal/service/order/domain/gate.go
package domain

import "time"

// Gate 是某一时刻取消/改单门禁的计算结果
type Gate struct {
	Remaining time.Duration // 剩余窗口时长，永远不为负
	CanAct    bool          // 此刻是否允许取消/改单
}

// EvaluateGate 是纯函数：同样的输入永远得到同样的结果。
// 客户端每秒重算一次，收到任何实时事件时立即重算一次，
// 初次加载时也必须同步算一次，不允许展示拉取之前的旧门禁状态。
//
// 窗口不含截止时刻本身：now == deadline 时 CanAct 为 false。
func EvaluateGate(now time.Time, deadline *time.Time, payment PaymentStatus, status Status) Gate {
	if deadline == nil {
		// 支付尚未确认，没有可以计时的窗口
		return Gate{Remaining: 0, CanAct: false}
	}

	remaining := deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}

	return Gate{
		Remaining: remaining,
		CanAct:    remaining > 0 && payment == PaymentSucceeded && status.actionable(),
	}
}

// Gate 以订单自身的字段计算门禁，等价于 EvaluateGate 的便捷形式
func (o *Order) Gate(now time.Time) Gate {
	return EvaluateGate(now, o.CancellationDeadline, o.PaymentStatus, o.Status)
}
