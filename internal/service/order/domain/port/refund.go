package port

import (
	"context"

	"brasa/internal/service/order/domain"
)

// RefundService 是退款协调器的出站端口。实现方只负责调用支付处理方
// 并分类结果，不改动任何订单状态——状态流转是引擎的职责。
type RefundService interface {
	// Refund 撤销一笔已捕获的扣款。对同一订单必须可以安全重试：
	// 实现方以订单ID作为幂等键。失败时返回 *RefundError。
	Refund(ctx context.Context, order *domain.Order) (*domain.RefundReceipt, error)
}

// RefundError 把退款失败分为两类：
//   - Retryable: 网络/超时等瞬时问题，调用方可以让用户重试
//   - 非 Retryable: 处理方明确拒绝，绝不能自动重试，引导用户联系客服
type RefundError struct {
	Retryable bool
	Err       error
}

func (e *RefundError) Error() string {
	if e.Retryable {
		return "refund failed (retryable): " + e.Err.Error()
	}
	return "refund rejected by processor: " + e.Err.Error()
}

func (e *RefundError) Unwrap() error { return e.Err }
