package port

import "context"

// LoyaltyService 是积分账本的出站端口。
// 取消订单时由退款流程冲回 points_earned；账本自己保证同一订单
// 不会被冲回两次，订单表上不维护积分字段，避免双重记账。
type LoyaltyService interface {
	ReversePoints(ctx context.Context, userID, orderID string, points int) error
}
