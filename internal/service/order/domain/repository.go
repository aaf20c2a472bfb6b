// internal/service/order/domain/repository.go
package domain

import (
	"context"
	"time"
)

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。订单存储是权威状态的唯一写入方。
type OrderRepository interface {
	// FindByID 根据 ID 查找一个订单聚合（含条目）。
	FindByID(ctx context.Context, id string) (*Order, error)

	// FindByUser 返回一个用户的全部订单，按创建时间倒序。
	// 客户端收到未知订单的 created 事件时用它做整体重载。
	FindByUser(ctx context.Context, userID string) ([]*Order, error)

	// ConfirmPayment 原子地把支付状态置为 succeeded 并盖上取消截止时间。
	// 截止时间只在第一次确认时写入；重放的回调返回 changed=false。
	ConfirmPayment(ctx context.Context, orderID string, confirmedAt, deadline time.Time) (order *Order, changed bool, err error)

	// MarkCancelled 在一个事务里完成取消流转和退款台账落库：
	// 受保护的 UPDATE 只在 status ∈ {pending,preparing} 且
	// payment_status = succeeded 时生效，没有命中任何行时重新读取并
	// 分类为 ErrAlreadyTerminal / ErrWindowExpired / ErrOrderNotFound。
	// 不存在"退款已记录但状态未流转"的中间可见状态。
	MarkCancelled(ctx context.Context, orderID string, receipt *RefundReceipt) (*Order, error)

	// AddModificationRequest 记录一条改单留言，不改动订单本身。
	AddModificationRequest(ctx context.Context, req *ModificationRequest) error

	// ModificationRequests 返回某个订单的全部改单留言（给门店后台）。
	ModificationRequests(ctx context.Context, orderID string) ([]*ModificationRequest, error)
}
