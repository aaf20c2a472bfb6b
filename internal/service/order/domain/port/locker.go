package port

import "context"

// OrderLocker 提供按订单ID的互斥。同一订单的取消操作在所有
// order-service 实例之间串行执行（single-flight per order id）：
// 两台设备同时取消时，后拿到锁的一方会在门禁复核时得到
// ErrAlreadyTerminal，而不是触发第二次退款。
type OrderLocker interface {
	// Lock 阻塞直到拿到 orderID 的锁或 ctx 结束，返回释放函数。
	Lock(ctx context.Context, orderID string) (release func(), err error)
}
