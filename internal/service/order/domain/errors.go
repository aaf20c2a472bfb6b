// internal/service/order/domain/errors.go
package domain

import "errors"

// 核心错误分类。所有门禁和状态机违规都在引擎边界被拦截，
// 不会触发任何外部调用；每个被拒绝的操作都保证订单状态原样不动。
var (
	// ErrNotAuthenticated 没有有效会话
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrOrderNotFound 订单不存在，或不属于当前用户
	ErrOrderNotFound = errors.New("order not found")

	// ErrWindowExpired 服务端复核时窗口已关闭（时钟偏差或和其它设备竞争失败）
	ErrWindowExpired = errors.New("cancellation window has closed")

	// ErrAlreadyTerminal 订单已处于终态（已取消/已完成），和 ErrWindowExpired
	// 区分开，UI 据此提示"已取消"而不是笼统的失败
	ErrAlreadyTerminal = errors.New("order is already in a terminal state")

	// ErrInvalidTransition 状态机不允许的流转
	ErrInvalidTransition = errors.New("invalid order state transition")
)
