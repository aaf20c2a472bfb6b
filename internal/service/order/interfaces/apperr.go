// internal/service/order/interfaces/apperr.go
package interfaces

import (
	"context"
	"errors"
	"net/http"

	"brasa/internal/service/order/domain"
	"brasa/internal/service/order/domain/port"
)

// Kind 把引擎错误映射为稳定的机器可读分类，客户端据此选择文案：
// window_expired 显示"修改窗口已关闭"，already_terminal 显示"订单已取消"，
// refund_retryable 给出重试入口，refund_terminal 引导联系客服。
func Kind(err error) string {
	var refundErr *port.RefundError

	switch {
	case err == nil:
		return ""

	case errors.Is(err, domain.ErrNotAuthenticated):
		return "not_authenticated"

	case errors.Is(err, domain.ErrOrderNotFound):
		return "order_not_found"

	case errors.Is(err, domain.ErrWindowExpired):
		return "window_expired"

	case errors.Is(err, domain.ErrAlreadyTerminal):
		return "already_terminal"

	case errors.As(err, &refundErr):
		if refundErr.Retryable {
			return "refund_retryable"
		}
		return "refund_terminal"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	default:
		return "unknown"
	}
}

func HTTPStatus(err error) int {
	switch Kind(err) {
	case "":
		return http.StatusOK

	case "not_authenticated":
		return http.StatusUnauthorized

	case "order_not_found":
		return http.StatusNotFound

	case "window_expired", "already_terminal":
		return http.StatusConflict

	case "refund_retryable", "timeout":
		return http.StatusServiceUnavailable

	case "refund_terminal":
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}
