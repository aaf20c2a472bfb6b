package adapter

import (
	"context"
	"net/http"
	"time"

	pkgerrors "github.com/pkg/errors"

	"brasa/internal/pkg/httpclient"
	"brasa/internal/service/order/domain"
	"brasa/internal/service/order/domain/port"
)

// RefundHTTPAdapter 是 port.RefundService 的实现，调用外部支付处理方
// 撤销一笔已捕获的扣款。处理方内部的重试逻辑对我们不可见：
// 这里只负责幂等调用和结果分类，不做任何订单状态变更。
type RefundHTTPAdapter struct {
	client  *httpclient.Client
	baseURL string
}

func NewRefundHTTPAdapter(client *httpclient.Client, baseURL string) *RefundHTTPAdapter {
	return &RefundHTTPAdapter{client: client, baseURL: baseURL}
}

type refundRequest struct {
	Reference      string  `json:"reference"`
	Amount         float64 `json:"amount"`
	IdempotencyKey string  `json:"idempotencyKey"`
}

type refundResponse struct {
	ProviderRef    string `json:"providerRef"`
	SettlementDays int    `json:"settlementDays"`
}

// Refund 发起退款。幂等键固定为订单ID：同一订单无论重试多少次，
// 处理方只会执行一次真正的冲正。
//
// 错误分类规则：
//   - 网络错误 / 超时           -> retryable（调用方可以让用户重试）
//   - 5xx                      -> retryable（处理方临时不可用）
//   - 4xx                      -> terminal（处理方明确拒绝，引导联系客服）
func (a *RefundHTTPAdapter) Refund(ctx context.Context, order *domain.Order) (*domain.RefundReceipt, error) {
	req := refundRequest{
		Reference:      order.ID,
		Amount:         order.Total,
		IdempotencyKey: order.ID,
	}

	var resp refundResponse
	status, err := a.client.PostJSON(ctx, a.baseURL+"/v1/refunds", req, &resp)
	if err != nil {
		// 含 context.DeadlineExceeded：超时不是成功也不是终态失败
		return nil, &port.RefundError{
			Retryable: true,
			Err:       pkgerrors.Wrap(err, "refund call failed"),
		}
	}

	switch {
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		return &domain.RefundReceipt{
			ProviderRef:    resp.ProviderRef,
			Amount:         order.Total,
			SettlementDays: resp.SettlementDays,
			RefundedAt:     time.Now().UTC(),
		}, nil
	case status >= http.StatusInternalServerError:
		return nil, &port.RefundError{
			Retryable: true,
			Err:       pkgerrors.Errorf("payment processor returned %d", status),
		}
	default:
		return nil, &port.RefundError{
			Retryable: false,
			Err:       pkgerrors.Errorf("payment processor rejected reversal with %d", status),
		}
	}
}
