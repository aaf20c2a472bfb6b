// internal/watch/api.go
package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"brasa/internal/service/order/application"
	"brasa/internal/service/order/domain"
)

// APIError 是服务端返回的结构化错误。Unwrap 映射回领域哨兵错误，
// 客户端可以直接用 errors.Is 做分支。
type APIError struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Kind {
	case "not_authenticated":
		return domain.ErrNotAuthenticated
	case "order_not_found":
		return domain.ErrOrderNotFound
	case "window_expired":
		return domain.ErrWindowExpired
	case "already_terminal":
		return domain.ErrAlreadyTerminal
	default:
		return nil
	}
}

// Client 是订单服务的 HTTP 客户端，实现 watch.API
type Client struct {
	baseURL string
	session string
	http    *http.Client
}

// NewClient 创建客户端。session 是用户的会话令牌，
// 超时由每次调用传入的 context 控制。
func NewClient(baseURL, session string) *Client {
	return &Client{
		baseURL: baseURL,
		session: session,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
			},
		},
	}
}

func (c *Client) Order(ctx context.Context, orderID string) (*domain.Order, error) {
	view, err := c.OrderView(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return view.Order, nil
}

// OrderView 拉取单个订单，附带服务端算好的门禁状态
func (c *Client) OrderView(ctx context.Context, orderID string) (*application.OrderView, error) {
	var view application.OrderView
	if err := c.do(ctx, http.MethodGet, "/orders/"+orderID, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Orders 拉取当前用户的全部订单
func (c *Client) Orders(ctx context.Context) ([]*application.OrderView, error) {
	var body struct {
		Orders []*application.OrderView `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, "/orders", nil, &body); err != nil {
		return nil, err
	}
	return body.Orders, nil
}

func (c *Client) Cancel(ctx context.Context, orderID string) (*application.CancelOutcome, error) {
	var outcome application.CancelOutcome
	if err := c.do(ctx, http.MethodPost, "/orders/"+orderID+"/cancel", struct{}{}, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

func (c *Client) Modify(ctx context.Context, orderID, notes string) (*application.ModificationOutcome, error) {
	req := map[string]string{"notes": notes}
	var outcome application.ModificationOutcome
	if err := c.do(ctx, http.MethodPost, "/orders/"+orderID+"/modify", req, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

// ChannelToken 换一枚一次性的实时通道令牌，每次 WebSocket 握手前调用
func (c *Client) ChannelToken(ctx context.Context) (string, error) {
	var body struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/realtime/token", struct{}{}, &body); err != nil {
		return "", err
	}
	return body.Token, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "failed to encode request body")
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.session)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "request to %s failed", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var envelope struct {
			Error APIError `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error.Kind == "" {
			return errors.Errorf("request to %s failed with status %d", path, resp.StatusCode)
		}
		envelope.Error.HTTPStatus = resp.StatusCode
		return &envelope.Error
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return errors.Wrapf(err, "failed to decode response from %s", path)
		}
	} else {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	}
	return nil
}
