// internal/watch/source_ws.go
package watch

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"brasa/internal/pkg/logger"
	"brasa/internal/service/order/domain"
)

// WSSource 通过推送网关的 WebSocket 订阅订单事件。
// 通道令牌是一次性的，每次 Subscribe 都先向订单服务换一枚新的。
type WSSource struct {
	client     *Client
	gatewayURL string
	dialer     *websocket.Dialer
}

// NewWSSource 创建事件源。gatewayURL 形如 ws://host:port/ws。
func NewWSSource(client *Client, gatewayURL string) *WSSource {
	return &WSSource{
		client:     client,
		gatewayURL: gatewayURL,
		dialer:     websocket.DefaultDialer,
	}
}

// Subscribe 换令牌、握手并启动读循环。
// 返回的通道在连接断开时关闭；ctx 结束会主动断开连接。
func (s *WSSource) Subscribe(ctx context.Context) (<-chan domain.OrderEvent, error) {
	token, err := s.client.ChannelToken(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to mint channel token")
	}

	u, err := url.Parse(s.gatewayURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid gateway url")
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := s.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "websocket handshake failed")
	}

	events := make(chan domain.OrderEvent, 16)

	// ctx 结束时关掉连接，读循环随之退出
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(events)
		defer conn.Close()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					logger.Ctx(ctx).Warn().Err(err).Msg("event stream closed")
				}
				return
			}
			var ev domain.OrderEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				// 跳过坏消息，不因为单条解析失败断开整条流
				logger.Ctx(ctx).Error().Err(err).Msg("failed to decode order event")
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}
