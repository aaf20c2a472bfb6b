// internal/realtime/hub.go
package realtime

import (
	"sync"

	"brasa/internal/pkg/logger"
)

// Hub 维护所有活跃的连接，并按用户ID分发订单事件。
// 同一个用户可能有多台设备在线（手机+平板），所以值是一个连接列表。
type Hub struct {
	clients    map[string][]*Client
	register   chan *Client
	unregister chan *Client
	lock       sync.RWMutex
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string][]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run 处理连接的注册与注销。独立 goroutine 运行，Stop 后退出。
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.lock.Lock()
			h.clients[client.userID] = append(h.clients[client.userID], client)
			h.lock.Unlock()
			logger.Logger().Info().Str("user_id", client.userID).Msg("realtime client registered")

		case client := <-h.unregister:
			h.lock.Lock()
			conns := h.clients[client.userID]
			for i, c := range conns {
				if c == client {
					conns = append(conns[:i], conns[i+1:]...)
					close(client.send)
					break
				}
			}
			if len(conns) == 0 {
				delete(h.clients, client.userID)
			} else {
				h.clients[client.userID] = conns
			}
			h.lock.Unlock()
			logger.Logger().Info().Str("user_id", client.userID).Msg("realtime client unregistered")

		case <-h.done:
			return
		}
	}
}

// Push 把一条事件负载发给某个用户的所有在线连接。
// 发送缓冲已满的连接被视为卡死，直接丢弃该条消息，
// 客户端重连后会整体重新拉取订单状态。
func (h *Hub) Push(userID string, payload []byte) int {
	h.lock.RLock()
	defer h.lock.RUnlock()

	delivered := 0
	for _, client := range h.clients[userID] {
		select {
		case client.send <- payload:
			delivered++
		default:
			logger.Logger().Warn().Str("user_id", userID).Msg("client send buffer full, dropping event")
		}
	}
	return delivered
}

// Online 报告某个用户是否有在线连接
func (h *Hub) Online(userID string) bool {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients[userID]) > 0
}

// Stop 结束 Run 循环
func (h *Hub) Stop() {
	close(h.done)
}
