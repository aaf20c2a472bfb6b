// internal/realtime/server.go
package realtime

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"brasa/internal/pkg/logger"
	"brasa/internal/pkg/session"
)

// Server 处理 WebSocket 升级请求。
// 握手必须携带一次性的通道令牌（由 order-service 签发），
// 重连时客户端先换新令牌再重新握手。
type Server struct {
	hub      *Hub
	tokens   *TokenStore
	sessions *session.Manager
	nodeID   string
	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, tokens *TokenStore, sessions *session.Manager, nodeID string) *Server {
	return &Server{
		hub:      hub,
		tokens:   tokens,
		sessions: sessions,
		nodeID:   nodeID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// App 客户端没有浏览器的同源语义，鉴权靠通道令牌
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS 校验令牌、升级连接并把客户端挂到 Hub 上
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "channel token is required", http.StatusUnauthorized)
		return
	}

	userID, err := s.tokens.Consume(r.Context(), token)
	if err != nil {
		logger.Ctx(r.Context()).Error().Err(err).Msg("failed to validate channel token")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if userID == "" {
		http.Error(w, "invalid or expired channel token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := newClient(s.hub, conn, userID)
	client.onPong = func() {
		if err := s.sessions.RefreshUserGateway(context.Background(), userID); err != nil {
			logger.Logger().Warn().Err(err).Str("user_id", userID).Msg("failed to refresh gateway session")
		}
	}
	client.onClose = func() {
		// 尽力而为的清理，清不掉也会被 TTL 兜底
		if err := s.sessions.ClearUserGateway(context.Background(), userID); err != nil {
			logger.Logger().Warn().Err(err).Str("user_id", userID).Msg("failed to clear gateway session")
		}
	}
	s.hub.register <- client

	// 记录用户连接在哪个网关节点上，跨节点路由依赖这份会话
	if err := s.sessions.SetUserGateway(r.Context(), userID, s.nodeID); err != nil {
		logger.Ctx(r.Context()).Error().Err(err).Str("user_id", userID).Msg("failed to record gateway session")
	}

	go client.writePump()
	go client.readPump()
}
