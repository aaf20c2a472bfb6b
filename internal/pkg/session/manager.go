// internal/pkg/session/manager.go
package session

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"brasa/internal/pkg/redis"
)

const (
	// 网关会话的过期时间。网关在连接存活期间会周期性续期，
	// 连接断开后条目自动过期，避免把消息路由到已经下线的节点。
	gatewayTTL = 2 * time.Minute
)

// Manager 维护两类会话信息：
//  1. 登录会话: session:{token} -> userID，由认证服务写入，这里只读
//  2. 网关会话: gateway:{userID} -> 推送网关节点ID，由 push-gateway 写入
type Manager struct {
	client *redis.Client
}

func NewManager(client *redis.Client) *Manager {
	return &Manager{client: client}
}

// ResolveUser 根据登录态 token 解析用户ID。token 无效时返回空字符串。
func (m *Manager) ResolveUser(ctx context.Context, token string) (string, error) {
	userID, err := m.client.GetClient().Get(ctx, sessionKey(token)).Result()
	if err == goredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve session: %w", err)
	}
	return userID, nil
}

// SetUserGateway 记录某个用户当前连接在哪个网关节点上
func (m *Manager) SetUserGateway(ctx context.Context, userID, nodeID string) error {
	return m.client.GetClient().Set(ctx, gatewayKey(userID), nodeID, gatewayTTL).Err()
}

// RefreshUserGateway 对仍然在线的连接续期
func (m *Manager) RefreshUserGateway(ctx context.Context, userID string) error {
	return m.client.GetClient().Expire(ctx, gatewayKey(userID), gatewayTTL).Err()
}

// GetUserGateway 查询用户所在的网关节点，离线时返回空字符串
func (m *Manager) GetUserGateway(ctx context.Context, userID string) (string, error) {
	nodeID, err := m.client.GetClient().Get(ctx, gatewayKey(userID)).Result()
	if err == goredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return nodeID, nil
}

// ClearUserGateway 用户断开连接时清理会话
func (m *Manager) ClearUserGateway(ctx context.Context, userID string) error {
	return m.client.GetClient().Del(ctx, gatewayKey(userID)).Err()
}

func sessionKey(token string) string { return "session:" + token }
func gatewayKey(userID string) string { return "gateway:" + userID }
