// internal/realtime/token.go
package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"brasa/internal/pkg/redis"
)

// 通道令牌的有效期。令牌只用于一次 WebSocket 握手，
// 重连时客户端重新向 order-service 换取新令牌。
const tokenTTL = 60 * time.Second

// TokenStore 管理实时通道的短时令牌。
// order-service 签发，push-gateway 在升级连接时校验并一次性消费。
type TokenStore struct {
	client *redis.Client
}

func NewTokenStore(client *redis.Client) *TokenStore {
	return &TokenStore{client: client}
}

// Mint 为已认证的用户签发一个一次性通道令牌
func (s *TokenStore) Mint(ctx context.Context, userID string) (string, error) {
	token := uuid.New().String()
	err := s.client.GetClient().Set(ctx, tokenKey(token), userID, tokenTTL).Err()
	if err != nil {
		return "", fmt.Errorf("failed to mint channel token: %w", err)
	}
	return token, nil
}

// Consume 校验令牌并原子地销毁它，返回令牌归属的用户ID。
// 令牌无效或已被使用时返回空字符串。
func (s *TokenStore) Consume(ctx context.Context, token string) (string, error) {
	userID, err := s.client.GetClient().GetDel(ctx, tokenKey(token)).Result()
	if err == goredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume channel token: %w", err)
	}
	return userID, nil
}

func tokenKey(token string) string { return "realtime:token:" + token }
