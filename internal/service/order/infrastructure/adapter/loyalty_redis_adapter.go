package adapter

import (
	"context"
	"fmt"

	"brasa/internal/pkg/redis"
)

const reversePointsScriptName = "reverse_points"

// LoyaltyRedisAdapter 是 port.LoyaltyService 的 Redis 实现。
// 积分余额保存在 Redis 账本里，订单表上不维护积分字段。
type LoyaltyRedisAdapter struct {
	redisClient *redis.Client
}

// NewLoyaltyRedisAdapter 创建积分账本适配器，创建时加载所需的 Lua 脚本。
func NewLoyaltyRedisAdapter(redisClient *redis.Client) (*LoyaltyRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(reversePointsScriptName, reversePointsScript); err != nil {
		return nil, fmt.Errorf("failed to load loyalty reversal script: %w", err)
	}
	return &LoyaltyRedisAdapter{redisClient: redisClient}, nil
}

// ReversePoints 冲回一笔订单的积分。脚本内部用"已冲回订单集合"做幂等：
// 同一订单重复调用只会扣一次，避免双重记账。
func (a *LoyaltyRedisAdapter) ReversePoints(ctx context.Context, userID, orderID string, points int) error {
	balanceKey := fmt.Sprintf("loyalty:points:{%s}", userID)
	reversedSetKey := fmt.Sprintf("loyalty:reversed:{%s}", userID)

	keys := []string{balanceKey, reversedSetKey}
	result, err := a.redisClient.RunScript(ctx, reversePointsScriptName, keys, orderID, points)
	if err != nil {
		return fmt.Errorf("loyalty adapter failed to run script: %w", err)
	}

	code, ok := result.(int64)
	if !ok {
		return fmt.Errorf("unexpected result type from Lua script: %T", result)
	}

	switch code {
	case 1, 2: // 1=冲回成功, 2=该订单已经冲回过（幂等命中）
		return nil
	default:
		return fmt.Errorf("unknown result code from loyalty script: %d", code)
	}
}

var reversePointsScript = `
-- KEYS[1]: 用户积分余额, 例如: loyalty:points:{user-42}
-- KEYS[2]: 已冲回订单集合, 例如: loyalty:reversed:{user-42}
-- ARGV[1]: 订单ID
-- ARGV[2]: 要冲回的积分数

-- 1. 该订单已经冲回过，直接返回（幂等）
if redis.call('sismember', KEYS[2], ARGV[1]) == 1 then
    return 2
end

-- 2. 记录并扣减。余额允许为负：积分可能已被花掉，由后台对账处理。
redis.call('sadd', KEYS[2], ARGV[1])
redis.call('decrby', KEYS[1], ARGV[2])
return 1
`
