// internal/service/order/infrastructure/zk_locker.go
package infrastructure

import (
	"context"
	"time"

	"brasa/internal/pkg/logger"
	"brasa/internal/zookeeper"
)

// ZkLocker 用 ZooKeeper 实现 port.OrderLocker，多实例部署时
// 保证同一订单的取消在整个集群内串行。
type ZkLocker struct {
	conn    *zookeeper.Conn
	maxWait time.Duration
}

func NewZkLocker(conn *zookeeper.Conn, maxWait time.Duration) *ZkLocker {
	return &ZkLocker{conn: conn, maxWait: maxWait}
}

func (l *ZkLocker) Lock(ctx context.Context, orderID string) (func(), error) {
	lock := zookeeper.NewDistributedLock(l.conn, orderID)

	wait := l.maxWait
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < wait {
			wait = until
		}
	}

	if err := lock.Lock(wait); err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Msg("failed to release order lock")
		}
	}, nil
}
