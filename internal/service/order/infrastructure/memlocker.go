// internal/service/order/infrastructure/memlocker.go
package infrastructure

import (
	"context"
	"sync"
)

// MemLocker 是 port.OrderLocker 的进程内实现，按订单ID互斥。
// 单实例部署直接用它；多实例部署换成 ZkLocker。
type MemLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{} // 容量1，持锁者占据唯一的令牌
	refs int
}

func NewMemLocker() *MemLocker {
	return &MemLocker{locks: make(map[string]*entry)}
}

func (l *MemLocker) Lock(ctx context.Context, orderID string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[orderID]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[orderID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.put(orderID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-e.ch
			l.put(orderID, e)
		})
	}
	return release, nil
}

// put 归还引用计数，没人等待时回收条目，锁表不会无限增长
func (l *MemLocker) put(orderID string, e *entry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, orderID)
	}
	l.mu.Unlock()
}
