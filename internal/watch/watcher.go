// internal/watch/watcher.go
package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"brasa/internal/pkg/logger"
	"brasa/internal/service/order/application"
	"brasa/internal/service/order/domain"
)

// ErrActionInFlight 表示上一次取消/改单还没有收到明确的成功或失败，
// 期间不允许重复提交。
var ErrActionInFlight = errors.New("an action is already in flight for this order")

// API 是客户端看到的订单后端
type API interface {
	Order(ctx context.Context, orderID string) (*domain.Order, error)
	Cancel(ctx context.Context, orderID string) (*application.CancelOutcome, error)
	Modify(ctx context.Context, orderID, notes string) (*application.ModificationOutcome, error)
}

// EventSource 是实时事件流。返回的通道在连接断开时关闭，
// 调用方重新 Subscribe 完成重连（内部会重新换令牌）。
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan domain.OrderEvent, error)
}

// Hooks 是 UI 挂载的回调。全部可选。OnGate 只在 Run 的 goroutine 里
// 调用；OnCancelled 也可能来自 Cancel 的调用方；OnReload 在独立的
// goroutine 里执行。
type Hooks struct {
	// OnGate 在每次门禁重算后调用：初次加载时同步一次、每个 tick 一次、
	// 每条实时事件后立刻一次。
	OnGate func(gate domain.Gate, order *domain.Order)

	// OnCancelled 在订单确认被取消后恰好调用一次。
	// 本机发起的取消和实时事件两条路径会合并成这一次。
	// order 是取消之后的最新本地快照；初次加载还没完成时可能为 nil。
	OnCancelled func(order *domain.Order)

	// OnReload 在收到本地未知订单的 created 事件时触发，
	// 提示上层整体重载订单列表（聚合视图整体重算比增量修补便宜且不易错）。
	OnReload func()
}

// Watcher 是单个订单的客户端对账器。
//
// 它持有恰好一份不可变的订单快照，每次观察到服务端状态（拉取或事件）
// 都整体替换而不做字段合并；1Hz 的 tick 和事件流在同一个 select 里
// 交错执行，事件会抢占并替换下一个 tick 的计算基础，两者不会竞争同
// 一份快照。
type Watcher struct {
	orderID string
	api     API
	source  EventSource
	hooks   Hooks

	tick          time.Duration
	reconnectWait time.Duration
	now           func() time.Time

	mu       sync.Mutex
	snapshot *domain.Order

	actionBusy     atomic.Bool
	cancelNotified atomic.Bool
	reloadFlight   singleflight.Group
}

func New(orderID string, api API, source EventSource, hooks Hooks) *Watcher {
	return &Watcher{
		orderID:       orderID,
		api:           api,
		source:        source,
		hooks:         hooks,
		tick:          time.Second,
		reconnectWait: 2 * time.Second,
		now:           time.Now,
	}
}

// Run 驱动对账循环直到 ctx 结束。进入循环之前先同步加载一次订单并
// 计算门禁——UI 在拉取完成前绝不展示旧的"可修改"状态。
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.resync(ctx); err != nil {
		return err
	}

	events, err := w.source.Subscribe(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			w.evaluate()

		case ev, ok := <-events:
			if !ok {
				// 断线。断线期间的事件不会重放，必须先补拉当前状态
				// 再恢复消费，否则本地会停留在旧快照上。
				events = w.reconnect(ctx)
				if events == nil {
					return ctx.Err()
				}
				continue
			}
			w.handleEvent(ev)
		}
	}
}

// Cancel 发起取消。调用在收到明确结果前互斥（同一客户端不会并发重复
// 提交），结果是临时的：权威状态永远是下一次服务端观察。
func (w *Watcher) Cancel(ctx context.Context) (*application.CancelOutcome, error) {
	if !w.actionBusy.CompareAndSwap(false, true) {
		return nil, ErrActionInFlight
	}
	defer w.actionBusy.Store(false)

	outcome, err := w.api.Cancel(ctx, w.orderID)
	if err != nil {
		return nil, err
	}

	// 本地快照先按响应结果推进，不等事件到达；权威状态仍以
	// 下一次服务端观察为准。直接响应和稍后的 updated 事件会
	// 合并成一次成功提示。
	var done *domain.Order
	if snap := w.currentSnapshot(); snap != nil {
		cp := *snap
		cp.Status = outcome.Status
		cp.PaymentStatus = outcome.PaymentStatus
		w.replaceSnapshot(&cp)
		done = &cp
	}
	w.notifyCancelled(done)
	return outcome, nil
}

// Modify 提交一条改单留言
func (w *Watcher) Modify(ctx context.Context, notes string) (*application.ModificationOutcome, error) {
	if !w.actionBusy.CompareAndSwap(false, true) {
		return nil, ErrActionInFlight
	}
	defer w.actionBusy.Store(false)

	return w.api.Modify(ctx, w.orderID, notes)
}

// Gate 返回基于最新快照和本地流逝时间的门禁状态
func (w *Watcher) Gate() domain.Gate {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.snapshot == nil {
		return domain.Gate{}
	}
	return w.snapshot.Gate(w.now())
}

func (w *Watcher) handleEvent(ev domain.OrderEvent) {
	switch ev.Type {
	case domain.EventCreated:
		if ev.Order == nil || ev.Order.ID == w.orderID {
			return
		}
		// 本地未知的新订单：整体重载比增量插入便宜且不易错。
		// singleflight 把事件风暴合并成一次重载。
		if w.hooks.OnReload != nil {
			go w.reloadFlight.Do("order-list", func() (interface{}, error) {
				w.hooks.OnReload()
				return nil, nil
			})
		}

	case domain.EventUpdated, domain.EventDeleted:
		if ev.Order == nil || ev.Order.ID != w.orderID {
			return
		}
		// 整体替换快照，不做字段级合并
		w.replaceSnapshot(ev.Order)
		w.evaluate()
		if ev.Order.Status == domain.StatusCancelled {
			w.notifyCancelled(ev.Order)
		}
	}
}

// evaluate 重算门禁并通知 UI
func (w *Watcher) evaluate() {
	w.mu.Lock()
	snapshot := w.snapshot
	w.mu.Unlock()
	if snapshot == nil {
		return
	}
	gate := snapshot.Gate(w.now())
	if w.hooks.OnGate != nil {
		w.hooks.OnGate(gate, snapshot)
	}
}

// resync 从服务端拉取权威快照并立刻重算一次门禁
func (w *Watcher) resync(ctx context.Context) error {
	order, err := w.api.Order(ctx, w.orderID)
	if err != nil {
		return err
	}
	w.replaceSnapshot(order)
	w.evaluate()
	if order.Status == domain.StatusCancelled {
		// 断线期间订单可能已在别的设备上被取消
		w.notifyCancelled(order)
	}
	return nil
}

// reconnect 循环重建订阅。恢复消费之前必须 resync 一次。
// ctx 结束时返回 nil。
func (w *Watcher) reconnect(ctx context.Context) <-chan domain.OrderEvent {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.reconnectWait):
		}

		if err := w.resync(ctx); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("resync after disconnect failed, retrying")
			continue
		}
		events, err := w.source.Subscribe(ctx)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("resubscribe failed, retrying")
			continue
		}
		return events
	}
}

func (w *Watcher) replaceSnapshot(order *domain.Order) {
	w.mu.Lock()
	w.snapshot = order
	w.mu.Unlock()
}

func (w *Watcher) currentSnapshot() *domain.Order {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshot
}

// notifyCancelled 保证取消成功的提示只出现一次
func (w *Watcher) notifyCancelled(order *domain.Order) {
	if !w.cancelNotified.CompareAndSwap(false, true) {
		return
	}
	if w.hooks.OnCancelled != nil {
		w.hooks.OnCancelled(order)
	}
}
