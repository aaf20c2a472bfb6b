package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"brasa/internal/service/order/application"
	"brasa/internal/service/order/domain"
)

type gateUpdate struct {
	gate  domain.Gate
	order *domain.Order
}

type fakeAPI struct {
	mu          sync.Mutex
	orders      map[string]*domain.Order
	orderCalls  int
	cancelCalls int
	cancelBlock chan struct{}
}

func (f *fakeAPI) Order(_ context.Context, orderID string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderCalls++
	order, ok := f.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

func (f *fakeAPI) Cancel(_ context.Context, orderID string) (*application.CancelOutcome, error) {
	f.mu.Lock()
	f.cancelCalls++
	block := f.cancelBlock
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return &application.CancelOutcome{
		OrderID:       orderID,
		Status:        domain.StatusCancelled,
		PaymentStatus: domain.PaymentCanceled,
		RefundRef:     "re_test",
	}, nil
}

func (f *fakeAPI) Modify(_ context.Context, orderID, notes string) (*application.ModificationOutcome, error) {
	return &application.ModificationOutcome{RequestID: "mr_test", OrderID: orderID, ReceivedAt: time.Now()}, nil
}

type fakeSource struct {
	mu         sync.Mutex
	subscribes int
	current    chan domain.OrderEvent
}

func (s *fakeSource) Subscribe(_ context.Context) (<-chan domain.OrderEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribes++
	s.current = make(chan domain.OrderEvent, 16)
	return s.current, nil
}

func (s *fakeSource) emit(ev domain.OrderEvent) {
	s.mu.Lock()
	ch := s.current
	s.mu.Unlock()
	ch <- ev
}

// dropConnection 模拟断线：关闭当前事件通道
func (s *fakeSource) dropConnection() {
	s.mu.Lock()
	close(s.current)
	s.mu.Unlock()
}

func (s *fakeSource) subscribeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes
}

func paidOrder(id string, confirmedAt time.Time) *domain.Order {
	deadline := confirmedAt.Add(domain.CancellationWindow)
	return &domain.Order{
		ID:                   id,
		UserID:               "alice",
		Status:               domain.StatusPreparing,
		PaymentStatus:        domain.PaymentSucceeded,
		CancellationDeadline: &deadline,
	}
}

func startWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func nextGate(t *testing.T, gates <-chan gateUpdate) gateUpdate {
	t.Helper()
	select {
	case g := <-gates:
		return g
	case <-time.After(2 * time.Second):
		t.Fatal("no gate update in time")
		return gateUpdate{}
	}
}

func TestWatcher_InitialLoadEvaluatesGateBeforeFirstTick(t *testing.T) {
	t.Parallel()

	base := time.Now()
	api := &fakeAPI{orders: map[string]*domain.Order{"ord-1": paidOrder("ord-1", base)}}
	source := &fakeSource{}
	gates := make(chan gateUpdate, 64)

	w := New("ord-1", api, source, Hooks{
		OnGate: func(g domain.Gate, o *domain.Order) { gates <- gateUpdate{g, o} },
	})
	w.tick = time.Hour // tick 不会触发，唯一的门禁计算来自初次加载
	w.now = func() time.Time { return base }
	startWatcher(t, w)

	got := nextGate(t, gates)
	if !got.gate.CanAct {
		t.Fatalf("expected actionable gate right after load, got %+v", got.gate)
	}
	if got.gate.Remaining != domain.CancellationWindow {
		t.Fatalf("unexpected remaining %v", got.gate.Remaining)
	}
}

// 实时事件要立刻反映到门禁上，不等下一个 tick：
// 倒计时还在走时门店把订单推进到 ready，可操作状态必须马上翻转。
func TestWatcher_ReadyEventClosesGateBeforeNextTick(t *testing.T) {
	t.Parallel()

	base := time.Now()
	api := &fakeAPI{orders: map[string]*domain.Order{"ord-1": paidOrder("ord-1", base)}}
	source := &fakeSource{}
	gates := make(chan gateUpdate, 64)

	w := New("ord-1", api, source, Hooks{
		OnGate: func(g domain.Gate, o *domain.Order) { gates <- gateUpdate{g, o} },
	})
	w.tick = time.Hour
	w.now = func() time.Time { return base.Add(time.Minute) } // 窗口还剩 4 分钟
	startWatcher(t, w)

	if got := nextGate(t, gates); !got.gate.CanAct {
		t.Fatalf("expected open gate before the event, got %+v", got.gate)
	}

	ready := paidOrder("ord-1", base)
	ready.Status = domain.StatusReady
	source.emit(domain.OrderEvent{Type: domain.EventUpdated, UserID: "alice", Order: ready})

	got := nextGate(t, gates)
	if got.gate.CanAct {
		t.Fatalf("gate must close immediately on ready, got %+v", got.gate)
	}
	if got.gate.Remaining <= 0 {
		t.Fatalf("countdown had not expired yet, remaining should stay positive, got %v", got.gate.Remaining)
	}
	// 快照整体替换，不做字段合并
	if got.order != ready {
		t.Fatal("snapshot must be replaced wholesale by the event payload")
	}
}

func TestWatcher_TickRecomputesGateAsTimePasses(t *testing.T) {
	t.Parallel()

	base := time.Now()
	var offset atomic.Int64 // 秒

	api := &fakeAPI{orders: map[string]*domain.Order{"ord-1": paidOrder("ord-1", base)}}
	source := &fakeSource{}
	gates := make(chan gateUpdate, 256)

	w := New("ord-1", api, source, Hooks{
		OnGate: func(g domain.Gate, o *domain.Order) {
			select {
			case gates <- gateUpdate{g, o}:
			default:
			}
		},
	})
	w.tick = 5 * time.Millisecond
	w.now = func() time.Time { return base.Add(time.Duration(offset.Load()) * time.Second) }
	startWatcher(t, w)

	if got := nextGate(t, gates); !got.gate.CanAct {
		t.Fatalf("expected open gate at confirmation time, got %+v", got.gate)
	}

	// 本地时间越过截止时刻，没有任何事件，仅靠 tick 也要把门禁关掉
	offset.Store(int64(5*60 + 1))
	waitFor(t, func() bool {
		select {
		case g := <-gates:
			return !g.gate.CanAct && g.gate.Remaining == 0
		default:
			return false
		}
	})
}

// 本机取消成功和随后到达的 cancelled 事件只能产生一次成功提示
func TestWatcher_CancelNotificationDeduplicated(t *testing.T) {
	t.Parallel()

	base := time.Now()
	api := &fakeAPI{orders: map[string]*domain.Order{"ord-1": paidOrder("ord-1", base)}}
	source := &fakeSource{}

	var cancelled atomic.Int32
	var notified atomic.Pointer[domain.Order]
	w := New("ord-1", api, source, Hooks{
		OnCancelled: func(o *domain.Order) {
			cancelled.Add(1)
			notified.Store(o)
		},
	})
	w.tick = time.Hour
	w.now = func() time.Time { return base }
	startWatcher(t, w)

	waitFor(t, func() bool { return source.subscribeCount() == 1 })

	if _, err := w.Cancel(context.Background()); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	// 通知携带取消之后的快照，不是过期的 preparing 状态
	if got := notified.Load(); got == nil || got.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled snapshot in notification, got %+v", got)
	}
	// 本地门禁立刻关闭，不等事件到达
	if g := w.Gate(); g.CanAct {
		t.Fatal("gate must close right after a successful cancel")
	}

	done := paidOrder("ord-1", base)
	done.Status = domain.StatusCancelled
	done.PaymentStatus = domain.PaymentCanceled
	source.emit(domain.OrderEvent{Type: domain.EventUpdated, UserID: "alice", Order: done})

	waitFor(t, func() bool { return cancelled.Load() >= 1 })
	time.Sleep(50 * time.Millisecond)
	if n := cancelled.Load(); n != 1 {
		t.Fatalf("expected exactly one cancelled notification, got %d", n)
	}
}

func TestWatcher_SecondCancelWhileFirstInFlight(t *testing.T) {
	t.Parallel()

	base := time.Now()
	block := make(chan struct{})
	api := &fakeAPI{
		orders:      map[string]*domain.Order{"ord-1": paidOrder("ord-1", base)},
		cancelBlock: block,
	}
	w := New("ord-1", api, &fakeSource{}, Hooks{})

	firstDone := make(chan error, 1)
	go func() {
		_, err := w.Cancel(context.Background())
		firstDone <- err
	}()
	waitFor(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.cancelCalls == 1
	})

	if _, err := w.Cancel(context.Background()); !errors.Is(err, ErrActionInFlight) {
		t.Fatalf("expected ErrActionInFlight, got %v", err)
	}

	close(block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.cancelCalls != 1 {
		t.Fatalf("expected a single cancel request, got %d", api.cancelCalls)
	}
}

// 断线重连后必须先补拉权威快照，再恢复消费后续事件
func TestWatcher_ResyncAfterDisconnect(t *testing.T) {
	t.Parallel()

	base := time.Now()
	api := &fakeAPI{orders: map[string]*domain.Order{"ord-1": paidOrder("ord-1", base)}}
	source := &fakeSource{}
	gates := make(chan gateUpdate, 64)

	w := New("ord-1", api, source, Hooks{
		OnGate: func(g domain.Gate, o *domain.Order) {
			select {
			case gates <- gateUpdate{g, o}:
			default:
			}
		},
	})
	w.tick = time.Hour
	w.reconnectWait = time.Millisecond
	w.now = func() time.Time { return base }
	startWatcher(t, w)

	nextGate(t, gates)

	// 断线期间订单在别的设备上被推进到 ready，事件不会重放
	ready := paidOrder("ord-1", base)
	ready.Status = domain.StatusReady
	api.mu.Lock()
	api.orders["ord-1"] = ready
	api.mu.Unlock()
	source.dropConnection()

	waitFor(t, func() bool { return source.subscribeCount() == 2 })
	api.mu.Lock()
	calls := api.orderCalls
	api.mu.Unlock()
	if calls < 2 {
		t.Fatalf("expected a resync fetch after reconnect, got %d order calls", calls)
	}

	// 补拉的结果要立刻体现在门禁上
	waitFor(t, func() bool {
		select {
		case g := <-gates:
			return !g.gate.CanAct && g.order == ready
		default:
			return false
		}
	})

	// 重连后的事件流继续生效
	back := paidOrder("ord-1", base)
	source.emit(domain.OrderEvent{Type: domain.EventUpdated, UserID: "alice", Order: back})
	waitFor(t, func() bool {
		select {
		case g := <-gates:
			return g.gate.CanAct && g.order == back
		default:
			return false
		}
	})
}

func TestWatcher_CreatedEventForOtherOrderTriggersReload(t *testing.T) {
	t.Parallel()

	base := time.Now()
	api := &fakeAPI{orders: map[string]*domain.Order{"ord-1": paidOrder("ord-1", base)}}
	source := &fakeSource{}

	var reloads atomic.Int32
	w := New("ord-1", api, source, Hooks{
		OnReload: func() { reloads.Add(1) },
	})
	w.tick = time.Hour
	w.now = func() time.Time { return base }
	startWatcher(t, w)

	waitFor(t, func() bool { return source.subscribeCount() == 1 })

	source.emit(domain.OrderEvent{Type: domain.EventCreated, UserID: "alice", Order: paidOrder("ord-9", base)})
	waitFor(t, func() bool { return reloads.Load() >= 1 })

	// 自己正在看的订单的 created 事件不触发重载
	source.emit(domain.OrderEvent{Type: domain.EventCreated, UserID: "alice", Order: paidOrder("ord-1", base)})
	time.Sleep(50 * time.Millisecond)
	if n := reloads.Load(); n != 1 {
		t.Fatalf("expected exactly one reload, got %d", n)
	}
}
