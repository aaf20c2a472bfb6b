package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"brasa/internal/service/order/domain"
	"brasa/internal/service/order/domain/port"
	"brasa/internal/service/order/infrastructure"
)

var testBase = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// ---- fakes ----

// memRepo 模拟订单存储的受保护流转语义：守护式 UPDATE + 退款台账幂等
type memRepo struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	refund map[string]*domain.RefundReceipt
	mods   map[string][]*domain.ModificationRequest
}

func newMemRepo(orders ...*domain.Order) *memRepo {
	r := &memRepo{
		orders: make(map[string]*domain.Order),
		refund: make(map[string]*domain.RefundReceipt),
		mods:   make(map[string][]*domain.ModificationRequest),
	}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
}

func (r *memRepo) snapshot(o *domain.Order) *domain.Order {
	cp := *o
	if o.CancellationDeadline != nil {
		d := *o.CancellationDeadline
		cp.CancellationDeadline = &d
	}
	return &cp
}

func (r *memRepo) FindByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return r.snapshot(o), nil
}

func (r *memRepo) FindByUser(_ context.Context, userID string) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, r.snapshot(o))
		}
	}
	return out, nil
}

func (r *memRepo) ConfirmPayment(_ context.Context, orderID string, confirmedAt, deadline time.Time) (*domain.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, false, domain.ErrOrderNotFound
	}
	if o.PaymentStatus == domain.PaymentSucceeded {
		return r.snapshot(o), false, nil
	}
	o.PaymentStatus = domain.PaymentSucceeded
	if o.CancellationDeadline == nil {
		d := deadline
		o.CancellationDeadline = &d
	}
	o.UpdatedAt = confirmedAt
	return r.snapshot(o), true, nil
}

func (r *memRepo) MarkCancelled(_ context.Context, orderID string, receipt *domain.RefundReceipt) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if _, dup := r.refund[orderID]; dup {
		return nil, domain.ErrAlreadyTerminal
	}
	if o.Status.IsTerminal() {
		return nil, domain.ErrAlreadyTerminal
	}
	if o.PaymentStatus != domain.PaymentSucceeded ||
		(o.Status != domain.StatusPending && o.Status != domain.StatusPreparing) {
		return nil, domain.ErrWindowExpired
	}
	o.Status = domain.StatusCancelled
	o.PaymentStatus = domain.PaymentCanceled
	r.refund[orderID] = receipt
	return r.snapshot(o), nil
}

func (r *memRepo) AddModificationRequest(_ context.Context, req *domain.ModificationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mods[req.OrderID] = append(r.mods[req.OrderID], req)
	return nil
}

func (r *memRepo) ModificationRequests(_ context.Context, orderID string) ([]*domain.ModificationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mods[orderID], nil
}

type fakeRefund struct {
	mu    sync.Mutex
	calls int
	errs  []error // 依次返回，用完之后全部成功
}

func (f *fakeRefund) Refund(_ context.Context, order *domain.Order) (*domain.RefundReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &domain.RefundReceipt{
		ProviderRef:    fmt.Sprintf("re_%s_%d", order.ID, f.calls),
		Amount:         order.Total,
		SettlementDays: 5,
		RefundedAt:     testBase,
	}, nil
}

func (f *fakeRefund) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLoyalty struct {
	mu       sync.Mutex
	reversed map[string]int
}

func (f *fakeLoyalty) ReversePoints(_ context.Context, _, orderID string, points int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reversed == nil {
		f.reversed = make(map[string]int)
	}
	f.reversed[orderID] += points
	return nil
}

type fakeProducer struct {
	mu     sync.Mutex
	events []*domain.OrderEvent
}

func (f *fakeProducer) Publish(_ context.Context, ev *domain.OrderEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

// ---- helpers ----

func confirmedOrder(id, userID string) *domain.Order {
	deadline := testBase.Add(domain.CancellationWindow)
	return &domain.Order{
		ID:                   id,
		OrderNumber:          7,
		UserID:               userID,
		Items:                []domain.LineItem{{ID: "i-1", Name: "moqueca", UnitPrice: 24, Quantity: 1}},
		Total:                24,
		PointsEarned:         24,
		Status:               domain.StatusPending,
		PaymentStatus:        domain.PaymentSucceeded,
		CancellationDeadline: &deadline,
	}
}

func newService(repo *memRepo, refunds *fakeRefund, producer *fakeProducer, at time.Time) (*OrderApplicationService, *fakeLoyalty) {
	loyalty := &fakeLoyalty{}
	svc := NewOrderApplicationService(
		repo, refunds, loyalty,
		infrastructure.NewMemLocker(),
		producer,
		otel.Tracer("test"),
		time.Second,
	)
	svc.now = func() time.Time { return at }
	return svc, loyalty
}

// ---- tests ----

func TestCancel_InsideWindow(t *testing.T) {
	t.Parallel()

	repo := newMemRepo(confirmedOrder("o-1", "u-1"))
	refunds := &fakeRefund{}
	producer := &fakeProducer{}
	svc, loyalty := newService(repo, refunds, producer, testBase.Add(4*time.Minute+59*time.Second))

	out, err := svc.Cancel(context.Background(), "u-1", "o-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != domain.StatusCancelled || out.PaymentStatus != domain.PaymentCanceled {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.SettlementDays != 5 {
		t.Fatalf("expected settlement estimate in outcome, got %+v", out)
	}

	// 回读确认联合流转已落库，门禁永久关闭
	fresh, _ := repo.FindByID(context.Background(), "o-1")
	if fresh.Status != domain.StatusCancelled || fresh.PaymentStatus != domain.PaymentCanceled {
		t.Fatalf("store not transitioned: %s/%s", fresh.Status, fresh.PaymentStatus)
	}
	if g := fresh.Gate(testBase); g.CanAct {
		t.Fatal("gate must report canAct=false after cancel")
	}

	if loyalty.reversed["o-1"] != 24 {
		t.Fatalf("expected 24 points reversed, got %d", loyalty.reversed["o-1"])
	}
	if len(producer.events) != 1 || producer.events[0].Type != domain.EventUpdated {
		t.Fatalf("expected one updated event, got %+v", producer.events)
	}
}

func TestCancel_WindowExpired(t *testing.T) {
	t.Parallel()

	repo := newMemRepo(confirmedOrder("o-1", "u-1"))
	refunds := &fakeRefund{}
	svc, _ := newService(repo, refunds, &fakeProducer{}, testBase.Add(5*time.Minute+time.Second))

	_, err := svc.Cancel(context.Background(), "u-1", "o-1")
	if !errors.Is(err, domain.ErrWindowExpired) {
		t.Fatalf("expected ErrWindowExpired, got %v", err)
	}
	// 门禁拦截发生在任何外部调用之前
	if refunds.callCount() != 0 {
		t.Fatalf("refund must not be attempted outside window, got %d calls", refunds.callCount())
	}
}

func TestCancel_SecondAttemptIsAlreadyTerminal(t *testing.T) {
	t.Parallel()

	repo := newMemRepo(confirmedOrder("o-1", "u-1"))
	refunds := &fakeRefund{}
	svc, _ := newService(repo, refunds, &fakeProducer{}, testBase.Add(time.Minute))

	if _, err := svc.Cancel(context.Background(), "u-1", "o-1"); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	_, err := svc.Cancel(context.Background(), "u-1", "o-1")
	if !errors.Is(err, domain.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal on second cancel, got %v", err)
	}
	if refunds.callCount() != 1 {
		t.Fatalf("expected exactly one refund, got %d", refunds.callCount())
	}
}

// Scenario C: 退款返回可重试错误时订单保持原样，窗口内重试成功。
func TestCancel_RetryableRefundFailureLeavesOrderUnchanged(t *testing.T) {
	t.Parallel()

	repo := newMemRepo(confirmedOrder("o-1", "u-1"))
	refunds := &fakeRefund{errs: []error{
		&port.RefundError{Retryable: true, Err: errors.New("processor timeout")},
	}}
	svc, _ := newService(repo, refunds, &fakeProducer{}, testBase.Add(time.Minute))

	_, err := svc.Cancel(context.Background(), "u-1", "o-1")
	if err == nil || !IsRefundRetryable(err) {
		t.Fatalf("expected retryable refund error, got %v", err)
	}

	fresh, _ := repo.FindByID(context.Background(), "o-1")
	if fresh.Status != domain.StatusPending || fresh.PaymentStatus != domain.PaymentSucceeded {
		t.Fatalf("order mutated on refund failure: %s/%s", fresh.Status, fresh.PaymentStatus)
	}

	// 重试
	out, err := svc.Cancel(context.Background(), "u-1", "o-1")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if out.Status != domain.StatusCancelled {
		t.Fatalf("unexpected outcome after retry: %+v", out)
	}
}

func TestCancel_TerminalRefundErrorIsNotRetryable(t *testing.T) {
	t.Parallel()

	repo := newMemRepo(confirmedOrder("o-1", "u-1"))
	refunds := &fakeRefund{errs: []error{
		&port.RefundError{Retryable: false, Err: errors.New("reversal rejected")},
	}}
	svc, _ := newService(repo, refunds, &fakeProducer{}, testBase.Add(time.Minute))

	_, err := svc.Cancel(context.Background(), "u-1", "o-1")
	if err == nil || IsRefundRetryable(err) {
		t.Fatalf("expected terminal refund error, got %v", err)
	}
}

// Scenario D: 两个客户端同时取消同一订单，恰好一个成功，
// 另一个收到 AlreadyTerminal，退款只发起一次。
func TestCancel_ConcurrentClientsSingleRefund(t *testing.T) {
	t.Parallel()

	repo := newMemRepo(confirmedOrder("o-1", "u-1"))
	refunds := &fakeRefund{}
	svc, _ := newService(repo, refunds, &fakeProducer{}, testBase.Add(time.Minute))

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Cancel(context.Background(), "u-1", "o-1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var successes, terminal int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, domain.ErrAlreadyTerminal):
			terminal++
		default:
			t.Fatalf("unexpected error kind: %v", err)
		}
	}
	if successes != 1 || terminal != 1 {
		t.Fatalf("expected exactly one success and one AlreadyTerminal, got %d/%d", successes, terminal)
	}
	if refunds.callCount() != 1 {
		t.Fatalf("refund coordinator invoked %d times, want 1", refunds.callCount())
	}
}

func TestCancel_ForeignOrderLooksNotFound(t *testing.T) {
	t.Parallel()

	repo := newMemRepo(confirmedOrder("o-1", "u-1"))
	svc, _ := newService(repo, &fakeRefund{}, &fakeProducer{}, testBase.Add(time.Minute))

	_, err := svc.Cancel(context.Background(), "u-2", "o-1")
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for foreign order, got %v", err)
	}
}

func TestRequestModification_GateChecked(t *testing.T) {
	t.Parallel()

	repo := newMemRepo(confirmedOrder("o-1", "u-1"))
	svc, _ := newService(repo, &fakeRefund{}, &fakeProducer{}, testBase.Add(time.Minute))

	out, err := svc.RequestModification(context.Background(), "u-1", "o-1", "no onions please")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.RequestID == "" {
		t.Fatal("expected a request id")
	}

	// 订单本身不被改单触碰
	fresh, _ := repo.FindByID(context.Background(), "o-1")
	if fresh.Total != 24 || len(fresh.Items) != 1 {
		t.Fatalf("modification must not touch items/total: %+v", fresh)
	}

	mods, _ := repo.ModificationRequests(context.Background(), "o-1")
	if len(mods) != 1 || mods[0].Note != "no onions please" {
		t.Fatalf("expected recorded note, got %+v", mods)
	}
}

func TestRequestModification_OutsideWindow(t *testing.T) {
	t.Parallel()

	repo := newMemRepo(confirmedOrder("o-1", "u-1"))
	svc, _ := newService(repo, &fakeRefund{}, &fakeProducer{}, testBase.Add(6*time.Minute))

	_, err := svc.RequestModification(context.Background(), "u-1", "o-1", "extra rice")
	if !errors.Is(err, domain.ErrWindowExpired) {
		t.Fatalf("expected ErrWindowExpired, got %v", err)
	}
}

func TestHandlePaymentConfirmed_StampsDeadlineAndPublishes(t *testing.T) {
	t.Parallel()

	o := confirmedOrder("o-1", "u-1")
	o.PaymentStatus = domain.PaymentPending
	o.CancellationDeadline = nil
	repo := newMemRepo(o)
	producer := &fakeProducer{}
	svc, _ := newService(repo, &fakeRefund{}, producer, testBase)

	ev := &domain.PaymentConfirmed{OrderID: "o-1", ConfirmedAt: testBase}
	if err := svc.HandlePaymentConfirmed(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fresh, _ := repo.FindByID(context.Background(), "o-1")
	want := testBase.Add(domain.CancellationWindow)
	if fresh.CancellationDeadline == nil || !fresh.CancellationDeadline.Equal(want) {
		t.Fatalf("expected deadline %v, got %v", want, fresh.CancellationDeadline)
	}
	if len(producer.events) != 1 {
		t.Fatalf("expected one event, got %d", len(producer.events))
	}

	// 回调重放：不发布第二个事件
	if err := svc.HandlePaymentConfirmed(context.Background(), ev); err != nil {
		t.Fatalf("replay errored: %v", err)
	}
	if len(producer.events) != 1 {
		t.Fatalf("replay must not publish, got %d events", len(producer.events))
	}
}

func TestGetOrder_IncludesGateState(t *testing.T) {
	t.Parallel()

	repo := newMemRepo(confirmedOrder("o-1", "u-1"))
	svc, _ := newService(repo, &fakeRefund{}, &fakeProducer{}, testBase.Add(4*time.Minute))

	view, err := svc.GetOrder(context.Background(), "u-1", "o-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !view.CanAct {
		t.Fatal("expected canAct=true inside window")
	}
	if view.RemainingMS != (time.Minute).Milliseconds() {
		t.Fatalf("expected 60000ms remaining, got %d", view.RemainingMS)
	}
}
