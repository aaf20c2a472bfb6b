// internal/service/order/application/service.go
package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"brasa/internal/pkg/logger"
	"brasa/internal/service/order/domain"
	"brasa/internal/service/order/domain/port"
)

// OrderApplicationService 是订单生命周期引擎的业务编排层。
// 它是订单存储之上唯一的写入路径：门禁复核、退款协调、状态流转、
// 事件发布都从这里经过。
type OrderApplicationService struct {
	repo     domain.OrderRepository
	refunds  port.RefundService
	loyalty  port.LoyaltyService
	locker   port.OrderLocker
	producer domain.OrderEventProducer
	tracer   trace.Tracer

	refundTimeout time.Duration
	now           func() time.Time
}

func NewOrderApplicationService(
	repo domain.OrderRepository,
	refunds port.RefundService,
	loyalty port.LoyaltyService,
	locker port.OrderLocker,
	producer domain.OrderEventProducer,
	tracer trace.Tracer,
	refundTimeout time.Duration,
) *OrderApplicationService {
	return &OrderApplicationService{
		repo: repo, refunds: refunds, loyalty: loyalty,
		locker: locker, producer: producer, tracer: tracer,
		refundTimeout: refundTimeout,
		now:           time.Now,
	}
}

// Cancel 在取消窗口内取消订单并协调退款。
//
// 执行顺序是刻意的：
//  1. 拿到该订单的锁，同一订单的取消在所有实例间串行（single-flight）
//  2. 服务端重新复核门禁——不信任客户端最后看到的倒计时
//  3. 先退款。退款失败时订单保持原样，错误原样上抛，没有部分流转
//  4. 退款成功后，状态流转和退款台账在一个事务里落库
//  5. 冲回积分、发布实时事件（两者失败都不回滚取消本身）
func (s *OrderApplicationService) Cancel(ctx context.Context, userID, orderID string) (*CancelOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "app.Cancel")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.String("user.id", userID),
	)

	release, err := s.locker.Lock(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer release()

	order, err := s.loadOwned(ctx, userID, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// 门禁和状态机违规在任何外部调用之前拦截，
	// 过期/终态的订单绝不会触发一次浪费的退款请求
	if err := order.EnsureActionable(s.now()); err != nil {
		span.AddEvent("Gate check rejected cancel.")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	refundCtx, cancel := context.WithTimeout(ctx, s.refundTimeout)
	defer cancel()

	receipt, err := s.refunds.Refund(refundCtx, order)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Refund failed, order left unchanged")
		logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Msg("refund failed; no state transition applied")
		return nil, err
	}
	span.AddEvent("Refund confirmed by processor.")

	updated, err := s.repo.MarkCancelled(ctx, orderID, receipt)
	if err != nil {
		// 退款成功但流转失败是最严重的分支：记日志并上抛，
		// 台账里的幂等键保证后续重试不会产生第二笔退款
		span.RecordError(err, trace.WithAttributes(attribute.Bool("critical.error", true)))
		logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).
			Str("refund_ref", receipt.ProviderRef).
			Msg("CRITICAL: refund succeeded but state transition failed")
		return nil, err
	}

	if err := s.loyalty.ReversePoints(ctx, userID, orderID, updated.PointsEarned); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Msg("failed to reverse loyalty points")
	}

	s.publish(ctx, domain.EventUpdated, updated)

	logger.Ctx(ctx).Info().Str("order_id", orderID).Str("refund_ref", receipt.ProviderRef).Msg("order cancelled")
	return &CancelOutcome{
		OrderID:        updated.ID,
		Status:         updated.Status,
		PaymentStatus:  updated.PaymentStatus,
		RefundRef:      receipt.ProviderRef,
		SettlementDays: receipt.SettlementDays,
	}, nil
}

// RequestModification 在窗口内记录一条改单留言。和取消不同，
// 改单是通知性质的：不动条目、不动金额、不做事务性改价，
// 只留给门店员工跟进。
func (s *OrderApplicationService) RequestModification(ctx context.Context, userID, orderID, note string) (*ModificationOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "app.RequestModification")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := s.loadOwned(ctx, userID, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := order.EnsureActionable(s.now()); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	req := &domain.ModificationRequest{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		UserID:    userID,
		Note:      note,
		CreatedAt: s.now(),
	}
	if err := s.repo.AddModificationRequest(ctx, req); err != nil {
		span.RecordError(err)
		return nil, err
	}

	logger.Ctx(ctx).Info().Str("order_id", orderID).Msg("modification request recorded")
	return &ModificationOutcome{
		RequestID:  req.ID,
		OrderID:    orderID,
		ReceivedAt: req.CreatedAt,
	}, nil
}

// GetOrder 返回订单快照和服务端算好的门禁状态
func (s *OrderApplicationService) GetOrder(ctx context.Context, userID, orderID string) (*OrderView, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetOrder")
	defer span.End()

	order, err := s.loadOwned(ctx, userID, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return newOrderView(order, s.now()), nil
}

// ListOrders 返回用户的全部订单，给整体重载用
func (s *OrderApplicationService) ListOrders(ctx context.Context, userID string) ([]*OrderView, error) {
	ctx, span := s.tracer.Start(ctx, "app.ListOrders")
	defer span.End()

	orders, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	now := s.now()
	views := make([]*OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, newOrderView(o, now))
	}
	return views, nil
}

// HandlePaymentConfirmed 处理支付确认回调：支付状态流转到 succeeded，
// 取消截止时间只在第一次确认时盖上。回调重放是无操作。
func (s *OrderApplicationService) HandlePaymentConfirmed(ctx context.Context, ev *domain.PaymentConfirmed) error {
	ctx, span := s.tracer.Start(ctx, "app.HandlePaymentConfirmed")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", ev.OrderID))

	deadline := ev.ConfirmedAt.Add(domain.CancellationWindow)
	order, changed, err := s.repo.ConfirmPayment(ctx, ev.OrderID, ev.ConfirmedAt, deadline)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !changed {
		span.AddEvent("Payment confirmation replayed, no-op.")
		return nil
	}

	s.publish(ctx, domain.EventUpdated, order)
	logger.Ctx(ctx).Info().Str("order_id", ev.OrderID).
		Time("deadline", deadline).
		Msg("payment confirmed, cancellation deadline stamped")
	return nil
}

// loadOwned 加载订单并校验归属。不属于该用户的订单按不存在处理，
// 不向调用方泄露其它用户的订单ID是否有效。
func (s *OrderApplicationService) loadOwned(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderApplicationService) publish(ctx context.Context, typ domain.EventType, order *domain.Order) {
	ev := &domain.OrderEvent{
		EventID:   uuid.New().String(),
		Type:      typ,
		UserID:    order.UserID,
		Order:     order,
		EmittedAt: s.now(),
	}
	if err := s.producer.Publish(ctx, ev); err != nil {
		// 事件丢失不影响权威状态，客户端重连时会整体重新拉取
		logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("failed to publish order event")
	}
}

// IsRefundRetryable 报告一个错误是否是可重试的退款失败
func IsRefundRetryable(err error) bool {
	var refundErr *port.RefundError
	if errors.As(err, &refundErr) {
		return refundErr.Retryable
	}
	return false
}
