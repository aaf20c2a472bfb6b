// internal/service/order/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"brasa/internal/service/order/domain"
)

// GormOrderRepository 是 domain.OrderRepository 的 MySQL 实现
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return ToDomainOrder(&model), nil
}

func (r *GormOrderRepository) FindByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).Preload("Items").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	orders := make([]*domain.Order, 0, len(models))
	for i := range models {
		orders = append(orders, ToDomainOrder(&models[i]))
	}
	return orders, nil
}

// ConfirmPayment 用一条受保护的 UPDATE 完成支付确认：
// 只有 pending/processing 的订单会被流转，截止时间通过 COALESCE
// 保证只写入一次。命中 0 行时重新读取并区分"回调重放"和真正的错误。
func (r *GormOrderRepository) ConfirmPayment(ctx context.Context, orderID string, confirmedAt, deadline time.Time) (*domain.Order, bool, error) {
	res := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ? AND payment_status IN ?", orderID,
			[]domain.PaymentStatus{domain.PaymentPending, domain.PaymentProcessing}).
		Updates(map[string]interface{}{
			"payment_status":        domain.PaymentSucceeded,
			"cancellation_deadline": gorm.Expr("COALESCE(cancellation_deadline, ?)", deadline),
			"updated_at":            confirmedAt,
		})
	if res.Error != nil {
		return nil, false, res.Error
	}

	order, err := r.FindByID(ctx, orderID)
	if err != nil {
		return nil, false, err
	}

	if res.RowsAffected == 0 {
		if order.Status == domain.StatusCancelled {
			return nil, false, domain.ErrAlreadyTerminal
		}
		if order.PaymentStatus == domain.PaymentSucceeded {
			// 网关重放了回调，无操作
			return order, false, nil
		}
		return nil, false, domain.ErrInvalidTransition
	}
	return order, true, nil
}

// MarkCancelled 在一个事务里完成联合流转和退款台账写入。
// 外部观察不到"退款已记录但状态未流转"（或反过来）的中间状态。
func (r *GormOrderRepository) MarkCancelled(ctx context.Context, orderID string, receipt *domain.RefundReceipt) (*domain.Order, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&OrderModel{}).
			Where("id = ? AND payment_status = ? AND status IN ?",
				orderID, domain.PaymentSucceeded,
				[]domain.Status{domain.StatusPending, domain.StatusPreparing}).
			Updates(map[string]interface{}{
				"status":         domain.StatusCancelled,
				"payment_status": domain.PaymentCanceled,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.classifyCancelFailure(tx, orderID)
		}

		record := RefundModel{
			OrderID:        orderID,
			ProviderRef:    receipt.ProviderRef,
			Amount:         receipt.Amount,
			SettlementDays: receipt.SettlementDays,
			RefundedAt:     receipt.RefundedAt,
		}
		if err := tx.Create(&record).Error; err != nil {
			// 唯一索引命中说明这个订单已经退过款
			if isDuplicateEntry(err) {
				return domain.ErrAlreadyTerminal
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, orderID)
}

// classifyCancelFailure 在守护式 UPDATE 没有命中任何行时，
// 持行锁重新读取并给出确切的拒绝原因。
func (r *GormOrderRepository) classifyCancelFailure(tx *gorm.DB, orderID string) error {
	var model OrderModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrOrderNotFound
		}
		return err
	}
	if model.Status.IsTerminal() {
		return domain.ErrAlreadyTerminal
	}
	return domain.ErrWindowExpired
}

func (r *GormOrderRepository) AddModificationRequest(ctx context.Context, req *domain.ModificationRequest) error {
	model := ModificationRequestModel{
		ID:        req.ID,
		OrderID:   req.OrderID,
		UserID:    req.UserID,
		Note:      req.Note,
		CreatedAt: req.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *GormOrderRepository) ModificationRequests(ctx context.Context, orderID string) ([]*domain.ModificationRequest, error) {
	var models []ModificationRequestModel
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.ModificationRequest, 0, len(models))
	for i := range models {
		out = append(out, toDomainModification(&models[i]))
	}
	return out, nil
}

// isDuplicateEntry 识别 MySQL 的 1062 (duplicate entry) 错误
func isDuplicateEntry(err error) bool {
	var mysqlErr *gomysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
