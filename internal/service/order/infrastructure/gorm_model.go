// internal/service/order/infrastructure/gorm_model.go
package infrastructure

import (
	"time"

	"brasa/internal/service/order/domain"
)

// OrderModel 对应数据库中的 orders 表
type OrderModel struct {
	ID           string  `gorm:"primaryKey;size:36"`
	OrderNumber  int64   `gorm:"autoIncrement;uniqueIndex"`
	UserID       string  `gorm:"size:36;index"`
	Total        float64 `gorm:"type:decimal(10,2)"`
	PointsEarned int

	Status        domain.Status        `gorm:"size:16;index"`
	PaymentStatus domain.PaymentStatus `gorm:"size:16"`

	// 只由支付确认回调写入一次
	CancellationDeadline *time.Time

	DeliveryAddress string `gorm:"type:text"`
	PickupNotes     string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Items []OrderItemModel `gorm:"foreignKey:OrderID"`
}

func (OrderModel) TableName() string { return "orders" }

// OrderItemModel 对应 order_items 表。订单被接单后条目不可变。
type OrderItemModel struct {
	ID        string  `gorm:"primaryKey;size:36"`
	OrderID   string  `gorm:"size:36;index"`
	Name      string  `gorm:"size:128"`
	UnitPrice float64 `gorm:"type:decimal(10,2)"`
	Quantity  int
	Position  int // 保持条目的展示顺序
}

func (OrderItemModel) TableName() string { return "order_items" }

// RefundModel 对应 order_refunds 表。order_id 上的唯一索引既是
// 幂等机制（同一订单绝不产生两条退款记录），也是审计台账。
type RefundModel struct {
	ID             uint    `gorm:"primaryKey;autoIncrement"`
	OrderID        string  `gorm:"size:36;uniqueIndex"`
	ProviderRef    string  `gorm:"size:64"`
	Amount         float64 `gorm:"type:decimal(10,2)"`
	SettlementDays int
	RefundedAt     time.Time
	CreatedAt      time.Time
}

func (RefundModel) TableName() string { return "order_refunds" }

// ModificationRequestModel 对应 order_modification_requests 表
type ModificationRequestModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	OrderID   string `gorm:"size:36;index"`
	UserID    string `gorm:"size:36"`
	Note      string `gorm:"type:text"`
	CreatedAt time.Time
}

func (ModificationRequestModel) TableName() string { return "order_modification_requests" }
