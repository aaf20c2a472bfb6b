// internal/service/order/infrastructure/mapper.go
package infrastructure

import (
	"sort"

	"brasa/internal/service/order/domain"
)

// ToDomainOrder 将数据库模型转换为领域模型。
// 后端形状的数据不越过这一层。
func ToDomainOrder(m *OrderModel) *domain.Order {
	items := make([]domain.LineItem, 0, len(m.Items))
	sorted := make([]OrderItemModel, len(m.Items))
	copy(sorted, m.Items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })
	for _, it := range sorted {
		items = append(items, domain.LineItem{
			ID:        it.ID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		})
	}

	return &domain.Order{
		ID:                   m.ID,
		OrderNumber:          m.OrderNumber,
		UserID:               m.UserID,
		Items:                items,
		Total:                m.Total,
		PointsEarned:         m.PointsEarned,
		Status:               m.Status,
		PaymentStatus:        m.PaymentStatus,
		CancellationDeadline: m.CancellationDeadline,
		DeliveryAddress:      m.DeliveryAddress,
		PickupNotes:          m.PickupNotes,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func toDomainModification(m *ModificationRequestModel) *domain.ModificationRequest {
	return &domain.ModificationRequest{
		ID:        m.ID,
		OrderID:   m.OrderID,
		UserID:    m.UserID,
		Note:      m.Note,
		CreatedAt: m.CreatedAt,
	}
}
