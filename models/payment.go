package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Payment is an order-scoped payment attempt. At most one pending payment
// awaits confirmation per order at a time; a new attempt reuses the pending
// row. Rows reach a terminal status exactly once (the webhook reconciler)
// and are never deleted.
type Payment struct {
	ID            int             `gorm:"primary_key" json:"id"`
	RestaurantId  string          `gorm:"size:64;index;not null" json:"restaurant_id"`
	OrderId       int             `gorm:"index;not null" json:"order_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Method        PaymentMethod   `gorm:"size:20;not null" json:"method"`
	Status        PaymentStatus   `gorm:"size:20;not null;default:pending;index" json:"status"`
	TransactionId string          `gorm:"size:191;index" json:"transaction_id"`
	FailureReason *string         `gorm:"type:text" json:"failure_reason,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// GatewayReference is the tagged reference handed to the payment gateway so
// the webhook callback resolves in one lookup instead of trying payment
// tables in sequence.
func (p *Payment) GatewayReference() string {
	return fmt.Sprintf("order:%d", p.ID)
}

type NewPayment struct {
	OrderId       int           `json:"order_id" binding:"required" validate:"required"`
	Method        PaymentMethod `json:"method" binding:"required"`
	TransactionId string        `json:"transaction_id"`
}

// InitiatePayment starts (or restarts) payment collection for an order.
// An existing pending payment is superseded in place rather than duplicated,
// preserving the one-pending-per-order invariant.
func InitiatePayment(ctx context.Context, input *NewPayment) (*Payment, error) {
	db := config.GetDB()

	restaurantId, ok := utils.GetRestaurantIdFromContext(ctx)
	if !ok || restaurantId == "" {
		return nil, errors.New("restaurant id is required")
	}

	order, err := GetOrder(ctx, input.OrderId)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, fmt.Errorf("order %s is %s; cannot take payment", order.OrderNumber, order.Status)
	}

	var payment Payment
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("restaurant_id = ? AND order_id = ? AND status = ?",
			restaurantId, order.ID, PaymentStatusPending).
			First(&payment).Error
		switch {
		case err == nil:
			payment.Amount = order.TotalAmount
			payment.Method = input.Method
			payment.TransactionId = input.TransactionId
			return tx.Model(&Payment{}).Where("id = ?", payment.ID).Updates(map[string]interface{}{
				"amount":         order.TotalAmount,
				"method":         input.Method,
				"transaction_id": input.TransactionId,
			}).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			payment = Payment{
				RestaurantId:  restaurantId,
				OrderId:       order.ID,
				Amount:        order.TotalAmount,
				Method:        input.Method,
				Status:        PaymentStatusPending,
				TransactionId: input.TransactionId,
			}
			return tx.Create(&payment).Error
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// SettleCashPayment records an in-person cash settlement at the POS and
// moves the order into preparing through the normal state machine.
func SettleCashPayment(ctx context.Context, orderId int) (*Payment, error) {
	db := config.GetDB()

	restaurantId, ok := utils.GetRestaurantIdFromContext(ctx)
	if !ok || restaurantId == "" {
		return nil, errors.New("restaurant id is required")
	}

	var payment Payment
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("restaurant_id = ? AND order_id = ? AND status = ?",
			restaurantId, orderId, PaymentStatusPending).
			First(&payment).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrPaymentNotFound
			}
			return err
		}
		now := time.Now().UTC()
		if err := tx.Model(&Payment{}).Where("id = ?", payment.ID).Updates(map[string]interface{}{
			"status":  PaymentStatusPaid,
			"method":  PaymentMethodCash,
			"paid_at": &now,
		}).Error; err != nil {
			return err
		}
		payment.Status = PaymentStatusPaid
		payment.Method = PaymentMethodCash
		payment.PaidAt = &now

		_, err = SetOrderStatusTx(ctx, tx, orderId, OrderStatusPreparing, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
