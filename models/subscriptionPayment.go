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

// SubscriptionPayment is a subscription renewal attempt. PeriodEnd is the
// precomputed expiry the webhook reconciler stamps onto the subscription on
// confirmation, so the renewal length is fixed when the bill is issued, not
// when it settles.
type SubscriptionPayment struct {
	ID             int             `gorm:"primary_key" json:"id"`
	RestaurantId   string          `gorm:"size:64;index;not null" json:"restaurant_id"`
	SubscriptionId int             `gorm:"index;not null" json:"subscription_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Method         PaymentMethod   `gorm:"size:20;not null" json:"method"`
	Status         PaymentStatus   `gorm:"size:20;not null;default:pending;index" json:"status"`
	TransactionId  string          `gorm:"size:191;index" json:"transaction_id"`
	PeriodEnd      time.Time       `gorm:"not null" json:"period_end"`
	FailureReason  *string         `gorm:"type:text" json:"failure_reason,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	ValidatedAt    *time.Time      `json:"validated_at,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *SubscriptionPayment) GatewayReference() string {
	return fmt.Sprintf("subscription:%d", p.ID)
}

type NewSubscriptionPayment struct {
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	Method        PaymentMethod   `json:"method" binding:"required"`
	TransactionId string          `json:"transaction_id"`
	PeriodMonths  int             `json:"period_months"`
}

// InitiateSubscriptionPayment issues a renewal bill. Like order payments, a
// pending row is reused rather than duplicated.
func InitiateSubscriptionPayment(ctx context.Context, input *NewSubscriptionPayment) (*SubscriptionPayment, error) {
	db := config.GetDB()

	restaurantId, ok := utils.GetRestaurantIdFromContext(ctx)
	if !ok || restaurantId == "" {
		return nil, errors.New("restaurant id is required")
	}

	sub, err := GetSubscription(ctx, restaurantId)
	if err != nil {
		return nil, err
	}

	months := input.PeriodMonths
	if months <= 0 {
		months = 1
	}
	periodEnd := time.Now().UTC().AddDate(0, months, 0)

	var payment SubscriptionPayment
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("restaurant_id = ? AND subscription_id = ? AND status = ?",
			restaurantId, sub.ID, PaymentStatusPending).
			First(&payment).Error
		switch {
		case err == nil:
			return tx.Model(&SubscriptionPayment{}).Where("id = ?", payment.ID).Updates(map[string]interface{}{
				"amount":         input.Amount,
				"method":         input.Method,
				"transaction_id": input.TransactionId,
				"period_end":     periodEnd,
			}).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			payment = SubscriptionPayment{
				RestaurantId:   restaurantId,
				SubscriptionId: sub.ID,
				Amount:         input.Amount,
				Method:         input.Method,
				Status:         PaymentStatusPending,
				TransactionId:  input.TransactionId,
				PeriodEnd:      periodEnd,
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
