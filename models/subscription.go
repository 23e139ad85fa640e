package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"gorm.io/gorm"
)

const trialDays = 14

// Subscription tracks a restaurant's billing state. Invariant: status is
// expired iff the relevant deadline (trial_ends_at for trial,
// current_period_end for active) has passed; the hourly expiry sweep
// enforces it, the suspension sweep turns lapsed tenants off.
type Subscription struct {
	ID                 int                `gorm:"primary_key" json:"id"`
	RestaurantId       string             `gorm:"size:64;uniqueIndex;not null" json:"restaurant_id"`
	Plan               SubscriptionPlan   `gorm:"size:20;not null" json:"plan"`
	Status             SubscriptionStatus `gorm:"size:20;not null;index" json:"status"`
	TrialEndsAt        *time.Time         `json:"trial_ends_at,omitempty"`
	CurrentPeriodStart *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end,omitempty"`
	CreatedAt          time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

func StartTrial(ctx context.Context, restaurantId string, plan SubscriptionPlan) (*Subscription, error) {
	db := config.GetDB()
	var sub *Subscription
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sub, err = startTrialTx(tx, restaurantId, plan)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func startTrialTx(tx *gorm.DB, restaurantId string, plan SubscriptionPlan) (*Subscription, error) {
	trialEnd := time.Now().UTC().AddDate(0, 0, trialDays)
	sub := Subscription{
		RestaurantId: restaurantId,
		Plan:         plan,
		Status:       SubscriptionStatusTrial,
		TrialEndsAt:  &trialEnd,
	}
	if err := tx.Create(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func GetSubscription(ctx context.Context, restaurantId string) (*Subscription, error) {
	db := config.GetDB()
	var sub Subscription
	if err := db.WithContext(ctx).Where("restaurant_id = ?", restaurantId).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &sub, nil
}
