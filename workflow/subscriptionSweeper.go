package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SubscriptionSweeper holds the two scheduled subscription jobs. Expiry and
// suspension are deliberately separate sweeps so the suspension policy can
// change (grace periods, dunning emails) without touching expiry detection.
type SubscriptionSweeper struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

type ExpirySweepResult struct {
	Expired int `json:"expired"`
}

type SuspensionSweepResult struct {
	Suspended int `json:"suspended"`
}

// RunExpiry marks lapsed subscriptions expired: trials whose trial_ends_at
// has passed and active periods whose current_period_end has passed, in one
// bulk statement.
func (s *SubscriptionSweeper) RunExpiry(ctx context.Context) (*ExpirySweepResult, error) {
	ctx = sweepContext(ctx)
	db := s.DB.WithContext(ctx)
	now := time.Now().UTC()

	var ids []int
	err := db.Model(&models.Subscription{}).
		Where("(status = ? AND trial_ends_at < ?) OR (status = ? AND current_period_end < ?)",
			models.SubscriptionStatusTrial, now, models.SubscriptionStatusActive, now).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return &ExpirySweepResult{}, nil
	}

	if err := db.Model(&models.Subscription{}).Where("id IN (?)", ids).
		Update("status", models.SubscriptionStatusExpired).Error; err != nil {
		return nil, err
	}
	return &ExpirySweepResult{Expired: len(ids)}, nil
}

// RunSuspension deactivates restaurants whose subscription is expired but
// that are still live, logging one warning per suspended restaurant. A
// restaurant already inactive is not touched and not re-logged.
func (s *SubscriptionSweeper) RunSuspension(ctx context.Context) (*SuspensionSweepResult, error) {
	ctx = sweepContext(ctx)
	db := s.DB.WithContext(ctx)

	var restaurantIds []string
	err := db.Table("subscriptions").
		Select("restaurants.id").
		Joins("JOIN restaurants ON restaurants.id = subscriptions.restaurant_id").
		Where("subscriptions.status = ? AND restaurants.is_active = ?", models.SubscriptionStatusExpired, true).
		Scan(&restaurantIds).Error
	if err != nil {
		return nil, err
	}
	if len(restaurantIds) == 0 {
		return &SuspensionSweepResult{}, nil
	}

	if err := db.Model(&models.Restaurant{}).Where("id IN (?)", restaurantIds).
		Update("is_active", false).Error; err != nil {
		return nil, err
	}

	for _, restaurantId := range restaurantIds {
		rid := restaurantId
		if err := models.WriteSystemLog(db, &rid, models.LogLevelWarning, "restaurant_suspended", map[string]interface{}{
			"restaurant_id": restaurantId,
			"reason":        "subscription expired",
		}); err != nil {
			s.Logger.WithFields(logrus.Fields{
				"module":       "workflow",
				"funcName":     "SubscriptionSweeper.RunSuspension",
				"restaurantId": restaurantId,
			}).Warn("failed to write suspension audit entry: " + err.Error())
		}
	}
	return &SuspensionSweepResult{Suspended: len(restaurantIds)}, nil
}
