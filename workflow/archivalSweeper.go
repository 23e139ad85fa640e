package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	archivalAgeDays   = 90
	archivalBatchSize = 100
)

// ArchivalSweeper flags old terminal-state orders as archived so the live
// order queries stay small. Batches bound transaction and lock size; a
// crash mid-run leaves earlier batches archived and the next run picks up
// the remainder.
type ArchivalSweeper struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

type RestaurantArchivalSummary struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type ArchivalSweepResult struct {
	Archived      int                                  `json:"archived"`
	Batches       int                                  `json:"batches"`
	PerRestaurant map[string]RestaurantArchivalSummary `json:"per_restaurant,omitempty"`
}

type archivalCandidate struct {
	ID           int
	RestaurantId string
	TotalAmount  decimal.Decimal
}

func (s *ArchivalSweeper) Run(ctx context.Context) (*ArchivalSweepResult, error) {
	ctx = sweepContext(ctx)
	db := s.DB.WithContext(ctx)
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -archivalAgeDays)

	result := &ArchivalSweepResult{PerRestaurant: map[string]RestaurantArchivalSummary{}}
	for {
		var batch []archivalCandidate
		err := db.Model(&models.Order{}).
			Select("id, restaurant_id, total_amount").
			Where("status IN (?) AND is_archived = ? AND updated_at < ?",
				[]models.OrderStatus{models.OrderStatusDelivered, models.OrderStatusCancelled}, false, cutoff).
			Order("id ASC").
			Limit(archivalBatchSize).
			Scan(&batch).Error
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		ids := make([]int, 0, len(batch))
		for _, o := range batch {
			ids = append(ids, o.ID)
		}
		// updated_at moves to the archival time, which also keeps this batch
		// out of the next iteration's candidate set.
		if err := db.Model(&models.Order{}).Where("id IN (?)", ids).
			Updates(map[string]interface{}{
				"is_archived": true,
				"updated_at":  now,
			}).Error; err != nil {
			return nil, err
		}

		for _, o := range batch {
			summary := result.PerRestaurant[o.RestaurantId]
			summary.Count++
			summary.Amount = summary.Amount.Add(o.TotalAmount)
			result.PerRestaurant[o.RestaurantId] = summary
		}
		result.Archived += len(batch)
		result.Batches++
		if len(batch) < archivalBatchSize {
			break
		}
	}

	if result.Archived == 0 {
		return result, nil
	}
	if err := models.WriteSystemLog(db, nil, models.LogLevelInfo, "order_archival", result); err != nil {
		s.Logger.WithFields(logrus.Fields{
			"module":   "workflow",
			"funcName": "ArchivalSweeper.Run",
			"archived": result.Archived,
		}).Warn("failed to write archival audit entry: " + err.Error())
	}
	return result, nil
}
