package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/resto_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StockSweeper repairs drift between Product.IsAvailable and the on-hand
// quantity of stock-tracked products. Divergence is a bug signal, not a
// normal state: the order flow disables a product when its stock hits zero
// in the same transaction, so anything this sweep finds escaped that path.
type StockSweeper struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

type StockSweepResult struct {
	Disabled int `json:"disabled"`
	Enabled  int `json:"enabled"`
}

type inconsistentProduct struct {
	ID           int
	RestaurantId string
	Quantity     decimal.Decimal
}

func (s *StockSweeper) Run(ctx context.Context) (*StockSweepResult, error) {
	ctx = sweepContext(ctx)
	db := s.DB.WithContext(ctx)

	var toDisable, toEnable []inconsistentProduct
	err := db.Table("products").
		Select("products.id, products.restaurant_id, stocks.quantity").
		Joins("JOIN stocks ON stocks.product_id = products.id").
		Where("products.has_stock = ? AND products.is_available = ? AND stocks.quantity <= 0", true, true).
		Scan(&toDisable).Error
	if err != nil {
		return nil, err
	}
	err = db.Table("products").
		Select("products.id, products.restaurant_id, stocks.quantity").
		Joins("JOIN stocks ON stocks.product_id = products.id").
		Where("products.has_stock = ? AND products.is_available = ? AND stocks.quantity > 0", true, false).
		Scan(&toEnable).Error
	if err != nil {
		return nil, err
	}

	result := &StockSweepResult{Disabled: len(toDisable), Enabled: len(toEnable)}
	if len(toDisable) == 0 && len(toEnable) == 0 {
		return result, nil
	}

	if err := s.apply(ctx, toDisable, false); err != nil {
		return nil, err
	}
	if err := s.apply(ctx, toEnable, true); err != nil {
		return nil, err
	}
	return result, nil
}

// apply flips one group in a single bulk statement, then logs one audit
// entry per corrected product. The write precedes the logs so a log failure
// never masks a completed correction.
func (s *StockSweeper) apply(ctx context.Context, group []inconsistentProduct, available bool) error {
	if len(group) == 0 {
		return nil
	}
	ids := make([]int, 0, len(group))
	for _, p := range group {
		ids = append(ids, p.ID)
	}
	db := s.DB.WithContext(ctx)
	if err := db.Model(&models.Product{}).Where("id IN (?)", ids).
		Update("is_available", available).Error; err != nil {
		return err
	}

	action := "disabled"
	if available {
		action = "enabled"
	}
	for _, p := range group {
		restaurantId := p.RestaurantId
		if err := models.WriteSystemLog(db, &restaurantId, models.LogLevelWarning, "stock_consistency", map[string]interface{}{
			"product_id": p.ID,
			"action":     action,
			"quantity":   p.Quantity,
		}); err != nil {
			s.Logger.WithFields(logrus.Fields{
				"module":    "workflow",
				"funcName":  "StockSweeper.apply",
				"productId": p.ID,
			}).Warn("failed to write stock audit entry: " + err.Error())
		}
	}
	return nil
}
