package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DiningTable is a physical table. Its QR slug is what the printed QR code
// encodes; scanning it opens the menu and lets the guest submit a cart
// without authenticating.
type DiningTable struct {
	ID           int       `gorm:"primary_key" json:"id"`
	RestaurantId string    `gorm:"size:64;index;not null" json:"restaurant_id"`
	Number       string    `gorm:"size:20;not null" json:"number"`
	Seats        int       `json:"seats"`
	QRSlug       string    `gorm:"uniqueIndex;size:64;not null" json:"qr_slug"`
	IsActive     *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewDiningTable struct {
	Number string `json:"number" binding:"required" validate:"required"`
	Seats  int    `json:"seats"`
}

func CreateDiningTable(ctx context.Context, input *NewDiningTable) (*DiningTable, error) {
	db := config.GetDB()

	restaurantId, ok := utils.GetRestaurantIdFromContext(ctx)
	if !ok || restaurantId == "" {
		return nil, errors.New("restaurant id is required")
	}

	table := DiningTable{
		RestaurantId: restaurantId,
		Number:       input.Number,
		Seats:        input.Seats,
		QRSlug:       uuid.NewString(),
		IsActive:     utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(&table).Error; err != nil {
		return nil, err
	}
	return &table, nil
}

func ListDiningTables(ctx context.Context) ([]DiningTable, error) {
	db := config.GetDB()
	var tables []DiningTable
	if err := db.WithContext(ctx).Order("number ASC").Find(&tables).Error; err != nil {
		return nil, err
	}
	return tables, nil
}

// GetDiningTableByQRSlug resolves a scanned QR code. The slug is globally
// unique, so this lookup is intentionally unscoped; callers derive the
// tenant from the result.
func GetDiningTableByQRSlug(ctx context.Context, slug string) (*DiningTable, error) {
	db := config.GetDB()
	var table DiningTable
	scopeless := utils.SetSkipTenantScopeInContext(ctx, true)
	if err := db.WithContext(scopeless).Where("qr_slug = ?", slug).First(&table).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &table, nil
}
