package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type MenuCategory struct {
	ID           int       `gorm:"primary_key" json:"id"`
	RestaurantId string    `gorm:"size:64;index;not null" json:"restaurant_id"`
	Name         string    `gorm:"size:100;not null" json:"name" binding:"required"`
	SortOrder    int       `json:"sort_order"`
	IsActive     *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Product is a menu entry. Only physical products may carry a Stock row;
// service products (delivery fee, service charge) never do.
type Product struct {
	ID           int             `gorm:"primary_key" json:"id"`
	RestaurantId string          `gorm:"size:64;index;not null" json:"restaurant_id"`
	CategoryId   int             `gorm:"index" json:"category_id"`
	Name         string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Sku          string          `gorm:"size:100" json:"sku"`
	Description  string          `gorm:"type:text" json:"description"`
	Type         ProductType     `gorm:"size:20;not null;default:physical" json:"type"`
	Price        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price"`
	// IsAvailable is menu visibility. For stock-tracked products the stock
	// consistency sweep keeps it aligned with quantity > 0.
	IsAvailable  *bool     `gorm:"not null;default:true" json:"is_available"`
	HasStock     *bool     `gorm:"not null;default:false" json:"has_stock"`
	ImageUrl     string    `json:"image_url"`
	ThumbnailUrl string    `json:"thumbnail_url"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Stock *Stock `gorm:"foreignKey:ProductId" json:"stock,omitempty"`
}

type Stock struct {
	ID             int             `gorm:"primary_key" json:"id"`
	RestaurantId   string          `gorm:"size:64;index;not null" json:"restaurant_id"`
	ProductId      int             `gorm:"uniqueIndex;not null" json:"product_id"`
	Quantity       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	AlertThreshold decimal.Decimal `gorm:"type:decimal(20,4)" json:"alert_threshold"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	CategoryId     int             `json:"category_id"`
	Name           string          `json:"name" binding:"required" validate:"required"`
	Sku            string          `json:"sku"`
	Description    string          `json:"description"`
	Type           ProductType     `json:"type"`
	Price          decimal.Decimal `json:"price"`
	HasStock       *bool           `json:"has_stock"`
	OpeningQty     decimal.Decimal `json:"opening_qty"`
	AlertThreshold decimal.Decimal `json:"alert_threshold"`
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	db := config.GetDB()

	restaurantId, ok := utils.GetRestaurantIdFromContext(ctx)
	if !ok || restaurantId == "" {
		return nil, errors.New("restaurant id is required")
	}

	productType := input.Type
	if productType == "" {
		productType = ProductTypePhysical
	}
	hasStock := input.HasStock != nil && *input.HasStock
	if productType == ProductTypeService && hasStock {
		return nil, errors.New("service products cannot carry stock")
	}
	if input.CategoryId != 0 {
		if err := utils.ValidateResourceId[MenuCategory](ctx, restaurantId, input.CategoryId); err != nil {
			return nil, err
		}
	}

	product := Product{
		RestaurantId: restaurantId,
		CategoryId:   input.CategoryId,
		Name:         input.Name,
		Sku:          input.Sku,
		Description:  input.Description,
		Type:         productType,
		Price:        input.Price,
		IsAvailable:  utils.NewTrue(),
		HasStock:     &hasStock,
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&product).Error; err != nil {
			return err
		}
		if hasStock {
			stock := Stock{
				RestaurantId:   restaurantId,
				ProductId:      product.ID,
				Quantity:       input.OpeningQty,
				AlertThreshold: input.AlertThreshold,
			}
			if err := tx.Create(&stock).Error; err != nil {
				return err
			}
			product.Stock = &stock
			if input.OpeningQty.LessThanOrEqual(decimal.Zero) {
				product.IsAvailable = utils.NewFalse()
				return tx.Model(&Product{}).Where("id = ?", product.ID).
					Update("is_available", false).Error
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func ListMenu(ctx context.Context) ([]Product, error) {
	db := config.GetDB()
	var products []Product
	err := db.WithContext(ctx).
		Preload("Stock").
		Order("category_id ASC, name ASC").
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	db := config.GetDB()
	var product Product
	if err := db.WithContext(ctx).Preload("Stock").Where("id = ?", id).First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &product, nil
}

func CreateMenuCategory(ctx context.Context, name string, sortOrder int) (*MenuCategory, error) {
	db := config.GetDB()
	restaurantId, ok := utils.GetRestaurantIdFromContext(ctx)
	if !ok || restaurantId == "" {
		return nil, errors.New("restaurant id is required")
	}
	category := MenuCategory{
		RestaurantId: restaurantId,
		Name:         name,
		SortOrder:    sortOrder,
		IsActive:     utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(&category).Error; err != nil {
		return nil, err
	}
	return &category, nil
}

// AdjustStock sets the on-hand quantity (receiving deliveries, corrections)
// and realigns availability in the same transaction.
func AdjustStock(ctx context.Context, productId int, quantity decimal.Decimal) (*Stock, error) {
	db := config.GetDB()

	restaurantId, ok := utils.GetRestaurantIdFromContext(ctx)
	if !ok || restaurantId == "" {
		return nil, errors.New("restaurant id is required")
	}

	var stock Stock
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("product_id = ?", productId).First(&stock).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if err := tx.Model(&Stock{}).Where("id = ?", stock.ID).
			Update("quantity", quantity).Error; err != nil {
			return err
		}
		stock.Quantity = quantity
		return tx.Model(&Product{}).Where("id = ?", productId).
			Update("is_available", quantity.GreaterThan(decimal.Zero)).Error
	})
	if err != nil {
		return nil, err
	}
	return &stock, nil
}

// SetProductImage stores the upload result (object URL + thumbnail).
func SetProductImage(ctx context.Context, productId int, imageUrl, thumbnailUrl string) error {
	db := config.GetDB()
	res := db.WithContext(ctx).Model(&Product{}).Where("id = ?", productId).
		Updates(map[string]interface{}{
			"image_url":     imageUrl,
			"thumbnail_url": thumbnailUrl,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}
