package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order is a dine-in order submitted from a table's QR session. Status moves
// forward-only through the lifecycle graph; orders are never deleted, only
// archived once terminal and stale.
type Order struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	RestaurantId       string          `gorm:"size:64;index;not null" json:"restaurant_id"`
	TableId            int             `gorm:"index;not null" json:"table_id"`
	OrderNumber        string          `gorm:"size:30;index;not null" json:"order_number"`
	Status             OrderStatus     `gorm:"size:20;not null;default:pending;index" json:"status"`
	TotalAmount        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_amount"`
	Note               string          `gorm:"type:text" json:"note"`
	CancellationReason *string         `gorm:"type:text" json:"cancellation_reason,omitempty"`
	IsArchived         *bool           `gorm:"not null;default:false;index" json:"is_archived"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime;index" json:"updated_at"`

	Items []OrderItem `gorm:"foreignKey:OrderId" json:"items,omitempty"`
}

// OrderItem snapshots name and unit price at submission time so later menu
// edits never rewrite an order's history.
type OrderItem struct {
	ID          int             `gorm:"primary_key" json:"id"`
	OrderId     int             `gorm:"index;not null" json:"order_id"`
	ProductId   int             `gorm:"index;not null" json:"product_id"`
	ProductName string          `gorm:"size:100;not null" json:"product_name"`
	Qty         int             `gorm:"not null" json:"qty"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	Note        string          `gorm:"size:255" json:"note"`
}

type NewOrderItem struct {
	ProductId int    `json:"product_id" binding:"required" validate:"required"`
	Qty       int    `json:"qty" binding:"required" validate:"required,gt=0"`
	Note      string `json:"note"`
}

type NewOrder struct {
	TableQRSlug string         `json:"table_qr_slug" binding:"required" validate:"required"`
	Note        string         `json:"note"`
	Items       []NewOrderItem `json:"items" binding:"required" validate:"required,min=1,dive"`
}

// CreateOrder submits a guest cart. The table QR slug identifies both the
// table and the tenant; no authentication is involved.
func CreateOrder(ctx context.Context, input *NewOrder) (*Order, error) {
	db := config.GetDB()

	table, err := GetDiningTableByQRSlug(ctx, input.TableQRSlug)
	if err != nil {
		return nil, err
	}
	if table.IsActive == nil || !*table.IsActive {
		return nil, errors.New("table is not accepting orders")
	}
	restaurantId := table.RestaurantId
	ctx = utils.SetRestaurantIdInContext(ctx, restaurantId)

	productIds := make([]int, 0, len(input.Items))
	for _, it := range input.Items {
		productIds = append(productIds, it.ProductId)
	}
	var products []Product
	if err := db.WithContext(ctx).
		Where("restaurant_id = ? AND id IN ?", restaurantId, utils.UniqueSlice(productIds)).
		Find(&products).Error; err != nil {
		return nil, err
	}
	byId := make(map[int]Product, len(products))
	for _, p := range products {
		byId[p.ID] = p
	}

	order := Order{
		RestaurantId: restaurantId,
		TableId:      table.ID,
		OrderNumber:  utils.NewOrderNumber(table.Number),
		Status:       OrderStatusPending,
		Note:         input.Note,
		IsArchived:   utils.NewFalse(),
	}
	total := decimal.Zero
	for _, it := range input.Items {
		product, ok := byId[it.ProductId]
		if !ok {
			return nil, utils.ErrorRecordNotFound
		}
		if product.IsAvailable == nil || !*product.IsAvailable {
			return nil, fmt.Errorf("%s is not available", product.Name)
		}
		order.Items = append(order.Items, OrderItem{
			ProductId:   product.ID,
			ProductName: product.Name,
			Qty:         it.Qty,
			UnitPrice:   product.Price,
			Note:        it.Note,
		})
		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(it.Qty))))
	}
	order.TotalAmount = total

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		return PublishOrderEvent(ctx, tx, restaurantId, order.ID, EventReferenceTypeOrder, EventActionOrderCreated, nil, order)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// SetOrderStatus applies one lifecycle transition. The restaurant id comes
// from the caller's context (kitchen staff session, or the reconciler acting
// on the payment's tenant).
//
// A transition into preparing decrements stock for stock-tracked line items
// inside the same transaction, guarded by a durable idempotency key so a
// retried handler can never decrement twice. No other transition touches
// stock.
func SetOrderStatus(ctx context.Context, orderId int, newStatus OrderStatus, reason string) (*Order, error) {
	db := config.GetDB()

	var updated *Order
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		updated, err = SetOrderStatusTx(ctx, tx, orderId, newStatus, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetOrderStatusTx is the transaction body shared with the payment webhook
// reconciler, which drives the same transition from inside its own tx.
func SetOrderStatusTx(ctx context.Context, tx *gorm.DB, orderId int, newStatus OrderStatus, reason string) (*Order, error) {
	restaurantId, ok := utils.GetRestaurantIdFromContext(ctx)
	if !ok || restaurantId == "" {
		return nil, errors.New("restaurant id is required")
	}

	var order Order
	if err := tx.Preload("Items").
		Where("restaurant_id = ? AND id = ?", restaurantId, orderId).
		First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrOrderNotFound
		}
		return nil, err
	}

	if order.Status == newStatus {
		// No-op transition; nothing to publish.
		return &order, nil
	}
	if !order.Status.CanTransition(newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", utils.ErrInvalidTransition, order.Status, newStatus)
	}

	before := order

	updates := map[string]interface{}{"status": newStatus}
	if newStatus == OrderStatusCancelled && reason != "" {
		updates["cancellation_reason"] = &reason
		order.CancellationReason = &reason
	}
	if err := tx.Model(&Order{}).Where("id = ?", order.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	order.Status = newStatus

	if newStatus == OrderStatusPreparing {
		if err := decrementStockForOrder(tx, &order); err != nil {
			return nil, err
		}
	}

	if err := PublishOrderEvent(ctx, tx, restaurantId, order.ID, EventReferenceTypeOrder, EventActionOrderStatusChanged, before, order); err != nil {
		return nil, err
	}
	return &order, nil
}

const stockDecrementHandler = "order_stock_decrement"

// decrementStockForOrder subtracts each stock-tracked line item's quantity.
// The idempotency key makes the decrement fire at most once per order even
// across handler retries; products that hit zero are disabled in the same
// statement batch (the daily consistency sweep is the backstop).
func decrementStockForOrder(tx *gorm.DB, order *Order) error {
	messageId := strconv.Itoa(order.ID)
	skip, err := BeginIdempotency(tx, order.RestaurantId, stockDecrementHandler, messageId)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	productIds := make([]int, 0, len(order.Items))
	qtyByProduct := make(map[int]int, len(order.Items))
	for _, it := range order.Items {
		productIds = append(productIds, it.ProductId)
		qtyByProduct[it.ProductId] += it.Qty
	}

	var tracked []Product
	if err := tx.
		Where("restaurant_id = ? AND id IN ? AND has_stock = ?", order.RestaurantId, productIds, true).
		Find(&tracked).Error; err != nil {
		return err
	}

	for _, p := range tracked {
		qty := qtyByProduct[p.ID]
		if qty <= 0 {
			continue
		}
		if err := tx.Model(&Stock{}).
			Where("restaurant_id = ? AND product_id = ?", order.RestaurantId, p.ID).
			Update("quantity", gorm.Expr("quantity - ?", qty)).Error; err != nil {
			return err
		}
	}

	// Disable anything the decrement drove to zero or below.
	if len(tracked) > 0 {
		trackedIds := make([]int, 0, len(tracked))
		for _, p := range tracked {
			trackedIds = append(trackedIds, p.ID)
		}
		var depleted []int
		if err := tx.Model(&Stock{}).
			Where("restaurant_id = ? AND product_id IN ? AND quantity <= 0", order.RestaurantId, trackedIds).
			Pluck("product_id", &depleted).Error; err != nil {
			return err
		}
		if len(depleted) > 0 {
			if err := tx.Model(&Product{}).
				Where("restaurant_id = ? AND id IN ?", order.RestaurantId, depleted).
				Update("is_available", false).Error; err != nil {
				return err
			}
		}
	}

	return MarkIdempotencySucceeded(tx, order.RestaurantId, stockDecrementHandler, messageId)
}

func GetOrder(ctx context.Context, orderId int) (*Order, error) {
	db := config.GetDB()

	restaurantId, ok := utils.GetRestaurantIdFromContext(ctx)
	if !ok || restaurantId == "" {
		return nil, errors.New("restaurant id is required")
	}

	var order Order
	if err := db.WithContext(ctx).Preload("Items").
		Where("restaurant_id = ? AND id = ?", restaurantId, orderId).
		First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ListOrders returns the kitchen board: non-archived orders, optionally
// filtered by status, most recent first.
func ListOrders(ctx context.Context, status OrderStatus) ([]Order, error) {
	db := config.GetDB()

	q := db.WithContext(ctx).Preload("Items").Where("is_archived = ?", false)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var orders []Order
	if err := q.Order("created_at DESC").Limit(200).Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
