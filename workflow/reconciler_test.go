package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"bitbucket.org/mmdatafocus/resto_backend/workflow"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq int

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:workflow_test_%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Use(config.NewTenantGuardPlugin()); err != nil {
		t.Fatalf("install tenant guard: %v", err)
	}
	config.SetDB(db)
	models.MigrateTable()
	return db
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func seedRestaurant(t *testing.T, ctx context.Context) string {
	t.Helper()
	restaurant, err := models.CreateRestaurant(ctx, &models.NewRestaurant{
		Name:       "Webhook Cafe",
		Slug:       "webhook-cafe-" + uuid.NewString()[:8],
		OwnerEmail: "owner@test.local",
	})
	if err != nil {
		t.Fatalf("CreateRestaurant: %v", err)
	}
	return restaurant.ID.String()
}

// seedPendingPayment builds a pending order (one stock-tracked item, qty 2,
// opening stock 5) with an initiated gateway payment.
func seedPendingPayment(t *testing.T, ctx context.Context, restaurantId string) (*models.Order, *models.Payment, *models.Product) {
	t.Helper()
	tctx := utils.SetRestaurantIdInContext(ctx, restaurantId)

	table, err := models.CreateDiningTable(tctx, &models.NewDiningTable{Number: "9"})
	if err != nil {
		t.Fatalf("CreateDiningTable: %v", err)
	}
	product, err := models.CreateProduct(tctx, &models.NewProduct{
		Name:       "Lahpet Thoke",
		Price:      decimal.NewFromInt(4000),
		HasStock:   utils.NewTrue(),
		OpeningQty: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	order, err := models.CreateOrder(ctx, &models.NewOrder{
		TableQRSlug: table.QRSlug,
		Items:       []models.NewOrderItem{{ProductId: product.ID, Qty: 2}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	payment, err := models.InitiatePayment(tctx, &models.NewPayment{
		OrderId: order.ID,
		Method:  models.PaymentMethodMobileMoney,
	})
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}
	return order, payment, product
}

func newReconciler(db *gorm.DB) *workflow.PaymentReconciler {
	return workflow.NewPaymentReconciler(db, testLogger(), "testpay")
}

func fetchPayment(t *testing.T, db *gorm.DB, id int) *models.Payment {
	t.Helper()
	scopeless := utils.SetSkipTenantScopeInContext(context.Background(), true)
	var payment models.Payment
	if err := db.WithContext(scopeless).Where("id = ?", id).First(&payment).Error; err != nil {
		t.Fatalf("fetch payment: %v", err)
	}
	return &payment
}

func fetchOrder(t *testing.T, db *gorm.DB, id int) *models.Order {
	t.Helper()
	scopeless := utils.SetSkipTenantScopeInContext(context.Background(), true)
	var order models.Order
	if err := db.WithContext(scopeless).Where("id = ?", id).First(&order).Error; err != nil {
		t.Fatalf("fetch order: %v", err)
	}
	return &order
}

func TestReconcilerSuccessfulOrderPayment(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	restaurantId := seedRestaurant(t, ctx)
	order, payment, product := seedPendingPayment(t, ctx, restaurantId)

	result, err := newReconciler(db).Process(ctx, workflow.GatewayCallback{
		Reference: payment.GatewayReference(),
		Status:    "SUCCESSFUL",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Outcome != models.WebhookOutcomeApplied {
		t.Fatalf("expected applied; got %s", result.Outcome)
	}
	if result.OrderId != order.ID || result.PaymentId != payment.ID {
		t.Fatalf("unexpected result ids: %+v", result)
	}

	after := fetchPayment(t, db, payment.ID)
	if after.Status != models.PaymentStatusPaid || after.PaidAt == nil {
		t.Fatalf("expected payment paid with paid_at; got %s paid_at=%v", after.Status, after.PaidAt)
	}
	if got := fetchOrder(t, db, order.ID); got.Status != models.OrderStatusPreparing {
		t.Fatalf("expected order preparing; got %s", got.Status)
	}

	scopeless := utils.SetSkipTenantScopeInContext(ctx, true)
	var stock models.Stock
	if err := db.WithContext(scopeless).Where("product_id = ?", product.ID).First(&stock).Error; err != nil {
		t.Fatalf("fetch stock: %v", err)
	}
	if stock.Quantity.Cmp(decimal.NewFromInt(3)) != 0 {
		t.Fatalf("expected stock decremented to 3; got %s", stock.Quantity.String())
	}

	// Every callback lands in the audit table with its outcome.
	var event models.GatewayWebhookEvent
	if err := db.Where("reference = ?", payment.GatewayReference()).First(&event).Error; err != nil {
		t.Fatalf("expected webhook audit row: %v", err)
	}
	if event.Outcome != models.WebhookOutcomeApplied || event.Provider != "testpay" {
		t.Fatalf("audit row outcome=%s provider=%s", event.Outcome, event.Provider)
	}
}

func TestReconcilerRedeliveryIsNoOp(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	restaurantId := seedRestaurant(t, ctx)
	order, payment, product := seedPendingPayment(t, ctx, restaurantId)

	reconciler := newReconciler(db)
	cb := workflow.GatewayCallback{Reference: payment.GatewayReference(), Status: "SUCCESSFUL"}
	if _, err := reconciler.Process(ctx, cb); err != nil {
		t.Fatalf("Process(first): %v", err)
	}
	firstPaidAt := fetchPayment(t, db, payment.ID).PaidAt
	var eventsAfterFirst int64
	if err := db.Model(&models.OrderEventRecord{}).Where("reference_id = ?", order.ID).Count(&eventsAfterFirst).Error; err != nil {
		t.Fatalf("count outbox events: %v", err)
	}

	result, err := reconciler.Process(ctx, cb)
	if err != nil {
		t.Fatalf("Process(redelivery): %v", err)
	}
	if result.Outcome != models.WebhookOutcomeAlreadyProcessed {
		t.Fatalf("expected already_processed; got %s", result.Outcome)
	}

	// No second transition, no second decrement, no timestamp rewrite.
	if got := fetchOrder(t, db, order.ID); got.Status != models.OrderStatusPreparing {
		t.Fatalf("expected order still preparing; got %s", got.Status)
	}
	after := fetchPayment(t, db, payment.ID)
	if after.PaidAt == nil || !after.PaidAt.Equal(*firstPaidAt) {
		t.Fatalf("redelivery rewrote paid_at: %v -> %v", firstPaidAt, after.PaidAt)
	}
	scopeless := utils.SetSkipTenantScopeInContext(ctx, true)
	var stock models.Stock
	if err := db.WithContext(scopeless).Where("product_id = ?", product.ID).First(&stock).Error; err != nil {
		t.Fatalf("fetch stock: %v", err)
	}
	if stock.Quantity.Cmp(decimal.NewFromInt(3)) != 0 {
		t.Fatalf("redelivery decremented stock again; got %s", stock.Quantity.String())
	}
	var eventsAfterSecond int64
	if err := db.Model(&models.OrderEventRecord{}).Where("reference_id = ?", order.ID).Count(&eventsAfterSecond).Error; err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	if eventsAfterSecond != eventsAfterFirst {
		t.Fatalf("redelivery queued another notification: %d -> %d outbox events", eventsAfterFirst, eventsAfterSecond)
	}
}

func TestReconcilerFailedPaymentCancelsOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	restaurantId := seedRestaurant(t, ctx)
	order, payment, product := seedPendingPayment(t, ctx, restaurantId)

	result, err := newReconciler(db).Process(ctx, workflow.GatewayCallback{
		Reference: payment.GatewayReference(),
		Status:    "FAILED",
		Message:   "card declined",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Outcome != models.WebhookOutcomeApplied {
		t.Fatalf("expected applied; got %s", result.Outcome)
	}

	after := fetchPayment(t, db, payment.ID)
	if after.Status != models.PaymentStatusFailed {
		t.Fatalf("expected payment failed; got %s", after.Status)
	}
	if after.FailureReason == nil || *after.FailureReason != "card declined" {
		t.Fatalf("expected failure reason stored; got %v", after.FailureReason)
	}

	got := fetchOrder(t, db, order.ID)
	if got.Status != models.OrderStatusCancelled {
		t.Fatalf("expected order cancelled; got %s", got.Status)
	}
	if got.CancellationReason == nil || *got.CancellationReason != "payment failed: card declined" {
		t.Fatalf("expected cancellation reason; got %v", got.CancellationReason)
	}

	// Cancellation from pending never touches stock.
	scopeless := utils.SetSkipTenantScopeInContext(ctx, true)
	var stock models.Stock
	if err := db.WithContext(scopeless).Where("product_id = ?", product.ID).First(&stock).Error; err != nil {
		t.Fatalf("fetch stock: %v", err)
	}
	if stock.Quantity.Cmp(decimal.NewFromInt(5)) != 0 {
		t.Fatalf("expected stock untouched at 5; got %s", stock.Quantity.String())
	}
}

func TestReconcilerUnknownReference(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	result, err := newReconciler(db).Process(ctx, workflow.GatewayCallback{
		Reference: "order:999999",
		Status:    "SUCCESSFUL",
	})
	if !errors.Is(err, utils.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound; got %v", err)
	}
	if result.Outcome != models.WebhookOutcomeNotFound {
		t.Fatalf("expected not_found; got %s", result.Outcome)
	}

	var event models.GatewayWebhookEvent
	if err := db.Where("reference = ?", "order:999999").First(&event).Error; err != nil {
		t.Fatalf("expected audit row even for dead reference: %v", err)
	}
	if event.Outcome != models.WebhookOutcomeNotFound || event.ProcessingError == "" {
		t.Fatalf("audit row outcome=%s error=%q", event.Outcome, event.ProcessingError)
	}
}

func TestReconcilerIgnoresUnknownGatewayStatus(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	restaurantId := seedRestaurant(t, ctx)
	order, payment, _ := seedPendingPayment(t, ctx, restaurantId)

	result, err := newReconciler(db).Process(ctx, workflow.GatewayCallback{
		Reference: payment.GatewayReference(),
		Status:    "PROCESSING",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Outcome != models.WebhookOutcomeIgnored {
		t.Fatalf("expected ignored; got %s", result.Outcome)
	}
	if got := fetchPayment(t, db, payment.ID); got.Status != models.PaymentStatusPending {
		t.Fatalf("ignored callback mutated payment to %s", got.Status)
	}
	if got := fetchOrder(t, db, order.ID); got.Status != models.OrderStatusPending {
		t.Fatalf("ignored callback mutated order to %s", got.Status)
	}
}

func TestReconcilerLegacyTransactionIdFallback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	restaurantId := seedRestaurant(t, ctx)
	tctx := utils.SetRestaurantIdInContext(ctx, restaurantId)

	order, payment, _ := seedPendingPayment(t, ctx, restaurantId)
	if _, err := models.InitiatePayment(tctx, &models.NewPayment{
		OrderId:       order.ID,
		Method:        models.PaymentMethodMobileMoney,
		TransactionId: "GW-TXN-7781",
	}); err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}

	result, err := newReconciler(db).Process(ctx, workflow.GatewayCallback{
		Reference: "GW-TXN-7781",
		Status:    "SUCCESSFUL",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Outcome != models.WebhookOutcomeApplied || result.PaymentId != payment.ID {
		t.Fatalf("expected applied to payment %d; got %+v", payment.ID, result)
	}
	if got := fetchOrder(t, db, order.ID); got.Status != models.OrderStatusPreparing {
		t.Fatalf("expected order preparing; got %s", got.Status)
	}
}

func TestReconcilerSubscriptionRenewal(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	restaurantId := seedRestaurant(t, ctx)
	tctx := utils.SetRestaurantIdInContext(ctx, restaurantId)

	// Lapsed tenant: subscription expired by the sweep, restaurant suspended.
	scopeless := utils.SetSkipTenantScopeInContext(ctx, true)
	if err := db.WithContext(scopeless).Model(&models.Subscription{}).
		Where("restaurant_id = ?", restaurantId).
		Update("status", models.SubscriptionStatusExpired).Error; err != nil {
		t.Fatalf("expire subscription: %v", err)
	}
	if err := db.WithContext(scopeless).Model(&models.Restaurant{}).
		Where("id = ?", restaurantId).
		Update("is_active", false).Error; err != nil {
		t.Fatalf("suspend restaurant: %v", err)
	}

	payment, err := models.InitiateSubscriptionPayment(tctx, &models.NewSubscriptionPayment{
		Amount:       decimal.NewFromInt(50000),
		Method:       models.PaymentMethodMobileMoney,
		PeriodMonths: 1,
	})
	if err != nil {
		t.Fatalf("InitiateSubscriptionPayment: %v", err)
	}

	result, err := newReconciler(db).Process(ctx, workflow.GatewayCallback{
		Reference: payment.GatewayReference(),
		Status:    "SUCCESSFUL",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Outcome != models.WebhookOutcomeApplied || result.PaymentKind != "subscription" {
		t.Fatalf("unexpected result: %+v", result)
	}

	var afterPayment models.SubscriptionPayment
	if err := db.WithContext(scopeless).Where("id = ?", payment.ID).First(&afterPayment).Error; err != nil {
		t.Fatalf("fetch subscription payment: %v", err)
	}
	if afterPayment.Status != models.PaymentStatusConfirmed || afterPayment.PaidAt == nil || afterPayment.ValidatedAt == nil {
		t.Fatalf("expected confirmed with timestamps; got %+v", afterPayment)
	}

	var sub models.Subscription
	if err := db.WithContext(scopeless).Where("restaurant_id = ?", restaurantId).First(&sub).Error; err != nil {
		t.Fatalf("fetch subscription: %v", err)
	}
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected subscription active; got %s", sub.Status)
	}
	// The renewal length was fixed when the bill was issued.
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(afterPayment.PeriodEnd) {
		t.Fatalf("expected period end %v; got %v", afterPayment.PeriodEnd, sub.CurrentPeriodEnd)
	}
	if sub.CurrentPeriodEnd.Before(time.Now().UTC()) {
		t.Fatalf("renewed period already over: %v", sub.CurrentPeriodEnd)
	}

	var restaurant models.Restaurant
	if err := db.WithContext(scopeless).Where("id = ?", restaurantId).First(&restaurant).Error; err != nil {
		t.Fatalf("fetch restaurant: %v", err)
	}
	if restaurant.IsActive == nil || !*restaurant.IsActive {
		t.Fatalf("expected suspended restaurant reactivated on renewal")
	}
}

func TestReconcilerFailedSubscriptionPaymentLeavesSubscriptionAlone(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	restaurantId := seedRestaurant(t, ctx)
	tctx := utils.SetRestaurantIdInContext(ctx, restaurantId)

	payment, err := models.InitiateSubscriptionPayment(tctx, &models.NewSubscriptionPayment{
		Amount: decimal.NewFromInt(50000),
		Method: models.PaymentMethodCard,
	})
	if err != nil {
		t.Fatalf("InitiateSubscriptionPayment: %v", err)
	}

	result, err := newReconciler(db).Process(ctx, workflow.GatewayCallback{
		Reference: payment.GatewayReference(),
		Status:    "FAILED",
		Message:   "insufficient funds",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Outcome != models.WebhookOutcomeApplied {
		t.Fatalf("expected applied; got %s", result.Outcome)
	}

	scopeless := utils.SetSkipTenantScopeInContext(ctx, true)
	var afterPayment models.SubscriptionPayment
	if err := db.WithContext(scopeless).Where("id = ?", payment.ID).First(&afterPayment).Error; err != nil {
		t.Fatalf("fetch subscription payment: %v", err)
	}
	if afterPayment.Status != models.PaymentStatusFailed {
		t.Fatalf("expected failed; got %s", afterPayment.Status)
	}
	if afterPayment.FailureReason == nil || *afterPayment.FailureReason != "insufficient funds" {
		t.Fatalf("expected failure reason; got %v", afterPayment.FailureReason)
	}

	// The trial keeps running; a failed renewal changes nothing until expiry.
	var sub models.Subscription
	if err := db.WithContext(scopeless).Where("restaurant_id = ?", restaurantId).First(&sub).Error; err != nil {
		t.Fatalf("fetch subscription: %v", err)
	}
	if sub.Status != models.SubscriptionStatusTrial {
		t.Fatalf("expected subscription still trial; got %s", sub.Status)
	}
}
