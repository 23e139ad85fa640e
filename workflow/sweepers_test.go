package workflow_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"bitbucket.org/mmdatafocus/resto_backend/workflow"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func scopelessCtx() context.Context {
	return utils.SetSkipTenantScopeInContext(context.Background(), true)
}

func seedProductWithStock(t *testing.T, db *gorm.DB, restaurantId string, available bool, qty int64) *models.Product {
	t.Helper()
	ctx := scopelessCtx()
	isAvailable := available
	hasStock := true
	product := models.Product{
		RestaurantId: restaurantId,
		Name:         "Item " + uuid.NewString()[:8],
		Type:         models.ProductTypePhysical,
		Price:        decimal.NewFromInt(1000),
		IsAvailable:  &isAvailable,
		HasStock:     &hasStock,
	}
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	stock := models.Stock{
		RestaurantId: restaurantId,
		ProductId:    product.ID,
		Quantity:     decimal.NewFromInt(qty),
	}
	if err := db.WithContext(ctx).Create(&stock).Error; err != nil {
		t.Fatalf("create stock: %v", err)
	}
	return &product
}

func countLogs(t *testing.T, db *gorm.DB, action string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.SystemLog{}).Where("action = ?", action).Count(&n).Error; err != nil {
		t.Fatalf("count logs: %v", err)
	}
	return n
}

func TestStockSweepRealignsAvailability(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	restaurantId := seedRestaurant(t, ctx)

	depleted := seedProductWithStock(t, db, restaurantId, true, 0)   // should be disabled
	restocked := seedProductWithStock(t, db, restaurantId, false, 7) // should be enabled
	healthy := seedProductWithStock(t, db, restaurantId, true, 3)    // consistent, untouched

	sweeper := &workflow.StockSweeper{DB: db, Logger: testLogger()}
	result, err := sweeper.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Disabled != 1 || result.Enabled != 1 {
		t.Fatalf("expected 1 disabled / 1 enabled; got %+v", result)
	}

	sctx := scopelessCtx()
	check := func(id int, wantAvailable bool) {
		var p models.Product
		if err := db.WithContext(sctx).Where("id = ?", id).First(&p).Error; err != nil {
			t.Fatalf("fetch product %d: %v", id, err)
		}
		if p.IsAvailable == nil || *p.IsAvailable != wantAvailable {
			t.Fatalf("product %d: is_available=%v, want %v", id, p.IsAvailable, wantAvailable)
		}
	}
	check(depleted.ID, false)
	check(restocked.ID, true)
	check(healthy.ID, true)

	if n := countLogs(t, db, "stock_consistency"); n != 2 {
		t.Fatalf("expected one audit entry per corrected product; got %d", n)
	}
	var entry models.SystemLog
	if err := db.Where("action = ?", "stock_consistency").First(&entry).Error; err != nil {
		t.Fatalf("fetch audit entry: %v", err)
	}
	if entry.Level != models.LogLevelWarning {
		t.Fatalf("expected warning level; got %s", entry.Level)
	}
	if entry.RestaurantId == nil || *entry.RestaurantId != restaurantId {
		t.Fatalf("expected entry attributed to %s; got %v", restaurantId, entry.RestaurantId)
	}
}

func TestStockSweepNoFindingsWritesNothing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	restaurantId := seedRestaurant(t, ctx)
	seedProductWithStock(t, db, restaurantId, true, 5)
	seedProductWithStock(t, db, restaurantId, false, 0)

	sweeper := &workflow.StockSweeper{DB: db, Logger: testLogger()}
	result, err := sweeper.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Disabled != 0 || result.Enabled != 0 {
		t.Fatalf("expected zero findings; got %+v", result)
	}
	if n := countLogs(t, db, "stock_consistency"); n != 0 {
		t.Fatalf("zero findings must write zero audit entries; got %d", n)
	}
}

func backdateSubscription(t *testing.T, db *gorm.DB, restaurantId string, column string, at time.Time) {
	t.Helper()
	if err := db.WithContext(scopelessCtx()).Model(&models.Subscription{}).
		Where("restaurant_id = ?", restaurantId).
		UpdateColumn(column, at).Error; err != nil {
		t.Fatalf("backdate %s: %v", column, err)
	}
}

func TestSubscriptionExpirySweep(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	tomorrow := time.Now().UTC().AddDate(0, 0, 1)

	lapsedTrial := seedRestaurant(t, ctx)
	backdateSubscription(t, db, lapsedTrial, "trial_ends_at", yesterday)

	liveTrial := seedRestaurant(t, ctx)
	backdateSubscription(t, db, liveTrial, "trial_ends_at", tomorrow)

	lapsedActive := seedRestaurant(t, ctx)
	sctx := scopelessCtx()
	if err := db.WithContext(sctx).Model(&models.Subscription{}).
		Where("restaurant_id = ?", lapsedActive).
		UpdateColumns(map[string]interface{}{
			"status":             models.SubscriptionStatusActive,
			"current_period_end": yesterday,
		}).Error; err != nil {
		t.Fatalf("set up lapsed active subscription: %v", err)
	}

	sweeper := &workflow.SubscriptionSweeper{DB: db, Logger: testLogger()}
	result, err := sweeper.RunExpiry(ctx)
	if err != nil {
		t.Fatalf("RunExpiry: %v", err)
	}
	if result.Expired != 2 {
		t.Fatalf("expected 2 expired; got %d", result.Expired)
	}

	status := func(restaurantId string) models.SubscriptionStatus {
		var sub models.Subscription
		if err := db.WithContext(sctx).Where("restaurant_id = ?", restaurantId).First(&sub).Error; err != nil {
			t.Fatalf("fetch subscription: %v", err)
		}
		return sub.Status
	}
	if got := status(lapsedTrial); got != models.SubscriptionStatusExpired {
		t.Fatalf("lapsed trial: got %s", got)
	}
	if got := status(liveTrial); got != models.SubscriptionStatusTrial {
		t.Fatalf("live trial must be untouched: got %s", got)
	}
	if got := status(lapsedActive); got != models.SubscriptionStatusExpired {
		t.Fatalf("lapsed active: got %s", got)
	}
}

func TestSuspensionSweep(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	sctx := scopelessCtx()

	expire := func(restaurantId string) {
		if err := db.WithContext(sctx).Model(&models.Subscription{}).
			Where("restaurant_id = ?", restaurantId).
			UpdateColumn("status", models.SubscriptionStatusExpired).Error; err != nil {
			t.Fatalf("expire subscription: %v", err)
		}
	}

	lapsed := seedRestaurant(t, ctx)
	expire(lapsed)

	alreadyOff := seedRestaurant(t, ctx)
	expire(alreadyOff)
	if err := db.WithContext(sctx).Model(&models.Restaurant{}).
		Where("id = ?", alreadyOff).
		UpdateColumn("is_active", false).Error; err != nil {
		t.Fatalf("deactivate restaurant: %v", err)
	}

	paying := seedRestaurant(t, ctx) // trial, stays live

	sweeper := &workflow.SubscriptionSweeper{DB: db, Logger: testLogger()}
	result, err := sweeper.RunSuspension(ctx)
	if err != nil {
		t.Fatalf("RunSuspension: %v", err)
	}
	if result.Suspended != 1 {
		t.Fatalf("expected 1 suspended; got %d", result.Suspended)
	}

	active := func(restaurantId string) bool {
		var r models.Restaurant
		if err := db.WithContext(sctx).Where("id = ?", restaurantId).First(&r).Error; err != nil {
			t.Fatalf("fetch restaurant: %v", err)
		}
		return r.IsActive != nil && *r.IsActive
	}
	if active(lapsed) {
		t.Fatalf("lapsed restaurant should be suspended")
	}
	if active(alreadyOff) {
		t.Fatalf("already-off restaurant should stay off")
	}
	if !active(paying) {
		t.Fatalf("trial restaurant should stay live")
	}

	// One warning per newly suspended restaurant; rerun logs nothing new.
	if n := countLogs(t, db, "restaurant_suspended"); n != 1 {
		t.Fatalf("expected 1 suspension entry; got %d", n)
	}
	if _, err := sweeper.RunSuspension(ctx); err != nil {
		t.Fatalf("RunSuspension(rerun): %v", err)
	}
	if n := countLogs(t, db, "restaurant_suspended"); n != 1 {
		t.Fatalf("rerun must not re-log; got %d entries", n)
	}
}

func seedArchivalOrder(t *testing.T, db *gorm.DB, restaurantId string, status models.OrderStatus, ageDays int, amount int64) *models.Order {
	t.Helper()
	sctx := scopelessCtx()
	order := models.Order{
		RestaurantId: restaurantId,
		TableId:      1,
		OrderNumber:  utils.NewOrderNumber("1"),
		Status:       status,
		TotalAmount:  decimal.NewFromInt(amount),
		IsArchived:   utils.NewFalse(),
	}
	if err := db.WithContext(sctx).Create(&order).Error; err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := db.WithContext(sctx).Model(&models.Order{}).Where("id = ?", order.ID).
		UpdateColumn("updated_at", time.Now().UTC().AddDate(0, 0, -ageDays)).Error; err != nil {
		t.Fatalf("backdate order: %v", err)
	}
	return &order
}

func TestArchivalSweep(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	restaurantId := seedRestaurant(t, ctx)

	oldDelivered := seedArchivalOrder(t, db, restaurantId, models.OrderStatusDelivered, 91, 12000)
	oldCancelled := seedArchivalOrder(t, db, restaurantId, models.OrderStatusCancelled, 120, 8000)
	recentDelivered := seedArchivalOrder(t, db, restaurantId, models.OrderStatusDelivered, 10, 5000)
	oldPending := seedArchivalOrder(t, db, restaurantId, models.OrderStatusPending, 91, 3000)

	sweeper := &workflow.ArchivalSweeper{DB: db, Logger: testLogger()}
	result, err := sweeper.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Archived != 2 || result.Batches != 1 {
		t.Fatalf("expected 2 archived in 1 batch; got %+v", result)
	}
	summary, ok := result.PerRestaurant[restaurantId]
	if !ok || summary.Count != 2 || summary.Amount.Cmp(decimal.NewFromInt(20000)) != 0 {
		t.Fatalf("unexpected per-restaurant summary: %+v", result.PerRestaurant)
	}

	sctx := scopelessCtx()
	archived := func(id int) bool {
		var o models.Order
		if err := db.WithContext(sctx).Where("id = ?", id).First(&o).Error; err != nil {
			t.Fatalf("fetch order %d: %v", id, err)
		}
		return o.IsArchived != nil && *o.IsArchived
	}
	if !archived(oldDelivered.ID) || !archived(oldCancelled.ID) {
		t.Fatalf("old terminal orders should be archived")
	}
	if archived(recentDelivered.ID) {
		t.Fatalf("recent order must not be archived")
	}
	if archived(oldPending.ID) {
		t.Fatalf("non-terminal order must not be archived regardless of age")
	}

	if n := countLogs(t, db, "order_archival"); n != 1 {
		t.Fatalf("expected 1 summary entry; got %d", n)
	}

	// Rerun finds nothing and logs nothing.
	rerun, err := sweeper.Run(ctx)
	if err != nil {
		t.Fatalf("Run(rerun): %v", err)
	}
	if rerun.Archived != 0 {
		t.Fatalf("rerun archived %d", rerun.Archived)
	}
	if n := countLogs(t, db, "order_archival"); n != 1 {
		t.Fatalf("rerun must not re-log; got %d entries", n)
	}
}

func seedLog(t *testing.T, db *gorm.DB, level models.LogLevel, ageDays int) int {
	t.Helper()
	entry := models.SystemLog{Level: level, Action: "seeded", Payload: "{}"}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("create log: %v", err)
	}
	if err := db.Model(&models.SystemLog{}).Where("id = ?", entry.ID).
		UpdateColumn("created_at", time.Now().UTC().AddDate(0, 0, -ageDays)).Error; err != nil {
		t.Fatalf("backdate log: %v", err)
	}
	return entry.ID
}

func TestLogRetentionSweep(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	oldInfo := seedLog(t, db, models.LogLevelInfo, 31)
	oldWarning := seedLog(t, db, models.LogLevelWarning, 45)
	freshInfo := seedLog(t, db, models.LogLevelInfo, 5)
	midError := seedLog(t, db, models.LogLevelError, 31)
	oldError := seedLog(t, db, models.LogLevelError, 91)
	ancientCritical := seedLog(t, db, models.LogLevelCritical, 400)

	sweeper := &workflow.LogRetentionSweeper{DB: db, Logger: testLogger()}
	result, err := sweeper.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.RoutineDeleted != 2 {
		t.Fatalf("expected 2 routine rows deleted; got %d", result.RoutineDeleted)
	}
	if result.ErrorDeleted != 1 {
		t.Fatalf("expected 1 error row deleted; got %d", result.ErrorDeleted)
	}

	exists := func(id int) bool {
		var entry models.SystemLog
		err := db.Where("id = ?", id).First(&entry).Error
		if err == nil {
			return true
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false
		}
		t.Fatalf("fetch log %d: %v", id, err)
		return false
	}
	if exists(oldInfo) || exists(oldWarning) {
		t.Fatalf("routine rows past 30 days should be gone")
	}
	if !exists(freshInfo) {
		t.Fatalf("fresh info row should survive")
	}
	if !exists(midError) {
		t.Fatalf("error row under 90 days should survive")
	}
	if exists(oldError) {
		t.Fatalf("error row past 90 days should be gone")
	}
	if !exists(ancientCritical) {
		t.Fatalf("critical rows are never deleted")
	}

	if n := countLogs(t, db, "log_cleanup"); n != 1 {
		t.Fatalf("expected cleanup summary entry; got %d", n)
	}
}

func TestLogRetentionSweepNothingToDelete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedLog(t, db, models.LogLevelInfo, 5)
	seedLog(t, db, models.LogLevelError, 40)

	sweeper := &workflow.LogRetentionSweeper{DB: db, Logger: testLogger()}
	result, err := sweeper.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.RoutineDeleted != 0 || result.ErrorDeleted != 0 {
		t.Fatalf("expected nothing deleted; got %+v", result)
	}
	if n := countLogs(t, db, "log_cleanup"); n != 0 {
		t.Fatalf("no deletions must mean no summary entry; got %d", n)
	}
}

func TestRunGuardedWritesCriticalLogOnFailure(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	boom := errors.New("sweep exploded")
	_, err := workflow.RunGuarded(ctx, db, testLogger(), "stock_consistency_sweep",
		func(ctx context.Context) (interface{}, error) {
			return nil, boom
		})
	if !errors.Is(err, boom) {
		t.Fatalf("expected sweep error surfaced; got %v", err)
	}

	var entry models.SystemLog
	if err := db.Where("action = ?", "stock_consistency_sweep_failed").First(&entry).Error; err != nil {
		t.Fatalf("expected critical failure entry: %v", err)
	}
	if entry.Level != models.LogLevelCritical {
		t.Fatalf("expected critical level; got %s", entry.Level)
	}
	if !strings.Contains(entry.Payload, "sweep exploded") {
		t.Fatalf("expected error text in payload; got %q", entry.Payload)
	}
}

func TestRunGuardedReturnsResult(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	got, err := workflow.RunGuarded(ctx, db, testLogger(), "noop_sweep",
		func(ctx context.Context) (interface{}, error) {
			return &workflow.StockSweepResult{Disabled: 3}, nil
		})
	if err != nil {
		t.Fatalf("RunGuarded: %v", err)
	}
	result, ok := got.(*workflow.StockSweepResult)
	if !ok || result.Disabled != 3 {
		t.Fatalf("unexpected result: %#v", got)
	}
	var n int64
	if err := db.Model(&models.SystemLog{}).Count(&n).Error; err != nil {
		t.Fatalf("count logs: %v", err)
	}
	if n != 0 {
		t.Fatalf("successful sweep must not log failures; got %d entries", n)
	}
}
