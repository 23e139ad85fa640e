// order-archival-backfill archives old terminal-state orders outside the
// scheduled sweep: either a one-off catch-up after the archival job was down,
// or a targeted run for one restaurant with a custom age threshold.
//
// Dry-run (default): show counts only
//   go run ./cmd/order-archival-backfill -restaurant-id=...
//
// Execute:
//   go run ./cmd/order-archival-backfill -restaurant-id=... -dry-run=false -confirm=ARCHIVE
//
// All restaurants with a shorter threshold:
//   go run ./cmd/order-archival-backfill -all -age-days=30 -dry-run=false -confirm=ARCHIVE
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/sirupsen/logrus"
)

const batchSize = 100

func main() {
	restaurantID := flag.String("restaurant-id", "", "Restaurant id (uuid); required unless -all")
	all := flag.Bool("all", false, "Backfill ALL restaurants")
	ageDays := flag.Int("age-days", 90, "Archive terminal orders older than this many days")
	dryRun := flag.Bool("dry-run", true, "List only (no writes)")
	confirm := flag.String("confirm", "", "Type ARCHIVE to proceed when dry-run=false")
	flag.Parse()

	if !*all && strings.TrimSpace(*restaurantID) == "" {
		fmt.Fprintln(os.Stderr, "--restaurant-id is required (or pass -all)")
		os.Exit(1)
	}
	if !*dryRun && strings.TrimSpace(*confirm) != "ARCHIVE" {
		fmt.Fprintln(os.Stderr, "set --confirm=ARCHIVE to proceed")
		os.Exit(1)
	}
	if *ageDays <= 0 {
		fmt.Fprintln(os.Stderr, "--age-days must be positive")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	ctx := utils.SetSkipTenantScopeInContext(context.Background(), true)
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -*ageDays)

	terminal := []models.OrderStatus{models.OrderStatusDelivered, models.OrderStatusCancelled}
	q := db.WithContext(ctx).Model(&models.Order{}).
		Where("status IN (?) AND is_archived = ? AND updated_at < ?", terminal, false, cutoff)
	if !*all {
		q = q.Where("restaurant_id = ?", strings.TrimSpace(*restaurantID))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		fmt.Fprintf(os.Stderr, "count failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("candidates: %d orders older than %d days\n", total, *ageDays)
	if *dryRun {
		fmt.Println("dry-run: no writes performed")
		return
	}
	if total == 0 {
		return
	}

	archived := 0
	for {
		var ids []int
		sel := db.WithContext(ctx).Model(&models.Order{}).
			Where("status IN (?) AND is_archived = ? AND updated_at < ?", terminal, false, cutoff)
		if !*all {
			sel = sel.Where("restaurant_id = ?", strings.TrimSpace(*restaurantID))
		}
		if err := sel.Order("id ASC").Limit(batchSize).Pluck("id", &ids).Error; err != nil {
			fmt.Fprintf(os.Stderr, "select failed: %v\n", err)
			os.Exit(1)
		}
		if len(ids) == 0 {
			break
		}
		if err := db.WithContext(ctx).Model(&models.Order{}).Where("id IN (?)", ids).
			Updates(map[string]interface{}{
				"is_archived": true,
				"updated_at":  now,
			}).Error; err != nil {
			fmt.Fprintf(os.Stderr, "update failed after %d rows: %v\n", archived, err)
			os.Exit(1)
		}
		archived += len(ids)
		logger.WithFields(logrus.Fields{
			"batch":    len(ids),
			"archived": archived,
		}).Info("batch archived")
	}

	if err := models.WriteSystemLog(db.WithContext(ctx), nil, models.LogLevelInfo, "order_archival_backfill", map[string]interface{}{
		"archived": archived,
		"age_days": *ageDays,
		"all":      *all,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write audit entry: %v\n", err)
	}
	fmt.Printf("archived %d orders\n", archived)
}
