package models

import (
	"log"

	"bitbucket.org/mmdatafocus/resto_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Restaurant{}, &DiningTable{}, &User{},
		&MenuCategory{}, &Product{}, &Stock{},
		&Order{}, &OrderItem{},
		&Payment{}, &SubscriptionPayment{}, &Subscription{},
		&SystemLog{},
		&OrderEventRecord{}, &IdempotencyKey{}, &GatewayWebhookEvent{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
