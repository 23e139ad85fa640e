package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PublishOrderEvent writes the event record inside the caller's DB
// transaction but does NOT publish to Pub/Sub. Publishing is performed
// asynchronously by the outbox dispatcher after commit.
func PublishOrderEvent(ctx context.Context, tx *gorm.DB, restaurantId string, refId int, refType string, action string, oldObj interface{}, newObj interface{}) error {
	var oldInByte, newInByte []byte
	var err error

	if oldObj != nil {
		oldInByte, err = json.Marshal(oldObj)
		if err != nil {
			return err
		}
	}
	if newObj != nil {
		newInByte, err = json.Marshal(newObj)
		if err != nil {
			return err
		}
	}

	record := OrderEventRecord{
		RestaurantId:  restaurantId,
		OccurredAt:    time.Now().UTC(),
		ReferenceId:   refId,
		ReferenceType: refType,
		Action:        action,
		OldObj:        oldInByte,
		NewObj:        newInByte,
		IsProcessed:   false,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
