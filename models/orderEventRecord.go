package models

import (
	"time"
)

// OrderEventRecord is the transactional outbox: the realtime notification is
// written inside the same DB transaction as the state change it describes,
// and published to Pub/Sub asynchronously by the outbox dispatcher after
// commit. A notification is therefore never emitted for a rolled-back write.
type OrderEventRecord struct {
	ID            int       `gorm:"primary_key" json:"id"`
	RestaurantId  string    `gorm:"size:64;index;not null" json:"restaurant_id"`
	OccurredAt    time.Time `gorm:"not null" json:"occurred_at"`
	ReferenceId   int       `gorm:"index;not null" json:"reference_id"`
	ReferenceType string    `gorm:"size:50;not null" json:"reference_type"`
	Action        string    `gorm:"size:50;not null" json:"action"`
	OldObj        []byte    `gorm:"type:mediumblob" json:"old_obj"`
	NewObj        []byte    `gorm:"type:mediumblob" json:"new_obj"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`

	IsProcessed bool `gorm:"not null;default:false;index" json:"is_processed"`

	PublishStatus    string     `gorm:"size:20;not null;default:PENDING;index" json:"publish_status"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `json:"next_attempt_at"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         *string    `gorm:"size:64" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	PublishedAt      *time.Time `json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:64" json:"pub_sub_message_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
