package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SystemLog is the append-only audit trail. Rows are never updated; the log
// retention sweep deletes them in bulk under a level-dependent policy
// (info/warning after 30 days, error after 90, critical kept).
type SystemLog struct {
	ID           int       `gorm:"primary_key" json:"id"`
	RestaurantId *string   `gorm:"size:64;index" json:"restaurant_id"`
	Level        LogLevel  `gorm:"size:10;not null;index" json:"level"`
	Action       string    `gorm:"size:100;not null;index" json:"action"`
	Payload      string    `gorm:"type:text" json:"payload"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// WriteSystemLog appends one audit entry. The payload is marshalled to JSON;
// a marshal failure degrades to the raw %v rendering rather than dropping
// the entry.
func WriteSystemLog(db *gorm.DB, restaurantId *string, level LogLevel, action string, payload any) error {
	body := ""
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			body = string(b)
		} else {
			body = fmt.Sprintf("%v", payload)
		}
	}
	entry := SystemLog{
		RestaurantId: restaurantId,
		Level:        level,
		Action:       action,
		Payload:      body,
	}
	return db.Create(&entry).Error
}
