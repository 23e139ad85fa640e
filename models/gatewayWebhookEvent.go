package models

import "time"

// GatewayWebhookEvent stores every received payment-gateway callback with
// its processing outcome. Append-only; the reconciler's idempotence guard
// lives on the payment row itself, this table is the audit trail for
// gateway disputes and replay debugging.
type GatewayWebhookEvent struct {
	ID              int        `gorm:"primary_key" json:"id"`
	Provider        string     `gorm:"size:20;not null;index" json:"provider"`
	Reference       string     `gorm:"size:191;not null;index" json:"reference"`
	GatewayStatus   string     `gorm:"size:32;not null" json:"gateway_status"`
	PayloadJSON     string     `gorm:"type:text;not null" json:"payload_json"`
	Outcome         string     `gorm:"size:32;index" json:"outcome"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

// Reconciliation outcomes recorded on GatewayWebhookEvent.
const (
	WebhookOutcomeApplied          = "applied"
	WebhookOutcomeAlreadyProcessed = "already_processed"
	WebhookOutcomeIgnored          = "ignored"
	WebhookOutcomeNotFound         = "not_found"
	WebhookOutcomeError            = "error"
)
