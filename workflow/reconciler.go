package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// GatewayCallback is the parsed webhook payload. Status uses the gateway's
// own vocabulary; anything outside SUCCESSFUL/FAILED is acknowledged and
// ignored.
type GatewayCallback struct {
	Reference string `json:"reference" validate:"required"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

type ReconcileResult struct {
	Outcome        string `json:"outcome"`
	PaymentKind    string `json:"payment_kind,omitempty"`
	PaymentId      int    `json:"payment_id,omitempty"`
	OrderId        int    `json:"order_id,omitempty"`
	SubscriptionId int    `json:"subscription_id,omitempty"`
}

const (
	paymentKindOrder        = "order"
	paymentKindSubscription = "subscription"
)

// PaymentReconciler maps asynchronous gateway callbacks onto internal
// payment/order/subscription state. Exactly-once side effects are
// guaranteed by the terminal-status guard: a payment already reconciled is
// never touched again, so redelivered callbacks are safe no-ops.
type PaymentReconciler struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Provider string
}

func NewPaymentReconciler(db *gorm.DB, logger *logrus.Logger, provider string) *PaymentReconciler {
	return &PaymentReconciler{DB: db, Logger: logger, Provider: provider}
}

func (r *PaymentReconciler) Process(ctx context.Context, cb GatewayCallback) (*ReconcileResult, error) {
	result, procErr := r.process(ctx, cb)
	r.recordEvent(ctx, cb, result, procErr)
	return result, procErr
}

func (r *PaymentReconciler) process(ctx context.Context, cb GatewayCallback) (*ReconcileResult, error) {
	status := models.GatewayStatus(strings.ToUpper(strings.TrimSpace(cb.Status)))
	if status != models.GatewayStatusSuccessful && status != models.GatewayStatusFailed {
		// Unknown vocabulary: acknowledge and ignore so the gateway stops
		// resending whatever intermediate state this is.
		return &ReconcileResult{Outcome: models.WebhookOutcomeIgnored}, nil
	}

	kind, orderPayment, subPayment, err := r.resolveReference(ctx, cb.Reference)
	if err != nil {
		if errors.Is(err, utils.ErrPaymentNotFound) {
			return &ReconcileResult{Outcome: models.WebhookOutcomeNotFound}, err
		}
		return &ReconcileResult{Outcome: models.WebhookOutcomeError}, err
	}

	switch kind {
	case paymentKindOrder:
		return r.reconcileOrderPayment(ctx, orderPayment, status, cb.Message)
	default:
		return r.reconcileSubscriptionPayment(ctx, subPayment, status, cb.Message)
	}
}

// resolveReference prefers the tagged form ("order:<id>" /
// "subscription:<id>") issued with every new bill; a bare reference falls
// back to the legacy lookup by gateway transaction id, order payments
// first.
func (r *PaymentReconciler) resolveReference(ctx context.Context, reference string) (string, *models.Payment, *models.SubscriptionPayment, error) {
	// The reconciler is tenant-agnostic; the payment row names its tenant.
	scopeless := utils.SetSkipTenantScopeInContext(ctx, true)
	db := r.DB.WithContext(scopeless)

	if id, ok := strings.CutPrefix(reference, "order:"); ok {
		paymentId, err := strconv.Atoi(id)
		if err != nil {
			return "", nil, nil, utils.ErrPaymentNotFound
		}
		var payment models.Payment
		if err := db.Where("id = ?", paymentId).First(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return "", nil, nil, utils.ErrPaymentNotFound
			}
			return "", nil, nil, err
		}
		return paymentKindOrder, &payment, nil, nil
	}

	if id, ok := strings.CutPrefix(reference, "subscription:"); ok {
		paymentId, err := strconv.Atoi(id)
		if err != nil {
			return "", nil, nil, utils.ErrPaymentNotFound
		}
		var payment models.SubscriptionPayment
		if err := db.Where("id = ?", paymentId).First(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return "", nil, nil, utils.ErrPaymentNotFound
			}
			return "", nil, nil, err
		}
		return paymentKindSubscription, nil, &payment, nil
	}

	var payment models.Payment
	err := db.Where("transaction_id = ?", reference).First(&payment).Error
	if err == nil {
		return paymentKindOrder, &payment, nil, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, nil, err
	}

	var subPayment models.SubscriptionPayment
	err = db.Where("transaction_id = ?", reference).First(&subPayment).Error
	if err == nil {
		return paymentKindSubscription, nil, &subPayment, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, nil, err
	}
	return "", nil, nil, utils.ErrPaymentNotFound
}

func (r *PaymentReconciler) reconcileOrderPayment(ctx context.Context, payment *models.Payment, status models.GatewayStatus, message string) (*ReconcileResult, error) {
	result := &ReconcileResult{
		PaymentKind: paymentKindOrder,
		PaymentId:   payment.ID,
		OrderId:     payment.OrderId,
	}
	if payment.Status.IsTerminal() {
		// Gateway redelivery: the payment was reconciled before; applying it
		// again would re-fire the order transition and the stock decrement.
		result.Outcome = models.WebhookOutcomeAlreadyProcessed
		return result, nil
	}

	ctx = utils.SetRestaurantIdInContext(ctx, payment.RestaurantId)
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if status == models.GatewayStatusSuccessful {
			if err := tx.Model(&models.Payment{}).Where("id = ?", payment.ID).Updates(map[string]interface{}{
				"status":  models.PaymentStatusPaid,
				"paid_at": &now,
			}).Error; err != nil {
				return err
			}
			payment.Status = models.PaymentStatusPaid
			// The reconciler is the one non-manual caller allowed to drive
			// this transition.
			if _, err := models.SetOrderStatusTx(ctx, tx, payment.OrderId, models.OrderStatusPreparing, ""); err != nil {
				return err
			}
		} else {
			reason := message
			if reason == "" {
				reason = "payment failed"
			}
			if err := tx.Model(&models.Payment{}).Where("id = ?", payment.ID).Updates(map[string]interface{}{
				"status":         models.PaymentStatusFailed,
				"failure_reason": &reason,
			}).Error; err != nil {
				return err
			}
			payment.Status = models.PaymentStatusFailed
			// Current policy cancels on first failure, with no retry window.
			if _, err := models.SetOrderStatusTx(ctx, tx, payment.OrderId, models.OrderStatusCancelled,
				fmt.Sprintf("payment failed: %s", reason)); err != nil {
				return err
			}
		}
		return models.PublishOrderEvent(ctx, tx, payment.RestaurantId, payment.ID,
			models.EventReferenceTypePayment, models.EventActionPaymentReconciled, nil, payment)
	})
	if err != nil {
		result.Outcome = models.WebhookOutcomeError
		return result, err
	}
	result.Outcome = models.WebhookOutcomeApplied
	return result, nil
}

func (r *PaymentReconciler) reconcileSubscriptionPayment(ctx context.Context, payment *models.SubscriptionPayment, status models.GatewayStatus, message string) (*ReconcileResult, error) {
	result := &ReconcileResult{
		PaymentKind:    paymentKindSubscription,
		PaymentId:      payment.ID,
		SubscriptionId: payment.SubscriptionId,
	}
	if payment.Status.IsTerminal() {
		result.Outcome = models.WebhookOutcomeAlreadyProcessed
		return result, nil
	}

	ctx = utils.SetRestaurantIdInContext(ctx, payment.RestaurantId)
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if status == models.GatewayStatusSuccessful {
			if err := tx.Model(&models.SubscriptionPayment{}).Where("id = ?", payment.ID).Updates(map[string]interface{}{
				"status":       models.PaymentStatusConfirmed,
				"paid_at":      &now,
				"validated_at": &now,
			}).Error; err != nil {
				return err
			}
			payment.Status = models.PaymentStatusConfirmed
			// PeriodEnd was fixed when the bill was issued.
			if err := tx.Model(&models.Subscription{}).Where("id = ?", payment.SubscriptionId).Updates(map[string]interface{}{
				"status":               models.SubscriptionStatusActive,
				"current_period_start": &now,
				"current_period_end":   payment.PeriodEnd,
			}).Error; err != nil {
				return err
			}
			// A suspended tenant comes back on successful renewal.
			scopeless := utils.SetSkipTenantScopeInContext(ctx, true)
			if err := tx.WithContext(scopeless).Model(&models.Restaurant{}).
				Where("id = ? AND is_active = ?", payment.RestaurantId, false).
				Update("is_active", true).Error; err != nil {
				return err
			}
			if err := models.PublishOrderEvent(ctx, tx, payment.RestaurantId, payment.SubscriptionId,
				models.EventReferenceTypeSubscription, models.EventActionSubscriptionActivated, nil, payment); err != nil {
				return err
			}
		} else {
			reason := message
			if reason == "" {
				reason = "payment failed"
			}
			if err := tx.Model(&models.SubscriptionPayment{}).Where("id = ?", payment.ID).Updates(map[string]interface{}{
				"status":         models.PaymentStatusFailed,
				"failure_reason": &reason,
			}).Error; err != nil {
				return err
			}
			payment.Status = models.PaymentStatusFailed
		}
		return nil
	})
	if err != nil {
		result.Outcome = models.WebhookOutcomeError
		return result, err
	}
	result.Outcome = models.WebhookOutcomeApplied
	return result, nil
}

// recordEvent appends the callback to the gateway audit table. Best-effort:
// an audit failure is logged but never masks or replaces the processing
// outcome.
func (r *PaymentReconciler) recordEvent(ctx context.Context, cb GatewayCallback, result *ReconcileResult, procErr error) {
	payload, _ := json.Marshal(cb)
	now := time.Now().UTC()
	event := models.GatewayWebhookEvent{
		Provider:      r.Provider,
		Reference:     cb.Reference,
		GatewayStatus: cb.Status,
		PayloadJSON:   string(payload),
		ProcessedAt:   &now,
	}
	if result != nil {
		event.Outcome = result.Outcome
	}
	if procErr != nil {
		event.ProcessingError = procErr.Error()
	}
	if err := r.DB.WithContext(ctx).Create(&event).Error; err != nil {
		r.Logger.WithFields(logrus.Fields{
			"module":    "workflow",
			"funcName":  "recordEvent",
			"reference": cb.Reference,
		}).Warn("failed to record gateway webhook event: " + err.Error())
	}
}
