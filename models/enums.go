package models

// OrderStatus is the order lifecycle state. Transitions are forward-only:
// pending -> preparing -> ready -> delivered, with cancelled reachable from
// any non-terminal state. Terminal states admit no further transition.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderStatuses = map[string]OrderStatus{
	"pending":   OrderStatusPending,
	"preparing": OrderStatusPreparing,
	"ready":     OrderStatusReady,
	"delivered": OrderStatusDelivered,
	"cancelled": OrderStatusCancelled,
}

func ParseOrderStatus(s string) (OrderStatus, bool) {
	st, ok := orderStatuses[s]
	return st, ok
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransition reports whether the edge s -> to exists in the lifecycle
// graph. Same-status is allowed as a no-op everywhere.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	if s == to {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	if to == OrderStatusCancelled {
		return true
	}
	switch s {
	case OrderStatusPending:
		return to == OrderStatusPreparing
	case OrderStatusPreparing:
		return to == OrderStatusReady
	case OrderStatusReady:
		return to == OrderStatusDelivered
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// IsTerminal reports whether the payment has already been reconciled.
// A terminal payment is never mutated again (webhook redelivery is a no-op).
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusConfirmed || s == PaymentStatusFailed
}

type PaymentMethod string

const (
	PaymentMethodMobileMoney PaymentMethod = "mobile_money"
	PaymentMethodCard        PaymentMethod = "card"
	PaymentMethodCash        PaymentMethod = "cash"
	PaymentMethodManual      PaymentMethod = "manual"
)

var paymentMethods = map[string]PaymentMethod{
	"mobile_money": PaymentMethodMobileMoney,
	"card":         PaymentMethodCard,
	"cash":         PaymentMethodCash,
	"manual":       PaymentMethodManual,
}

func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	m, ok := paymentMethods[s]
	return m, ok
}

// GatewayStatus is the payment gateway's own callback vocabulary. Anything
// outside SUCCESSFUL/FAILED is acknowledged and ignored.
type GatewayStatus string

const (
	GatewayStatusSuccessful GatewayStatus = "SUCCESSFUL"
	GatewayStatusFailed     GatewayStatus = "FAILED"
)

type SubscriptionStatus string

const (
	SubscriptionStatusTrial   SubscriptionStatus = "trial"
	SubscriptionStatusActive  SubscriptionStatus = "active"
	SubscriptionStatusExpired SubscriptionStatus = "expired"
)

type SubscriptionPlan string

const (
	SubscriptionPlanStarter  SubscriptionPlan = "starter"
	SubscriptionPlanStandard SubscriptionPlan = "standard"
	SubscriptionPlanPremium  SubscriptionPlan = "premium"
)

type ProductType string

const (
	// Physical products may carry stock; service products never do.
	ProductTypePhysical ProductType = "physical"
	ProductTypeService  ProductType = "service"
)

type UserRole string

const (
	UserRoleAdmin   UserRole = "Admin"
	UserRoleOwner   UserRole = "Owner"
	UserRoleStaff   UserRole = "Staff"
	UserRoleKitchen UserRole = "Kitchen"
)

type LogLevel string

const (
	LogLevelInfo     LogLevel = "info"
	LogLevelWarning  LogLevel = "warning"
	LogLevelError    LogLevel = "error"
	LogLevelCritical LogLevel = "critical"
)

// Outbox publish lifecycle (order event records).
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// Outbox reference types.
const (
	EventReferenceTypeOrder        = "order"
	EventReferenceTypePayment      = "payment"
	EventReferenceTypeSubscription = "subscription"
	EventReferenceTypeProduct      = "product"
)

// Outbox actions.
const (
	EventActionOrderCreated          = "order.created"
	EventActionOrderStatusChanged    = "order.status_changed"
	EventActionPaymentReconciled     = "payment.reconciled"
	EventActionSubscriptionActivated = "subscription.activated"
)
