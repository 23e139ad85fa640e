package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// Error taxonomy of the order/payment core. Handlers map these to HTTP codes
// with errors.Is; anything unrecognized is treated as an internal failure.
var (
	// ErrOrderNotFound: the order does not exist or belongs to another restaurant.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidTransition: the requested status change is not reachable from
	// the order's current status. Rejected without mutation.
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrPaymentNotFound: a gateway reference matched neither an order payment
	// nor a subscription payment. Surfaced as 404 so the gateway stops
	// retrying a dead reference.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrUnauthorized: missing/invalid credentials. Rejected before any read.
	ErrUnauthorized = errors.New("unauthorized")
)

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
