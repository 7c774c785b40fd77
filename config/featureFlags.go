package config

import (
	"os"
	"strings"
)

// AllowDemoPayments skips payment-signature verification for the buyout flow.
// Never enable in production.
//
// Set via env:
// - ALLOW_DEMO_PAYMENTS=true
func AllowDemoPayments() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ALLOW_DEMO_PAYMENTS")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// AllowPartialDeliveries lets admins force a partial daily delivery to be
// recorded even when the day's full quantity cannot be allocated. The default
// policy holds inventory until a full-day allocation is possible.
//
// Set via env:
// - ALLOW_PARTIAL_DELIVERIES=true
func AllowPartialDeliveries() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ALLOW_PARTIAL_DELIVERIES")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
