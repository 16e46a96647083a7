package config

import (
	"os"
	"strings"
)

// CollectionGatewayKind selects the payment rail implementation.
//
// Set via env:
// - COLLECTION_GATEWAY=dwolla|stripe|null
//
// "null" is an explicit test double for local/dev environments. It is never
// chosen implicitly: a missing value means dwolla for ach and stripe for card,
// and missing credentials are a startup error, not a silent no-op.
func CollectionGatewayKind() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("COLLECTION_GATEWAY")))
	switch v {
	case "dwolla", "stripe", "null":
		return v
	}
	return ""
}

// PlatformFundingSource is the platform's Dwolla funding source URL that ACH
// collections settle into.
//
// Set via env:
// - PLATFORM_FUNDING_SOURCE_URL
func PlatformFundingSource() string {
	return os.Getenv("PLATFORM_FUNDING_SOURCE_URL")
}

// PlatformStripeAccount is the platform's Stripe account id that card
// collections settle into.
//
// Set via env:
// - PLATFORM_STRIPE_ACCOUNT
func PlatformStripeAccount() string {
	return os.Getenv("PLATFORM_STRIPE_ACCOUNT")
}

// SchedulerEnabled controls the in-process periodic collection processor.
//
// Set via env:
// - COLLECTION_SCHEDULER_ENABLED=false to disable (e.g. run as a separate job)
//
// Default: enabled. Leadership is coordinated via a redis lock so multiple
// replicas do not double-run a tick.
func SchedulerEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("COLLECTION_SCHEDULER_ENABLED")))
	return v != "false" && v != "0" && v != "no"
}
