// Package jobs holds the background work run by cmd/worker.
package jobs

// Job type constants, used as metric labels and in logs.
const (
	JobTypeRelayOutbox         = "outbox:relay"
	JobTypeCleanupExpiredCarts = "cleanup:expired_carts"
	JobTypeOrderConfirmation   = "email:order_confirmation"
)
