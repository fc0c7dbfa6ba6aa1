package orders

import (
	"time"

	"gorm.io/gorm"
)

// IdempotencyRecord maps an intake idempotency key to the order it created,
// so retried submissions of the same fill do not double-ingest.
type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	OrderID        string    `json:"order_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}
