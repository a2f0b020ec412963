package models

import "time"

// Deposit order statuses. Completed is terminal. Expired is a soft state:
// a matching payment arriving late still completes the order.
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
	OrderStatusExpired   = "expired"
)

// DepositOrder tracks a token purchase awaiting an external payment
// confirmation. OrderCode is the external-facing correlation key carried in
// the bank transfer memo; PaymentRef is the payment provider's idempotency
// key and is applied at most once.
type DepositOrder struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UserID      uint       `gorm:"index;not null" json:"user_id"`
	OrderCode   string     `gorm:"uniqueIndex;size:32;not null" json:"order_code"`
	Status      string     `gorm:"index;size:10;not null" json:"status"`
	Amount      int64      `gorm:"not null" json:"amount"`
	TokenAmount int64      `gorm:"not null" json:"token_amount"`
	PaymentRef  string     `gorm:"index;size:64" json:"payment_ref,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	ExpiresAt   time.Time  `gorm:"index;not null" json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (DepositOrder) TableName() string { return "deposit_orders" }
