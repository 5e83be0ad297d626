package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentAuthorization tracks an external payment gateway authorization
// against an order. At most one non-terminal authorization exists per order;
// superseded and expired rows are kept for audit.
type PaymentAuthorization struct {
	ID        string            `gorm:"primary_key;size:36" json:"id"`
	OrderID   string            `gorm:"index;size:36;not null" json:"order_id"`
	Amount    decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency  string            `gorm:"size:3" json:"currency"`
	Status    PaymentAuthStatus `gorm:"size:30;not null" json:"status"`
	ExpiresAt time.Time         `json:"expires_at"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// PaymentAuthStatus represents the state of a payment authorization
type PaymentAuthStatus string

const (
	AuthStatusAwaiting  PaymentAuthStatus = "awaiting_payment_method"
	AuthStatusSucceeded PaymentAuthStatus = "succeeded"
	AuthStatusFailed    PaymentAuthStatus = "failed"
	AuthStatusCancelled PaymentAuthStatus = "cancelled"
	AuthStatusExpired   PaymentAuthStatus = "expired"
)

// Terminal reports whether the status is final. Terminal statuses are sticky:
// no transition out of them is ever applied.
func (s PaymentAuthStatus) Terminal() bool {
	switch s {
	case AuthStatusSucceeded, AuthStatusFailed, AuthStatusCancelled, AuthStatusExpired:
		return true
	}
	return false
}

// Valid reports whether s is a known authorization status.
func (s PaymentAuthStatus) Valid() bool {
	return s == AuthStatusAwaiting || s.Terminal()
}
