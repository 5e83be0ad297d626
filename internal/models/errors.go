package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InsufficientStockError is returned when a deducting movement would drive an
// ingredient balance negative. The ledger and order are left unchanged.
type InsufficientStockError struct {
	IngredientID string
	Required     decimal.Decimal
	Available    decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock of %s (need: %s, have: %s)",
		e.IngredientID, e.Required, e.Available)
}

// InvalidTransitionError is returned for any status edge outside the allowed
// transition set. No state change accompanies it.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition from %q to %q", e.Entity, e.From, e.To)
}

// InvalidOrderStateError is returned when a payment operation is attempted
// against an order whose payment status does not permit it.
type InvalidOrderStateError struct {
	OrderID       string
	PaymentStatus PaymentStatus
}

func (e *InvalidOrderStateError) Error() string {
	return fmt.Sprintf("order %s payment status %q does not permit this operation",
		e.OrderID, e.PaymentStatus)
}

// AlreadyTerminalError is returned when a caller tries to move a payment
// authorization out of a terminal status. Terminal statuses are sticky.
type AlreadyTerminalError struct {
	AuthorizationID string
	Status          PaymentAuthStatus
}

func (e *AlreadyTerminalError) Error() string {
	return fmt.Sprintf("authorization %s is already terminal (%s)", e.AuthorizationID, e.Status)
}

// ConcurrencyConflictError is returned after bounded retries of an atomic
// ledger or commit operation failed to serialize. The request may be
// resubmitted unchanged.
type ConcurrencyConflictError struct {
	Op  string
	Err error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("%s could not serialize after retries: %v", e.Op, e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() error { return e.Err }

// UnavailableItemsError is returned at order placement when one or more menu
// items are not marked available for sale.
type UnavailableItemsError struct {
	MenuItemIDs []string
}

func (e *UnavailableItemsError) Error() string {
	return fmt.Sprintf("menu items not available for sale: %v", e.MenuItemIDs)
}

// NotFoundError is returned when a referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
