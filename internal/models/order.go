package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Order represents a customer order. Totals are always recomputed from the
// lines; Status and PaymentStatus only change through the order service and
// payment engine respectively.
type Order struct {
	ID            string          `gorm:"primary_key;size:36" json:"id"`
	OrderNumber   string          `gorm:"unique_index;size:32;not null" json:"order_number"`
	Lines         []OrderLine     `gorm:"foreignkey:OrderID" json:"lines"`
	Status        OrderStatus     `gorm:"size:20;not null" json:"status"`
	PaymentStatus PaymentStatus   `gorm:"size:30;not null" json:"payment_status"`
	Subtotal      decimal.Decimal `gorm:"type:decimal(20,4)" json:"subtotal"`
	Discount      decimal.Decimal `gorm:"type:decimal(20,4)" json:"discount"`
	Tax           decimal.Decimal `gorm:"type:decimal(20,4)" json:"tax"`
	Total         decimal.Decimal `gorm:"type:decimal(20,4)" json:"total"`
	CancelReason  string          `json:"cancel_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// OrderStatus represents the possible states of an order
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// orderTransitions is the full set of legal status edges. Terminal states
// have no outgoing edges.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing: {OrderStatusReady, OrderStatusCancelled},
	OrderStatusReady:     {OrderStatusCompleted},
	OrderStatusCompleted: {},
	OrderStatusCancelled: {},
}

// CanTransitionTo reports whether the edge s -> next is legal.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing edges.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// Cancellable reports whether an order in this status may still be cancelled.
func (s OrderStatus) Cancellable() bool {
	return s == OrderStatusPending || s == OrderStatusConfirmed || s == OrderStatusPreparing
}

// PaymentStatus represents the payment state of an order
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusAwaiting PaymentStatus = "awaiting_authorization"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusFailed   PaymentStatus = "failed"
)

// LineStatus represents the kitchen-side state of a single order line
type LineStatus string

const (
	LineStatusPending   LineStatus = "pending"
	LineStatusPreparing LineStatus = "preparing"
	LineStatusReady     LineStatus = "ready"
)

// CanTransitionTo reports whether the line edge s -> next is legal.
func (s LineStatus) CanTransitionTo(next LineStatus) bool {
	switch s {
	case LineStatusPending:
		return next == LineStatusPreparing
	case LineStatusPreparing:
		return next == LineStatusReady
	}
	return false
}

// OrderLine represents an item in an order. UnitPrice and the recipe
// requirements are snapshots taken at placement time; lines are immutable
// once the order leaves pending, except for Status.
type OrderLine struct {
	ID               string          `gorm:"primary_key;size:36" json:"id"`
	OrderID          string          `gorm:"index;size:36;not null" json:"order_id"`
	MenuItemID       string          `gorm:"size:36;not null" json:"menu_item_id"`
	Name             string          `json:"name"`
	Quantity         int             `gorm:"not null" json:"quantity"`
	UnitPrice        decimal.Decimal `gorm:"type:decimal(20,4)" json:"unit_price"`
	Customizations   string          `json:"customizations,omitempty"`
	Status           LineStatus      `gorm:"size:20;not null" json:"status"`
	RequirementsJSON string          `gorm:"type:text" json:"-"`
	// Transient field (ignored by GORM)
	Requirements []LineRequirement `gorm:"-" json:"requirements,omitempty"`
}

// LineRequirement is the immutable per-line snapshot of a recipe requirement
type LineRequirement struct {
	IngredientID    string          `json:"ingredient_id"`
	QuantityPerUnit decimal.Decimal `json:"quantity_per_unit"`
	Optional        bool            `json:"optional"`
}

// GetRequirements returns the deserialized requirement snapshot
func (l *OrderLine) GetRequirements() ([]LineRequirement, error) {
	if len(l.Requirements) > 0 {
		return l.Requirements, nil
	}
	var reqs []LineRequirement
	if l.RequirementsJSON == "" {
		return reqs, nil
	}
	if err := json.Unmarshal([]byte(l.RequirementsJSON), &reqs); err != nil {
		return nil, err
	}
	l.Requirements = reqs
	return reqs, nil
}

// SetRequirements serializes the requirement snapshot for storage
func (l *OrderLine) SetRequirements(reqs []LineRequirement) error {
	data, err := json.Marshal(reqs)
	if err != nil {
		return err
	}
	l.RequirementsJSON = string(data)
	l.Requirements = reqs
	return nil
}

// RecomputeTotals derives subtotal and total from the lines.
// total = subtotal - discount + tax.
func (o *Order) RecomputeTotals() {
	subtotal := decimal.Zero
	for _, line := range o.Lines {
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	o.Subtotal = subtotal
	o.Total = subtotal.Sub(o.Discount).Add(o.Tax)
}

// AllLinesReady reports whether every line has reached ready.
func (o *Order) AllLinesReady() bool {
	if len(o.Lines) == 0 {
		return false
	}
	for _, line := range o.Lines {
		if line.Status != LineStatusReady {
			return false
		}
	}
	return true
}
