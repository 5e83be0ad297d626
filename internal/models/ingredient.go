package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ingredient represents a stock-tracked ingredient. CurrentStock is a derived
// snapshot of the movement ledger, maintained in the same transaction as every
// movement append; the ledger remains the source of truth.
type Ingredient struct {
	ID           string          `gorm:"primary_key;size:36" json:"id"`
	Name         string          `gorm:"not null" json:"name"`
	Unit         string          `json:"unit"`
	CurrentStock decimal.Decimal `gorm:"type:decimal(20,4)" json:"current_stock"`
	MinStock     decimal.Decimal `gorm:"type:decimal(20,4)" json:"min_stock"`
	MaxStock     decimal.Decimal `gorm:"type:decimal(20,4)" json:"max_stock"`
	Status       StockStatus     `gorm:"size:20" json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// StockStatus represents the derived availability status of an ingredient
type StockStatus string

const (
	// Stock statuses
	StockSufficient StockStatus = "sufficient"
	StockLow        StockStatus = "low"
	StockOut        StockStatus = "out"
)

// StatusFor projects a balance onto a stock status. The stored Status column
// is never written except with the output of this function.
func StatusFor(balance, minStock decimal.Decimal) StockStatus {
	switch {
	case balance.LessThanOrEqual(decimal.Zero):
		return StockOut
	case balance.LessThanOrEqual(minStock):
		return StockLow
	default:
		return StockSufficient
	}
}

// MovementKind represents the kind of a stock movement
type MovementKind string

const (
	// Movement kinds
	MovementIn          MovementKind = "in"
	MovementOut         MovementKind = "out"
	MovementAdjustment  MovementKind = "adjustment"
	MovementSpoilage    MovementKind = "spoilage"
	MovementReservation MovementKind = "reservation"
	MovementRelease     MovementKind = "release"
)

// Deducts reports whether the kind decrements the balance and is therefore
// subject to the non-negativity check.
func (k MovementKind) Deducts() bool {
	switch k {
	case MovementOut, MovementSpoilage, MovementReservation:
		return true
	}
	return false
}

// Valid reports whether the kind is one of the known movement kinds.
func (k MovementKind) Valid() bool {
	switch k {
	case MovementIn, MovementOut, MovementAdjustment, MovementSpoilage,
		MovementReservation, MovementRelease:
		return true
	}
	return false
}

// StockMovement is an append-only ledger entry. Quantity is the signed delta
// applied to the ingredient balance; Balance is the running balance after the
// movement. Rows are never updated or deleted once written.
type StockMovement struct {
	ID           string          `gorm:"primary_key;size:36" json:"id"`
	IngredientID string          `gorm:"index;size:36;not null" json:"ingredient_id"`
	Kind         MovementKind    `gorm:"size:20;not null" json:"kind"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Balance      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"balance"`
	Reason       string          `json:"reason"`
	Reference    string          `gorm:"index;size:64" json:"reference"`
	ActorID      string          `gorm:"size:36" json:"actor_id"`
	CreatedAt    time.Time       `json:"created_at"`
}
