package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MenuItem represents a dish available for sale
type MenuItem struct {
	ID           string              `gorm:"primary_key;size:36" json:"id"`
	Name         string              `gorm:"not null" json:"name"`
	Category     string              `json:"category"`
	Price        decimal.Decimal     `gorm:"type:decimal(20,4)" json:"price"`
	Available    bool                `json:"available"`
	Requirements []RecipeRequirement `gorm:"foreignkey:MenuItemID" json:"requirements,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// MenuCategory represents the category of a menu item
type MenuCategory string

const (
	// Menu categories
	MenuCategoryAppetizer MenuCategory = "appetizer"
	MenuCategoryEntree    MenuCategory = "entree"
	MenuCategorySide      MenuCategory = "side"
	MenuCategoryDessert   MenuCategory = "dessert"
	MenuCategoryBeverage  MenuCategory = "beverage"
	MenuCategorySpecialty MenuCategory = "specialty"
)

// RecipeRequirement represents one ingredient requirement of a menu item.
// Orders snapshot requirements at placement time, so later recipe edits never
// change what a historical order deducts.
type RecipeRequirement struct {
	ID              string          `gorm:"primary_key;size:36" json:"id"`
	MenuItemID      string          `gorm:"index;size:36;not null" json:"menu_item_id"`
	IngredientID    string          `gorm:"size:36;not null" json:"ingredient_id"`
	QuantityPerUnit decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity_per_unit"`
	Optional        bool            `json:"optional"`
}

// ValidateMenuItem validates a menu item
func ValidateMenuItem(item *MenuItem) error {
	if item.Name == "" {
		return fmt.Errorf("menu item name is required")
	}
	if item.Price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("menu item price must be greater than 0")
	}
	for _, req := range item.Requirements {
		if req.IngredientID == "" {
			return fmt.Errorf("recipe requirement is missing an ingredient id")
		}
		if req.QuantityPerUnit.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("recipe requirement quantity must be greater than 0")
		}
	}
	return nil
}

// IsInCategory checks if the item belongs to a specific category
func (mi *MenuItem) IsInCategory(category MenuCategory) bool {
	return mi.Category == string(category)
}
