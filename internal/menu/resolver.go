package menu

import (
	"github.com/jinzhu/gorm"
	"github.com/shopspring/decimal"

	"github.com/JohnOrlandSudoy/restaurant-server/internal/ledger"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/models"
)

// Resolver answers whether a menu item can currently be fulfilled, given the
// ledger balance and the item's recipe requirements. The check is advisory:
// the order service re-validates against the live ledger at confirm time.
type Resolver struct {
	db     *gorm.DB
	ledger *ledger.Ledger
}

// Shortage describes one ingredient that cannot cover a requirement.
type Shortage struct {
	IngredientID string          `json:"ingredient_id"`
	Required     decimal.Decimal `json:"required"`
	Available    decimal.Decimal `json:"available"`
	Optional     bool            `json:"optional"`
}

// Availability is the result of an availability check. Optional shortages are
// reported but never make the item unavailable.
type Availability struct {
	MenuItemID string     `json:"menu_item_id"`
	Quantity   int        `json:"quantity"`
	Available  bool       `json:"available"`
	Shortages  []Shortage `json:"shortages,omitempty"`
}

// NewResolver creates a resolver over the menu catalog and ledger.
func NewResolver(db *gorm.DB, lgr *ledger.Ledger) *Resolver {
	return &Resolver{db: db, ledger: lgr}
}

// Item loads a menu item with its recipe requirements.
func (r *Resolver) Item(menuItemID string) (*models.MenuItem, error) {
	var item models.MenuItem
	err := r.db.Preload("Requirements").Where("id = ?", menuItemID).First(&item).Error
	if err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, &models.NotFoundError{Entity: "menu item", ID: menuItemID}
		}
		return nil, err
	}
	return &item, nil
}

// Items lists the menu catalog with requirements.
func (r *Resolver) Items() ([]models.MenuItem, error) {
	var items []models.MenuItem
	err := r.db.Preload("Requirements").Order("name").Find(&items).Error
	return items, err
}

// CheckAvailability reports whether quantity units of the menu item are
// satisfiable right now. Every non-optional requirement must be covered;
// optional shortages are flagged only.
func (r *Resolver) CheckAvailability(menuItemID string, quantity int) (*Availability, error) {
	if quantity <= 0 {
		quantity = 1
	}
	item, err := r.Item(menuItemID)
	if err != nil {
		return nil, err
	}

	result := &Availability{
		MenuItemID: menuItemID,
		Quantity:   quantity,
		Available:  true,
	}
	qty := decimal.NewFromInt(int64(quantity))
	for _, req := range item.Requirements {
		needed := req.QuantityPerUnit.Mul(qty)
		available, err := r.ledger.CurrentStock(req.IngredientID)
		if err != nil {
			return nil, err
		}
		if available.GreaterThanOrEqual(needed) {
			continue
		}
		result.Shortages = append(result.Shortages, Shortage{
			IngredientID: req.IngredientID,
			Required:     needed,
			Available:    available,
			Optional:     req.Optional,
		})
		if !req.Optional {
			result.Available = false
		}
	}
	return result, nil
}
