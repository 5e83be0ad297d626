package ledger

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
	"github.com/shopspring/decimal"

	"github.com/JohnOrlandSudoy/restaurant-server/internal/events"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/models"
)

// Ledger is the sole writer of stock movements and the derived ingredient
// balance. All balance changes serialize through per-ingredient locks, so the
// running fold can never be driven negative by racing callers.
type Ledger struct {
	db         *gorm.DB
	dispatcher events.Dispatcher

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	maxRetries int
	backoff    time.Duration
}

// Entry describes one ingredient demand inside a multi-ingredient commit.
// Optional demands are taken when stock allows and skipped when short;
// required demands abort the whole commit when short.
type Entry struct {
	IngredientID string
	Quantity     decimal.Decimal
	Optional     bool
}

// New creates a ledger over the given database.
func New(db *gorm.DB, dispatcher events.Dispatcher) *Ledger {
	return &Ledger{
		db:         db,
		dispatcher: dispatcher,
		locks:      make(map[string]*sync.Mutex),
		maxRetries: 3,
		backoff:    25 * time.Millisecond,
	}
}

// SetRetryPolicy overrides the bounded retry used for serialization
// conflicts.
func (l *Ledger) SetRetryPolicy(maxRetries int, backoff time.Duration) {
	l.maxRetries = maxRetries
	l.backoff = backoff
}

// lockFor returns the mutex serializing movements for one ingredient.
func (l *Ledger) lockFor(ingredientID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[ingredientID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[ingredientID] = m
	}
	return m
}

// thresholdEvent builds the event emitted when an ingredient's derived status
// crosses a threshold in either direction.
func thresholdEvent(ing *models.Ingredient, from, to models.StockStatus) models.Event {
	return models.NewEvent(models.EventStockThreshold, map[string]interface{}{
		"ingredient_id": ing.ID,
		"name":          ing.Name,
		"from":          string(from),
		"to":            string(to),
		"balance":       ing.CurrentStock.String(),
	})
}

// RecordMovement appends one movement for one ingredient atomically. Deducting
// kinds (out, spoilage, reservation) are rejected with InsufficientStockError
// when the post-movement balance would be negative; adjustments may lower the
// balance but never below zero.
func (l *Ledger) RecordMovement(ingredientID string, kind models.MovementKind, quantity decimal.Decimal, reason, reference, actorID string) (*models.StockMovement, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown movement kind %q", kind)
	}
	if kind != models.MovementAdjustment && quantity.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("movement quantity must be greater than 0")
	}
	if kind == models.MovementAdjustment && quantity.IsZero() {
		return nil, fmt.Errorf("adjustment quantity must be non-zero")
	}

	lock := l.lockFor(ingredientID)
	lock.Lock()

	var movement *models.StockMovement
	var evt *models.Event
	err := l.withRetry("record movement", func() error {
		tx := l.db.Begin()
		if tx.Error != nil {
			return tx.Error
		}
		m, e, err := l.applyMovement(tx, ingredientID, kind, quantity, reason, reference, actorID)
		if err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit().Error; err != nil {
			return err
		}
		movement, evt = m, e
		return nil
	})
	lock.Unlock()

	if err != nil {
		return nil, err
	}
	if evt != nil {
		l.dispatcher.Dispatch(*evt)
	}
	return movement, nil
}

// applyMovement appends one movement row inside tx and updates the derived
// snapshot. Returns a threshold event when the status crossed.
func (l *Ledger) applyMovement(tx *gorm.DB, ingredientID string, kind models.MovementKind, quantity decimal.Decimal, reason, reference, actorID string) (*models.StockMovement, *models.Event, error) {
	var ing models.Ingredient
	if err := tx.Where("id = ?", ingredientID).First(&ing).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, nil, &models.NotFoundError{Entity: "ingredient", ID: ingredientID}
		}
		return nil, nil, err
	}

	delta := quantity
	if kind.Deducts() {
		delta = quantity.Neg()
	}

	newBalance := ing.CurrentStock.Add(delta)
	if newBalance.IsNegative() {
		if kind.Deducts() {
			return nil, nil, &models.InsufficientStockError{
				IngredientID: ingredientID,
				Required:     quantity,
				Available:    ing.CurrentStock,
			}
		}
		return nil, nil, fmt.Errorf("adjustment would drive %s balance negative", ingredientID)
	}

	movement := &models.StockMovement{
		ID:           uuid.New().String(),
		IngredientID: ingredientID,
		Kind:         kind,
		Quantity:     delta,
		Balance:      newBalance,
		Reason:       reason,
		Reference:    reference,
		ActorID:      actorID,
		CreatedAt:    time.Now(),
	}
	if err := tx.Create(movement).Error; err != nil {
		return nil, nil, err
	}

	oldStatus := models.StatusFor(ing.CurrentStock, ing.MinStock)
	newStatus := models.StatusFor(newBalance, ing.MinStock)
	updates := map[string]interface{}{
		"current_stock": newBalance,
		"status":        newStatus,
	}
	if err := tx.Model(&models.Ingredient{}).Where("id = ?", ingredientID).Updates(updates).Error; err != nil {
		return nil, nil, err
	}

	var evt *models.Event
	if oldStatus != newStatus {
		ing.CurrentStock = newBalance
		e := thresholdEvent(&ing, oldStatus, newStatus)
		evt = &e
	}
	return movement, evt, nil
}

// ReserveAll issues reservation movements for every entry in a single
// all-or-nothing commit. A short required entry aborts the whole commit with
// InsufficientStockError; short optional entries are skipped. Entries for the
// same ingredient are merged before locking so each lock is taken once.
func (l *Ledger) ReserveAll(entries []Entry, reason, reference, actorID string) ([]*models.StockMovement, error) {
	demands := mergeEntries(entries)
	if len(demands) == 0 {
		return nil, nil
	}

	unlock := l.lockAll(demands.ingredientIDs())

	var movements []*models.StockMovement
	var evts []models.Event
	err := l.withRetry("reserve stock", func() error {
		tx := l.db.Begin()
		if tx.Error != nil {
			return tx.Error
		}
		movements = movements[:0]
		evts = evts[:0]
		for _, id := range demands.ingredientIDs() {
			d := demands[id]
			qty, err := l.reservableQuantity(tx, id, d)
			if err != nil {
				tx.Rollback()
				return err
			}
			if qty.IsZero() {
				continue
			}
			m, e, err := l.applyMovement(tx, id, models.MovementReservation, qty, reason, reference, actorID)
			if err != nil {
				tx.Rollback()
				return err
			}
			movements = append(movements, m)
			if e != nil {
				evts = append(evts, *e)
			}
		}
		return tx.Commit().Error
	})
	unlock()

	if err != nil {
		return nil, err
	}
	for _, e := range evts {
		l.dispatcher.Dispatch(e)
	}
	return movements, nil
}

// reservableQuantity decides how much of a demand is reserved: the required
// part strictly, the optional part only as far as stock allows.
func (l *Ledger) reservableQuantity(tx *gorm.DB, ingredientID string, d demand) (decimal.Decimal, error) {
	var ing models.Ingredient
	if err := tx.Where("id = ?", ingredientID).First(&ing).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return decimal.Zero, &models.NotFoundError{Entity: "ingredient", ID: ingredientID}
		}
		return decimal.Zero, err
	}
	if ing.CurrentStock.LessThan(d.required) {
		return decimal.Zero, &models.InsufficientStockError{
			IngredientID: ingredientID,
			Required:     d.required,
			Available:    ing.CurrentStock,
		}
	}
	qty := d.required
	if remaining := ing.CurrentStock.Sub(d.required); remaining.GreaterThanOrEqual(d.optional) {
		qty = qty.Add(d.optional)
	}
	return qty, nil
}

// ReleaseAll restores every quantity still reserved under the given
// reference, atomically across ingredients. Safe to call when nothing is
// outstanding.
func (l *Ledger) ReleaseAll(reference, reason, actorID string) ([]*models.StockMovement, error) {
	outstanding, err := l.ReservedFor(reference)
	if err != nil {
		return nil, err
	}
	if len(outstanding) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(outstanding))
	for id := range outstanding {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	unlock := l.lockAll(ids)

	var movements []*models.StockMovement
	var evts []models.Event
	err = l.withRetry("release stock", func() error {
		tx := l.db.Begin()
		if tx.Error != nil {
			return tx.Error
		}
		movements = movements[:0]
		evts = evts[:0]
		for _, id := range ids {
			m, e, err := l.applyMovement(tx, id, models.MovementRelease, outstanding[id], reason, reference, actorID)
			if err != nil {
				tx.Rollback()
				return err
			}
			movements = append(movements, m)
			if e != nil {
				evts = append(evts, *e)
			}
		}
		return tx.Commit().Error
	})
	unlock()

	if err != nil {
		return nil, err
	}
	for _, e := range evts {
		l.dispatcher.Dispatch(e)
	}
	return movements, nil
}

// ReservedFor folds the reservation and release movements recorded under a
// reference into the net outstanding quantity per ingredient.
func (l *Ledger) ReservedFor(reference string) (map[string]decimal.Decimal, error) {
	var movements []models.StockMovement
	err := l.db.
		Where("reference = ? AND kind IN (?)", reference,
			[]string{string(models.MovementReservation), string(models.MovementRelease)}).
		Order("created_at").
		Find(&movements).Error
	if err != nil {
		return nil, err
	}

	net := make(map[string]decimal.Decimal)
	for _, m := range movements {
		// Reservation deltas are negative, releases positive; outstanding
		// is the negated sum.
		net[m.IngredientID] = net[m.IngredientID].Sub(m.Quantity)
	}
	for id, qty := range net {
		if qty.LessThanOrEqual(decimal.Zero) {
			delete(net, id)
		}
	}
	return net, nil
}

// CurrentStock returns the committed balance of an ingredient.
func (l *Ledger) CurrentStock(ingredientID string) (decimal.Decimal, error) {
	var ing models.Ingredient
	if err := l.db.Where("id = ?", ingredientID).First(&ing).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return decimal.Zero, &models.NotFoundError{Entity: "ingredient", ID: ingredientID}
		}
		return decimal.Zero, err
	}
	return ing.CurrentStock, nil
}

// Ingredients returns all ingredients with their status recomputed from the
// stored balance.
func (l *Ledger) Ingredients() ([]models.Ingredient, error) {
	var ingredients []models.Ingredient
	if err := l.db.Order("name").Find(&ingredients).Error; err != nil {
		return nil, err
	}
	for i := range ingredients {
		ingredients[i].Status = models.StatusFor(ingredients[i].CurrentStock, ingredients[i].MinStock)
	}
	return ingredients, nil
}

// Movements returns the movement history of one ingredient, oldest first.
func (l *Ledger) Movements(ingredientID string) ([]models.StockMovement, error) {
	var movements []models.StockMovement
	err := l.db.Where("ingredient_id = ?", ingredientID).Order("created_at").Find(&movements).Error
	return movements, err
}

// FoldBalance recomputes the balance of an ingredient from its full movement
// history. Used for audit; the result must equal CurrentStock.
func (l *Ledger) FoldBalance(ingredientID string) (decimal.Decimal, error) {
	movements, err := l.Movements(ingredientID)
	if err != nil {
		return decimal.Zero, err
	}
	balance := decimal.Zero
	for _, m := range movements {
		balance = balance.Add(m.Quantity)
	}
	return balance, nil
}

// lockAll acquires the locks for the given ingredient ids in sorted order and
// returns a function releasing them in reverse. Sorted acquisition keeps
// competing multi-ingredient commits deadlock-free.
func (l *Ledger) lockAll(ids []string) func() {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	locks := make([]*sync.Mutex, 0, len(sorted))
	for _, id := range sorted {
		m := l.lockFor(id)
		m.Lock()
		locks = append(locks, m)
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// demand is the merged required/optional quantity for one ingredient.
type demand struct {
	required decimal.Decimal
	optional decimal.Decimal
}

type demandSet map[string]demand

func (d demandSet) ingredientIDs() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// mergeEntries sums duplicate ingredient entries, keeping required and
// optional quantities separate.
func mergeEntries(entries []Entry) demandSet {
	demands := make(demandSet)
	for _, e := range entries {
		if e.Quantity.LessThanOrEqual(decimal.Zero) {
			continue
		}
		d := demands[e.IngredientID]
		if e.Optional {
			d.optional = d.optional.Add(e.Quantity)
		} else {
			d.required = d.required.Add(e.Quantity)
		}
		demands[e.IngredientID] = d
	}
	return demands
}

// withRetry runs fn, retrying serialization failures a bounded number of
// times with exponential backoff. Business-rule failures are returned
// immediately; exhausted retries surface as ConcurrencyConflictError so the
// caller knows the request may be resubmitted unchanged.
func (l *Ledger) withRetry(op string, fn func() error) error {
	backoff := l.backoff
	var err error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		err = fn()
		if err == nil || !isSerializationFailure(err) {
			return err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return &models.ConcurrencyConflictError{Op: op, Err: err}
}

// isSerializationFailure reports whether the error is a transient conflict
// worth retrying.
func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "could not serialize") ||
		strings.Contains(msg, "deadlock")
}
