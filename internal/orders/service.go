package orders

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
	"github.com/shopspring/decimal"

	"github.com/JohnOrlandSudoy/restaurant-server/internal/events"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/ledger"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/menu"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/models"
)

// Service owns the order aggregate: its lines, totals and lifecycle status.
// Stock commitment happens only here, at Confirm, through the ledger's
// all-or-nothing reservation path.
type Service struct {
	db         *gorm.DB
	ledger     *ledger.Ledger
	resolver   *menu.Resolver
	dispatcher events.Dispatcher

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// PlacedLine is one requested line at order placement.
type PlacedLine struct {
	MenuItemID     string `json:"menu_item_id" binding:"required"`
	Quantity       int    `json:"quantity" binding:"required"`
	Customizations string `json:"customizations"`
}

// NewService creates an order service.
func NewService(db *gorm.DB, lgr *ledger.Ledger, resolver *menu.Resolver, dispatcher events.Dispatcher) *Service {
	return &Service{
		db:         db,
		ledger:     lgr,
		resolver:   resolver,
		dispatcher: dispatcher,
		locks:      make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing lifecycle changes of one order.
func (s *Service) lockFor(orderID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[orderID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[orderID] = m
	}
	return m
}

// reference tags ledger movements with the order that caused them, so cancel
// can release exactly what confirm reserved.
func reference(orderID string) string {
	return "order:" + orderID
}

// newOrderNumber builds a human-presentable unique order number.
func newOrderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6])
	return fmt.Sprintf("ORD-%s-%s", time.Now().Format("20060102"), suffix)
}

// Place creates a pending order from the requested lines. Menu items must be
// marked available for sale; unit prices and recipe requirements are
// snapshotted onto the lines. The ledger is not touched.
func (s *Service) Place(lines []PlacedLine, discount, tax decimal.Decimal) (*models.Order, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("order must have at least one line")
	}
	if discount.IsNegative() || tax.IsNegative() {
		return nil, fmt.Errorf("discount and tax must not be negative")
	}

	order := &models.Order{
		ID:            uuid.New().String(),
		OrderNumber:   newOrderNumber(),
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusUnpaid,
		Discount:      discount,
		Tax:           tax,
		CreatedAt:     time.Now(),
	}

	var unavailable []string
	for _, pl := range lines {
		if pl.Quantity <= 0 {
			return nil, fmt.Errorf("line quantity must be greater than 0")
		}
		item, err := s.resolver.Item(pl.MenuItemID)
		if err != nil {
			return nil, err
		}
		if !item.Available {
			unavailable = append(unavailable, item.ID)
			continue
		}

		line := models.OrderLine{
			ID:             uuid.New().String(),
			OrderID:        order.ID,
			MenuItemID:     item.ID,
			Name:           item.Name,
			Quantity:       pl.Quantity,
			UnitPrice:      item.Price,
			Customizations: pl.Customizations,
			Status:         models.LineStatusPending,
		}
		reqs := make([]models.LineRequirement, 0, len(item.Requirements))
		for _, req := range item.Requirements {
			reqs = append(reqs, models.LineRequirement{
				IngredientID:    req.IngredientID,
				QuantityPerUnit: req.QuantityPerUnit,
				Optional:        req.Optional,
			})
		}
		if err := line.SetRequirements(reqs); err != nil {
			return nil, err
		}
		order.Lines = append(order.Lines, line)
	}
	if len(unavailable) > 0 {
		return nil, &models.UnavailableItemsError{MenuItemIDs: unavailable}
	}

	order.RecomputeTotals()

	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	if err := tx.Create(order).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	for i := range order.Lines {
		if err := tx.Create(&order.Lines[i]).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return order, nil
}

// Get loads an order with its lines.
func (s *Service) Get(orderID string) (*models.Order, error) {
	var order models.Order
	err := s.db.Preload("Lines").Where("id = ?", orderID).First(&order).Error
	if err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, &models.NotFoundError{Entity: "order", ID: orderID}
		}
		return nil, err
	}
	return &order, nil
}

// List returns all orders, newest first.
func (s *Service) List() ([]models.Order, error) {
	var orders []models.Order
	err := s.db.Preload("Lines").Order("created_at desc").Find(&orders).Error
	return orders, err
}

// reservationEntries gathers every recipe requirement across all lines.
func reservationEntries(order *models.Order) ([]ledger.Entry, error) {
	var entries []ledger.Entry
	for i := range order.Lines {
		line := &order.Lines[i]
		reqs, err := line.GetRequirements()
		if err != nil {
			return nil, err
		}
		qty := decimal.NewFromInt(int64(line.Quantity))
		for _, req := range reqs {
			entries = append(entries, ledger.Entry{
				IngredientID: req.IngredientID,
				Quantity:     req.QuantityPerUnit.Mul(qty),
				Optional:     req.Optional,
			})
		}
	}
	return entries, nil
}

// Confirm is the commit point. Availability is re-validated against the live
// ledger and reservations for the whole order are issued all-or-nothing. On
// insufficiency the order stays pending and the caller learns which
// ingredient was short.
func (s *Service) Confirm(orderID string) (*models.Order, error) {
	lock := s.lockFor(orderID)
	lock.Lock()
	defer lock.Unlock()

	order, err := s.Get(orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPending {
		return nil, &models.InvalidTransitionError{
			Entity: "order",
			From:   string(order.Status),
			To:     string(models.OrderStatusConfirmed),
		}
	}

	entries, err := reservationEntries(order)
	if err != nil {
		return nil, err
	}
	// The ledger is the sole arbiter of the race for scarce stock; a losing
	// confirm gets InsufficientStockError and no movement is applied.
	if _, err := s.ledger.ReserveAll(entries, "order confirmation", reference(order.ID), "orders"); err != nil {
		return nil, err
	}

	order.Status = models.OrderStatusConfirmed
	if err := s.db.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("status", models.OrderStatusConfirmed).Error; err != nil {
		// The reservation landed but the status write failed; compensate so
		// no stock stays committed to a pending order.
		s.ledger.ReleaseAll(reference(order.ID), "confirmation rollback", "orders")
		return nil, err
	}

	s.dispatcher.Dispatch(models.NewEvent(models.EventOrderConfirmed, map[string]interface{}{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"total":        order.Total.String(),
	}))
	return order, nil
}

// Advance moves the order along the lifecycle graph. Confirmation must go
// through Confirm and cancellation through Cancel; this entry point covers
// kitchen progression (preparing, ready, completed).
func (s *Service) Advance(orderID string, next models.OrderStatus) (*models.Order, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("unknown order status %q", next)
	}
	switch next {
	case models.OrderStatusConfirmed:
		return s.Confirm(orderID)
	case models.OrderStatusCancelled:
		return s.Cancel(orderID, "")
	}

	lock := s.lockFor(orderID)
	lock.Lock()
	defer lock.Unlock()

	order, err := s.Get(orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(next) {
		return nil, &models.InvalidTransitionError{
			Entity: "order",
			From:   string(order.Status),
			To:     string(next),
		}
	}
	if next == models.OrderStatusReady && !order.AllLinesReady() {
		return nil, fmt.Errorf("order %s cannot become ready until every line is ready", orderID)
	}

	updates := map[string]interface{}{"status": next}
	if next == models.OrderStatusCompleted {
		now := time.Now()
		order.CompletedAt = &now
		updates["completed_at"] = &now
	}
	if err := s.db.Model(&models.Order{}).Where("id = ?", order.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	order.Status = next

	if next == models.OrderStatusReady {
		s.dispatcher.Dispatch(models.NewEvent(models.EventOrderReady, map[string]interface{}{
			"order_id":     order.ID,
			"order_number": order.OrderNumber,
		}))
	}
	return order, nil
}

// AdvanceLine progresses one line through pending -> preparing -> ready. The
// first line entering preparing moves a confirmed order to preparing; the
// last line reaching ready moves the order to ready.
func (s *Service) AdvanceLine(orderID, lineID string, next models.LineStatus) (*models.Order, error) {
	lock := s.lockFor(orderID)
	lock.Lock()
	defer lock.Unlock()

	order, err := s.Get(orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusConfirmed && order.Status != models.OrderStatusPreparing {
		return nil, &models.InvalidTransitionError{
			Entity: "order line",
			From:   string(order.Status),
			To:     string(next),
		}
	}

	var line *models.OrderLine
	for i := range order.Lines {
		if order.Lines[i].ID == lineID {
			line = &order.Lines[i]
			break
		}
	}
	if line == nil {
		return nil, &models.NotFoundError{Entity: "order line", ID: lineID}
	}
	if !line.Status.CanTransitionTo(next) {
		return nil, &models.InvalidTransitionError{
			Entity: "order line",
			From:   string(line.Status),
			To:     string(next),
		}
	}

	if err := s.db.Model(&models.OrderLine{}).Where("id = ?", line.ID).
		Update("status", next).Error; err != nil {
		return nil, err
	}
	line.Status = next

	if next == models.LineStatusPreparing && order.Status == models.OrderStatusConfirmed {
		if err := s.db.Model(&models.Order{}).Where("id = ?", order.ID).
			Update("status", models.OrderStatusPreparing).Error; err != nil {
			return nil, err
		}
		order.Status = models.OrderStatusPreparing
	}

	if next == models.LineStatusReady && order.AllLinesReady() {
		if err := s.db.Model(&models.Order{}).Where("id = ?", order.ID).
			Update("status", models.OrderStatusReady).Error; err != nil {
			return nil, err
		}
		order.Status = models.OrderStatusReady
		s.dispatcher.Dispatch(models.NewEvent(models.EventOrderReady, map[string]interface{}{
			"order_id":     order.ID,
			"order_number": order.OrderNumber,
		}))
	}
	return order, nil
}

// Cancel aborts an order from pending, confirmed or preparing. Reserved stock
// is released before the order is marked cancelled.
func (s *Service) Cancel(orderID, reason string) (*models.Order, error) {
	lock := s.lockFor(orderID)
	lock.Lock()
	defer lock.Unlock()

	order, err := s.Get(orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.Cancellable() {
		return nil, &models.InvalidTransitionError{
			Entity: "order",
			From:   string(order.Status),
			To:     string(models.OrderStatusCancelled),
		}
	}

	if order.Status != models.OrderStatusPending {
		if _, err := s.ledger.ReleaseAll(reference(order.ID), "order cancelled", "orders"); err != nil {
			return nil, err
		}
	}

	updates := map[string]interface{}{
		"status":        models.OrderStatusCancelled,
		"cancel_reason": reason,
	}
	if err := s.db.Model(&models.Order{}).Where("id = ?", order.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	order.Status = models.OrderStatusCancelled
	order.CancelReason = reason

	s.dispatcher.Dispatch(models.NewEvent(models.EventOrderCancelled, map[string]interface{}{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"reason":       reason,
	}))
	return order, nil
}

// SetPaymentStatus updates the order's payment status. Called only by the
// payment reconciliation engine.
func (s *Service) SetPaymentStatus(orderID string, status models.PaymentStatus) error {
	lock := s.lockFor(orderID)
	lock.Lock()
	defer lock.Unlock()

	res := s.db.Model(&models.Order{}).Where("id = ?", orderID).
		Update("payment_status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &models.NotFoundError{Entity: "order", ID: orderID}
	}
	return nil
}
