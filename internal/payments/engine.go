package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
	"github.com/shopspring/decimal"

	"github.com/JohnOrlandSudoy/restaurant-server/internal/events"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/models"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/orders"
)

// ErrGatewayUnavailable is returned by gateways when the external service
// cannot be reached. It carries no new information: the authorization stays
// in its last known state and expiry still applies from the clock.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// Gateway is the external payment provider surface the engine polls. Calls
// happen outside any held lock; results are applied through Observe.
type Gateway interface {
	FetchStatus(ctx context.Context, authorizationID string) (models.PaymentAuthStatus, error)
}

// DefaultExpiry is how long a customer has to present a payment method.
const DefaultExpiry = 15 * time.Minute

// Engine reconciles external payment authorizations against orders. It is the
// only writer of the authorization table and of order payment status, and it
// guarantees at most one non-terminal authorization per order.
type Engine struct {
	db         *gorm.DB
	orders     *orders.Service
	dispatcher events.Dispatcher
	gateway    Gateway

	expiry       time.Duration
	pollInterval time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	wmu      sync.Mutex
	watchers map[string]context.CancelFunc
	baseCtx  context.Context
}

// NewEngine creates a reconciliation engine. gateway may be nil, in which
// case no polling happens and status lands via Observe callbacks only.
func NewEngine(db *gorm.DB, orderSvc *orders.Service, dispatcher events.Dispatcher, gateway Gateway) *Engine {
	return &Engine{
		db:           db,
		orders:       orderSvc,
		dispatcher:   dispatcher,
		gateway:      gateway,
		expiry:       DefaultExpiry,
		pollInterval: 5 * time.Second,
		locks:        make(map[string]*sync.Mutex),
		watchers:     make(map[string]context.CancelFunc),
		baseCtx:      context.Background(),
	}
}

// SetExpiry overrides the authorization lifetime.
func (e *Engine) SetExpiry(d time.Duration) { e.expiry = d }

// SetPollInterval overrides the gateway polling cadence.
func (e *Engine) SetPollInterval(d time.Duration) { e.pollInterval = d }

// lockFor returns the mutex serializing payment operations for one order.
func (e *Engine) lockFor(orderID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.locks[orderID]
	if !ok {
		m = &sync.Mutex{}
		e.locks[orderID] = m
	}
	return m
}

// getAuth loads an authorization by id.
func (e *Engine) getAuth(authorizationID string) (*models.PaymentAuthorization, error) {
	var auth models.PaymentAuthorization
	err := e.db.Where("id = ?", authorizationID).First(&auth).Error
	if err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, &models.NotFoundError{Entity: "payment authorization", ID: authorizationID}
		}
		return nil, err
	}
	return &auth, nil
}

// Initiate creates a fresh authorization for an order. Legal only while the
// order's payment status is unpaid or failed. Any prior non-terminal
// authorization is cancelled inside the same transaction that creates the new
// one, so at most one is ever active.
func (e *Engine) Initiate(orderID string, amount decimal.Decimal, currency string) (*models.PaymentAuthorization, error) {
	order, err := e.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusCancelled {
		return nil, &models.InvalidOrderStateError{OrderID: orderID, PaymentStatus: order.PaymentStatus}
	}
	if order.PaymentStatus != models.PaymentStatusUnpaid && order.PaymentStatus != models.PaymentStatusFailed {
		return nil, &models.InvalidOrderStateError{OrderID: orderID, PaymentStatus: order.PaymentStatus}
	}
	if amount.IsZero() {
		amount = order.Total
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("authorization amount must be greater than 0")
	}
	if currency == "" {
		currency = "USD"
	}

	lock := e.lockFor(orderID)
	lock.Lock()
	defer lock.Unlock()

	auth := &models.PaymentAuthorization{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Amount:    amount,
		Currency:  currency,
		Status:    models.AuthStatusAwaiting,
		ExpiresAt: time.Now().Add(e.expiry),
		CreatedAt: time.Now(),
	}

	tx := e.db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	// Supersede: terminate the previous active authorization in the same
	// atomic step that creates the new one.
	err = tx.Model(&models.PaymentAuthorization{}).
		Where("order_id = ? AND status = ?", orderID, models.AuthStatusAwaiting).
		Update("status", models.AuthStatusCancelled).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Create(auth).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := e.orders.SetPaymentStatus(orderID, models.PaymentStatusAwaiting); err != nil {
		return nil, err
	}

	e.startWatcher(auth)
	return auth, nil
}

// Observe applies an externally observed status. Idempotent: the same
// terminal status applied twice is a no-op; a different status against an
// already terminal authorization is rejected with AlreadyTerminalError.
func (e *Engine) Observe(authorizationID string, external models.PaymentAuthStatus) (*models.PaymentAuthorization, error) {
	if !external.Valid() {
		return nil, fmt.Errorf("unknown authorization status %q", external)
	}

	auth, err := e.getAuth(authorizationID)
	if err != nil {
		return nil, err
	}
	lock := e.lockFor(auth.OrderID)
	lock.Lock()
	defer lock.Unlock()

	auth, err = e.getAuth(authorizationID)
	if err != nil {
		return nil, err
	}
	if auth.Status == external {
		return auth, nil
	}
	if auth.Status.Terminal() {
		return auth, &models.AlreadyTerminalError{AuthorizationID: auth.ID, Status: auth.Status}
	}
	if external == models.AuthStatusAwaiting {
		// No new information.
		return auth, nil
	}

	if err := e.applyTerminal(auth, external); err != nil {
		return nil, err
	}
	return auth, nil
}

// applyTerminal moves a non-terminal authorization to a terminal status and
// drives the order's payment status accordingly. Caller holds the order lock.
func (e *Engine) applyTerminal(auth *models.PaymentAuthorization, status models.PaymentAuthStatus) error {
	if err := e.db.Model(&models.PaymentAuthorization{}).Where("id = ?", auth.ID).
		Update("status", status).Error; err != nil {
		return err
	}
	auth.Status = status

	var orderStatus models.PaymentStatus
	var evtType models.EventType
	switch status {
	case models.AuthStatusSucceeded:
		orderStatus = models.PaymentStatusPaid
		evtType = models.EventPaymentSettled
	case models.AuthStatusFailed:
		orderStatus = models.PaymentStatusFailed
		evtType = models.EventPaymentFailed
	case models.AuthStatusExpired:
		// The customer ran out of time rather than actively failing;
		// the order goes back to unpaid so a fresh initiate is allowed.
		orderStatus = models.PaymentStatusUnpaid
		evtType = models.EventPaymentExpired
	case models.AuthStatusCancelled:
		orderStatus = models.PaymentStatusUnpaid
	}

	if err := e.orders.SetPaymentStatus(auth.OrderID, orderStatus); err != nil {
		return err
	}
	if evtType != "" {
		e.dispatcher.Dispatch(models.NewEvent(evtType, map[string]interface{}{
			"authorization_id": auth.ID,
			"order_id":         auth.OrderID,
			"amount":           auth.Amount.String(),
			"currency":         auth.Currency,
		}))
	}
	e.stopWatcher(auth.ID)
	return nil
}

// Expire transitions an overdue authorization to expired. A no-op against
// terminal authorizations: expiry never reverts a landed result.
func (e *Engine) Expire(authorizationID string) (*models.PaymentAuthorization, error) {
	auth, err := e.getAuth(authorizationID)
	if err != nil {
		return nil, err
	}
	lock := e.lockFor(auth.OrderID)
	lock.Lock()
	defer lock.Unlock()

	auth, err = e.getAuth(authorizationID)
	if err != nil {
		return nil, err
	}
	if auth.Status.Terminal() {
		return auth, nil
	}
	if time.Now().Before(auth.ExpiresAt) {
		return auth, fmt.Errorf("authorization %s has not expired yet", auth.ID)
	}
	if err := e.applyTerminal(auth, models.AuthStatusExpired); err != nil {
		return nil, err
	}
	return auth, nil
}

// Cancel aborts an authorization still awaiting a payment method. Rejected
// once any terminal status has landed.
func (e *Engine) Cancel(authorizationID string) (*models.PaymentAuthorization, error) {
	auth, err := e.getAuth(authorizationID)
	if err != nil {
		return nil, err
	}
	lock := e.lockFor(auth.OrderID)
	lock.Lock()
	defer lock.Unlock()

	auth, err = e.getAuth(authorizationID)
	if err != nil {
		return nil, err
	}
	if auth.Status.Terminal() {
		return auth, &models.AlreadyTerminalError{AuthorizationID: auth.ID, Status: auth.Status}
	}
	if err := e.applyTerminal(auth, models.AuthStatusCancelled); err != nil {
		return nil, err
	}
	return auth, nil
}

// Status returns the current authorization snapshot.
func (e *Engine) Status(authorizationID string) (*models.PaymentAuthorization, error) {
	return e.getAuth(authorizationID)
}

// ListForOrder returns every authorization ever issued for an order, oldest
// first. Superseded and expired rows are retained for audit.
func (e *Engine) ListForOrder(orderID string) ([]models.PaymentAuthorization, error) {
	var auths []models.PaymentAuthorization
	err := e.db.Where("order_id = ?", orderID).Order("created_at").Find(&auths).Error
	return auths, err
}

// startWatcher launches the cancellable per-authorization task that polls the
// gateway and fires expiry.
func (e *Engine) startWatcher(auth *models.PaymentAuthorization) {
	ctx, cancel := context.WithCancel(e.baseCtx)
	e.wmu.Lock()
	if old, ok := e.watchers[auth.ID]; ok {
		old()
	}
	e.watchers[auth.ID] = cancel
	e.wmu.Unlock()

	go e.watch(ctx, auth.ID, auth.ExpiresAt)
}

// stopWatcher cancels the watcher for an authorization, if any.
func (e *Engine) stopWatcher(authorizationID string) {
	e.wmu.Lock()
	if cancel, ok := e.watchers[authorizationID]; ok {
		cancel()
		delete(e.watchers, authorizationID)
	}
	e.wmu.Unlock()
}

// watch polls the gateway until a terminal status lands or the expiry
// deadline passes, whichever comes first. Gateway errors are treated as no
// new information. No lock is held while the gateway is called.
func (e *Engine) watch(ctx context.Context, authorizationID string, expiresAt time.Time) {
	timer := time.NewTimer(time.Until(expiresAt))
	defer timer.Stop()

	var tick <-chan time.Time
	if e.gateway != nil {
		ticker := time.NewTicker(e.pollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if _, err := e.Expire(authorizationID); err != nil {
				log.Printf("Failed to expire authorization %s: %v", authorizationID, err)
			}
			return
		case <-tick:
			status, err := e.gateway.FetchStatus(ctx, authorizationID)
			if err != nil {
				continue
			}
			if status.Terminal() {
				if _, err := e.Observe(authorizationID, status); err != nil {
					log.Printf("Failed to apply gateway status for %s: %v", authorizationID, err)
				}
				return
			}
		}
	}
}

// StartSweeper runs the background expiry sweep until ctx is cancelled.
// Expiry is time-driven: overdue authorizations are expired even when no
// watcher or caller ever polls again.
func (e *Engine) StartSweeper(ctx context.Context, interval time.Duration) {
	e.baseCtx = ctx
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.sweep()
			}
		}
	}()
}

// sweep expires every overdue non-terminal authorization.
func (e *Engine) sweep() {
	var overdue []models.PaymentAuthorization
	err := e.db.Where("status = ? AND expires_at <= ?", models.AuthStatusAwaiting, time.Now()).
		Find(&overdue).Error
	if err != nil {
		log.Printf("Expiry sweep query failed: %v", err)
		return
	}
	for _, auth := range overdue {
		if _, err := e.Expire(auth.ID); err != nil {
			log.Printf("Failed to expire authorization %s: %v", auth.ID, err)
		}
	}
}

// Shutdown cancels every active watcher.
func (e *Engine) Shutdown() {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	for id, cancel := range e.watchers {
		cancel()
		delete(e.watchers, id)
	}
}
