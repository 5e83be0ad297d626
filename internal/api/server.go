package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/JohnOrlandSudoy/restaurant-server/internal/events"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/ledger"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/menu"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/models"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/monitoring"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/orders"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/payments"
)

// Server wires the consistency core behind the HTTP surface.
type Server struct {
	Router *gin.Engine

	ledger   *ledger.Ledger
	resolver *menu.Resolver
	orders   *orders.Service
	payments *payments.Engine
	hub      *events.Hub
	metrics  *monitoring.Collector
}

// NewServer creates the API server and registers all routes.
func NewServer(lgr *ledger.Ledger, resolver *menu.Resolver, orderSvc *orders.Service, engine *payments.Engine, hub *events.Hub, metrics *monitoring.Collector) *Server {
	s := &Server{
		Router:   gin.Default(),
		ledger:   lgr,
		resolver: resolver,
		orders:   orderSvc,
		payments: engine,
		hub:      hub,
		metrics:  metrics,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if s.hub != nil {
		s.Router.GET("/ws", s.hub.HandleWS)
	}

	v1 := s.Router.Group("/api/v1")
	{
		// Order lifecycle
		v1.POST("/orders", s.PlaceOrder)
		v1.GET("/orders", s.ListOrders)
		v1.GET("/orders/:id", s.GetOrder)
		v1.POST("/orders/:id/confirm", s.ConfirmOrder)
		v1.POST("/orders/:id/advance", s.AdvanceOrder)
		v1.POST("/orders/:id/cancel", s.CancelOrder)
		v1.POST("/orders/:id/lines/:lineID/advance", s.AdvanceOrderLine)
		v1.GET("/orders/:id/payments", s.ListOrderPayments)

		// Payment reconciliation
		v1.POST("/payments", s.InitiatePayment)
		v1.GET("/payments/:id", s.GetPayment)
		v1.POST("/payments/:id/observe", s.ObservePayment)
		v1.POST("/payments/:id/cancel", s.CancelPayment)

		// Inventory ledger
		v1.GET("/inventory", s.ListIngredients)
		v1.POST("/inventory/movements", s.RecordMovement)
		v1.GET("/inventory/:id/movements", s.ListMovements)

		// Menu catalog
		v1.GET("/menu", s.ListMenu)
		v1.GET("/menu/:id/availability", s.CheckAvailability)
	}
}

// respondError maps domain errors onto HTTP statuses. Transient conflicts are
// marked retryable so callers know to resubmit unchanged.
func (s *Server) respondError(c *gin.Context, err error) {
	var insufficient *models.InsufficientStockError
	var transition *models.InvalidTransitionError
	var orderState *models.InvalidOrderStateError
	var terminal *models.AlreadyTerminalError
	var conflict *models.ConcurrencyConflictError
	var unavailable *models.UnavailableItemsError
	var notFound *models.NotFoundError

	switch {
	case errors.As(err, &insufficient):
		if s.metrics != nil {
			s.metrics.RecordInsufficientStock()
		}
		c.JSON(http.StatusConflict, gin.H{
			"error":         err.Error(),
			"ingredient_id": insufficient.IngredientID,
			"required":      insufficient.Required,
			"available":     insufficient.Available,
		})
	case errors.As(err, &transition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.As(err, &orderState):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.As(err, &terminal):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "retryable": true})
	case errors.As(err, &unavailable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "menu_item_ids": unavailable.MenuItemIDs})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Order handlers

// PlaceOrder creates a pending order from the requested line items.
func (s *Server) PlaceOrder(c *gin.Context) {
	var req struct {
		Lines    []orders.PlacedLine `json:"lines" binding:"required"`
		Discount decimal.Decimal     `json:"discount"`
		Tax      decimal.Decimal     `json:"tax"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := s.orders.Place(req.Lines, req.Discount, req.Tax)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordOrderPlaced()
	}
	c.JSON(http.StatusCreated, order)
}

// ListOrders returns all orders with their lines.
func (s *Server) ListOrders(c *gin.Context) {
	list, err := s.orders.List()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GetOrder returns one order with its lines.
func (s *Server) GetOrder(c *gin.Context) {
	order, err := s.orders.Get(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// ConfirmOrder reserves stock for the whole order all-or-nothing.
func (s *Server) ConfirmOrder(c *gin.Context) {
	order, err := s.orders.Confirm(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordOrderConfirmed()
	}
	c.JSON(http.StatusOK, order)
}

// AdvanceOrder moves the order to the requested lifecycle status.
func (s *Server) AdvanceOrder(c *gin.Context) {
	var req struct {
		Status models.OrderStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := s.orders.Advance(c.Param("id"), req.Status)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// CancelOrder cancels the order and releases any reserved stock.
func (s *Server) CancelOrder(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := s.orders.Cancel(c.Param("id"), req.Reason)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// AdvanceOrderLine progresses one line through the kitchen.
func (s *Server) AdvanceOrderLine(c *gin.Context) {
	var req struct {
		Status models.LineStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := s.orders.AdvanceLine(c.Param("id"), c.Param("lineID"), req.Status)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// ListOrderPayments returns the full authorization history of an order.
func (s *Server) ListOrderPayments(c *gin.Context) {
	auths, err := s.payments.ListForOrder(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, auths)
}

// Payment handlers

// InitiatePayment creates a new authorization for an order.
func (s *Server) InitiatePayment(c *gin.Context) {
	var req struct {
		OrderID  string          `json:"order_id" binding:"required"`
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	auth, err := s.payments.Initiate(req.OrderID, req.Amount, req.Currency)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, auth)
}

// GetPayment returns the current authorization snapshot.
func (s *Server) GetPayment(c *gin.Context) {
	auth, err := s.payments.Status(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, auth)
}

// ObservePayment applies an externally observed status, e.g. a gateway
// callback. Idempotent against the polling path.
func (s *Server) ObservePayment(c *gin.Context) {
	var req struct {
		Status models.PaymentAuthStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	auth, err := s.payments.Observe(c.Param("id"), req.Status)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, auth)
}

// CancelPayment aborts an authorization still awaiting a payment method.
func (s *Server) CancelPayment(c *gin.Context) {
	auth, err := s.payments.Cancel(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, auth)
}

// Inventory handlers

// ListIngredients returns all ingredients with their derived status.
func (s *Server) ListIngredients(c *gin.Context) {
	ingredients, err := s.ledger.Ingredients()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ingredients)
}

// RecordMovement appends a stock movement to the ledger.
func (s *Server) RecordMovement(c *gin.Context) {
	var req struct {
		IngredientID string              `json:"ingredient_id" binding:"required"`
		Kind         models.MovementKind `json:"kind" binding:"required"`
		Quantity     decimal.Decimal     `json:"quantity" binding:"required"`
		Reason       string              `json:"reason"`
		ActorID      string              `json:"actor_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	movement, err := s.ledger.RecordMovement(req.IngredientID, req.Kind, req.Quantity, req.Reason, "", req.ActorID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordMovement(movement.Kind)
	}
	c.JSON(http.StatusCreated, movement)
}

// ListMovements returns the movement history of one ingredient.
func (s *Server) ListMovements(c *gin.Context) {
	movements, err := s.ledger.Movements(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, movements)
}

// Menu handlers

// ListMenu returns the menu catalog with recipe requirements.
func (s *Server) ListMenu(c *gin.Context) {
	items, err := s.resolver.Items()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// CheckAvailability reports whether the requested quantity of a menu item is
// currently satisfiable. Advisory; confirm re-validates at commit.
func (s *Server) CheckAvailability(c *gin.Context) {
	quantity, _ := strconv.Atoi(c.DefaultQuery("quantity", "1"))
	result, err := s.resolver.CheckAvailability(c.Param("id"), quantity)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
