package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnOrlandSudoy/restaurant-server/internal/database"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/events"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/ledger"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/menu"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/models"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/monitoring"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/orders"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/payments"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func setupServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	db.DB().SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })

	dispatcher := events.NewRecorder()
	lgr := ledger.New(db, dispatcher)
	resolver := menu.NewResolver(db, lgr)
	orderSvc := orders.NewService(db, lgr, resolver, dispatcher)
	engine := payments.NewEngine(db, orderSvc, dispatcher, nil)
	t.Cleanup(engine.Shutdown)

	require.NoError(t, db.Create(&models.Ingredient{ID: "rice", Name: "Rice", Unit: "kg", MinStock: dec(2), MaxStock: dec(100)}).Error)
	_, err = lgr.RecordMovement("rice", models.MovementIn, dec(10), "delivery", "", "tester")
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.MenuItem{ID: "bowl", Name: "Rice Bowl", Price: dec(8), Available: true}).Error)
	require.NoError(t, db.Create(&models.RecipeRequirement{ID: "r1", MenuItemID: "bowl", IngredientID: "rice", QuantityPerUnit: dec(2)}).Error)

	return NewServer(lgr, resolver, orderSvc, engine, nil, monitoring.NewCollector())
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func placeOrder(t *testing.T, s *Server, quantity int) map[string]interface{} {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/v1/orders", gin.H{
		"lines": []gin.H{{"menu_item_id": "bowl", "quantity": quantity}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)
}

func TestPlaceAndConfirmOrder(t *testing.T) {
	s := setupServer(t)

	order := placeOrder(t, s, 2)
	assert.Equal(t, "pending", order["status"])
	assert.Equal(t, "unpaid", order["payment_status"])
	orderID := order["id"].(string)

	w := doJSON(t, s, http.MethodPost, "/api/v1/orders/"+orderID+"/confirm", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "confirmed", decode(t, w)["status"])

	// 2 bowls reserved 4 rice.
	w = doJSON(t, s, http.MethodGet, "/api/v1/inventory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ingredients []models.Ingredient
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ingredients))
	require.Len(t, ingredients, 1)
	assert.True(t, ingredients[0].CurrentStock.Equal(dec(6)))
}

func TestConfirmInsufficientStockReturnsConflict(t *testing.T) {
	s := setupServer(t)

	// 6 bowls need 12 rice; only 10 on hand.
	order := placeOrder(t, s, 6)
	orderID := order["id"].(string)

	w := doJSON(t, s, http.MethodPost, "/api/v1/orders/"+orderID+"/confirm", nil)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "rice", body["ingredient_id"])

	w = doJSON(t, s, http.MethodGet, "/api/v1/orders/"+orderID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", decode(t, w)["status"])
}

func TestAdvanceRejectsIllegalTransition(t *testing.T) {
	s := setupServer(t)

	order := placeOrder(t, s, 1)
	orderID := order["id"].(string)

	w := doJSON(t, s, http.MethodPost, "/api/v1/orders/"+orderID+"/advance", gin.H{"status": "ready"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
}

func TestCancelReleasesReservedStock(t *testing.T) {
	s := setupServer(t)

	order := placeOrder(t, s, 3)
	orderID := order["id"].(string)
	w := doJSON(t, s, http.MethodPost, "/api/v1/orders/"+orderID+"/confirm", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/orders/"+orderID+"/cancel", gin.H{"reason": "changed mind"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "cancelled", body["status"])
	assert.Equal(t, "changed mind", body["cancel_reason"])

	w = doJSON(t, s, http.MethodGet, "/api/v1/inventory", nil)
	var ingredients []models.Ingredient
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ingredients))
	assert.True(t, ingredients[0].CurrentStock.Equal(dec(10)))
}

func TestCancelWithoutBody(t *testing.T) {
	s := setupServer(t)
	order := placeOrder(t, s, 1)
	orderID := order["id"].(string)

	w := doJSON(t, s, http.MethodPost, "/api/v1/orders/"+orderID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestUnknownOrderReturnsNotFound(t *testing.T) {
	s := setupServer(t)
	w := doJSON(t, s, http.MethodGet, "/api/v1/orders/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPaymentLifecycleOverHTTP(t *testing.T) {
	s := setupServer(t)
	order := placeOrder(t, s, 1)
	orderID := order["id"].(string)

	w := doJSON(t, s, http.MethodPost, "/api/v1/payments", gin.H{"order_id": orderID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	auth := decode(t, w)
	authID := auth["id"].(string)
	assert.Equal(t, "awaiting_payment_method", auth["status"])

	// Initiating again while one is active is unprocessable.
	w = doJSON(t, s, http.MethodPost, "/api/v1/payments", gin.H{"order_id": orderID})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/payments/"+authID+"/observe", gin.H{"status": "succeeded"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "succeeded", decode(t, w)["status"])

	w = doJSON(t, s, http.MethodGet, "/api/v1/orders/"+orderID, nil)
	assert.Equal(t, "paid", decode(t, w)["payment_status"])

	// Cancelling a settled authorization conflicts.
	w = doJSON(t, s, http.MethodPost, "/api/v1/payments/"+authID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/orders/"+orderID+"/payments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var auths []models.PaymentAuthorization
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &auths))
	assert.Len(t, auths, 1)
}

func TestRecordMovementAndHistory(t *testing.T) {
	s := setupServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/inventory/movements", gin.H{
		"ingredient_id": "rice",
		"kind":          "out",
		"quantity":      "4",
		"reason":        "dinner service",
		"actor_id":      "chef-1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	movement := decode(t, w)
	assert.Equal(t, "out", movement["kind"])

	// Over-deduction is a conflict, not a 500.
	w = doJSON(t, s, http.MethodPost, "/api/v1/inventory/movements", gin.H{
		"ingredient_id": "rice",
		"kind":          "out",
		"quantity":      "100",
	})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	w = doJSON(t, s, http.MethodGet, "/api/v1/inventory/rice/movements", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var movements []models.StockMovement
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &movements))
	assert.Len(t, movements, 2) // seed delivery + service deduction
}

func TestMenuAvailabilityEndpoint(t *testing.T) {
	s := setupServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/v1/menu/bowl/availability?quantity=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["available"])

	w = doJSON(t, s, http.MethodGet, "/api/v1/menu/bowl/availability?quantity=6", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, false, body["available"])

	w = doJSON(t, s, http.MethodGet, "/api/v1/menu/nope/availability", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s := setupServer(t)
	w := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
