package orders

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnOrlandSudoy/restaurant-server/internal/database"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/events"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/ledger"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/menu"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/models"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type fixture struct {
	db       *gorm.DB
	recorder *events.Recorder
	ledger   *ledger.Ledger
	service  *Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	db.DB().SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })

	recorder := events.NewRecorder()
	lgr := ledger.New(db, recorder)
	resolver := menu.NewResolver(db, lgr)
	svc := NewService(db, lgr, resolver, recorder)

	// Catalog: a rice bowl (2 rice, 1 chicken) and a side (1 rice).
	require.NoError(t, db.Create(&models.Ingredient{ID: "rice", Name: "Rice", Unit: "kg", MinStock: dec(2), MaxStock: dec(100)}).Error)
	require.NoError(t, db.Create(&models.Ingredient{ID: "chicken", Name: "Chicken", Unit: "kg", MinStock: dec(2), MaxStock: dec(100)}).Error)
	_, err = lgr.RecordMovement("rice", models.MovementIn, dec(10), "delivery", "", "tester")
	require.NoError(t, err)
	_, err = lgr.RecordMovement("chicken", models.MovementIn, dec(10), "delivery", "", "tester")
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.MenuItem{ID: "bowl", Name: "Rice Bowl", Price: dec(8), Available: true}).Error)
	require.NoError(t, db.Create(&models.RecipeRequirement{ID: "r1", MenuItemID: "bowl", IngredientID: "rice", QuantityPerUnit: dec(2)}).Error)
	require.NoError(t, db.Create(&models.RecipeRequirement{ID: "r2", MenuItemID: "bowl", IngredientID: "chicken", QuantityPerUnit: dec(1)}).Error)

	require.NoError(t, db.Create(&models.MenuItem{ID: "side", Name: "Rice Side", Price: dec(3), Available: true}).Error)
	require.NoError(t, db.Create(&models.RecipeRequirement{ID: "r3", MenuItemID: "side", IngredientID: "rice", QuantityPerUnit: dec(1)}).Error)

	require.NoError(t, db.Create(&models.MenuItem{ID: "special", Name: "Off Menu Special", Price: dec(20), Available: false}).Error)

	return &fixture{db: db, recorder: recorder, ledger: lgr, service: svc}
}

func (f *fixture) stock(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	balance, err := f.ledger.CurrentStock(id)
	require.NoError(t, err)
	return balance
}

func TestPlaceComputesTotalsFromLines(t *testing.T) {
	f := setup(t)

	order, err := f.service.Place([]PlacedLine{
		{MenuItemID: "bowl", Quantity: 2},
		{MenuItemID: "side", Quantity: 1},
	}, dec(1), dec(2))
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusUnpaid, order.PaymentStatus)
	assert.NotEmpty(t, order.OrderNumber)
	// subtotal = 2*8 + 1*3 = 19; total = 19 - 1 + 2 = 20
	assert.True(t, order.Subtotal.Equal(dec(19)))
	assert.True(t, order.Total.Equal(dec(20)))

	// Placement never touches the ledger.
	assert.True(t, f.stock(t, "rice").Equal(dec(10)))

	// Unit price is a snapshot: a later price change leaves the order alone.
	require.NoError(t, f.db.Model(&models.MenuItem{}).Where("id = ?", "bowl").Update("price", dec(99)).Error)
	reloaded, err := f.service.Get(order.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Lines[0].UnitPrice.Equal(dec(8)))
	reloaded.RecomputeTotals()
	assert.True(t, reloaded.Total.Equal(dec(20)))
}

func TestPlaceRejectsUnavailableItems(t *testing.T) {
	f := setup(t)

	_, err := f.service.Place([]PlacedLine{
		{MenuItemID: "bowl", Quantity: 1},
		{MenuItemID: "special", Quantity: 1},
	}, decimal.Zero, decimal.Zero)

	var unavailable *models.UnavailableItemsError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, []string{"special"}, unavailable.MenuItemIDs)
}

func TestConfirmReservesStockForAllLines(t *testing.T) {
	f := setup(t)

	order, err := f.service.Place([]PlacedLine{
		{MenuItemID: "bowl", Quantity: 2},
		{MenuItemID: "side", Quantity: 1},
	}, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	confirmed, err := f.service.Confirm(order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, confirmed.Status)

	// bowl x2 needs 4 rice + 2 chicken, side x1 needs 1 rice.
	assert.True(t, f.stock(t, "rice").Equal(dec(5)))
	assert.True(t, f.stock(t, "chicken").Equal(dec(8)))

	require.Len(t, f.recorder.OfType(models.EventOrderConfirmed), 1)

	// Confirming twice is an invalid transition.
	_, err = f.service.Confirm(order.ID)
	var transition *models.InvalidTransitionError
	assert.ErrorAs(t, err, &transition)
}

func TestConfirmInsufficientStockLeavesOrderPending(t *testing.T) {
	f := setup(t)

	// 6 bowls need 12 rice; only 10 on hand.
	order, err := f.service.Place([]PlacedLine{{MenuItemID: "bowl", Quantity: 6}}, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	_, err = f.service.Confirm(order.ID)
	var insufficient *models.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "rice", insufficient.IngredientID)

	reloaded, err := f.service.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, reloaded.Status)
	assert.True(t, f.stock(t, "rice").Equal(dec(10)))
	assert.True(t, f.stock(t, "chicken").Equal(dec(10)))
}

func TestRacingOrdersSerializeThroughLedger(t *testing.T) {
	f := setup(t)

	// Rice starts at 10. Order A takes 6 (3 sides x2... use sides: 6 rice),
	// order B wants 5 and must lose cleanly.
	orderA, err := f.service.Place([]PlacedLine{{MenuItemID: "side", Quantity: 6}}, decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	orderB, err := f.service.Place([]PlacedLine{{MenuItemID: "side", Quantity: 5}}, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	_, err = f.service.Confirm(orderA.ID)
	require.NoError(t, err)
	assert.True(t, f.stock(t, "rice").Equal(dec(4)))

	_, err = f.service.Confirm(orderB.ID)
	var insufficient *models.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "rice", insufficient.IngredientID)
	assert.True(t, insufficient.Required.Equal(dec(5)))
	assert.True(t, insufficient.Available.Equal(dec(4)))

	reloadedB, _ := f.service.Get(orderB.ID)
	assert.Equal(t, models.OrderStatusPending, reloadedB.Status)

	// Cancelling A releases its reservation; B can now confirm.
	_, err = f.service.Cancel(orderA.ID, "changed mind")
	require.NoError(t, err)
	assert.True(t, f.stock(t, "rice").Equal(dec(10)))

	_, err = f.service.Confirm(orderB.ID)
	require.NoError(t, err)
	assert.True(t, f.stock(t, "rice").Equal(dec(5)))
}

func TestCancelFromPendingDoesNotTouchLedger(t *testing.T) {
	f := setup(t)

	order, err := f.service.Place([]PlacedLine{{MenuItemID: "bowl", Quantity: 1}}, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	cancelled, err := f.service.Cancel(order.ID, "abandoned")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, "abandoned", cancelled.CancelReason)
	assert.True(t, f.stock(t, "rice").Equal(dec(10)))

	movements, err := f.ledger.Movements("rice")
	require.NoError(t, err)
	assert.Len(t, movements, 1) // just the seed delivery
}

func setStatus(t *testing.T, f *fixture, orderID string, status models.OrderStatus) {
	t.Helper()
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", orderID).Update("status", status).Error)
}

func TestAdvanceRejectsIllegalEdges(t *testing.T) {
	f := setup(t)

	statuses := []models.OrderStatus{
		models.OrderStatusPending,
		models.OrderStatusConfirmed,
		models.OrderStatusPreparing,
		models.OrderStatusReady,
		models.OrderStatusCompleted,
		models.OrderStatusCancelled,
	}
	targets := []models.OrderStatus{
		models.OrderStatusPreparing,
		models.OrderStatusReady,
		models.OrderStatusCompleted,
	}

	for _, from := range statuses {
		for _, to := range targets {
			order, err := f.service.Place([]PlacedLine{{MenuItemID: "side", Quantity: 1}}, decimal.Zero, decimal.Zero)
			require.NoError(t, err)
			setStatus(t, f, order.ID, from)
			// Lines ready so the all-lines gate never masks legality.
			require.NoError(t, f.db.Model(&models.OrderLine{}).Where("order_id = ?", order.ID).
				Update("status", models.LineStatusReady).Error)

			_, err = f.service.Advance(order.ID, to)
			if from.CanTransitionTo(to) {
				assert.NoError(t, err, "%s -> %s must be legal", from, to)
				continue
			}

			var transition *models.InvalidTransitionError
			assert.ErrorAs(t, err, &transition, "%s -> %s must be rejected", from, to)
			reloaded, getErr := f.service.Get(order.ID)
			require.NoError(t, getErr)
			assert.Equal(t, from, reloaded.Status, "status must be unchanged after rejected %s -> %s", from, to)
		}
	}
}

func TestAdvanceToCompletedStampsTimestamp(t *testing.T) {
	f := setup(t)

	order, err := f.service.Place([]PlacedLine{{MenuItemID: "side", Quantity: 1}}, decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	setStatus(t, f, order.ID, models.OrderStatusReady)

	completed, err := f.service.Advance(order.ID, models.OrderStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
}

func TestLineAdvancementDrivesOrderStatus(t *testing.T) {
	f := setup(t)

	order, err := f.service.Place([]PlacedLine{
		{MenuItemID: "bowl", Quantity: 1},
		{MenuItemID: "side", Quantity: 1},
	}, decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	_, err = f.service.Confirm(order.ID)
	require.NoError(t, err)
	order, err = f.service.Get(order.ID)
	require.NoError(t, err)

	// First line starting moves the order to preparing.
	updated, err := f.service.AdvanceLine(order.ID, order.Lines[0].ID, models.LineStatusPreparing)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPreparing, updated.Status)

	// Not ready until every line is ready.
	updated, err = f.service.AdvanceLine(order.ID, order.Lines[0].ID, models.LineStatusReady)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPreparing, updated.Status)
	assert.Empty(t, f.recorder.OfType(models.EventOrderReady))

	_, err = f.service.AdvanceLine(order.ID, order.Lines[1].ID, models.LineStatusPreparing)
	require.NoError(t, err)
	updated, err = f.service.AdvanceLine(order.ID, order.Lines[1].ID, models.LineStatusReady)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusReady, updated.Status)
	assert.Len(t, f.recorder.OfType(models.EventOrderReady), 1)

	// Skipping preparing on a line is rejected.
	other, err := f.service.Place([]PlacedLine{{MenuItemID: "side", Quantity: 1}}, decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	_, err = f.service.Confirm(other.ID)
	require.NoError(t, err)
	other, err = f.service.Get(other.ID)
	require.NoError(t, err)
	_, err = f.service.AdvanceLine(other.ID, other.Lines[0].ID, models.LineStatusReady)
	var transition *models.InvalidTransitionError
	assert.ErrorAs(t, err, &transition)
}

func TestCancelNotAllowedFromReadyOrCompleted(t *testing.T) {
	f := setup(t)

	for _, status := range []models.OrderStatus{models.OrderStatusReady, models.OrderStatusCompleted} {
		order, err := f.service.Place([]PlacedLine{{MenuItemID: "side", Quantity: 1}}, decimal.Zero, decimal.Zero)
		require.NoError(t, err)
		setStatus(t, f, order.ID, status)

		_, err = f.service.Cancel(order.ID, "too late")
		var transition *models.InvalidTransitionError
		assert.ErrorAs(t, err, &transition, "cancel from %s must be rejected", status)
	}
}

func TestSetPaymentStatus(t *testing.T) {
	f := setup(t)

	order, err := f.service.Place([]PlacedLine{{MenuItemID: "side", Quantity: 1}}, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	require.NoError(t, f.service.SetPaymentStatus(order.ID, models.PaymentStatusPaid))
	reloaded, err := f.service.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, reloaded.PaymentStatus)

	err = f.service.SetPaymentStatus(uuid.New().String(), models.PaymentStatusPaid)
	var notFound *models.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
