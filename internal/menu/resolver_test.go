package menu

import (
	"path/filepath"
	"testing"

	"github.com/jinzhu/gorm"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnOrlandSudoy/restaurant-server/internal/database"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/events"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/ledger"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/models"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func setup(t *testing.T) (*gorm.DB, *ledger.Ledger, *Resolver) {
	t.Helper()
	db, err := gorm.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	db.DB().SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })

	lgr := ledger.New(db, events.NewRecorder())
	return db, lgr, NewResolver(db, lgr)
}

func seed(t *testing.T, db *gorm.DB, lgr *ledger.Ledger) {
	t.Helper()
	require.NoError(t, db.Create(&models.Ingredient{ID: "rice", Name: "Rice", Unit: "kg", MinStock: dec(2), MaxStock: dec(100)}).Error)
	require.NoError(t, db.Create(&models.Ingredient{ID: "scallion", Name: "Scallion", Unit: "pc", MinStock: dec(1), MaxStock: dec(50)}).Error)
	_, err := lgr.RecordMovement("rice", models.MovementIn, dec(10), "delivery", "", "tester")
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.MenuItem{
		ID: "bowl", Name: "Rice Bowl", Category: "entree", Price: dec(8), Available: true,
	}).Error)
	require.NoError(t, db.Create(&models.RecipeRequirement{
		ID: "r1", MenuItemID: "bowl", IngredientID: "rice", QuantityPerUnit: dec(2),
	}).Error)
	require.NoError(t, db.Create(&models.RecipeRequirement{
		ID: "r2", MenuItemID: "bowl", IngredientID: "scallion", QuantityPerUnit: dec(1), Optional: true,
	}).Error)
}

func TestCheckAvailabilitySatisfiable(t *testing.T) {
	db, lgr, resolver := setup(t)
	seed(t, db, lgr)

	result, err := resolver.CheckAvailability("bowl", 3)
	require.NoError(t, err)
	assert.True(t, result.Available)

	// The optional scallion is short but only flagged.
	require.Len(t, result.Shortages, 1)
	assert.Equal(t, "scallion", result.Shortages[0].IngredientID)
	assert.True(t, result.Shortages[0].Optional)
}

func TestCheckAvailabilityShortRequiredIngredient(t *testing.T) {
	db, lgr, resolver := setup(t)
	seed(t, db, lgr)

	// 6 bowls need 12 rice; only 10 on hand.
	result, err := resolver.CheckAvailability("bowl", 6)
	require.NoError(t, err)
	assert.False(t, result.Available)

	var rice *Shortage
	for i := range result.Shortages {
		if result.Shortages[i].IngredientID == "rice" {
			rice = &result.Shortages[i]
		}
	}
	require.NotNil(t, rice)
	assert.False(t, rice.Optional)
	assert.True(t, rice.Required.Equal(dec(12)))
	assert.True(t, rice.Available.Equal(dec(10)))
}

func TestCheckAvailabilityUnknownItem(t *testing.T) {
	_, _, resolver := setup(t)
	_, err := resolver.CheckAvailability("missing", 1)
	var notFound *models.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
