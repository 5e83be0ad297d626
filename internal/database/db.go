package database

import (
	"fmt"

	"github.com/jinzhu/gorm"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/JohnOrlandSudoy/restaurant-server/internal/models"
)

var DB *gorm.DB

// Init opens the database connection. Supported drivers: sqlite3, postgres.
func Init(driver, dsn string) error {
	switch driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}

	var err error
	DB, err = gorm.Open(driver, dsn)
	if err != nil {
		return err
	}
	if driver == "sqlite3" {
		// One writer at a time keeps SQLite's lock errors out of the
		// ledger's retry path under normal load.
		DB.DB().SetMaxOpenConns(1)
	}
	return nil
}

// Migrate creates or updates the schema for all core tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Ingredient{},
		&models.StockMovement{},
		&models.MenuItem{},
		&models.RecipeRequirement{},
		&models.Order{},
		&models.OrderLine{},
		&models.PaymentAuthorization{},
	).Error
}

// Get returns the database instance
func Get() *gorm.DB {
	return DB
}

// Close closes the database connection
func Close() error {
	if DB != nil {
		return DB.Close()
	}
	return nil
}
