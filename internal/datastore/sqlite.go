package datastore

import (
	"os"
	"path/filepath"

	gocache "github.com/patrickmn/go-cache"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jpaulin/freebird-go/internal/conf"
	"github.com/jpaulin/freebird-go/internal/errors"
)

// SQLiteStore implements Interface for SQLite.
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// New creates a datastore instance for the configured backend. SQLite is
// currently the only supported storage engine.
func New(settings *conf.Settings) Interface {
	return &SQLiteStore{
		Settings: settings,
	}
}

// Open sets up the SQLite database connection, enables WAL mode and runs
// the schema migration.
func (store *SQLiteStore) Open() error {
	dbPath := store.Settings.DatabasePath()
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Newf("creating database directory: %w", err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Build()
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return errors.Newf("failed to open SQLite database: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("path", dbPath).
			Build()
	}

	// WAL keeps the single-writer serialization cheap for concurrent readers.
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		return errors.Newf("enabling WAL mode: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}

	if err := db.AutoMigrate(&Sighting{}, &VisionAnalysis{}, &AudioAnalysis{}); err != nil {
		return errors.Newf("migrating schema: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}

	store.DB = db
	store.cache = gocache.New(summaryCacheTTL, summaryCacheTTL*2)
	return nil
}

// Close closes the underlying database connection.
func (store *SQLiteStore) Close() error {
	if store.DB == nil {
		return nil
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		return errors.Newf("getting underlying sql.DB: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return sqlDB.Close()
}
