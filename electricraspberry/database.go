package electricraspberry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

const (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	dbOperationTimeout    = 30 * time.Second
)

var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA busy_timeout = 5000",
}

// ModelUnixTime is embedded in persisted models. Timestamps are Unix
// milliseconds.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// persistedModels are migrated by CreateDB
var persistedModels = []any{
	&UserRelationship{},
	&ConversationMemory{},
	&CatchupItem{},
}

// CreateDB opens a sqlite or postgres database, tunes sqlite for a single
// writer and migrates every persisted model. database is a file path for
// sqlite and a DSN for postgres.
func CreateDB(
	ctx context.Context,
	databaseType string,
	database string,
	level slog.Leveler,
	slowThreshold time.Duration,
) (*gorm.DB, error) {
	if lv, ok := level.(*slog.LevelVar); level == nil || (ok && lv == nil) {
		level = DefaultDatabaseLogLevel
	}
	handler := tint.NewHandler(defaultLogWriter, &tint.Options{Level: level, AddSource: true})
	slog.New(handler).With(loggerNameKey, "database").InfoContext(
		ctx, "opening database", "database_type", databaseType,
	)

	dialector, err := dbDialector(databaseType, database)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(
		dialector,
		&gorm.Config{
			Logger:  newGORMLogger(handler, slowThreshold),
			NowFunc: func() time.Time { return time.Now().UTC() },
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error opening %s database: %w", databaseType, err)
	}

	if databaseType == dbTypeSQLite {
		if err = configureSQLite(ctx, db); err != nil {
			return nil, err
		}
	}

	err = db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			return tx.Migrator().AutoMigrate(persistedModels...)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}
	return db, nil
}

func dbDialector(databaseType string, database string) (gorm.Dialector, error) {
	switch databaseType {
	case dbTypeSQLite:
		if dir := filepath.Dir(database); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("error creating database directory: %w", err)
			}
		}
		return sqlite.Open(database), nil
	case dbTypePostgres:
		return postgres.Open(database), nil
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}

func configureSQLite(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
	sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
	sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)

	for _, pragma := range sqlitePragmas {
		if err = db.WithContext(ctx).Exec(pragma).Error; err != nil {
			return fmt.Errorf("error setting %q: %w", pragma, err)
		}
	}
	return nil
}

// dbContext bounds a database call, so a hung database can't stall a
// processing loop.
func dbContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, dbOperationTimeout)
}
