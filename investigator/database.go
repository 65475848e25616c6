package investigator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"

	postgresNotifyChannelReloadEnabledGuilds = "investigator_reload_enabled_guilds"
	postgresNotifyChannelStop                = "investigator_stop"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout    = 30 * time.Second
	dbNotifierSendTimeout = 15 * time.Second
)

// ModelUnixTime is an embeddable model with Unix timestamps (in
// milliseconds) for creation and update.
type ModelUnixTime struct {
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// database wraps the GORM connection used for write operations.
//
// When concurrent writes are disabled (SQLite), a mutex serializes all
// write operations. Each operation gets a default deadline if the caller's
// context doesn't already carry one.
//
// database implements the DBI interface, which exists primarily so storage
// can be mocked in tests.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

// NewDatabase initializes a new database instance wrapping the given
// GORM connection.
func NewDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) Lock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Lock()
}

func (d *database) Unlock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Unlock()
}

// opContext returns ctx with the default database operation deadline
// applied, if the caller didn't set one.
func opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}

func (d *database) Create(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	d.Lock()
	defer d.Unlock()

	ctx, cancel := opContext(ctx)
	defer cancel()
	db := d.db.WithContext(ctx)

	if len(omit) > 0 {
		rv := db.Omit(omit...).Create(value)
		return rv.RowsAffected, rv.Error
	}
	rv := db.Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Updates(ctx context.Context, model, values any) (
	rowsAffected int64,
	err error,
) {
	d.Lock()
	defer d.Unlock()

	ctx, cancel := opContext(ctx)
	defer cancel()
	rv := d.db.WithContext(ctx).Model(model).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) Transaction(
	ctx context.Context,
	fc func(tx *gorm.DB) error,
	opts ...*sql.TxOptions,
) (err error) {
	d.Lock()
	defer d.Unlock()

	ctx, cancel := opContext(ctx)
	defer cancel()
	return d.db.WithContext(ctx).Transaction(fc, opts...)
}

func (d *database) Save(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	d.Lock()
	defer d.Unlock()

	ctx, cancel := opContext(ctx)
	defer cancel()

	if len(omit) > 0 {
		rv := d.db.WithContext(ctx).Omit(omit...).Save(value)
		return rv.RowsAffected, rv.Error
	}
	rv := d.db.WithContext(ctx).Save(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Update(
	ctx context.Context,
	model any,
	column string,
	value any,
) (rowsAffected int64, err error) {
	d.Lock()
	defer d.Unlock()

	ctx, cancel := opContext(ctx)
	defer cancel()

	rv := d.db.WithContext(ctx).Model(model).Update(column, value)
	return rv.RowsAffected, rv.Error
}

func (d *database) UpdatesWhere(
	ctx context.Context,
	model any,
	values map[string]any,
	query any,
	conds ...any,
) (rowsAffected int64, err error) {
	d.Lock()
	defer d.Unlock()

	ctx, cancel := opContext(ctx)
	defer cancel()

	rv := d.db.WithContext(ctx).Model(model).Where(query, conds...).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) Delete(
	value any,
	conds ...any,
) (rowsAffected int64, err error) {
	d.Lock()
	defer d.Unlock()
	rv := d.db.Delete(value, conds...)
	return rv.RowsAffected, rv.Error
}

// DBI defines the interface for database operations. This is here primarily
// to enable mocking of the database operations for testing.
// [database] implements this interface for 'real' DB operations.
type DBI interface {
	Lock()
	Unlock()

	DB() *gorm.DB
	Create(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Updates(ctx context.Context, model any, values any) (rowsAffected int64, err error)
	Delete(value any, conds ...any) (rowsAffected int64, err error)
	Transaction(
		ctx context.Context,
		fc func(tx *gorm.DB) error,
		opts ...*sql.TxOptions,
	) (err error)
	Save(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Update(ctx context.Context, model any, column string, value any) (
		rowsAffected int64,
		err error,
	)
	UpdatesWhere(
		ctx context.Context,
		model any,
		values map[string]any,
		query any,
		conds ...any,
	) (rowsAffected int64, err error)

	// Truth bullet registry

	FindTruthBullet(ctx context.Context, channelID string, content string) (
		*TruthBullet,
		error,
	)
	FindExactTruthBullet(ctx context.Context, channelID string, text string) (
		*TruthBullet,
		error,
	)
	TruthBulletExists(ctx context.Context, channelID string, text string) (bool, error)
	CommitDiscovery(ctx context.Context, bullet *TruthBullet, finderID string) error
	CreateTruthBullet(ctx context.Context, bullet *TruthBullet) error
	DeleteTruthBullet(ctx context.Context, channelID string, trigger string) (int64, error)
	TruthBulletsInChannel(ctx context.Context, channelID string) ([]TruthBullet, error)
	TruthBulletsInGuild(ctx context.Context, guildID string) ([]TruthBullet, error)
	UnfoundTruthBullets(ctx context.Context, channelID string) ([]TruthBullet, error)
	ClearTruthBullets(ctx context.Context, guildID string) (int64, error)

	// Guild configuration resolver

	GetGuildConfig(ctx context.Context, guildID string, kinds ...SubConfigKind) (
		*GuildConfig,
		error,
	)
	GetGuildConfigOrNone(ctx context.Context, guildID string, kinds ...SubConfigKind) (
		*GuildConfig,
		error,
	)
	GetOrCreateGuildConfig(ctx context.Context, guildID string, kinds ...SubConfigKind) (
		*GuildConfig,
		error,
	)
	DeleteGuildData(ctx context.Context, guildID string) error

	// Gacha ledger and item catalog

	GrantCurrency(ctx context.Context, guildID, userID string, amount int64) (
		*GachaPlayer,
		error,
	)
	RemoveCurrency(ctx context.Context, guildID, userID string, amount int64) (
		*GachaPlayer,
		error,
	)
	ResetCurrencyIfPositive(ctx context.Context, guildID, userID string) (bool, error)
	GrantCurrencyAll(ctx context.Context, guildID string, userIDs []string, amount int64) error
	GetGachaPlayer(ctx context.Context, guildID, userID string) (*GachaPlayer, error)
	ListGachaPlayers(ctx context.Context, guildID string) ([]GachaPlayer, error)
	CreateGachaItem(ctx context.Context, item *GachaItem) error
	UpdateGachaItem(ctx context.Context, itemID uint, update GachaItemUpdate) (
		*GachaItem,
		error,
	)
	DeleteGachaItem(ctx context.Context, guildID string, name string) (int64, error)
	ListGachaItems(ctx context.Context, guildID string) ([]GachaItem, error)
	GetGachaItemByName(ctx context.Context, guildID string, name string) (*GachaItem, error)
	GiveItemToPlayer(ctx context.Context, player *GachaPlayer, item *GachaItem) error

	// Message links

	GetMessageLink(ctx context.Context, guildID, userID string) (*MessageLink, error)
	LinkUserChannel(ctx context.Context, guildID, userID, channelID string) (
		*MessageLink,
		error,
	)
	UnlinkUser(ctx context.Context, guildID, userID string) (int64, error)
}

// CreateDB initializes and returns a GORM database connection based on the
// specified database type ('sqlite' or 'postgres'), and auto-migrates the
// bot's models.
func CreateDB(ctx context.Context, databaseType string, database string) (*gorm.DB, error) {
	handler := tint.NewHandler(
		os.Stdout,
		&tint.Options{
			Level:     slog.LevelWarn,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, 500*time.Millisecond)
	dbLogger := slog.New(handler)

	dbLogger.InfoContext(
		ctx,
		"Initializing database",
		"database_type", databaseType,
		"database", database,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}

	txn := db.WithContext(ctx).Begin()

	mg := txn.Migrator()
	err = mg.AutoMigrate(
		&GuildConfig{},
		&Names{},
		&BulletConfig{},
		&GachaConfig{},
		&MessageConfig{},
		&TruthBullet{},
		&GachaPlayer{},
		&GachaItem{},
		&MessageLink{},
	)
	if err != nil {
		return db, err
	}

	commitErr := txn.Commit().Error
	if commitErr != nil {
		return db, commitErr
	}

	if databaseType == dbTypeSQLite {
		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			return db, dbErr
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		for _, pragma := range sqliteExecPragma {
			if execErr := db.Exec(pragma).Error; execErr != nil {
				return db, execErr
			}
		}
	}

	return db, nil
}

// getDB initializes and returns a GORM database connection based on the
// specified database type. TranslateError is enabled so duplicate-key
// violations surface as gorm.ErrDuplicatedKey regardless of backend.
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(sqlite.Open(database), gormConfig)
	case dbTypePostgres:
		return gorm.Open(postgres.Open(database), gormConfig)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
