package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/SinaHo/phone-auth-backend/internal/config"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know about.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Open connects to the configured database and applies the schema.
func Open(cfg *config.Config, logger *zap.SugaredLogger) (*sqlx.DB, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch cfg.Database.Driver {
	case DriverPostgres:
		db, err = sqlx.Connect(DriverPostgres, cfg.Postgres.DSN())
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		if cfg.Database.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		}
		if cfg.Database.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		}
	case DriverSQLite:
		db, err = OpenSQLite(cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Database.Driver)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	logger.Infow("database ready", "driver", cfg.Database.Driver)
	return db, nil
}

// OpenSQLite opens a SQLite database file. SQLite allows a single writer, so
// the pool is limited to one connection.
func OpenSQLite(path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite", path)
	db, err := sqlx.Connect(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite connect: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// Migrate creates the schema for the connected dialect.
func Migrate(db *sqlx.DB) error {
	var migrations []string
	switch db.DriverName() {
	case DriverPostgres:
		migrations = postgresSchema
	case DriverSQLite:
		migrations = sqliteSchema
	default:
		return fmt.Errorf("no schema for driver %q", db.DriverName())
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		phone TEXT NOT NULL UNIQUE,
		invite_code TEXT NOT NULL UNIQUE,
		referred_by UUID REFERENCES users(id) ON DELETE SET NULL,
		referral_code_used TEXT,
		referred_at TIMESTAMPTZ,
		email TEXT,
		avatar TEXT,
		city TEXT,
		telegram_id TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_staff BOOLEAN NOT NULL DEFAULT FALSE,
		is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_referred_by ON users(referred_by)`,
	`CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		phone TEXT NOT NULL UNIQUE,
		invite_code TEXT NOT NULL UNIQUE,
		referred_by TEXT REFERENCES users(id) ON DELETE SET NULL,
		referral_code_used TEXT,
		referred_at DATETIME,
		email TEXT,
		avatar TEXT,
		city TEXT,
		telegram_id TEXT,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		is_staff BOOLEAN NOT NULL DEFAULT 0,
		is_superuser BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_referred_by ON users(referred_by)`,
	`CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at)`,
}
