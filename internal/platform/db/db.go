package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Conn wraps DB connectivity. Either a Postgres DSN or an SQLite path must
// be configured; SQLite keeps local development and the worker's durable
// state self-contained.
type Conn struct {
	DB *gorm.DB
}

// Cfg holds the connection target.
type Cfg struct {
	PostgresDSN string
	SQLitePath  string
}

// Option configures the connection target.
type Option func(Cfg) Cfg

// WithPostgresDSN selects Postgres as the backing database.
func WithPostgresDSN(dsn string) Option {
	return func(cfg Cfg) Cfg {
		cfg.PostgresDSN = dsn
		return cfg
	}
}

// WithSQLitePath selects SQLite as the backing database.
func WithSQLitePath(path string) Option {
	return func(cfg Cfg) Cfg {
		cfg.SQLitePath = path
		return cfg
	}
}

// Connect opens the configured database and verifies connectivity.
func Connect(opts ...Option) (*Conn, error) {
	var cfg Cfg
	for _, opt := range opts {
		cfg = opt(cfg)
	}

	if cfg.PostgresDSN == "" && cfg.SQLitePath == "" {
		return nil, errors.New("either postgres dsn or sqlite path must be provided")
	}

	var dial gorm.Dialector
	if cfg.PostgresDSN != "" {
		dial = postgres.Open(cfg.PostgresDSN)
	}
	if cfg.SQLitePath != "" {
		dial = sqlite.Open(cfg.SQLitePath)
	}

	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open gorm database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve sql db handle: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Conn{DB: db}, nil
}

func (c *Conn) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
