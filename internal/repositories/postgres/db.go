package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	driverName         = "postgres"
	defaultPingTimeout = 5 * time.Second
)

//go:embed schema.sql
var schemaSQL string

// Open connects to Postgres using the supplied configuration and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := strings.TrimSpace(cfg.URL)
	if dsn == "" {
		return nil, errors.New("postgres: database url is required")
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("postgres: db is required")
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return WrapError("migrate", err)
	}
	return nil
}

// Store is the Postgres-backed repository registry.
type Store struct {
	db        *sql.DB
	orders    *OrderRepository
	inventory *InventoryRepository
	approvals *DesignApprovalRepository
	audit     *AuditLogRepository
	tx        *TxManager
}

var _ repositories.Registry = (*Store)(nil)

// NewStore wires every repository over the shared connection pool.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("postgres: db is required")
	}
	return &Store{
		db:        db,
		orders:    &OrderRepository{db: db},
		inventory: &InventoryRepository{db: db},
		approvals: &DesignApprovalRepository{db: db},
		audit:     &AuditLogRepository{db: db},
		tx:        NewTxManager(db),
	}, nil
}

func (s *Store) Orders() repositories.OrderRepository                   { return s.orders }
func (s *Store) Inventory() repositories.InventoryRepository            { return s.inventory }
func (s *Store) DesignApprovals() repositories.DesignApprovalRepository { return s.approvals }
func (s *Store) AuditLogs() repositories.AuditLogRepository             { return s.audit }

// RunInTx implements repositories.UnitOfWork.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.tx.RunInTx(ctx, fn)
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
