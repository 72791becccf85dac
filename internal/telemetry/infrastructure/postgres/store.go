package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	telemetry "hemis-telemetry/internal/telemetry/domain"
)

// Store roles used by the telemetry pipeline.
const (
	RoleIngest    = "iot_ingest"
	RoleSimulator = "iot_simulator"
	RoleReader    = "iot_reader"
)

// Store executes reads and writes on behalf of a named role. Roles without
// dedicated credentials share the default connection pool.
type Store struct {
	defaultDB *sql.DB
	roles     map[string]*sql.DB
	owned     []*sql.DB
	logger    *zap.Logger
}

// StoreOption configures the store.
type StoreOption func(*Store)

// WithRoleDB binds a role to its own connection pool.
func WithRoleDB(role string, db *sql.DB) StoreOption {
	return func(s *Store) {
		if role != "" && db != nil {
			s.roles[role] = db
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore wraps an existing default pool.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{defaultDB: db, roles: make(map[string]*sql.DB), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the default pool plus one pool per role DSN.
func Open(defaultDSN string, roleDSNs map[string]string, logger *zap.Logger) (*Store, error) {
	if defaultDSN == "" {
		return nil, errors.New("telemetry store: empty dsn")
	}
	db, err := sql.Open("pgx", defaultDSN)
	if err != nil {
		return nil, err
	}
	s := NewStore(db, WithLogger(logger))
	s.owned = append(s.owned, db)
	for role, dsn := range roleDSNs {
		if role == "" || dsn == "" {
			continue
		}
		roleDB, err := sql.Open("pgx", dsn)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("telemetry store: open role %s: %w", role, err)
		}
		s.roles[role] = roleDB
		s.owned = append(s.owned, roleDB)
	}
	return s, nil
}

// ParseRoleDSNs parses "role=dsn,role=dsn".
func ParseRoleDSNs(value string) map[string]string {
	out := make(map[string]string)
	for _, item := range strings.Split(value, ",") {
		role, dsn, ok := strings.Cut(strings.TrimSpace(item), "=")
		if !ok {
			continue
		}
		role = strings.TrimSpace(role)
		dsn = strings.TrimSpace(dsn)
		if role != "" && dsn != "" {
			out[role] = dsn
		}
	}
	return out
}

// DB returns the pool for role, falling back to the default pool.
func (s *Store) DB(role string) *sql.DB {
	if s == nil {
		return nil
	}
	if db, ok := s.roles[role]; ok {
		return db
	}
	return s.defaultDB
}

// Default returns the default pool.
func (s *Store) Default() *sql.DB {
	if s == nil {
		return nil
	}
	return s.defaultDB
}

// Ping checks every pool.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.defaultDB == nil {
		return errors.New("telemetry store: nil db")
	}
	if err := s.defaultDB.PingContext(ctx); err != nil {
		return fmt.Errorf("telemetry store: ping: %w: %w", telemetry.ErrStorage, err)
	}
	for role, db := range s.roles {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("telemetry store: ping role %s: %w: %w", role, telemetry.ErrStorage, err)
		}
	}
	return nil
}

// InTx runs fn in a transaction on role's pool. fn's error or panic rolls back.
func (s *Store) InTx(ctx context.Context, role string, fn func(tx *sql.Tx) error) (err error) {
	db := s.DB(role)
	if db == nil {
		return errors.New("telemetry store: nil db")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("telemetry store: begin: %w: %w", telemetry.ErrStorage, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", zap.String("role", role), zap.Error(rbErr))
		}
		if errors.Is(err, telemetry.ErrStorage) || errors.Is(err, telemetry.ErrDeviceNotFound) {
			return err
		}
		return fmt.Errorf("telemetry store: tx: %w: %w", telemetry.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("telemetry store: commit: %w: %w", telemetry.ErrStorage, err)
	}
	return nil
}

// Close closes the pools opened by Open.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, db := range s.owned {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.owned = nil
	return errors.Join(errs...)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, telemetry.ErrStorage, err)
}
