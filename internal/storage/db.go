package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DriverSQLite and DriverPostgres are the supported relational drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// OpenOptions configures the database connection.
type OpenOptions struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open opens the relational store and verifies connectivity.
func Open(ctx context.Context, opts OpenOptions) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)

	switch opts.Driver {
	case DriverSQLite:
		dsn := opts.DSN
		if dsn != ":memory:" {
			dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", dsn)
		}
		db, err = sql.Open("sqlite3", dsn)
		if err == nil {
			// SQLite serializes writers; more connections just contend.
			db.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		db, err = sql.Open("postgres", opts.DSN)
		if err == nil {
			if opts.MaxOpenConns > 0 {
				db.SetMaxOpenConns(opts.MaxOpenConns)
			}
			if opts.MaxIdleConns > 0 {
				db.SetMaxIdleConns(opts.MaxIdleConns)
			}
			if opts.ConnMaxLifetime > 0 {
				db.SetConnMaxLifetime(opts.ConnMaxLifetime)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", opts.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Driver, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", opts.Driver, err)
	}

	return db, nil
}

// Store bundles the connection with all repositories and provides
// transaction scoping for ingest writes.
type Store struct {
	*Repositories
	db     *sql.DB
	driver string
}

// NewStore creates a Store over an open connection.
func NewStore(db *sql.DB, driver string) *Store {
	return &Store{
		Repositories: NewRepositories(db, driver),
		db:           db,
		driver:       driver,
	}
}

// DB exposes the underlying connection for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Driver returns the active driver name.
func (s *Store) Driver() string { return s.driver }

// WithTx runs fn inside a transaction. All repository calls made through the
// passed Repositories hit the same transaction; a returned error rolls
// everything back.
func (s *Store) WithTx(ctx context.Context, fn func(repos *Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(NewRepositories(tx, s.driver)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }
