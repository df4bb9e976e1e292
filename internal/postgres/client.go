package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/storyforge/metering/internal/config"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/logger"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx. All
// repositories run their statements through it so the same code works inside
// and outside transactions.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// IClient is the database client used by repositories and services.
type IClient interface {
	// Querier returns the transaction bound to the context if one exists,
	// otherwise the root connection pool.
	Querier(ctx context.Context) Querier

	// WithTx runs fn inside a transaction. The transaction is stored on the
	// context passed to fn; nested calls join the outer transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// LockKey acquires a per-key advisory lock inside the current
	// transaction. Released automatically on commit or rollback.
	LockKey(ctx context.Context, key string, timeout time.Duration) error

	// Close releases the underlying pool.
	Close() error
}

type txKey struct{}

// Client implements IClient over lib/pq.
type Client struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewClient opens a postgres connection pool from configuration.
func NewClient(cfg *config.Configuration, log *logger.Logger) (*Client, error) {
	db, err := sql.Open("postgres", cfg.GetPostgresDSN())
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to open postgres connection").
			Mark(ierr.ErrDatabase)
	}

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Postgres.ConnMaxLifetimeMinutes) * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Postgres is unreachable").
			Mark(ierr.ErrDatabase)
	}

	return &Client{db: db, logger: log}, nil
}

// TxFromContext returns the transaction bound to the context, or nil.
func (c *Client) TxFromContext(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

func (c *Client) Querier(ctx context.Context) Querier {
	if tx := c.TxFromContext(ctx); tx != nil {
		return tx
	}
	return c.db
}

func (c *Client) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	// Join the outer transaction if one is already open.
	if tx := c.TxFromContext(ctx); tx != nil {
		return fn(ctx)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to begin transaction").
			Mark(ierr.ErrDatabase)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.logger.Errorw("failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to commit transaction").
			Mark(ierr.ErrDatabase)
	}

	return nil
}

func (c *Client) Close() error {
	return c.db.Close()
}
