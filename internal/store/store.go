package store

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/safar/storefront/internal/database"
)

type Options struct {
	// QueryTimeout bounds each store call, including whole transactions.
	QueryTimeout time.Duration
	TxMaxRetries int
	Logger       *zap.Logger
}

// Store groups the repositories that share one connection pool.
type Store struct {
	Users           *UserStore
	Products        *ProductStore
	Carts           *CartStore
	Orders          *OrderStore
	Reviews         *ReviewStore
	Reconciliations *ReconciliationStore
}

func New(db *sql.DB, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	b := base{db: db, opts: opts}

	return &Store{
		Users:           &UserStore{base: b},
		Products:        &ProductStore{base: b},
		Carts:           &CartStore{base: b},
		Orders:          &OrderStore{base: b},
		Reviews:         &ReviewStore{base: b},
		Reconciliations: &ReconciliationStore{base: b},
	}
}

type base struct {
	db   *sql.DB
	opts Options
}

func (b base) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return database.WithTimeout(ctx, b.opts.QueryTimeout)
}

func (b base) txOptions() database.TxOptions {
	opts := database.DefaultTxOptions()
	opts.MaxRetries = b.opts.TxMaxRetries
	return opts
}
