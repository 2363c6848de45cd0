package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is the opaque transaction handle passed through repository calls. The
// concrete type is infra-defined (pgx.Tx for Postgres). Repositories MUST
// gracefully accept a nil Tx and fall back to the pool.
type Tx interface{}

// TransactionManager executes a function within a database transaction,
// passing the tx handle down so repository calls inside the callback share
// one transaction. Keeps use-case interfaces free of driver types beyond
// the options struct.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
