package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/aussiebroadwan/vulntab/internal/console/store"
)

var errNestedTx = errors.New("sqlite: nested transactions are not supported")

// txStore scopes every repository to one *sql.Tx. Closing it leaves the
// parent database open.
type txStore struct {
	tx *sql.Tx
}

var _ store.Tx = (*txStore)(nil)

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }
func (t *txStore) Close() error    { return nil }

func (t *txStore) Ping(context.Context) error { return nil }

func (t *txStore) Tx(context.Context) (store.Tx, error) { return nil, errNestedTx }

func (t *txStore) WithTx(context.Context, func(store.Tx) error) error { return errNestedTx }

func (t *txStore) ApplyMigrations() error { return nil }

func (t *txStore) Cookies() store.Cookies         { return &cookiesRepo{q: t.tx} }
func (t *txStore) Credentials() store.Credentials { return &credentialsRepo{q: t.tx} }
func (t *txStore) ActionCodes() store.ActionCodes { return &actionCodesRepo{q: t.tx} }
