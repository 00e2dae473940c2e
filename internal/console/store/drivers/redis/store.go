// Package redis is a Store driver backed by Redis. Expiry is delegated to
// key TTLs, so the sweeper's delete calls report nothing removed.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/store"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix              = "vulntab:console"
	defaultActionCodeRetention = 30 * 24 * time.Hour
)

var errTxDone = errors.New("redis: transaction already committed or rolled back")

type Options struct {
	// Prefix namespaces every key. Defaults to "vulntab:console".
	Prefix string
	// ActionCodeRetention is how long consumed action codes are remembered.
	ActionCodeRetention time.Duration
}

type Store struct {
	rdb  *redis.Client
	opts Options
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

func NewStore(rdb *redis.Client, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.ActionCodeRetention <= 0 {
		opts.ActionCodeRetention = defaultActionCodeRetention
	}
	return &Store{rdb: rdb, opts: opts, now: time.Now}
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// ApplyMigrations is a no-op; the keyspace has no schema.
func (s *Store) ApplyMigrations() error { return nil }

// Tx queues writes in a MULTI/EXEC pipeline. Reads inside the transaction
// see committed state only.
func (s *Store) Tx(ctx context.Context) (store.Tx, error) {
	return &txStore{parent: s, ctx: ctx, pipe: s.rdb.TxPipeline()}, nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.Tx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Cookies() store.Cookies         { return &cookiesRepo{s.repo(s.rdb, false)} }
func (s *Store) Credentials() store.Credentials { return &credentialsRepo{s.repo(s.rdb, false)} }
func (s *Store) ActionCodes() store.ActionCodes { return &actionCodesRepo{s.repo(s.rdb, false)} }

func (s *Store) repo(wr redis.Cmdable, queued bool) repo {
	return repo{rd: s.rdb, wr: wr, queued: queued, prefix: s.opts.Prefix, retention: s.opts.ActionCodeRetention, now: s.now}
}

// repo is shared by the sub-repositories. Writes go to wr, which is the
// transaction pipeline inside a Tx; queued writes have no result yet.
type repo struct {
	rd        redis.Cmdable
	wr        redis.Cmdable
	queued    bool
	prefix    string
	retention time.Duration
	now       func() time.Time
}

func (r repo) key(kind, id string) string {
	return r.prefix + ":" + kind + ":" + id
}

func (r repo) get(ctx context.Context, key string, dst any) error {
	raw, err := r.rd.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (r repo) del(ctx context.Context, key string) error {
	if r.queued {
		n, err := r.rd.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return r.wr.Del(ctx, key).Err()
	}
	n, err := r.wr.Del(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type txStore struct {
	parent *Store
	ctx    context.Context
	pipe   redis.Pipeliner
	done   bool
}

func (t *txStore) Commit() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	_, err := t.pipe.Exec(t.ctx)
	return err
}

func (t *txStore) Rollback() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.pipe.Discard()
	return nil
}

func (t *txStore) Close() error                   { return nil }
func (t *txStore) Ping(ctx context.Context) error { return nil }
func (t *txStore) ApplyMigrations() error         { return nil }

func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	return nil, errTxDone
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return errTxDone
}

func (t *txStore) Cookies() store.Cookies { return &cookiesRepo{t.parent.repo(t.pipe, true)} }
func (t *txStore) Credentials() store.Credentials {
	return &credentialsRepo{t.parent.repo(t.pipe, true)}
}
func (t *txStore) ActionCodes() store.ActionCodes {
	return &actionCodesRepo{t.parent.repo(t.pipe, true)}
}
