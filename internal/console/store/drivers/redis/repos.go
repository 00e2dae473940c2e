package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/domain"
	"github.com/aussiebroadwan/vulntab/internal/console/store"
	"github.com/redis/go-redis/v9"
)

type cookiesRepo struct{ repo }

func (r *cookiesRepo) GetCookie(ctx context.Context, name string) (domain.Cookie, error) {
	var c domain.Cookie
	err := r.get(ctx, r.key("cookie", name), &c)
	return c, err
}

func (r *cookiesRepo) PutCookie(ctx context.Context, c domain.Cookie) error {
	key := r.key("cookie", c.Name)
	if !c.ExpiresAt.After(r.now()) {
		return r.wr.Del(ctx, key).Err()
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.wr.SetArgs(ctx, key, raw, redis.SetArgs{ExpireAt: c.ExpiresAt}).Err()
}

func (r *cookiesRepo) DeleteCookie(ctx context.Context, name string) error {
	return r.del(ctx, r.key("cookie", name))
}

// DeleteExpiredCookies reports zero: cookie keys carry their own TTL.
func (r *cookiesRepo) DeleteExpiredCookies(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type credentialsRepo struct{ repo }

func (r *credentialsRepo) GetCredential(ctx context.Context, backend string) (domain.IdentityCredential, error) {
	var c domain.IdentityCredential
	err := r.get(ctx, r.key("credential", backend), &c)
	return c, err
}

func (r *credentialsRepo) PutCredential(ctx context.Context, c domain.IdentityCredential) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.wr.Set(ctx, r.key("credential", c.Backend), raw, 0).Err()
}

func (r *credentialsRepo) DeleteCredential(ctx context.Context, backend string) error {
	return r.del(ctx, r.key("credential", backend))
}

type actionCodesRepo struct{ repo }

func (r *actionCodesRepo) GetActionCode(ctx context.Context, fingerprint string) (domain.ActionCode, error) {
	var a domain.ActionCode
	err := r.get(ctx, r.key("actioncode", fingerprint), &a)
	return a, err
}

func (r *actionCodesRepo) RecordActionCode(ctx context.Context, a domain.ActionCode) error {
	key := r.key("actioncode", a.Fingerprint)
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}

	if r.queued {
		n, err := r.rd.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return store.ErrAlreadyExists
		}
		return r.wr.SetNX(ctx, key, raw, r.retention).Err()
	}

	ok, err := r.wr.SetNX(ctx, key, raw, r.retention).Result()
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrAlreadyExists
	}
	return nil
}

// DeleteActionCodesBefore reports zero: action code keys expire after the
// retention period.
func (r *actionCodesRepo) DeleteActionCodesBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}
