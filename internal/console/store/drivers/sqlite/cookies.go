package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/domain"
	"github.com/aussiebroadwan/vulntab/internal/console/store"
)

type cookiesRepo struct {
	q querier
}

func (r *cookiesRepo) GetCookie(ctx context.Context, name string) (domain.Cookie, error) {
	var (
		c                    domain.Cookie
		expiresAt, updatedAt int64
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT name, value, expires_at, updated_at FROM cookies WHERE name = ?`, name,
	).Scan(&c.Name, &c.SealedValue, &expiresAt, &updatedAt)
	if err != nil {
		return domain.Cookie{}, mapNotFound(err)
	}
	c.ExpiresAt = fromUnix(expiresAt)
	c.UpdatedAt = fromUnix(updatedAt)
	return c, nil
}

func (r *cookiesRepo) PutCookie(ctx context.Context, c domain.Cookie) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO cookies (name, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		c.Name, c.SealedValue, c.ExpiresAt.Unix(), c.UpdatedAt.Unix(),
	)
	return err
}

func (r *cookiesRepo) DeleteCookie(ctx context.Context, name string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM cookies WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *cookiesRepo) DeleteExpiredCookies(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM cookies WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
