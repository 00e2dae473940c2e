package sqlite

import (
	"context"

	"github.com/aussiebroadwan/vulntab/internal/console/domain"
	"github.com/aussiebroadwan/vulntab/internal/console/store"
)

type credentialsRepo struct {
	q querier
}

func (r *credentialsRepo) GetCredential(ctx context.Context, backend string) (domain.IdentityCredential, error) {
	var (
		c         domain.IdentityCredential
		updatedAt int64
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT backend, user_id, email, refresh_token, updated_at FROM identity_credentials WHERE backend = ?`, backend,
	).Scan(&c.Backend, &c.UserID, &c.Email, &c.SealedRefreshToken, &updatedAt)
	if err != nil {
		return domain.IdentityCredential{}, mapNotFound(err)
	}
	c.UpdatedAt = fromUnix(updatedAt)
	return c, nil
}

func (r *credentialsRepo) PutCredential(ctx context.Context, c domain.IdentityCredential) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO identity_credentials (backend, user_id, email, refresh_token, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (backend) DO UPDATE SET
			user_id = excluded.user_id,
			email = excluded.email,
			refresh_token = excluded.refresh_token,
			updated_at = excluded.updated_at`,
		c.Backend, c.UserID, c.Email, c.SealedRefreshToken, c.UpdatedAt.Unix(),
	)
	return err
}

func (r *credentialsRepo) DeleteCredential(ctx context.Context, backend string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM identity_credentials WHERE backend = ?`, backend)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
