package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/domain"
	"github.com/aussiebroadwan/vulntab/internal/console/store"
)

type actionCodesRepo struct {
	q querier
}

func (r *actionCodesRepo) GetActionCode(ctx context.Context, fingerprint string) (domain.ActionCode, error) {
	var (
		a          domain.ActionCode
		consumedAt int64
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT fingerprint, mode, outcome, consumed_at FROM action_codes WHERE fingerprint = ?`, fingerprint,
	).Scan(&a.Fingerprint, &a.Mode, &a.Outcome, &consumedAt)
	if err != nil {
		return domain.ActionCode{}, mapNotFound(err)
	}
	a.ConsumedAt = fromUnix(consumedAt)
	return a, nil
}

func (r *actionCodesRepo) RecordActionCode(ctx context.Context, a domain.ActionCode) error {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO action_codes (fingerprint, mode, outcome, consumed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO NOTHING`,
		a.Fingerprint, string(a.Mode), string(a.Outcome), a.ConsumedAt.Unix(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (r *actionCodesRepo) DeleteActionCodesBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM action_codes WHERE consumed_at < ?`, before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
