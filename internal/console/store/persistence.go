package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/vulntab/internal/console/domain"
	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/aussiebroadwan/vulntab/pkg/cryptox"
)

// CredentialPersistence keeps identity refresh credentials in a Store,
// sealed with the backend name as associated data.
type CredentialPersistence struct {
	store  Store
	sealer *cryptox.Sealer
}

var _ identity.Persistence = (*CredentialPersistence)(nil)

func NewCredentialPersistence(s Store, sealer *cryptox.Sealer) *CredentialPersistence {
	return &CredentialPersistence{store: s, sealer: sealer}
}

func (p *CredentialPersistence) Load(ctx context.Context, backend string) (identity.StoredCredential, error) {
	row, err := p.store.Credentials().GetCredential(ctx, backend)
	if errors.Is(err, ErrNotFound) {
		return identity.StoredCredential{}, identity.ErrNoStoredCredential
	}
	if err != nil {
		return identity.StoredCredential{}, fmt.Errorf("failed to load credential: %w", err)
	}

	rt, err := p.sealer.Open(row.SealedRefreshToken, []byte(backend))
	if err != nil {
		// Sealed under a different key, for example after an ephemeral key
		// was replaced. Treat as absent.
		return identity.StoredCredential{}, identity.ErrNoStoredCredential
	}
	return identity.StoredCredential{
		Backend:      row.Backend,
		UserID:       row.UserID,
		Email:        row.Email,
		RefreshToken: string(rt),
		UpdatedAt:    row.UpdatedAt,
	}, nil
}

func (p *CredentialPersistence) Save(ctx context.Context, c identity.StoredCredential) error {
	sealed, err := p.sealer.Seal([]byte(c.RefreshToken), []byte(c.Backend))
	if err != nil {
		return fmt.Errorf("failed to seal credential: %w", err)
	}
	return p.store.Credentials().PutCredential(ctx, domain.IdentityCredential{
		Backend:            c.Backend,
		UserID:             c.UserID,
		Email:              c.Email,
		SealedRefreshToken: sealed,
		UpdatedAt:          c.UpdatedAt,
	})
}

func (p *CredentialPersistence) Clear(ctx context.Context, backend string) error {
	err := p.store.Credentials().DeleteCredential(ctx, backend)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
