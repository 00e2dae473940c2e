package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/vulntab/pkg/cryptox"
)

// DefaultRefreshSkew is how long before expiry a token gets refreshed.
const DefaultRefreshSkew = 5 * time.Minute

// RefreshFunc exchanges a refresh token for a fresh credential.
type RefreshFunc func(ctx context.Context, refreshToken string) (*Credential, error)

// Keeper holds the session bookkeeping shared by every adapter: announcing
// sign-ins through the Notifier, persisting the refresh credential,
// refreshing tokens and remembering consumed single-use codes.
type Keeper struct {
	Backend     string
	Notifier    *Notifier
	Persistence Persistence
	Refresh     RefreshFunc
	Logger      *slog.Logger
	Now         func() time.Time
	RefreshSkew time.Duration

	refreshMu sync.Mutex

	usedMu sync.Mutex
	used   map[string]struct{}
}

func NewKeeper(backend string, p Persistence, refresh RefreshFunc, logger *slog.Logger, now func() time.Time) *Keeper {
	if p == nil {
		p = NewMemoryPersistence()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Keeper{
		Backend:     backend,
		Notifier:    NewNotifier(),
		Persistence: p,
		Refresh:     refresh,
		Logger:      logger.With("identity_backend", backend),
		Now:         now,
		RefreshSkew: DefaultRefreshSkew,
		used:        make(map[string]struct{}),
	}
}

// Establish announces cred if no sign-out happened since epoch was taken,
// then persists its refresh token.
func (k *Keeper) Establish(ctx context.Context, epoch uint64, cred *Credential) (*Credential, error) {
	if !k.Notifier.SignIn(epoch, *cred) {
		k.Logger.Info("dropping sign-in result that completed after sign-out", "uid", cred.User.UID)
		return nil, ErrSuperseded
	}
	k.persist(ctx, cred)
	return cred, nil
}

func (k *Keeper) persist(ctx context.Context, cred *Credential) {
	if cred.RefreshToken == "" {
		return
	}
	err := k.Persistence.Save(ctx, StoredCredential{
		Backend:      k.Backend,
		UserID:       cred.User.UID,
		Email:        cred.User.Email,
		RefreshToken: cred.RefreshToken,
		UpdatedAt:    k.Now(),
	})
	if err != nil {
		// The session is live; only the next restart is affected.
		k.Logger.Warn("failed to persist identity credential", "error", err)
	}
}

// Token returns the live session's token, refreshing it when it expires
// within RefreshSkew.
func (k *Keeper) Token(ctx context.Context) (string, error) {
	cur, ok := k.Notifier.Current()
	if !ok {
		return "", ErrNoCurrentUser
	}
	if k.fresh(cur) {
		return cur.IDToken, nil
	}

	k.refreshMu.Lock()
	defer k.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	cur, ok = k.Notifier.Current()
	if !ok {
		return "", ErrNoCurrentUser
	}
	if k.fresh(cur) {
		return cur.IDToken, nil
	}
	if cur.RefreshToken == "" || k.Refresh == nil {
		return "", NewError(CodeUserTokenExpired, "session expired and cannot be refreshed")
	}

	epoch := k.Notifier.Epoch()
	next, err := k.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		if IsCode(err, CodeUserTokenExpired) {
			k.Logger.Info("refresh token rejected, ending session")
			k.SignOut(ctx)
		}
		return "", err
	}
	if next.User.UID == "" {
		next.User = cur.User
	}
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}

	if !k.Notifier.SignIn(epoch, *next) {
		return "", ErrSuperseded
	}
	k.persist(ctx, next)
	return next.IDToken, nil
}

func (k *Keeper) fresh(c Credential) bool {
	return c.ExpiresAt.IsZero() || k.Now().Add(k.RefreshSkew).Before(c.ExpiresAt)
}

// SignOut ends the local session. Safe without a session.
func (k *Keeper) SignOut(ctx context.Context) {
	k.Notifier.SignOut()
	if err := k.Persistence.Clear(ctx, k.Backend); err != nil {
		k.Logger.Warn("failed to clear persisted identity credential", "error", err)
	}
}

// Restore re-establishes a persisted session. A credential the backend no
// longer accepts is discarded; transport failures are returned and the
// credential kept for the next attempt.
func (k *Keeper) Restore(ctx context.Context) error {
	stored, err := k.Persistence.Load(ctx, k.Backend)
	if errors.Is(err, ErrNoStoredCredential) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load persisted credential: %w", err)
	}
	if k.Refresh == nil || stored.RefreshToken == "" {
		return nil
	}

	epoch := k.Notifier.Epoch()
	cred, err := k.Refresh(ctx, stored.RefreshToken)
	if err != nil {
		switch CodeOf(err) {
		case CodeUserTokenExpired, CodeInvalidCredential, CodeUserNotFound:
			k.Logger.Info("persisted credential no longer valid", "error", err)
			if cerr := k.Persistence.Clear(ctx, k.Backend); cerr != nil {
				k.Logger.Warn("failed to clear persisted identity credential", "error", cerr)
			}
			return nil
		}
		return fmt.Errorf("failed to restore session: %w", err)
	}

	if cred.User.UID == "" {
		cred.User.UID = stored.UserID
	}
	if cred.User.Email == "" {
		cred.User.Email = stored.Email
	}
	if cred.RefreshToken == "" {
		cred.RefreshToken = stored.RefreshToken
	}

	if _, err := k.Establish(ctx, epoch, cred); err != nil {
		return err
	}
	k.Logger.Info("identity session restored", "uid", cred.User.UID)
	return nil
}

// ReserveCode marks a single-use code as in use. It returns false when the
// code was already reserved or consumed.
func (k *Keeper) ReserveCode(code string) bool {
	fp := cryptox.FingerprintToken(code)

	k.usedMu.Lock()
	defer k.usedMu.Unlock()
	if _, ok := k.used[fp]; ok {
		return false
	}
	k.used[fp] = struct{}{}
	return true
}

// ReleaseCode undoes ReserveCode after a request that never reached the
// backend.
func (k *Keeper) ReleaseCode(code string) {
	fp := cryptox.FingerprintToken(code)

	k.usedMu.Lock()
	delete(k.used, fp)
	k.usedMu.Unlock()
}
