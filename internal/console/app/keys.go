package app

import (
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/vulntab/pkg/cryptox"
)

// MasterKeyEnv holds key material when no key file is configured.
const MasterKeyEnv = "CONSOLE_MASTER_KEY"

// Sealer purposes. Each store concern gets its own derived key.
const (
	purposeCookies     = "vulntab-console/cookies/v1"
	purposeCredentials = "vulntab-console/credentials/v1"
)

// Sealers holds the at-rest encryption keys of the local store.
type Sealers struct {
	Cookies     *cryptox.Sealer
	Credentials *cryptox.Sealer
}

// InitSealers loads the master key and derives one sealer per concern.
//
// Without CONSOLE_MASTER_KEY_PATH or CONSOLE_MASTER_KEY a random key is
// used. Everything sealed with it, the bearer cookie and the refresh
// credential, is unreadable after restart, so every start needs a fresh
// sign-in.
func InitSealers(cfg Config, logger *slog.Logger) (Sealers, error) {
	master, ephemeral, err := cryptox.LoadMasterKey(cfg.MasterKeyPath, MasterKeyEnv)
	if err != nil {
		return Sealers{}, err
	}
	if ephemeral {
		logger.Warn("no master key configured; stored sessions will not survive a restart")
	} else {
		logger.Info("master key loaded", "path", cfg.MasterKeyPath)
	}

	cookies, err := cryptox.NewSealer(master, purposeCookies)
	if err != nil {
		return Sealers{}, fmt.Errorf("failed to derive cookie key: %w", err)
	}
	creds, err := cryptox.NewSealer(master, purposeCredentials)
	if err != nil {
		return Sealers{}, fmt.Errorf("failed to derive credential key: %w", err)
	}
	return Sealers{Cookies: cookies, Credentials: creds}, nil
}
