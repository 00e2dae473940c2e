package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// ErrCiphertextTooShort reports input shorter than a GCM nonce.
var ErrCiphertextTooShort = errors.New("cryptox: ciphertext too short")

// Sealer encrypts small secrets (bearer tokens, refresh credentials) with
// AES-256-GCM under a key derived from master key material via HKDF-SHA256.
//
// Output format: [12-byte nonce][ciphertext][16-byte tag].
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a purpose-bound key from master. The purpose string is
// used as HKDF info so keys for different stores never collide.
func NewSealer(master []byte, purpose string) (*Sealer, error) {
	if len(master) == 0 {
		return nil, errors.New("cryptox: empty master key")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Sealer{aead: gcm}, nil
}

// Seal encrypts plaintext. aad binds the ciphertext to its storage key so a
// value copied under another key fails to open.
func (s *Sealer) Seal(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open decrypts data produced by Seal with the same aad.
func (s *Sealer) Open(data, aad []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(data) < n {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err := s.aead.Open(nil, data[:n], data[n:], aad)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// LoadMasterKey reads key material from path, or from the env variable when
// path is empty. With neither set it returns a random ephemeral key and
// ephemeral=true; anything sealed with it is unreadable after restart.
func LoadMasterKey(path, env string) (key []byte, ephemeral bool, err error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read master key file: %w", err)
		}
		data = []byte(strings.TrimSpace(string(data)))
		if len(data) == 0 {
			return nil, false, fmt.Errorf("master key file %s is empty", path)
		}
		return data, false, nil
	}

	if v := os.Getenv(env); v != "" {
		return []byte(v), false, nil
	}

	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate ephemeral master key: %w", err)
	}
	return key, true, nil
}
