// Package identitytest provides in-process stand-ins for the identity
// backends: HTTP fakes of the Firebase and Supabase REST APIs and an
// in-memory identity.Provider.
package identitytest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

// smsSecret seeds the HOTP generator the fakes use for SMS codes.
const smsSecret = "JBSWY3DPEHPK3PXP"

// Account is a user known to a fake backend.
type Account struct {
	UID           string
	Email         string
	Password      string
	EmailVerified bool
	// Phone enrolls an SMS second factor when set.
	Phone    string
	Disabled bool
}

// Email is an action-code email a fake backend "sent".
type Email struct {
	To   string
	Kind string
	Code string
	URL  string
}

// smsSender hands out sequential HOTP codes.
type smsSender struct {
	mu      sync.Mutex
	counter uint64
	last    string
	sent    int
}

func (s *smsSender) send() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, err := hotp.GenerateCodeCustom(smsSecret, s.counter, hotp.ValidateOpts{
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		panic(err)
	}
	s.counter++
	s.last = code
	s.sent++
	return code
}

func (s *smsSender) lastCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *smsSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func mustKey() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return key
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	masked := make([]byte, len(phone))
	for i := range masked {
		masked[i] = '*'
	}
	masked[0] = phone[0]
	copy(masked[len(phone)-4:], phone[len(phone)-4:])
	return string(masked)
}
