package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/aussiebroadwan/vulntab/internal/console/domain"
	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/aussiebroadwan/vulntab/internal/console/store"
	"github.com/aussiebroadwan/vulntab/pkg/cryptox"
)

// MinPasswordLength is enforced before a new password is submitted.
const MinPasswordLength = 8

// ActionCodeRequest is the mode and code parsed from an emailed link.
type ActionCodeRequest struct {
	Mode    domain.ActionCodeMode
	OobCode string
}

// ParseActionCodeRequest reads mode and oobCode from a deep link's query
// string. The mode is checked first, so a link with neither reports
// ErrInvalidMode.
func ParseActionCodeRequest(rawQuery string) (ActionCodeRequest, error) {
	q, err := url.ParseQuery(strings.TrimPrefix(rawQuery, "?"))
	if err != nil {
		return ActionCodeRequest{}, ErrInvalidMode
	}
	req := ActionCodeRequest{
		Mode:    domain.ActionCodeMode(q.Get("mode")),
		OobCode: q.Get("oobCode"),
	}
	if !req.Mode.Valid() {
		return req, ErrInvalidMode
	}
	if req.OobCode == "" {
		return req, ErrMissingCode
	}
	return req, nil
}

// ActionView is what the UI shows for an action-code page. Disabled stays
// true once the action has been submitted, whatever the outcome.
type ActionView struct {
	Mode      domain.ActionCodeMode `json:"mode,omitempty"`
	Email     string                `json:"email,omitempty"`
	Message   string                `json:"message,omitempty"`
	Disabled  bool                  `json:"disabled"`
	Succeeded bool                  `json:"succeeded"`
}

// ActionCodeService runs the action-code confirmation flows. Submitted codes
// are recorded by fingerprint so a link stays spent across restarts.
type ActionCodeService struct {
	Provider identity.Provider
	Codes    store.ActionCodes
	Logger   *slog.Logger
	Now      func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func (s *ActionCodeService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *ActionCodeService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// invalidView maps a parse failure to its fixed message.
func (s *ActionCodeService) invalidView(req ActionCodeRequest, err error) ActionView {
	s.logger().Warn("rejected action link", "mode", string(req.Mode), "error", err)
	if errors.Is(err, ErrMissingCode) {
		return ActionView{Mode: req.Mode, Message: MsgMissingCode, Disabled: true}
	}
	return ActionView{Message: MsgInvalidRequest, Disabled: true}
}

// spent returns the view for a code that was already submitted.
func (s *ActionCodeService) spent(ctx context.Context, req ActionCodeRequest) (ActionView, bool) {
	fp := cryptox.FingerprintToken(req.OobCode)
	s.mu.Lock()
	_, busy := s.inFlight[fp]
	s.mu.Unlock()
	if busy {
		return ActionView{Mode: req.Mode, Disabled: true}, true
	}

	rec, err := s.Codes.GetActionCode(ctx, fp)
	if errors.Is(err, store.ErrNotFound) {
		return ActionView{}, false
	}
	if err != nil {
		s.logger().Error("failed to look up action code", "error", err)
		return ActionView{}, false
	}
	return ActionView{
		Mode:      req.Mode,
		Message:   MsgLinkAlreadyUsed,
		Disabled:  true,
		Succeeded: rec.Outcome == domain.OutcomeSucceeded,
	}, true
}

// Prepare renders the page for a deep link. A password-reset code is
// verified up front and the account email returned.
func (s *ActionCodeService) Prepare(ctx context.Context, rawQuery string) ActionView {
	req, err := ParseActionCodeRequest(rawQuery)
	if err != nil {
		return s.invalidView(req, err)
	}
	if v, ok := s.spent(ctx, req); ok {
		return v
	}

	if req.Mode != domain.ModeResetPassword {
		return ActionView{Mode: req.Mode}
	}
	email, err := s.Provider.VerifyPasswordResetCode(ctx, req.OobCode)
	if err != nil {
		s.logger().Warn("password reset code rejected", "error", err)
		return ActionView{Mode: req.Mode, Message: backendMessage(err), Disabled: true}
	}
	return ActionView{Mode: req.Mode, Email: email}
}

// Submit performs the action once. For resetPassword newPassword must be at
// least MinPasswordLength characters; that check happens before anything is
// sent and does not spend the link.
func (s *ActionCodeService) Submit(ctx context.Context, rawQuery, newPassword string) (ActionView, error) {
	req, err := ParseActionCodeRequest(rawQuery)
	if err != nil {
		return s.invalidView(req, err), nil
	}
	if req.Mode == domain.ModeResetPassword && utf8.RuneCountInString(newPassword) < MinPasswordLength {
		return ActionView{Mode: req.Mode}, &ValidationError{Field: "password", Message: MsgPasswordTooShort}
	}
	if v, ok := s.spent(ctx, req); ok {
		return v, ErrAlreadySubmitted
	}

	fp := cryptox.FingerprintToken(req.OobCode)
	s.mu.Lock()
	if s.inFlight == nil {
		s.inFlight = make(map[string]struct{})
	}
	if _, busy := s.inFlight[fp]; busy {
		s.mu.Unlock()
		return ActionView{Mode: req.Mode, Disabled: true}, ErrAlreadySubmitted
	}
	s.inFlight[fp] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, fp)
		s.mu.Unlock()
	}()

	var success string
	switch req.Mode {
	case domain.ModeResetPassword:
		if _, err = s.Provider.VerifyPasswordResetCode(ctx, req.OobCode); err == nil {
			err = s.Provider.ConfirmPasswordReset(ctx, req.OobCode, newPassword)
		}
		success = MsgPasswordReset
	case domain.ModeVerifyEmail:
		err = s.Provider.ApplyActionCode(ctx, req.OobCode)
		success = MsgEmailVerified
	case domain.ModeRecoverEmail:
		err = s.Provider.ApplyActionCode(ctx, req.OobCode)
		success = MsgEmailRecovered
	}

	outcome := domain.OutcomeSucceeded
	view := ActionView{Mode: req.Mode, Message: success, Disabled: true, Succeeded: true}
	if err != nil {
		s.logger().Warn("action code failed", "mode", string(req.Mode), "error", err)
		outcome = domain.OutcomeFailed
		view = ActionView{Mode: req.Mode, Message: backendMessage(err), Disabled: true}
	} else {
		s.logger().Info("action code applied", "mode", string(req.Mode))
	}

	rerr := s.Codes.RecordActionCode(ctx, domain.ActionCode{
		Fingerprint: fp,
		Mode:        req.Mode,
		Outcome:     outcome,
		ConsumedAt:  s.now(),
	})
	if rerr != nil && !errors.Is(rerr, store.ErrAlreadyExists) {
		s.logger().Error("failed to record action code", "error", rerr)
	}
	return view, nil
}
