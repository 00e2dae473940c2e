package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aussiebroadwan/vulntab/internal/console/app"
	"github.com/aussiebroadwan/vulntab/internal/console/domain"
	"github.com/aussiebroadwan/vulntab/internal/console/service"
)

var errUsage = errors.New("usage")

func run(ctx context.Context, cfg app.Config, cmd string, args []string) error {
	var handler func(context.Context, *app.Application, []string) error
	switch cmd {
	case "login":
		handler = cmdLogin
	case "logout":
		handler = cmdLogout
	case "whoami":
		handler = cmdWhoami
	case "reset-password":
		handler = cmdResetPassword
	case "action":
		handler = cmdAction
	default:
		return errUsage
	}

	cfg.OpenURL = openURL(os.Stderr)

	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = application.Shutdown() }()

	if err := application.Start(ctx); err != nil {
		return err
	}
	return handler(ctx, application, args)
}

func cmdLogin(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	sso := fs.Bool("sso", false, "sign in through the federated provider")
	returnTo := fs.String("return-to", "", "page to open after sign-in")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *returnTo != "" {
		a.ReturnTo().Capture(service.ParseDestination(*returnTo))
	}

	p := newPrompter(os.Stdin, os.Stderr)

	if *sso {
		// The provider's callback lands on the loopback API.
		if err := a.Serve(); err != nil {
			return err
		}
		res, err := a.Login().FederatedPopup(ctx)
		if err != nil {
			return errors.New(service.MessageFor(err))
		}
		return printDecision(os.Stdout, res.Decision)
	}

	if *email == "" {
		v, err := p.Line("Email: ")
		if err != nil {
			return err
		}
		*email = v
	}
	password, err := p.Secret("Password: ")
	if err != nil {
		return err
	}

	res, err := a.Login().Login(ctx, *email, password)
	if err != nil {
		return errors.New(service.MessageFor(err))
	}
	if res.TwoFactor != nil {
		return secondFactor(ctx, a, p, *res.TwoFactor)
	}
	return printDecision(os.Stdout, res.Decision)
}

// secondFactor prompts for the SMS code until it is accepted or the user
// gives up. "r" asks for a new code once the cooldown has elapsed.
func secondFactor(ctx context.Context, a *app.Application, p *prompter, snap service.TwoFactorSnapshot) error {
	defer a.Login().CancelTwoFactor()

	p.Printf("A verification code was sent to %s.\n", snap.PhoneHint)
	for {
		in, err := p.Line("Code (r to resend, q to cancel): ")
		if err != nil {
			return err
		}

		switch strings.ToLower(strings.TrimSpace(in)) {
		case "q":
			return errors.New("sign-in cancelled")
		case "r":
			snap, err := a.Login().ResendTwoFactor(ctx)
			switch {
			case errors.Is(err, service.ErrResendNotReady):
				p.Warnf("You can request a new code in %ds.", a.Login().TwoFactorSnapshot().Cooldown.RemainingSeconds)
			case err != nil:
				p.Warnf("%s", service.MessageFor(err))
			default:
				p.Printf("A new code was sent to %s.\n", snap.PhoneHint)
			}
			continue
		}

		res, err := a.Login().VerifyTwoFactor(ctx, in)
		if err != nil {
			if res.TwoFactor != nil && res.TwoFactor.State == service.StateChallengeIssued {
				p.Warnf("%s", service.MessageFor(err))
				continue
			}
			return errors.New(service.MessageFor(err))
		}
		return printDecision(os.Stdout, res.Decision)
	}
}

func cmdLogout(ctx context.Context, a *app.Application, _ []string) error {
	if err := a.Login().Logout(ctx); err != nil {
		return errors.New(service.MessageFor(err))
	}
	fmt.Fprintln(os.Stdout, "Signed out.")
	return nil
}

func cmdWhoami(ctx context.Context, a *app.Application, _ []string) error {
	d := a.Bootstrap().Resume(ctx)
	if d.Kind != service.DecisionNavigate {
		return printDecision(os.Stdout, &d)
	}

	me, err := a.API().NewSession(a.Bootstrap()).GetMe(ctx)
	if err != nil {
		return errors.New(service.MessageFor(err))
	}
	fmt.Fprintf(os.Stdout, "%s (%s)\n", me.Email, me.UserID)
	return nil
}

func cmdResetPassword(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("reset-password", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if err := a.Login().SendPasswordReset(ctx, *email, a.ResetSettings()); err != nil {
		return errors.New(service.MessageFor(err))
	}
	fmt.Fprintln(os.Stdout, service.MsgPasswordResetSent)
	return nil
}

func cmdAction(ctx context.Context, a *app.Application, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	query := actionQuery(args[0])

	view := a.ActionCodes().Prepare(ctx, query)
	if view.Disabled {
		return errors.New(view.Message)
	}

	var newPassword string
	if view.Mode == domain.ModeResetPassword {
		p := newPrompter(os.Stdin, os.Stderr)
		p.Printf("Choose a new password for %s.\n", view.Email)
		pw, err := p.Secret("New password: ")
		if err != nil {
			return err
		}
		newPassword = pw
	}

	view, err := a.ActionCodes().Submit(ctx, query, newPassword)
	if err != nil {
		return errors.New(service.MessageFor(err))
	}
	if !view.Succeeded {
		return errors.New(view.Message)
	}
	fmt.Fprintln(os.Stdout, view.Message)
	return nil
}

// actionQuery accepts a full emailed link or just its query string.
func actionQuery(link string) string {
	link = strings.TrimSpace(link)
	if u, err := url.Parse(link); err == nil && u.Scheme != "" {
		return u.RawQuery
	}
	return strings.TrimPrefix(link, "?")
}

func printDecision(w io.Writer, d *service.Decision) error {
	if d == nil {
		return nil
	}
	switch d.Kind {
	case service.DecisionNavigate:
		fmt.Fprintf(w, "Signed in. Continue at %s\n", d.Destination)
	case service.DecisionAccountSetup:
		fmt.Fprintf(w, "Signed in. Finish setting up your account at %s\n", d.Destination)
	case service.DecisionStay:
		fmt.Fprintln(w, d.Message)
	case service.DecisionLogin:
		if d.Message == "" {
			return errors.New("not signed in")
		}
		return errors.New(d.Message)
	}
	return nil
}

// openURL prints the federated sign-in page for the user to open.
func openURL(w io.Writer) func(string) error {
	return func(u string) error {
		_, err := fmt.Fprintf(w, "Open this page to sign in:\n\n  %s\n\n", u)
		return err
	}
}
