package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aussiebroadwan/vulntab/internal/console/app"
)

const usage = `usage: console <command> [flags]

commands:
  serve                   run the loopback console API
  login [-email] [-sso]   sign in with a password (and SMS code) or SSO
  logout                  sign out and drop the stored session
  whoami                  show the backend account of the stored session
  reset-password -email   email a password reset link
  action <link>           open an emailed action link (reset, verify, recover)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if os.Args[1] == "serve" {
		runServe(cfg)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, newStyler(os.Stderr).Error("error: %v", err))
		os.Exit(1)
	}
}

func runServe(cfg app.Config) {
	application, err := app.New(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "application error: %v\n", err)
		os.Exit(1)
	}
}
