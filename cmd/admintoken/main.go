package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/hashistack/secretmanager"
	"smallbiznis-licensing/pkg/logger"
	"smallbiznis-licensing/pkg/session"
)

// admintoken prints a signed session token for operators and cron tooling
// that need to call the admin API.
func main() {
	subject := flag.String("subject", "", "operator identity, e.g. an email address")
	role := flag.String("role", session.RoleAdmin, "session role")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "-subject is required")
		os.Exit(2)
	}

	opts := []fx.Option{
		config.Module,
		logger.Module,
		session.Module,
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
		fx.Invoke(func(issuer *session.Issuer) error {
			token, expiresAt, err := issuer.Issue(*subject, *role, "")
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format("2006-01-02T15:04:05Z07:00"))
			fmt.Println(token)
			return nil
		}),
	}
	if secretmanager.Enabled() {
		opts = append(opts, secretmanager.Module)
	}

	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
