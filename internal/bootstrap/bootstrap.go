// Package bootstrap seeds the demo admin/user accounts spec.md §6 describes
// when the HYDROGEN_DEMO_* environment variables are present, mirroring the
// ${VAR_NAME} env-substitution convention internal/config already uses for
// database credentials.
package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/hydrogen-services/hydrogen/internal/auth"
	"github.com/hydrogen-services/hydrogen/internal/herr"
)

// demoAccount is one HYDROGEN_DEMO_{ADMIN,USER} account to register.
type demoAccount struct {
	role     string
	username string
	password string
}

// Seed registers the demo accounts named by HYDROGEN_DEMO_ADMIN_NAME/PASS
// and HYDROGEN_DEMO_USER_NAME/PASS against svc, sharing HYDROGEN_DEMO_EMAIL
// and HYDROGEN_DEMO_API_KEY across both. It is a no-op when
// HYDROGEN_DEMO_ADMIN_NAME is unset (spec.md §6: the demo layer only
// activates when that variable is present), and idempotent across restarts
// — an account that already exists surfaces as herr.Conflict from
// auth.Service.Register and is logged, not treated as a startup failure.
func Seed(ctx context.Context, svc *auth.Service, database string) error {
	adminName := os.Getenv("HYDROGEN_DEMO_ADMIN_NAME")
	if adminName == "" {
		return nil
	}

	email := os.Getenv("HYDROGEN_DEMO_EMAIL")
	apiKey := os.Getenv("HYDROGEN_DEMO_API_KEY")

	accounts := []demoAccount{
		{role: "admin", username: adminName, password: os.Getenv("HYDROGEN_DEMO_ADMIN_PASS")},
	}
	if userName := os.Getenv("HYDROGEN_DEMO_USER_NAME"); userName != "" {
		accounts = append(accounts, demoAccount{role: "user", username: userName, password: os.Getenv("HYDROGEN_DEMO_USER_PASS")})
	}

	for _, acct := range accounts {
		_, err := svc.Register(ctx, auth.RegisterRequest{
			Username: acct.username,
			Password: acct.password,
			Email:    email,
			FullName: "Demo " + acct.role,
			APIKey:   apiKey,
			Database: database,
		})
		if err == nil {
			slog.Info("demo account seeded", "database", database, "role", acct.role, "username", acct.username)
			continue
		}
		var herrErr *herr.Error
		if errors.As(err, &herrErr) && herrErr.Kind == herr.Conflict {
			slog.Info("demo account already exists", "database", database, "role", acct.role, "username", acct.username)
			continue
		}
		return err
	}
	return nil
}
