package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/infodancer/maild/internal/address"
	"github.com/infodancer/maild/internal/auth"
	"github.com/infodancer/maild/internal/config"
)

// runUseradd creates or updates a user in the SQLite database.
func runUseradd(args []string) error {
	fs := flag.NewFlagSet("useradd", flag.ExitOnError)
	flags := config.RegisterFlags(fs)
	user := fs.String("user", "", "User name or address (required)")
	password := fs.String("password", "", "Password (required)")
	apopSecret := fs.String("apop-secret", "", "Shared secret for APOP (optional)")

	cfg, err := loadConfig(fs, flags, args)
	if err != nil {
		return err
	}

	if *user == "" || *password == "" {
		fs.Usage()
		return errors.New("-user and -password are required")
	}

	name, err := address.Mailbox(*user)
	if err != nil {
		return fmt.Errorf("user %q: %w", *user, err)
	}

	users, err := auth.OpenSQLite(cfg.Auth.Database)
	if err != nil {
		return err
	}
	defer users.Close() //nolint:errcheck

	if err := users.AddUser(context.Background(), name, *password, *apopSecret); err != nil {
		return err
	}

	fmt.Printf("user %s saved to %s\n", name, cfg.Auth.Database)
	return nil
}
