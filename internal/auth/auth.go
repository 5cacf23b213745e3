// Package auth provides the credential checks used by the mail services:
// a local SQLite user database and a remote provider reached over gRPC.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/infodancer/maild/internal/config"
)

// ErrUnavailable wraps any failure to reach a credential backend. It is
// distinct from a rejected credential, which is reported as (false, nil).
var ErrUnavailable = errors.New("auth provider unavailable")

// Provider checks a username and credential.
type Provider interface {
	Authenticate(ctx context.Context, username, credential string) (bool, error)
}

// SecretProvider returns the APOP shared secret for a user. ok is false
// when the user is unknown or has no secret configured.
type SecretProvider interface {
	Secret(ctx context.Context, username string) (secret string, ok bool, err error)
}

// Backend is a closable provider that can also serve APOP secrets.
type Backend interface {
	Provider
	SecretProvider
	io.Closer
}

// Open builds the backend selected by cfg.Type.
func Open(cfg config.AuthConfig) (Backend, error) {
	switch cfg.Type {
	case config.AuthTypeSQLite:
		return OpenSQLite(cfg.Database)
	case config.AuthTypeGRPC:
		return DialRemote(cfg.Address, cfg.CallTimeout())
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}
}
