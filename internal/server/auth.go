package server

import (
	"errors"
	"fmt"

	"github.com/statewire/statewire/internal/common"
	"github.com/statewire/statewire/internal/database"
)

// ErrUnauthorized is returned when a peer presents invalid credentials.
var ErrUnauthorized = errors.New("server: unauthorized")

// Authenticator validates peer credentials during admission. The UDP
// path carries no credentials, so it applies to the WebSocket endpoint.
type Authenticator interface {
	// Authenticate checks the peer's token and returns the canonical
	// peer name.
	Authenticate(name, token string) (string, error)
}

// NoOpAuthenticator admits every peer (for development/testing).
type NoOpAuthenticator struct{}

func (NoOpAuthenticator) Authenticate(name, token string) (string, error) {
	return name, nil
}

// DatabaseAuthenticator validates peers against the sqlite token store.
type DatabaseAuthenticator struct {
	db *database.DB
}

func NewDatabaseAuthenticator(db *database.DB) *DatabaseAuthenticator {
	return &DatabaseAuthenticator{db: db}
}

func (a *DatabaseAuthenticator) Authenticate(name, token string) (string, error) {
	peer, err := a.db.AuthenticatePeer(name, token)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnauthorized, name)
	}
	a.db.TouchPeer(peer.Name)
	return peer.Name, nil
}

// NewAuthenticatorFromConfig builds the authenticator the config asks
// for, opening the token store when auth is enabled.
func NewAuthenticatorFromConfig(cfg *common.AuthConfig) (Authenticator, *database.DB, error) {
	if !cfg.Enabled {
		return NoOpAuthenticator{}, nil, nil
	}

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open token store: %w", err)
	}
	return NewDatabaseAuthenticator(db), db, nil
}
