// Package wallet provides the embedded-wallet capability the coordinator
// logs in with: connect through a social provider, read the account, and
// disconnect.
package wallet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/brizzai/social-login/internal/login"
)

var (
	// ErrUnsupportedProvider is returned for strategies with no configured provider.
	ErrUnsupportedProvider = errors.New("unsupported login provider")
	// ErrUnknownState is returned for callbacks that match no pending attempt.
	ErrUnknownState = errors.New("unknown or expired oauth state")
)

// Account is the identity of a connected wallet.
type Account struct {
	Address string
	Email   string
	Name    string
}

// Capability is the wallet surface the coordinator depends on.
type Capability interface {
	// Connect runs the login flow for strategy. It may return before the
	// account is available.
	Connect(ctx context.Context, strategy login.Provider) error
	// Account returns the connected account, or nil when there is none.
	Account(ctx context.Context) (*Account, error)
	Disconnect(ctx context.Context) error
}

// Launcher shows a consent URL to the user.
type Launcher interface {
	Launch(ctx context.Context, url string) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, url string) error

func (f LauncherFunc) Launch(ctx context.Context, url string) error {
	return f(ctx, url)
}

// Address derives the wallet address bound to a provider identity.
func Address(provider login.Provider, subject string) string {
	sum := sha256.Sum256([]byte(string(provider) + ":" + subject))
	return "0x" + hex.EncodeToString(sum[:20])
}
