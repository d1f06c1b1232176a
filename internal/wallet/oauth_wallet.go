package wallet

import (
	"context"
	"sync"

	"github.com/brizzai/social-login/internal/channel"
	"github.com/brizzai/social-login/internal/logger"
	"github.com/brizzai/social-login/internal/login"
	"github.com/skratchdot/open-golang/open"
	"go.uber.org/zap"
)

// OAuthWallet is a Capability backed by the Broker. One wallet serves one page.
type OAuthWallet struct {
	broker   *Broker
	pageID   string
	launcher Launcher

	mu      sync.Mutex
	account *Account
}

// NewOAuthWallet creates the wallet of page pageID. Consent URLs are shown
// through launcher.
func NewOAuthWallet(broker *Broker, pageID string, launcher Launcher) *OAuthWallet {
	return &OAuthWallet{broker: broker, pageID: pageID, launcher: launcher}
}

// Connect launches the consent page and waits for its callback. When ctx
// ends first the attempt stays with the broker, so a consent finished later
// still reaches its callback until the attempt expires or the page
// disconnects.
func (w *OAuthWallet) Connect(ctx context.Context, strategy login.Provider) error {
	attempt, err := w.broker.Begin(w.pageID, strategy)
	if err != nil {
		return err
	}

	if err := w.launcher.Launch(ctx, attempt.URL); err != nil {
		attempt.Cancel()
		return err
	}

	account, err := attempt.Wait(ctx)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.account = account
	w.mu.Unlock()
	return nil
}

func (w *OAuthWallet) Account(context.Context) (*Account, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.account == nil {
		return nil, nil
	}
	a := *w.account
	return &a, nil
}

// Disconnect forgets the account and any consent still in flight.
func (w *OAuthWallet) Disconnect(context.Context) error {
	w.mu.Lock()
	w.account = nil
	w.mu.Unlock()
	w.broker.Forget(w.pageID)
	return nil
}

// BrowserLauncher opens consent URLs in the local browser.
func BrowserLauncher() Launcher {
	return LauncherFunc(func(_ context.Context, url string) error {
		logger.Info("Opening browser", zap.String("url", url))
		return open.Run(url)
	})
}

// PageLauncher asks the tab rendering page to open consent URLs in a popup.
func PageLauncher(page *channel.Page) Launcher {
	return LauncherFunc(func(ctx context.Context, url string) error {
		return page.Instruct(ctx, channel.Instruction{Event: "open", URL: url})
	})
}
