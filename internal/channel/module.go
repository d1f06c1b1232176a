package channel

import (
	"net/url"

	"github.com/brizzai/social-login/internal/config"
	"github.com/brizzai/social-login/internal/session"
	"go.uber.org/fx"
)

// NewSenderFromConfig builds the callback Sender. The sender's own origin is
// the public URL of this service.
func NewSenderFromConfig(cfg *config.Config, store *session.Store) (*Sender, error) {
	origin := cfg.Login.TargetOrigin
	if cfg.OAuth != nil && cfg.OAuth.BaseURL != "" {
		origin = OriginOf(cfg.OAuth.BaseURL)
	}
	return NewSender(SenderOptions{
		Origin:       origin,
		TargetOrigin: cfg.Login.TargetOrigin,
		FallbackPath: cfg.Login.FallbackPath,
		Store:        store,
	})
}

// Module provides the page registry and the callback sender
var Module = fx.Module("channel",
	fx.Provide(
		NewRegistry,
		NewSenderFromConfig,
	),
)

// OriginOf reduces a URL to its scheme and host.
func OriginOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}
