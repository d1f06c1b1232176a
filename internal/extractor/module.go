package extractor

import (
	"context"

	"github.com/brizzai/social-login/internal/config"
	"github.com/brizzai/social-login/internal/session"
	"go.uber.org/fx"
)

// NewFromConfig builds the Extractor and cancels its pending navigations on stop.
func NewFromConfig(lc fx.Lifecycle, cfg *config.Config, store *session.Store) (*Extractor, error) {
	ex, err := New(Options{
		Host:          cfg.Login.ExtractHost,
		FollowUpPath:  cfg.Login.FallbackPath,
		RedirectDelay: cfg.Login.RedirectDelay,
	}, store)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			ex.Stop()
			return nil
		},
	})
	return ex, nil
}

// Module provides the redirect URL extractor
var Module = fx.Module("extractor",
	fx.Provide(
		NewFromConfig,
	),
)
