package wallet

import (
	"context"
	"fmt"

	"github.com/brizzai/social-login/internal/config"
	"github.com/brizzai/social-login/internal/logger"
	"go.uber.org/fx"
)

// NewBrokerFromConfig discovers the configured providers and builds the broker.
func NewBrokerFromConfig(cfg *config.Config) (*Broker, error) {
	if cfg.OAuth == nil || len(cfg.OAuth.Providers) == 0 {
		logger.Warn("No oauth providers configured, wallet logins are disabled")
		return NewBroker(fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)), nil
	}
	providers, err := NewProviders(context.Background(), cfg.OAuth)
	if err != nil {
		return nil, err
	}
	b := NewBroker(cfg.OAuth.BaseURL, providers...)
	b.SetAttemptTTL(cfg.OAuth.AttemptTTL)
	return b, nil
}

// Module provides the OAuth broker
var Module = fx.Module("wallet",
	fx.Provide(
		NewBrokerFromConfig,
	),
)
