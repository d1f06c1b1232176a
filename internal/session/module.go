package session

import (
	"context"

	"github.com/brizzai/social-login/internal/config"
	"go.uber.org/fx"
)

// NewKV builds the backend selected in config.
func NewKV(lc fx.Lifecycle, cfg *config.Config) (KV, error) {
	switch cfg.Session.Backend {
	case config.SessionBackendSQLite:
		kv, err := OpenSQLite(cfg.Session.Path)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return kv.Close() },
		})
		return kv, nil
	default:
		return NewMemoryKV(), nil
	}
}

// NewStoreFromConfig builds the Store for the configured key.
func NewStoreFromConfig(kv KV, cfg *config.Config) (*Store, error) {
	return NewStore(kv, cfg.Session.Key)
}

// Module provides the session store
var Module = fx.Module("session",
	fx.Provide(
		NewKV,
		NewStoreFromConfig,
	),
)
