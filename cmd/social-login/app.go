package main

import (
	"context"
	"time"

	"github.com/brizzai/social-login/internal/config"
	"go.uber.org/fx"
)

const appTimeout = 15 * time.Second

// startApp builds the dependencies named by targets (pointers, as for
// fx.Populate) and starts their lifecycle. The returned func stops it.
func startApp(cfg *config.Config, targets ...interface{}) (func(), error) {
	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		modules(),
		fx.Populate(targets...),
	)
	if err := app.Err(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), appTimeout)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), appTimeout)
		defer cancel()
		_ = app.Stop(ctx)
	}, nil
}
