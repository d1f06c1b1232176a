package main

import (
	"context"

	"github.com/brizzai/social-login/internal/channel"
	"github.com/brizzai/social-login/internal/config"
	"github.com/brizzai/social-login/internal/extractor"
	"github.com/brizzai/social-login/internal/logger"
	"github.com/brizzai/social-login/internal/pages"
	"github.com/brizzai/social-login/internal/server"
	"github.com/brizzai/social-login/internal/session"
	"github.com/brizzai/social-login/internal/wallet"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server and the login routes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, false)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		app := fx.New(
			fx.WithLogger(func() fxevent.Logger {
				return &fxevent.ZapLogger{Logger: logger.Named("fx")}
			}),
			fx.Supply(cfg),
			modules(),
			fx.Invoke(runServer),
		)
		app.Run()
		return app.Err()
	},
}

// modules are the providers shared by every command.
func modules() fx.Option {
	return fx.Options(
		session.Module,
		channel.Module,
		extractor.Module,
		wallet.Module,
		pages.Module,
		server.Module,
	)
}

// runServer ties the server's lifetime to the fx app.
func runServer(lc fx.Lifecycle, cfg *config.Config, srv *server.Server, shutdowner fx.Shutdowner) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := srv.Start(ctx); err != nil {
					logger.Error("Server stopped with error", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
					return
				}
				if cfg.Server.Mode == config.ServerModeSTDIO {
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
