package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/brizzai/social-login/internal/channel"
	"github.com/brizzai/social-login/internal/coordinator"
	"github.com/brizzai/social-login/internal/logger"
	"github.com/brizzai/social-login/internal/session"
	"github.com/brizzai/social-login/internal/tui"
	"github.com/brizzai/social-login/internal/utils"
	"github.com/brizzai/social-login/internal/wallet"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cliPageID identifies the terminal in broker attempts.
const cliPageID = "cli"

var loginTimeout time.Duration

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in from the terminal with a configured provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, true)
		if err != nil {
			return err
		}
		if cfg.OAuth == nil || cfg.OAuth.BaseURL == "" {
			return fmt.Errorf("oauth.base_url is required for terminal login")
		}

		var (
			store  *session.Store
			broker *wallet.Broker
		)
		stop, err := startApp(cfg, &store, &broker)
		if err != nil {
			return err
		}
		defer stop()

		providers := broker.Providers()
		if len(providers) == 0 {
			return fmt.Errorf("no oauth providers configured")
		}

		shutdown, err := serveCallback(cfg.OAuth.BaseURL, broker)
		if err != nil {
			return err
		}
		defer shutdown()

		timeout := cfg.Login.Timeout
		if loginTimeout > 0 {
			timeout = loginTimeout
		}
		c, err := coordinator.New(
			wallet.NewOAuthWallet(broker, cliPageID, wallet.BrowserLauncher()),
			store,
			coordinator.Options{
				AllowedOrigins:    cfg.Login.AllowedOrigins,
				PollDelay:         cfg.Login.PollDelay,
				Timeout:           timeout,
				StorePollInterval: cfg.Login.StorePollInterval,
			},
		)
		if err != nil {
			return err
		}
		defer c.Close()

		p := tea.NewProgram(tui.NewLoginModel(cmd.Context(), c, providers), tea.WithAltScreen())
		m, err := p.Run()
		if err != nil {
			return fmt.Errorf("error running program: %w", err)
		}

		final := m.(tui.LoginModel)
		if !final.Finished() {
			pterm.Warning.Println("Login cancelled")
			return nil
		}
		snapshot, err := final.Outcome()
		if err != nil {
			return err
		}
		if snapshot.State != coordinator.StateConnected || snapshot.Result == nil {
			pterm.Error.Println(snapshot.Message)
			return errors.New(snapshot.Message)
		}
		pterm.Success.Printfln("Connected as %s via %s",
			pterm.LightGreen(snapshot.Result.Address),
			pterm.White(snapshot.Result.Provider))
		return nil
	},
}

// serveCallback listens on the host of baseURL for provider redirects.
func serveCallback(baseURL string, broker *wallet.Broker) (func(), error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid oauth.base_url %q", baseURL)
	}
	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for callbacks on %s: %w", u.Host, err)
	}

	srv := &http.Server{Handler: callbackHandler(broker), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("Callback server error", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// callbackHandler completes attempts and closes the consent tab. The outcome
// reaches the coordinator through the attempt's waiter.
func callbackHandler(broker *wallet.Broker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(wallet.CallbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		_, err := broker.Complete(r.Context(), q.Get("state"), q.Get("code"), q.Get("error"))
		if errors.Is(err, wallet.ErrUnknownState) {
			utils.WriteError(w, "invalid_request", "Unknown or expired state", http.StatusBadRequest)
			return
		}
		if err := channel.NewHTTPWindow(w, r, nil).Close(r.Context()); err != nil {
			logger.Debug("Failed to close consent tab", zap.Error(err))
		}
	})
	return mux
}

func init() {
	loginCmd.Flags().DurationVar(&loginTimeout, "timeout", 2*time.Minute, "How long to wait for the provider, 0 uses login.timeout")
}
