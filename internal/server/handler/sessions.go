package handler

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/brizzai/social-login/internal/channel"
	"github.com/brizzai/social-login/internal/coordinator"
	"github.com/brizzai/social-login/internal/logger"
	"github.com/brizzai/social-login/internal/login"
	"github.com/brizzai/social-login/internal/wallet"
	"go.uber.org/zap"
)

// attach gives a newly connected page its own coordinator. State changes are
// pushed back to the tab.
func (h *Handler) attach(ctx context.Context, page *channel.Page) {
	w := wallet.NewOAuthWallet(h.broker, page.ID(), wallet.PageLauncher(page))
	c, err := coordinator.New(w, h.store, coordinator.Options{
		AllowedOrigins:    h.cfg.Login.AllowedOrigins,
		PollDelay:         h.cfg.Login.PollDelay,
		Timeout:           h.cfg.Login.Timeout,
		StorePollInterval: h.cfg.Login.StorePollInterval,
	})
	if err != nil {
		logger.Error("Failed to create coordinator", zap.String("page", page.ID()), zap.Error(err))
		return
	}
	if err := c.Mount(page); err != nil {
		logger.Error("Failed to mount coordinator", zap.String("page", page.ID()), zap.Error(err))
		return
	}
	c.OnChange(func(s coordinator.Snapshot) {
		push(page, s)
	})

	h.mu.Lock()
	h.sessions[page.ID()] = c
	h.mu.Unlock()

	if !c.Restore(ctx) {
		push(page, c.Snapshot())
	}
}

func push(page *channel.Page, s coordinator.Snapshot) {
	if err := page.Instruct(context.Background(), channel.Instruction{Event: "state", State: s}); err != nil {
		logger.Debug("Failed to push state", zap.String("page", page.ID()), zap.Error(err))
	}
}

func (h *Handler) session(pageID string) *coordinator.Coordinator {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[pageID]
}

// command applies a tab request to the page's coordinator.
func (h *Handler) command(ctx context.Context, page *channel.Page, cmd channel.Command) {
	c := h.session(page.ID())
	if c == nil {
		logger.Warn("Command for page without session", zap.String("page", page.ID()), zap.String("type", cmd.Type))
		return
	}

	switch cmd.Type {
	case channel.CommandStart:
		err := c.Start(ctx, login.ParseProvider(cmd.Provider))
		if errors.Is(err, coordinator.ErrAttemptInFlight) {
			logger.Debug("Ignoring start while connecting", zap.String("page", page.ID()))
		} else if err != nil {
			logger.Warn("Failed to start login", zap.String("page", page.ID()), zap.Error(err))
		}
	case channel.CommandDisconnect:
		if err := c.Disconnect(ctx); err != nil {
			logger.Warn("Disconnect failed", zap.String("page", page.ID()), zap.Error(err))
		}
	case channel.CommandResume:
		q, err := url.ParseQuery(strings.TrimPrefix(cmd.Query, "?"))
		if err != nil {
			logger.Debug("Ignoring malformed resume query", zap.String("page", page.ID()), zap.Error(err))
			return
		}
		c.ResumeFromRedirect(ctx, q)
	default:
		logger.Debug("Unknown command", zap.String("page", page.ID()), zap.String("type", cmd.Type))
	}
}

// detach ends the page's session. A pending attempt is abandoned.
func (h *Handler) detach(page *channel.Page) {
	h.mu.Lock()
	c := h.sessions[page.ID()]
	delete(h.sessions, page.ID())
	h.mu.Unlock()

	if c != nil {
		c.Close()
	}
	h.registry.Close(page.ID())
}
