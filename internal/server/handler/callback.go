package handler

import (
	"errors"
	"net/http"

	"github.com/brizzai/social-login/internal/channel"
	"github.com/brizzai/social-login/internal/logger"
	"github.com/brizzai/social-login/internal/login"
	"github.com/brizzai/social-login/internal/utils"
	"github.com/brizzai/social-login/internal/wallet"
	"go.uber.org/zap"
)

// HandleCallback is the provider redirect target. It completes the OAuth
// attempt and reports the result to the page that opened the popup, or
// redirects to the fallback page when that page is gone.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.WriteError(w, "invalid_request", "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	completion, err := h.broker.Complete(r.Context(), q.Get("state"), q.Get("code"), q.Get("error"))
	if errors.Is(err, wallet.ErrUnknownState) {
		logger.Warn("Callback with unknown state", zap.String("remote_addr", r.RemoteAddr))
		utils.WriteError(w, "invalid_request", "Unknown or expired state", http.StatusBadRequest)
		return
	}

	result := completion.Result()
	if err != nil {
		msg := q.Get("error_description")
		if msg == "" {
			msg = q.Get("error")
		}
		if msg == "" {
			msg = login.StatusMessage(err)
		}
		result = login.Result{Provider: completion.Provider, Status: login.StatusError, ErrorMessage: msg}
	}

	win := channel.NewHTTPWindow(w, r, h.registry.Opener(completion.PageID))
	if err := h.sender.Send(r.Context(), win, result); err != nil {
		logger.Error("Failed to report callback result", zap.Error(err))
		utils.WriteError(w, "server_error", "Failed to report login result", http.StatusInternalServerError)
	}
}
