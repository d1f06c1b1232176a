package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/brizzai/social-login/internal/extractor"
	"github.com/brizzai/social-login/internal/logger"
	"github.com/brizzai/social-login/internal/login"
	"github.com/brizzai/social-login/internal/utils"
	"go.uber.org/zap"
)

const maxRequestBytes = 64 << 10

type extractRequest struct {
	URL string `json:"url"`
	// Page, when set, is navigated to the follow-up location after the delay.
	Page string `json:"page,omitempty"`
}

type extractResponse struct {
	Result          login.Result `json:"result"`
	Redirect        string       `json:"redirect"`
	RedirectAfterMs int64        `json:"redirect_after_ms"`
	Message         string       `json:"message"`
}

// HandleExtract recovers a login from a provider redirect URL.
func (h *Handler) HandleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.WriteError(w, "invalid_request", "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req extractRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		utils.WriteError(w, "invalid_request", "Invalid JSON body", http.StatusBadRequest)
		return
	}

	var nav extractor.Navigator
	if req.Page != "" {
		page, ok := h.registry.Get(req.Page)
		if !ok {
			utils.WriteError(w, "not_found", "Unknown page", http.StatusNotFound)
			return
		}
		nav = page
	}

	result, err := h.extractor.Extract(r.Context(), req.URL, nav)
	switch {
	case errors.Is(err, login.ErrNotRecognizedURL):
		utils.WriteError(w, "not_recognized", login.StatusMessage(err), http.StatusUnprocessableEntity)
		return
	case errors.Is(err, login.ErrMalformedPayload):
		utils.WriteError(w, "malformed_payload", login.StatusMessage(err), http.StatusUnprocessableEntity)
		return
	case err != nil:
		logger.Error("Extraction failed", zap.Error(err))
		utils.WriteError(w, "server_error", login.StatusMessage(err), http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, extractResponse{
		Result:          result,
		Redirect:        h.extractor.FollowUpLocation(result),
		RedirectAfterMs: h.extractor.RedirectDelay().Milliseconds(),
		Message:         "Login successful! Redirecting...",
	})
}

// HandleSession reads (GET) or clears (DELETE) the stored login.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		result, ok := h.store.Read(r.Context())
		if !ok {
			utils.WriteError(w, "not_found", "No stored login", http.StatusNotFound)
			return
		}
		utils.WriteJSON(w, result)
	case http.MethodDelete:
		if err := h.store.Clear(r.Context()); err != nil {
			logger.Error("Failed to clear session", zap.Error(err))
			utils.WriteError(w, "server_error", "Failed to clear session", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		utils.WriteError(w, "invalid_request", "Method not allowed", http.StatusMethodNotAllowed)
	}
}
