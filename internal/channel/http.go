package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/brizzai/social-login/internal/logger"
	"github.com/brizzai/social-login/internal/utils"
	"go.uber.org/zap"
)

// maxMessageBytes bounds message bodies accepted over HTTP.
const maxMessageBytes = 64 << 10

const closePage = `<!DOCTYPE html>
<html><head><title>Login complete</title></head>
<body><p>Login complete. You can close this window.</p>
<script>window.close()</script></body></html>
`

// HTTPWindow is the callback browsing context of a single HTTP request.
type HTTPWindow struct {
	w      http.ResponseWriter
	r      *http.Request
	opener Opener
}

// NewHTTPWindow wraps a request. opener may be nil.
func NewHTTPWindow(w http.ResponseWriter, r *http.Request, opener Opener) *HTTPWindow {
	return &HTTPWindow{w: w, r: r, opener: opener}
}

func (h *HTTPWindow) Opener() Opener {
	if h.opener == nil {
		return nil
	}
	return h.opener
}

// Navigate answers the request with a redirect.
func (h *HTTPWindow) Navigate(_ context.Context, location string) error {
	http.Redirect(h.w, h.r, location, http.StatusFound)
	return nil
}

// Close answers the request with a page that closes itself.
func (h *HTTPWindow) Close(_ context.Context) error {
	h.w.Header().Set("Content-Type", "text/html; charset=utf-8")
	h.w.Header().Set("Cache-Control", "no-store")
	h.w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(h.w, closePage); err != nil {
		return fmt.Errorf("failed to write close page: %w", err)
	}
	return nil
}

// Ingress accepts structured messages for a page over HTTP. Only requests
// from the page's own origin are relayed.
type Ingress struct {
	registry *Registry
}

// NewIngress creates the POST /api/messages handler.
func NewIngress(registry *Registry) *Ingress {
	return &Ingress{registry: registry}
}

func (i *Ingress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pageID := r.URL.Query().Get("page")
	page, ok := i.registry.Get(pageID)
	if !ok {
		utils.WriteError(w, "not_found", "Unknown page", http.StatusNotFound)
		return
	}
	if origin := r.Header.Get("Origin"); origin != page.Origin() {
		logger.Warn("Rejected message for page from another origin",
			zap.String("page", pageID),
			zap.String("origin", origin),
		)
		utils.WriteError(w, "forbidden", "Origin does not match the page", http.StatusForbidden)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		utils.WriteError(w, "invalid_request", "Failed to read message", http.StatusBadRequest)
		return
	}

	logger.Debug("Message posted over HTTP", zap.String("page", pageID))
	// Acceptance is decided by the page's receiver; the poster learns nothing.
	page.Dispatch(Event{Origin: page.Origin(), Data: data, Relayed: true})
	w.WriteHeader(http.StatusAccepted)
}
