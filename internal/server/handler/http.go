// Package handler provides HTTP request handling for the MCP server and the
// login handshake routes.
package handler

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/brizzai/social-login/internal/channel"
	"github.com/brizzai/social-login/internal/config"
	"github.com/brizzai/social-login/internal/coordinator"
	"github.com/brizzai/social-login/internal/extractor"
	"github.com/brizzai/social-login/internal/logger"
	"github.com/brizzai/social-login/internal/session"
	"github.com/brizzai/social-login/internal/wallet"
	"go.uber.org/fx"
)

// Route paths served next to the MCP endpoint.
const (
	PathExtract  = "/api/extract"
	PathSession  = "/api/session"
	PathMessages = "/api/messages"
	PathBridge   = "/ws"
)

// Params are the dependencies of a Handler.
type Params struct {
	fx.In

	Config    *config.Config
	Registry  *channel.Registry
	Broker    *wallet.Broker
	Sender    *channel.Sender
	Extractor *extractor.Extractor
	Store     *session.Store
}

// Handler manages HTTP request handling and middleware configuration.
type Handler struct {
	cfg       *config.Config
	registry  *channel.Registry
	broker    *wallet.Broker
	sender    *channel.Sender
	extractor *extractor.Extractor
	store     *session.Store
	bridge    *channel.Bridge
	ingress   *channel.Ingress

	mu       sync.Mutex
	sessions map[string]*coordinator.Coordinator
}

// NewHandler creates a new HTTP handler.
func NewHandler(p Params) (*Handler, error) {
	if p.Config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	h := &Handler{
		cfg:       p.Config,
		registry:  p.Registry,
		broker:    p.Broker,
		sender:    p.Sender,
		extractor: p.Extractor,
		store:     p.Store,
		ingress:   channel.NewIngress(p.Registry),
		sessions:  make(map[string]*coordinator.Coordinator),
	}
	bridge, err := channel.NewBridge(p.Registry, channel.BridgeOptions{
		AllowedOrigins: p.Config.Login.AllowedOrigins,
		OnAttach:       h.attach,
		OnCommand:      h.command,
		OnDetach:       h.detach,
	})
	if err != nil {
		return nil, err
	}
	h.bridge = bridge
	return h, nil
}

// CreateHTTPHandler mounts the login routes and serves mcpHandler at
// mcpPath. CORS is restricted to the allowed origins.
func (h *Handler) CreateHTTPHandler(mcpPath string, mcpHandler http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(wallet.CallbackPath, h.HandleCallback)
	mux.HandleFunc(PathExtract, h.HandleExtract)
	mux.HandleFunc(PathSession, h.HandleSession)
	mux.Handle(PathMessages, h.ingress)
	mux.Handle(PathBridge, h.bridge)
	logger.Info("Registered login routes")

	if mcpHandler != nil {
		mux.Handle(mcpPath, mcpHandler)
	}
	return CORS(h.cfg.Login.AllowedOrigins)(mux)
}

// Stop closes every page session and WebSocket connection.
func (h *Handler) Stop(ctx context.Context) error {
	err := h.bridge.Stop(ctx)

	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*coordinator.Coordinator)
	h.mu.Unlock()

	for _, c := range sessions {
		c.Close()
	}
	h.extractor.Stop()
	return err
}
