package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/brizzai/social-login/internal/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsReadTimeout       = 60 * time.Second
	wsWriteTimeout      = 10 * time.Second
	wsHeartbeatInterval = 30 * time.Second
)

var errClientClosed = errors.New("websocket client closed")

// Command types sent by a browser tab.
const (
	CommandStart      = "start"
	CommandDisconnect = "disconnect"
	CommandResume     = "resume"
	CommandMessage    = "message"
)

// Command is one request from the tab that renders a page.
type Command struct {
	Type     string `json:"type"`
	Provider string `json:"provider,omitempty"`
	// Query is the raw query string the tab was loaded with (resume).
	Query string `json:"query,omitempty"`
	// Origin and Data describe a message event the tab observed (message).
	// Origin is informational, relays carry the page's origin.
	Origin string          `json:"origin,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	AllowedOrigins []string
	// OnAttach runs once a tab is connected to its page.
	OnAttach func(ctx context.Context, page *Page)
	// OnCommand receives every command except message relays.
	OnCommand func(ctx context.Context, page *Page, cmd Command)
	// OnDetach runs after the tab disconnects.
	OnDetach func(page *Page)
}

// Bridge connects browser tabs to their pages over WebSocket.
type Bridge struct {
	registry *Registry
	upgrader websocket.Upgrader
	allowed  map[string]struct{}
	opts     BridgeOptions

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewBridge creates the /ws handler. Upgrades are only accepted from
// AllowedOrigins.
func NewBridge(registry *Registry, opts BridgeOptions) (*Bridge, error) {
	if len(opts.AllowedOrigins) == 0 {
		return nil, ErrOriginsRequired
	}
	b := &Bridge{
		registry: registry,
		allowed:  make(map[string]struct{}, len(opts.AllowedOrigins)),
		opts:     opts,
		clients:  make(map[*wsClient]struct{}),
	}
	for _, o := range opts.AllowedOrigins {
		b.allowed[o] = struct{}{}
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			_, ok := b.allowed[r.Header.Get("Origin")]
			return ok
		},
	}
	return b, nil
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	page, ok := b.registry.Get(r.URL.Query().Get("page"))
	if !ok {
		page = b.registry.Open(r.Header.Get("Origin"))
	}

	c := newWSClient(conn)
	b.track(c, true)
	detach := page.Attach(c)

	logger.Info("Page attached", zap.String("page", page.ID()), zap.String("origin", page.Origin()))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer func() {
			cancel()
			detach()
			b.track(c, false)
			c.close()
			if b.opts.OnDetach != nil {
				b.opts.OnDetach(page)
			}
			logger.Info("Page detached", zap.String("page", page.ID()))
		}()

		if err := c.Send(ctx, Instruction{Event: "attached", Page: page.ID()}); err != nil {
			return
		}
		if b.opts.OnAttach != nil {
			b.opts.OnAttach(ctx, page)
		}
		b.readLoop(ctx, c, page)
	}()
}

func (b *Bridge) readLoop(ctx context.Context, c *wsClient, page *Page) {
	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("WebSocket read ended", zap.String("page", page.ID()), zap.Error(err))
			}
			return
		}
		if cmd.Type == CommandMessage {
			if cmd.Origin != page.Origin() {
				logger.Debug("Relayed message claims another origin",
					zap.String("page", page.ID()),
					zap.String("claimed_origin", cmd.Origin),
				)
			}
			page.Dispatch(Event{Origin: page.Origin(), Data: cmd.Data, Relayed: true})
			continue
		}
		if b.opts.OnCommand != nil {
			b.opts.OnCommand(ctx, page, cmd)
		}
	}
}

func (b *Bridge) track(c *wsClient, add bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if add {
		b.clients[c] = struct{}{}
	} else {
		delete(b.clients, c)
	}
}

// Stop closes every connected tab.
func (b *Bridge) Stop(_ context.Context) error {
	b.mu.Lock()
	clients := make([]*wsClient, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	return nil
}

type wsClient struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	c := &wsClient{conn: conn, closed: make(chan struct{})}
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	go c.heartbeat()
	return c
}

func (c *wsClient) heartbeat() {
	ticker := time.NewTicker(wsHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.close()
				return
			}
		}
	}
}

// Send implements Viewer.
func (c *wsClient) Send(_ context.Context, ins Instruction) error {
	select {
	case <-c.closed:
		return errClientClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteJSON(ins); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}
