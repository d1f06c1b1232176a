package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/brizzai/social-login/internal/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrAlreadyMounted is returned when a page already has an active listener.
var ErrAlreadyMounted = errors.New("page already has a message listener")

// Event is one structured message as it arrives on a page.
type Event struct {
	// Origin is the origin of the browsing context that posted the message.
	Origin  string
	Data    []byte
	// Relayed marks events a client forwarded on the page's behalf. Their
	// origin is the page's own and nothing vouches for their content.
	Relayed bool
}

// Listener receives events posted to a page.
type Listener func(Event)

// Instruction is pushed to the browser tab that renders a page.
type Instruction struct {
	Event string `json:"event"` // "attached", "open", "navigate", "close" or "state"
	Page  string `json:"page,omitempty"`
	URL   string `json:"url,omitempty"`
	State any    `json:"state,omitempty"`
}

// Viewer is the browser-side end of a page, usually a WebSocket client.
type Viewer interface {
	Send(ctx context.Context, ins Instruction) error
}

// Page is one page instance: a messaging surface with at most one listener,
// plus the viewer that renders it.
type Page struct {
	id     string
	origin string

	mu       sync.Mutex
	listener Listener
	viewer   Viewer
}

// ID returns the page identifier.
func (p *Page) ID() string {
	return p.id
}

// Origin returns the origin the page was loaded from.
func (p *Page) Origin() string {
	return p.origin
}

// Listen registers the page's single message listener. The returned func
// removes it.
func (p *Page) Listen(l Listener) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener != nil {
		return nil, ErrAlreadyMounted
	}
	p.listener = l
	return func() {
		p.mu.Lock()
		p.listener = nil
		p.mu.Unlock()
	}, nil
}

// Dispatch delivers ev to the listener. Events arriving while no listener is
// mounted are dropped.
func (p *Page) Dispatch(ev Event) {
	p.mu.Lock()
	l := p.listener
	p.mu.Unlock()
	if l == nil {
		logger.Debug("Dropping message for page without listener", zap.String("page", p.id))
		return
	}
	l(ev)
}

// PostMessage implements Opener. Like the browser, a message whose target
// origin does not match the page is silently discarded.
func (p *Page) PostMessage(_ context.Context, ev Event, targetOrigin string) error {
	if targetOrigin != p.origin {
		logger.Warn("Discarding message for mismatched target origin",
			zap.String("page", p.id),
			zap.String("target_origin", targetOrigin),
			zap.String("page_origin", p.origin),
		)
		return nil
	}
	p.Dispatch(ev)
	return nil
}

// Attach sets the viewer and returns a func that detaches it.
func (p *Page) Attach(v Viewer) func() {
	p.mu.Lock()
	p.viewer = v
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		if p.viewer == v {
			p.viewer = nil
		}
		p.mu.Unlock()
	}
}

// Instruct forwards ins to the viewer, if any.
func (p *Page) Instruct(ctx context.Context, ins Instruction) error {
	p.mu.Lock()
	v := p.viewer
	p.mu.Unlock()
	if v == nil {
		return nil
	}
	return v.Send(ctx, ins)
}

// Navigate asks the viewer to load location.
func (p *Page) Navigate(ctx context.Context, location string) error {
	return p.Instruct(ctx, Instruction{Event: "navigate", URL: location})
}

// Registry tracks the live pages of this process.
type Registry struct {
	mu    sync.RWMutex
	pages map[string]*Page
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pages: make(map[string]*Page)}
}

// Open creates a page loaded from origin.
func (r *Registry) Open(origin string) *Page {
	p := &Page{id: uuid.NewString(), origin: origin}
	r.mu.Lock()
	r.pages[p.id] = p
	r.mu.Unlock()
	return p
}

// Get returns the live page with id.
func (r *Registry) Get(id string) (*Page, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pages[id]
	return p, ok
}

// Opener returns the page as an Opener, or nil when it is gone. The
// explicit nil keeps callers from seeing a typed-nil interface.
func (r *Registry) Opener(id string) Opener {
	if id == "" {
		return nil
	}
	p, ok := r.Get(id)
	if !ok {
		return nil
	}
	return p
}

// Close forgets the page.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	delete(r.pages, id)
	r.mu.Unlock()
}

// Len reports the number of live pages.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pages)
}
