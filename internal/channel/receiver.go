package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/brizzai/social-login/internal/logger"
	"go.uber.org/zap"
)

// ErrOriginsRequired is returned when a receiver is built without an allowlist.
var ErrOriginsRequired = errors.New("receiver requires explicit allowed origins")

// Handler consumes validated messages.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message)

func (f HandlerFunc) HandleMessage(ctx context.Context, msg Message) {
	f(ctx, msg)
}

// Receiver is a page's message listener. It drops events from origins
// outside its allowlist, events that fail boundary validation and relayed
// login results.
type Receiver struct {
	allowed map[string]struct{}
	handler Handler

	mu      sync.Mutex
	unmount func()
}

// NewReceiver creates a Receiver. allowedOrigins must be non-empty and must
// not contain the wildcard.
func NewReceiver(allowedOrigins []string, h Handler) (*Receiver, error) {
	if len(allowedOrigins) == 0 {
		return nil, ErrOriginsRequired
	}
	if h == nil {
		return nil, fmt.Errorf("receiver requires a handler")
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "" || o == "*" {
			return nil, fmt.Errorf("%w: got %q", ErrOriginsRequired, o)
		}
		allowed[o] = struct{}{}
	}
	return &Receiver{allowed: allowed, handler: h}, nil
}

// Mount registers the receiver as the page's listener.
func (r *Receiver) Mount(p *Page) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unmount != nil {
		return ErrAlreadyMounted
	}
	unmount, err := p.Listen(r.dispatch)
	if err != nil {
		return err
	}
	r.unmount = unmount
	return nil
}

// Unmount removes the listener. It is safe to call more than once.
func (r *Receiver) Unmount() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unmount != nil {
		r.unmount()
		r.unmount = nil
	}
}

// Allows reports whether origin is on the allowlist.
func (r *Receiver) Allows(origin string) bool {
	_, ok := r.allowed[origin]
	return ok
}

func (r *Receiver) dispatch(ev Event) {
	if !r.Allows(ev.Origin) {
		logger.Warn("Rejected message from untrusted origin", zap.String("origin", ev.Origin))
		return
	}
	msg, err := Decode(ev.Data)
	if err != nil {
		logger.Debug("Ignoring message", zap.String("origin", ev.Origin), zap.Error(err))
		return
	}
	// A success carries an address only the callback window can vouch for.
	if ev.Relayed && msg.Kind == KindLoginSuccess {
		logger.Warn("Rejected relayed login result", zap.String("origin", ev.Origin))
		return
	}
	logger.Debug("Received message", zap.String("origin", ev.Origin), zap.String("kind", string(msg.Kind)))
	r.handler.HandleMessage(context.Background(), msg)
}
