package wallet

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brizzai/social-login/internal/logger"
	"github.com/brizzai/social-login/internal/login"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// CallbackPath is where providers redirect back to.
const CallbackPath = "/oauth/callback"

// DefaultAttemptTTL bounds how long a consent callback is accepted.
const DefaultAttemptTTL = 10 * time.Minute

type outcome struct {
	account *Account
	err     error
}

// Attempt is one pending authorization.
type Attempt struct {
	// URL is the provider consent page.
	URL   string
	State string

	broker   *Broker
	provider Provider
	verifier string
	pageID   string
	expires  time.Time
	done     chan outcome
}

// Wait blocks until the callback for this attempt completes or ctx ends.
func (a *Attempt) Wait(ctx context.Context) (*Account, error) {
	select {
	case o := <-a.done:
		return o.account, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel forgets the attempt. A later callback for it is rejected.
func (a *Attempt) Cancel() {
	a.broker.take(a.State)
}

// Completion describes a finished callback.
type Completion struct {
	PageID   string
	Provider login.Provider
	Account  *Account
}

// Result converts the completion into a login result.
func (c Completion) Result() login.Result {
	if c.Account == nil {
		return login.Result{}
	}
	return login.Result{
		Address:  c.Account.Address,
		Email:    c.Account.Email,
		Name:     c.Account.Name,
		Provider: c.Provider,
		Status:   login.StatusSuccess,
	}
}

// Broker owns the pending OAuth attempts of the process, keyed by state.
type Broker struct {
	providers   map[login.Provider]Provider
	redirectURI string
	ttl         time.Duration
	now         func() time.Time

	mu      sync.Mutex
	pending map[string]*Attempt
}

// NewBroker creates a Broker whose callbacks land on baseURL + CallbackPath.
func NewBroker(baseURL string, providers ...Provider) *Broker {
	b := &Broker{
		providers:   make(map[login.Provider]Provider, len(providers)),
		redirectURI: strings.TrimRight(baseURL, "/") + CallbackPath,
		ttl:         DefaultAttemptTTL,
		now:         time.Now,
		pending:     make(map[string]*Attempt),
	}
	for _, p := range providers {
		b.providers[p.Name()] = p
	}
	return b
}

// SetAttemptTTL changes how long attempts wait for their callback. Values
// <= 0 restore DefaultAttemptTTL.
func (b *Broker) SetAttemptTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultAttemptTTL
	}
	b.mu.Lock()
	b.ttl = ttl
	b.mu.Unlock()
}

// Supports reports whether strategy has a configured provider.
func (b *Broker) Supports(strategy login.Provider) bool {
	_, ok := b.providers[strategy]
	return ok
}

// Providers lists the configured strategies in name order.
func (b *Broker) Providers() []login.Provider {
	out := make([]login.Provider, 0, len(b.providers))
	for name := range b.providers {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Begin registers a new attempt for the page pageID.
func (b *Broker) Begin(pageID string, strategy login.Provider) (*Attempt, error) {
	provider, ok := b.providers[strategy]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, strategy)
	}

	a := &Attempt{
		State:    uuid.NewString(),
		broker:   b,
		provider: provider,
		verifier: oauth2.GenerateVerifier(),
		pageID:   pageID,
		done:     make(chan outcome, 1),
	}
	a.URL = provider.AuthURL(a.State, a.verifier, b.redirectURI)

	b.mu.Lock()
	b.pruneLocked()
	a.expires = b.now().Add(b.ttl)
	b.pending[a.State] = a
	b.mu.Unlock()

	logger.Debug("OAuth attempt started",
		zap.String("provider", string(strategy)),
		zap.String("page", pageID),
	)
	return a, nil
}

func (b *Broker) take(state string) *Attempt {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.pending[state]
	if !ok {
		return nil
	}
	delete(b.pending, state)
	if !b.now().Before(a.expires) {
		return nil
	}
	return a
}

func (b *Broker) pruneLocked() {
	now := b.now()
	for state, a := range b.pending {
		if !now.Before(a.expires) {
			delete(b.pending, state)
		}
	}
}

// Forget drops every pending attempt of page pageID and returns how many
// were dropped. Their callbacks are rejected afterwards.
func (b *Broker) Forget(pageID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for state, a := range b.pending {
		if a.pageID == pageID {
			delete(b.pending, state)
			n++
		}
	}
	if n > 0 {
		logger.Debug("OAuth attempts forgotten", zap.String("page", pageID), zap.Int("count", n))
	}
	return n
}

// Complete finishes the attempt for state. providerErr is the provider's
// error parameter, if any. The outcome is also delivered to the attempt's
// waiter. A Completion is returned whenever the attempt was known, even on
// failure, so the caller can report back to the page.
func (b *Broker) Complete(ctx context.Context, state, code, providerErr string) (Completion, error) {
	a := b.take(state)
	if a == nil {
		return Completion{}, ErrUnknownState
	}
	c := Completion{PageID: a.pageID, Provider: a.provider.Name()}

	account, err := b.complete(ctx, a, code, providerErr)
	a.done <- outcome{account: account, err: err}
	if err != nil {
		logger.Warn("OAuth attempt failed", zap.String("provider", string(c.Provider)), zap.Error(err))
		return c, err
	}
	c.Account = account
	logger.Info("OAuth attempt completed",
		zap.String("provider", string(c.Provider)),
		zap.String("address", account.Address),
	)
	return c, nil
}

func (b *Broker) complete(ctx context.Context, a *Attempt, code, providerErr string) (*Account, error) {
	if providerErr != "" {
		return nil, fmt.Errorf("%w: %s", login.ErrWalletConnect, providerErr)
	}
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", login.ErrWalletConnect)
	}
	token, err := a.provider.Exchange(ctx, code, a.verifier, b.redirectURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", login.ErrWalletConnect, err)
	}
	id, err := a.provider.Identity(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", login.ErrWalletConnect, err)
	}
	return &Account{
		Address: Address(a.provider.Name(), id.Subject),
		Email:   id.Email,
		Name:    id.Name,
	}, nil
}

// Pending reports the number of attempts awaiting a callback.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	return len(b.pending)
}
