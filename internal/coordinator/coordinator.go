// Package coordinator drives one page's login attempt. It races the wallet's
// own account accessor, result messages from a callback window and the shared
// session store, and settles on whichever success arrives first.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/brizzai/social-login/internal/channel"
	"github.com/brizzai/social-login/internal/logger"
	"github.com/brizzai/social-login/internal/login"
	"github.com/brizzai/social-login/internal/session"
	"github.com/brizzai/social-login/internal/wallet"
	"go.uber.org/zap"
)

// State is the coordinator's position in the attempt lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateFailed     State = "failed"
	StateTimedOut   State = "timed_out"
)

// ErrAttemptInFlight is returned by Start while an attempt is connecting.
var ErrAttemptInFlight = errors.New("a login attempt is already in progress")

// Completion sources, for logs.
const (
	sourceAccessor = "accessor"
	sourceMessage  = "message"
	sourceSession  = "session"
	sourceRedirect = "redirect"
)

// Options tunes the race.
type Options struct {
	AllowedOrigins []string
	// PollDelay separates a returned connect from the account read.
	PollDelay time.Duration
	// Timeout bounds the whole attempt.
	Timeout time.Duration
	// StorePollInterval is how often the session store is checked. Zero disables it.
	StorePollInterval time.Duration
}

// Snapshot is the externally visible state. StartedAt and TimeoutAt are set
// while an attempt is connecting.
type Snapshot struct {
	State     State          `json:"state"`
	Provider  login.Provider `json:"provider,omitempty"`
	Result    *login.Result  `json:"result,omitempty"`
	Message   string         `json:"message,omitempty"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	TimeoutAt *time.Time     `json:"timeout_at,omitempty"`
}

type attempt struct {
	provider  login.Provider
	startedAt time.Time
	timeoutAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	baseline  login.Result
	hadPrior  bool
}

// Coordinator is the login state machine of one page.
type Coordinator struct {
	opts     Options
	wallet   wallet.Capability
	store    *session.Store
	receiver *channel.Receiver

	mu       sync.Mutex
	state    State
	provider login.Provider
	result   *login.Result
	message  string
	current  *attempt
	settled  chan struct{}

	notifyMu  sync.Mutex
	listeners []func(Snapshot)
}

// New creates an idle Coordinator.
func New(w wallet.Capability, store *session.Store, opts Options) (*Coordinator, error) {
	if w == nil {
		return nil, fmt.Errorf("coordinator requires a wallet")
	}
	if store == nil {
		return nil, fmt.Errorf("coordinator requires a session store")
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("coordinator timeout must be positive")
	}
	c := &Coordinator{
		opts:    opts,
		wallet:  w,
		store:   store,
		state:   StateIdle,
		settled: closedChan(),
	}
	receiver, err := channel.NewReceiver(opts.AllowedOrigins, c)
	if err != nil {
		return nil, err
	}
	c.receiver = receiver
	return c, nil
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Mount starts listening for result messages on page. The listener stays
// mounted across attempts until Unmount.
func (c *Coordinator) Mount(page *channel.Page) error {
	return c.receiver.Mount(page)
}

// Unmount stops listening.
func (c *Coordinator) Unmount() {
	c.receiver.Unmount()
}

// OnChange registers fn to receive every state change.
func (c *Coordinator) OnChange(fn func(Snapshot)) {
	c.notifyMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.notifyMu.Unlock()
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() Snapshot {
	s := Snapshot{State: c.state, Provider: c.provider, Message: c.message}
	if c.result != nil {
		r := *c.result
		s.Result = &r
	}
	if att := c.current; att != nil {
		started, deadline := att.startedAt, att.timeoutAt
		s.StartedAt, s.TimeoutAt = &started, &deadline
	}
	return s
}

func (c *Coordinator) publish() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	s := c.Snapshot()
	for _, fn := range c.listeners {
		fn(s)
	}
}

// Start begins an attempt with provider. It returns once the attempt is
// running; use Wait for the outcome.
func (c *Coordinator) Start(ctx context.Context, provider login.Provider) error {
	baseline, hadPrior := c.store.Read(ctx)

	c.mu.Lock()
	if c.state == StateConnecting {
		c.mu.Unlock()
		return ErrAttemptInFlight
	}

	now := time.Now()
	actx, cancel := context.WithDeadline(ctx, now.Add(c.opts.Timeout))
	att := &attempt{
		provider:  provider,
		startedAt: now,
		timeoutAt: now.Add(c.opts.Timeout),
		cancel:    cancel,
		done:      make(chan struct{}),
		baseline:  baseline,
		hadPrior:  hadPrior,
	}

	c.current = att
	c.settled = att.done
	c.state = StateConnecting
	c.provider = provider
	c.result = nil
	c.message = "Connecting..."
	c.mu.Unlock()

	logger.Info("Login attempt started",
		zap.String("provider", string(provider)),
		zap.Time("timeout_at", att.timeoutAt),
	)
	c.publish()

	go c.watchTimeout(actx, att)
	go c.runAccessor(actx, att)
	if c.opts.StorePollInterval > 0 {
		go c.pollStore(actx, att)
	}
	return nil
}

// Wait blocks until the current attempt settles and returns the final state.
func (c *Coordinator) Wait(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	done := c.settled
	c.mu.Unlock()
	select {
	case <-done:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (c *Coordinator) watchTimeout(ctx context.Context, att *attempt) {
	<-ctx.Done()
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		err = login.ErrTimeout
	}
	if c.settle(att, endState(err), nil, err) {
		logger.Warn("Login attempt ended without a result",
			zap.String("provider", string(att.provider)),
			zap.Error(err),
		)
	}
}

func endState(err error) State {
	if errors.Is(err, login.ErrTimeout) {
		return StateTimedOut
	}
	return StateFailed
}

func (c *Coordinator) runAccessor(ctx context.Context, att *attempt) {
	if err := c.wallet.Connect(ctx, att.provider); err != nil {
		if ctx.Err() != nil {
			return
		}
		if !errors.Is(err, login.ErrWalletConnect) {
			err = fmt.Errorf("%w: %v", login.ErrWalletConnect, err)
		}
		c.settle(att, StateFailed, nil, err)
		return
	}

	select {
	case <-time.After(c.opts.PollDelay):
	case <-ctx.Done():
		return
	}

	account, err := c.wallet.Account(ctx)
	if err != nil {
		logger.Debug("Wallet account unavailable", zap.Error(err))
		return
	}
	if account == nil || account.Address == "" {
		logger.Debug("Wallet connected without an account, waiting for other sources")
		return
	}
	c.resolve(att, login.Result{
		Address:  account.Address,
		Email:    account.Email,
		Name:     account.Name,
		Provider: att.provider,
		Status:   login.StatusSuccess,
	}, sourceAccessor)
}

func (c *Coordinator) pollStore(ctx context.Context, att *attempt) {
	ticker := time.NewTicker(c.opts.StorePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r, ok := c.store.Read(ctx)
			if !ok || !r.OK() {
				continue
			}
			if att.hadPrior && r == att.baseline {
				continue
			}
			c.resolve(att, r, sourceSession)
			return
		}
	}
}

// HandleMessage implements channel.Handler.
func (c *Coordinator) HandleMessage(ctx context.Context, msg channel.Message) {
	switch msg.Kind {
	case channel.KindLoginSuccess:
		r, _ := msg.Result()
		c.resolveFromMessage(ctx, r)
	case channel.KindLoginError:
		r, _ := msg.Result()
		c.mu.Lock()
		att := c.current
		c.mu.Unlock()
		if att == nil {
			logger.Debug("Ignoring login error outside an attempt", zap.String("error", r.ErrorMessage))
			return
		}
		c.settle(att, StateFailed, nil, fmt.Errorf("%w: %s", login.ErrWalletConnect, r.ErrorMessage))
	case channel.KindOAuthSuccess:
		account, err := c.wallet.Account(ctx)
		if err != nil || account == nil || account.Address == "" {
			logger.Debug("OAuth result received but wallet has no account yet", zap.Error(err))
			return
		}
		provider := login.ProviderOAuth
		c.mu.Lock()
		if c.current != nil {
			provider = c.current.provider
		}
		c.mu.Unlock()
		c.resolveFromMessage(ctx, login.Result{
			Address:  account.Address,
			Email:    account.Email,
			Name:     account.Name,
			Provider: provider,
			Status:   login.StatusSuccess,
		})
	}
}

func (c *Coordinator) resolveFromMessage(ctx context.Context, r login.Result) {
	c.mu.Lock()
	att := c.current
	state := c.state
	c.mu.Unlock()

	if att != nil {
		c.resolve(att, r, sourceMessage)
		return
	}
	if state == StateConnected {
		return
	}
	// The listener outlives a timed-out attempt, so the popup can still
	// report in after the user was told it failed.
	logger.Warn("Accepting late login result outside an attempt",
		zap.String("state", string(state)),
		zap.String("provider", string(r.Provider)),
	)
	c.accept(ctx, r, sourceMessage)
}

// resolve settles att as connected with r. Later calls for the same attempt
// are no-ops.
func (c *Coordinator) resolve(att *attempt, r login.Result, source string) bool {
	if att.hadPrior {
		r = r.Merge(att.baseline)
	}
	if !c.settle(att, StateConnected, &r, nil) {
		logger.Debug("Discarding result for settled attempt", zap.String("source", source))
		return false
	}
	logger.Info("Login completed",
		zap.String("source", source),
		zap.String("provider", string(r.Provider)),
		zap.String("address", r.Address),
	)
	if err := c.store.Write(context.Background(), r); err != nil {
		logger.Warn("Failed to persist login", zap.Error(err))
	}
	return true
}

func (c *Coordinator) settle(att *attempt, state State, r *login.Result, err error) bool {
	c.mu.Lock()
	if c.current != att {
		c.mu.Unlock()
		return false
	}
	c.current = nil
	c.state = state
	c.result = r
	if r != nil {
		c.provider = r.Provider
		c.message = "Connected"
	} else {
		c.message = login.StatusMessage(err)
	}
	c.mu.Unlock()

	att.cancel()
	close(att.done)
	c.publish()
	return true
}

func (c *Coordinator) accept(ctx context.Context, r login.Result, source string) {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.provider = r.Provider
	c.result = &r
	c.message = "Connected"
	c.mu.Unlock()

	logger.Info("Login restored", zap.String("source", source), zap.String("address", r.Address))
	if source != sourceSession {
		if err := c.store.Write(ctx, r); err != nil {
			logger.Warn("Failed to persist login", zap.Error(err))
		}
	}
	c.publish()
}

// Restore loads the stored login when the page opens. It reports whether a
// session was found.
func (c *Coordinator) Restore(ctx context.Context) bool {
	r, ok := c.store.Read(ctx)
	if !ok || !r.OK() {
		return false
	}
	c.mu.Lock()
	idle := c.state == StateIdle
	c.mu.Unlock()
	if !idle {
		return false
	}
	c.accept(ctx, r, sourceSession)
	return true
}

// ResumeFromRedirect applies a result carried in the query of a fallback
// redirect. It reports whether q carried one.
func (c *Coordinator) ResumeFromRedirect(ctx context.Context, q url.Values) bool {
	r, ok := channel.ResultFromQuery(q)
	if !ok {
		return false
	}

	c.mu.Lock()
	att := c.current
	c.mu.Unlock()

	if r.Status == login.StatusSuccess {
		if att != nil {
			c.resolve(att, r, sourceRedirect)
			return true
		}
		c.accept(ctx, r, sourceRedirect)
		return true
	}

	if att != nil {
		c.settle(att, StateFailed, nil, fmt.Errorf("%w: %s", login.ErrWalletConnect, r.ErrorMessage))
		return true
	}
	c.mu.Lock()
	c.state = StateFailed
	c.provider = r.Provider
	c.result = nil
	c.message = login.StatusMessage(fmt.Errorf("%w: %s", login.ErrWalletConnect, r.ErrorMessage))
	c.mu.Unlock()
	c.publish()
	return true
}

// Disconnect logs out: any attempt is abandoned, the wallet is disconnected
// and the stored session cleared. The coordinator returns to idle.
func (c *Coordinator) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	att := c.current
	c.current = nil
	c.state = StateIdle
	c.provider = ""
	c.result = nil
	c.message = ""
	c.mu.Unlock()

	if att != nil {
		att.cancel()
		close(att.done)
	}

	if err := c.wallet.Disconnect(ctx); err != nil {
		logger.Warn("Wallet disconnect failed", zap.Error(err))
	}
	err := c.store.Clear(ctx)
	c.publish()
	logger.Info("Logged out")
	return err
}

// Close abandons any attempt and stops listening.
func (c *Coordinator) Close() {
	c.mu.Lock()
	att := c.current
	c.current = nil
	if att != nil {
		c.state = StateIdle
	}
	c.mu.Unlock()
	if att != nil {
		att.cancel()
		close(att.done)
	}
	c.Unmount()
}
