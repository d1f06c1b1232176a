// Package extractor recovers a login from the embedded wallet's own redirect
// URL when the wallet SDK does not report the account.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/brizzai/social-login/internal/logger"
	"github.com/brizzai/social-login/internal/login"
	"github.com/brizzai/social-login/internal/session"
	"go.uber.org/zap"
)

const (
	// AuthResultParam carries the URL-encoded JSON auth payload.
	AuthResultParam = "authResult"
	// DefaultName is used when the payload has no email.
	DefaultName = "Social User"
	// unknownField is the default for missing wallet id and email.
	unknownField = "unknown"
)

// Navigator moves the current page to another location.
type Navigator interface {
	Navigate(ctx context.Context, location string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, location string) error

func (f NavigatorFunc) Navigate(ctx context.Context, location string) error {
	return f(ctx, location)
}

// Options configures an Extractor.
type Options struct {
	// Host is the substring that identifies a provider redirect URL.
	Host string
	// FollowUpPath is where the page goes after a successful extraction.
	FollowUpPath string
	// RedirectDelay leaves the confirmation visible before navigating.
	RedirectDelay time.Duration
}

// Extractor parses provider redirect URLs.
type Extractor struct {
	opts  Options
	store *session.Store

	mu     sync.Mutex
	nextID int
	timers map[int]*time.Timer
}

// New creates an Extractor that records successes in store.
func New(opts Options, store *session.Store) (*Extractor, error) {
	if strings.TrimSpace(opts.Host) == "" {
		return nil, fmt.Errorf("extractor host is required")
	}
	if opts.FollowUpPath == "" {
		opts.FollowUpPath = "/"
	}
	return &Extractor{opts: opts, store: store, timers: make(map[int]*time.Timer)}, nil
}

// authPayload is the subset of the wallet's auth result we read.
type authPayload struct {
	StoredToken *struct {
		AuthDetails *struct {
			UserWalletID string `json:"userWalletId"`
			Email        string `json:"email"`
		} `json:"authDetails"`
	} `json:"storedToken"`
}

// Parse maps a provider redirect URL to a login result without side effects.
// It returns ErrNotRecognizedURL for unrelated URLs and ErrMalformedPayload
// when the payload is missing or lacks storedToken.authDetails.
func (e *Extractor) Parse(raw string) (login.Result, error) {
	if !strings.Contains(raw, e.opts.Host) {
		return login.Result{}, login.ErrNotRecognizedURL
	}

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return login.Result{}, fmt.Errorf("%w: %v", login.ErrMalformedPayload, err)
	}

	// Query().Get already decodes the parameter once.
	encoded := u.Query().Get(AuthResultParam)
	if encoded == "" {
		return login.Result{}, fmt.Errorf("%w: no %s parameter", login.ErrMalformedPayload, AuthResultParam)
	}
	// Some redirects double-encode the payload.
	if decoded, err := url.QueryUnescape(encoded); err == nil && !json.Valid([]byte(encoded)) {
		encoded = decoded
	}

	var payload authPayload
	if err := json.Unmarshal([]byte(encoded), &payload); err != nil {
		return login.Result{}, fmt.Errorf("%w: %v", login.ErrMalformedPayload, err)
	}
	if payload.StoredToken == nil || payload.StoredToken.AuthDetails == nil {
		return login.Result{}, fmt.Errorf("%w: missing storedToken.authDetails", login.ErrMalformedPayload)
	}

	details := payload.StoredToken.AuthDetails
	result := login.Result{
		Address:  valueOr(details.UserWalletID, unknownField),
		Email:    valueOr(details.Email, unknownField),
		Name:     DefaultName,
		Provider: login.ProviderSocial,
		Status:   login.StatusSuccess,
	}
	if local := strings.SplitN(details.Email, "@", 2)[0]; local != "" {
		result.Name = local
	}
	return result, nil
}

// Extract parses raw, records the result in the session store and schedules
// nav to the follow-up page after the redirect delay. Nothing is written when
// parsing fails. nav may be nil when the caller handles navigation itself.
func (e *Extractor) Extract(ctx context.Context, raw string, nav Navigator) (login.Result, error) {
	result, err := e.Parse(raw)
	if err != nil {
		logger.Debug("Extraction failed", zap.Error(err))
		return login.Result{}, err
	}

	if e.store != nil {
		if err := e.store.Write(ctx, result); err != nil {
			return login.Result{}, err
		}
	}
	logger.Info("Extracted login from redirect URL",
		zap.String("address", result.Address),
		zap.String("provider", string(result.Provider)),
	)

	if nav != nil {
		e.schedule(nav, e.FollowUpLocation(result))
	}
	return result, nil
}

// FollowUpLocation returns the page a successful extraction redirects to.
func (e *Extractor) FollowUpLocation(result login.Result) string {
	q := url.Values{}
	q.Set("login", "success")
	q.Set("address", result.Address)
	q.Set("provider", string(result.Provider))
	return e.opts.FollowUpPath + "?" + q.Encode()
}

// RedirectDelay returns the configured delay before navigating.
func (e *Extractor) RedirectDelay() time.Duration {
	return e.opts.RedirectDelay
}

func (e *Extractor) schedule(nav Navigator, location string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.timers[id] = time.AfterFunc(e.opts.RedirectDelay, func() {
		e.mu.Lock()
		delete(e.timers, id)
		e.mu.Unlock()
		if err := nav.Navigate(context.Background(), location); err != nil {
			logger.Warn("Follow-up navigation failed", zap.String("location", location), zap.Error(err))
		}
	})
}

// Stop cancels navigations that have not fired yet.
func (e *Extractor) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
