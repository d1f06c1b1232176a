package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/brizzai/social-login/internal/logger"
	"github.com/brizzai/social-login/internal/login"
	"github.com/brizzai/social-login/internal/session"
	"go.uber.org/zap"
)

// Opener is the browsing context that spawned the current one.
type Opener interface {
	PostMessage(ctx context.Context, ev Event, targetOrigin string) error
}

// Window is the browsing context a callback runs in.
type Window interface {
	// Opener returns nil when the context was not opened by another page.
	Opener() Opener
	Navigate(ctx context.Context, location string) error
	Close(ctx context.Context) error
}

// SenderOptions configures a Sender.
type SenderOptions struct {
	// Origin is the sender's own origin, reported to the receiver.
	Origin string
	// TargetOrigin restricts delivery to a page of this origin. Required.
	TargetOrigin string
	// FallbackPath receives the result as query parameters when there is no opener.
	FallbackPath string
	// Store persists successes on the fallback path. Optional.
	Store *session.Store
}

// Sender posts a result to the opener, or persists it and redirects.
type Sender struct {
	opts SenderOptions
}

// NewSender validates opts and creates a Sender.
func NewSender(opts SenderOptions) (*Sender, error) {
	if opts.TargetOrigin == "" || opts.TargetOrigin == "*" {
		return nil, fmt.Errorf("sender requires an explicit target origin")
	}
	if opts.FallbackPath == "" {
		opts.FallbackPath = "/"
	}
	return &Sender{opts: opts}, nil
}

// Send delivers result from w. With an opener the message is posted and w is
// closed; delivery is fire-and-forget. Without one the result is persisted
// and w navigates to the fallback path.
func (s *Sender) Send(ctx context.Context, w Window, result login.Result) error {
	if err := result.Validate(); err != nil {
		return err
	}

	if opener := w.Opener(); opener != nil {
		data, err := json.Marshal(FromResult(result))
		if err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
		if err := opener.PostMessage(ctx, Event{Origin: s.opts.Origin, Data: data}, s.opts.TargetOrigin); err != nil {
			logger.Debug("Opener did not accept message", zap.Error(err))
		}
		logger.Info("Posted login result to opener",
			zap.String("status", string(result.Status)),
			zap.String("provider", string(result.Provider)),
		)
		return w.Close(ctx)
	}

	logger.Info("No opener, falling back to redirect",
		zap.String("status", string(result.Status)),
		zap.NamedError("reason", login.ErrNoOpener),
	)
	if result.Status == login.StatusSuccess && s.opts.Store != nil {
		if err := s.opts.Store.Write(ctx, result); err != nil {
			logger.Warn("Failed to persist login for fallback", zap.Error(err))
		}
	}
	return w.Navigate(ctx, s.FallbackLocation(result))
}

// FallbackLocation encodes result into the fallback path's query.
func (s *Sender) FallbackLocation(result login.Result) string {
	q := url.Values{}
	if result.Status == login.StatusSuccess {
		q.Set("login", "success")
		q.Set("address", result.Address)
	} else {
		q.Set("login", "error")
		q.Set("error", result.ErrorMessage)
	}
	q.Set("provider", string(result.Provider))
	return s.opts.FallbackPath + "?" + q.Encode()
}

// ResultFromQuery reads a result written by FallbackLocation. ok is false
// when q carries no login parameter.
func ResultFromQuery(q url.Values) (login.Result, bool) {
	provider := login.ParseProvider(q.Get("provider"))
	switch q.Get("login") {
	case "success":
		r := login.Success(q.Get("address"), provider)
		return r, r.Validate() == nil
	case "error":
		msg := q.Get("error")
		if msg == "" {
			msg = "Unknown error"
		}
		return login.Result{Provider: provider, Status: login.StatusError, ErrorMessage: msg}, true
	}
	return login.Result{}, false
}
