// Package login holds the outcome of a social-login attempt and the error
// kinds shared by the extractor, the result channel and the coordinator.
package login

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the outcome of one authentication attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Provider names the login strategy. The set is open: values outside the
// known list normalise to ProviderUnknown.
type Provider string

const (
	ProviderGoogle  Provider = "google"
	ProviderApple   Provider = "apple"
	ProviderGitHub  Provider = "github"
	ProviderEmail   Provider = "email"
	ProviderSocial  Provider = "social"
	ProviderOAuth   Provider = "oauth"
	ProviderUnknown Provider = "unknown"
)

var knownProviders = map[Provider]struct{}{
	ProviderGoogle:  {},
	ProviderApple:   {},
	ProviderGitHub:  {},
	ProviderEmail:   {},
	ProviderSocial:  {},
	ProviderOAuth:   {},
	ProviderUnknown: {},
}

// ParseProvider maps a free-form provider string onto the enumeration.
func ParseProvider(s string) Provider {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownProviders[p]; ok {
		return p
	}
	return ProviderUnknown
}

// Result is a single login outcome. The JSON shape is also the persisted
// session record.
type Result struct {
	Address      string   `json:"address,omitempty"`
	Email        string   `json:"email,omitempty"`
	Name         string   `json:"name,omitempty"`
	Provider     Provider `json:"provider"`
	Status       Status   `json:"status"`
	ErrorMessage string   `json:"error,omitempty"`
}

// Success builds a successful result.
func Success(address string, provider Provider) Result {
	return Result{Address: address, Provider: provider, Status: StatusSuccess}
}

// Failure builds an error result.
func Failure(provider Provider, err error) Result {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Result{Provider: provider, Status: StatusError, ErrorMessage: msg}
}

// Validate enforces that successes carry an address and errors carry a message.
func (r Result) Validate() error {
	switch r.Status {
	case StatusSuccess:
		if strings.TrimSpace(r.Address) == "" {
			return fmt.Errorf("%w: success without address", ErrInvalidResult)
		}
	case StatusError:
		if r.ErrorMessage == "" {
			return fmt.Errorf("%w: error without message", ErrInvalidResult)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidResult, r.Status)
	}
	return nil
}

// OK reports whether r is a valid success.
func (r Result) OK() bool {
	return r.Status == StatusSuccess && r.Validate() == nil
}

// Merge fills the best-effort fields of r from other when they refer to the
// same address. The address and provider of r are never replaced.
func (r Result) Merge(other Result) Result {
	if other.Address != "" && other.Address != r.Address {
		return r
	}
	if r.Email == "" {
		r.Email = other.Email
	}
	if r.Name == "" {
		r.Name = other.Name
	}
	return r
}

var (
	// ErrInvalidResult marks a Result that breaks the success/error invariants.
	ErrInvalidResult = errors.New("invalid login result")
	// ErrNotRecognizedURL is returned when a URL is not a provider redirect.
	ErrNotRecognizedURL = errors.New("not a recognized provider redirect URL")
	// ErrMalformedPayload is returned when the auth payload lacks the expected structure.
	ErrMalformedPayload = errors.New("malformed auth payload")
	// ErrWalletConnect wraps failures reported by the wallet capability.
	ErrWalletConnect = errors.New("wallet connect failed")
	// ErrTimeout is returned when no completion source reported in time.
	ErrTimeout = errors.New("login timed out")
	// ErrNoOpener means the callback had no parent to post to. It triggers
	// the redirect fallback and is never shown to users.
	ErrNoOpener = errors.New("no opener")
)

// StatusMessage converts a failure into the text shown to the user.
func StatusMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "Login timed out. Check whether a popup was blocked and try again."
	case errors.Is(err, ErrNotRecognizedURL):
		return "Not on an embedded wallet redirect page"
	case errors.Is(err, ErrMalformedPayload):
		return "No auth details found in URL"
	case errors.Is(err, ErrWalletConnect):
		return "Login failed: " + strings.TrimPrefix(err.Error(), ErrWalletConnect.Error()+": ")
	default:
		return "Login failed: " + err.Error()
	}
}
