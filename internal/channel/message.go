// Package channel delivers login results from a callback browsing context to
// the page that started the login.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/brizzai/social-login/internal/login"
	"github.com/tidwall/gjson"
)

// Kind discriminates the structured messages a page understands.
type Kind string

const (
	KindLoginSuccess Kind = "login-success"
	KindLoginError   Kind = "login-error"
	// KindOAuthSuccess is emitted by the wallet SDK itself and carries no
	// address; receivers must ask the wallet for the account.
	KindOAuthSuccess Kind = "oauthSuccessResult"
)

// Tags used by earlier callback pages. Accepted on input, never produced.
const (
	legacySuccessType = "thirdweb-login-success"
	legacyErrorType   = "thirdweb-login-error"
)

var (
	// ErrNotObject is returned for payloads that are not a JSON object.
	ErrNotObject = errors.New("message is not an object")
	// ErrUnknownMessage is returned for objects with an unrecognised tag.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrInvalidMessage is returned when a recognised message lacks required fields.
	ErrInvalidMessage = errors.New("invalid message")
)

// SuccessPayload is the body of a login-success message.
type SuccessPayload struct {
	Address  string `json:"address"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider"`
}

// ErrorPayload is the body of a login-error message.
type ErrorPayload struct {
	Error    string `json:"error"`
	Provider string `json:"provider"`
}

// Message is one decoded structured message. Exactly one of Success, Error
// or AuthResult is set, matching Kind.
type Message struct {
	Kind       Kind
	Success    *SuccessPayload
	Error      *ErrorPayload
	AuthResult json.RawMessage
}

type envelope struct {
	Type    Kind `json:"type"`
	Payload any  `json:"payload"`
}

type oauthEnvelope struct {
	EventType  Kind            `json:"eventType"`
	AuthResult json.RawMessage `json:"authResult"`
}

// MarshalJSON renders the wire shape for the message kind.
func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case KindLoginSuccess:
		if m.Success == nil {
			return nil, fmt.Errorf("%w: success message without payload", ErrInvalidMessage)
		}
		return json.Marshal(envelope{Type: m.Kind, Payload: m.Success})
	case KindLoginError:
		if m.Error == nil {
			return nil, fmt.Errorf("%w: error message without payload", ErrInvalidMessage)
		}
		return json.Marshal(envelope{Type: m.Kind, Payload: m.Error})
	case KindOAuthSuccess:
		return json.Marshal(oauthEnvelope{EventType: m.Kind, AuthResult: m.AuthResult})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Kind)
	}
}

// FromResult builds the message a callback posts for result.
func FromResult(result login.Result) Message {
	if result.Status == login.StatusSuccess {
		return Message{Kind: KindLoginSuccess, Success: &SuccessPayload{
			Address:  result.Address,
			Email:    result.Email,
			Name:     result.Name,
			Provider: string(result.Provider),
		}}
	}
	return Message{Kind: KindLoginError, Error: &ErrorPayload{
		Error:    result.ErrorMessage,
		Provider: string(result.Provider),
	}}
}

// Result converts a login-success or login-error message. ok is false for
// messages that carry no result of their own.
func (m Message) Result() (login.Result, bool) {
	switch {
	case m.Kind == KindLoginSuccess && m.Success != nil:
		return login.Result{
			Address:  m.Success.Address,
			Email:    m.Success.Email,
			Name:     m.Success.Name,
			Provider: login.ParseProvider(m.Success.Provider),
			Status:   login.StatusSuccess,
		}, true
	case m.Kind == KindLoginError && m.Error != nil:
		msg := m.Error.Error
		if msg == "" {
			msg = "Unknown error"
		}
		return login.Result{
			Provider:     login.ParseProvider(m.Error.Provider),
			Status:       login.StatusError,
			ErrorMessage: msg,
		}, true
	}
	return login.Result{}, false
}

// Decode validates data at the boundary and returns the tagged message.
func Decode(data []byte) (Message, error) {
	if !gjson.ValidBytes(data) {
		return Message{}, ErrNotObject
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Message{}, ErrNotObject
	}

	if eventType := root.Get("eventType"); eventType.Exists() {
		if eventType.String() != string(KindOAuthSuccess) {
			return Message{}, fmt.Errorf("%w: eventType %q", ErrUnknownMessage, eventType.String())
		}
		authResult := root.Get("authResult")
		if !authResult.IsObject() || !authResult.Get("storedToken").Exists() {
			return Message{}, fmt.Errorf("%w: oauth result without storedToken", ErrInvalidMessage)
		}
		return Message{Kind: KindOAuthSuccess, AuthResult: json.RawMessage(authResult.Raw)}, nil
	}

	payload := root.Get("payload")
	switch tag := root.Get("type").String(); tag {
	case string(KindLoginSuccess), legacySuccessType:
		if !payload.IsObject() {
			return Message{}, fmt.Errorf("%w: success without payload", ErrInvalidMessage)
		}
		var p SuccessPayload
		if err := json.Unmarshal([]byte(payload.Raw), &p); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		if p.Address == "" {
			return Message{}, fmt.Errorf("%w: success without address", ErrInvalidMessage)
		}
		return Message{Kind: KindLoginSuccess, Success: &p}, nil
	case string(KindLoginError), legacyErrorType:
		var p ErrorPayload
		if payload.IsObject() {
			if err := json.Unmarshal([]byte(payload.Raw), &p); err != nil {
				return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
			}
		}
		return Message{Kind: KindLoginError, Error: &p}, nil
	default:
		return Message{}, fmt.Errorf("%w: type %q", ErrUnknownMessage, tag)
	}
}
