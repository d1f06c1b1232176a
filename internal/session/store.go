// Package session persists the most recent successful login under one
// well-known key. Every reader sharing the KV sees the same record and the
// last writer wins.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/brizzai/social-login/internal/logger"
	"github.com/brizzai/social-login/internal/login"
	"go.uber.org/zap"
)

// ErrKeyRequired is returned when a store is built without a key.
var ErrKeyRequired = errors.New("session key is required")

// KV is the origin-scoped key-value port behind a Store.
type KV interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Store reads and writes the login record.
type Store struct {
	kv  KV
	key string
}

// NewStore creates a Store over kv using key.
func NewStore(kv KV, key string) (*Store, error) {
	if kv == nil {
		return nil, fmt.Errorf("session kv is required")
	}
	if key == "" {
		return nil, ErrKeyRequired
	}
	return &Store{kv: kv, key: key}, nil
}

// Key returns the storage key.
func (s *Store) Key() string {
	return s.key
}

// Write replaces the stored record unconditionally.
func (s *Store) Write(ctx context.Context, result login.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, string(data)); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	logger.Debug("Session written",
		zap.String("key", s.key),
		zap.String("address", result.Address),
		zap.String("provider", string(result.Provider)),
	)
	return nil
}

// Read returns the stored record. A missing key, an unreadable backend and a
// value that is not valid JSON all read as "no session".
func (s *Store) Read(ctx context.Context) (login.Result, bool) {
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		logger.Warn("Failed to read session", zap.String("key", s.key), zap.Error(err))
		return login.Result{}, false
	}
	if !ok {
		return login.Result{}, false
	}

	var result login.Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		logger.Debug("Ignoring unparsable session", zap.String("key", s.key), zap.Error(err))
		return login.Result{}, false
	}
	// Records written by older pages carry no status field.
	if result.Status == "" && result.Address != "" {
		result.Status = login.StatusSuccess
	}
	if result.Provider == "" {
		result.Provider = login.ProviderUnknown
	}
	return result, true
}

// Clear removes the record.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	logger.Debug("Session cleared", zap.String("key", s.key))
	return nil
}
