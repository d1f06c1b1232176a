package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	InitFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
login:
  allowed_origins:
    - https://app.example.com
`)
	cfg, err := Load(newFlags(t, "--config", path))
	require.NoError(t, err)

	assert.Equal(t, ServerModeHTTP, cfg.Server.Mode)
	assert.Equal(t, "https://app.example.com", cfg.Login.TargetOrigin)
	assert.Equal(t, DefaultExtractHost, cfg.Login.ExtractHost)
	assert.Equal(t, DefaultFallbackPath, cfg.Login.FallbackPath)
	assert.Equal(t, 2*time.Second, cfg.Login.RedirectDelay)
	assert.Equal(t, 10*time.Second, cfg.Login.Timeout)
	assert.Equal(t, SessionBackendMemory, cfg.Session.Backend)
	assert.Equal(t, DefaultSessionKey, cfg.Session.Key)
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
server:
  mode: sse
login:
  allowed_origins: [https://a.example.com, https://b.example.com]
  target_origin: https://b.example.com
  timeout: 3s
`)
	dbPath := filepath.Join(t.TempDir(), "session.db")
	cfg, err := Load(newFlags(t, "--config", path, "--mode", "stdio", "--session-path", dbPath))
	require.NoError(t, err)

	assert.Equal(t, ServerModeSTDIO, cfg.Server.Mode)
	assert.Equal(t, "https://b.example.com", cfg.Login.TargetOrigin)
	assert.Equal(t, 3*time.Second, cfg.Login.Timeout)
	assert.Equal(t, SessionBackendSQLite, cfg.Session.Backend)
	assert.Equal(t, dbPath, cfg.Session.Path)
}

func TestLoad_InvalidMode(t *testing.T) {
	path := writeConfig(t, `
login:
  allowed_origins: [https://app.example.com]
`)
	_, err := Load(newFlags(t, "--config", path, "--mode", "grpc"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported server mode")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing origins",
			cfg:     Config{},
			wantErr: "login.allowed_origins is required",
		},
		{
			name: "wildcard origin",
			cfg: Config{Login: LoginConfig{
				AllowedOrigins: []string{"*"},
			}},
			wantErr: "explicit origins",
		},
		{
			name: "wildcard target",
			cfg: Config{Login: LoginConfig{
				AllowedOrigins: []string{"https://app.example.com"},
				TargetOrigin:   "*",
			}},
			wantErr: "target_origin",
		},
		{
			name: "sqlite without path",
			cfg: Config{
				Login:   LoginConfig{AllowedOrigins: []string{"https://app.example.com"}},
				Session: SessionConfig{Backend: SessionBackendSQLite},
			},
			wantErr: "session.path",
		},
		{
			name: "unknown backend",
			cfg: Config{
				Login:   LoginConfig{AllowedOrigins: []string{"https://app.example.com"}},
				Session: SessionConfig{Backend: "redis"},
			},
			wantErr: "unsupported session backend",
		},
		{
			name: "oauth without base url",
			cfg: Config{
				Login: LoginConfig{AllowedOrigins: []string{"https://app.example.com"}},
				OAuth: &OAuthConfig{Providers: map[string]OAuthProviderConfig{
					"google": {ClientID: "id"},
				}},
			},
			wantErr: "oauth.base_url",
		},
		{
			name: "relative oauth base url",
			cfg: Config{
				Login: LoginConfig{AllowedOrigins: []string{"https://app.example.com"}},
				OAuth: &OAuthConfig{BaseURL: "/login"},
			},
			wantErr: "absolute URL",
		},
		{
			name: "valid",
			cfg: Config{
				Login: LoginConfig{AllowedOrigins: []string{"https://app.example.com"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_AcceptsCallbackOrigin(t *testing.T) {
	cfg := Config{
		Login: LoginConfig{AllowedOrigins: []string{"https://app.example.com"}},
		OAuth: &OAuthConfig{BaseURL: "https://login.example.com/auth/"},
	}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"https://app.example.com", "https://login.example.com"}, cfg.Login.AllowedOrigins)
	assert.Equal(t, "https://app.example.com", cfg.Login.TargetOrigin)

	// Already listed origins are not repeated.
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Login.AllowedOrigins, 2)

	same := Config{
		Login: LoginConfig{AllowedOrigins: []string{"https://app.example.com"}},
		OAuth: &OAuthConfig{BaseURL: "https://app.example.com"},
	}
	require.NoError(t, same.Validate())
	assert.Equal(t, []string{"https://app.example.com"}, same.Login.AllowedOrigins)
}
