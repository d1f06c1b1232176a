package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version information - set by GoReleaser during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// GetVersionInfo returns a formatted version string
func GetVersionInfo() string {
	return fmt.Sprintf("social-login version %s, commit %s, built at %s", version, commit, date)
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Login   LoginConfig   `mapstructure:"login"`
	Session SessionConfig `mapstructure:"session"`
	Pages   PagesConfig   `mapstructure:"pages"`
	OAuth   *OAuthConfig  `mapstructure:"oauth"`
}

type ServerMode string

const (
	ServerModeSSE   ServerMode = "sse"
	ServerModeSTDIO ServerMode = "stdio"
	ServerModeHTTP  ServerMode = "http"
)

type ServerConfig struct {
	Port    int        `mapstructure:"port"`
	Host    string     `mapstructure:"host"`
	Mode    ServerMode `mapstructure:"mode"`
	Name    string     `mapstructure:"name"`
	Version string     `mapstructure:"version"`
}

type LoggingConfig struct {
	Level             string `mapstructure:"level"`
	Format            string `mapstructure:"format"`
	Color             bool   `mapstructure:"color"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
	OutputPath        string `mapstructure:"output_path"`
	AppendToFile      bool   `mapstructure:"append_to_file"`
	DisableConsole    bool   `mapstructure:"disable_console"`
}

// LoginConfig holds the cross-window handshake settings.
type LoginConfig struct {
	// AllowedOrigins lists the origins whose messages a page accepts. Required.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// TargetOrigin is the origin results are posted to. Defaults to AllowedOrigins[0].
	TargetOrigin      string        `mapstructure:"target_origin"`
	ExtractHost       string        `mapstructure:"extract_host"`
	FallbackPath      string        `mapstructure:"fallback_path"`
	RedirectDelay     time.Duration `mapstructure:"redirect_delay"`
	PollDelay         time.Duration `mapstructure:"poll_delay"`
	Timeout           time.Duration `mapstructure:"timeout"`
	StorePollInterval time.Duration `mapstructure:"store_poll_interval"`
}

type SessionBackend string

const (
	SessionBackendMemory SessionBackend = "memory"
	SessionBackendSQLite SessionBackend = "sqlite"
)

type SessionConfig struct {
	Backend SessionBackend `mapstructure:"backend"`
	Path    string         `mapstructure:"path"`
	Key     string         `mapstructure:"key"`
}

type PagesConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	WidgetsFile string `mapstructure:"widgets_file"`
}

type OAuthConfig struct {
	// BaseURL is the public URL the provider redirects back to.
	BaseURL string `mapstructure:"base_url"`
	// AttemptTTL is how long a consent callback is accepted after it started.
	AttemptTTL time.Duration                  `mapstructure:"attempt_ttl"`
	Providers  map[string]OAuthProviderConfig `mapstructure:"providers"`
}

type OAuthProviderConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
	Issuer       string   `mapstructure:"issuer"` // overrides the well-known issuer for OIDC providers
}

// Defaults applied before the config file is read.
const (
	DefaultExtractHost       = "embedded-wallet.thirdweb.com"
	DefaultFallbackPath      = "/custom-page"
	DefaultSessionKey        = "thirdweb-login-data"
	DefaultRedirectDelay     = 2 * time.Second
	DefaultPollDelay         = 2 * time.Second
	DefaultTimeout           = 10 * time.Second
	DefaultStorePollInterval = 500 * time.Millisecond
)

// InitFlags initializes command line flags (without parsing)
func InitFlags(fs *pflag.FlagSet) {
	fs.String("mode", "", "Server mode (stdio|sse|http)")
	fs.String("config", "", "Path to the config file")
	fs.String("session-path", "", "Path to the SQLite session database")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.mode", string(ServerModeHTTP))
	v.SetDefault("server.name", "Social Login")
	v.SetDefault("server.version", "1.0.0")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("login.extract_host", DefaultExtractHost)
	v.SetDefault("login.fallback_path", DefaultFallbackPath)
	v.SetDefault("login.redirect_delay", DefaultRedirectDelay)
	v.SetDefault("login.poll_delay", DefaultPollDelay)
	v.SetDefault("login.timeout", DefaultTimeout)
	v.SetDefault("login.store_poll_interval", DefaultStorePollInterval)
	v.SetDefault("session.backend", string(SessionBackendMemory))
	v.SetDefault("session.key", DefaultSessionKey)
}

// Load reads config.yaml (., /etc/social-login, or the --config flag), the
// SOCIAL_LOGIN_* environment and the given flags, in increasing precedence.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SOCIAL_LOGIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, err
		}
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/social-login")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	//Loading additionals config files
	if _, err := os.Stat("/config/config.yaml"); err == nil {
		v.SetConfigFile("/config/config.yaml")
		if err := v.MergeInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if mode := v.GetString("mode"); mode != "" {
		switch ServerMode(mode) {
		case ServerModeSSE, ServerModeSTDIO, ServerModeHTTP:
			cfg.Server.Mode = ServerMode(mode)
		default:
			return nil, fmt.Errorf("unsupported server mode: %s", mode)
		}
	}

	if path := v.GetString("session-path"); path != "" {
		cfg.Session.Backend = SessionBackendSQLite
		cfg.Session.Path = path
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that have no safe default.
func (c *Config) Validate() error {
	if len(c.Login.AllowedOrigins) == 0 {
		return fmt.Errorf("login.allowed_origins is required, please adjust the config or set SOCIAL_LOGIN_LOGIN_ALLOWED_ORIGINS")
	}
	for _, origin := range c.Login.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("login.allowed_origins must list explicit origins, \"*\" is not accepted")
		}
	}
	if c.Login.TargetOrigin == "" {
		c.Login.TargetOrigin = c.Login.AllowedOrigins[0]
	}
	if c.Login.TargetOrigin == "*" {
		return fmt.Errorf("login.target_origin must be an explicit origin")
	}

	switch c.Session.Backend {
	case SessionBackendMemory, "":
		c.Session.Backend = SessionBackendMemory
	case SessionBackendSQLite:
		if c.Session.Path == "" {
			return fmt.Errorf("session.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unsupported session backend: %s", c.Session.Backend)
	}
	if c.Session.Key == "" {
		c.Session.Key = DefaultSessionKey
	}

	if c.OAuth != nil && len(c.OAuth.Providers) > 0 && c.OAuth.BaseURL == "" {
		return fmt.Errorf("oauth.base_url is required when oauth providers are configured")
	}
	if c.OAuth != nil && c.OAuth.BaseURL != "" {
		// Callback windows post from the oauth origin, pages must accept it.
		callback, err := originOf(c.OAuth.BaseURL)
		if err != nil {
			return err
		}
		if !slices.Contains(c.Login.AllowedOrigins, callback) {
			c.Login.AllowedOrigins = append(c.Login.AllowedOrigins, callback)
		}
	}
	return nil
}

func originOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("oauth.base_url must be an absolute URL, got %q", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}
