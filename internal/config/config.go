package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultSession string    `toml:"default_session"`
	Server         Server    `toml:"server"`
	Auth           Auth      `toml:"auth"`
	Transport      Transport `toml:"transport"`
	Timeline       Timeline  `toml:"timeline"`
	Unread         Unread    `toml:"unread"`
	Presence       Presence  `toml:"presence"`
	Directory      Directory `toml:"directory"`
	Notify         Notify    `toml:"notify"`
	Daemon         Daemon    `toml:"daemon"`
}

type Server struct {
	APIURL string `toml:"api_url"`
	WSURL  string `toml:"ws_url"`
}

// Auth identifies the signed-in user. TokenEnv, when set, names an
// environment variable that overrides Token.
type Auth struct {
	Token       string `toml:"token,omitempty"`
	TokenEnv    string `toml:"token_env,omitempty"`
	UserID      string `toml:"user_id"`
	DisplayName string `toml:"display_name"`
}

type Transport struct {
	DialTimeout          time.Duration `toml:"dial_timeout"`
	RequestTimeout       time.Duration `toml:"request_timeout"`
	ReconnectBaseDelay   time.Duration `toml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `toml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `toml:"max_reconnect_attempts"`
	ProbeInterval        time.Duration `toml:"probe_interval"`
	ProbeTimeout         time.Duration `toml:"probe_timeout"`
	ForceReconnectDelay  time.Duration `toml:"force_reconnect_delay"`
}

type Timeline struct {
	PageSize       int           `toml:"page_size"`
	MaxJumpPages   int           `toml:"max_jump_pages"`
	MatchWindow    time.Duration `toml:"match_window"`
	HeuristicMatch bool          `toml:"heuristic_match"`
}

type Unread struct {
	DedupWindow       time.Duration `toml:"dedup_window"`
	DedupRetain       time.Duration `toml:"dedup_retain"`
	ReconcileInterval time.Duration `toml:"reconcile_interval"`
}

type Presence struct {
	TypingTimeout time.Duration `toml:"typing_timeout"`
}

type Directory struct {
	CacheTTL time.Duration `toml:"cache_ttl"`
}

type Notify struct {
	Enabled bool   `toml:"enabled"`
	Icon    string `toml:"icon,omitempty"`
}

// Daemon settings. An empty MetricsAddr disables the /metrics listener.
type Daemon struct {
	MetricsAddr string `toml:"metrics_addr,omitempty"`
}

// Defaults returns a config with every value set.
func Defaults() *Config {
	return &Config{
		DefaultSession: "main",
		Server: Server{
			APIURL: "http://localhost:5000/api",
			WSURL:  "ws://localhost:5000/ws",
		},
		Auth: Auth{TokenEnv: "CHATSYNC_TOKEN"},
		Transport: Transport{
			DialTimeout:          20 * time.Second,
			RequestTimeout:       10 * time.Second,
			ReconnectBaseDelay:   time.Second,
			ReconnectMaxDelay:    30 * time.Second,
			MaxReconnectAttempts: 5,
			ProbeInterval:        30 * time.Second,
			ProbeTimeout:         10 * time.Second,
			ForceReconnectDelay:  time.Second,
		},
		Timeline: Timeline{
			PageSize:       15,
			MaxJumpPages:   20,
			MatchWindow:    5 * time.Second,
			HeuristicMatch: true,
		},
		Unread: Unread{
			DedupWindow:       time.Second,
			DedupRetain:       time.Minute,
			ReconcileInterval: 5 * time.Minute,
		},
		Presence:  Presence{TypingTimeout: 3 * time.Second},
		Directory: Directory{CacheTTL: 5 * time.Minute},
		Notify:    Notify{Enabled: true},
	}
}

// Load reads config from the given path on top of Defaults. Returns an error
// if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Defaults(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Token returns the credential, preferring the TokenEnv variable.
func (c *Config) Token() string {
	if c.Auth.TokenEnv != "" {
		if v := os.Getenv(c.Auth.TokenEnv); v != "" {
			return v
		}
	}
	return c.Auth.Token
}

// Validate reports the first setting the core cannot run with.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{"server.api_url": c.Server.APIURL, "server.ws_url": c.Server.WSURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s: invalid url %q", name, raw)
		}
	}
	if c.Auth.UserID == "" {
		return errors.New("auth.user_id is required")
	}
	if c.Timeline.PageSize <= 0 {
		return fmt.Errorf("timeline.page_size must be positive, got %d", c.Timeline.PageSize)
	}
	if c.Transport.ReconnectBaseDelay <= 0 || c.Transport.ReconnectMaxDelay < c.Transport.ReconnectBaseDelay {
		return fmt.Errorf("transport: reconnect delays %s..%s out of order",
			c.Transport.ReconnectBaseDelay, c.Transport.ReconnectMaxDelay)
	}
	return nil
}
