// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and validation for usertasks.
package config

import (
	"bytes"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/usertasks/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete usertasks configuration.
type Config struct {
	// DataDir holds the database and blob root unless they are set explicitly
	DataDir string `toml:"data_dir" yaml:"data_dir"`

	Server  ServerConfig  `toml:"server" yaml:"server"`
	Storage StorageConfig `toml:"storage" yaml:"storage"`
	Blob    BlobConfig    `toml:"blob" yaml:"blob"`
	Access  AccessConfig  `toml:"access" yaml:"access"`
	Auth    AuthConfig    `toml:"auth" yaml:"auth"`
	CLI     CLIConfig     `toml:"cli" yaml:"cli"`
	MCP     MCPConfig     `toml:"mcp" yaml:"mcp"`
	Signals SignalsConfig `toml:"signals" yaml:"signals"`
	Log     LogConfig     `toml:"log" yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr string `toml:"addr" yaml:"addr"`

	// PublicURL is the externally visible base URL used for absolute links
	PublicURL string `toml:"public_url" yaml:"public_url"`

	ReadTimeout     time.Duration `toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `toml:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`

	// RateLimit is requests per second allowed per client IP (0 disables)
	RateLimit float64 `toml:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `toml:"rate_burst" yaml:"rate_burst"`

	// TrustedProxies may set X-Forwarded-For
	TrustedProxies []string `toml:"trusted_proxies" yaml:"trusted_proxies"`
}

// StorageConfig contains the status database settings.
type StorageConfig struct {
	Path string `toml:"path" yaml:"path"`

	// MaxAge is the default cutoff for purge
	MaxAge time.Duration `toml:"max_age" yaml:"max_age"`
}

// BlobConfig contains artifact file storage settings.
type BlobConfig struct {
	Root string `toml:"root" yaml:"root"`

	// BaseURL serves blobs directly when set; otherwise files are streamed
	// through the API.
	BaseURL string `toml:"base_url" yaml:"base_url"`
}

// AccessConfig contains role assignments and permission-check limits.
type AccessConfig struct {
	Users []UserConfig `toml:"users" yaml:"users"`

	// GrantsFile is an optional TOML/YAML file of additional users that is
	// reloaded when it changes.
	GrantsFile string `toml:"grants_file" yaml:"grants_file"`

	// DefaultRole applies to authenticated users with no explicit roles
	DefaultRole string `toml:"default_role" yaml:"default_role"`

	ChecksPerSecond float64 `toml:"checks_per_second" yaml:"checks_per_second"`
	ChecksBurst     int     `toml:"checks_burst" yaml:"checks_burst"`
}

// UserConfig assigns roles and an API token hash to a user.
type UserConfig struct {
	ID    string   `toml:"id" yaml:"id"`
	Roles []string `toml:"roles" yaml:"roles"`

	// TokenHash is a bcrypt hash of the user's API secret
	TokenHash string `toml:"token_hash" yaml:"token_hash"`
}

// AuthConfig contains HTTP authentication settings.
type AuthConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`

	// AnonymousUser is the caller identity when auth is disabled
	AnonymousUser string `toml:"anonymous_user" yaml:"anonymous_user"`
}

// CLIConfig contains settings for direct store commands.
type CLIConfig struct {
	User string `toml:"user" yaml:"user"`
}

// MCPConfig contains settings for the MCP stdio server.
type MCPConfig struct {
	User string `toml:"user" yaml:"user"`
}

// SignalsConfig controls how cancellation signals reach execution engines.
// The server always streams them on /api/v1/signals; a webhook also
// delivers them from CLI and MCP processes.
type SignalsConfig struct {
	// WebhookURL receives each signal as a JSON POST when set
	WebhookURL   string        `toml:"webhook_url" yaml:"webhook_url"`
	WebhookToken string        `toml:"webhook_token" yaml:"webhook_token"`
	Timeout      time.Duration `toml:"timeout" yaml:"timeout"`

	// Buffer is the per-subscriber queue of the signal stream
	Buffer int `toml:"buffer" yaml:"buffer"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       20,
			RateBurst:       40,
		},
		Storage: StorageConfig{
			MaxAge: 30 * 24 * time.Hour,
		},
		Access: AccessConfig{
			DefaultRole:     "user",
			ChecksPerSecond: 50,
			ChecksBurst:     100,
		},
		Auth: AuthConfig{
			Enabled:       true,
			AnonymousUser: "anonymous",
		},
		CLI: CLIConfig{User: "admin"},
		MCP: MCPConfig{User: "admin"},
		Signals: SignalsConfig{
			Timeout: 5 * time.Second,
			Buffer:  100,
		},
		Log: LogConfig{Level: "info"},
	}
}

// ConfigDir returns the default configuration directory (~/.usertasks).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".usertasks"), nil
}

// SetDefaults fills derived paths and any zero values left by a partial file.
func (c *Config) SetDefaults() {
	d := Default()

	if c.DataDir == "" {
		if dir, err := ConfigDir(); err == nil {
			c.DataDir = dir
		} else {
			c.DataDir = ".usertasks"
		}
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "usertasks.db")
	}
	if c.Storage.MaxAge == 0 {
		c.Storage.MaxAge = d.Storage.MaxAge
	}
	if c.Blob.Root == "" {
		c.Blob.Root = filepath.Join(c.DataDir, "media")
	}

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.PublicURL == "" {
		c.Server.PublicURL = "http://" + c.Server.Addr
	}
	c.Server.PublicURL = strings.TrimRight(c.Server.PublicURL, "/")
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = d.Server.ReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = d.Server.WriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = d.Server.IdleTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Server.RateBurst == 0 && c.Server.RateLimit > 0 {
		c.Server.RateBurst = int(c.Server.RateLimit * 2)
	}

	if c.Access.DefaultRole == "" {
		c.Access.DefaultRole = d.Access.DefaultRole
	}
	if c.Access.ChecksPerSecond == 0 {
		c.Access.ChecksPerSecond = d.Access.ChecksPerSecond
	}
	if c.Access.ChecksBurst == 0 {
		c.Access.ChecksBurst = d.Access.ChecksBurst
	}
	if c.Auth.AnonymousUser == "" {
		c.Auth.AnonymousUser = d.Auth.AnonymousUser
	}
	if c.CLI.User == "" {
		c.CLI.User = d.CLI.User
	}
	if c.MCP.User == "" {
		c.MCP.User = d.MCP.User
	}
	if c.Signals.Timeout == 0 {
		c.Signals.Timeout = d.Signals.Timeout
	}
	if c.Signals.Buffer == 0 {
		c.Signals.Buffer = d.Signals.Buffer
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads ~/.usertasks/config.toml or config.yaml when present, then
// applies environment overrides, defaults and validation.
func Load() (*Config, error) {
	return LoadWithOverrides("", nil)
}

// LoadFromPath loads configuration from a specific file path. Files ending in
// .yaml or .yml are YAML; anything else is TOML.
func LoadFromPath(path string) (*Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides loads path, or the default location when path is empty.
// override runs after environment overrides and before defaults, so values it
// sets take precedence and derived values (such as the public URL) follow.
func LoadWithOverrides(path string, override func(*Config)) (*Config, error) {
	if path == "" {
		path = defaultConfigPath()
	}

	cfg := Default()
	if path != "" {
		if isYAML(path) {
			if err := LoadYAML(cfg, path); err != nil {
				return nil, fmt.Errorf("failed to load YAML config from %s: %w", path, err)
			}
		} else {
			if err := LoadTOML(cfg, path); err != nil {
				return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
			}
		}
	}

	cfg.ApplyEnvOverrides()
	if override != nil {
		override(cfg)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// defaultConfigPath returns the first existing config file in ConfigDir.
func defaultConfigPath() string {
	dir, err := ConfigDir()
	if err != nil {
		return ""
	}
	for _, name := range []string{"config.toml", "config.yaml", "config.yml"} {
		path := filepath.Join(dir, name)
		if _, statErr := os.Stat(path); statErr == nil {
			return path
		}
	}
	return ""
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// LoadYAML decodes a YAML file over cfg, rejecting unknown keys.
func LoadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read YAML file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode YAML file: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// SaveTOML writes cfg to path with owner-only permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# usertasks configuration file")
	fmt.Fprintln(&buf, "# Generated by usertasks config init - edit with care")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0o600, 0o700); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - USERTASKS_ADDR: server.addr
//   - USERTASKS_PUBLIC_URL: server.public_url
//   - USERTASKS_DB: storage.path
//   - USERTASKS_BLOB_ROOT: blob.root
//   - USERTASKS_AUTH: auth.enabled (true/false)
//   - USERTASKS_SIGNAL_WEBHOOK: signals.webhook_url
//   - USERTASKS_LOG_LEVEL: log.level
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("USERTASKS_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("USERTASKS_PUBLIC_URL"); v != "" {
		c.Server.PublicURL = v
	}
	if v := os.Getenv("USERTASKS_DB"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("USERTASKS_BLOB_ROOT"); v != "" {
		c.Blob.Root = v
	}
	if v := os.Getenv("USERTASKS_AUTH"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Auth.Enabled = enabled
		}
	}
	if v := os.Getenv("USERTASKS_SIGNAL_WEBHOOK"); v != "" {
		c.Signals.WebhookURL = v
	}
	if v := os.Getenv("USERTASKS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns ValidateErrors on failure.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		add("server.addr", "invalid listen address %q: %v", c.Server.Addr, err)
	}
	if err := validateBaseURL(c.Server.PublicURL); err != nil {
		add("server.public_url", "%v", err)
	}
	if c.Blob.BaseURL != "" {
		if err := validateBaseURL(c.Blob.BaseURL); err != nil {
			add("blob.base_url", "%v", err)
		}
	}
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must not be negative")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.IdleTimeout < 0 {
		add("server", "timeouts must not be negative")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		add("storage.path", "must not be empty")
	}
	if c.Storage.MaxAge < 0 {
		add("storage.max_age", "must not be negative")
	}
	if strings.TrimSpace(c.Blob.Root) == "" {
		add("blob.root", "must not be empty")
	}
	if c.Signals.WebhookURL != "" {
		if err := validateBaseURL(c.Signals.WebhookURL); err != nil {
			add("signals.webhook_url", "%v", err)
		}
	}
	if c.Signals.Timeout < 0 {
		add("signals.timeout", "must not be negative")
	}
	if c.Signals.Buffer < 0 {
		add("signals.buffer", "must not be negative")
	}
	if c.Access.ChecksPerSecond < 0 {
		add("access.checks_per_second", "must not be negative")
	}

	seen := make(map[string]bool)
	for i, u := range c.Access.Users {
		field := fmt.Sprintf("access.users[%d]", i)
		if strings.TrimSpace(u.ID) == "" {
			add(field+".id", "must not be empty")
			continue
		}
		if strings.ContainsAny(u.ID, "./\\") {
			add(field+".id", "%q must not contain '.', '/' or '\\'", u.ID)
		}
		if seen[u.ID] {
			add(field+".id", "duplicate user %q", u.ID)
		}
		seen[u.ID] = true
		if u.TokenHash != "" && !strings.HasPrefix(u.TokenHash, "$2") {
			add(field+".token_hash", "must be a bcrypt hash")
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		add("log.level", "invalid level %q, must be one of: trace, debug, info, warn, error", c.Log.Level)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	return nil
}

// FindUser returns the configured entry for id.
func (c *Config) FindUser(id string) (UserConfig, bool) {
	for _, u := range c.Access.Users {
		if u.ID == id {
			return u, true
		}
	}
	return UserConfig{}, false
}
