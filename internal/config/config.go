// Package config loads orchat settings from a TOML file, a .env file and
// ORCHAT_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"storage"`
	API         APIConfig         `toml:"api"`
	Chat        ChatConfig        `toml:"chat"`
	Models      ModelsConfig      `toml:"models"`
	Secret      SecretConfig      `toml:"secret"`
	Interceptor InterceptorConfig `toml:"interceptor"`
	Metrics     MetricsConfig     `toml:"metrics"`
	Log         LogConfig         `toml:"log"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// CookieSecret signs tab cookies. Empty means one is generated and kept
	// in storage.
	CookieSecret string `toml:"cookie_secret"`
	// AllowedOrigins lists the page origins (e.g. the extension's
	// chrome-extension://<id>) allowed to call the service. Requests without
	// an Origin header, such as the CLI's, are always allowed.
	AllowedOrigins []string `toml:"allowed_origins"`
}

type StorageConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type APIConfig struct {
	BaseURL string        `toml:"base_url"`
	Referer string        `toml:"referer"`
	Title   string        `toml:"title"`
	Timeout time.Duration `toml:"timeout"`
}

type ChatConfig struct {
	DefaultModel string `toml:"default_model"`
}

type ModelsConfig struct {
	CacheTTL time.Duration `toml:"cache_ttl"`
}

type SecretConfig struct {
	// Backend is "storage" or "keyring".
	Backend     string `toml:"backend"`
	KeyringUser string `toml:"keyring_user"`
	// Passphrase, when set, wraps the encryption key before it is stored.
	Passphrase string `toml:"passphrase"`
}

type InterceptorConfig struct {
	Mode string `toml:"mode"`
}

type MetricsConfig struct {
	MaxEntries int     `toml:"max_entries"`
	PerSecond  float64 `toml:"per_second"`
	Burst      int     `toml:"burst"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

func Default() *Config {
	return &Config{
		Server:      ServerConfig{Addr: "127.0.0.1:8787"},
		Storage:     StorageConfig{Driver: "sqlite3", DSN: defaultDSN()},
		API:         APIConfig{BaseURL: "https://openrouter.ai/api/v1", Referer: "http://127.0.0.1:8787", Title: "OpenRouter Chat Extension"},
		Chat:        ChatConfig{DefaultModel: "qwen/qwq-32b"},
		Models:      ModelsConfig{CacheTTL: 24 * time.Hour},
		Secret:      SecretConfig{Backend: "storage"},
		Interceptor: InterceptorConfig{Mode: "live"},
		Metrics:     MetricsConfig{MaxEntries: 500, PerSecond: 20, Burst: 40},
		Log:         LogConfig{Level: "info", Format: "text"},
	}
}

// Dir returns the configuration directory, $XDG_CONFIG_HOME/orchat or the
// OS equivalent.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine config directory: %w", err)
	}
	return filepath.Join(base, "orchat"), nil
}

// DefaultPath is Dir()/config.toml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func defaultDSN() string {
	dir, err := Dir()
	if err != nil {
		return "orchat.db"
	}
	return filepath.Join(dir, "orchat.db")
}

// Load reads path (or DefaultPath when empty), then .env, then the
// environment. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if err := LoadTOML(cfg, path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := LoadEnvFile(""); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes the file at path over cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown config keys: %v", undecoded)
	}
	return nil
}

// LoadEnvFile loads KEY=VALUE pairs from path (".env" when empty) into the
// process environment without overriding variables that are already set.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return godotenv.Load(path)
}

// ApplyEnvOverrides applies ORCHAT_* variables.
func (c *Config) ApplyEnvOverrides() error {
	str := map[string]*string{
		"ORCHAT_ADDR":               &c.Server.Addr,
		"ORCHAT_COOKIE_SECRET":      &c.Server.CookieSecret,
		"ORCHAT_STORAGE_DRIVER":     &c.Storage.Driver,
		"ORCHAT_STORAGE_DSN":        &c.Storage.DSN,
		"ORCHAT_API_BASE_URL":       &c.API.BaseURL,
		"ORCHAT_API_REFERER":        &c.API.Referer,
		"ORCHAT_API_TITLE":          &c.API.Title,
		"ORCHAT_DEFAULT_MODEL":      &c.Chat.DefaultModel,
		"ORCHAT_SECRET_BACKEND":     &c.Secret.Backend,
		"ORCHAT_KEYRING_USER":       &c.Secret.KeyringUser,
		"ORCHAT_SECRET_PASSPHRASE":  &c.Secret.Passphrase,
		"ORCHAT_INTERCEPTOR_MODE":   &c.Interceptor.Mode,
		"ORCHAT_LOG_LEVEL":          &c.Log.Level,
		"ORCHAT_LOG_FORMAT":         &c.Log.Format,
	}
	for name, dst := range str {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"ORCHAT_API_TIMEOUT":      &c.API.Timeout,
		"ORCHAT_MODELS_CACHE_TTL": &c.Models.CacheTTL,
	}
	for name, dst := range durations {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = d
		}
	}

	if v, ok := os.LookupEnv("ORCHAT_ALLOWED_ORIGINS"); ok && v != "" {
		c.Server.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Server.AllowedOrigins = append(c.Server.AllowedOrigins, o)
			}
		}
	}

	if v, ok := os.LookupEnv("ORCHAT_METRICS_MAX_ENTRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ORCHAT_METRICS_MAX_ENTRIES: %w", err)
		}
		c.Metrics.MaxEntries = n
	}
	return nil
}

func (c *Config) Validate() error {
	var problems []string
	switch c.Storage.Driver {
	case "sqlite3", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("storage.driver %q must be sqlite3 or postgres", c.Storage.Driver))
	}
	if c.Storage.DSN == "" {
		problems = append(problems, "storage.dsn is empty")
	}
	switch c.Secret.Backend {
	case "storage", "keyring":
	default:
		problems = append(problems, fmt.Sprintf("secret.backend %q must be storage or keyring", c.Secret.Backend))
	}
	switch strings.ToLower(c.Interceptor.Mode) {
	case "", "live", "rules":
	default:
		problems = append(problems, fmt.Sprintf("interceptor.mode %q must be live or rules", c.Interceptor.Mode))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		problems = append(problems, fmt.Sprintf("server.addr %q: %v", c.Server.Addr, err))
	}
	for _, o := range c.Server.AllowedOrigins {
		if u, err := url.Parse(o); err != nil || u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") {
			problems = append(problems, fmt.Sprintf("server.allowed_origins entry %q must be scheme://host", o))
		}
	}
	if c.API.BaseURL == "" {
		problems = append(problems, "api.base_url is empty")
	}
	if c.API.Timeout < 0 || c.Models.CacheTTL < 0 {
		problems = append(problems, "durations must not be negative")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// EnsureDir creates the directory holding the default sqlite database.
func (c *Config) EnsureDir() error {
	if c.Storage.Driver != "sqlite3" || strings.HasPrefix(c.Storage.DSN, ":memory:") || strings.HasPrefix(c.Storage.DSN, "file:") {
		return nil
	}
	return os.MkdirAll(filepath.Dir(c.Storage.DSN), 0o700)
}
