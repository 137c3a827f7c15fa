package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for zapbot.
type Config struct {
	General   GeneralConfig   `json:"general" yaml:"general"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp" yaml:"whatsapp"`
	Backend   BackendConfig   `json:"backend" yaml:"backend"`
	Reply     ReplyConfig     `json:"reply" yaml:"reply"`
	Reconnect ReconnectConfig `json:"reconnect" yaml:"reconnect"`
	Ops       OpsConfig       `json:"ops" yaml:"ops"`
}

type GeneralConfig struct {
	LogLevel      string `json:"logLevel" yaml:"logLevel"`
	LogFormat     string `json:"logFormat" yaml:"logFormat"` // "text" | "json"
	InboundBuffer int    `json:"inboundBuffer" yaml:"inboundBuffer"`
}

// WhatsAppConfig configures the WhatsApp Web transport.
type WhatsAppConfig struct {
	StorePath             string   `json:"storePath" yaml:"storePath"` // sqlite file holding the paired device
	PrintQR               bool     `json:"printQR" yaml:"printQR"`
	ClientIdentity        []string `json:"clientIdentity,omitempty" yaml:"clientIdentity,omitempty"` // [os, browser, version]
	ProtocolVersion       string   `json:"protocolVersion" yaml:"protocolVersion"`                   // "auto" or "2.3000.1015901307"
	ConnectTimeoutSeconds int      `json:"connectTimeoutSeconds" yaml:"connectTimeoutSeconds"`
}

// BackendConfig configures the agent backend (Typebot) endpoints.
// ContinueURL and CreateURL are templates: {baseUrl} and {sessionId} are
// substituted per request. Empty templates fall back to BaseURL.
type BackendConfig struct {
	BaseURL           string `json:"baseUrl" yaml:"baseUrl"`
	ContinueURL       string `json:"continueUrl,omitempty" yaml:"continueUrl,omitempty"`
	CreateURL         string `json:"createUrl,omitempty" yaml:"createUrl,omitempty"`
	APIKey            string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	TimeoutSeconds    int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	StripJIDSuffix    bool   `json:"stripJidSuffix" yaml:"stripJidSuffix"`
	NoNamePlaceholder string `json:"noNamePlaceholder" yaml:"noNamePlaceholder"`
}

type ReplyConfig struct {
	PacingMillis int    `json:"pacingMillis" yaml:"pacingMillis"`
	ChoiceHeader string `json:"choiceHeader" yaml:"choiceHeader"`
}

type ReconnectConfig struct {
	Strategy        string `json:"strategy" yaml:"strategy"` // "constant" | "exponential"
	DelaySeconds    int    `json:"delaySeconds" yaml:"delaySeconds"`
	MaxDelaySeconds int    `json:"maxDelaySeconds" yaml:"maxDelaySeconds"`
}

// OpsConfig configures the operational HTTP server (/healthz, /status, /metrics).
type OpsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// BackendEnabled reports whether a backend URL is configured. Without one the
// bridge runs in connectivity-only mode.
func (c *Config) BackendEnabled() bool {
	return strings.TrimSpace(c.Backend.BaseURL) != ""
}

func (g GeneralConfig) SlogLevel() slog.Level {
	switch strings.ToLower(g.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

func (w WhatsAppConfig) ConnectTimeout() time.Duration {
	return time.Duration(w.ConnectTimeoutSeconds) * time.Second
}

func (r ReplyConfig) Pacing() time.Duration {
	return time.Duration(r.PacingMillis) * time.Millisecond
}

// DefaultConfigDir returns the default config directory (~/.zapbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".zapbot"
	}
	return filepath.Join(home, ".zapbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env") into
// the process environment. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load reads a JSON or YAML (by extension) config file, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	return finish(cfg)
}

// LoadOrDefaults behaves like Load but starts from Defaults when the file
// does not exist, so a bare environment (TYPEBOT_URL only) is enough to run.
func LoadOrDefaults(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	cfg, err = finish(Defaults())
	return cfg, false, err
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnv(cfg)
	clearUnresolved(&cfg.Backend.BaseURL, &cfg.Backend.ContinueURL, &cfg.Backend.CreateURL, &cfg.Backend.APIKey)
	cfg.WhatsApp.StorePath = ExpandPath(cfg.WhatsApp.StorePath)
	cfg.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Backend.BaseURL), "/")

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// clearUnresolved empties backend values still holding an unset ${VAR}, so a
// config that references an absent TYPEBOT_URL selects connectivity-only
// mode instead of failing validation.
func clearUnresolved(fields ...*string) {
	for _, f := range fields {
		if envVarPattern.MatchString(*f) {
			*f = ""
		}
	}
}

// ApplyEnv overrides config values from well-known environment variables.
func ApplyEnv(cfg *Config) {
	overrides := []struct {
		name string
		dst  *string
	}{
		{"TYPEBOT_URL", &cfg.Backend.BaseURL},
		{"TYPEBOT_API_KEY", &cfg.Backend.APIKey},
		{"ZAPBOT_STORE_PATH", &cfg.WhatsApp.StorePath},
		{"ZAPBOT_LOG_LEVEL", &cfg.General.LogLevel},
		{"ZAPBOT_OPS_ADDR", &cfg.Ops.Addr},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			*o.dst = v
		}
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; ${VAR:-} yields
// "". An unset ${VAR} without a default is left as is.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := strings.Contains(match, ":-")
		if hasDefault && len(groups) >= 3 {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}
	if cfg.General.InboundBuffer < 1 || cfg.General.InboundBuffer > 10000 {
		errs = append(errs, "general.inboundBuffer must be between 1 and 10000")
	}

	if strings.TrimSpace(cfg.WhatsApp.StorePath) == "" {
		errs = append(errs, "whatsapp.storePath is required")
	}
	if n := len(cfg.WhatsApp.ClientIdentity); n != 0 && n != 3 {
		errs = append(errs, "whatsapp.clientIdentity must have exactly 3 entries: [os, browser, version]")
	}
	if v := cfg.WhatsApp.ProtocolVersion; v != "" && v != "auto" && !versionPattern.MatchString(v) {
		errs = append(errs, "whatsapp.protocolVersion must be \"auto\" or a version like 2.3000.1015901307")
	}
	if cfg.WhatsApp.ConnectTimeoutSeconds < 1 || cfg.WhatsApp.ConnectTimeoutSeconds > 300 {
		errs = append(errs, "whatsapp.connectTimeoutSeconds must be between 1 and 300")
	}

	if cfg.Backend.BaseURL != "" {
		u, err := url.Parse(cfg.Backend.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "backend.baseUrl must be an absolute http(s) URL")
		}
	}
	if cfg.Backend.TimeoutSeconds < 1 || cfg.Backend.TimeoutSeconds > 300 {
		errs = append(errs, "backend.timeoutSeconds must be between 1 and 300")
	}

	if cfg.Reply.PacingMillis < 0 || cfg.Reply.PacingMillis > 10000 {
		errs = append(errs, "reply.pacingMillis must be between 0 and 10000")
	}

	switch cfg.Reconnect.Strategy {
	case "constant", "exponential":
	default:
		errs = append(errs, "reconnect.strategy must be one of: constant, exponential")
	}
	if cfg.Reconnect.DelaySeconds < 1 {
		errs = append(errs, "reconnect.delaySeconds must be >= 1")
	}
	if cfg.Reconnect.Strategy == "exponential" && cfg.Reconnect.MaxDelaySeconds < cfg.Reconnect.DelaySeconds {
		errs = append(errs, "reconnect.maxDelaySeconds must be >= reconnect.delaySeconds")
	}

	if cfg.Ops.Enabled && strings.TrimSpace(cfg.Ops.Addr) == "" {
		errs = append(errs, "ops.addr is required when ops is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
