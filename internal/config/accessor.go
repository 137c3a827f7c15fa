package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrUnknownKey = errors.New("unknown config key")
	ErrReadOnly   = errors.New("config key is read-only")
)

// key describes one addressable config leaf. Keys without set are shown by
// `config get|list` but changed only by editing the file, since they touch
// the paired device or the process's own identity.
type key struct {
	get func(*Config) any
	set func(*Config, string) error
}

var keys = map[string]key{
	"general.logLevel":      {get: func(c *Config) any { return c.General.LogLevel }, set: setString(func(c *Config) *string { return &c.General.LogLevel })},
	"general.logFormat":     {get: func(c *Config) any { return c.General.LogFormat }, set: setString(func(c *Config) *string { return &c.General.LogFormat })},
	"general.inboundBuffer": {get: func(c *Config) any { return c.General.InboundBuffer }},

	"whatsapp.storePath":             {get: func(c *Config) any { return c.WhatsApp.StorePath }},
	"whatsapp.printQR":               {get: func(c *Config) any { return c.WhatsApp.PrintQR }, set: setBool(func(c *Config) *bool { return &c.WhatsApp.PrintQR })},
	"whatsapp.clientIdentity":        {get: func(c *Config) any { return c.WhatsApp.ClientIdentity }},
	"whatsapp.protocolVersion":       {get: func(c *Config) any { return c.WhatsApp.ProtocolVersion }},
	"whatsapp.connectTimeoutSeconds": {get: func(c *Config) any { return c.WhatsApp.ConnectTimeoutSeconds }, set: setInt(func(c *Config) *int { return &c.WhatsApp.ConnectTimeoutSeconds })},

	"backend.baseUrl":           {get: func(c *Config) any { return c.Backend.BaseURL }, set: setURL(func(c *Config) *string { return &c.Backend.BaseURL })},
	"backend.continueUrl":       {get: func(c *Config) any { return c.Backend.ContinueURL }, set: setString(func(c *Config) *string { return &c.Backend.ContinueURL })},
	"backend.createUrl":         {get: func(c *Config) any { return c.Backend.CreateURL }, set: setString(func(c *Config) *string { return &c.Backend.CreateURL })},
	"backend.apiKey":            {get: func(c *Config) any { return c.Backend.APIKey }, set: setString(func(c *Config) *string { return &c.Backend.APIKey })},
	"backend.timeoutSeconds":    {get: func(c *Config) any { return c.Backend.TimeoutSeconds }, set: setInt(func(c *Config) *int { return &c.Backend.TimeoutSeconds })},
	"backend.stripJidSuffix":    {get: func(c *Config) any { return c.Backend.StripJIDSuffix }, set: setBool(func(c *Config) *bool { return &c.Backend.StripJIDSuffix })},
	"backend.noNamePlaceholder": {get: func(c *Config) any { return c.Backend.NoNamePlaceholder }, set: setString(func(c *Config) *string { return &c.Backend.NoNamePlaceholder })},

	"reply.pacingMillis": {get: func(c *Config) any { return c.Reply.PacingMillis }, set: setInt(func(c *Config) *int { return &c.Reply.PacingMillis })},
	"reply.choiceHeader": {get: func(c *Config) any { return c.Reply.ChoiceHeader }, set: setString(func(c *Config) *string { return &c.Reply.ChoiceHeader })},

	"reconnect.strategy":        {get: func(c *Config) any { return c.Reconnect.Strategy }, set: setString(func(c *Config) *string { return &c.Reconnect.Strategy })},
	"reconnect.delaySeconds":    {get: func(c *Config) any { return c.Reconnect.DelaySeconds }, set: setInt(func(c *Config) *int { return &c.Reconnect.DelaySeconds })},
	"reconnect.maxDelaySeconds": {get: func(c *Config) any { return c.Reconnect.MaxDelaySeconds }, set: setInt(func(c *Config) *int { return &c.Reconnect.MaxDelaySeconds })},

	"ops.enabled": {get: func(c *Config) any { return c.Ops.Enabled }, set: setBool(func(c *Config) *bool { return &c.Ops.Enabled })},
	"ops.addr":    {get: func(c *Config) any { return c.Ops.Addr }, set: setString(func(c *Config) *string { return &c.Ops.Addr })},
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = strings.TrimSpace(v)
		return nil
	}
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("want an integer, got %q", v)
		}
		*field(c) = n
		return nil
	}
}

func setBool(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("want true or false, got %q", v)
		}
		*field(c) = b
		return nil
	}
}

// setURL accepts an absolute http(s) URL or "" for connectivity-only mode.
func setURL(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		v = strings.TrimRight(strings.TrimSpace(v), "/")
		if v != "" {
			u, err := url.Parse(v)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return fmt.Errorf("want an absolute http(s) URL, got %q", v)
			}
		}
		*field(c) = v
		return nil
	}
}

// GetByPath returns the value at a dotted key such as "backend.baseUrl".
func GetByPath(cfg *Config, path string) (any, error) {
	k, ok := keys[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, path)
	}
	return k.get(cfg), nil
}

// SetByPath parses value for the key's type and stores it. The caller
// validates the whole config before saving.
func SetByPath(cfg *Config, path, value string) error {
	k, ok := keys[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, path)
	}
	if k.set == nil {
		return fmt.Errorf("%w: %s (edit the config file instead)", ErrReadOnly, path)
	}
	if err := k.set(cfg, value); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Entry is one row of `config list`.
type Entry struct {
	Key      string
	Value    any
	Settable bool
}

// List returns every key with its current value, sorted by key.
func List(cfg *Config) []Entry {
	entries := make([]Entry, 0, len(keys))
	for name, k := range keys {
		entries = append(entries, Entry{Key: name, Value: k.get(cfg), Settable: k.set != nil})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// Sanitize returns a copy of the config with the API key masked and URL
// passwords redacted.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.WhatsApp.ClientIdentity = append([]string(nil), cfg.WhatsApp.ClientIdentity...)
	if out.Backend.APIKey != "" {
		out.Backend.APIKey = maskString(out.Backend.APIKey)
	}
	out.Backend.BaseURL = redactURL(out.Backend.BaseURL)
	out.Backend.ContinueURL = redactURL(out.Backend.ContinueURL)
	out.Backend.CreateURL = redactURL(out.Backend.CreateURL)
	return &out
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

// maskString keeps the first and last 4 characters.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
