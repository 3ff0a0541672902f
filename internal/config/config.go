// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/codeassist/internal/offline"
	"github.com/jeranaias/codeassist/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete codeassist configuration.
type Config struct {
	Backend BackendConfig `toml:"backend"`
	Ollama  OllamaConfig  `toml:"ollama"`
	OpenAI  OpenAIConfig  `toml:"openai"`
	Relay   RelayConfig   `toml:"relay"`
	Server  ServerConfig  `toml:"server"`
	UI      UIConfig      `toml:"ui"`
	Log     LogConfig     `toml:"log"`
}

// BackendConfig selects the model server.
type BackendConfig struct {
	// Kind is "ollama" (native /api/chat) or "openai" (chat completions)
	Kind string `toml:"kind"`
	// Model is the model requested for every prompt
	Model string `toml:"model"`
	// Offline keeps prompts on this machine: the model server and the web
	// panel must use loopback addresses
	Offline bool `toml:"offline"`
}

// OllamaConfig contains native Ollama backend configuration.
type OllamaConfig struct {
	URL string `toml:"url"`
	// TimeoutSecs bounds non-streaming calls (health, model list)
	TimeoutSecs int `toml:"timeout_secs"`
}

// OpenAIConfig contains OpenAI-compatible backend configuration.
type OpenAIConfig struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

// RelayConfig contains session settings.
type RelayConfig struct {
	// TimeoutSecs bounds one whole response; 0 means unbounded
	TimeoutSecs int `toml:"timeout_secs"`
}

// ServerConfig contains settings for `codeassist serve`.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	// Token enables bearer authentication when non-empty
	Token string `toml:"token"`
	// AllowedOrigins for the WebSocket upgrade; empty allows same-host only
	AllowedOrigins []string `toml:"allowed_origins"`
	// RateLimit is requests per second per client IP; 0 disables limiting
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

// UIConfig contains panel presentation settings.
type UIConfig struct {
	// Markdown renders responses with glamour in the terminal panel
	Markdown bool `toml:"markdown"`
	// LegacyErrorText shows failures as "Error: <message>" in the text field
	LegacyErrorText bool `toml:"legacy_error_text"`
	// HistoryFile for the line console; empty uses the config directory
	HistoryFile string `toml:"history_file"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
	// File receives logs in terminal panel mode; empty uses the config directory
	File string `toml:"file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Kind:  "ollama",
			Model: "deepseek-coder-v2:latest",
		},
		Ollama: OllamaConfig{
			URL:         "http://127.0.0.1:11434",
			TimeoutSecs: 30,
		},
		OpenAI: OpenAIConfig{
			URL: "http://127.0.0.1:11434/v1",
		},
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      8787,
			RateLimit: 10,
			RateBurst: 20,
		},
		UI: UIConfig{
			Markdown: true,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = defaults.Backend.Kind
	}
	if cfg.Backend.Model == "" {
		cfg.Backend.Model = defaults.Backend.Model
	}
	if cfg.Ollama.URL == "" {
		cfg.Ollama.URL = defaults.Ollama.URL
	}
	if cfg.Ollama.TimeoutSecs == 0 {
		cfg.Ollama.TimeoutSecs = defaults.Ollama.TimeoutSecs
	}
	if cfg.OpenAI.URL == "" {
		cfg.OpenAI.URL = defaults.OpenAI.URL
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaults.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = defaults.Server.RateBurst
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the codeassist configuration directory:
// $XDG_CONFIG_HOME/codeassist when set, ~/.codeassist otherwise.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "codeassist"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".codeassist"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DataPath returns name inside the config directory.
func DataPath(name string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ensureSecurePermissions tightens a config file holding keys or tokens
// to owner read/write.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the default config file if it exists, then applies defaults,
// environment overrides and validation.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file into cfg and fills unset fields with defaults.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	fillDefaults(cfg)
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# codeassist configuration file\n")
	buf.WriteString("# Environment variables CODEASSIST_* override these values.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
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
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors

	switch strings.ToLower(c.Backend.Kind) {
	case "ollama", "openai":
	default:
		errs = append(errs, ValidationError{
			Field:   "backend.kind",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: ollama, openai", c.Backend.Kind),
		})
	}

	if strings.TrimSpace(c.Backend.Model) == "" {
		errs = append(errs, ValidationError{Field: "backend.model", Message: "must not be empty"})
	}

	if err := validateURL(c.Ollama.URL); err != nil {
		errs = append(errs, ValidationError{Field: "ollama.url", Message: err.Error()})
	}
	if err := validateURL(c.OpenAI.URL); err != nil {
		errs = append(errs, ValidationError{Field: "openai.url", Message: err.Error()})
	}

	if c.Backend.Offline {
		field, active := "ollama.url", c.Ollama.URL
		if strings.EqualFold(c.Backend.Kind, "openai") {
			field, active = "openai.url", c.OpenAI.URL
		}
		if err := offline.CheckModelServer(active, true); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: err.Error()})
		}
		if err := offline.CheckListenHost(c.Server.Host, true); err != nil {
			errs = append(errs, ValidationError{Field: "server.host", Message: err.Error()})
		}
	}

	if c.Ollama.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "ollama.timeout_secs", Message: "must not be negative"})
	}
	if c.Relay.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "relay.timeout_secs", Message: "must not be negative"})
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d out of range 1-65535", c.Server.Port),
		})
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_limit", Message: "must not be negative"})
	}
	if c.Server.RateBurst < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_burst", Message: "must not be negative"})
	}

	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: trace, debug, info, warn, error", c.Log.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must use http or https, got '%s'", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host: '%s'", raw)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - CODEASSIST_BACKEND: overrides backend.kind
//   - CODEASSIST_MODEL: overrides backend.model
//   - CODEASSIST_OFFLINE: overrides backend.offline
//   - CODEASSIST_OLLAMA_URL: overrides ollama.url
//   - CODEASSIST_OPENAI_URL: overrides openai.url
//   - CODEASSIST_OPENAI_KEY: overrides openai.api_key
//   - CODEASSIST_PORT: overrides server.port
//   - CODEASSIST_TOKEN: overrides server.token
//   - CODEASSIST_LOG_LEVEL: overrides log.level
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CODEASSIST_BACKEND"); v != "" {
		c.Backend.Kind = v
	}
	if v := os.Getenv("CODEASSIST_MODEL"); v != "" {
		c.Backend.Model = v
	}
	if v := os.Getenv("CODEASSIST_OFFLINE"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Backend.Offline = enabled
		}
	}
	if v := os.Getenv("CODEASSIST_OLLAMA_URL"); v != "" {
		c.Ollama.URL = v
	}
	if v := os.Getenv("CODEASSIST_OPENAI_URL"); v != "" {
		c.OpenAI.URL = v
	}
	if v := os.Getenv("CODEASSIST_OPENAI_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv("CODEASSIST_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("CODEASSIST_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("CODEASSIST_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "backend.model").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("'%s' is a section, not a value", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(strVal == "1" || lower == "true" || lower == "yes")
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, item := range strings.Split(strVal, ",") {
					if item = strings.TrimSpace(item); item != "" {
						items = append(items, item)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// String renders the configuration as TOML with secrets masked.
func (c *Config) String() string {
	masked := *c
	if masked.OpenAI.APIKey != "" {
		masked.OpenAI.APIKey = "****"
	}
	if masked.Server.Token != "" {
		masked.Server.Token = "****"
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(&masked); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}
