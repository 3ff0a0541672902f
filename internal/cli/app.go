// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/codeassist/internal/backend"
	"github.com/jeranaias/codeassist/internal/config"
	"github.com/jeranaias/codeassist/internal/logging"
	"github.com/jeranaias/codeassist/internal/ollama"
	"github.com/jeranaias/codeassist/internal/openaicompat"
	"github.com/jeranaias/codeassist/internal/relay"
)

// resolveConfigPath returns the --config path or the default location.
func (o *rootOptions) resolveConfigPath() (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	return config.ConfigPath()
}

// loadConfig loads the config file (defaults when it does not exist),
// applies environment and flag overrides and validates the result.
func (o *rootOptions) loadConfig() (*config.Config, string, error) {
	path, err := o.resolveConfigPath()
	if err != nil {
		return nil, "", err
	}

	var cfg *config.Config
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		if o.configPath != "" {
			return nil, "", fmt.Errorf("config file not found: %s", path)
		}
		cfg = config.Default()
		cfg.ApplyEnvOverrides()
	} else {
		cfg, err = config.LoadFromPath(path)
		if err != nil {
			return nil, "", err
		}
	}

	o.applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	return cfg, path, nil
}

// applyOverrides applies the persistent flags, which win over the file and
// the environment.
func (o *rootOptions) applyOverrides(cfg *config.Config) {
	if o.backend != "" {
		cfg.Backend.Kind = o.backend
	}
	if o.model != "" {
		cfg.Backend.Model = o.model
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.offline {
		cfg.Backend.Offline = true
	}
}

// newBackend builds the configured model server client.
func newBackend(cfg *config.Config) (backend.Backend, error) {
	switch strings.ToLower(cfg.Backend.Kind) {
	case "ollama", "":
		return ollama.NewClientWithConfig(&ollama.ClientConfig{
			BaseURL:      cfg.Ollama.URL,
			Timeout:      time.Duration(cfg.Ollama.TimeoutSecs) * time.Second,
			DefaultModel: cfg.Backend.Model,
		}), nil
	case "openai":
		return openaicompat.New(openaicompat.Config{
			BaseURL:      cfg.OpenAI.URL,
			APIKey:       cfg.OpenAI.APIKey,
			DefaultModel: cfg.Backend.Model,
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend.Kind)
	}
}

// relayOptions translates the config into relay options.
func relayOptions(cfg *config.Config, log zerolog.Logger) []relay.Option {
	opts := []relay.Option{
		relay.WithModel(cfg.Backend.Model),
		relay.WithLogger(logging.Component(log, "relay")),
	}
	if cfg.Relay.TimeoutSecs > 0 {
		opts = append(opts, relay.WithTimeout(time.Duration(cfg.Relay.TimeoutSecs)*time.Second))
	}
	return opts
}

// newRelay builds a relay over the configured backend.
func newRelay(cfg *config.Config, log zerolog.Logger) (*relay.Relay, error) {
	b, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	return relay.New(b, relayOptions(cfg, log)...), nil
}

// logConfig returns the logger settings for stderr output.
func logConfig(cfg *config.Config) logging.Config {
	return logging.Config{
		Level:   cfg.Log.Level,
		Pretty:  cfg.Log.Pretty,
		NoColor: !ColorsEnabled(),
		Output:  os.Stderr,
	}
}

// newLogger creates the stderr logger for line-mode commands.
func newLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(logConfig(cfg))
}

// dataFile returns configured when set, name in the config directory
// otherwise.
func dataFile(configured, name string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	return config.DataPath(name)
}
