// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for codeassist.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CODEASSIST_*)
//   - $XDG_CONFIG_HOME/codeassist/config.toml, or ~/.codeassist/config.toml
//   - Built-in defaults
//
// # Example File
//
//	[backend]
//	kind = "ollama"
//	model = "deepseek-coder-v2:latest"
//
//	[ollama]
//	url = "http://127.0.0.1:11434"
//
//	[server]
//	port = 8787
//	token = "change-me"
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Watch reloads the file on change, which `codeassist serve` uses to pick up
// backend changes for newly opened panels.
package config
