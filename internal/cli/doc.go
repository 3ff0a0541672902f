// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the codeassist command line.
//
// Commands:
//   - (none), tui   terminal chat panel
//   - serve         web panel over HTTP and WebSocket
//   - ask           one answer streamed to stdout
//   - chat          line-by-line conversation
//   - models        installed Ollama models
//   - html          the panel page for editor webviews
//   - config        show, path, init, get, set
//   - version
//
// Settings come from the TOML config file, then CODEASSIST_* environment
// variables, then the --backend, --model and --log-level flags.
package cli
