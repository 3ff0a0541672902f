// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server hosts the chat panel over HTTP.
//
// Endpoints:
//   - GET /        - the panel page, wired for the WebSocket transport
//   - GET /ws      - WebSocket panel connection
//   - GET /health  - backend reachability
//   - GET /models  - installed models (Ollama backend only)
//
// Each WebSocket connection is registered as a surface with its own panel
// controller and relay, so two browser tabs never share a session. Every
// route sits behind recovery, security headers, request logging, per-IP
// rate limiting and, when a token is configured, bearer authentication.
// The token may also be passed as ?token= because browsers cannot set
// headers on a WebSocket handshake.
//
// Usage:
//
//	srv := server.New(server.Config{Port: 8787}, client, log, relay.WithModel(model))
//	go srv.ListenAndServe()
//	defer srv.Shutdown(ctx)
package server
