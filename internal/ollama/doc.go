// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama is the native backend for a local Ollama server.
//
// Chat requests go to POST /api/chat with stream set, and the response body
// is read as newline-delimited JSON, one object per generated fragment:
//
//	{"model":"deepseek-coder-v2:latest","message":{"role":"assistant","content":"Hel"},"done":false}
//	{"model":"deepseek-coder-v2:latest","message":{"role":"assistant","content":"lo"},"done":false}
//	{"model":"deepseek-coder-v2:latest","message":{"role":"assistant","content":""},"done":true}
//
// A line of the form {"error":"..."} ends the stream with a server error.
// Client satisfies backend.Backend, so a relay can use it directly:
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url})
//	r := relay.New(client, relay.WithModel(ollama.DefaultModel))
//
// Errors are *ClientError values. They match the package sentinels
// (ErrNotRunning, ErrTimeout, ErrModelNotFound) and the backend sentinels
// through errors.Is.
package ollama
