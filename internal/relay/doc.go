// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package relay streams one prompt at a time from a completion backend to a
// listener as cumulative text updates.
//
// # Session lifecycle
//
//	Pending -> Streaming -> Completed
//	                     -> Failed
//
// Every accepted Send ends with exactly one UpdateEvent whose Done field is
// true. Events in between carry the full text accumulated so far, so each
// value extends the previous one. On failure the terminal event keeps the
// partial text and sets Err.
//
// # Usage
//
//	r := relay.New(ollama.NewClient(), relay.WithModel("deepseek-coder-v2:latest"))
//	defer r.Close()
//
//	_, err := r.Send(ctx, "explain this diff", func(ev relay.UpdateEvent) {
//	    render(ev.Text)
//	})
//
// There are no retries. A failed session is final; the caller issues a new
// Send to try again.
package relay
