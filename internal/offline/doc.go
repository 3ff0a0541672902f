// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline guards offline mode, in which prompts and answers never
// leave this machine: the model server must be on a loopback address and
// the web panel may only listen on one.
//
// Scheme validation applies in every mode so a config cannot point the
// relay at file:// or other non-HTTP URLs.
package offline
