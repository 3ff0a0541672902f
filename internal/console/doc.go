// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package console relays prompts from a plain terminal or a pipe.
//
// Ask answers one prompt. Chat reads one prompt per line, with liner
// editing and history when stdin is a terminal. Both print only the text
// appended by each update, so output streams like the model produces it.
package console
