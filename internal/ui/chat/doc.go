// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the terminal chat panel: a bubbletea program that acts as
// a surface for the panel controller.
//
// Keys:
//
//	enter      ask
//	ctrl+j     newline in the prompt
//	esc        stop the response in progress
//	pgup/pgdn  scroll the response
//	ctrl+c     quit
package chat
