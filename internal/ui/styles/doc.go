// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles holds the palette and lipgloss styles of the terminal chat
// panel. All colors are lipgloss.AdaptiveColor so light and dark terminals
// both stay readable.
package styles
