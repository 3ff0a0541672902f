// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package panel hosts the chat panel: the HTML page shown in a surface and
// the Controller that turns panel commands into relay sessions and relay
// updates into chatResponse messages.
//
// One Controller serves one surface. "chat" starts a session, "cancel"
// detaches the active one and acknowledges it with a final message, and
// unknown commands are logged and ignored.
package panel
