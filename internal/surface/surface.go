// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package surface abstracts the UI panel a host embeds the assistant in.
//
// A host (an editor webview, a WebSocket client, a terminal program) hands
// out Surfaces. Each Surface exchanges JSON-shaped Messages in both
// directions: the panel posts "chat" and "cancel" commands, the assistant
// posts "chatResponse" messages carrying the cumulative response text.
package surface

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Commands carried in Message.Command.
const (
	// CommandChat submits Text as a prompt. Panel to assistant.
	CommandChat = "chat"

	// CommandCancel detaches the response in progress. Panel to assistant.
	CommandCancel = "cancel"

	// CommandChatResponse carries the full response text so far.
	// Assistant to panel, sent repeatedly until Done.
	CommandChatResponse = "chatResponse"
)

// ErrClosed is returned by PostMessage after the surface has closed.
var ErrClosed = errors.New("surface closed")

// Message is the envelope exchanged with a panel.
type Message struct {
	Command   string `json:"command"`
	Text      string `json:"text"`
	RequestID string `json:"requestId,omitempty"`
	Done      bool   `json:"done,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Surface is one open panel.
//
// PostMessage must be safe for concurrent use. Handlers registered with
// OnMessage are called one at a time, in arrival order.
type Surface interface {
	ID() string
	PostMessage(ctx context.Context, msg Message) error
	OnMessage(handler func(Message))
	Closed() <-chan struct{}
}

// Host creates surfaces on request.
type Host interface {
	RegisterSurface(id string) (Surface, error)
}

// Normalize prepares an inbound message for the assistant: the command is
// trimmed and the text converted to Unicode NFC so that composed and
// decomposed input reach the model identically.
func Normalize(msg Message) Message {
	msg.Command = strings.TrimSpace(msg.Command)
	if !norm.NFC.IsNormalString(msg.Text) {
		msg.Text = norm.NFC.String(msg.Text)
	}
	return msg
}

// Response builds an outbound chatResponse message.
func Response(requestID, text string, done bool, errMsg string) Message {
	return Message{
		Command:   CommandChatResponse,
		Text:      text,
		RequestID: requestID,
		Done:      done,
		Error:     errMsg,
	}
}
