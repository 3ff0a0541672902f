// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package surface

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_JSONShape(t *testing.T) {
	data, err := json.Marshal(Response("r1", "Hello", true, ""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"chatResponse","text":"Hello","requestId":"r1","done":true}`, string(data))

	var in Message
	require.NoError(t, json.Unmarshal([]byte(`{"command":"chat","text":"explain this"}`), &in))
	assert.Equal(t, Message{Command: CommandChat, Text: "explain this"}, in)
}

func TestNormalize(t *testing.T) {
	decomposed := "cafe\u0301"
	msg := Normalize(Message{Command: " chat ", Text: decomposed})

	assert.Equal(t, CommandChat, msg.Command)
	assert.Equal(t, "caf\u00e9", msg.Text)

	plain := Normalize(Message{Command: CommandChat, Text: "ascii"})
	assert.Equal(t, "ascii", plain.Text)
}

func TestPipe_RoundTrip(t *testing.T) {
	p := NewPipe("panel-1", 4)
	assert.Equal(t, "panel-1", p.ID())

	var got []Message
	p.OnMessage(func(m Message) { got = append(got, m) })

	require.NoError(t, p.Deliver(Message{Command: CommandChat, Text: "cafe\u0301"}))
	require.Len(t, got, 1)
	assert.Equal(t, "caf\u00e9", got[0].Text)

	require.NoError(t, p.PostMessage(context.Background(), Response("r", "x", false, "")))
	select {
	case m := <-p.Outbound():
		assert.Equal(t, CommandChatResponse, m.Command)
	case <-time.After(time.Second):
		t.Fatal("no outbound message")
	}
}

func TestPipe_DeliverWithoutHandler(t *testing.T) {
	p := NewPipe("p", 1)
	assert.Error(t, p.Deliver(Message{Command: CommandChat}))
}

func TestPipe_Close(t *testing.T) {
	p := NewPipe("p", 0)
	p.OnMessage(func(Message) {})

	done := make(chan error, 1)
	go func() {
		done <- p.PostMessage(context.Background(), Response("r", "x", false, ""))
	}()

	p.Close()
	p.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("PostMessage did not unblock on close")
	}

	select {
	case <-p.Closed():
	default:
		t.Fatal("Closed() not signalled")
	}
	assert.ErrorIs(t, p.Deliver(Message{Command: CommandChat}), ErrClosed)
	assert.ErrorIs(t, p.PostMessage(context.Background(), Message{}), ErrClosed)
}

func TestPipe_PostMessageContext(t *testing.T) {
	p := NewPipe("p", 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.PostMessage(ctx, Message{}), context.Canceled)
}
