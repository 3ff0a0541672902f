// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package panel

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/codeassist/internal/backend/backendtest"
	"github.com/jeranaias/codeassist/internal/relay"
	"github.com/jeranaias/codeassist/internal/surface"
)

func openPanel(t *testing.T, b *backendtest.Backend, opts ...Option) (*surface.Pipe, *Controller) {
	t.Helper()
	p := surface.NewPipe("test-panel", 32)
	c := Open(p, relay.New(b), zerolog.Nop(), opts...)
	t.Cleanup(func() {
		p.Close()
		c.Close()
	})
	return p, c
}

func next(t *testing.T, p *surface.Pipe) surface.Message {
	t.Helper()
	select {
	case m := <-p.Outbound():
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for panel message")
		return surface.Message{}
	}
}

func untilDone(t *testing.T, p *surface.Pipe) []surface.Message {
	t.Helper()
	var out []surface.Message
	for {
		m := next(t, p)
		out = append(out, m)
		if m.Done {
			return out
		}
	}
}

func assertQuiet(t *testing.T, p *surface.Pipe) {
	t.Helper()
	select {
	case m := <-p.Outbound():
		t.Fatalf("unexpected message %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

// =============================================================================
// CONTROLLER TESTS
// =============================================================================

func TestController_StreamsCumulativeResponses(t *testing.T) {
	b := backendtest.New("Hel", "lo")
	p, _ := openPanel(t, b)

	require.NoError(t, p.Deliver(surface.Message{Command: surface.CommandChat, Text: "hi"}))
	msgs := untilDone(t, p)

	require.Len(t, msgs, 3)
	texts := []string{msgs[0].Text, msgs[1].Text, msgs[2].Text}
	assert.Equal(t, []string{"Hel", "Hello", "Hello"}, texts)
	for _, m := range msgs {
		assert.Equal(t, surface.CommandChatResponse, m.Command)
		assert.Equal(t, msgs[0].RequestID, m.RequestID)
	}
	assert.Empty(t, msgs[2].Error)
	assert.Equal(t, []string{"hi"}, b.Prompts())
}

func TestController_NormalizesPrompt(t *testing.T) {
	b := backendtest.New("ok")
	p, _ := openPanel(t, b)

	require.NoError(t, p.Deliver(surface.Message{Command: surface.CommandChat, Text: "cafe\u0301"}))
	untilDone(t, p)
	assert.Equal(t, []string{"caf\u00e9"}, b.Prompts())
}

func TestController_FailureKeepsPartialText(t *testing.T) {
	b := backendtest.New("par", "tial")
	b.Err = errors.New("connection reset")
	p, _ := openPanel(t, b)

	require.NoError(t, p.Deliver(surface.Message{Command: surface.CommandChat, Text: "go"}))
	msgs := untilDone(t, p)

	last := msgs[len(msgs)-1]
	assert.Equal(t, "partial", last.Text)
	assert.Contains(t, last.Error, "connection reset")
}

func TestController_LegacyErrorText(t *testing.T) {
	b := backendtest.New("par")
	b.Err = errors.New("boom")
	p, _ := openPanel(t, b, WithLegacyErrorText(true))

	require.NoError(t, p.Deliver(surface.Message{Command: surface.CommandChat, Text: "go"}))
	msgs := untilDone(t, p)

	require.Len(t, msgs, 2)
	assert.Equal(t, "par", msgs[0].Text)
	assert.True(t, strings.HasPrefix(msgs[1].Text, "Error: "), "got %q", msgs[1].Text)
	assert.Contains(t, msgs[1].Text, "boom")
	assert.Empty(t, msgs[1].Error)
}

func TestController_EmptyPrompt(t *testing.T) {
	b := backendtest.New("never")
	p, _ := openPanel(t, b)

	require.NoError(t, p.Deliver(surface.Message{Command: surface.CommandChat, Text: "   "}))
	m := next(t, p)

	assert.True(t, m.Done)
	assert.Equal(t, relay.ErrInvalidRequest.Error(), m.Error)
	assert.Empty(t, b.Requests())
}

func TestController_BusyRejection(t *testing.T) {
	b := backendtest.New("one", "two")
	b.Gate = make(chan struct{})
	p, _ := openPanel(t, b)

	require.NoError(t, p.Deliver(surface.Message{Command: surface.CommandChat, Text: "first"}))
	require.NoError(t, p.Deliver(surface.Message{Command: surface.CommandChat, Text: "second"}))

	rejected := next(t, p)
	assert.True(t, rejected.Done)
	assert.Equal(t, relay.ErrBusy.Error(), rejected.Error)
	assert.Empty(t, rejected.Text)

	close(b.Gate)
	msgs := untilDone(t, p)
	assert.Equal(t, "onetwo", msgs[len(msgs)-1].Text)
	assert.NotEqual(t, rejected.RequestID, msgs[0].RequestID)
	assert.Equal(t, []string{"first"}, b.Prompts())
}

func TestController_Cancel(t *testing.T) {
	b := backendtest.New("a", "b", "c")
	b.Gate = make(chan struct{})
	p, _ := openPanel(t, b)

	require.NoError(t, p.Deliver(surface.Message{Command: surface.CommandChat, Text: "go"}))
	b.Gate <- struct{}{}
	first := next(t, p)
	assert.Equal(t, "a", first.Text)

	require.NoError(t, p.Deliver(surface.Message{Command: surface.CommandCancel}))
	ack := next(t, p)
	assert.True(t, ack.Done)
	assert.Equal(t, first.RequestID, ack.RequestID)
	assert.Equal(t, "a", ack.Text)
	assert.Equal(t, relay.ErrCanceled.Error(), ack.Error)

	assertQuiet(t, p)

	// The panel is free for the next prompt.
	close(b.Gate)
	require.NoError(t, p.Deliver(surface.Message{Command: surface.CommandChat, Text: "again"}))
	msgs := untilDone(t, p)
	assert.Equal(t, "abc", msgs[len(msgs)-1].Text)
}

func TestController_RepeatedCancelKeepsBoundedState(t *testing.T) {
	b := backendtest.New("a", "b")
	b.Gate = make(chan struct{})
	p, c := openPanel(t, b)

	var ids []string
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Deliver(surface.Message{Command: surface.CommandChat, Text: "go"}))
		b.Gate <- struct{}{}
		first := next(t, p)
		require.NoError(t, p.Deliver(surface.Message{Command: surface.CommandCancel}))
		ack := next(t, p)
		require.True(t, ack.Done)
		assert.Equal(t, first.RequestID, ack.RequestID)
		ids = append(ids, ack.RequestID)
		// The detached stream must release the gate before the next round.
		c.relay.Wait()
	}
	assertQuiet(t, p)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.last)
	assert.Equal(t, ids[len(ids)-1], c.canceled)
}

func TestController_CancelIdle(t *testing.T) {
	p, _ := openPanel(t, backendtest.New("x"))
	require.NoError(t, p.Deliver(surface.Message{Command: surface.CommandCancel}))
	assertQuiet(t, p)
}

func TestController_UnknownCommandIgnored(t *testing.T) {
	b := backendtest.New("x")
	p, _ := openPanel(t, b)

	require.NoError(t, p.Deliver(surface.Message{Command: "explode", Text: "x"}))
	assertQuiet(t, p)
	assert.Empty(t, b.Requests())
}

func TestController_SurfaceCloseTearsDown(t *testing.T) {
	b := backendtest.New("x")
	b.Gate = make(chan struct{})
	p, c := openPanel(t, b)

	require.NoError(t, p.Deliver(surface.Message{Command: surface.CommandChat, Text: "go"}))
	p.Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not close with its surface")
	}
}

// =============================================================================
// HTML TESTS
// =============================================================================

func TestHTML_Defaults(t *testing.T) {
	page, err := HTML(HTMLOptions{})
	require.NoError(t, err)

	assert.Contains(t, page, "<title>DeepSeek Chat</title>")
	assert.Contains(t, page, "<h2>DeepSeek Chat</h2>")
	assert.Contains(t, page, `placeholder="Ask DeepSeek R1..."`)
	assert.Contains(t, page, `<button id="askBtn">Ask</button>`)
	assert.Contains(t, page, `<div id="response"></div>`)
	assert.Contains(t, page, `const transport = "vscode"`)
	assert.Contains(t, page, "acquireVsCodeApi()")
	assert.Contains(t, page, "command: 'chat', text: prompt.value")
	assert.NotContains(t, page, "Content-Security-Policy")
}

func TestHTML_WebSocketWithNonce(t *testing.T) {
	page, err := HTML(HTMLOptions{
		Transport:     TransportWebSocket,
		WebSocketPath: "/ws",
		Nonce:         "abc123",
		Heading:       "Code <Assist>",
	})
	require.NoError(t, err)

	assert.Contains(t, page, `const transport = "websocket"`)
	assert.Contains(t, page, "new WebSocket(url)")
	assert.Contains(t, page, "script-src 'nonce-abc123'")
	assert.Contains(t, page, "connect-src 'self' ws: wss:")
	assert.Contains(t, page, `<script nonce="abc123">`)
	assert.Contains(t, page, "Code &lt;Assist&gt;", "labels are escaped")
}

func TestHTML_Deterministic(t *testing.T) {
	a, err := HTML(DefaultHTMLOptions())
	require.NoError(t, err)
	b, err := HTML(DefaultHTMLOptions())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHTML_UnknownTransport(t *testing.T) {
	_, err := HTML(HTMLOptions{Transport: "carrier-pigeon"})
	assert.Error(t, err)
}
