// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/codeassist/internal/backend"
)

func chunkEvent(content string) string {
	return fmt.Sprintf(`data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"deepseek-coder-v2:latest","choices":[{"index":0,"delta":{"role":"assistant","content":%q},"finish_reason":null}]}`, content) + "\n\n"
}

const (
	finishEvent = `data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"deepseek-coder-v2:latest","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}` + "\n\n"
	doneEvent   = "data: [DONE]\n\n"
)

type capturedRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func sseServer(t *testing.T, body string, got *capturedRequest, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collect(t *testing.T, s backend.Stream) ([]string, error) {
	t.Helper()
	var parts []string
	for {
		c, err := s.Next()
		if errors.Is(err, io.EOF) {
			return parts, nil
		}
		if err != nil {
			return parts, err
		}
		parts = append(parts, c.Content)
	}
}

func TestStream_Deltas(t *testing.T) {
	var req capturedRequest
	srv := sseServer(t, chunkEvent("Hel")+chunkEvent("")+chunkEvent("lo")+finishEvent+doneEvent, &req, nil)

	b := New(Config{BaseURL: srv.URL + "/v1", DefaultModel: "deepseek-coder-v2:latest"})
	assert.Equal(t, "openai", b.Name())

	s, err := b.Stream(context.Background(), backend.Request{
		Messages: []backend.Message{backend.UserMessage("hi")},
	})
	require.NoError(t, err)
	defer s.Close()

	parts, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, parts)

	assert.Equal(t, "deepseek-coder-v2:latest", req.Model)
	assert.True(t, req.Stream)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Equal(t, "hi", req.Messages[0].Content)

	// Further calls keep reporting the end.
	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, s.Close())
}

func TestStream_TruncatedBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"no finish and no done", chunkEvent("Hel") + chunkEvent("lo"), []string{"Hel", "lo"}},
		{"done without finish", chunkEvent("Hel") + doneEvent, []string{"Hel"}},
		{"empty body", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := sseServer(t, tt.body, nil, nil)

			b := New(Config{BaseURL: srv.URL + "/v1/"})
			s, err := b.Stream(context.Background(), backend.Request{Messages: []backend.Message{backend.UserMessage("x")}})
			require.NoError(t, err)
			defer s.Close()

			parts, err := collect(t, s)
			assert.Equal(t, tt.want, parts)
			require.Error(t, err)
			assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
			assert.NotErrorIs(t, err, io.EOF)
		})
	}
}

func TestStream_FinishWithoutDone(t *testing.T) {
	srv := sseServer(t, chunkEvent("ok")+finishEvent, nil, nil)

	b := New(Config{BaseURL: srv.URL + "/v1/"})
	s, err := b.Stream(context.Background(), backend.Request{Messages: []backend.Message{backend.UserMessage("x")}})
	require.NoError(t, err)
	defer s.Close()

	parts, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, parts)
}

func TestStream_InBandError(t *testing.T) {
	srv := sseServer(t, chunkEvent("ok")+`data: {"error":{"message":"out of memory"}}`+"\n\n", nil, nil)

	b := New(Config{BaseURL: srv.URL + "/v1/"})
	s, err := b.Stream(context.Background(), backend.Request{Messages: []backend.Message{backend.UserMessage("x")}})
	require.NoError(t, err)
	defer s.Close()

	parts, err := collect(t, s)
	assert.Equal(t, []string{"ok"}, parts)
	assert.ErrorIs(t, err, backend.ErrServer)
}

func TestStream_ServerErrorStatusNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"message":"model crashed","type":"api_error"}}`)
	}))
	defer srv.Close()

	b := New(Config{BaseURL: srv.URL + "/v1/"})
	s, err := b.Stream(context.Background(), backend.Request{Messages: []backend.Message{backend.UserMessage("x")}})

	assert.Nil(t, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrServer)
	assert.Equal(t, int32(1), hits.Load(), "no retries")
}

func TestStream_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	b := New(Config{BaseURL: url + "/v1/"})
	_, err := b.Stream(context.Background(), backend.Request{Messages: []backend.Message{backend.UserMessage("x")}})

	assert.ErrorIs(t, err, backend.ErrUnavailable)
}

func TestStream_MalformedEvent(t *testing.T) {
	srv := sseServer(t, chunkEvent("ok")+"data: {broken\n\n"+doneEvent, nil, nil)

	b := New(Config{BaseURL: srv.URL + "/v1/"})
	s, err := b.Stream(context.Background(), backend.Request{Messages: []backend.Message{backend.UserMessage("x")}})
	require.NoError(t, err)
	defer s.Close()

	parts, err := collect(t, s)
	assert.Equal(t, []string{"ok"}, parts)
	assert.ErrorIs(t, err, backend.ErrMalformedChunk)
}

func TestStream_CanceledContext(t *testing.T) {
	srv := sseServer(t, doneEvent, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := New(Config{BaseURL: srv.URL + "/v1/"})
	_, err := b.Stream(ctx, backend.Request{Messages: []backend.Message{backend.UserMessage("x")}})
	assert.ErrorIs(t, err, context.Canceled)
}
