// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/codeassist/internal/backend"
)

// =============================================================================
// HELPERS
// =============================================================================

func contentLine(text string) string {
	return fmt.Sprintf(`{"model":"deepseek-coder-v2:latest","message":{"role":"assistant","content":%q},"done":false}`, text) + "\n"
}

const doneLine = `{"model":"deepseek-coder-v2:latest","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","eval_count":2,"eval_duration":1000000000}` + "\n"

// ndjsonServer serves body for /api/chat and records the decoded request.
func ndjsonServer(t *testing.T, body string, got *ChatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func drain(t *testing.T, s backend.Stream) ([]string, error) {
	t.Helper()
	var parts []string
	for {
		chunk, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return parts, nil
			}
			return parts, err
		}
		parts = append(parts, chunk.Content)
	}
}

// =============================================================================
// STREAM TESTS
// =============================================================================

func TestStream_YieldsChunksInOrder(t *testing.T) {
	var req ChatRequest
	srv := ndjsonServer(t, contentLine("Hel")+contentLine("lo")+doneLine, &req)

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	stream, err := client.Stream(context.Background(), backend.Request{
		Messages: []backend.Message{backend.UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	parts, err := drain(t, stream)
	if err != nil {
		t.Fatalf("drain error = %v", err)
	}
	if strings.Join(parts, "|") != "Hel|lo" {
		t.Errorf("chunks = %q, want [Hel lo]", parts)
	}

	if req.Model != DefaultModel {
		t.Errorf("request model = %q, want default %q", req.Model, DefaultModel)
	}
	if !req.Stream {
		t.Error("request must set stream")
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" || req.Messages[0].Content != "hi" {
		t.Errorf("request messages = %+v", req.Messages)
	}

	reporter, ok := stream.(backend.StatsReporter)
	if !ok {
		t.Fatal("ollama streams must report stats")
	}
	stats := reporter.Stats()
	if stats.CompletionTokens != 2 {
		t.Errorf("CompletionTokens = %d, want 2", stats.CompletionTokens)
	}
	if stats.TokensPerSecond != 2 {
		t.Errorf("TokensPerSecond = %v, want 2", stats.TokensPerSecond)
	}
	if stats.TTFT < 0 {
		t.Errorf("TTFT = %v, want >= 0", stats.TTFT)
	}
}

func TestStream_ExplicitModel(t *testing.T) {
	var req ChatRequest
	srv := ndjsonServer(t, doneLine, &req)

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL + "/"})
	stream, err := client.Stream(context.Background(), backend.Request{
		Model:    "qwen2.5-coder:7b",
		Messages: []backend.Message{backend.UserMessage("x")},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	stream.Close()

	if req.Model != "qwen2.5-coder:7b" {
		t.Errorf("model = %q", req.Model)
	}
}

func TestStream_MalformedLineFails(t *testing.T) {
	srv := ndjsonServer(t, contentLine("ok")+"{not json\n"+contentLine("never")+doneLine, nil)

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	stream, err := client.Stream(context.Background(), backend.Request{Messages: []backend.Message{backend.UserMessage("x")}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	parts, err := drain(t, stream)
	if len(parts) != 1 || parts[0] != "ok" {
		t.Errorf("chunks before failure = %q", parts)
	}
	if !errors.Is(err, backend.ErrMalformedChunk) {
		t.Fatalf("error = %v, want ErrMalformedChunk", err)
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error %q should name the line", err)
	}
}

func TestStream_ErrorLine(t *testing.T) {
	srv := ndjsonServer(t, contentLine("a")+`{"error":"model ran out of memory"}`+"\n", nil)

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	stream, err := client.Stream(context.Background(), backend.Request{Messages: []backend.Message{backend.UserMessage("x")}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	_, err = drain(t, stream)
	if !errors.Is(err, backend.ErrServer) {
		t.Fatalf("error = %v, want ErrServer", err)
	}
	if err.Error() != "model ran out of memory" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestStream_TruncatedBody(t *testing.T) {
	srv := ndjsonServer(t, contentLine("part"), nil)

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	stream, err := client.Stream(context.Background(), backend.Request{Messages: []backend.Message{backend.UserMessage("x")}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	parts, err := drain(t, stream)
	if len(parts) != 1 {
		t.Errorf("chunks = %q", parts)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("error = %v, want unexpected EOF", err)
	}
}

func TestStream_LastLineWithoutNewline(t *testing.T) {
	body := contentLine("x") + strings.TrimSuffix(doneLine, "\n")
	srv := ndjsonServer(t, body, nil)

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	stream, err := client.Stream(context.Background(), backend.Request{Messages: []backend.Message{backend.UserMessage("x")}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	if _, err := drain(t, stream); err != nil {
		t.Errorf("drain error = %v", err)
	}
}

func TestStream_BlankLinesSkipped(t *testing.T) {
	srv := ndjsonServer(t, "\n"+contentLine("a")+"\n\n"+contentLine("b")+doneLine, nil)

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	stream, err := client.Stream(context.Background(), backend.Request{Messages: []backend.Message{backend.UserMessage("x")}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	parts, err := drain(t, stream)
	if err != nil || strings.Join(parts, "") != "ab" {
		t.Errorf("parts = %q, err = %v", parts, err)
	}
}

func TestStream_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, contentLine("first"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	stream, err := client.Stream(ctx, backend.Request{Messages: []backend.Message{backend.UserMessage("x")}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	if chunk, err := stream.Next(); err != nil || chunk.Content != "first" {
		t.Fatalf("first Next() = %q, %v", chunk.Content, err)
	}

	cancel()
	_, err = stream.Next()
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error after cancel = %v, want context.Canceled", err)
	}
}

// =============================================================================
// ERROR MAPPING TESTS
// =============================================================================

func TestStream_StatusErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType ErrorType
		wantMsg  string
	}{
		{"model not found", http.StatusNotFound, `{"error":"model \"nope\" not found, try pulling it first"}`, ErrTypeModelNotFound, "try pulling"},
		{"not found no body", http.StatusNotFound, ``, ErrTypeModelNotFound, "model not found: nope"},
		{"server error", http.StatusInternalServerError, `{"error":"llama runner crashed"}`, ErrTypeBackend, "llama runner crashed"},
		{"bad gateway", http.StatusBadGateway, `oops`, ErrTypeBackend, "502"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
			stream, err := client.Stream(context.Background(), backend.Request{
				Model:    "nope",
				Messages: []backend.Message{backend.UserMessage("x")},
			})
			if stream != nil {
				t.Error("stream should be nil on error")
			}

			var cerr *ClientError
			if !errors.As(err, &cerr) {
				t.Fatalf("error = %v, want *ClientError", err)
			}
			if cerr.Type != tc.wantType {
				t.Errorf("Type = %v, want %v", cerr.Type, tc.wantType)
			}
			if !strings.Contains(cerr.Error(), tc.wantMsg) {
				t.Errorf("message %q does not contain %q", cerr.Error(), tc.wantMsg)
			}
			if !errors.Is(err, backend.ErrServer) {
				t.Error("status errors should match backend.ErrServer")
			}
		})
	}
}

func TestStream_NotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: url})
	_, err := client.Stream(context.Background(), backend.Request{Messages: []backend.Message{backend.UserMessage("x")}})

	if !errors.Is(err, backend.ErrUnavailable) {
		t.Errorf("error = %v, want backend.ErrUnavailable", err)
	}
	if !IsNotRunning(err) {
		t.Error("IsNotRunning should be true")
	}
	if IsTimeout(err) || IsModelNotFound(err) {
		t.Error("unrelated predicates should be false")
	}
}

func TestClientError_Is(t *testing.T) {
	err := &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: context.DeadlineExceeded}

	if !errors.Is(err, ErrTimeout) {
		t.Error("should match ErrTimeout sentinel")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("should unwrap to cause")
	}
	if errors.Is(err, backend.ErrUnavailable) {
		t.Error("timeout is not unavailable")
	}
}

// =============================================================================
// HEALTH AND MODEL TESTS
// =============================================================================

func TestCheckRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "Ollama is running")
	}))
	defer srv.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	if err := client.CheckRunning(context.Background()); err != nil {
		t.Errorf("CheckRunning() error = %v", err)
	}
}

func TestCheckRunning_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	if err := client.CheckRunning(ctx); !IsTimeout(err) {
		t.Errorf("CheckRunning() error = %v, want timeout", err)
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"models":[
			{"name":"deepseek-coder-v2:latest","size":8900000000,"details":{"family":"deepseek2","parameter_size":"15.7B"}},
			{"name":"qwen2.5-coder:7b","size":4700000000}
		]}`)
	}))
	defer srv.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("len(models) = %d, want 2", len(models))
	}
	if models[0].Name != "deepseek-coder-v2:latest" || models[0].Details.ParameterSize != "15.7B" {
		t.Errorf("models[0] = %+v", models[0])
	}
	if got := models[0].FormatSize(); got != "8.9 GB" {
		t.Errorf("FormatSize() = %q, want 8.9 GB", got)
	}
}

func TestModelInfo_FormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{0, "0 B"},
		{-1, "0 B"},
		{512, "512 B"},
		{4700000000, "4.7 GB"},
	}
	for _, tc := range tests {
		if got := (ModelInfo{Size: tc.size}).FormatSize(); got != tc.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tc.size, got, tc.want)
		}
	}
}

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestNewClientWithConfig_Defaults(t *testing.T) {
	client := NewClientWithConfig(nil)
	if client.BaseURL() != DefaultBaseURL {
		t.Errorf("BaseURL() = %q", client.BaseURL())
	}
	if client.DefaultModel() != "deepseek-coder-v2:latest" {
		t.Errorf("DefaultModel() = %q", client.DefaultModel())
	}
	if client.Name() != "ollama" {
		t.Errorf("Name() = %q", client.Name())
	}

	client = NewClientWithConfig(&ClientConfig{DefaultModel: "codellama"})
	if client.DefaultModel() != "codellama" || client.BaseURL() != DefaultBaseURL {
		t.Errorf("partial config not merged with defaults")
	}
}
