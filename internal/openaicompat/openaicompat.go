// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package openaicompat streams chat completions from any server that speaks
// the OpenAI chat-completions protocol, including Ollama's /v1 endpoint.
package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/jeranaias/codeassist/internal/backend"
)

// DefaultBaseURL is Ollama's OpenAI-compatible endpoint.
const DefaultBaseURL = "http://127.0.0.1:11434/v1/"

// Config configures the backend.
type Config struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
}

// Backend implements backend.Backend over /chat/completions with stream set.
type Backend struct {
	client *openai.Client
	model  string
}

var _ backend.Backend = (*Backend)(nil)

// New creates a backend. Retries are disabled: a failed request is reported
// once and never replayed.
func New(cfg Config) *Backend {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	opts := []option.RequestOption{
		option.WithBaseURL(base),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	client := openai.NewClient(opts...)
	return &Backend{client: &client, model: cfg.DefaultModel}
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "openai"
}

// Stream opens a streaming completion. The first server event is read before
// returning so that connection and status failures surface here rather than
// from the first Next.
func (b *Backend) Stream(ctx context.Context, req backend.Request) (backend.Stream, error) {
	model := req.Model
	if model == "" {
		model = b.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case backend.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case backend.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	sse := b.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	})

	s := &stream{sse: sse}
	s.primed = sse.Next()
	if !s.primed {
		if err := sse.Err(); err != nil {
			sse.Close()
			return nil, openError(err)
		}
	}
	return s, nil
}

// errTruncated reports a body that ended before any choice finished.
var errTruncated = fmt.Errorf("stream ended before completion: %w", io.ErrUnexpectedEOF)

// stream adapts an ssestream to backend.Stream.
//
// ssestream swallows the [DONE] event, so completion is judged by a
// finish_reason on the last choice. A body that ends without one was cut.
type stream struct {
	sse      *ssestream.Stream[openai.ChatCompletionChunk]
	primed   bool
	ended    bool
	finished bool
	once     sync.Once
}

func (s *stream) Next() (backend.Chunk, error) {
	for {
		if s.ended {
			return backend.Chunk{}, io.EOF
		}

		var ok bool
		if s.primed {
			ok, s.primed = true, false
		} else {
			ok = s.sse.Next()
		}
		if !ok {
			s.ended = true
			if err := s.sse.Err(); err != nil {
				return backend.Chunk{}, streamError(err)
			}
			if !s.finished {
				return backend.Chunk{}, errTruncated
			}
			return backend.Chunk{}, io.EOF
		}

		chunk := s.sse.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			s.finished = true
		}
		if choice.Delta.Content == "" {
			continue
		}
		return backend.Chunk{Content: chunk.Choices[0].Delta.Content, Model: chunk.Model}, nil
	}
}

func (s *stream) Close() error {
	var err error
	s.once.Do(func() { err = s.sse.Close() })
	return err
}

// openError maps a failure to establish the stream onto backend sentinels.
func openError(err error) error {
	var apiErr *openai.Error
	switch {
	case errors.As(err, &apiErr):
		return fmt.Errorf("%w: %w", backend.ErrServer, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %w", backend.ErrUnavailable, err)
	}
	return streamError(err)
}

// streamError maps a failure after the stream was established.
func streamError(err error) error {
	var (
		apiErr    *openai.Error
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &apiErr):
		return fmt.Errorf("%w: %w", backend.ErrServer, err)
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return fmt.Errorf("%w: %w", backend.ErrMalformedChunk, err)
	// ssestream (openai-go v1.12.0) reports an in-band {"error":...} event
	// as an unwrapped fmt error with this prefix.
	case strings.HasPrefix(err.Error(), "received error while streaming"):
		return fmt.Errorf("%w: %w", backend.ErrServer, err)
	}
	return err
}
