// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend defines the contract between the relay and a streaming
// chat-completion server.
//
// A Backend opens one Stream per request. Streams are pull-based: Next
// returns chunks in the order the server produced them and io.EOF once the
// server signals completion.
package backend

import (
	"context"
	"errors"
	"time"
)

// Roles used in Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Sentinel errors. Backend implementations make their own error types match
// these through errors.Is so callers never import a concrete backend.
var (
	// ErrUnavailable means the server could not be reached at all.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrMalformedChunk means a chunk arrived that could not be decoded.
	ErrMalformedChunk = errors.New("malformed chunk")

	// ErrServer means the server was reached but answered with an error.
	ErrServer = errors.New("server error")
)

// Message is one entry of the request conversation.
type Message struct {
	Role    string
	Content string
}

// UserMessage returns a user message with the given content.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Request is a single streaming completion call.
type Request struct {
	Model    string
	Messages []Message
}

// Chunk is one incremental fragment of generated text.
type Chunk struct {
	Content string
	Model   string
}

// Stream yields chunks until io.EOF or an error.
// Close releases the underlying transport and is safe to call more than once.
type Stream interface {
	Next() (Chunk, error)
	Close() error
}

// Stats are generation statistics reported by the server at the end of a
// stream. Zero values mean the server did not report them.
type Stats struct {
	TTFT             time.Duration
	LoadDuration     time.Duration
	PromptTokens     int
	CompletionTokens int
	TokensPerSecond  float64
}

// StatsReporter is implemented by streams that collect Stats. Stats is
// complete only after Next returned io.EOF.
type StatsReporter interface {
	Stats() Stats
}

// Backend opens streaming completions.
type Backend interface {
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
}
