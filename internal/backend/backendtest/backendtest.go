// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backendtest provides a scripted backend.Backend for tests.
package backendtest

import (
	"context"
	"io"
	"sync"

	"github.com/jeranaias/codeassist/internal/backend"
)

// Backend replays Chunks for every request, then ends with Err (io.EOF when
// nil). When Gate is set, each Next waits for a value on it. Streams report
// Stats through backend.StatsReporter.
type Backend struct {
	Chunks  []string
	Err     error
	OpenErr error
	Gate    chan struct{}
	Stats   backend.Stats

	mu       sync.Mutex
	requests []backend.Request
}

// New returns a backend that streams chunks and completes.
func New(chunks ...string) *Backend {
	return &Backend{Chunks: chunks}
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return "scripted" }

// Stream implements backend.Backend.
func (b *Backend) Stream(ctx context.Context, req backend.Request) (backend.Stream, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	return &stream{ctx: ctx, b: b}, nil
}

// Requests returns every request received so far.
func (b *Backend) Requests() []backend.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.Request(nil), b.requests...)
}

// Prompts returns the content of the last message of every request.
func (b *Backend) Prompts() []string {
	var out []string
	for _, r := range b.Requests() {
		if n := len(r.Messages); n > 0 {
			out = append(out, r.Messages[n-1].Content)
		}
	}
	return out
}

type stream struct {
	ctx context.Context
	b   *Backend
	pos int
}

func (s *stream) Next() (backend.Chunk, error) {
	if s.b.Gate != nil {
		select {
		case <-s.b.Gate:
		case <-s.ctx.Done():
			return backend.Chunk{}, s.ctx.Err()
		}
	}
	if err := s.ctx.Err(); err != nil {
		return backend.Chunk{}, err
	}
	if s.pos < len(s.b.Chunks) {
		c := s.b.Chunks[s.pos]
		s.pos++
		return backend.Chunk{Content: c, Model: "scripted"}, nil
	}
	if s.b.Err != nil {
		return backend.Chunk{}, s.b.Err
	}
	return backend.Chunk{}, io.EOF
}

func (s *stream) Stats() backend.Stats { return s.b.Stats }

func (s *stream) Close() error { return nil }
