// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jeranaias/codeassist/internal/backend"
)

// maxLineSize bounds a single NDJSON line. Ollama sends one token per line,
// so anything near this is a broken stream.
const maxLineSize = 1 << 20

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader decodes the newline-delimited JSON body of a streaming
// /api/chat response. It implements backend.Stream.
//
// Unlike a lenient reader, a line that does not decode is reported as a
// malformed chunk and ends the stream. A body that ends without a done:true
// line is reported as a truncated stream.
type StreamReader struct {
	ctx    context.Context
	body   io.ReadCloser
	reader *bufio.Reader

	line  int
	model string
	done  bool

	start      time.Time
	firstToken time.Time
	stats      backend.Stats

	closeOnce sync.Once
}

var (
	_ backend.Stream        = (*StreamReader)(nil)
	_ backend.StatsReporter = (*StreamReader)(nil)
)

// NewStreamReader creates a stream reader over a response body.
func NewStreamReader(ctx context.Context, body io.ReadCloser) *StreamReader {
	return &StreamReader{
		ctx:    ctx,
		body:   body,
		reader: bufio.NewReader(body),
		start:  time.Now(),
	}
}

// Next returns the next chunk with content, or io.EOF after the done line.
func (s *StreamReader) Next() (backend.Chunk, error) {
	for {
		if s.done {
			return backend.Chunk{}, io.EOF
		}

		line, err := s.readLine()
		if err != nil {
			return backend.Chunk{}, err
		}
		if line == nil {
			continue
		}

		if line.Done {
			s.done = true
			s.finalize(line)
		}
		if content := line.Message.Content; content != "" {
			return backend.Chunk{Content: content, Model: s.model}, nil
		}
	}
}

// Close releases the response body. Safe to call more than once.
func (s *StreamReader) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
	})
	return err
}

// readLine reads and parses a single line. It returns nil for blank lines.
func (s *StreamReader) readLine() (*chatStreamLine, error) {
	line, err := s.reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		line, err = s.readLongLine(line)
	}
	if err != nil && !(errors.Is(err, io.EOF) && len(bytes.TrimSpace(line)) > 0) {
		return nil, s.readError(err)
	}
	s.line++

	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}

	var response chatStreamLine
	if jerr := json.Unmarshal(line, &response); jerr != nil {
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: fmt.Sprintf("line %d", s.line),
			Cause:   fmt.Errorf("%w: %v", backend.ErrMalformedChunk, jerr),
		}
	}
	if response.Error != "" {
		return nil, &ClientError{Type: ErrTypeBackend, Message: response.Error}
	}

	if response.Model != "" {
		s.model = response.Model
	}

	if response.Message.Content != "" && s.firstToken.IsZero() {
		s.firstToken = time.Now()
		s.stats.TTFT = s.firstToken.Sub(s.start)
	}

	return &response, nil
}

// readLongLine keeps reading a line that overflowed the bufio buffer.
func (s *StreamReader) readLongLine(prefix []byte) ([]byte, error) {
	buf := append([]byte(nil), prefix...)
	for {
		more, err := s.reader.ReadSlice('\n')
		buf = append(buf, more...)
		if len(buf) > maxLineSize {
			return nil, &ClientError{
				Type:    ErrTypeInvalidResponse,
				Message: "stream line too long",
				Cause:   backend.ErrMalformedChunk,
			}
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return buf, err
		}
	}
}

// readError classifies a body read failure.
func (s *StreamReader) readError(err error) error {
	var cerr *ClientError
	if errors.As(err, &cerr) {
		return cerr
	}
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, io.EOF) {
		return &ClientError{
			Type:    ErrTypeConnection,
			Message: "stream ended before completion",
			Cause:   io.ErrUnexpectedEOF,
		}
	}
	return &ClientError{Type: ErrTypeConnection, Message: "stream read failed", Cause: err}
}

// Stats returns the timing and token counts of the stream. Counts and
// durations reported by Ollama are only set after the done line.
func (s *StreamReader) Stats() backend.Stats {
	return s.stats
}

// finalize records the statistics carried by the done line.
func (s *StreamReader) finalize(line *chatStreamLine) {
	s.stats.LoadDuration = time.Duration(line.LoadDuration)
	s.stats.PromptTokens = line.PromptEvalCount
	s.stats.CompletionTokens = line.EvalCount
	if line.EvalDuration > 0 {
		s.stats.TokensPerSecond = float64(line.EvalCount) / time.Duration(line.EvalDuration).Seconds()
	}
}
