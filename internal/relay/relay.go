// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jeranaias/codeassist/internal/backend"
)

// Option configures a Relay.
type Option func(*Relay)

// WithModel sets the model requested from the backend. Empty lets the
// backend use its own default.
func WithModel(model string) Option {
	return func(r *Relay) { r.model = model }
}

// WithLogger sets the logger used for session lifecycle events.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Relay) { r.log = log }
}

// WithIDGenerator replaces the request ID source (uuid by default).
func WithIDGenerator(fn func() string) Option {
	return func(r *Relay) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// WithTimeout bounds the total duration of one session. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Relay) { r.timeout = d }
}

// Relay bridges one text prompt at a time to one streaming response.
//
// At most one session is active. A Send while a session is streaming is
// rejected with ErrBusy; it is never queued and never shares the active
// session's accumulator.
//
// Listeners are invoked from the relay's streaming goroutine, except for
// rejections which are delivered synchronously from Send. A listener shared
// between both paths must therefore be safe for concurrent use. Listeners
// must not call Close.
type Relay struct {
	backend backend.Backend
	model   string
	timeout time.Duration
	log     zerolog.Logger
	newID   func() string

	mu     sync.Mutex
	active *session
	closed bool
	wg     sync.WaitGroup
}

// New creates a relay that streams from b.
func New(b backend.Backend, opts ...Option) *Relay {
	r := &Relay{
		backend: b,
		log:     zerolog.Nop(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Send starts a session for prompt and returns its request ID.
//
// The returned error is non-nil only when the request is rejected before any
// backend call (empty prompt, busy, closed); onUpdate has then already been
// called once with a terminal error event. Backend and transport failures are
// never returned here, they arrive as the terminal UpdateEvent.
func (r *Relay) Send(ctx context.Context, prompt string, onUpdate func(UpdateEvent)) (string, error) {
	id := r.newID()

	if strings.TrimSpace(prompt) == "" {
		return id, reject(onUpdate, &Error{Kind: KindInvalidRequest, RequestID: id, Message: ErrInvalidRequest.Message})
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return id, reject(onUpdate, &Error{Kind: KindClosed, RequestID: id, Message: ErrClosed.Message})
	}
	if r.active != nil {
		activeID := r.active.id
		r.mu.Unlock()
		r.log.Debug().Str("request_id", id).Str("active_id", activeID).Msg("send rejected, session active")
		return id, reject(onUpdate, &Error{Kind: KindBusy, RequestID: id, Message: ErrBusy.Message})
	}

	var (
		sctx   context.Context
		cancel context.CancelFunc
	)
	if r.timeout > 0 {
		sctx, cancel = context.WithTimeout(ctx, r.timeout)
	} else {
		sctx, cancel = context.WithCancel(ctx)
	}
	s := newSession(id, prompt, onUpdate, cancel)
	r.active = s
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(sctx, s)
	return id, nil
}

// Cancel detaches the active session: no further events are delivered for it
// and its backend call is cancelled. An event already being delivered may
// still complete. Returns false when no session was active.
func (r *Relay) Cancel() bool {
	r.mu.Lock()
	s := r.active
	r.active = nil
	r.mu.Unlock()

	if s == nil {
		return false
	}
	s.detach()
	r.log.Debug().Str("request_id", s.id).Msg("session detached")
	return true
}

// Active returns the active session's request ID and status.
func (r *Relay) Active() (string, Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return "", 0, false
	}
	return r.active.id, r.active.status, true
}

// Wait blocks until every streaming goroutine has exited.
func (r *Relay) Wait() {
	r.wg.Wait()
}

// Close cancels any active session, waits for it to stop and rejects all
// later sends with ErrClosed. Safe to call more than once.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	s := r.active
	r.active = nil
	r.mu.Unlock()

	if s != nil {
		s.detach()
	}
	r.wg.Wait()
	return nil
}

func (r *Relay) run(ctx context.Context, s *session) {
	defer r.wg.Done()
	defer close(s.done)
	defer s.cancel()

	start := time.Now()
	log := r.log.With().Str("request_id", s.id).Str("backend", r.backend.Name()).Logger()
	log.Debug().Str("model", r.model).Msg("session started")

	stream, err := r.backend.Stream(ctx, backend.Request{
		Model:    r.model,
		Messages: []backend.Message{backend.UserMessage(s.prompt)},
	})
	if err != nil {
		r.fail(s, classify(s.id, err, false), log)
		return
	}
	defer stream.Close()

	r.setStatus(s, StatusStreaming)

	for {
		if s.detached.Load() {
			r.fail(s, classify(s.id, context.Canceled, true), log)
			return
		}

		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			r.finish(s, StatusCompleted)
			ev := log.Debug().Int("chars", s.text.Len()).Dur("elapsed", time.Since(start))
			if sr, ok := stream.(backend.StatsReporter); ok {
				st := sr.Stats()
				ev = ev.Dur("ttft", st.TTFT).
					Int("completion_tokens", st.CompletionTokens).
					Float64("tokens_per_second", st.TokensPerSecond)
			}
			ev.Msg("session completed")
			s.emit(true, nil)
			return
		}
		if err != nil {
			r.fail(s, classify(s.id, err, true), log)
			return
		}
		if chunk.Content == "" {
			continue
		}

		s.text.WriteString(chunk.Content)
		s.emit(false, nil)
	}
}

func (r *Relay) fail(s *session, rerr *Error, log zerolog.Logger) {
	r.finish(s, StatusFailed)
	if rerr.Kind == KindCanceled {
		log.Debug().Int("chars", s.text.Len()).Msg("session canceled")
	} else {
		log.Warn().Err(rerr).Str("kind", rerr.Kind.String()).Int("chars", s.text.Len()).Msg("session failed")
	}
	s.emit(true, rerr)
}

// finish records the terminal status and frees the relay for the next send
// before the terminal event goes out.
func (r *Relay) finish(s *session, status Status) {
	r.mu.Lock()
	s.status = status
	if r.active == s {
		r.active = nil
	}
	r.mu.Unlock()
}

func (r *Relay) setStatus(s *session, status Status) {
	r.mu.Lock()
	s.status = status
	r.mu.Unlock()
}

func reject(onUpdate func(UpdateEvent), err *Error) *Error {
	if onUpdate != nil {
		onUpdate(UpdateEvent{RequestID: err.RequestID, Done: true, Err: err.Error(), Kind: err.Kind})
	}
	return err
}
