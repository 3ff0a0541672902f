// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"strings"
	"sync/atomic"
)

// Status is the lifecycle state of a session.
type Status int

const (
	StatusPending Status = iota
	StatusStreaming
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusStreaming:
		return "streaming"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// UpdateEvent is delivered to the listener for every accumulated change and
// once more when the session ends. Text always holds the full text so far.
// Err is empty unless the session failed, and Kind then tells why.
type UpdateEvent struct {
	RequestID string
	Text      string
	Done      bool
	Err       string
	Kind      ErrorKind
}

// Failed reports whether the event carries an error.
func (e UpdateEvent) Failed() bool {
	return e.Err != ""
}

// session is the bookkeeping for one prompt-to-response interaction.
// Only the relay's streaming goroutine writes text; status is guarded by
// the owning Relay's mutex.
type session struct {
	id     string
	prompt string
	status Status
	text   strings.Builder

	onUpdate func(UpdateEvent)
	cancel   context.CancelFunc
	detached atomic.Bool
	done     chan struct{}
}

func newSession(id, prompt string, onUpdate func(UpdateEvent), cancel context.CancelFunc) *session {
	return &session{
		id:       id,
		prompt:   prompt,
		status:   StatusPending,
		onUpdate: onUpdate,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// emit delivers an event unless the caller has detached.
func (s *session) emit(done bool, rerr *Error) {
	if s.detached.Load() || s.onUpdate == nil {
		return
	}
	ev := UpdateEvent{
		RequestID: s.id,
		Text:      s.text.String(),
		Done:      done,
	}
	if rerr != nil {
		ev.Err = rerr.Error()
		ev.Kind = rerr.Kind
	}
	s.onUpdate(ev)
}

// detach stops further events and cancels the backend call.
func (s *session) detach() {
	s.detached.Store(true)
	s.cancel()
}
