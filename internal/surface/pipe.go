// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package surface

import (
	"context"
	"fmt"
	"sync"
)

// Pipe is an in-memory Surface. The assistant side uses the Surface methods;
// the panel side uses Deliver to inject inbound messages and Outbound to read
// what the assistant posted.
type Pipe struct {
	id  string
	out chan Message

	mu      sync.Mutex
	handler func(Message)

	deliverMu sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

// NewPipe creates a pipe whose outbound channel holds up to buffer messages.
// PostMessage blocks when the buffer is full until the reader catches up,
// the context ends or the pipe closes.
func NewPipe(id string, buffer int) *Pipe {
	return &Pipe{
		id:     id,
		out:    make(chan Message, buffer),
		closed: make(chan struct{}),
	}
}

// ID implements Surface.
func (p *Pipe) ID() string { return p.id }

// PostMessage implements Surface.
func (p *Pipe) PostMessage(ctx context.Context, msg Message) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}

	select {
	case p.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return ErrClosed
	}
}

// OnMessage implements Surface. A later call replaces the handler.
func (p *Pipe) OnMessage(handler func(Message)) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
}

// Closed implements Surface.
func (p *Pipe) Closed() <-chan struct{} { return p.closed }

// Deliver hands msg to the registered handler, normalized, on the caller's
// goroutine. Messages delivered before a handler is registered are dropped.
func (p *Pipe) Deliver(msg Message) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}

	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h == nil {
		return fmt.Errorf("surface %s: no message handler", p.id)
	}

	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()
	h(Normalize(msg))
	return nil
}

// Outbound returns the channel of messages posted by the assistant.
func (p *Pipe) Outbound() <-chan Message { return p.out }

// Close marks the surface closed. Safe to call more than once.
func (p *Pipe) Close() {
	p.closeOnce.Do(func() { close(p.closed) })
}

var _ Surface = (*Pipe)(nil)
