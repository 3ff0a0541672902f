// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/codeassist/internal/surface"
)

// ResponseMsg carries an outbound panel message into the program.
type ResponseMsg surface.Message

// Surface connects a bubbletea program to a panel controller.
//
// Outbound messages enter the program through Program.Send. Inbound
// commands are queued by the model and handed to the controller from a
// separate goroutine, so a handler that posts back synchronously never
// waits on the event loop it was called from.
type Surface struct {
	id string

	mu      sync.Mutex
	send    func(tea.Msg)
	handler func(surface.Message)
	queue   []surface.Message

	wake      chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

// NewSurface creates a surface. Attach a program before posting.
func NewSurface(id string) *Surface {
	s := &Surface{
		id:     id,
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// Attach routes outbound messages to p.
func (s *Surface) Attach(p *tea.Program) {
	s.attach(p.Send)
}

func (s *Surface) attach(send func(tea.Msg)) {
	s.mu.Lock()
	s.send = send
	s.mu.Unlock()
}

// ID implements surface.Surface.
func (s *Surface) ID() string { return s.id }

// Closed implements surface.Surface.
func (s *Surface) Closed() <-chan struct{} { return s.closed }

// OnMessage implements surface.Surface.
func (s *Surface) OnMessage(handler func(surface.Message)) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

// PostMessage implements surface.Surface.
func (s *Surface) PostMessage(ctx context.Context, msg surface.Message) error {
	select {
	case <-s.closed:
		return surface.ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	send := s.send
	s.mu.Unlock()
	if send == nil {
		return surface.ErrClosed
	}
	send(ResponseMsg(msg))
	return nil
}

// Deliver queues an inbound command for the controller.
func (s *Surface) Deliver(msg surface.Message) {
	s.mu.Lock()
	s.queue = append(s.queue, surface.Normalize(msg))
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close marks the surface closed; the controller tears down in response.
func (s *Surface) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *Surface) dispatch() {
	for {
		select {
		case <-s.closed:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			msg := s.queue[0]
			s.queue = s.queue[1:]
			handler := s.handler
			s.mu.Unlock()

			if handler != nil {
				handler(msg)
			}
		}
	}
}
