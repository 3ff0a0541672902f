// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package panel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/codeassist/internal/relay"
	"github.com/jeranaias/codeassist/internal/surface"
)

// DefaultPostTimeout bounds a single PostMessage. A panel that stops reading
// for this long is treated as gone.
const DefaultPostTimeout = 10 * time.Second

// Option configures a Controller.
type Option func(*Controller)

// WithLegacyErrorText renders failures the way the first panel did: the
// response text is replaced by "Error: <message>".
func WithLegacyErrorText(enabled bool) Option {
	return func(c *Controller) { c.legacyErrors = enabled }
}

// WithPostTimeout overrides DefaultPostTimeout.
func WithPostTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.postTimeout = d
		}
	}
}

// Controller connects one surface to one relay for the surface's lifetime.
type Controller struct {
	surface      surface.Surface
	relay        *relay.Relay
	log          zerolog.Logger
	legacyErrors bool
	postTimeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// mu serializes outbound posts so a cancel acknowledgement can never be
	// overtaken by an update for the same request.
	mu   sync.Mutex
	last map[string]string // request ID -> latest text, while streaming
	// canceled is the last request detached by a cancel command. The relay
	// stops events for it, so only one delivery already under way can still
	// arrive and it is always for the latest cancel.
	canceled string

	closeOnce sync.Once
	done      chan struct{}
}

// Open takes ownership of r and starts serving s. The relay is closed when
// the surface closes or Close is called.
func Open(s surface.Surface, r *relay.Relay, log zerolog.Logger, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		surface:     s,
		relay:       r,
		log:         log.With().Str("surface", s.ID()).Logger(),
		postTimeout: DefaultPostTimeout,
		ctx:         ctx,
		cancel:      cancel,
		last:        make(map[string]string),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	s.OnMessage(c.handle)
	go func() {
		select {
		case <-s.Closed():
			c.Close()
		case <-ctx.Done():
		}
	}()

	c.log.Debug().Msg("panel opened")
	return c
}

// Close tears the panel down: the active response is canceled and the relay
// closed. Safe to call more than once and from any goroutine except a relay
// listener.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.relay.Close()
		close(c.done)
		c.log.Debug().Msg("panel closed")
	})
}

// Done is closed once the controller has shut down.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) handle(msg surface.Message) {
	switch msg.Command {
	case surface.CommandChat:
		id, err := c.relay.Send(c.ctx, msg.Text, c.update)
		if err != nil {
			c.log.Debug().Str("request_id", id).Str("kind", relay.KindOf(err).String()).Msg("chat rejected")
			return
		}
		c.log.Info().Str("request_id", id).Int("prompt_chars", len(msg.Text)).Msg("chat started")

	case surface.CommandCancel:
		c.cancelActive()

	default:
		c.log.Warn().Str("command", msg.Command).Msg("ignoring unknown panel command")
	}
}

// update forwards a relay event to the surface.
func (c *Controller) update(ev relay.UpdateEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.RequestID == c.canceled {
		return
	}
	if ev.Done {
		delete(c.last, ev.RequestID)
	} else {
		c.last[ev.RequestID] = ev.Text
	}
	c.post(c.render(ev))
}

// cancelActive detaches the streaming response and tells the panel it ended.
func (c *Controller) cancelActive() {
	id, _, ok := c.relay.Active()
	if !ok || !c.relay.Cancel() {
		c.log.Debug().Msg("cancel with nothing streaming")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.canceled = id
	text := c.last[id]
	delete(c.last, id)
	c.post(c.render(relay.UpdateEvent{
		RequestID: id,
		Text:      text,
		Done:      true,
		Err:       relay.ErrCanceled.Error(),
		Kind:      relay.KindCanceled,
	}))
	c.log.Info().Str("request_id", id).Msg("chat canceled")
}

func (c *Controller) render(ev relay.UpdateEvent) surface.Message {
	if c.legacyErrors && ev.Failed() {
		return surface.Response(ev.RequestID, "Error: "+ev.Err, ev.Done, "")
	}
	return surface.Response(ev.RequestID, ev.Text, ev.Done, ev.Err)
}

// post must be called with c.mu held.
func (c *Controller) post(msg surface.Message) {
	ctx, cancel := context.WithTimeout(c.ctx, c.postTimeout)
	defer cancel()

	err := c.surface.PostMessage(ctx, msg)
	switch {
	case err == nil:
	case errors.Is(err, surface.ErrClosed), errors.Is(err, context.Canceled):
		c.log.Debug().Err(err).Msg("surface gone, dropping update")
	default:
		c.log.Warn().Err(err).Str("request_id", msg.RequestID).Msg("failed to post update")
		if errors.Is(err, context.DeadlineExceeded) {
			go c.Close()
		}
	}
}
