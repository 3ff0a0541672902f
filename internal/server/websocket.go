// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jeranaias/codeassist/internal/surface"
)

const (
	// MaxMessageSize bounds one inbound panel message.
	MaxMessageSize = 1 << 20

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// wsSurface is a panel connected over a WebSocket. Outbound messages are
// written as JSON text frames; inbound frames are decoded into
// surface.Message and handed to the registered handler one at a time.
type wsSurface struct {
	id   string
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	handler func(surface.Message)

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSSurface(id string, conn *websocket.Conn, log zerolog.Logger) *wsSurface {
	return &wsSurface{
		id:     id,
		conn:   conn,
		log:    log.With().Str("surface", id).Logger(),
		closed: make(chan struct{}),
	}
}

func (s *wsSurface) ID() string { return s.id }

func (s *wsSurface) Closed() <-chan struct{} { return s.closed }

func (s *wsSurface) OnMessage(handler func(surface.Message)) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

// PostMessage writes msg as one text frame. The context deadline, if any,
// becomes the write deadline.
func (s *wsSurface) PostMessage(ctx context.Context, msg surface.Message) error {
	select {
	case <-s.closed:
		return surface.ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)

	if err := s.conn.WriteJSON(msg); err != nil {
		s.close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return surface.ErrClosed
	}
	return nil
}

// serve runs the read loop until the peer goes away or the surface is
// closed, with a ping ticker keeping idle connections alive.
func (s *wsSurface) serve() {
	defer s.close()

	s.conn.SetReadLimit(MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go s.pinger()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}

		var msg surface.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn().Err(err).Int("bytes", len(data)).Msg("ignoring undecodable panel message")
			continue
		}

		s.mu.Lock()
		handler := s.handler
		s.mu.Unlock()
		if handler == nil {
			s.log.Warn().Str("command", msg.Command).Msg("dropping message, no handler")
			continue
		}
		handler(surface.Normalize(msg))
	}
}

func (s *wsSurface) pinger() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				s.close()
				return
			}
		}
	}
}

// closeWith sends a close frame before dropping the connection.
func (s *wsSurface) closeWith(code int, text string) {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
	s.writeMu.Unlock()
	s.close()
}

func (s *wsSurface) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

// connHost hands out the surface for one upgraded connection and records it
// with the server so Shutdown can reach it.
type connHost struct {
	server *Server
	conn   *websocket.Conn
}

// RegisterSurface implements surface.Host.
func (h *connHost) RegisterSurface(id string) (surface.Surface, error) {
	s := newWSSurface(id, h.conn, h.server.log)
	if err := h.server.track(s); err != nil {
		return nil, err
	}
	return s, nil
}
