// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jeranaias/codeassist/internal/backend"
	"github.com/jeranaias/codeassist/internal/ollama"
	"github.com/jeranaias/codeassist/internal/panel"
	"github.com/jeranaias/codeassist/internal/relay"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultPort is the default port for the HTTP server.
	DefaultPort = 8787

	// DefaultHealthTimeout bounds the backend probe behind GET /health.
	DefaultHealthTimeout = 2 * time.Second

	// WebSocketPath is where panels connect.
	WebSocketPath = "/ws"
)

// ErrShuttingDown is returned when a panel connects during Shutdown.
var ErrShuttingDown = errors.New("server shutting down")

// ============================================================================
// CONFIG
// ============================================================================

// Config holds the listener and security settings.
type Config struct {
	Host string
	Port int

	// Token enables bearer authentication when non-empty.
	Token string

	// AllowedOrigins for the WebSocket handshake besides the server's own.
	AllowedOrigins []string

	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit float64
	RateBurst int

	// LegacyErrorText is passed to every panel controller.
	LegacyErrorText bool
}

// Addr returns host:port, applying defaults.
func (c Config) Addr() string {
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, fmt.Sprint(port))
}

// healthChecker and modelLister are optional backend capabilities.
type healthChecker interface {
	CheckRunning(ctx context.Context) error
}

type modelLister interface {
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
}

// ============================================================================
// SERVER
// ============================================================================

// Server hosts the web panel. Every WebSocket connection becomes a surface
// with its own panel controller and relay.
type Server struct {
	cfg     Config
	log     zerolog.Logger
	router  *http.ServeMux
	limiter *RateLimiter
	origins OriginChecker
	server  *http.Server

	mu        sync.RWMutex
	backend   backend.Backend
	relayOpts []relay.Option

	panelsMu sync.Mutex
	panels   map[string]*wsSurface
	ctrls    map[string]*panel.Controller
	closing  bool
}

// New creates a server whose panels stream from b.
func New(cfg Config, b backend.Backend, log zerolog.Logger, relayOpts ...relay.Option) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		router:    http.NewServeMux(),
		origins:   OriginChecker{AllowedOrigins: cfg.AllowedOrigins},
		backend:   b,
		relayOpts: relayOpts,
		panels:    make(map[string]*wsSurface),
		ctrls:     make(map[string]*panel.Controller),
	}
	if cfg.RateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	s.setupRoutes()
	return s
}

// SetBackend replaces the backend and relay options used for panels opened
// from now on. Open panels keep the relay they started with.
func (s *Server) SetBackend(b backend.Backend, relayOpts ...relay.Option) {
	s.mu.Lock()
	s.backend = b
	s.relayOpts = relayOpts
	s.mu.Unlock()
	s.log.Info().Str("backend", b.Name()).Msg("backend updated")
}

func (s *Server) current() (backend.Backend, []relay.Option) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend, s.relayOpts
}

// PanelCount returns the number of connected panels.
func (s *Server) PanelCount() int {
	s.panelsMu.Lock()
	defer s.panelsMu.Unlock()
	return len(s.panels)
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /{$}", s.handleIndex)
	s.router.HandleFunc("GET "+WebSocketPath, s.handleWebSocket)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /models", s.handleModels)
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(s.log),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.log),
		RateLimitMiddleware(s.limiter, s.log),
		AuthMiddleware(s.cfg.Token, s.log),
	)(s.router)
}

// ============================================================================
// PANEL PAGE
// ============================================================================

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	nonce, err := newNonce()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to generate nonce")
		return
	}

	page, err := panel.HTML(panel.HTMLOptions{
		Transport:     panel.TransportWebSocket,
		WebSocketPath: WebSocketPath,
		Nonce:         nonce,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to render panel")
		s.writeError(w, http.StatusInternalServerError, "failed to render panel")
		return
	}

	w.Header().Set("Content-Security-Policy", fmt.Sprintf(
		"default-src 'none'; style-src 'nonce-%s'; script-src 'nonce-%s'; connect-src 'self' ws: wss:", nonce, nonce))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(page))
}

func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ============================================================================
// WEBSOCKET PANELS
// ============================================================================

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.origins.Check,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		s.log.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("websocket upgrade failed")
		return
	}

	host := &connHost{server: s, conn: conn}
	sf, err := host.RegisterSurface(uuid.NewString())
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	ws := sf.(*wsSurface)

	b, opts := s.current()
	opts = append(append([]relay.Option(nil), opts...), relay.WithLogger(ws.log))
	ctrl := panel.Open(ws, relay.New(b, opts...), s.log,
		panel.WithLegacyErrorText(s.cfg.LegacyErrorText))

	s.panelsMu.Lock()
	s.ctrls[ws.ID()] = ctrl
	s.panelsMu.Unlock()

	s.log.Info().Str("surface", ws.ID()).Str("ip", GetClientIP(r)).Str("backend", b.Name()).Msg("panel connected")
	ws.serve()

	ctrl.Close()
	s.untrack(ws.ID())
	s.log.Info().Str("surface", ws.ID()).Msg("panel disconnected")
}

func (s *Server) track(ws *wsSurface) error {
	s.panelsMu.Lock()
	defer s.panelsMu.Unlock()
	if s.closing {
		return ErrShuttingDown
	}
	if _, dup := s.panels[ws.ID()]; dup {
		return fmt.Errorf("surface %q already registered", ws.ID())
	}
	s.panels[ws.ID()] = ws
	return nil
}

func (s *Server) untrack(id string) {
	s.panelsMu.Lock()
	delete(s.panels, id)
	delete(s.ctrls, id)
	s.panelsMu.Unlock()
}

// ============================================================================
// HEALTH AND MODELS
// ============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
	// BackendStatus is "ok", "unavailable" or "unknown" when the backend
	// cannot be probed.
	BackendStatus string `json:"backend_status"`
	Error         string `json:"error,omitempty"`
	Panels        int    `json:"panels"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	b, _ := s.current()
	health := HealthResponse{
		Status:        "ok",
		Backend:       b.Name(),
		BackendStatus: "unknown",
		Panels:        s.PanelCount(),
	}

	if hc, ok := b.(healthChecker); ok {
		ctx, cancel := context.WithTimeout(r.Context(), DefaultHealthTimeout)
		defer cancel()
		if err := hc.CheckRunning(ctx); err != nil {
			health.Status = "degraded"
			health.BackendStatus = "unavailable"
			health.Error = err.Error()
		} else {
			health.BackendStatus = "ok"
		}
	}

	s.writeJSON(w, http.StatusOK, health)
}

// ModelsResponse is the body of GET /models.
type ModelsResponse struct {
	Models []ModelEntry `json:"models"`
}

// ModelEntry describes one installed model.
type ModelEntry struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	SizeText   string    `json:"size_text"`
	ModifiedAt time.Time `json:"modified_at"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	b, _ := s.current()
	ml, ok := b.(modelLister)
	if !ok {
		s.writeError(w, http.StatusNotImplemented, fmt.Sprintf("backend %q cannot list models", b.Name()))
		return
	}

	models, err := ml.ListModels(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, backend.ErrUnavailable) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, err.Error())
		return
	}

	resp := ModelsResponse{Models: make([]ModelEntry, 0, len(models))}
	for _, m := range models {
		resp.Models = append(resp.Models, ModelEntry{
			Name:       m.Name,
			Size:       m.Size,
			SizeText:   m.FormatSize(),
			ModifiedAt: m.ModifiedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.log.Info().Str("addr", l.Addr().String()).Msg("server started")
	err := srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(l)
}

// Shutdown stops accepting connections, closes every panel and waits for
// their controllers to finish or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("server shutting down")

	s.panelsMu.Lock()
	s.closing = true
	panels := make([]*wsSurface, 0, len(s.panels))
	for _, p := range s.panels {
		panels = append(panels, p)
	}
	ctrls := make([]*panel.Controller, 0, len(s.ctrls))
	for _, c := range s.ctrls {
		ctrls = append(ctrls, c)
	}
	s.panelsMu.Unlock()

	for _, p := range panels {
		p.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	for _, c := range ctrls {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.limiter != nil {
		s.limiter.Stop()
	}

	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    status,
		},
	})
}
