// Package http serves the read-mostly observer API: connection status,
// pairing QR, recorded messages, manual sends, a live event stream and
// Prometheus metrics.
package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roelfdiedericks/autoreply/internal/bus"
	. "github.com/roelfdiedericks/autoreply/internal/logging"
	"github.com/roelfdiedericks/autoreply/internal/metrics"
	"github.com/roelfdiedericks/autoreply/internal/status"
	"github.com/roelfdiedericks/autoreply/internal/store"
)

// Dispatcher sends operator messages.
type Dispatcher interface {
	SendManual(ctx context.Context, to, text string) (*store.Message, error)
}

// MessageLister reads recorded messages.
type MessageLister interface {
	ListMessages(ctx context.Context, q store.MessageQuery) ([]store.Message, error)
}

// SessionCloser unlinks the messaging session.
type SessionCloser interface {
	Logout(ctx context.Context) error
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Listen       string        // Address to listen on (e.g., ":5000", "127.0.0.1:5000")
	SendCooldown time.Duration // minimum gap between manual sends per client; 0 = default
}

// Deps are the collaborators the handlers read from. Status and Bus are
// required; a nil Messages, Dispatcher or Session disables its endpoint.
type Deps struct {
	Status     *status.State
	Bus        *bus.Bus
	Messages   MessageLister
	Dispatcher Dispatcher
	Session    SessionCloser
	Metrics    *metrics.Metrics
}

// Server represents the HTTP server
type Server struct {
	server      *http.Server
	deps        Deps
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
	wg          sync.WaitGroup
}

// NewServer creates a new HTTP server instance
func NewServer(cfg ServerConfig, deps Deps) (*Server, error) {
	if deps.Status == nil || deps.Bus == nil {
		return nil, fmt.Errorf("http: status and bus are required")
	}

	listen := cfg.Listen
	if listen == "" {
		listen = ":5000"
	}
	cooldown := cfg.SendCooldown
	if cooldown <= 0 {
		cooldown = time.Second
	}

	s := &Server{
		deps:        deps,
		rateLimiter: NewRateLimiter(cooldown),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// observers are local dashboards on other ports
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.server = &http.Server{
		Addr:         listen,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	L_debug("http: server created", "listen", listen)
	return s, nil
}

// Handler returns the routed handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return s.logRequest(s.stripHeaders(h))
	}

	mux.HandleFunc("GET /api/status", wrap(s.handleStatus))
	mux.HandleFunc("GET /api/qr", wrap(s.handleQR))
	mux.HandleFunc("GET /api/messages", wrap(s.handleMessages))
	mux.HandleFunc("POST /api/send", wrap(s.rateLimit(s.handleSend)))
	mux.HandleFunc("POST /api/logout", wrap(s.handleLogout))
	mux.HandleFunc("GET /api/events", wrap(s.handleEvents))
	mux.Handle("GET /metrics", s.deps.Metrics.Handler())

	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("http: listen %s: %w", s.server.Addr, err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		L_info("http: server starting", "addr", ln.Addr().String())

		err := s.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			L_error("http: server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		L_error("http: shutdown error", "error", err)
		return err
	}

	s.wg.Wait()
	L_info("http: server stopped")
	return nil
}

// logRequest wraps an HTTP handler to log requests
func (s *Server) logRequest(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(lw, r)

		L_debug("http: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.statusCode,
			"duration", time.Since(start))
	}
}

// loggingResponseWriter wraps ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("http: response writer does not support hijacking")
	}
	lw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// stripHeaders removes fingerprinting headers
func (s *Server) stripHeaders(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del("Server")
		w.Header().Del("X-Powered-By")

		handler(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		L_warn("http: failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
