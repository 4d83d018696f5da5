// Package api implements the HTTP surface for conversational turns:
// an SSE stream, a WebSocket variant, a synchronous chat endpoint, and
// session management.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"curator/internal/agent"
	"curator/internal/buildinfo"
	"curator/internal/conversation"
)

// Agent is the slice of the decision loop the server consumes. Tests
// substitute a scripted implementation.
type Agent interface {
	Turn(ctx context.Context, sessionID, userText string, sink agent.Sink)
	Ask(ctx context.Context, sessionID, userText string) (string, error)
	Model() string
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address     string
	port        int
	agent       Agent
	store       *conversation.Store
	maxSessions int
	logger      *slog.Logger
	server      *http.Server
}

// NewServer creates a new API server. maxSessions bounds the session
// registry; excess sessions are evicted periodically while serving.
func NewServer(address string, port int, ag Agent, store *conversation.Store, maxSessions int, logger *slog.Logger) *Server {
	return &Server{
		address:     address,
		port:        port,
		agent:       ag,
		store:       store,
		maxSessions: maxSessions,
		logger:      logger,
	}
}

// Handler builds the route table. Split from Start so tests can drive
// the mux through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/stream", s.handleStream)
	mux.HandleFunc("GET /api/v1/ws", s.handleWS)
	mux.HandleFunc("POST /api/v1/chat", s.handleChat)

	mux.HandleFunc("POST /api/v1/sessions/{id}/reset", s.handleSessionReset)
	mux.HandleFunc("GET /api/v1/sessions", s.handleSessions)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start runs the server until ctx is cancelled or serving fails. A
// background ticker evicts least-recently-used sessions past the
// configured bound.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: turns stream for as long as the model and
		// tools take; the stream handler manages its own deadlines.
	}

	go s.evictLoop(ctx)

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.store.EvictExcess(s.maxSessions); n > 0 {
				s.logger.Info("session eviction pass", "evicted", n)
			}
		}
	}
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Curator",
		"version": buildinfo.Version,
		"model":   s.agent.Model(),
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":   "healthy",
		"uptime":   buildinfo.Uptime().Truncate(time.Second).String(),
		"sessions": s.store.Len(),
	}, s.logger)
}

// handleStream runs one turn and emits each progress event as an SSE
// data frame. The stream always terminates with a stream_end event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = "default"
	}
	message := r.URL.Query().Get("message")
	if message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	rc := http.NewResponseController(w)
	s.agent.Turn(r.Context(), sessionID, message, func(ev agent.Event) {
		s.writeSSE(w, ev)
		flusher.Flush()
		// Keep the connection alive through long tool executions.
		if err := rc.SetWriteDeadline(time.Now().Add(120 * time.Second)); err != nil {
			s.logger.Debug("failed to reset write deadline", "error", err)
		}
	})
}

func (s *Server) writeSSE(w http.ResponseWriter, ev agent.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Debug("failed to marshal SSE event", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		s.logger.Debug("failed to write SSE event", "error", err)
	}
}

// ChatRequest is the synchronous chat request body.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ChatResponse is the synchronous chat response body.
type ChatResponse struct {
	Response string `json:"response"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}

	output, err := s.agent.Ask(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.errorResponse(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{Response: output}, s.logger)
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	found := s.store.Clear(id)
	s.logger.Info("session reset", "session", id, "found", found)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]bool{"found": found}, s.logger)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"sessions": s.store.Sessions(),
	}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
