// Package gateway maps session operations onto HTTP request/response and a
// WebSocket duplex channel. The two bindings are interchangeable: a caller
// that cannot hold a persistent connection gets identical semantics from
// the HTTP fallback.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tabletalk/tabletalk/pkg/agent"
	"github.com/tabletalk/tabletalk/pkg/chat"
	"github.com/tabletalk/tabletalk/pkg/dataset"
)

// Server exposes the chat boundary.
type Server struct {
	port     int
	sessions *chat.Manager
	logger   zerolog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// Config holds server configuration.
type Config struct {
	Port     int
	Sessions *chat.Manager
	Logger   zerolog.Logger
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session manager is required")
	}
	return &Server{
		port:     cfg.Port,
		sessions: cfg.Sessions,
		logger:   cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// Handler returns the route table; exported for tests and embedding.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat/init", s.handleInit)
	mux.HandleFunc("POST /api/chat/message", s.handleMessage)
	mux.HandleFunc("GET /api/chat/history/{id}", s.handleHistory)
	mux.HandleFunc("DELETE /api/chat/{id}", s.handleDelete)
	mux.HandleFunc("GET /ws/chat/{id}", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // long-running turns
	}
	s.logger.Info().Int("port", s.port).Msg("Gateway listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type initRequest struct {
	DatasetPath string            `json:"dataset_path"`
	ColumnTypes map[string]string `json:"column_types,omitempty"`
}

type initResponse struct {
	SessionID   string   `json:"session_id"`
	Message     string   `json:"message"`
	Timestamp   string   `json:"timestamp"`
	Suggestions []string `json:"suggestions"`
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DatasetPath == "" {
		writeError(w, http.StatusBadRequest, "dataset_path is required")
		return
	}

	result, err := s.sessions.Create(r.Context(), req.DatasetPath, columnTypes(req.ColumnTypes))
	if err != nil {
		s.logger.Error().Err(err).Str("dataset", req.DatasetPath).Msg("Session init failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, initResponse{
		SessionID:   result.SessionID,
		Message:     result.Greeting.Content,
		Timestamp:   result.Greeting.Timestamp.Format(time.RFC3339),
		Suggestions: result.Suggestions,
	})
}

type messageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type messageResponse struct {
	Message     string   `json:"message"`
	Timestamp   string   `json:"timestamp"`
	Suggestions []string `json:"suggestions"`
}

// handleMessage is the synchronous fallback for the duplex channel: one
// submit, one response.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "session_id and message are required")
		return
	}

	result, err := s.sessions.Submit(r.Context(), req.SessionID, req.Message)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Message:     result.Assistant.Content,
		Timestamp:   result.Assistant.Timestamp.Format(time.RFC3339),
		Suggestions: result.Suggestions,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	turns, err := s.sessions.History(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"turns":      turns,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Delete(id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type inboundMessage struct {
	Message string `json:"message"`
}

// handleWebSocket runs the duplex binding. Per inbound message it emits
// typing, then exactly one terminal message/error event, then suggestions
// after a successful turn. The session manager's in-flight guard ensures
// turn N's events complete before turn N+1 processes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.sessions.History(id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sink := newEventSink(conn)
	logger := s.logger.With().Str("session", id).Logger()
	logger.Debug().Msg("WebSocket connected")

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("WebSocket read failed")
			}
			return
		}
		if inbound.Message == "" {
			continue
		}

		if err := sink.typing(); err != nil {
			return
		}

		result, err := s.sessions.Submit(r.Context(), id, inbound.Message)
		if err != nil {
			if emitErr := sink.error(err.Error()); emitErr != nil {
				return
			}
			if errors.Is(err, chat.ErrSessionNotFound) {
				return
			}
			continue
		}

		if err := sink.message(result.Assistant.Content, result.Assistant.Timestamp); err != nil {
			return
		}
		if err := sink.suggestions(result.Suggestions); err != nil {
			return
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, agent.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, agent.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func columnTypes(raw map[string]string) map[string]dataset.ColumnType {
	if len(raw) == 0 {
		return nil
	}
	types := make(map[string]dataset.ColumnType, len(raw))
	for name, t := range raw {
		types[name] = dataset.ColumnType(t)
	}
	return types
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, description string) {
	writeJSON(w, status, map[string]string{"error": description})
}
