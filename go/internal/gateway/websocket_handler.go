package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pixelcanvas/go/internal/session"
)

// SessionValidator is the subset of the session app the handshake needs
type SessionValidator interface {
	ValidateSession(ctx context.Context, id string) error
}

// WebSocketHandler handles WebSocket upgrade requests for canvas viewers
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	sessions          SessionValidator
	requireSession    bool
}

// NewWebSocketHandler creates a new WebSocket handler. With requireSession
// set, only holders of a valid session may watch; otherwise viewing is open
// and session_id is informational.
func NewWebSocketHandler(cm *ConnectionManager, sessions SessionValidator, requireSession bool) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		sessions:          sessions,
		requireSession:    requireSession,
	}
}

// HandleConnection handles GET /ws?session_id=
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")

	if h.requireSession {
		if err := h.sessions.ValidateSession(r.Context(), sessionID); err != nil {
			if errors.Is(err, session.ErrInvalidSession) {
				writeJSONError(w, http.StatusUnauthorized, "Session ID is not valid")
				return
			}
			log.Error().Err(err).Msg("failed to validate session for websocket handshake")
			writeJSONError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}

	if _, err := h.connectionManager.UpgradeConnection(w, r, sessionID); err != nil {
		log.Warn().
			Err(err).
			Str("session_id", sessionID).
			Msg("failed to upgrade WebSocket connection")
		return
	}

	// Connection is now handled by the connection manager
}

// HandleConnectionStats handles GET /ws/stats
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.HandleConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}

func writeJSONError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
