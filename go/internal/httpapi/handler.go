package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pixelcanvas/go/internal/canvas"
	"github.com/mcdev12/pixelcanvas/go/internal/paint"
	"github.com/mcdev12/pixelcanvas/go/internal/session"
)

// CanvasReader serves full-state reads
type CanvasReader interface {
	GetAll(ctx context.Context) (map[string]string, error)
	Bounds() canvas.Bounds
	Background() string
}

// Painter applies paint requests
type Painter interface {
	Paint(ctx context.Context, req paint.Request) (canvas.Pixel, error)
}

// SessionManager issues sessions and reports their remaining lifetime
type SessionManager interface {
	CreateSession(ctx context.Context) (*session.Session, error)
	Remaining(ctx context.Context, id string) (time.Duration, error)
}

// CooldownReader reports the paint cooldown without consuming it
type CooldownReader interface {
	Cooldown() time.Duration
	Remaining(ctx context.Context, sessionID string) (time.Duration, error)
}

// HealthChecker reports whether the backing store is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Handler serves the canvas REST API
type Handler struct {
	canvas   CanvasReader
	painter  Painter
	sessions  SessionManager
	throttle  *SessionThrottle
	health    HealthChecker
	cooldowns CooldownReader
}

// NewHandler creates a new REST handler
func NewHandler(canvas CanvasReader, painter Painter, sessions SessionManager, throttle *SessionThrottle, health HealthChecker, cooldowns CooldownReader) *Handler {
	if throttle == nil {
		throttle = NewSessionThrottle(0, 1, "", nil)
	}
	return &Handler{
		canvas:    canvas,
		painter:   painter,
		sessions:  sessions,
		throttle:  throttle,
		health:    health,
		cooldowns: cooldowns,
	}
}

// RegisterRoutes registers REST routes with an HTTP mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /pixels", h.HandleGetPixels)
	mux.HandleFunc("POST /pixels", h.HandlePostPixel)
	mux.HandleFunc("POST /session", h.HandlePostSession)
	mux.HandleFunc("GET /session", h.HandleGetSession)
	mux.HandleFunc("GET /canvas", h.HandleGetCanvas)
	mux.HandleFunc("GET /health", h.HandleHealth)
}

// HandleGetPixels handles GET /pixels: every painted cell as "x,y" -> colour
func (h *Handler) HandleGetPixels(w http.ResponseWriter, r *http.Request) {
	pixels, err := h.canvas.GetAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pixels)
}

// HandlePostPixel handles POST /pixels?loc_x=&loc_y=&colour=&session_id=
func (h *Handler) HandlePostPixel(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	x, err := intParam(query.Get("loc_x"), "loc_x")
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	y, err := intParam(query.Get("loc_y"), "loc_y")
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	colour := query.Get("colour")
	if colour == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "colour is required")
		return
	}
	sessionID := query.Get("session_id")
	if sessionID == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "session_id is required")
		return
	}

	pixel, err := h.painter.Paint(r.Context(), paint.Request{
		X:         x,
		Y:         y,
		Colour:    colour,
		SessionID: sessionID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pixel)
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	ExpiresIn int    `json:"expires_in"`
}

// HandlePostSession handles POST /session
func (h *Handler) HandlePostSession(w http.ResponseWriter, r *http.Request) {
	client := h.throttle.ClientKey(r)
	if !h.throttle.Allow(client) {
		log.Warn().Str("client", client).Msg("session creation throttled")
		writeDetail(w, http.StatusTooManyRequests, "Too many sessions requested, slow down.")
		return
	}

	sess, err := h.sessions.CreateSession(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: sess.ID,
		ExpiresIn: int(sess.ExpiresAt.Sub(sess.CreatedAt).Seconds()),
	})
}

type sessionStatusResponse struct {
	SessionID         string `json:"session_id"`
	ExpiresIn         int    `json:"expires_in"`
	CooldownRemaining int    `json:"cooldown_remaining"`
}

// HandleGetSession handles GET /session?session_id=: how long the session has
// left and how long until it may paint again
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "session_id is required")
		return
	}

	expiresIn, err := h.sessions.Remaining(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cooldown, err := h.cooldowns.Remaining(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionStatusResponse{
		SessionID:         sessionID,
		ExpiresIn:         ceilSeconds(expiresIn),
		CooldownRemaining: ceilSeconds(cooldown),
	})
}

type canvasInfo struct {
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	Background      string `json:"background"`
	CooldownSeconds int    `json:"cooldown_seconds"`
}

// HandleGetCanvas handles GET /canvas: dimensions and paint rules for clients
func (h *Handler) HandleGetCanvas(w http.ResponseWriter, r *http.Request) {
	bounds := h.canvas.Bounds()
	writeJSON(w, http.StatusOK, canvasInfo{
		Width:           bounds.Width,
		Height:          bounds.Height,
		Background:      h.canvas.Background(),
		CooldownSeconds: int(h.cooldowns.Cooldown().Seconds()),
	})
}

// HandleHealth handles GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}
