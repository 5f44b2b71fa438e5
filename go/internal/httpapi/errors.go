package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pixelcanvas/go/internal/canvas"
	"github.com/mcdev12/pixelcanvas/go/internal/kvstore"
	"github.com/mcdev12/pixelcanvas/go/internal/ratelimit"
	"github.com/mcdev12/pixelcanvas/go/internal/session"
)

// errorResponse is the JSON error body: {"detail": "..."}
type errorResponse struct {
	Detail string `json:"detail"`
}

// statusFor maps the domain error taxonomy onto HTTP status codes
func statusFor(err error) (int, string) {
	var limited *ratelimit.LimitedError
	switch {
	case errors.Is(err, session.ErrInvalidSession):
		return http.StatusUnauthorized, "Session ID is not valid"
	case errors.As(err, &limited):
		return http.StatusTooManyRequests, limited.Error()
	case errors.Is(err, canvas.ErrOutOfBounds), errors.Is(err, canvas.ErrInvalidColor):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, kvstore.ErrUnavailable):
		return http.StatusServiceUnavailable, "store unavailable, try again later"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := statusFor(err)

	var limited *ratelimit.LimitedError
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", strconv.Itoa(limited.RemainingSeconds()))
	}

	event := log.Debug()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("request failed")

	writeJSON(w, status, errorResponse{Detail: detail})
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
