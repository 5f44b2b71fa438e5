package session

import (
	"errors"
	"time"
)

// DefaultTTL is how long a session stays valid after creation
const DefaultTTL = time.Hour

// ErrInvalidSession is returned for unknown, malformed or expired session ids
var ErrInvalidSession = errors.New("session id is not valid")

// Session is an opaque, time-limited credential authorizing paint requests
type Session struct {
	ID        string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
