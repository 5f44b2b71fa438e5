package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// SessionThrottle limits how fast one client can mint sessions, so a client
// can not sidestep the paint cooldown with a new session per paint. It is off
// unless a rate is configured.
type SessionThrottle struct {
	mu       sync.Mutex
	limiters map[string]*throttleEntry
	limit    rate.Limit
	burst    int
	idle     time.Duration
	clock    clockwork.Clock

	// Header carrying the client address, set by a trusted proxy
	clientIPHeader string
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSessionThrottle allows perSecond sessions per client with the given
// burst. A non-positive rate disables throttling. With clientIPHeader set,
// clients are told apart by that header instead of the peer address.
func NewSessionThrottle(perSecond float64, burst int, clientIPHeader string, clock clockwork.Clock) *SessionThrottle {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &SessionThrottle{
		limiters:       make(map[string]*throttleEntry),
		limit:          limit,
		burst:          burst,
		idle:           10 * time.Minute,
		clock:          clock,
		clientIPHeader: http.CanonicalHeaderKey(strings.TrimSpace(clientIPHeader)),
	}
}

// Enabled reports whether session creation is throttled at all
func (t *SessionThrottle) Enabled() bool {
	return t.limit != rate.Inf
}

// Allow reports whether the client may create another session now
func (t *SessionThrottle) Allow(client string) bool {
	if !t.Enabled() {
		return true
	}
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.limiters[client]
	if !ok {
		entry = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.limiters[client] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Sweep drops limiters for clients not seen within the idle window and
// returns how many it removed
func (t *SessionThrottle) Sweep() int {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for client, entry := range t.limiters {
		if now.Sub(entry.lastSeen) > t.idle {
			delete(t.limiters, client)
			removed++
		}
	}
	return removed
}

// StartSweeper sweeps idle clients every interval until ctx is cancelled
func (t *SessionThrottle) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := t.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if removed := t.Sweep(); removed > 0 {
				log.Debug().Int("removed", removed).Msg("swept idle session throttle clients")
			}
		}
	}
}

// Tracked returns the number of clients with live limiters
func (t *SessionThrottle) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}

// ClientKey identifies the client behind r. The configured header wins when
// present; for a list such as X-Forwarded-For the first entry is the client.
func (t *SessionThrottle) ClientKey(r *http.Request) string {
	if t.clientIPHeader != "" {
		if value := r.Header.Get(t.clientIPHeader); value != "" {
			first, _, _ := strings.Cut(value, ",")
			if client := strings.TrimSpace(first); client != "" {
				return client
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
