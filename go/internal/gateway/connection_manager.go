package gateway

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pixelcanvas/go/internal/canvas"
)

// ConnectionManager owns the set of live viewer connections and fans every
// accepted paint out to them
type ConnectionManager struct {
	// Live viewer set, mutated only by Register/Unregister
	connections map[*Connection]struct{}
	mu          sync.RWMutex

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	// Connection configuration
	config ConnectionConfig

	// Events in acceptance order, drained by a single dispatcher
	broadcastCh chan broadcastEvent

	// Highest write sequence dispatched per cell; owned by the dispatcher
	lastSeq map[canvas.Coordinate]int64

	clock clockwork.Clock

	delivered atomic.Uint64
	evicted   atomic.Uint64
	stale     atomic.Uint64
}

// broadcastEvent is one accepted paint, encoded once for every viewer
type broadcastEvent struct {
	coord canvas.Coordinate
	seq   int64
	data  []byte
}

func newBroadcastEvent(pixel canvas.Pixel) (broadcastEvent, error) {
	data, err := encodePixel(pixel)
	if err != nil {
		return broadcastEvent{}, err
	}
	return broadcastEvent{coord: pixel.Coordinate(), seq: pixel.Seq, data: data}, nil
}

// Connection is one viewer's websocket. Its state moves Open -> Closed exactly once.
type Connection struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn

	// pending holds queued events in order for the writePump. lastProgress is
	// when the queue last became non-empty or the writer last took from it.
	queueMu      sync.Mutex
	pending      [][]byte
	lastProgress time.Time
	wake         chan struct{}

	// done signals that the connection is gone
	done      chan struct{}
	closeOnce sync.Once
	manager   *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections.
// WriteTimeout bounds every socket write and is also how long a viewer may
// leave queued events untouched before it is evicted. SendBufferSize caps the
// events queued for one viewer.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	BroadcastBuffer int
	CheckOrigin     func(r *http.Request) bool
}

// Stats is a point-in-time view of the broadcaster
type Stats struct {
	TotalConnections int    `json:"total_connections"`
	Delivered        uint64 `json:"delivered"`
	Evicted          uint64 `json:"evicted"`
	Stale            uint64 `json:"stale"`
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  512,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  4096,
		BroadcastBuffer: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Viewers are read-only; any origin may watch the canvas
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, clock clockwork.Clock) *ConnectionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	defaults := DefaultConnectionConfig()
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = defaults.SendBufferSize
	}
	if config.BroadcastBuffer <= 0 {
		config.BroadcastBuffer = defaults.BroadcastBuffer
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}

	return &ConnectionManager{
		connections: make(map[*Connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastEvent, config.BroadcastBuffer),
		lastSeq:     make(map[canvas.Coordinate]int64),
		clock:       clock,
	}
}

// Start dispatches queued events until ctx is cancelled, then closes every connection
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.CloseAll()
			return
		case event := <-cm.broadcastCh:
			cm.dispatch(event)
		}
	}
}

// PublishPixel queues an accepted paint for every live viewer. It blocks only
// until the event is queued, so per-viewer order equals call order.
func (cm *ConnectionManager) PublishPixel(ctx context.Context, pixel canvas.Pixel) error {
	event, err := newBroadcastEvent(pixel)
	if err != nil {
		return err
	}

	select {
	case cm.broadcastCh <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpgradeConnection upgrades an HTTP request to a viewer websocket and starts its pumps
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, sessionID string) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error
		return nil, err
	}

	connection := cm.newConnection(conn, sessionID)

	// Connecting -> Open
	cm.Register(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("session_id", sessionID).
		Msg("WebSocket connection established")

	return connection, nil
}

func (cm *ConnectionManager) newConnection(conn *websocket.Conn, sessionID string) *Connection {
	return &Connection{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Conn:        conn,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		manager:     cm,
		ConnectedAt: cm.clock.Now(),
	}
}

// Register adds a connection to the live set. A connection that was already
// closed is not added.
func (cm *ConnectionManager) Register(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conn.Closed() {
		return
	}
	cm.connections[conn] = struct{}{}

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// Unregister removes a connection and moves it to Closed. Safe to call for a
// connection that was never registered or was already removed.
func (cm *ConnectionManager) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	// Closing under the lock keeps a racing Register from re-adding it
	cm.mu.Lock()
	_, registered := cm.connections[conn]
	delete(cm.connections, conn)
	conn.markClosed()
	remaining := len(cm.connections)
	cm.mu.Unlock()

	if registered {
		log.Info().
			Str("connection_id", conn.ID).
			Str("session_id", conn.SessionID).
			Int("total_connections", remaining).
			Msg("connection unregistered")
	}
}

// CloseAll unregisters every live connection
func (cm *ConnectionManager) CloseAll() {
	for _, conn := range cm.snapshot() {
		cm.Unregister(conn)
	}
}

// snapshot copies the live set so fan-out never holds the lock. Connections
// added afterwards wait for the next event; removed ones are skipped.
func (cm *ConnectionManager) snapshot() []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	targets := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		targets = append(targets, conn)
	}
	return targets
}

// dispatch queues one event for every connection in the snapshot. Queuing
// never blocks: a viewer that has stalled is evicted rather than allowed to
// hold up the others. An event older than one already dispatched for the same
// cell is dropped, so viewers end on the colour the canvas holds.
func (cm *ConnectionManager) dispatch(event broadcastEvent) {
	if event.seq > 0 {
		if last, ok := cm.lastSeq[event.coord]; ok && event.seq <= last {
			cm.stale.Add(1)
			log.Debug().
				Int("loc_x", event.coord.X).
				Int("loc_y", event.coord.Y).
				Int64("seq", event.seq).
				Int64("last_seq", last).
				Msg("dropping stale event")
			return
		}
		cm.lastSeq[event.coord] = event.seq
	}

	targets := cm.snapshot()
	now := cm.clock.Now()

	delivered := 0
	for _, conn := range targets {
		if conn.Closed() {
			continue
		}

		if conn.enqueue(event.data, now) {
			delivered++
			continue
		}

		log.Warn().
			Str("connection_id", conn.ID).
			Int("queued", conn.Queued()).
			Err(ErrConnectionLost).
			Msg("connection stalled, closing connection")
		cm.evicted.Add(1)
		cm.Unregister(conn)
	}
	cm.delivered.Add(uint64(delivered))

	log.Debug().
		Int("connections", len(targets)).
		Int("delivered", delivered).
		Msg("event broadcasted")
}

// ConnectionCount returns the number of live connections
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() Stats {
	return Stats{
		TotalConnections: cm.ConnectionCount(),
		Delivered:        cm.delivered.Load(),
		Evicted:          cm.evicted.Load(),
		Stale:            cm.stale.Load(),
	}
}

// Closed reports whether the connection has left the Open state
func (c *Connection) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done is closed once the connection is unregistered
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) markClosed() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// enqueue appends message to the connection's queue and wakes the writer. It
// reports false when the viewer has stalled: its queue is full, or queued
// events have waited longer than WriteTimeout without the writer taking one.
func (c *Connection) enqueue(message []byte, now time.Time) bool {
	cfg := c.manager.config

	c.queueMu.Lock()
	if len(c.pending) == 0 {
		c.lastProgress = now
	} else if len(c.pending) >= cfg.SendBufferSize || now.Sub(c.lastProgress) > cfg.WriteTimeout {
		c.queueMu.Unlock()
		return false
	}
	c.pending = append(c.pending, message)
	c.queueMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// dequeue takes the oldest queued message
func (c *Connection) dequeue(now time.Time) ([]byte, bool) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	if len(c.pending) == 0 {
		return nil, false
	}
	message := c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	if len(c.pending) == 0 {
		c.pending = nil
	}
	c.lastProgress = now
	return message, true
}

// Queued returns the number of events waiting to be written
func (c *Connection) Queued() int {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return len(c.pending)
}

// flush writes queued messages in order until the queue is empty or the
// connection closes
func (c *Connection) flush() error {
	cfg := c.manager.config
	for !c.Closed() {
		message, ok := c.dequeue(c.manager.clock.Now())
		if !ok {
			return nil
		}
		c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return err
		}
	}
	return nil
}

// writePump is the only writer on the websocket. Every write is bounded by
// WriteTimeout; a failed write unregisters the connection.
func (c *Connection) writePump() {
	cfg := c.manager.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.manager.Unregister(c)
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.done:
			// Best effort; the peer may already be gone
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-c.wake:
			if err := c.flush(); err != nil {
				log.Warn().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump only watches for disconnects; viewers send nothing meaningful
func (c *Connection) readPump() {
	cfg := c.manager.config
	defer func() {
		c.manager.Unregister(c)
	}()

	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	if cfg.ReadTimeout > 0 {
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
	c.Conn.SetPongHandler(func(string) error {
		if cfg.ReadTimeout > 0 {
			c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		}
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}
		if cfg.ReadTimeout > 0 {
			c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		}
	}
}
