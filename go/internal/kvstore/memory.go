package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type memoryEntry struct {
	value     string
	hash      map[string]string
	expiresAt time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process Store used when no Redis server is configured
// and in tests. Expiry is driven by the injected clock.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	clock   clockwork.Clock
	closed  bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		clock:   clock,
	}
}

// lookup returns the live entry for key, evicting it if expired. Caller holds mu.
func (m *MemoryStore) lookup(key string) (*memoryEntry, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if entry.expired(m.clock.Now()) {
		delete(m.entries, key)
		return nil, false
	}
	return entry, true
}

func (m *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.clock.Now().Add(ttl)
}

func (m *MemoryStore) checkOpen(op string) error {
	if m.closed {
		return fmt.Errorf("%s: %w: store closed", op, ErrUnavailable)
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen("get"); err != nil {
		return "", err
	}

	entry, ok := m.lookup(key)
	if !ok || entry.hash != nil {
		return "", fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	return entry.value, nil
}

func (m *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen("set"); err != nil {
		return err
	}

	m.entries[key] = &memoryEntry{value: value, expiresAt: m.deadline(ttl)}
	return nil
}

func (m *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen("setnx"); err != nil {
		return false, err
	}

	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.entries[key] = &memoryEntry{value: value, expiresAt: m.deadline(ttl)}
	return true, nil
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen("exists"); err != nil {
		return false, err
	}

	_, ok := m.lookup(key)
	return ok, nil
}

func (m *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen("ttl"); err != nil {
		return 0, err
	}

	entry, ok := m.lookup(key)
	if !ok {
		return 0, fmt.Errorf("ttl %s: %w", key, ErrNotFound)
	}
	if entry.expiresAt.IsZero() {
		return NoExpiry, nil
	}
	return entry.expiresAt.Sub(m.clock.Now()), nil
}

func (m *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen("expire"); err != nil {
		return err
	}

	entry, ok := m.lookup(key)
	if !ok {
		return fmt.Errorf("expire %s: %w", key, ErrNotFound)
	}
	if ttl <= 0 {
		delete(m.entries, key)
		return nil
	}
	entry.expiresAt = m.deadline(ttl)
	return nil
}

func (m *MemoryStore) HSet(ctx context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen("hset"); err != nil {
		return err
	}

	entry, ok := m.lookup(key)
	if !ok {
		entry = &memoryEntry{hash: make(map[string]string)}
		m.entries[key] = entry
	}
	if entry.hash == nil {
		return fmt.Errorf("hset %s: key holds a string value", key)
	}
	entry.hash[field] = value
	return nil
}

func (m *MemoryStore) HSetIncr(ctx context.Context, key, field, value, counter string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen("hsetincr"); err != nil {
		return 0, err
	}

	// Check both keys before touching either so a failure writes nothing
	entry, ok := m.lookup(key)
	if ok && entry.hash == nil {
		return 0, fmt.Errorf("hset %s: key holds a string value", key)
	}
	var seq int64
	counterEntry, counterOK := m.lookup(counter)
	if counterOK {
		if counterEntry.hash != nil {
			return 0, fmt.Errorf("incr %s: key holds a hash", counter)
		}
		n, err := strconv.ParseInt(counterEntry.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("incr %s: value is not an integer", counter)
		}
		seq = n
	} else {
		counterEntry = &memoryEntry{}
		m.entries[counter] = counterEntry
	}

	if !ok {
		entry = &memoryEntry{hash: make(map[string]string)}
		m.entries[key] = entry
	}
	entry.hash[field] = value

	seq++
	counterEntry.value = strconv.FormatInt(seq, 10)
	return seq, nil
}

func (m *MemoryStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen("hgetall"); err != nil {
		return nil, err
	}

	result := make(map[string]string)
	entry, ok := m.lookup(key)
	if !ok || entry.hash == nil {
		return result, nil
	}
	for field, value := range entry.hash {
		result[field] = value
	}
	return result, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkOpen("ping")
}

// Close marks the store unavailable; every later call fails with ErrUnavailable
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of live keys
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	count := 0
	for _, entry := range m.entries {
		if !entry.expired(now) {
			count++
		}
	}
	return count
}

// Sweep removes every expired key and returns how many were removed
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for key, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// StartSweeper periodically evicts expired sessions and cooldown markers until
// ctx is cancelled. Lazy eviction alone would keep every abandoned session in memory.
func (m *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if removed := m.Sweep(); removed > 0 {
				log.Debug().Int("removed", removed).Msg("swept expired keys")
			}
		}
	}
}
