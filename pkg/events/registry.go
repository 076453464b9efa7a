package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/codeready-toolchain/agentrun/pkg/config"
)

// Sink is an outbound message channel for one client connection.
type Sink interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Sender routes serialized events to a (user, connection) key.
// Implemented by Registry.
type Sender interface {
	Send(ctx context.Context, userID, connectionID string, data []byte) bool
}

// ConnectionEntry is a point-in-time snapshot of a registered connection.
type ConnectionEntry struct {
	UserID       string
	ConnectionID string
	ConnectedAt  time.Time
	LastActivity time.Time
	IsConnected  bool
	// Generation increases with every Register. Release uses it to ignore
	// stale disconnects from a connection that has since been replaced.
	Generation uint64
}

// RegistryStats summarizes registry contents.
type RegistryStats struct {
	Active       int `json:"active"`
	Disconnected int `json:"disconnected"`
	Buffered     int `json:"buffered"`
}

type connState struct {
	userID       string
	connectionID string
	sink         Sink
	connectedAt  time.Time
	lastActivity time.Time
	connected    bool
	generation   uint64
}

func (c *connState) snapshot() *ConnectionEntry {
	return &ConnectionEntry{
		UserID:       c.userID,
		ConnectionID: c.connectionID,
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastActivity,
		IsConnected:  c.connected,
		Generation:   c.generation,
	}
}

// slot holds everything for one (user, connection) key. Its mutex makes
// Register, Send and Unregister on that key linearizable.
type slot struct {
	mu      sync.Mutex
	state   *connState
	buffer  [][]byte
	removed bool
}

// Registry maps (user, connection) keys to live sinks. Keys never share a
// lock: the map is a sync.Map of per-key slots.
type Registry struct {
	slots  sync.Map // slotKey → *slot
	owners sync.Map // connectionID → userID

	clock        clockwork.Clock
	writeTimeout time.Duration
	grace        time.Duration
	bufferSize   int
	generation   atomic.Uint64
}

// NewRegistry creates a connection registry.
func NewRegistry(cfg *config.EventsConfig, clk clockwork.Clock) *Registry {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Registry{
		clock:        clk,
		writeTimeout: cfg.WriteTimeout,
		grace:        cfg.DisconnectGrace,
		bufferSize:   cfg.BufferOnDisconnect,
	}
}

func slotKey(userID, connectionID string) string {
	return userID + "\x00" + connectionID
}

// Register creates or replaces the entry for (userID, connectionID). A
// replaced sink is closed; nothing queued for it is carried over except
// events buffered while the key was disconnected (when buffering is enabled).
// A connection id is claimed by the first user to register it until its
// grace window ends; registering it for anyone else returns
// ErrConnectionOwned and leaves sink untouched.
func (r *Registry) Register(userID, connectionID string, sink Sink) (*ConnectionEntry, error) {
	key := slotKey(userID, connectionID)
	for {
		v, _ := r.slots.LoadOrStore(key, &slot{})
		s := v.(*slot)

		s.mu.Lock()
		if s.removed {
			// Lost a race with grace expiry; the slot is gone from the map.
			s.mu.Unlock()
			continue
		}
		if owner, loaded := r.owners.LoadOrStore(connectionID, userID); loaded && owner.(string) != userID {
			fresh := s.state == nil
			if fresh {
				s.removed = true
			}
			s.mu.Unlock()
			if fresh {
				r.slots.CompareAndDelete(key, s)
			}
			slog.Warn("Refused connection id owned by another user", "user_id", userID, "connection_id", connectionID)
			return nil, ErrConnectionOwned
		}

		old := s.state
		now := r.clock.Now()
		s.state = &connState{
			userID:       userID,
			connectionID: connectionID,
			sink:         sink,
			connectedAt:  now,
			lastActivity: now,
			connected:    true,
			generation:   r.generation.Add(1),
		}

		pending := s.buffer
		s.buffer = nil
		for _, data := range pending {
			if err := r.write(context.Background(), s.state, data); err != nil {
				slog.Warn("Failed to flush buffered event",
					"user_id", userID, "connection_id", connectionID, "error", err)
				break
			}
		}
		entry := s.state.snapshot()
		s.mu.Unlock()

		if old != nil && old.connected && old.sink != nil && old.sink != sink {
			if err := old.sink.Close(); err != nil {
				slog.Debug("Error closing replaced sink", "connection_id", connectionID, "error", err)
			}
			slog.Info("Connection replaced", "user_id", userID, "connection_id", connectionID)
		} else {
			slog.Info("Connection registered", "user_id", userID, "connection_id", connectionID,
				"flushed", len(pending))
		}
		return entry, nil
	}
}

// Get returns a snapshot of the entry for (userID, connectionID), including
// a disconnected entry still inside its grace window.
func (r *Registry) Get(userID, connectionID string) (*ConnectionEntry, bool) {
	v, ok := r.slots.Load(slotKey(userID, connectionID))
	if !ok {
		return nil, false
	}
	s := v.(*slot)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed || s.state == nil {
		return nil, false
	}
	return s.state.snapshot(), true
}

// Owner returns the user a connection id is registered to.
func (r *Registry) Owner(connectionID string) (string, bool) {
	v, ok := r.owners.Load(connectionID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Unregister marks the connection disconnected, closes its sink and removes
// its routing once the grace window passes. Returns false if the connection
// was not connected.
func (r *Registry) Unregister(connectionID string) bool {
	userID, ok := r.Owner(connectionID)
	if !ok {
		return false
	}
	return r.disconnect(userID, connectionID, 0)
}

// Release unregisters entry only if it is still the current registration for
// its key. Connection handlers use it so a superseded connection's teardown
// cannot disconnect its replacement.
func (r *Registry) Release(entry *ConnectionEntry) bool {
	if entry == nil {
		return false
	}
	return r.disconnect(entry.UserID, entry.ConnectionID, entry.Generation)
}

func (r *Registry) disconnect(userID, connectionID string, generation uint64) bool {
	key := slotKey(userID, connectionID)
	v, ok := r.slots.Load(key)
	if !ok {
		return false
	}
	s := v.(*slot)

	s.mu.Lock()
	st := s.state
	if s.removed || st == nil || !st.connected || (generation != 0 && st.generation != generation) {
		s.mu.Unlock()
		return false
	}
	st.connected = false
	st.lastActivity = r.clock.Now()
	sink := st.sink
	st.sink = nil
	gen := st.generation
	s.mu.Unlock()

	if err := sink.Close(); err != nil {
		slog.Debug("Error closing sink", "connection_id", connectionID, "error", err)
	}
	slog.Info("Connection unregistered", "user_id", userID, "connection_id", connectionID,
		"grace", r.grace)

	if r.grace <= 0 {
		r.expire(key, s, gen)
	} else {
		r.clock.AfterFunc(r.grace, func() { r.expire(key, s, gen) })
	}
	return true
}

// expire removes a slot whose grace window ended without a reconnect.
func (r *Registry) expire(key string, s *slot, generation uint64) {
	s.mu.Lock()
	st := s.state
	if s.removed || st == nil || st.connected || st.generation != generation {
		s.mu.Unlock()
		return
	}
	s.removed = true
	dropped := len(s.buffer)
	s.buffer = nil
	// Dropped under the slot lock so a re-register that sees removed
	// cannot have its fresh claim deleted afterwards.
	r.owners.CompareAndDelete(st.connectionID, st.userID)
	s.mu.Unlock()

	r.slots.CompareAndDelete(key, s)
	if dropped > 0 {
		slog.Info("Discarded buffered events after disconnect grace",
			"user_id", st.userID, "connection_id", st.connectionID, "dropped", dropped)
	}
}

// Send writes data to the live sink for (userID, connectionID). It returns
// false, never an error, when there is no live entry or the write fails.
func (r *Registry) Send(ctx context.Context, userID, connectionID string, data []byte) bool {
	v, ok := r.slots.Load(slotKey(userID, connectionID))
	if !ok {
		return false
	}
	s := v.(*slot)

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	if s.removed || st == nil {
		return false
	}
	if !st.connected {
		if r.bufferSize > 0 {
			if len(s.buffer) >= r.bufferSize {
				s.buffer = s.buffer[1:]
			}
			s.buffer = append(s.buffer, append([]byte(nil), data...))
		}
		return false
	}

	if err := r.write(ctx, st, data); err != nil {
		slog.Warn("Failed to send to connection",
			"user_id", userID, "connection_id", connectionID, "error", err)
		return false
	}
	return true
}

// write sends with the configured write timeout. Caller holds the slot lock.
func (r *Registry) write(ctx context.Context, st *connState, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()
	if err := st.sink.Send(writeCtx, data); err != nil {
		return err
	}
	st.lastActivity = r.clock.Now()
	return nil
}

// Touch records inbound activity on a connection.
func (r *Registry) Touch(userID, connectionID string) {
	v, ok := r.slots.Load(slotKey(userID, connectionID))
	if !ok {
		return
	}
	s := v.(*slot)
	s.mu.Lock()
	if s.state != nil && s.state.connected {
		s.state.lastActivity = r.clock.Now()
	}
	s.mu.Unlock()
}

// Stats returns connection counts.
func (r *Registry) Stats() RegistryStats {
	var stats RegistryStats
	r.slots.Range(func(_, v any) bool {
		s := v.(*slot)
		s.mu.Lock()
		if !s.removed && s.state != nil {
			if s.state.connected {
				stats.Active++
			} else {
				stats.Disconnected++
			}
			stats.Buffered += len(s.buffer)
		}
		s.mu.Unlock()
		return true
	})
	return stats
}

// ActiveConnections returns the number of connected entries.
func (r *Registry) ActiveConnections() int {
	return r.Stats().Active
}

// CloseAll disconnects every live connection. Used on shutdown.
func (r *Registry) CloseAll() {
	var entries []*ConnectionEntry
	r.slots.Range(func(_, v any) bool {
		s := v.(*slot)
		s.mu.Lock()
		if !s.removed && s.state != nil && s.state.connected {
			entries = append(entries, s.state.snapshot())
		}
		s.mu.Unlock()
		return true
	})
	for _, e := range entries {
		r.Release(e)
	}
}
