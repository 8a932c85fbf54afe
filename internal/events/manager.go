package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperai/phoenix/go/orchestrator/internal/metrics"
)

// Event is one entry in the system event log: directive lifecycle, agent
// executions, maintenance, faults.
type Event struct {
	Type           string    `json:"type"`
	Source         string    `json:"source"`
	Details        string    `json:"details,omitempty"`
	Duration       float64   `json:"duration,omitempty"`
	Success        bool      `json:"success"`
	AlignmentScore float64   `json:"alignment_score,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Seq            uint64    `json:"seq"`
}

// Event types emitted by the orchestration core.
const (
	TypeDirectiveReceived  = "directive_received"
	TypeDirectiveCompleted = "directive_completed"
	TypeTaskCompleted      = "agent_task_completed"
	TypeEscalation         = "escalation"
	TypeSystemError        = "system_error"
	TypeMaintenance        = "maintenance"
)

// Marshal returns the JSON encoding for transport or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Store persists events beyond the in-memory ring. Implementations are
// treated as slow, possibly-failing remotes.
type Store interface {
	Append(ctx context.Context, e Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
	Trim(ctx context.Context, keep int64) error
}

// Manager is the process-local event sink: a sequence-stamped ring buffer for
// replay plus non-blocking fan-out to live subscribers. An optional Store
// mirrors events to durable storage.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	ring        []Event
	start       int
	count       int
	nextSeq     uint64
	store       Store
	logger      *zap.Logger
}

// NewManager creates an event manager with the given ring capacity.
func NewManager(capacity int, store Store, logger *zap.Logger) *Manager {
	if capacity <= 0 {
		capacity = 512
	}
	return &Manager{
		subscribers: make(map[chan Event]struct{}),
		ring:        make([]Event, capacity),
		nextSeq:     1, // seq 0 means "nothing seen" to replay clients
		store:       store,
		logger:      logger,
	}
}

// Log stamps, records, and fans out an event. Slow subscribers are skipped
// rather than blocking the caller; store failures are logged and swallowed so
// a dead backend never stalls the coordinator.
func (m *Manager) Log(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	m.mu.Lock()
	e.Seq = m.nextSeq
	m.nextSeq++
	m.push(e)
	subs := make([]chan Event, 0, len(m.subscribers))
	for ch := range m.subscribers {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(e.Type).Inc()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}

	if m.store != nil {
		if err := m.store.Append(ctx, e); err != nil {
			m.logger.Warn("Event store append failed",
				zap.String("type", e.Type),
				zap.Error(err),
			)
		}
	}
}

// Subscribe returns a buffered channel of future events. The caller must
// drain it and call Unsubscribe when done.
func (m *Manager) Subscribe(buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (m *Manager) Unsubscribe(ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscribers[ch]; ok {
		delete(m.subscribers, ch)
		close(ch)
	}
}

// ReplaySince returns buffered events with Seq > since, best effort within
// ring capacity.
func (m *Manager) ReplaySince(since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Event, 0, m.count)
	for i := 0; i < m.count; i++ {
		e := m.ring[(m.start+i)%len(m.ring)]
		if e.Seq > since {
			out = append(out, e)
		}
	}
	return out
}

// Recent returns buffered events newer than the given window, oldest first.
// Feeds the metrics-analysis agent.
func (m *Manager) Recent(window time.Duration) []Event {
	cutoff := time.Now().Add(-window)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Event, 0, m.count)
	for i := 0; i < m.count; i++ {
		e := m.ring[(m.start+i)%len(m.ring)]
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// History returns up to limit of the newest events, oldest first. The durable
// store is preferred when configured since it outlives restarts; store errors
// fall back to the ring.
func (m *Manager) History(ctx context.Context, limit int) []Event {
	if limit <= 0 {
		limit = 100
	}
	if m.store != nil {
		out, err := m.store.Recent(ctx, limit)
		if err == nil {
			return out
		}
		m.logger.Warn("Event store query failed, serving from ring", zap.Error(err))
	}
	all := m.ReplaySince(0)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

// Trim asks the durable store to drop old entries, keeping the newest keep.
// No-op without a store.
func (m *Manager) Trim(ctx context.Context, keep int64) error {
	if m.store == nil {
		return nil
	}
	return m.store.Trim(ctx, keep)
}

func (m *Manager) push(e Event) {
	if m.count < len(m.ring) {
		m.ring[(m.start+m.count)%len(m.ring)] = e
		m.count++
		return
	}
	m.ring[m.start] = e
	m.start = (m.start + 1) % len(m.ring)
}
