// Package state holds the in-memory snapshot store and history buffer.
//
// Each store keeps the last successfully fetched value plus a staleness flag.
// A failed refresh marks the store stale and records the cause but never
// discards the value, so renderers keep showing the last known state.
package state

import (
	"encoding/json"
	"sync"
	"time"

	"vitalwatch/internal/model"
)

// Reading is a point-in-time copy of a store.
type Reading[T any] struct {
	Value T
	// Present is false until the first successful fetch.
	Present bool
	// Stale is set when the most recent applied refresh failed.
	Stale bool
	// Err is the cause of the most recent failure while Stale.
	Err error
	// UpdatedAt is when Value was stored.
	UpdatedAt time.Time
	// CheckedAt is when the most recent outcome, success or failure, was applied.
	CheckedAt time.Time
	// Seq is the sequence number of the fetch that produced Value.
	Seq uint64
}

// Unavailable reports the blocking state: nothing was ever obtained and the
// last attempt failed.
func (r Reading[T]) Unavailable() bool {
	return !r.Present && r.Err != nil
}

// Pending reports that no outcome has been applied yet.
func (r Reading[T]) Pending() bool {
	return r.CheckedAt.IsZero()
}

// MarshalJSON renders the reading for external consumers.
func (r Reading[T]) MarshalJSON() ([]byte, error) {
	out := struct {
		Value     *T         `json:"value"`
		Present   bool       `json:"present"`
		Stale     bool       `json:"stale"`
		Error     string     `json:"error,omitempty"`
		UpdatedAt *time.Time `json:"updated_at,omitempty"`
		CheckedAt *time.Time `json:"checked_at,omitempty"`
	}{
		Present: r.Present,
		Stale:   r.Stale,
	}
	if r.Present {
		v := r.Value
		out.Value = &v
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	if !r.UpdatedAt.IsZero() {
		t := r.UpdatedAt.UTC()
		out.UpdatedAt = &t
	}
	if !r.CheckedAt.IsZero() {
		t := r.CheckedAt.UTC()
		out.CheckedAt = &t
	}
	return json.Marshal(out)
}

// Store holds one live value of T and its staleness.
type Store[T any] struct {
	name string
	now  func() time.Time

	mu      sync.RWMutex
	current Reading[T]
	lastSeq uint64

	changes Signal
}

// New creates an empty store.
func New[T any](name string) *Store[T] {
	return &Store[T]{name: name, now: time.Now}
}

// Name identifies the stream the store belongs to.
func (s *Store[T]) Name() string {
	return s.name
}

// Update applies the outcome of the fetch tagged seq. On success the value is
// replaced and staleness cleared; on failure the value is kept and the store
// marked stale. Outcomes whose seq is not newer than the last applied one are
// dropped so a late response cannot roll the store back. It reports whether the
// outcome was applied.
func (s *Store[T]) Update(seq uint64, value T, err error) bool {
	s.mu.Lock()
	if seq <= s.lastSeq {
		s.mu.Unlock()
		return false
	}
	s.lastSeq = seq

	now := s.now()
	next := s.current
	next.CheckedAt = now
	if err != nil {
		next.Stale = true
		next.Err = err
	} else {
		next.Value = value
		next.Present = true
		next.Stale = false
		next.Err = nil
		next.UpdatedAt = now
		next.Seq = seq
	}
	s.current = next
	s.mu.Unlock()

	s.changes.Notify()
	return true
}

// Read returns the current value and staleness.
func (s *Store[T]) Read() Reading[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe is notified after every applied update.
func (s *Store[T]) Subscribe() (<-chan struct{}, func()) {
	return s.changes.Subscribe()
}

// SnapshotStore holds the latest snapshot.
type SnapshotStore = Store[model.Snapshot]

// HistoryBuffer holds the latest history window.
type HistoryBuffer = Store[model.HistorySeries]

// NewSnapshotStore creates the snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return New[model.Snapshot]("snapshot")
}

// NewHistoryBuffer creates the history buffer.
func NewHistoryBuffer() *HistoryBuffer {
	return New[model.HistorySeries]("history")
}
