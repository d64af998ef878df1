package service

import (
	"time"

	"vitalwatch/internal/alerting"
	"vitalwatch/internal/model"
	"vitalwatch/internal/state"
)

// Status summarises one stream for renderers.
type Status string

const (
	// StatusLoading means no outcome has been applied yet.
	StatusLoading Status = "loading"
	// StatusLive means the last refresh succeeded.
	StatusLive Status = "live"
	// StatusStale means a value is shown but the last refresh failed.
	StatusStale Status = "stale"
	// StatusUnavailable means no value was ever obtained and a refresh failed.
	StatusUnavailable Status = "unavailable"
)

// StatusOf derives the stream status from a store reading.
func StatusOf[T any](r state.Reading[T]) Status {
	switch {
	case r.Unavailable():
		return StatusUnavailable
	case r.Present && r.Stale:
		return StatusStale
	case r.Present:
		return StatusLive
	default:
		return StatusLoading
	}
}

// State is the derived view renderers consume. Alerts are evaluated from the
// last good snapshot on every read and are nil until a snapshot exists.
type State struct {
	SubjectID      string                             `json:"subject_id"`
	RunID          string                             `json:"run_id"`
	Scheduler      string                             `json:"scheduler"`
	SnapshotStatus Status                             `json:"snapshot_status"`
	HistoryStatus  Status                             `json:"history_status"`
	Snapshot       state.Reading[model.Snapshot]      `json:"snapshot"`
	History        state.Reading[model.HistorySeries] `json:"history"`
	Alerts         *alerting.AlertSet                 `json:"alerts"`
	GeneratedAt    time.Time                          `json:"generated_at"`
}

// State returns the current derived state.
func (s *Service) State() State {
	snap := s.snapshots.Read()
	hist := s.history.Read()

	out := State{
		SubjectID:      s.opts.SubjectID,
		RunID:          s.runID,
		Scheduler:      s.scheduler.State().String(),
		SnapshotStatus: StatusOf(snap),
		HistoryStatus:  StatusOf(hist),
		Snapshot:       snap,
		History:        hist,
		GeneratedAt:    s.now().UTC(),
	}
	if snap.Present {
		alerts := s.opts.Rules.Evaluate(snap.Value)
		out.Alerts = &alerts
	}
	return out
}

// Blocking reports whether the dashboard has nothing to show for the snapshot
// stream: the first fetch failed and no value exists.
func (st State) Blocking() bool {
	return st.SnapshotStatus == StatusUnavailable
}
