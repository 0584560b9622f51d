package dispatch

import (
	"sync/atomic"

	"replicator/internal/materialize"
)

// Stats: счётчики маршрутизации, читаются конкурентно из API.
type Stats struct {
	Events      atomic.Int64
	Saved       atomic.Int64
	Deleted     atomic.Int64
	Cascaded    atomic.Int64
	Skipped     atomic.Int64
	FieldErrors atomic.Int64
	Failures    atomic.Int64
}

// FieldError: приёмник для materialize.WithDiagnostics.
func (s *Stats) FieldError(*materialize.FieldError) {
	s.FieldErrors.Add(1)
}

type Snapshot struct {
	Events      int64 `json:"events"`
	Saved       int64 `json:"saved"`
	Deleted     int64 `json:"deleted"`
	Cascaded    int64 `json:"cascaded"`
	Skipped     int64 `json:"skipped"`
	FieldErrors int64 `json:"fieldErrors"`
	Failures    int64 `json:"failures"`
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Events:      s.Events.Load(),
		Saved:       s.Saved.Load(),
		Deleted:     s.Deleted.Load(),
		Cascaded:    s.Cascaded.Load(),
		Skipped:     s.Skipped.Load(),
		FieldErrors: s.FieldErrors.Load(),
		Failures:    s.Failures.Load(),
	}
}
