package journey

import (
	"time"

	"github.com/thebridgeproject/bridge/internal/filter"
)

// Snapshot is the dashboard view of the store.
type Snapshot struct {
	Summary      Summary   `json:"summary"`
	Metrics      Breakdown `json:"metrics"`
	RecentEvents []Event   `json:"recentEvents"`
	Timestamp    time.Time `json:"timestamp"`
}

// Summary holds the headline counts over the metrics window.
type Summary struct {
	TotalEvents    int   `json:"totalEvents"`
	ActiveSessions int   `json:"activeSessions"`
	DivineEvents   int   `json:"divineEvents"`
	StoredEvents   int   `json:"storedEvents"`
	StoredSessions int   `json:"storedSessions"`
	WindowMs       int64 `json:"windowMs"`
}

// Breakdown groups windowed events by tag.
type Breakdown struct {
	EventTypes map[string]int `json:"eventTypes"`
	UserTypes  map[string]int `json:"userTypes"`
}

const unknownTag = "unknown"

// SessionMetrics aggregates the events of the last metrics window. It is
// recomputed from scratch on every call and does not modify the store.
func (s *Store) SessionMetrics() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	windowed := s.sinceLocked(now.Add(-s.cfg.MetricsWindow))

	b := Breakdown{
		EventTypes: make(map[string]int),
		UserTypes:  make(map[string]int),
	}
	sessions := make(map[string]struct{})
	highlighted := 0
	for i := range windowed {
		ev := &windowed[i]
		b.EventTypes[tagOrUnknown(ev.EventType)]++
		b.UserTypes[tagOrUnknown(ev.UserType)]++
		sessions[ev.SessionID] = struct{}{}
		if filter.Match(s.cfg.Highlight, ev) {
			highlighted++
		}
	}

	n := min(s.cfg.RecentLimit, len(s.events))
	recent := make([]Event, 0, n)
	for i := len(s.events) - 1; i >= len(s.events)-n; i-- {
		recent = append(recent, s.events[i])
	}

	return Snapshot{
		Summary: Summary{
			TotalEvents:    len(windowed),
			ActiveSessions: len(sessions),
			DivineEvents:   highlighted,
			StoredEvents:   len(s.events),
			StoredSessions: len(s.sessions),
			WindowMs:       s.cfg.MetricsWindow.Milliseconds(),
		},
		Metrics:      b,
		RecentEvents: recent,
		Timestamp:    now,
	}
}

func tagOrUnknown(s string) string {
	if s == "" {
		return unknownTag
	}
	return s
}
