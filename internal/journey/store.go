package journey

import (
	"sort"
	"sync"
	"time"

	"github.com/thebridgeproject/bridge/internal/filter"
	"github.com/thebridgeproject/bridge/internal/metrics"
)

// Retention bases for session buckets.
const (
	RetainByStart        = "start"
	RetainByLastActivity = "last_activity"
)

// DefaultHighlight selects the events counted in Summary.DivineEvents.
const DefaultHighlight = `isDivine == true OR metadata.isDivine == true OR userType == "divine-warrior"`

// Config bounds the store.
type Config struct {
	MaxEvents        int           // global list cap, oldest dropped first
	SessionRetention time.Duration // bucket lifetime
	// RetentionBasis picks the bucket timestamp compared against
	// SessionRetention: RetainByStart (default) or RetainByLastActivity.
	RetentionBasis string
	MetricsWindow  time.Duration // look-back of SessionMetrics
	RecentLimit    int           // events in Snapshot.RecentEvents
	Highlight      filter.Expr
}

// DefaultConfig returns the production bounds.
func DefaultConfig() Config {
	return Config{
		MaxEvents:        1000,
		SessionRetention: 24 * time.Hour,
		RetentionBasis:   RetainByStart,
		MetricsWindow:    time.Hour,
		RecentLimit:      10,
		Highlight:        filter.MustParse(DefaultHighlight),
	}
}

// SessionBucket groups the events of one session.
type SessionBucket struct {
	Events       []Event   `json:"events"`
	StartTime    time.Time `json:"startTime"`
	LastActivity time.Time `json:"lastActivity"`
}

// SessionSummary describes a retained bucket without its events.
type SessionSummary struct {
	SessionID    string    `json:"sessionId"`
	StartTime    time.Time `json:"startTime"`
	LastActivity time.Time `json:"lastActivity"`
	EventCount   int       `json:"eventCount"`
}

// Store is the process-wide journey log: a capped global list plus
// per-session buckets, each pruned by its own rule. Construct one in main
// and pass it to whoever needs it.
type Store struct {
	mu       sync.RWMutex
	cfg      Config
	now      func() time.Time
	events   []Event
	sessions map[string]*SessionBucket
	subs     map[chan Event]struct{}
}

// NewStore creates an empty store. now defaults to time.Now.
func NewStore(cfg Config, now func() time.Time) *Store {
	def := DefaultConfig()
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = def.MaxEvents
	}
	if cfg.SessionRetention <= 0 {
		cfg.SessionRetention = def.SessionRetention
	}
	if cfg.RetentionBasis == "" {
		cfg.RetentionBasis = def.RetentionBasis
	}
	if cfg.MetricsWindow <= 0 {
		cfg.MetricsWindow = def.MetricsWindow
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = def.RecentLimit
	}
	if cfg.Highlight == nil {
		cfg.Highlight = def.Highlight
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		cfg:      cfg,
		now:      now,
		sessions: make(map[string]*SessionBucket),
		subs:     make(map[chan Event]struct{}),
	}
}

// AddEvent appends ev to the global list and its session bucket, then
// drops every bucket that fell out of retention.
func (s *Store) AddEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.appendLocked(ev, now, now)
	s.pruneLocked(now)
	s.publishLocked(ev)
	s.recordGaugesLocked()
}

// Restore loads archived events, oldest first, without notifying
// subscribers. Buckets take their times from the events.
func (s *Store) Restore(evs []Event) {
	sorted := make([]Event, len(evs))
	copy(sorted, evs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range sorted {
		s.appendLocked(ev, ev.Timestamp, ev.Timestamp)
	}
	s.pruneLocked(s.now())
	s.recordGaugesLocked()
}

func (s *Store) appendLocked(ev Event, start, seen time.Time) {
	s.events = append(s.events, ev)
	if over := len(s.events) - s.cfg.MaxEvents; over > 0 {
		clear(s.events[:over])
		s.events = s.events[over:]
	}

	b, ok := s.sessions[ev.SessionID]
	if !ok {
		b = &SessionBucket{StartTime: start}
		s.sessions[ev.SessionID] = b
	}
	b.Events = append(b.Events, ev)
	b.LastActivity = seen
}

func (s *Store) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.cfg.SessionRetention)
	pruned := 0
	for id, b := range s.sessions {
		basis := b.StartTime
		if s.cfg.RetentionBasis == RetainByLastActivity {
			basis = b.LastActivity
		}
		if basis.Before(cutoff) {
			delete(s.sessions, id)
			pruned++
		}
	}
	if pruned > 0 {
		metrics.SessionsPruned.Add(float64(pruned))
	}
}

func (s *Store) recordGaugesLocked() {
	metrics.EventsStored.Set(float64(len(s.events)))
	metrics.SessionsStored.Set(float64(len(s.sessions)))
}

// Subscribe returns a channel receiving every event added after the call.
// Events are dropped for a subscriber whose buffer is full. Call cancel to
// unsubscribe; it closes the channel.
func (s *Store) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) publishLocked(ev Event) {
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// AllEvents returns a copy of the global list, oldest first.
func (s *Store) AllEvents() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// EventsByTimeRange returns the events whose timestamp is within window of now.
func (s *Store) EventsByTimeRange(window time.Duration) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sinceLocked(s.now().Add(-window))
}

func (s *Store) sinceLocked(cutoff time.Time) []Event {
	out := make([]Event, 0)
	for _, ev := range s.events {
		if ev.Timestamp.After(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}

// Session returns a copy of one bucket.
func (s *Store) Session(id string) (SessionBucket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.sessions[id]
	if !ok {
		return SessionBucket{}, false
	}
	cp := *b
	cp.Events = make([]Event, len(b.Events))
	copy(cp.Events, b.Events)
	return cp, true
}

// ActiveSessions lists the retained buckets, most recently active first.
func (s *Store) ActiveSessions() []SessionSummary {
	s.mu.RLock()
	out := make([]SessionSummary, 0, len(s.sessions))
	for id, b := range s.sessions {
		out = append(out, SessionSummary{
			SessionID:    id,
			StartTime:    b.StartTime,
			LastActivity: b.LastActivity,
			EventCount:   len(b.Events),
		})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}
