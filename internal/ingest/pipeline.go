package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/thebridgeproject/bridge/internal/journey"
	"github.com/thebridgeproject/bridge/internal/metrics"
)

// Ingestion paths, used as metric labels.
const (
	PathSingle = "single"
	PathBatch  = "batch"
	PathAction = "action"
)

// Archiver persists events outside the process.
type Archiver interface {
	Append(ctx context.Context, evs []journey.Event) error
}

// Config sizes the archive worker pool.
type Config struct {
	Workers      int
	QueueDepth   int
	WriteTimeout time.Duration
}

// BatchResult reports what TrackBatch did with a batch.
type BatchResult struct {
	JobID     string `json:"jobId"`
	Processed int    `json:"processed"`
	Rejected  int    `json:"rejected"`
}

// Pipeline is the single entry point for journey events: it stamps and
// validates them, appends them to the store and hands them to the archive.
type Pipeline struct {
	store   *journey.Store
	archive Archiver
	pool    *workerPool[[]journey.Event]
	conf    Config
	now     func() time.Time
	log     *slog.Logger
}

// New starts a Pipeline. archive may be nil, in which case events live only
// in the store.
func New(ctx context.Context, store *journey.Store, archive Archiver, conf Config, now func() time.Time, log *slog.Logger) *Pipeline {
	if conf.Workers <= 0 {
		conf.Workers = 2
	}
	if conf.QueueDepth <= 0 {
		conf.QueueDepth = 1000
	}
	if conf.WriteTimeout <= 0 {
		conf.WriteTimeout = 5 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{store: store, archive: archive, conf: conf, now: now, log: log}
	if archive != nil {
		p.pool = newWorkerPool(ctx, conf.Workers, conf.QueueDepth, p.write)
	}
	return p
}

// Track records one event. eventType, userType and sessionId are required;
// a missing timestamp defaults to now.
func (p *Pipeline) Track(ctx context.Context, ev journey.Event, path string) (journey.Event, error) {
	if err := ev.Require(journey.FieldEventType, journey.FieldUserType, journey.FieldSessionID); err != nil {
		metrics.EventsRejected.WithLabelValues("missing_fields").Inc()
		return ev, err
	}
	p.stamp(&ev)
	p.store.AddEvent(ev)
	metrics.EventsIngested.WithLabelValues(path).Inc()
	p.enqueue([]journey.Event{ev})
	return ev, nil
}

// TrackBatch records the events of one client batch. Events missing
// eventType, timestamp or sessionId are skipped and counted as rejected.
// An event without its own sessionId inherits the batch's.
func (p *Pipeline) TrackBatch(ctx context.Context, sessionID string, evs []journey.Event) BatchResult {
	res := BatchResult{JobID: uuid.NewString()}
	accepted := make([]journey.Event, 0, len(evs))
	for _, ev := range evs {
		if ev.SessionID == "" {
			ev.SessionID = sessionID
		}
		if err := ev.Require(journey.FieldEventType, journey.FieldTimestamp, journey.FieldSessionID); err != nil {
			res.Rejected++
			metrics.EventsRejected.WithLabelValues("missing_fields").Inc()
			continue
		}
		p.stamp(&ev)
		p.store.AddEvent(ev)
		accepted = append(accepted, ev)
	}
	res.Processed = len(accepted)
	metrics.EventsIngested.WithLabelValues(PathBatch).Add(float64(res.Processed))
	p.enqueue(accepted)
	p.log.Debug("batch tracked",
		"job_id", res.JobID, "session_id", sessionID, "processed", res.Processed, "rejected", res.Rejected)
	return res
}

func (p *Pipeline) stamp(ev *journey.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.now().UTC()
	}
}

func (p *Pipeline) enqueue(evs []journey.Event) {
	if p.pool == nil || len(evs) == 0 {
		return
	}
	if !p.pool.Submit(evs) {
		metrics.ArchiveDropped.Inc()
		p.log.Warn("archive queue full, events kept in memory only", "events", len(evs))
	}
	metrics.QueueUtilization.Set(p.QueueUtilization())
}

func (p *Pipeline) write(ctx context.Context, evs []journey.Event) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.conf.WriteTimeout)
	defer cancel()
	if err := p.archive.Append(wctx, evs); err != nil {
		metrics.ArchiveWrites.WithLabelValues("error").Inc()
		p.log.Error("archive write failed", "events", len(evs), "err", err)
		return
	}
	metrics.ArchiveWrites.WithLabelValues("ok").Inc()
}

// QueueUtilization returns archive queue used / capacity (0–1).
func (p *Pipeline) QueueUtilization() float64 {
	if p.pool == nil || p.pool.Cap() == 0 {
		return 0
	}
	return float64(p.pool.Len()) / float64(p.pool.Cap())
}

// Shutdown stops intake and waits for pending archive writes.
func (p *Pipeline) Shutdown() {
	if p.pool != nil {
		p.pool.close()
	}
}
