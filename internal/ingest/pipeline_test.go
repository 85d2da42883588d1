package ingest_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/thebridgeproject/bridge/internal/ingest"
	"github.com/thebridgeproject/bridge/internal/journey"
)

type recordingArchive struct {
	mu   sync.Mutex
	evs  []journey.Event
	fail bool
}

func (a *recordingArchive) Append(_ context.Context, evs []journey.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return errors.New("disk full")
	}
	a.evs = append(a.evs, evs...)
	return nil
}

func (a *recordingArchive) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.evs)
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newPipeline(t *testing.T, arch ingest.Archiver) (*ingest.Pipeline, *journey.Store) {
	t.Helper()
	clock := func() time.Time { return now }
	store := journey.NewStore(journey.Config{}, clock)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := ingest.New(context.Background(), store, arch, ingest.Config{Workers: 1, QueueDepth: 8}, clock, log)
	return p, store
}

func TestTrack_StampsAndStores(t *testing.T) {
	arch := &recordingArchive{}
	p, store := newPipeline(t, arch)

	ev, err := p.Track(context.Background(), journey.Event{
		EventType: "page_view", UserType: "visitor", SessionID: "s1",
	}, ingest.PathSingle)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if ev.ID == "" {
		t.Error("ID not assigned")
	}
	if !ev.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", ev.Timestamp, now)
	}
	if got := store.AllEvents(); len(got) != 1 || got[0].ID != ev.ID {
		t.Fatalf("store = %+v", got)
	}

	p.Shutdown()
	if arch.len() != 1 {
		t.Errorf("archived %d events, want 1", arch.len())
	}
}

func TestTrack_MissingFields(t *testing.T) {
	p, store := newPipeline(t, nil)
	_, err := p.Track(context.Background(), journey.Event{EventType: "page_view"}, ingest.PathSingle)

	var mf *journey.MissingFieldsError
	if !errors.As(err, &mf) {
		t.Fatalf("err = %v, want MissingFieldsError", err)
	}
	if len(mf.Fields) != 2 || mf.Fields[0] != "userType" || mf.Fields[1] != "sessionId" {
		t.Errorf("fields = %v", mf.Fields)
	}
	if len(store.AllEvents()) != 0 {
		t.Error("invalid event stored")
	}
	p.Shutdown()
}

func TestTrackBatch_FiltersIncomplete(t *testing.T) {
	arch := &recordingArchive{}
	p, store := newPipeline(t, arch)

	res := p.TrackBatch(context.Background(), "batch-session", []journey.Event{
		{EventType: "page_view", Timestamp: now.Add(-time.Minute)},
		{EventType: "click", SessionID: "other", Timestamp: now.Add(-time.Second)},
		{SessionID: "s1", Timestamp: now},
		{EventType: "scroll", SessionID: "s1"},
		{EventType: "scroll", UserType: "visitor", SessionID: "s1", Timestamp: now, ID: "x"},
	})
	if res.Processed != 3 || res.Rejected != 2 {
		t.Fatalf("result = %+v, want 3 processed / 2 rejected", res)
	}
	if res.JobID == "" {
		t.Error("JobID empty")
	}
	if _, ok := store.Session("batch-session"); !ok {
		t.Error("batch session not created")
	}
	if _, ok := store.Session("other"); !ok {
		t.Error("event's own session not kept")
	}

	p.Shutdown()
	if arch.len() != 3 {
		t.Errorf("archived %d, want 3", arch.len())
	}
}

func TestArchiveFailureKeepsEvents(t *testing.T) {
	arch := &recordingArchive{fail: true}
	p, store := newPipeline(t, arch)
	if _, err := p.Track(context.Background(), journey.Event{
		EventType: "a", UserType: "visitor", SessionID: "s1",
	}, ingest.PathAction); err != nil {
		t.Fatalf("Track: %v", err)
	}
	p.Shutdown()
	if len(store.AllEvents()) != 1 {
		t.Error("event lost when archive failed")
	}
}

func TestShutdownTwiceAndTrackAfter(t *testing.T) {
	arch := &recordingArchive{}
	p, store := newPipeline(t, arch)
	p.Shutdown()
	p.Shutdown()

	if _, err := p.Track(context.Background(), journey.Event{
		EventType: "a", UserType: "visitor", SessionID: "s1",
	}, ingest.PathSingle); err != nil {
		t.Fatalf("Track after shutdown: %v", err)
	}
	if len(store.AllEvents()) != 1 {
		t.Error("store should still accept events")
	}
	if arch.len() != 0 {
		t.Error("archive written after shutdown")
	}
	if u := p.QueueUtilization(); u != 0 {
		t.Errorf("QueueUtilization = %v, want 0", u)
	}
}
