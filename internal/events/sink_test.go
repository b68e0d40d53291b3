package events

import (
	"testing"
	"time"

	"github.com/overstoryai/overstory/pkg/models"
)

func TestSink_RecordAndDrain(t *testing.T) {
	s := setupTestStore(t)
	k := NewSink(s, 8)

	for i := 0; i < 3; i++ {
		k.Record(models.StoredEvent{AgentName: "birch", Kind: models.EventCustom})
	}
	k.Close()

	evs, err := s.ByAgent("birch", 0)
	if err != nil {
		t.Fatalf("ByAgent() error = %v", err)
	}
	if len(evs) != 3 {
		t.Errorf("drained %d events, want 3", len(evs))
	}
	if k.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", k.Dropped())
	}
}

func TestSink_DropOldestOnOverflow(t *testing.T) {
	s := setupTestStore(t)

	// Build the sink without a running writer so the queue actually
	// fills up.
	k := &Sink{
		store: s,
		ch:    make(chan models.StoredEvent, 2),
		done:  make(chan struct{}),
	}

	for i, name := range []string{"first", "second", "third", "fourth"} {
		k.Record(models.StoredEvent{
			AgentName: name,
			Kind:      models.EventCustom,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Millisecond),
		})
	}

	if k.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", k.Dropped())
	}

	var queued []string
	for len(k.ch) > 0 {
		e := <-k.ch
		queued = append(queued, e.AgentName)
	}
	if len(queued) != 2 || queued[0] != "third" || queued[1] != "fourth" {
		t.Errorf("queued = %v, want the two newest events [third fourth]", queued)
	}
}

func TestSink_RecordAfterCloseIsNoOp(t *testing.T) {
	s := setupTestStore(t)
	k := NewSink(s, 4)
	k.Close()

	// Must not panic or enqueue.
	k.Record(models.StoredEvent{AgentName: "birch", Kind: models.EventCustom})
	k.Close()

	evs, err := s.ByAgent("birch", 0)
	if err != nil {
		t.Fatalf("ByAgent() error = %v", err)
	}
	if len(evs) != 0 {
		t.Errorf("store has %d events, want 0 after post-close record", len(evs))
	}
}

func TestSink_SwallowsInsertErrors(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	k := NewSink(s, 4)
	s.Close()

	// Inserts now fail; Record and Close must still return cleanly.
	k.Record(models.StoredEvent{AgentName: "birch", Kind: models.EventCustom})
	k.Close()
}
