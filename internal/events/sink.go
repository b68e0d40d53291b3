package events

import (
	"sync"

	"github.com/overstoryai/overstory/internal/logging"
	"github.com/overstoryai/overstory/pkg/models"
)

// DefaultSinkBuffer is the queue depth used when no buffer size is given.
const DefaultSinkBuffer = 256

// Sink is a best-effort asynchronous writer for recording paths that
// must never block or fail the caller. Events are queued in a bounded
// buffer; when the buffer is full the oldest queued event is dropped to
// make room. Insert errors are logged and swallowed.
type Sink struct {
	store *Store

	mu      sync.Mutex
	ch      chan models.StoredEvent
	closed  bool
	dropped int64

	done chan struct{}
}

// NewSink starts a sink writing to store. A non-positive buffer falls
// back to DefaultSinkBuffer.
func NewSink(store *Store, buffer int) *Sink {
	if buffer <= 0 {
		buffer = DefaultSinkBuffer
	}
	k := &Sink{
		store: store,
		ch:    make(chan models.StoredEvent, buffer),
		done:  make(chan struct{}),
	}
	go k.run()
	return k
}

// Record queues one event. It never blocks: if the buffer is full the
// oldest queued event is dropped. Recording after Close is a no-op.
func (k *Sink) Record(e models.StoredEvent) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return
	}

	select {
	case k.ch <- e:
		return
	default:
	}

	// Full: drop the oldest queued event. The writer goroutine only
	// drains, so after the drop there is room for the new event.
	select {
	case <-k.ch:
		k.dropped++
	default:
	}
	select {
	case k.ch <- e:
	default:
		k.dropped++
	}
}

// Dropped returns how many events were discarded due to a full buffer.
func (k *Sink) Dropped() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.dropped
}

// Close stops accepting events, waits for the queue to drain, and
// returns. The underlying store is not closed.
func (k *Sink) Close() {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return
	}
	k.closed = true
	close(k.ch)
	k.mu.Unlock()

	<-k.done
}

func (k *Sink) run() {
	defer close(k.done)
	for e := range k.ch {
		if err := k.store.Insert(&e); err != nil {
			logging.ErrorErr(logging.CatStore, "event sink insert failed", err, "agent", e.AgentName, "kind", e.Kind)
		}
	}
}
