package watchdog

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/overstoryai/overstory/internal/state"
	"github.com/overstoryai/overstory/pkg/models"
)

// recordingWriter captures UpdateLastActivity calls.
type recordingWriter struct {
	mu      sync.Mutex
	touched []string
	ch      chan string
}

var _ state.SessionWriter = (*recordingWriter)(nil)

func (r *recordingWriter) UpdateLastActivity(name string) error {
	r.mu.Lock()
	r.touched = append(r.touched, name)
	r.mu.Unlock()
	select {
	case r.ch <- name:
	default:
	}
	return nil
}

func (r *recordingWriter) Upsert(*models.AgentSession) error              { return nil }
func (r *recordingWriter) UpdateState(string, models.AgentState) error    { return nil }
func (r *recordingWriter) UpdateEscalation(string, int, *time.Time) error { return nil }
func (r *recordingWriter) Remove(string) error                            { return nil }

func (r *recordingWriter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.touched)
}

// waitTouch blocks until the writer reports activity for want.
func waitTouch(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("no activity recorded for %s", want)
		}
	}
}

func TestActivityWatcher_AgentFor(t *testing.T) {
	a := &ActivityWatcher{logsDir: filepath.Join("/state", "logs")}

	tests := []struct {
		path string
		want string
	}{
		{filepath.Join("/state", "logs", "birch", "20260210", "session.log"), "birch"},
		{filepath.Join("/state", "logs", "birch"), "birch"},
		{filepath.Join("/state", "logs"), ""},
		{filepath.Join("/state", "other", "file"), ""},
		{filepath.Join("/elsewhere", "x"), ""},
	}
	for _, tt := range tests {
		if got := a.agentFor(tt.path); got != tt.want {
			t.Errorf("agentFor(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestActivityWatcher_TouchFloor(t *testing.T) {
	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	current := base

	rec := &recordingWriter{ch: make(chan string, 16)}
	a := &ActivityWatcher{
		store:     rec,
		interval:  time.Minute,
		lastTouch: make(map[string]time.Time),
		now:       func() time.Time { return current },
	}

	a.touch("birch")
	a.touch("birch")
	if got := rec.count(); got != 1 {
		t.Fatalf("touches within the interval = %d, want 1", got)
	}

	current = base.Add(2 * time.Minute)
	a.touch("birch")
	if got := rec.count(); got != 2 {
		t.Fatalf("touches after the interval = %d, want 2", got)
	}

	// Each agent floors independently.
	a.touch("pine")
	if got := rec.count(); got != 3 {
		t.Fatalf("touches = %d, want 3", got)
	}
}

func TestActivityWatcher_RecordsWrites(t *testing.T) {
	root := t.TempDir()
	runDir := filepath.Join(root, "birch", "20260210-120000")
	if err := os.MkdirAll(runDir, 0755); err != nil {
		t.Fatal(err)
	}

	rec := &recordingWriter{ch: make(chan string, 16)}
	a, err := NewActivityWatcher(rec, root, time.Millisecond)
	if err != nil {
		t.Fatalf("NewActivityWatcher() error = %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = a.Stop() }()

	if err := os.WriteFile(filepath.Join(runDir, "session.log"), []byte("tool_start\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitTouch(t, rec.ch, "birch")
}

func TestActivityWatcher_SeesNewAgentDirectory(t *testing.T) {
	root := t.TempDir()
	rec := &recordingWriter{ch: make(chan string, 16)}
	a, err := NewActivityWatcher(rec, root, time.Millisecond)
	if err != nil {
		t.Fatalf("NewActivityWatcher() error = %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = a.Stop() }()

	// Creating the agent's directory is itself activity.
	if err := os.Mkdir(filepath.Join(root, "pine"), 0755); err != nil {
		t.Fatal(err)
	}
	waitTouch(t, rec.ch, "pine")
}
