package watchdog

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/logging"
	"github.com/overstoryai/overstory/internal/state"
)

// DefaultTouchInterval floors how often one agent's activity is
// written back to the store.
const DefaultTouchInterval = 5 * time.Second

// ActivityWatcher mirrors writes under the agent log tree into the
// session store's last_activity column. Each agent owns a directory
// under the log root; any file written inside it counts as activity.
type ActivityWatcher struct {
	fsWatcher *fsnotify.Watcher
	logsDir   string
	store     state.SessionWriter
	interval  time.Duration
	done      chan struct{}

	mu        sync.Mutex
	lastTouch map[string]time.Time

	now func() time.Time
}

// NewActivityWatcher creates a watcher over logsDir. A non-positive
// interval falls back to DefaultTouchInterval.
func NewActivityWatcher(st state.SessionWriter, logsDir string, interval time.Duration) (*ActivityWatcher, error) {
	if interval <= 0 {
		interval = DefaultTouchInterval
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errs.Config("create filesystem watcher").Wrap(err)
	}
	return &ActivityWatcher{
		fsWatcher: fsw,
		logsDir:   logsDir,
		store:     st,
		interval:  interval,
		done:      make(chan struct{}),
		lastTouch: make(map[string]time.Time),
		now:       time.Now,
	}, nil
}

// Start registers the existing log tree and begins processing events.
// Watches are not recursive, so every directory is added individually
// and new ones are picked up as they appear.
func (a *ActivityWatcher) Start() error {
	if err := os.MkdirAll(a.logsDir, 0755); err != nil {
		return errs.Config("create log root %s", a.logsDir).Wrap(err)
	}
	err := filepath.WalkDir(a.logsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if addErr := a.fsWatcher.Add(path); addErr != nil {
			logging.Debug(logging.CatWatchdog, "watch add failed", "path", path, "error", addErr.Error())
		}
		return nil
	})
	if err != nil {
		return errs.Config("walk log root %s", a.logsDir).Wrap(err)
	}

	go a.loop()
	return nil
}

// Stop terminates the watcher and releases its file handles.
func (a *ActivityWatcher) Stop() error {
	close(a.done)
	return a.fsWatcher.Close()
}

func (a *ActivityWatcher) loop() {
	for {
		select {
		case event, ok := <-a.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := a.fsWatcher.Add(event.Name); err != nil {
						logging.Debug(logging.CatWatchdog, "watch add failed", "path", event.Name, "error", err.Error())
					}
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if agent := a.agentFor(event.Name); agent != "" {
				a.touch(agent)
			}
		case err, ok := <-a.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Debug(logging.CatWatchdog, "watch error", "error", err.Error())
		case <-a.done:
			return
		}
	}
}

// agentFor maps a path under the log root to the agent owning it: the
// first path element below the root. Paths outside the root map to "".
func (a *ActivityWatcher) agentFor(path string) string {
	rel, err := filepath.Rel(a.logsDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	if i := strings.IndexByte(rel, filepath.Separator); i >= 0 {
		return rel[:i]
	}
	return rel
}

// touch writes the agent's activity through, at most once per
// interval. Store errors are swallowed; a log write for a purged
// session is not worth crashing the watcher over.
func (a *ActivityWatcher) touch(agent string) {
	now := a.now()
	a.mu.Lock()
	if last, ok := a.lastTouch[agent]; ok && now.Sub(last) < a.interval {
		a.mu.Unlock()
		return
	}
	a.lastTouch[agent] = now
	a.mu.Unlock()

	if err := a.store.UpdateLastActivity(agent); err != nil {
		logging.Debug(logging.CatWatchdog, "activity touch failed", "agent", agent, "error", err.Error())
	}
}
