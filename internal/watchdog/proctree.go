package watchdog

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DefaultGracePeriod is how long SIGTERM gets before SIGKILL.
const DefaultGracePeriod = 2 * time.Second

// TreeKiller signals a process tree deepest-first: SIGTERM to every
// descendant and then the root, a grace period, then SIGKILL for any
// survivor. The root pid is always signaled last so parents can reap
// children while both are still standing.
type TreeKiller struct {
	Grace time.Duration

	children func(pid int) []int
	signal   func(pid int, sig syscall.Signal) error
	alive    func(pid int) bool
	sleep    func(d time.Duration)
}

// NewTreeKiller creates a killer backed by /proc and real signals.
// A non-positive grace falls back to DefaultGracePeriod.
func NewTreeKiller(grace time.Duration) *TreeKiller {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &TreeKiller{
		Grace:    grace,
		children: readChildren,
		signal:   syscall.Kill,
		alive:    processAlive,
		sleep:    time.Sleep,
	}
}

// Kill terminates the tree rooted at pid and returns every pid that
// was signaled, deepest-first with the root last.
func (k *TreeKiller) Kill(root int) []int {
	if root <= 0 {
		return nil
	}

	order := append(descendantsDeepestFirst(k.children, root), root)

	for _, pid := range order {
		// ESRCH here just means the process beat us to the exit.
		_ = k.signal(pid, syscall.SIGTERM)
	}

	k.sleep(k.Grace)

	for _, pid := range order {
		if k.alive(pid) {
			_ = k.signal(pid, syscall.SIGKILL)
		}
	}
	return order
}

// descendantsDeepestFirst walks the tree breadth-first and reverses,
// so the deepest processes come first and direct children last.
func descendantsDeepestFirst(children func(int) []int, root int) []int {
	var order []int
	queue := []int{root}
	seen := map[int]bool{root: true}

	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		for _, child := range children(pid) {
			if child <= 0 || seen[child] {
				continue
			}
			seen[child] = true
			order = append(order, child)
			queue = append(queue, child)
		}
	}

	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// Descendants returns every descendant pid of root, deepest first.
func Descendants(root int) []int {
	return descendantsDeepestFirst(readChildren, root)
}

// readChildren reads direct child pids from /proc/<pid>/task/*/children.
// Each thread of a process lists the children it forked.
func readChildren(pid int) []int {
	matches, err := filepath.Glob(fmt.Sprintf("/proc/%d/task/*/children", pid))
	if err != nil {
		return nil
	}

	var pids []int
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		for _, field := range strings.Fields(string(data)) {
			child, err := strconv.Atoi(field)
			if err != nil || child <= 0 {
				continue
			}
			pids = append(pids, child)
		}
	}
	return pids
}

// processAlive reports whether pid exists. EPERM still means the
// process is there, just not ours to signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
