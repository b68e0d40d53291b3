package watchdog

import (
	"reflect"
	"syscall"
	"testing"
	"time"
)

type sentSignal struct {
	pid int
	sig syscall.Signal
}

// fakeTree builds a TreeKiller over an in-memory process tree.
func fakeTree(children map[int][]int, alive map[int]bool) (*TreeKiller, *[]sentSignal) {
	var sigs []sentSignal
	k := &TreeKiller{
		Grace:    time.Millisecond,
		children: func(pid int) []int { return children[pid] },
		signal: func(pid int, sig syscall.Signal) error {
			sigs = append(sigs, sentSignal{pid, sig})
			return nil
		},
		alive: func(pid int) bool { return alive[pid] },
		sleep: func(time.Duration) {},
	}
	return k, &sigs
}

func TestTreeKiller_Kill(t *testing.T) {
	// 100 -> {101, 102}, 101 -> {103}
	children := map[int][]int{100: {101, 102}, 101: {103}}
	k, sigs := fakeTree(children, map[int]bool{103: true})

	order := k.Kill(100)

	wantOrder := []int{103, 102, 101, 100}
	if !reflect.DeepEqual(order, wantOrder) {
		t.Errorf("Kill() order = %v, want %v", order, wantOrder)
	}

	want := []sentSignal{
		{103, syscall.SIGTERM},
		{102, syscall.SIGTERM},
		{101, syscall.SIGTERM},
		{100, syscall.SIGTERM},
		{103, syscall.SIGKILL},
	}
	if !reflect.DeepEqual(*sigs, want) {
		t.Errorf("signals = %v, want %v", *sigs, want)
	}
}

func TestTreeKiller_KillLeafProcess(t *testing.T) {
	k, sigs := fakeTree(nil, nil)

	order := k.Kill(42)

	if !reflect.DeepEqual(order, []int{42}) {
		t.Errorf("Kill() order = %v, want [42]", order)
	}
	want := []sentSignal{{42, syscall.SIGTERM}}
	if !reflect.DeepEqual(*sigs, want) {
		t.Errorf("signals = %v, want %v", *sigs, want)
	}
}

func TestTreeKiller_KillInvalidPID(t *testing.T) {
	k, sigs := fakeTree(nil, nil)

	if order := k.Kill(0); order != nil {
		t.Errorf("Kill(0) = %v, want nil", order)
	}
	if len(*sigs) != 0 {
		t.Errorf("signals = %v, want none", *sigs)
	}
}

func TestTreeKiller_CyclicTreeTerminates(t *testing.T) {
	// A parent listed as its own descendant must not loop forever.
	children := map[int][]int{100: {101}, 101: {100, 102}}
	k, _ := fakeTree(children, nil)

	order := k.Kill(100)

	wantOrder := []int{102, 101, 100}
	if !reflect.DeepEqual(order, wantOrder) {
		t.Errorf("Kill() order = %v, want %v", order, wantOrder)
	}
}

func TestNewTreeKiller_DefaultGrace(t *testing.T) {
	if k := NewTreeKiller(0); k.Grace != DefaultGracePeriod {
		t.Errorf("Grace = %v, want %v", k.Grace, DefaultGracePeriod)
	}
	if k := NewTreeKiller(5 * time.Second); k.Grace != 5*time.Second {
		t.Errorf("Grace = %v, want 5s", k.Grace)
	}
}
