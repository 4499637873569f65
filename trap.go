package crashdump

import (
	"context"
	"os"
	ossignal "os/signal" // rename so we can have function args named 'signal'
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// trapKind distinguishes the two kinds of handlers that may occupy a trap slot
type trapKind int

const (
	fatalTrap trapKind = iota + 1
	sampleTrap
)

func (k trapKind) String() string {
	switch k {
	case fatalTrap:
		return "fatal"
	case sampleTrap:
		return "sample"
	default:
		return "unknown"
	}
}

// trap is a handler for a signal. A nil *trap stands for the runtime's default disposition.
type trap struct {
	kind trapKind
	fn   func(os.Signal)
}

// trapTable tracks the handler installed for each signal. There is one per process, because
// signal dispositions are per process.
//
// Each signal with a handler gets its own channel and dispatch goroutine, so that restoring one
// signal never affects another, and a handler that blocks (like the crash handler waiting on a
// sample) never prevents other signals from being handled.
type trapTable struct {
	mu    sync.Mutex
	slots map[os.Signal]*trapSlot
}

type trapSlot struct {
	current atomic.Pointer[trap]
	cleanup func()
}

var traps = &trapTable{slots: make(map[os.Signal]*trapSlot)}

// install makes t the handler for the signal, returning the handler it displaced.
func (tt *trapTable) install(signal os.Signal, t *trap) (prev *trap) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return tt.installLocked(signal, t)
}

func (tt *trapTable) installLocked(signal os.Signal, t *trap) (prev *trap) {
	if s, ok := tt.slots[signal]; ok {
		return s.current.Swap(t)
	}
	if t == nil {
		return nil
	}

	s := &trapSlot{}
	s.current.Store(t)

	ch := make(chan os.Signal, 1)
	ossignal.Notify(ch, signal)
	s.cleanup = func() {
		ossignal.Stop(ch)
		close(ch)
	}
	// The dispatcher drops the pprof labels it inherits from whoever created the slot: only
	// registered goroutines may carry a thread label.
	started := make(chan struct{})
	go func() {
		pprof.SetGoroutineLabels(context.Background())
		close(started)

		for {
			sig, ok := <-ch
			if !ok {
				return
			}
			if h := s.current.Load(); h != nil {
				h.fn(sig)
			}
		}
	}()
	<-started

	tt.slots[signal] = s
	return nil
}

// restore reinstates a handler returned by install. Restoring nil returns the signal to the
// runtime's default handling.
func (tt *trapTable) restore(signal os.Signal, prev *trap) {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	s, ok := tt.slots[signal]
	if !ok {
		tt.installLocked(signal, prev)
		return
	}

	if prev != nil {
		s.current.Store(prev)
		return
	}

	s.current.Store(nil)
	s.cleanup()
	delete(tt.slots, signal)
}

// current returns the handler installed for the signal, or nil for the runtime default.
func (tt *trapTable) current(signal os.Signal) *trap {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	if s, ok := tt.slots[signal]; ok {
		return s.current.Load()
	}
	return nil
}

// raise delivers the signal to this process
func raise(signal os.Signal) error {
	sig, ok := signal.(syscall.Signal)
	if !ok {
		return unix.EINVAL
	}
	return unix.Kill(unix.Getpid(), sig)
}

func signalName(signal os.Signal) string {
	if sig, ok := signal.(syscall.Signal); ok {
		return unix.SignalName(sig)
	}
	return signal.String()
}

func signalNumber(signal os.Signal) int {
	if sig, ok := signal.(syscall.Signal); ok {
		return int(sig)
	}
	return 0
}
