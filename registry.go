package crashdump

import (
	"context"
	"os"
	"runtime/pprof"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// thread is an entry in the registry: a goroutine that asked to have its backtrace included in
// crash reports.
//
// Once linked into the registry, a thread's fields never change. Unlinking it leaves next intact,
// so a lock-free traversal that's currently visiting it can carry on.
type thread struct {
	name   string
	id     uint64
	label  string
	signal os.Signal
	// ctx holds the labels to put back on unregistration
	ctx context.Context

	next atomic.Pointer[thread]
}

// registry is the list of registered threads, most recently registered first.
//
// Registration and unregistration happen under mu. The crash handler instead uses each, which
// never locks: the goroutine that crashed might be holding mu.
type registry struct {
	mu   sync.Mutex
	head atomic.Pointer[thread]

	// dispositions displaced by the first registration on each signal, restored by the last
	// unregistration.
	displaced map[os.Signal]*trap
	users     map[os.Signal]int
}

// RegisterThread adds the calling goroutine to the set of threads whose backtraces are collected
// after a crash. If signal is nil (or zero), the configured SampleSignal is used.
//
// The goroutine's pprof labels are replaced with one identifying it; use RegisterThreadContext to
// keep existing labels.
func (r *Reporter) RegisterThread(name string, signal os.Signal) error {
	return r.RegisterThreadContext(context.Background(), name, signal)
}

// RegisterThreadContext is like RegisterThread, but keeps the pprof labels in ctx.
func (r *Reporter) RegisterThreadContext(ctx context.Context, name string, signal os.Signal) error {
	if r.closed.Load() {
		return ErrClosed
	}

	if signal == nil || signalNumber(signal) == 0 {
		signal = r.cfg.SampleSignal
	}
	if r.cfg.isFatal(signal) {
		return ErrSignalConflict
	}

	t := &thread{
		name:   name,
		id:     goid(),
		signal: signal,
		ctx:    ctx,
	}
	t.label = strconv.FormatUint(t.id, 10)

	r.threads.mu.Lock()
	defer r.threads.mu.Unlock()

	// Close may have unregistered everything since the check above
	if r.closed.Load() {
		return ErrClosed
	}

	displaced := traps.install(signal, r.sample)
	if r.threads.users[signal] == 0 {
		r.threads.displaced[signal] = displaced
	}
	r.threads.users[signal] += 1

	pprof.SetGoroutineLabels(pprof.WithLabels(ctx, pprof.Labels(labelKey, t.label)))

	t.next.Store(r.threads.head.Load())
	r.threads.head.Store(t)

	r.logger.Info("registered thread", zap.String("name", name), zap.Uint64("goroutine", t.id),
		zap.Stringer("signal", signal))
	return nil
}

// UnregisterThread removes the calling goroutine from the set of registered threads, returning
// ErrNotRegistered if it isn't in it. The goroutine's labels go back to those of the context it
// registered with.
//
// When the last thread using a signal unregisters, the handler that signal had before the first
// of them registered is restored.
func (r *Reporter) UnregisterThread() error {
	id := goid()

	t := r.threads.remove(id)
	if t == nil {
		r.logger.Info("unregister: thread not found", zap.Uint64("goroutine", id))
		return ErrNotRegistered
	}

	pprof.SetGoroutineLabels(t.ctx)

	r.logger.Info("unregistered thread", zap.String("name", t.name), zap.Uint64("goroutine", id))
	return nil
}

// remove unlinks the most recently registered thread with the id, restoring its signal's
// displaced handler if no other thread is using it.
func (reg *registry) remove(id uint64) *thread {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var prev *thread
	for t := reg.head.Load(); t != nil; t = t.next.Load() {
		if t.id != id {
			prev = t
			continue
		}

		if prev == nil {
			reg.head.Store(t.next.Load())
		} else {
			prev.next.Store(t.next.Load())
		}

		reg.users[t.signal] -= 1
		if reg.users[t.signal] == 0 {
			traps.restore(t.signal, reg.displaced[t.signal])
			delete(reg.users, t.signal)
			delete(reg.displaced, t.signal)
		}
		return t
	}

	return nil
}

// removeAll unregisters every thread, as if each had called UnregisterThread
func (reg *registry) removeAll() {
	for {
		t := reg.head.Load()
		if t == nil {
			return
		}
		reg.remove(t.id)
	}
}

// each calls fn with every registered thread, most recently registered first, until fn returns
// false. It doesn't lock, so it may miss concurrent changes.
func (reg *registry) each(fn func(*thread) bool) {
	for t := reg.head.Load(); t != nil; t = t.next.Load() {
		if !fn(t) {
			return
		}
	}
}
