package crashdump

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
)

// The process-wide Reporter used by the package-level functions. Signal handlers can't be given
// arguments, so the handlers it installs are bound to it.
var (
	stdMu sync.Mutex
	std   atomic.Pointer[Reporter]
)

// Init creates the process-wide Reporter from a copy of cfg and installs its handlers. It returns
// ErrNilConfig if cfg is nil, and ErrAlreadyInitialized if Init was already called without a
// matching Uninit.
func Init(cfg *Config) error {
	stdMu.Lock()
	defer stdMu.Unlock()

	if std.Load() != nil {
		return ErrAlreadyInitialized
	}
	r, err := New(cfg)
	if err != nil {
		return err
	}
	std.Store(r)
	return nil
}

// Uninit closes the process-wide Reporter, restoring the signal handlers that were in place
// before Init. Init may be called again afterwards.
func Uninit() error {
	stdMu.Lock()
	defer stdMu.Unlock()

	r := std.Load()
	if r == nil {
		return ErrNotInitialized
	}
	std.Store(nil)
	return r.Close()
}

// RegisterThread registers the calling goroutine with the process-wide Reporter. See
// [Reporter.RegisterThread].
func RegisterThread(name string, signal os.Signal) error {
	return RegisterThreadContext(context.Background(), name, signal)
}

// RegisterThreadContext registers the calling goroutine with the process-wide Reporter. See
// [Reporter.RegisterThreadContext].
func RegisterThreadContext(ctx context.Context, name string, signal os.Signal) error {
	r := std.Load()
	if r == nil {
		return ErrNotInitialized
	}
	return r.RegisterThreadContext(ctx, name, signal)
}

// UnregisterThread unregisters the calling goroutine from the process-wide Reporter. See
// [Reporter.UnregisterThread].
func UnregisterThread() error {
	r := std.Load()
	if r == nil {
		return ErrNotInitialized
	}
	return r.UnregisterThread()
}

// Guard reports a panic in the calling goroutine through the process-wide Reporter, then
// terminates the process. If Init hasn't been called, the panic continues. It must be deferred
// directly:
//
//	defer crashdump.Guard()
func Guard() {
	v := recover()
	if v == nil {
		return
	}

	r := std.Load()
	if r == nil || r.closed.Load() {
		panic(v)
	}
	r.handlePanic(v)
}
