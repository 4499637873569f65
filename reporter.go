package crashdump

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Reporter writes a crash report when the process receives a fatal signal, or when a guarded
// goroutine panics, and then terminates the process.
//
// Most programs want a single Reporter for the whole process; see [Init].
type Reporter struct {
	cfg    Config
	logger *zap.Logger

	out     *sink
	buf     *backtrace
	threads registry

	fatal     *trap
	sample    *trap
	displaced map[os.Signal]*trap

	// target is the thread currently being asked for its backtrace; sampled is set once its
	// backtrace is in buf.
	target  atomic.Pointer[thread]
	sampled atomic.Bool

	crashing atomic.Bool
	closed   atomic.Bool
	reported chan struct{}

	crashOut *os.File

	exit  func(code int)
	raise func(os.Signal) error
	poll  time.Duration
}

// New creates a Reporter from a copy of cfg and installs its handlers for every fatal signal.
//
// New fails if cfg is nil, or if the sample signal is one of the fatal signals. An unsorted
// symbol table is logged, but otherwise accepted.
func New(cfg *Config) (*Reporter, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	c := cfg.clone()
	r := &Reporter{
		cfg:       c,
		logger:    newLogger(&c),
		out:       newSink(&c),
		buf:       newBacktrace(c.MaxStackDepth),
		displaced: make(map[os.Signal]*trap),
		reported:  make(chan struct{}),
		exit:      os.Exit,
		raise:     raise,
		poll:      time.Second,
	}
	r.threads.displaced = make(map[os.Signal]*trap)
	r.threads.users = make(map[os.Signal]int)
	r.fatal = &trap{kind: fatalTrap, fn: r.handleFatal}
	r.sample = &trap{kind: sampleTrap, fn: r.handleSample}

	if c.isFatal(c.SampleSignal) {
		r.logger.Error("sample signal is also a fatal signal", zap.Stringer("signal", c.SampleSignal))
		return nil, ErrSignalConflict
	}

	r.logger.Debug("initializing",
		zap.String("filename", c.Filename),
		zap.Bool("stream", c.Stream != nil),
		zap.Int("fd", c.FD),
		zap.Int("maxStackDepth", c.MaxStackDepth),
		zap.Stringer("sampleSignal", c.SampleSignal),
		zap.Int("threadWait", c.ThreadWait),
		zap.Stringer("verbosity", c.Verbosity),
	)

	r.validateSymbols()

	if c.RuntimeCrashOutput && c.Filename != "" {
		if err := r.setCrashOutput(); err != nil {
			r.logger.Error("could not set runtime crash output", zap.Error(err))
		}
	}

	for _, sig := range c.Signals {
		r.logger.Debug("catching signal", zap.Stringer("signal", sig))
		r.displaced[sig] = traps.install(sig, r.fatal)
	}

	r.logger.Debug("initialized")
	return r, nil
}

func (r *Reporter) validateSymbols() {
	table := r.cfg.SymbolTable
	if len(table) == 0 {
		return
	}

	r.logger.Info("symbol table provided", zap.Int("symbols", len(table)))
	for _, s := range table {
		r.logger.Debug("symbol", zap.String("name", s.Name), zap.String("address", fmt.Sprintf("%#x", s.Address)))
	}

	if i := table.unsorted(); i != -1 {
		r.logger.Error("symbol table is not sorted",
			zap.Int("index", i),
			zap.String("last", fmt.Sprintf("%#x", table[i-1].Address)),
			zap.String("current", fmt.Sprintf("%#x", table[i].Address)),
		)
	}
}

func (r *Reporter) setCrashOutput() error {
	f, err := os.OpenFile(r.cfg.Filename, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open %q", r.cfg.Filename)
	}
	if err := debug.SetCrashOutput(f, debug.CrashOptions{}); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "set crash output")
	}
	r.crashOut = f
	return nil
}

// Close unregisters every remaining thread and restores the handlers that were in place for each
// fatal signal before New.
func (r *Reporter) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	r.threads.removeAll()
	for sig, prev := range r.displaced {
		traps.restore(sig, prev)
	}

	var err error
	if r.crashOut != nil {
		err = multierr.Append(err, debug.SetCrashOutput(nil, debug.CrashOptions{}))
		err = multierr.Append(err, r.crashOut.Close())
		r.crashOut = nil
	}

	r.logger.Debug("closed")
	return err
}

// Reported returns a channel that's closed once a crash report has been written.
func (r *Reporter) Reported() <-chan struct{} {
	return r.reported
}

// Crashed returns whether a crash report has been written.
func (r *Reporter) Crashed() bool {
	select {
	case <-r.reported:
		return true
	default:
		return false
	}
}

// Guard writes a crash report and terminates the process if the calling goroutine panics. It
// must be deferred directly:
//
//	defer r.Guard()
func (r *Reporter) Guard() {
	if v := recover(); v != nil {
		if r.closed.Load() {
			panic(v)
		}
		r.handlePanic(v)
	}
}

func (r *Reporter) handlePanic(v any) {
	// skip handlePanic and Guard, so the backtrace starts at the panic
	r.crash(panicCause(v), 2, 2)

	// Only reachable if exit returned, or another crash is being reported. Either way, the
	// goroutine that panicked must not carry on.
	runtime.Goexit()
}

func (r *Reporter) handleFatal(sig os.Signal) {
	num := signalNumber(sig)
	r.crash(fmt.Sprintf("signo=%d (%s)", num, signalName(sig)), 128+num, 1)
}

func (r *Reporter) handleSample(os.Signal) {
	t := r.target.Load()
	if t == nil {
		return
	}
	if r.buf.captureGoroutine(t.label) && r.target.Load() == t {
		r.sampled.Store(true)
	}
}

// crash writes the report and exits. Only the first call does anything; it reports whether this
// was it.
func (r *Reporter) crash(cause string, code int, skip int) bool {
	if !r.crashing.CompareAndSwap(false, true) {
		r.logger.Debug("already handling a crash, ignoring", zap.String("cause", cause))
		return false
	}

	r.buf.captureCurrent(skip + 1)
	r.report(cause)
	close(r.reported)

	r.exit(code)
	return true
}

const (
	bannerLine = "*********************************************************\n"
	titleLine  = "*               crashdump Crash Handler\n"
)

func (r *Reporter) report(cause string) {
	if err := r.out.open(); err != nil {
		r.logger.Error("could not open crash report file", zap.Error(err))
	}

	r.printf(bannerLine)
	r.printf(titleLine)
	r.printf(bannerLine)
	r.printf("*\n")
	r.printf("*  Got a crash! %s\n", cause)
	r.printf("*\n")
	r.printf("*  Offending Thread's Backtrace:\n")
	r.printf("*\n")
	r.printBacktrace()
	r.printf("*\n")

	if r.cfg.DumpAllThreads {
		r.dumpThreads()
	}
	if r.cfg.DumpGoroutines {
		r.dumpGoroutines()
	}

	r.printf("*\n")
	r.printf(bannerLine)
	r.printf(titleLine)
	r.printf(bannerLine)

	if err := r.out.close(); err != nil {
		r.logger.Error("error closing crash report", zap.Error(err))
	}
}

func (r *Reporter) printf(format string, args ...any) {
	if err := r.out.printf(format, args...); err != nil {
		r.logger.Error("error writing crash report", zap.Error(err))
	}
}

// printBacktrace prints every frame in the shared buffer
func (r *Reporter) printBacktrace() {
	bt := r.buf
	if len(r.cfg.SymbolTable) == 0 && r.cfg.UseRuntimeSymbols {
		bt.symbolize()
	}

	for i := 0; i < bt.n; i++ {
		res := r.resolve(bt, i)
		switch {
		case res.found:
			r.printf("*      Frame %02d: %s+0x%x\n", i, res.sym.Name, res.offset)
		case res.text != "":
			r.printf("*      Frame %02d: %s\n", i, res.text)
		default:
			r.printf("*      Frame %02d: 0x%x\n", i, bt.pcs[i])
		}
	}
}

// dumpThreads asks each registered thread (other than the current goroutine) for its backtrace,
// one at a time, and prints it. A thread that doesn't respond within the wait budget gets an error
// line instead.
func (r *Reporter) dumpThreads() {
	self := goid()

	r.threads.each(func(t *thread) bool {
		if t.id == self {
			return true
		}

		r.sampled.Store(false)
		r.target.Store(t)
		if err := r.raise(t.signal); err != nil {
			r.logger.Error("could not signal thread", zap.String("name", t.name), zap.Error(err))
		}
		ok := r.awaitSample()
		r.target.Store(nil)

		if ok {
			r.printf("*  Backtrace of \"%s\" (goroutine %d)\n", t.name, t.id)
			r.printBacktrace()
		} else {
			r.logger.Info("timed out waiting for backtrace", zap.String("name", t.name))
			r.printf("*  Error: unable to get backtrace of \"%s\" (goroutine %d)\n", t.name, t.id)
		}
		r.printf("*\n")
		return true
	})
}

// awaitSample polls for the current target's backtrace until the wait budget runs out
func (r *Reporter) awaitSample() bool {
	budget := r.cfg.threadWait()
	for waited := time.Duration(0); waited < budget; waited += r.poll {
		if r.sampled.Load() {
			return true
		}
		time.Sleep(r.poll)
	}
	return r.sampled.Load()
}

// dumpGoroutines prints the runtime's own dump of every goroutine
func (r *Reporter) dumpGoroutines() {
	buf := make([]byte, 1<<16)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}

	r.printf("*  All goroutines:\n")
	r.printf("*\n")
	for _, line := range bytes.Split(bytes.TrimRight(buf, "\n"), []byte("\n")) {
		r.printf("*  %s\n", line)
	}
	r.printf("*\n")
}

// panicCause formats a panic value to fit on a single report line
func panicCause(v any) string {
	s := strings.ReplaceAll(fmt.Sprint(v), "\n", " ")
	if limit := MaxLineLen / 2; len(s) > limit {
		s = s[:limit] + "..."
	}
	return "panic: " + s
}
