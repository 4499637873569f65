package crashdump

import (
	"io"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

const (
	DefaultMaxStackDepth = 64
	DefaultThreadWait    = 5 // seconds
	DefaultSampleSignal  = syscall.SIGUSR1

	// MaxLineLen is the size of the single line buffer used to format the report.
	MaxLineLen = 1024
)

// DefaultSignals is the fatal signal set used when Config.Signals is empty.
var DefaultSignals = []os.Signal{syscall.SIGSEGV, syscall.SIGILL, syscall.SIGBUS, syscall.SIGABRT}

// Verbosity controls how much the library logs about itself. It has no effect on the contents of
// a crash report.
type Verbosity int

const (
	// VerbosityDefault is the zero value, and is treated as ErrorsOnly.
	VerbosityDefault Verbosity = iota
	Silent
	ErrorsOnly
	Verbose
	VeryVerbose
)

func (v Verbosity) String() string {
	switch v {
	case VerbosityDefault:
		return "default"
	case Silent:
		return "silent"
	case ErrorsOnly:
		return "errors-only"
	case Verbose:
		return "verbose"
	case VeryVerbose:
		return "very-verbose"
	default:
		return "unknown"
	}
}

// Config is the crash reporter's configuration. It is copied by [New] (and [Init]); changing it
// afterwards has no effect.
//
// Every configured output target receives every line of a report.
type Config struct {
	// Filename, if not empty, is opened when a crash occurs. An existing file is appended to,
	// otherwise it's created with mode 0644.
	Filename string
	// Stream, if not nil, is an already-open writer. If it implements Flush() error or
	// Sync() error, those are called after each line.
	Stream io.Writer
	// FD, if positive, is an already-open file descriptor.
	FD int

	// MaxStackDepth bounds the number of frames captured per backtrace. Defaults to
	// DefaultMaxStackDepth.
	MaxStackDepth int
	// SampleSignal is the signal used to request a backtrace from a registered thread that
	// didn't ask for a specific one. Defaults to SIGUSR1. It must not be one of Signals.
	SampleSignal os.Signal
	// ThreadWait is the number of seconds to wait for each registered thread to produce its
	// backtrace. Defaults to DefaultThreadWait. Negative values mean "don't wait at all".
	ThreadWait int

	Verbosity Verbosity
	// Logger receives the library's own diagnostics, filtered by Verbosity. If nil, a console
	// logger writing to stderr is built.
	Logger *zap.Logger

	// DumpAllThreads enables collecting the backtraces of all registered threads after a crash.
	DumpAllThreads bool
	// UseRuntimeSymbols resolves addresses through the Go runtime's symbol information when no
	// SymbolTable is provided. Otherwise, addresses are printed raw.
	UseRuntimeSymbols bool
	// SymbolTable, if not empty, is used for all address resolution. It must be sorted by
	// address; see NewSymbolTable.
	SymbolTable SymbolTable

	// Signals is the set of fatal signals to intercept. A zero signal terminates the list. If
	// empty, DefaultSignals is used.
	Signals []os.Signal

	// DumpGoroutines appends the Go runtime's dump of every goroutine to the report.
	DumpGoroutines bool
	// RuntimeCrashOutput additionally sends the Go runtime's own fatal error output (which
	// bypasses every trap) to Filename.
	RuntimeCrashOutput bool
}

// clone returns a deep copy of c with defaults filled in
func (c *Config) clone() Config {
	cfg := *c
	cfg.SymbolTable = slices.Clone(c.SymbolTable)

	cfg.Signals = nil
	for _, sig := range c.Signals {
		if sig == nil || sig == syscall.Signal(0) {
			break
		}
		cfg.Signals = append(cfg.Signals, sig)
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = slices.Clone(DefaultSignals)
	}

	if cfg.MaxStackDepth <= 0 {
		cfg.MaxStackDepth = DefaultMaxStackDepth
	}
	if cfg.SampleSignal == nil || cfg.SampleSignal == syscall.Signal(0) {
		cfg.SampleSignal = DefaultSampleSignal
	}
	if cfg.ThreadWait == 0 {
		cfg.ThreadWait = DefaultThreadWait
	}
	if cfg.Verbosity == VerbosityDefault {
		cfg.Verbosity = ErrorsOnly
	}
	return cfg
}

func (c *Config) isFatal(sig os.Signal) bool {
	return slices.Contains(c.Signals, sig)
}

func (c *Config) threadWait() time.Duration {
	if c.ThreadWait < 0 {
		return 0
	}
	return time.Duration(c.ThreadWait) * time.Second
}
