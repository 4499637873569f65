// obligatory // comment

/*
Package crashdump writes a human-readable crash report when the process receives a fatal signal
(or a guarded goroutine panics), then terminates the process.

A report contains the backtrace of the goroutine that handled the crash and, optionally, the
backtraces of every goroutine that registered itself with [RegisterThread]. Reports are written
line by line to any combination of a file, an already-open writer, and an already-open file
descriptor, and are synced to disk before the process exits.

Broadly, the pieces are:

- Lifecycle: [Init] and [Uninit], or [New] and [Reporter.Close]
- Thread registration: [RegisterThread] and [UnregisterThread]
- Panics: [Guard]
- Symbol resolution: [SymbolTable] and [NewSymbolTable]

# Traps

Signals are handled through a small trap table, with one slot per signal. Each slot holds either
the fatal handler (which writes the report) or the sample handler (which captures the stack of a
registered goroutine). Installing a handler returns the one it displaced, so it can be put back
later: unregistering the last thread that uses a signal, or closing the Reporter, restores what was
there before.

Fatal signals sent to the process from outside (kill, abort in C code, ...) reach the fatal
handler. Faults in Go code are turned into panics by the runtime instead, so goroutines that want
them reported should defer [Guard]. [Config.RuntimeCrashOutput] covers the rest, by sending the
runtime's own fatal error output to the report file.

# Exit status

Once the report is written, the process exits with status 128+N for fatal signal N (139 for
SIGSEGV, as a shell would report a process killed by it) and 2 for panics, like an unrecovered
panic. This differs from the classic C crash handlers, which exit with the bare signal number
(11 for SIGSEGV) or re-raise the signal with its default disposition. Re-raising isn't possible
here: the Go runtime owns every disposition, and ignores a fatal signal sent with kill once
nobody is notified of it. 128+N keeps the signal recoverable from the status without colliding
with ordinary small exit codes.

# Collecting other threads

When [Config.DumpAllThreads] is set, the crash handler visits the registered threads one at a
time, most recently registered first. For each, it raises that thread's sample signal and polls,
once per second, for the sample handler to finish capturing the thread's stack, up to
[Config.ThreadWait] seconds. Threads that don't answer in time get an "unable to get backtrace"
line instead. Either way, every thread's section ends with a separator line.

Registered goroutines are found by a pprof label set during registration, so goroutines they start
afterwards share their label (and may be reported in their place) until they register themselves.

The crash handler never takes the lock that guards registration: the goroutine that crashed may
hold it. It relies instead on registry entries never being modified once they're linked in.

# Symbols

Captured addresses are resolved with the caller's [SymbolTable] if there is one, or the Go
runtime's symbol information if [Config.UseRuntimeSymbols] is set. Otherwise, they're printed
raw.
*/
package crashdump
