// Command crashdemo deliberately crashes, to exercise crashdump.
//
// It starts a number of goroutines (each locked to its own OS thread), registers them for
// backtraces, and then crashes one of them (or the main goroutine) after a delay.
package main

import (
	"fmt"
	"os"
	"runtime"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/sharnoff/crashdump"
)

type options struct {
	verbose            bool
	quiet              bool
	numThreads         int
	secondsBeforeCrash int
	threadToCrash      int
	useRuntimeSymbols  bool
	useSymbolTable     bool
	output             string
	fdOutput           string
	mode               string
}

func main() {
	os.Exit(execute())
}

func execute() int {
	var opts options

	cmd := &cobra.Command{
		Use:   "crashdemo",
		Short: "Crash on purpose, and write a crash report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(&opts)
		},

		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := cmd.Flags()
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Be noisy")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Be quiet")
	flags.IntVarP(&opts.numThreads, "num-threads", "n", 0, "Number of threads to spawn")
	flags.IntVarP(&opts.secondsBeforeCrash, "seconds-before-crash", "s", 3, "Seconds to wait before crashing")
	flags.IntVarP(&opts.threadToCrash, "thread-to-crash", "t", 0, "Thread to crash (0 crashes the main goroutine)")
	flags.BoolVarP(&opts.useRuntimeSymbols, "use-runtime-symbols", "x", false, "Resolve addresses with the runtime's symbols")
	flags.BoolVarP(&opts.useSymbolTable, "use-symbol-table", "c", false, "Resolve addresses with a custom symbol table")
	flags.StringVarP(&opts.output, "output", "o", "crashdemo.out.filename", "File to append the crash report to")
	flags.StringVar(&opts.fdOutput, "fd-output", "crashdemo.out.fd", "File to write the crash report to, through a raw descriptor")
	flags.StringVarP(&opts.mode, "mode", "m", "panic", "How to crash: panic or signal")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "crashdemo:", err)
		return 64 // EX_USAGE
	}
	return 0
}

func run(opts *options) error {
	if opts.mode != "panic" && opts.mode != "signal" {
		return errors.Errorf("unknown mode %q", opts.mode)
	}
	if opts.numThreads < 0 || opts.threadToCrash < 0 || opts.threadToCrash > opts.numThreads {
		return errors.Errorf("thread to crash must be between 0 and %d", opts.numThreads)
	}

	cfg := crashdump.Config{
		Filename:          opts.output,
		Stream:            os.Stdout,
		DumpAllThreads:    true,
		UseRuntimeSymbols: opts.useRuntimeSymbols,
		Signals:           []os.Signal{syscall.SIGSEGV, syscall.SIGILL, syscall.SIGBUS, syscall.SIGABRT},
	}
	if opts.verbose && !opts.quiet {
		cfg.Verbosity = crashdump.Verbose
	}
	if opts.useSymbolTable {
		cfg.SymbolTable = symbolTable()
	}
	if opts.fdOutput != "" {
		fd, err := unix.Open(opts.fdOutput, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, 0o644)
		if err != nil {
			return errors.Wrapf(err, "open %q", opts.fdOutput)
		}
		cfg.FD = fd
	}

	if err := crashdump.Init(&cfg); err != nil {
		return errors.Wrap(err, "init crashdump")
	}
	defer crashdump.Guard()

	for i := 1; i <= opts.numThreads; i++ {
		go demoThread(i, opts)
	}

	if opts.threadToCrash != 0 {
		fmt.Println("Thread 0 hanging forever")
		sleepFuncA("Thread 0")
	}

	if opts.verbose {
		fmt.Printf("Sleeping for %d seconds\n", opts.secondsBeforeCrash)
	}
	time.Sleep(time.Duration(opts.secondsBeforeCrash) * time.Second)
	fmt.Println("About to crash!")
	crashA("Thread 0", opts.mode)

	// not reached
	return crashdump.Uninit()
}

func demoThread(n int, opts *options) {
	defer crashdump.Guard()

	runtime.LockOSThread()
	name := fmt.Sprintf("Thread %d", n)

	if err := crashdump.RegisterThread(name, nil); err != nil {
		fmt.Fprintf(os.Stderr, "%s: could not register: %s\n", name, err)
	}

	if n == opts.threadToCrash {
		fmt.Printf("%s: sleeping %d seconds before crash\n", name, opts.secondsBeforeCrash)
		time.Sleep(time.Duration(opts.secondsBeforeCrash) * time.Second)
		crashA(name, opts.mode)
	} else {
		sleepFuncA(name)
	}
}

func symbolTable() crashdump.SymbolTable {
	return crashdump.NewSymbolTable(
		main, execute, run, demoThread, symbolTable,
		sleepFuncA, sleepFuncB, sleepFuncC,
		crashA, crashB, crashC,
	)
}

//go:noinline
func sleepFuncA(name string) { sleepFuncB(name) }

//go:noinline
func sleepFuncB(name string) { sleepFuncC(name) }

//go:noinline
func sleepFuncC(name string) {
	fmt.Printf("%s: sleeping forever...\n", name)
	for {
		time.Sleep(time.Second)
	}
}

//go:noinline
func crashA(name, mode string) { crashB(name, mode) }

//go:noinline
func crashB(name, mode string) { crashC(name, mode) }

var kaBoom *int

//go:noinline
func crashC(name, mode string) {
	fmt.Printf("%s: kaBoom\n", name)

	if mode == "signal" {
		_ = unix.Kill(unix.Getpid(), unix.SIGSEGV)
		// the report is written from another goroutine; wait for it to exit the process
		select {}
	}

	*kaBoom = 7
}
