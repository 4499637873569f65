package crashdump

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	c := (&Config{}).clone()
	a.Equal(DefaultMaxStackDepth, c.MaxStackDepth)
	a.Equal(os.Signal(DefaultSampleSignal), c.SampleSignal)
	a.Equal(DefaultThreadWait, c.ThreadWait)
	a.Equal(ErrorsOnly, c.Verbosity)
	a.Equal(DefaultSignals, c.Signals)
	a.Equal(5*time.Second, c.threadWait())
}

func TestConfigSignalsTerminatedByZero(t *testing.T) {
	t.Parallel()

	c := (&Config{Signals: []os.Signal{syscall.SIGSEGV, syscall.Signal(0), syscall.SIGBUS}}).clone()
	assert.Equal(t, []os.Signal{syscall.SIGSEGV}, c.Signals)
	assert.True(t, c.isFatal(syscall.SIGSEGV))
	assert.False(t, c.isFatal(syscall.SIGBUS))

	// a list that ends before its first signal is empty
	c = (&Config{Signals: []os.Signal{nil, syscall.SIGBUS}}).clone()
	assert.Equal(t, DefaultSignals, c.Signals)
}

func TestConfigNegativeThreadWait(t *testing.T) {
	t.Parallel()

	c := (&Config{ThreadWait: -1}).clone()
	assert.Equal(t, time.Duration(0), c.threadWait())
}

func TestConfigIsCopied(t *testing.T) {
	t.Parallel()

	table := SymbolTable{{Name: "f", Address: 0x100}}
	signals := []os.Signal{syscall.SIGSEGV}
	orig := Config{SymbolTable: table, Signals: signals}

	c := orig.clone()
	table[0].Name = "changed"
	signals[0] = syscall.SIGBUS

	assert.Equal(t, "f", c.SymbolTable[0].Name)
	assert.Equal(t, []os.Signal{syscall.SIGSEGV}, c.Signals)
}

func TestVerbosityString(t *testing.T) {
	t.Parallel()

	for v, s := range map[Verbosity]string{
		VerbosityDefault: "default",
		Silent:           "silent",
		ErrorsOnly:       "errors-only",
		Verbose:          "verbose",
		VeryVerbose:      "very-verbose",
		Verbosity(42):    "unknown",
	} {
		assert.Equal(t, s, v.String())
	}
}
