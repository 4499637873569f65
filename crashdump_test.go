package crashdump_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/sharnoff/crashdump"
)

func TestInitLifecycle(t *testing.T) {
	cfg := &crashdump.Config{Signals: []os.Signal{syscall.SIGUSR2}, Verbosity: crashdump.Silent}

	assert.ErrorIs(t, crashdump.Init(nil), crashdump.ErrNilConfig)
	assert.ErrorIs(t, crashdump.Uninit(), crashdump.ErrNotInitialized)
	assert.ErrorIs(t, crashdump.RegisterThread("main", nil), crashdump.ErrNotInitialized)
	assert.ErrorIs(t, crashdump.UnregisterThread(), crashdump.ErrNotInitialized)

	require.NoError(t, crashdump.Init(cfg))
	assert.ErrorIs(t, crashdump.Init(cfg), crashdump.ErrAlreadyInitialized)

	require.NoError(t, crashdump.RegisterThread("main", nil))
	assert.ErrorIs(t, crashdump.RegisterThread("main", syscall.SIGUSR2), crashdump.ErrSignalConflict)
	assert.NoError(t, crashdump.UnregisterThread())
	assert.ErrorIs(t, crashdump.UnregisterThread(), crashdump.ErrNotRegistered)

	require.NoError(t, crashdump.Uninit())
	assert.ErrorIs(t, crashdump.Uninit(), crashdump.ErrNotInitialized)

	// and again, after Uninit
	require.NoError(t, crashdump.Init(cfg))
	require.NoError(t, crashdump.Uninit())
}

func TestGuardWithoutInit(t *testing.T) {
	defer func() {
		assert.Equal(t, "boom", recover())
	}()

	func() {
		defer crashdump.Guard()
		panic("boom")
	}()
}

const (
	helperModeEnv = "CRASHDUMP_HELPER_MODE"
	helperFileEnv = "CRASHDUMP_HELPER_FILE"
)

var kaBoom *int

// TestHelperProcess isn't a real test. It's run as a subprocess by the tests below, so that the
// crash handler can actually terminate a process.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv(helperModeEnv)
	if mode == "" {
		t.Skip("only run as a subprocess")
	}

	err := crashdump.Init(&crashdump.Config{
		Filename:          os.Getenv(helperFileEnv),
		DumpAllThreads:    true,
		UseRuntimeSymbols: true,
		Verbosity:         crashdump.Silent,
	})
	if err != nil {
		os.Exit(100)
	}

	registered := make(chan struct{})
	go func() {
		_ = crashdump.RegisterThread("sleeper", nil)
		close(registered)
		parkThread(make(chan struct{}))
	}()
	<-registered

	switch mode {
	case "signal":
		_ = unix.Kill(unix.Getpid(), unix.SIGSEGV)
		time.Sleep(time.Minute)
	case "panic":
		defer crashdump.Guard()
		panicker("kaBoom")
	case "fault":
		defer crashdump.Guard()
		*kaBoom = 7
	}

	os.Exit(101)
}

func runHelper(t *testing.T, mode string) (code int, report string) {
	filename := filepath.Join(t.TempDir(), "report")

	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$")
	cmd.Env = append(os.Environ(), helperModeEnv+"="+mode, helperFileEnv+"="+filename)
	err := cmd.Run()

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "expected the helper to fail, got %v", err)

	content, err := os.ReadFile(filename)
	require.NoError(t, err)
	return exitErr.ExitCode(), string(content)
}

func TestProcessCrashOnSignal(t *testing.T) {
	code, report := runHelper(t, "signal")

	assert.Equal(t, 128+int(syscall.SIGSEGV), code)
	assert.Contains(t, report, "*  Got a crash! signo=11 (SIGSEGV)\n")
	assert.Contains(t, report, `*  Backtrace of "sleeper" (goroutine `)
	assert.Contains(t, report, "crashdump_test.parkThread+0x")
	assert.NotContains(t, report, "handleSample")
}

func TestProcessCrashOnPanic(t *testing.T) {
	code, report := runHelper(t, "panic")

	assert.Equal(t, 2, code)
	assert.Contains(t, report, "*  Got a crash! panic: kaBoom\n")
	assert.Contains(t, report, "crashdump_test.panicker+0x")
	assert.Contains(t, report, `*  Backtrace of "sleeper" (goroutine `)
}

func TestProcessCrashOnFault(t *testing.T) {
	code, report := runHelper(t, "fault")

	assert.Equal(t, 2, code)
	assert.Contains(t, report, "*  Got a crash! panic: runtime error: invalid memory address or nil pointer dereference\n")
	assert.Contains(t, report, "crashdump_test.TestHelperProcess+0x")
}
