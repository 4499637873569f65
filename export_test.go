package crashdump

import (
	"os"
	"time"
)

// Hooks for tests in crashdump_test. The real ones exit the process and wait whole seconds.

func (r *Reporter) SetExitFunc(exit func(code int)) { r.exit = exit }

func (r *Reporter) SetPollInterval(d time.Duration) { r.poll = d }

func (r *Reporter) HandleFatal(sig os.Signal) { r.handleFatal(sig) }

var Raise = raise
