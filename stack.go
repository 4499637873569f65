package crashdump

import (
	"bytes"
	"runtime"
	"runtime/pprof"
	"strconv"

	"github.com/google/pprof/profile"
	"golang.org/x/exp/slices"
)

// labelKey is the pprof label attached to registered goroutines, so that their stacks can be found
// in a goroutine profile. The value is the goroutine's id.
const labelKey = "crashdump.goroutine"

// StackFrame is a single resolved frame, as printed when addresses are resolved through the
// runtime.
type StackFrame struct {
	Function string
	Offset   uintptr
	File     string
	Line     int
}

// String formats the frame on a single line, like "pkg.fn+0x1c /path/to/file.go:12".
func (f StackFrame) String() string {
	var buf []byte

	if f.Function == "" {
		buf = append(buf, "<unknown function>"...)
	} else {
		buf = append(buf, f.Function...)
		buf = append(buf, "+0x"...)
		buf = strconv.AppendUint(buf, uint64(f.Offset), 16)
	}

	buf = append(buf, ' ')

	if f.File == "" {
		buf = append(buf, "<unknown file>"...)
	} else {
		buf = append(buf, f.File...)
		if f.Line != 0 {
			buf = append(buf, ':')
			buf = strconv.AppendInt(buf, int64(f.Line), 10)
		}
	}

	return string(buf)
}

// runtimeFrame resolves pc, a return address, with the runtime's symbol information
func runtimeFrame(pc uintptr) StackFrame {
	// a return address may point just past the end of the call's function
	lookup := pc
	if lookup > 0 {
		lookup -= 1
	}

	fn := runtime.FuncForPC(lookup)
	if fn == nil {
		return StackFrame{}
	}

	file, line := fn.FileLine(lookup)
	return StackFrame{
		Function: fn.Name(),
		Offset:   pc - fn.Entry(),
		File:     file,
		Line:     line,
	}
}

// backtrace is the shared capture buffer. Exactly one exists per Reporter, sized at
// initialization; captures overwrite it in place and never grow it.
type backtrace struct {
	pcs []uintptr
	n   int

	// text is parallel to pcs, filled by symbolize
	text       []string
	symbolized bool
}

func newBacktrace(depth int) *backtrace {
	return &backtrace{
		pcs:  make([]uintptr, depth),
		text: make([]string, depth),
	}
}

// captureCurrent records the calling goroutine's stack, skipping the given number of frames above
// the caller.
//
//go:noinline
func (b *backtrace) captureCurrent(skip int) int {
	// skip runtime.Callers and captureCurrent itself
	b.n = runtime.Callers(skip+2, b.pcs)
	b.symbolized = false
	return b.n
}

// captureGoroutine records the stack of the goroutine labelled with id, reporting whether it was
// found. Goroutines that have exited aren't.
func (b *backtrace) captureGoroutine(id string) bool {
	var buf bytes.Buffer
	if err := pprof.Lookup("goroutine").WriteTo(&buf, 0); err != nil {
		return false
	}
	p, err := profile.Parse(&buf)
	if err != nil {
		return false
	}

	for _, s := range p.Sample {
		if !slices.Contains(s.Label[labelKey], id) {
			continue
		}

		n := 0
		for _, loc := range s.Location {
			if n == len(b.pcs) {
				break
			}
			b.pcs[n] = uintptr(loc.Address)
			n += 1
		}
		b.n = n
		b.symbolized = false
		return true
	}

	return false
}

// symbolize fills b.text with the runtime's resolution of each captured address
func (b *backtrace) symbolize() {
	for i := 0; i < b.n; i++ {
		b.text[i] = runtimeFrame(b.pcs[i]).String()
	}
	b.symbolized = true
}
