package crashdump

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// sink writes the lines of a crash report to every configured target.
//
// It has a single line buffer, reused for every line, so it must only be used by one goroutine at
// a time. The crash handler is the only writer.
type sink struct {
	filename string
	stream   io.Writer
	fd       int

	file *os.File
	line []byte
}

func newSink(cfg *Config) *sink {
	fd := cfg.FD
	if fd <= 0 {
		fd = -1
	}
	return &sink{
		filename: cfg.Filename,
		stream:   cfg.Stream,
		fd:       fd,
		line:     make([]byte, 0, MaxLineLen),
	}
}

// open opens the configured file, appending to it if it exists.
func (s *sink) open() error {
	if s.filename == "" || s.file != nil {
		return nil
	}

	f, err := os.OpenFile(s.filename, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		f, err = os.OpenFile(s.filename, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return errors.Wrapf(err, "open %q", s.filename)
		}
	}
	s.file = f
	return nil
}

// printf formats a line and writes it to every target. If the line doesn't fit in the line buffer,
// nothing is written and ErrLineTooLong is returned.
//
// A failure to write to one target doesn't prevent writing to the others; all errors are
// returned together.
func (s *sink) printf(format string, args ...any) error {
	line := fmt.Appendf(s.line[:0], format, args...)
	if len(line) > MaxLineLen-1 {
		return ErrLineTooLong
	}

	var err error
	if s.file != nil {
		if _, e := writeAll(s.file.Write, line); e != nil {
			err = multierr.Append(err, errors.Wrapf(e, "write %q", s.filename))
		}
	}
	if s.stream != nil {
		if _, e := writeAll(s.stream.Write, line); e != nil {
			err = multierr.Append(err, errors.Wrap(e, "write stream"))
		}
		if e := flush(s.stream); e != nil {
			err = multierr.Append(err, errors.Wrap(e, "flush stream"))
		}
	}
	if s.fd != -1 {
		write := func(p []byte) (int, error) { return unix.Write(s.fd, p) }
		if _, e := writeAll(write, line); e != nil {
			err = multierr.Append(err, errors.Wrapf(e, "write fd %d", s.fd))
		}
	}
	return err
}

// close closes every target, flushing and syncing them to disk first. Lines printed after close go
// nowhere.
func (s *sink) close() error {
	var err error

	if s.file != nil {
		err = multierr.Append(err, errors.Wrapf(s.file.Close(), "close %q", s.filename))
		s.file = nil
	}
	if s.stream != nil {
		err = multierr.Append(err, flush(s.stream))
		if c, ok := s.stream.(io.Closer); ok {
			err = multierr.Append(err, errors.Wrap(c.Close(), "close stream"))
		}
		s.stream = nil
	}
	if s.fd != -1 {
		err = multierr.Append(err, errors.Wrapf(unix.Close(s.fd), "close fd %d", s.fd))
		s.fd = -1
	}

	unix.Sync()
	return err
}

// writeAll calls write until all of p is written, or write stops making progress
func writeAll(write func([]byte) (int, error), p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n, err := write(p)
		if n > 0 {
			total += n
			p = p[n:]
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, err
		}
		if n < 1 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

func flush(w io.Writer) error {
	var err error
	if f, ok := w.(interface{ Flush() error }); ok {
		err = multierr.Append(err, f.Flush())
	}
	if f, ok := w.(interface{ Sync() error }); ok {
		// syncing a terminal or pipe fails harmlessly
		if e := f.Sync(); e != nil && !errors.Is(e, unix.EINVAL) && !errors.Is(e, unix.ENOTSUP) {
			err = multierr.Append(err, e)
		}
	}
	return err
}
