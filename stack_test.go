package crashdump_test

import (
	"fmt"
	"testing"

	"github.com/sharnoff/crashdump"
)

func TestStackFrameFormatVarieties(t *testing.T) {
	t.Parallel()

	cases := []struct {
		frame    crashdump.StackFrame
		expected string
	}{
		{
			frame:    crashdump.StackFrame{Function: "packagename.foo", Offset: 0x1c, File: "/path/to/package/foo.go", Line: 37},
			expected: "packagename.foo+0x1c /path/to/package/foo.go:37",
		},
		{
			frame:    crashdump.StackFrame{Function: "packagename.bar", File: "/path/to/package/bar.go"},
			expected: "packagename.bar+0x0 /path/to/package/bar.go",
		},
		{
			frame:    crashdump.StackFrame{Function: "packagename.baz", Offset: 0x200},
			expected: "packagename.baz+0x200 <unknown file>",
		},
		{
			// Line should have no effect if File is missing.
			frame:    crashdump.StackFrame{Function: "packagename.qux", Line: 29},
			expected: "packagename.qux+0x0 <unknown file>",
		},
		{
			// Likewise for Offset without a Function
			frame:    crashdump.StackFrame{Offset: 0x10, File: "/unknown/function/path.go", Line: 45},
			expected: "<unknown function> /unknown/function/path.go:45",
		},
		{
			frame:    crashdump.StackFrame{},
			expected: "<unknown function> <unknown file>",
		},
	}

	for _, c := range cases {
		got := c.frame.String()
		if got != c.expected {
			t.Fail()
			t.Log(
				"--- BEGIN expected formatting ---\n",
				fmt.Sprintf("%q", c.expected),
				"\n--- END expected formatting. BEGIN actual formatting ---\n",
				fmt.Sprintf("%q", got),
			)
		}
	}
}
