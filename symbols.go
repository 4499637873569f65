package crashdump

import (
	"fmt"
	"reflect"
	"runtime"

	"golang.org/x/exp/slices"
)

// Symbol is a function name and the address of its entry point.
type Symbol struct {
	Name    string
	Address uintptr
}

// SymbolTable is a list of symbols sorted by ascending address. Each symbol owns the range of
// addresses from its own up to (but not including) the next symbol's.
type SymbolTable []Symbol

// NewSymbolTable builds a sorted SymbolTable from function values, named as the runtime names
// them. Values that aren't functions are skipped.
func NewSymbolTable(fns ...any) SymbolTable {
	var table SymbolTable
	for _, fn := range fns {
		v := reflect.ValueOf(fn)
		if v.Kind() != reflect.Func || v.IsNil() {
			continue
		}

		pc := v.Pointer()
		name := fmt.Sprintf("0x%x", pc)
		if f := runtime.FuncForPC(pc); f != nil {
			name = f.Name()
			pc = f.Entry()
		}
		table = append(table, Symbol{Name: name, Address: pc})
	}

	slices.SortStableFunc(table, func(a, b Symbol) bool { return a.Address < b.Address })
	return table
}

// Lookup returns the symbol owning pc and the offset of pc from the start of that symbol.
//
// ok is false if pc comes before the first symbol. The result is unspecified if the table isn't
// sorted.
func (t SymbolTable) Lookup(pc uintptr) (sym Symbol, offset uintptr, ok bool) {
	// the comparison never reports equality, so idx is the first symbol past pc.
	idx, _ := slices.BinarySearchFunc(t, pc, func(s Symbol, pc uintptr) int {
		if s.Address <= pc {
			return -1
		}
		return 1
	})
	if idx == 0 {
		return Symbol{}, 0, false
	}

	sym = t[idx-1]
	return sym, pc - sym.Address, true
}

// unsorted returns the index of the first symbol with an address lower than the one before it,
// or -1 if the table is sorted.
func (t SymbolTable) unsorted() int {
	for i := 1; i < len(t); i++ {
		if t[i].Address < t[i-1].Address {
			return i
		}
	}
	return -1
}

// resolution is the result of resolving a single frame: either a structured name and offset from
// a SymbolTable, pre-formatted text from the runtime, or neither.
type resolution struct {
	sym    Symbol
	offset uintptr
	found  bool
	text   string
}

// resolve resolves frame i of the backtrace
func (r *Reporter) resolve(bt *backtrace, i int) resolution {
	if len(r.cfg.SymbolTable) != 0 {
		sym, off, ok := r.cfg.SymbolTable.Lookup(bt.pcs[i])
		return resolution{sym: sym, offset: off, found: ok}
	}

	if r.cfg.UseRuntimeSymbols && bt.symbolized {
		return resolution{text: bt.text[i]}
	}
	return resolution{}
}
