package mirror

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Filter is a predicate over paths, used both to scope snapshots and to
// decide whether a listener is notified for a set of changed paths.
//
// Filter identity (the interface value itself) keys the filtered-view cache
// and the listener registry, so implementations are pointer-shaped: two
// filters built from the same arguments are distinct cache entries.
type Filter interface {
	Matches(path string) bool
}

type prefixFilter struct {
	prefix string
}

// NewPrefixFilter returns a Filter matching the given path and everything
// below it.
func NewPrefixFilter(prefix string) Filter {
	return &prefixFilter{prefix: prefix}
}

func (f *prefixFilter) Matches(path string) bool {
	return path == f.prefix || IsDescendantOf(path, f.prefix)
}

func (f *prefixFilter) String() string {
	return fmt.Sprintf("prefix(%q)", f.prefix)
}

type funcFilter struct {
	fn func(path string) bool
}

// NewFilterFunc wraps an arbitrary predicate in a Filter. Every call yields
// a distinct filter identity, even for the same function.
func NewFilterFunc(fn func(path string) bool) Filter {
	return &funcFilter{fn: fn}
}

func (f *funcFilter) Matches(path string) bool {
	return f.fn(path)
}

type exprFilter struct {
	src  string
	prog *vm.Program
}

// CompileFilter compiles an expr expression over the variable "path" into a
// Filter, e.g. `path startsWith "/docs"` or `path endsWith ".txt"`.
func CompileFilter(src string) (Filter, error) {
	prog, err := expr.Compile(src,
		expr.Env(map[string]interface{}{"path": ""}),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", src, err)
	}
	return &exprFilter{src: src, prog: prog}, nil
}

// Matches evaluates the compiled expression. An evaluation failure counts
// as a non-match.
func (f *exprFilter) Matches(path string) bool {
	out, err := expr.Run(f.prog, map[string]interface{}{"path": path})
	if err != nil {
		return false
	}
	matched, ok := out.(bool)
	return ok && matched
}

func (f *exprFilter) String() string {
	return f.src
}
