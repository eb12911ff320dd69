package diagnostics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/calyx-lang/initcheck/internal/token"
)

// ErrorCode identifies a diagnostic kind. Codes are stable: tooling and
// suppression comments key off them, so they are never renumbered.
type ErrorCode string

// Definite-assignment family (D), construction family (C), metadata family (M).
const (
	// ErrD001: a field path of a transparent value is read before it is
	// guaranteed assigned on every path reaching the read.
	ErrD001 ErrorCode = "D001"
	// ErrD002: an opaque value is used before a whole-value assignment.
	ErrD002 ErrorCode = "D002"
	// ErrD003: a member is invoked on the constructor receiver before every
	// field of the receiver is assigned.
	ErrD003 ErrorCode = "D003"

	// ErrC001: a default-argument initializer would run a parameterless
	// constructor, which is forbidden in that position.
	ErrC001 ErrorCode = "C001"
	// ErrC002: a parameterless construction zero-initializes a type that
	// declares constructors, none of them parameterless.
	ErrC002 ErrorCode = "C002"

	// ErrM001: imported value-type metadata contains a field cycle.
	ErrM001 ErrorCode = "M001"
)

// Severity classifies how a finding affects compilation.
type Severity int

const (
	// Silent findings are computed but not reported. Policy can demote
	// advisory codes to Silent.
	Silent Severity = iota
	// Warning findings are reported but never block compilation.
	Warning
	// Fatal findings block successful compilation of the routine.
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Fatal:
		return "error"
	case Warning:
		return "warning"
	default:
		return "silent"
	}
}

type template struct {
	severity Severity
	format   string
}

// catalog maps each code to its default severity and message template.
// Templates take fmt-style arguments supplied at NewError call sites.
var catalog = map[ErrorCode]template{
	ErrD001: {Fatal, "field '%s' of '%s' may be unassigned at this use"},
	ErrD002: {Fatal, "value '%s' of imported type '%s' must be fully assigned before use"},
	ErrD003: {Fatal, "cannot call '%s' before all fields of the receiver are assigned"},
	ErrC001: {Fatal, "parameterless constructor of '%s' cannot run in a default argument; use an explicit default value"},
	ErrC002: {Warning, "'%s' is zero-initialized here, but the type declares %d constructor(s)"},
	ErrM001: {Fatal, "metadata for type '%s' contains a field cycle; treating it as opaque"},
}

// SuggestedFix is a machine-applicable rewrite attached to a finding.
type SuggestedFix struct {
	Title   string
	Span    token.Span
	NewText string
}

// DiagnosticError is one reported finding. File defaults to Pos.File but can
// be filled in later by the caller that knows the current file, the same way
// the analyzer back-fills it during a walk.
type DiagnosticError struct {
	Code     ErrorCode
	Severity Severity
	Pos      token.Pos
	File     string
	Message  string
	Fixes    []SuggestedFix
}

// NewError builds a finding from the catalog entry for code. Unknown codes
// panic: they indicate a programming error, not bad input.
func NewError(code ErrorCode, pos token.Pos, args ...interface{}) *DiagnosticError {
	t, ok := catalog[code]
	if !ok {
		panic(fmt.Sprintf("diagnostics: unknown error code %q", code))
	}
	return &DiagnosticError{
		Code:     code,
		Severity: t.severity,
		Pos:      pos,
		File:     pos.File,
		Message:  fmt.Sprintf(t.format, args...),
	}
}

// WithSeverity returns a copy of e at the given severity. Used by policy to
// demote advisory findings.
func (e *DiagnosticError) WithSeverity(s Severity) *DiagnosticError {
	clone := *e
	clone.Severity = s
	return &clone
}

// WithFix appends a suggested fix and returns e for chaining.
func (e *DiagnosticError) WithFix(title string, span token.Span, newText string) *DiagnosticError {
	e.Fixes = append(e.Fixes, SuggestedFix{Title: title, Span: span, NewText: newText})
	return e
}

// IsFatal reports whether the finding blocks compilation.
func (e *DiagnosticError) IsFatal() bool {
	return e.Severity == Fatal
}

func (e *DiagnosticError) Error() string {
	var b strings.Builder
	b.WriteString(e.Pos.String())
	b.WriteString(": ")
	b.WriteString(e.Severity.String())
	b.WriteString(" [")
	b.WriteString(string(e.Code))
	b.WriteString("]: ")
	b.WriteString(e.Message)
	return b.String()
}

// Key returns the deduplication key for a finding: one report per
// position+code, matching the cascade-suppression contract.
func (e *DiagnosticError) Key() string {
	return fmt.Sprintf("%d:%d:%s", e.Pos.Line, e.Pos.Column, e.Code)
}

// Sort orders findings deterministically: position first, then code. Two runs
// over unchanged input must produce byte-identical streams, so no ordering is
// left to map iteration.
func Sort(errs []*DiagnosticError) {
	sort.SliceStable(errs, func(i, j int) bool {
		if errs[i].Pos != errs[j].Pos {
			return errs[i].Pos.Before(errs[j].Pos)
		}
		return errs[i].Code < errs[j].Code
	})
}

// Dedupe drops findings whose Key has already been seen, preserving order.
func Dedupe(errs []*DiagnosticError) []*DiagnosticError {
	seen := make(map[string]bool, len(errs))
	out := errs[:0]
	for _, e := range errs {
		if seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true
		out = append(out, e)
	}
	return out
}
