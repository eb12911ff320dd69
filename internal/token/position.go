package token

import "fmt"

// Pos locates a diagnostic in the original source. The front end tags CFG
// nodes and construction sites with positions; this package only carries
// them through to reporting.
type Pos struct {
	File   string
	Line   int
	Column int
}

// NoPos is the zero position, used for findings that have no source anchor
// (e.g. malformed imported metadata).
var NoPos = Pos{}

// IsValid reports whether the position points at actual source.
func (p Pos) IsValid() bool {
	return p.Line > 0
}

func (p Pos) String() string {
	if !p.IsValid() {
		return "-"
	}
	if p.File == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// Before reports whether p occurs before q in diagnostic ordering:
// file, then line, then column.
func (p Pos) Before(q Pos) bool {
	if p.File != q.File {
		return p.File < q.File
	}
	if p.Line != q.Line {
		return p.Line < q.Line
	}
	return p.Column < q.Column
}

// Span is a half-open source range used by suggested fixes.
type Span struct {
	Start Pos
	End   Pos
}
