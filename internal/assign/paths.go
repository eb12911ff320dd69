package assign

import (
	"strings"

	"github.com/calyx-lang/initcheck/internal/metadata"
	"github.com/calyx-lang/initcheck/internal/opacity"
	"github.com/calyx-lang/initcheck/internal/policy"
)

// PathTable enumerates the leaf field paths of a transparent value type and
// assigns each a stable bit index. A leaf is a field that is not expanded
// further: non-value fields, and value-typed fields whose own type is opaque.
// Value-typed fields with transparent types expand into dotted sub-paths.
//
// Synthetic leaves (auto-property backing storage) get bits like any other
// field but are excluded from public listings.
type PathTable struct {
	leaves    []string
	synthetic []bool
	index     map[string]int
	// under maps every declared path, leaf or interior, to the leaf bits it
	// covers. Assigning an interior path assigns all leaves beneath it.
	under map[string][]int
}

// BuildPathTable enumerates the paths of a transparent type. The caller must
// have established that the type is transparent; cyclic metadata classifies
// as opaque, so expansion here always terminates.
func BuildPathTable(store metadata.Store, oracle *opacity.Oracle, pol policy.Policy, id metadata.TypeID) *PathTable {
	pt := &PathTable{
		index: make(map[string]int),
		under: make(map[string][]int),
	}
	pt.expand(store, oracle, pol, id, "", false)
	return pt
}

func (pt *PathTable) expand(store metadata.Store, oracle *opacity.Oracle, pol policy.Policy, id metadata.TypeID, prefix string, synthetic bool) {
	t, ok := store.Lookup(id)
	if !ok {
		return
	}
	for _, f := range t.Fields {
		path := f.Name
		if prefix != "" {
			path = prefix + "." + f.Name
		}
		synth := synthetic || f.Synthetic
		if f.IsValueTyped() && !oracle.IsOpaque(f.ValueType, pol) {
			pt.expand(store, oracle, pol, f.ValueType, path, synth)
			continue
		}
		bit := len(pt.leaves)
		pt.leaves = append(pt.leaves, path)
		pt.synthetic = append(pt.synthetic, synth)
		pt.index[path] = bit
		for p := path; p != ""; p = parentPath(p) {
			pt.under[p] = append(pt.under[p], bit)
		}
	}
}

func parentPath(p string) string {
	i := strings.LastIndexByte(p, '.')
	if i < 0 {
		return ""
	}
	return p[:i]
}

// Len returns the number of leaf paths.
func (pt *PathTable) Len() int {
	return len(pt.leaves)
}

// Leaf returns the dotted path for a bit.
func (pt *PathTable) Leaf(bit int) string {
	return pt.leaves[bit]
}

// Under returns the leaf bits covered by a declared path, or nil when the
// path does not name any declared field.
func (pt *PathTable) Under(path string) []int {
	return pt.under[path]
}

// Known reports whether path names a declared field or sub-field.
func (pt *PathTable) Known(path string) bool {
	_, ok := pt.under[path]
	return ok
}

// PublicLeaves lists the non-synthetic leaf paths in declaration order. The
// synthetic auto-property backing paths stay private to the tracker.
func (pt *PathTable) PublicLeaves() []string {
	out := make([]string, 0, len(pt.leaves))
	for i, p := range pt.leaves {
		if pt.synthetic[i] {
			continue
		}
		out = append(out, p)
	}
	return out
}
