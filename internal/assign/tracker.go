// Package assign implements the definite-assignment state tracker: a
// forward, flow-sensitive fixed-point dataflow analysis over one routine's
// control-flow graph. It decides, per variable per program point, which
// storage is guaranteed initialized, and reports reads that cannot be
// proven safe.
package assign

import (
	"context"

	"github.com/calyx-lang/initcheck/internal/cfg"
	"github.com/calyx-lang/initcheck/internal/diagnostics"
	"github.com/calyx-lang/initcheck/internal/metadata"
	"github.com/calyx-lang/initcheck/internal/opacity"
	"github.com/calyx-lang/initcheck/internal/policy"
	"github.com/calyx-lang/initcheck/internal/token"
)

// Tracker analyzes routines against one metadata store and policy. It holds
// no per-routine state and is safe for concurrent use from parallel workers.
type Tracker struct {
	store  metadata.Store
	oracle *opacity.Oracle
	pol    policy.Policy
}

// New builds a tracker. The oracle may be shared across trackers; its memo
// cache keys include the policy fingerprint.
func New(store metadata.Store, oracle *opacity.Oracle, pol policy.Policy) *Tracker {
	return &Tracker{store: store, oracle: oracle, pol: pol}
}

// varInfo is the per-variable classification computed once per routine.
type varInfo struct {
	v      cfg.Var
	opaque bool
	paths  *PathTable // nil for opaque variables
}

// Result answers definite-assignment queries for one analyzed routine.
type Result struct {
	routine *cfg.Routine
	vars    []varInfo
	// blockIn holds the fixed-point state at each block entry, indexed
	// [block][var].
	blockIn [][]*state
}

// AnalyzeRoutine runs the fixed point and returns the query result plus the
// findings, in deterministic order. Cancellation is checked at CFG-node
// granularity; on cancellation partial findings are discarded and a nil
// result returned with ctx's error.
func (t *Tracker) AnalyzeRoutine(ctx context.Context, r *cfg.Routine) (*Result, []*diagnostics.DiagnosticError, error) {
	vars := make([]varInfo, len(r.Vars))
	var errs []*diagnostics.DiagnosticError
	cycleSeen := make(map[metadata.TypeID]bool)
	for i, v := range r.Vars {
		opaque, cyclic := t.oracle.Classify(v.Type, t.pol)
		if cyclic && !cycleSeen[v.Type] {
			cycleSeen[v.Type] = true
			errs = append(errs, diagnostics.NewError(diagnostics.ErrM001, token.NoPos, t.typeName(v.Type)))
		}
		vi := varInfo{v: v, opaque: opaque}
		if !opaque {
			vi.paths = BuildPathTable(t.store, t.oracle, t.pol, v.Type)
		}
		vars[i] = vi
	}

	blockIn, err := t.fixpoint(ctx, r, vars)
	if err != nil {
		return nil, nil, err
	}

	res := &Result{routine: r, vars: vars, blockIn: blockIn}

	// Findings are collected in a separate pass over the settled states so
	// that re-running blocks during iteration cannot duplicate a report.
	reported := make(map[string]bool)
	for _, b := range r.Blocks {
		st := cloneStates(blockIn[b.Index])
		for i := range b.Nodes {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			t.transfer(r, vars, st, &b.Nodes[i], func(e *diagnostics.DiagnosticError) {
				if reported[e.Key()] {
					return
				}
				reported[e.Key()] = true
				errs = append(errs, e)
			})
		}
	}

	diagnostics.Sort(errs)
	return res, errs, nil
}

// fixpoint iterates blocks to a fixed point. The per-variable lattice height
// is bounded by the declared leaf count plus one, so termination is
// guaranteed.
func (t *Tracker) fixpoint(ctx context.Context, r *cfg.Routine, vars []varInfo) ([][]*state, error) {
	n := len(r.Blocks)
	if n == 0 {
		return nil, nil
	}
	preds := r.Preds()
	blockIn := make([][]*state, n)
	blockOut := make([][]*state, n)

	entry := t.entryStates(r, vars)

	work := make([]int, 0, n)
	inWork := make([]bool, n)
	push := func(b int) {
		if !inWork[b] {
			inWork[b] = true
			work = append(work, b)
		}
	}
	push(0)

	for len(work) > 0 {
		bi := work[0]
		work = work[1:]
		inWork[bi] = false
		b := r.Blocks[bi]

		var in []*state
		if bi == 0 {
			in = cloneStates(entry)
		} else {
			for _, p := range preds[bi] {
				if blockOut[p] == nil {
					continue // unvisited predecessor contributes nothing yet
				}
				if in == nil {
					in = cloneStates(blockOut[p])
				} else {
					meetStates(in, blockOut[p])
				}
			}
			if in == nil {
				// Unreachable so far; keep Bottom until a predecessor lands.
				in = bottomStates(vars)
			}
		}
		blockIn[bi] = in

		out := cloneStates(in)
		for i := range b.Nodes {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			t.transfer(r, vars, out, &b.Nodes[i], func(*diagnostics.DiagnosticError) {})
		}

		if blockOut[bi] == nil || !statesEqual(blockOut[bi], out) {
			blockOut[bi] = out
			for _, s := range b.Succs {
				push(s)
			}
		}
	}

	// Blocks never reached get entry-independent Bottom states so queries
	// against them are well defined.
	for i := range blockIn {
		if blockIn[i] == nil {
			blockIn[i] = bottomStates(vars)
		}
	}
	return blockIn, nil
}

// entryStates builds the routine-entry lattice: Bottom everywhere, except a
// constructor receiver that chains to another constructor, which starts
// fully assigned per the chain target's postcondition.
func (t *Tracker) entryStates(r *cfg.Routine, vars []varInfo) []*state {
	st := bottomStates(vars)
	if r.Kind == cfg.Constructor && r.ChainsToCtor {
		st[r.Receiver].markAll()
	}
	return st
}

// transfer applies one node to st, reporting violations through report.
// After a violation the affected storage is treated as assigned, so one root
// cause yields one finding.
func (t *Tracker) transfer(r *cfg.Routine, vars []varInfo, st []*state, n *cfg.Node, report func(*diagnostics.DiagnosticError)) {
	switch n.Kind {
	case cfg.AssignWhole:
		st[n.Var].markAll()

	case cfg.AssignPath:
		vi := &vars[n.Var]
		if vi.opaque {
			// A single visible field can never account for hidden storage;
			// partial assignment leaves an opaque value unassigned.
			return
		}
		st[n.Var].markBits(vi.paths.Under(n.Path))

	case cfg.ReadPath:
		t.checkRead(vars, st, n, n.Path, report)

	case cfg.Call:
		// Any member invocation, property accessors included, requires the
		// whole value assigned.
		s := st[n.Var]
		if s.isTop() {
			return
		}
		vi := &vars[n.Var]
		if r.Kind == cfg.Constructor && n.Var == r.Receiver {
			report(diagnostics.NewError(diagnostics.ErrD003, n.Pos, n.Memb))
		} else if vi.opaque {
			report(diagnostics.NewError(diagnostics.ErrD002, n.Pos, vi.v.Name, t.typeName(vi.v.Type)))
		} else {
			path := "?"
			if missing := s.firstUnset(); missing >= 0 {
				path = vi.paths.Leaf(missing)
			}
			report(diagnostics.NewError(diagnostics.ErrD001, n.Pos, path, t.typeName(vi.v.Type)))
		}
		s.markAll()

	case cfg.ChainCall:
		st[n.Var].markAll()

	case cfg.Construct:
		// Binding a construction result fully assigns the variable. Even a
		// Reject decision heals here: the construction diagnostic already
		// names the root cause.
		if n.Var >= 0 && int(n.Var) < len(st) {
			st[n.Var].markAll()
		}
	}
}

func (t *Tracker) checkRead(vars []varInfo, st []*state, n *cfg.Node, path string, report func(*diagnostics.DiagnosticError)) {
	vi := &vars[n.Var]
	s := st[n.Var]
	if vi.opaque {
		if !s.flag {
			report(diagnostics.NewError(diagnostics.ErrD002, n.Pos, vi.v.Name, t.typeName(vi.v.Type)))
			s.flag = true
		}
		return
	}
	bits := vi.paths.Under(path)
	if bits == nil {
		// The front end tagged a path this type does not declare. Nothing
		// to prove, nothing to heal.
		return
	}
	if missing := s.firstMissing(bits); missing >= 0 {
		report(diagnostics.NewError(diagnostics.ErrD001, n.Pos, vi.paths.Leaf(missing), t.typeName(vi.v.Type)))
		s.markBits(bits)
	}
}

func (t *Tracker) typeName(id metadata.TypeID) string {
	if td, ok := t.store.Lookup(id); ok {
		return td.Name
	}
	return string(id)
}

func bottomStates(vars []varInfo) []*state {
	st := make([]*state, len(vars))
	for i := range vars {
		n := 0
		if vars[i].paths != nil {
			n = vars[i].paths.Len()
		}
		st[i] = newBottom(vars[i].opaque, n)
	}
	return st
}

func cloneStates(st []*state) []*state {
	out := make([]*state, len(st))
	for i, s := range st {
		out[i] = s.clone()
	}
	return out
}

func meetStates(dst, src []*state) {
	for i := range dst {
		dst[i].meet(src[i])
	}
}

func statesEqual(a, b []*state) bool {
	for i := range a {
		if !a[i].equals(b[i]) {
			return false
		}
	}
	return true
}

// IsDefinitelyAssigned reports whether the variable is fully assigned at the
// given program point. Later passes query this after analysis.
func (res *Result) IsDefinitelyAssigned(v cfg.VarID, pt cfg.Point) bool {
	s := res.stateAt(v, pt)
	return s != nil && s.isTop()
}

// AssignedPaths lists the non-synthetic leaf paths assigned at the point,
// for a transparent variable. Opaque variables have no path granularity and
// return nil.
func (res *Result) AssignedPaths(v cfg.VarID, pt cfg.Point) []string {
	vi := &res.vars[v]
	if vi.opaque {
		return nil
	}
	s := res.stateAt(v, pt)
	if s == nil {
		return nil
	}
	var out []string
	for bit := 0; bit < vi.paths.Len(); bit++ {
		if vi.paths.synthetic[bit] || !s.set.Has(bit) {
			continue
		}
		out = append(out, vi.paths.Leaf(bit))
	}
	return out
}

// stateAt replays the block prefix before the point against the settled
// block-entry state. Replay keeps Result memory proportional to block count
// rather than node count.
func (res *Result) stateAt(v cfg.VarID, pt cfg.Point) *state {
	if pt.Block < 0 || pt.Block >= len(res.routine.Blocks) {
		return nil
	}
	b := res.routine.Blocks[pt.Block]
	if pt.Node < 0 || pt.Node > len(b.Nodes) {
		return nil
	}
	st := cloneStates(res.blockIn[pt.Block])
	for i := 0; i < pt.Node; i++ {
		replayTransfer(res.vars, st, &b.Nodes[i])
	}
	return st[v]
}

// replayTransfer mirrors Tracker.transfer without reporting. Kept separate
// so Result does not retain the tracker or its store.
func replayTransfer(vars []varInfo, st []*state, n *cfg.Node) {
	switch n.Kind {
	case cfg.AssignWhole, cfg.ChainCall:
		st[n.Var].markAll()
	case cfg.AssignPath:
		if vi := &vars[n.Var]; !vi.opaque {
			st[n.Var].markBits(vi.paths.Under(n.Path))
		}
	case cfg.ReadPath:
		vi := &vars[n.Var]
		s := st[n.Var]
		if vi.opaque {
			s.flag = true
			return
		}
		if bits := vi.paths.Under(n.Path); bits != nil {
			s.markBits(bits)
		}
	case cfg.Call:
		st[n.Var].markAll()
	case cfg.Construct:
		if n.Var >= 0 && int(n.Var) < len(st) {
			st[n.Var].markAll()
		}
	}
}