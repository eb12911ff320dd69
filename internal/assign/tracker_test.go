package assign

import (
	"context"
	"testing"

	"github.com/calyx-lang/initcheck/internal/cfg"
	"github.com/calyx-lang/initcheck/internal/diagnostics"
	"github.com/calyx-lang/initcheck/internal/metadata"
	"github.com/calyx-lang/initcheck/internal/opacity"
	"github.com/calyx-lang/initcheck/internal/policy"
	"github.com/calyx-lang/initcheck/internal/token"
)

func pointStore() *metadata.MapStore {
	return metadata.NewMapStore(
		&metadata.ValueTypeDescriptor{
			ID: "p.Point", Name: "Point", Origin: metadata.OriginLocal,
			Fields: []metadata.FieldDescriptor{
				{Name: "X", Accessibility: metadata.Public},
				{Name: "Y", Accessibility: metadata.Public},
			},
			Constructors: []metadata.ConstructorDescriptor{
				{Accessibility: metadata.Public},
			},
		},
		&metadata.ValueTypeDescriptor{
			ID: "p.Sealed", Name: "Sealed", Origin: metadata.OriginImported,
			Fields: []metadata.FieldDescriptor{
				{Name: "impl", Accessibility: metadata.Private},
			},
		},
		&metadata.ValueTypeDescriptor{
			ID: "p.Rect", Name: "Rect", Origin: metadata.OriginLocal,
			Fields: []metadata.FieldDescriptor{
				{Name: "Min", Accessibility: metadata.Public, ValueType: "p.Point"},
				{Name: "Max", Accessibility: metadata.Public, ValueType: "p.Point"},
			},
		},
	)
}

func newTestTracker(t *testing.T, store metadata.Store) *Tracker {
	t.Helper()
	pol, err := policy.ForVersion("2.0.0")
	if err != nil {
		t.Fatalf("ForVersion: %v", err)
	}
	return New(store, opacity.NewOracle(store), pol)
}

func pos(line int) token.Pos {
	return token.Pos{File: "main.cx", Line: line, Column: 1}
}

func analyze(t *testing.T, tr *Tracker, r *cfg.Routine) (*Result, []*diagnostics.DiagnosticError) {
	t.Helper()
	res, errs, err := tr.AnalyzeRoutine(context.Background(), r)
	if err != nil {
		t.Fatalf("AnalyzeRoutine: %v", err)
	}
	return res, errs
}

func codesOf(errs []*diagnostics.DiagnosticError) []diagnostics.ErrorCode {
	var out []diagnostics.ErrorCode
	for _, e := range errs {
		out = append(out, e.Code)
	}
	return out
}

// Worked scenario: declare a Point, assign only X, read Y. The read must be
// a definite-assignment violation naming Y.
func TestPartialAssignmentViolation(t *testing.T) {
	tr := newTestTracker(t, pointStore())
	r := &cfg.Routine{
		Name: "partial",
		Vars: []cfg.Var{{ID: 0, Name: "p", Type: "p.Point"}},
		Blocks: []*cfg.Block{{
			Index: 0,
			Nodes: []cfg.Node{
				{Kind: cfg.AssignPath, Var: 0, Path: "X", Pos: pos(2)},
				{Kind: cfg.ReadPath, Var: 0, Path: "Y", Pos: pos(3)},
			},
		}},
	}
	_, errs := analyze(t, tr, r)
	if len(errs) != 1 || errs[0].Code != diagnostics.ErrD001 {
		t.Fatalf("got %v, want one D001", codesOf(errs))
	}
	if got := errs[0].Message; got != "field 'Y' of 'Point' may be unassigned at this use" {
		t.Errorf("unexpected message: %q", got)
	}
}

// Constructing via Point() fully assigns; reading Y afterwards is clean and
// the state is Top.
func TestConstructionAssignsWhole(t *testing.T) {
	tr := newTestTracker(t, pointStore())
	site := &cfg.ConstructionSite{ID: "s1", Type: "p.Point", Context: cfg.DirectExpression, Pos: pos(2)}
	r := &cfg.Routine{
		Name: "constructed",
		Vars: []cfg.Var{{ID: 0, Name: "p", Type: "p.Point"}},
		Blocks: []*cfg.Block{{
			Index: 0,
			Nodes: []cfg.Node{
				{Kind: cfg.Construct, Var: 0, Site: site, Pos: pos(2)},
				{Kind: cfg.ReadPath, Var: 0, Path: "Y", Pos: pos(3)},
			},
		}},
	}
	res, errs := analyze(t, tr, r)
	if len(errs) != 0 {
		t.Fatalf("unexpected findings: %v", codesOf(errs))
	}
	if !res.IsDefinitelyAssigned(0, cfg.Point{Block: 0, Node: 1}) {
		t.Errorf("state after construction is not Top")
	}
}

// A field assigned on only one branch is not assigned after the join.
func TestJoinIntersection(t *testing.T) {
	tr := newTestTracker(t, pointStore())
	r := &cfg.Routine{
		Name: "branchy",
		Vars: []cfg.Var{{ID: 0, Name: "p", Type: "p.Point"}},
		Blocks: []*cfg.Block{
			{Index: 0, Succs: []int{1, 2}},
			{Index: 1, Succs: []int{3}, Nodes: []cfg.Node{
				{Kind: cfg.AssignPath, Var: 0, Path: "X", Pos: pos(3)},
				{Kind: cfg.AssignPath, Var: 0, Path: "Y", Pos: pos(4)},
			}},
			{Index: 2, Succs: []int{3}, Nodes: []cfg.Node{
				{Kind: cfg.AssignPath, Var: 0, Path: "Y", Pos: pos(6)},
			}},
			{Index: 3, Nodes: []cfg.Node{
				{Kind: cfg.ReadPath, Var: 0, Path: "X", Pos: pos(8)},
			}},
		},
	}
	_, errs := analyze(t, tr, r)
	if len(errs) != 1 || errs[0].Code != diagnostics.ErrD001 {
		t.Fatalf("got %v, want one D001 at the join read", codesOf(errs))
	}
	if errs[0].Pos.Line != 8 {
		t.Errorf("violation reported at line %d, want 8", errs[0].Pos.Line)
	}
}

// Both branches assigning the field keep the join read clean.
func TestJoinBothBranchesAssigned(t *testing.T) {
	tr := newTestTracker(t, pointStore())
	r := &cfg.Routine{
		Name: "bothways",
		Vars: []cfg.Var{{ID: 0, Name: "p", Type: "p.Point"}},
		Blocks: []*cfg.Block{
			{Index: 0, Succs: []int{1, 2}},
			{Index: 1, Succs: []int{3}, Nodes: []cfg.Node{
				{Kind: cfg.AssignPath, Var: 0, Path: "X", Pos: pos(3)},
			}},
			{Index: 2, Succs: []int{3}, Nodes: []cfg.Node{
				{Kind: cfg.AssignPath, Var: 0, Path: "X", Pos: pos(5)},
			}},
			{Index: 3, Nodes: []cfg.Node{
				{Kind: cfg.ReadPath, Var: 0, Path: "X", Pos: pos(7)},
			}},
		},
	}
	if _, errs := analyze(t, tr, r); len(errs) != 0 {
		t.Fatalf("unexpected findings: %v", codesOf(errs))
	}
}

// One root cause, one report: the state heals after the first finding so
// downstream reads of the same path stay quiet.
func TestViolationHealsState(t *testing.T) {
	tr := newTestTracker(t, pointStore())
	r := &cfg.Routine{
		Name: "cascade",
		Vars: []cfg.Var{{ID: 0, Name: "p", Type: "p.Point"}},
		Blocks: []*cfg.Block{{
			Index: 0,
			Nodes: []cfg.Node{
				{Kind: cfg.ReadPath, Var: 0, Path: "Y", Pos: pos(2)},
				{Kind: cfg.ReadPath, Var: 0, Path: "Y", Pos: pos(3)},
				{Kind: cfg.ReadPath, Var: 0, Path: "X", Pos: pos(4)},
			},
		}},
	}
	_, errs := analyze(t, tr, r)
	// Y heals at line 2; X is a distinct root cause at line 4.
	if len(errs) != 2 {
		t.Fatalf("got %d findings (%v), want 2", len(errs), codesOf(errs))
	}
	if errs[0].Pos.Line != 2 || errs[1].Pos.Line != 4 {
		t.Errorf("findings at lines %d,%d, want 2,4", errs[0].Pos.Line, errs[1].Pos.Line)
	}
}

// Opaque values have no per-field granularity: a member access before a
// whole-value assignment is a violation; after one, it is clean.
func TestOpaqueWholeValueTracking(t *testing.T) {
	tr := newTestTracker(t, pointStore())
	r := &cfg.Routine{
		Name: "opaque",
		Vars: []cfg.Var{{ID: 0, Name: "s", Type: "p.Sealed"}},
		Blocks: []*cfg.Block{{
			Index: 0,
			Nodes: []cfg.Node{
				{Kind: cfg.Call, Var: 0, Memb: "Len", Pos: pos(2)},
				{Kind: cfg.AssignWhole, Var: 0, Pos: pos(3)},
				{Kind: cfg.Call, Var: 0, Memb: "Len", Pos: pos(4)},
			},
		}},
	}
	_, errs := analyze(t, tr, r)
	if len(errs) != 1 || errs[0].Code != diagnostics.ErrD002 {
		t.Fatalf("got %v, want one D002", codesOf(errs))
	}
}

// Inside a constructor no member may run on the receiver until every field
// is assigned.
func TestConstructorReceiverGate(t *testing.T) {
	tr := newTestTracker(t, pointStore())
	r := &cfg.Routine{
		Name:     "Point.ctor",
		Kind:     cfg.Constructor,
		Receiver: 0,
		Vars:     []cfg.Var{{ID: 0, Name: "this", Type: "p.Point", IsReceiver: true}},
		Blocks: []*cfg.Block{{
			Index: 0,
			Nodes: []cfg.Node{
				{Kind: cfg.AssignPath, Var: 0, Path: "X", Pos: pos(2)},
				{Kind: cfg.Call, Var: 0, Memb: "Normalize", Pos: pos(3)},
			},
		}},
	}
	_, errs := analyze(t, tr, r)
	if len(errs) != 1 || errs[0].Code != diagnostics.ErrD003 {
		t.Fatalf("got %v, want one D003", codesOf(errs))
	}
}

// A constructor chaining to another starts with the receiver fully
// assigned, per the chain target's postcondition.
func TestChainedConstructorStartsTop(t *testing.T) {
	tr := newTestTracker(t, pointStore())
	r := &cfg.Routine{
		Name:         "Point.scaled",
		Kind:         cfg.Constructor,
		Receiver:     0,
		ChainsToCtor: true,
		Vars:         []cfg.Var{{ID: 0, Name: "this", Type: "p.Point", IsReceiver: true}},
		Blocks: []*cfg.Block{{
			Index: 0,
			Nodes: []cfg.Node{
				{Kind: cfg.Call, Var: 0, Memb: "Normalize", Pos: pos(2)},
			},
		}},
	}
	if _, errs := analyze(t, tr, r); len(errs) != 0 {
		t.Fatalf("unexpected findings: %v", codesOf(errs))
	}
}

// An explicit chain call mid-body promotes the receiver to Top.
func TestChainCallAssignsReceiver(t *testing.T) {
	tr := newTestTracker(t, pointStore())
	r := &cfg.Routine{
		Name:     "Point.viaChain",
		Kind:     cfg.Constructor,
		Receiver: 0,
		Vars:     []cfg.Var{{ID: 0, Name: "this", Type: "p.Point", IsReceiver: true}},
		Blocks: []*cfg.Block{{
			Index: 0,
			Nodes: []cfg.Node{
				{Kind: cfg.ChainCall, Var: 0, Pos: pos(2)},
				{Kind: cfg.Call, Var: 0, Memb: "Normalize", Pos: pos(3)},
			},
		}},
	}
	if _, errs := analyze(t, tr, r); len(errs) != 0 {
		t.Fatalf("unexpected findings: %v", codesOf(errs))
	}
}

// Nested value fields expand to dotted paths; assigning the interior path
// covers all leaves beneath it.
func TestNestedPathExpansion(t *testing.T) {
	tr := newTestTracker(t, pointStore())
	r := &cfg.Routine{
		Name: "nested",
		Vars: []cfg.Var{{ID: 0, Name: "r", Type: "p.Rect"}},
		Blocks: []*cfg.Block{{
			Index: 0,
			Nodes: []cfg.Node{
				{Kind: cfg.AssignPath, Var: 0, Path: "Min", Pos: pos(2)},
				{Kind: cfg.AssignPath, Var: 0, Path: "Max.X", Pos: pos(3)},
				{Kind: cfg.ReadPath, Var: 0, Path: "Min.Y", Pos: pos(4)},
				{Kind: cfg.ReadPath, Var: 0, Path: "Max", Pos: pos(5)},
			},
		}},
	}
	_, errs := analyze(t, tr, r)
	if len(errs) != 1 || errs[0].Code != diagnostics.ErrD001 {
		t.Fatalf("got %v, want one D001 for Max.Y", codesOf(errs))
	}
	if got := errs[0].Message; got != "field 'Max.Y' of 'Rect' may be unassigned at this use" {
		t.Errorf("unexpected message: %q", got)
	}
}

// Auto-property backing storage is tracked like a field but never listed by
// the public path API.
func TestAutoPropertyBackingPath(t *testing.T) {
	store := metadata.NewMapStore(
		&metadata.ValueTypeDescriptor{
			ID: "p.Counter", Name: "Counter", Origin: metadata.OriginLocal,
			Fields: []metadata.FieldDescriptor{
				{Name: "id", Accessibility: metadata.Private},
				metadata.AutoPropertyBacking("Count", metadata.Public, ""),
			},
		},
	)
	tr := newTestTracker(t, store)
	r := &cfg.Routine{
		Name:     "Counter.ctor",
		Kind:     cfg.Constructor,
		Receiver: 0,
		Vars:     []cfg.Var{{ID: 0, Name: "this", Type: "p.Counter", IsReceiver: true}},
		Blocks: []*cfg.Block{{
			Index: 0,
			Nodes: []cfg.Node{
				{Kind: cfg.AssignPath, Var: 0, Path: "id", Pos: pos(2)},
				// Property-initializer form; the tracker maps it onto the
				// hidden backing path.
				{Kind: cfg.AssignPath, Var: 0, Path: "Count", Pos: pos(3)},
				{Kind: cfg.Call, Var: 0, Memb: "Reset", Pos: pos(4)},
			},
		}},
	}
	res, errs := analyze(t, tr, r)
	if len(errs) != 0 {
		t.Fatalf("unexpected findings: %v", codesOf(errs))
	}
	paths := res.AssignedPaths(0, cfg.Point{Block: 0, Node: 2})
	for _, p := range paths {
		if p == "Count" {
			t.Errorf("synthetic backing path leaked into public listing: %v", paths)
		}
	}
	if len(paths) != 1 || paths[0] != "id" {
		t.Errorf("AssignedPaths = %v, want [id]", paths)
	}
}

func TestIsDefinitelyAssignedPerPoint(t *testing.T) {
	tr := newTestTracker(t, pointStore())
	r := &cfg.Routine{
		Name: "points",
		Vars: []cfg.Var{{ID: 0, Name: "p", Type: "p.Point"}},
		Blocks: []*cfg.Block{{
			Index: 0,
			Nodes: []cfg.Node{
				{Kind: cfg.AssignPath, Var: 0, Path: "X", Pos: pos(2)},
				{Kind: cfg.AssignPath, Var: 0, Path: "Y", Pos: pos(3)},
			},
		}},
	}
	res, _ := analyze(t, tr, r)
	if res.IsDefinitelyAssigned(0, cfg.Point{Block: 0, Node: 0}) {
		t.Errorf("assigned at entry")
	}
	if res.IsDefinitelyAssigned(0, cfg.Point{Block: 0, Node: 1}) {
		t.Errorf("assigned after only X")
	}
	if !res.IsDefinitelyAssigned(0, cfg.Point{Block: 0, Node: 2}) {
		t.Errorf("not assigned after X and Y")
	}
}

func TestCancellationDiscardsResults(t *testing.T) {
	tr := newTestTracker(t, pointStore())
	r := &cfg.Routine{
		Name: "canceled",
		Vars: []cfg.Var{{ID: 0, Name: "p", Type: "p.Point"}},
		Blocks: []*cfg.Block{{
			Index: 0,
			Nodes: []cfg.Node{
				{Kind: cfg.ReadPath, Var: 0, Path: "X", Pos: pos(2)},
			},
		}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, errs, err := tr.AnalyzeRoutine(ctx, r)
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if res != nil || errs != nil {
		t.Errorf("partial results published after cancellation")
	}
}

// A loop must reach a fixed point: assignment inside the loop body does not
// count for the loop-entry join, because the zeroth iteration arrives there
// unassigned.
func TestLoopFixedPoint(t *testing.T) {
	tr := newTestTracker(t, pointStore())
	r := &cfg.Routine{
		Name: "loop",
		Vars: []cfg.Var{{ID: 0, Name: "p", Type: "p.Point"}},
		Blocks: []*cfg.Block{
			{Index: 0, Succs: []int{1}},
			// loop head: entered from 0 and from the back edge of 2
			{Index: 1, Succs: []int{2, 3}, Nodes: []cfg.Node{
				{Kind: cfg.ReadPath, Var: 0, Path: "X", Pos: pos(3)},
			}},
			{Index: 2, Succs: []int{1}, Nodes: []cfg.Node{
				{Kind: cfg.AssignPath, Var: 0, Path: "X", Pos: pos(5)},
			}},
			{Index: 3},
		},
	}
	_, errs := analyze(t, tr, r)
	if len(errs) != 1 || errs[0].Code != diagnostics.ErrD001 {
		t.Fatalf("got %v, want one D001 at the loop head", codesOf(errs))
	}
}
