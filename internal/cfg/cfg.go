// Package cfg defines the control-flow facts the front end hands to the
// analyzer: per-routine graphs whose nodes are already tagged with variable
// and field-path information, plus the construction sites found during IR
// building. The analyzer never re-derives any of this from syntax.
package cfg

import (
	"github.com/calyx-lang/initcheck/internal/metadata"
	"github.com/calyx-lang/initcheck/internal/token"
)

// VarID indexes into a routine's variable list.
type VarID int

// Var is one tracked value-typed variable (local, parameter, or receiver).
type Var struct {
	ID         VarID
	Name       string
	Type       metadata.TypeID
	IsReceiver bool
}

// RoutineKind distinguishes constructor bodies, which carry extra receiver
// rules, from ordinary routines.
type RoutineKind int

const (
	Ordinary RoutineKind = iota
	Constructor
)

// Routine is one analyzable unit: a function, method, or constructor body.
type Routine struct {
	Name string
	Kind RoutineKind

	// Receiver is the receiver variable of a Constructor routine.
	Receiver VarID

	// ChainsToCtor marks a constructor that chains to another constructor
	// (the primary, or an explicit target). The chain target's postcondition
	// makes the receiver fully assigned from the chain call onward.
	ChainsToCtor bool

	Vars   []Var
	Blocks []*Block // Blocks[0] is the entry block
}

// Block is a basic block. Successor edges are block indexes.
type Block struct {
	Index int
	Nodes []Node
	Succs []int
}

// Preds computes the predecessor lists for all blocks.
func (r *Routine) Preds() [][]int {
	preds := make([][]int, len(r.Blocks))
	for _, b := range r.Blocks {
		for _, s := range b.Succs {
			preds[s] = append(preds[s], b.Index)
		}
	}
	return preds
}

// NodeKind tags what a CFG node does to a tracked variable.
type NodeKind int

const (
	// AssignPath assigns one field path of Var.
	AssignPath NodeKind = iota
	// AssignWhole assigns the entire value of Var (default-value expression,
	// whole-value copy, or binding a constructed value).
	AssignWhole
	// ReadPath reads one field path of Var.
	ReadPath
	// Call invokes a member on Var, including implicit property accessors.
	Call
	// ChainCall is a constructor-chain call on the receiver.
	ChainCall
	// Construct evaluates a construction expression and binds it to Var.
	Construct
)

// Node is one CFG node. Which fields are meaningful depends on Kind.
type Node struct {
	Kind NodeKind
	Var  VarID
	Path string // dotted field path for AssignPath/ReadPath
	Memb string // member name for Call
	Site *ConstructionSite
	Pos  token.Pos
}

// ContextKind tags the syntactic position of a construction expression. The
// resolution rules differ per context.
type ContextKind int

const (
	DirectExpression ContextKind = iota
	DefaultArgumentInitializer
	ConstructorChainTarget
	GeneratedDefaultCtor
)

func (c ContextKind) String() string {
	switch c {
	case DirectExpression:
		return "expression"
	case DefaultArgumentInitializer:
		return "default argument"
	case ConstructorChainTarget:
		return "constructor chain"
	case GeneratedDefaultCtor:
		return "generated constructor"
	default:
		return "unknown"
	}
}

// SiteID identifies a construction site across the compilation; the lowering
// stage uses it to look up the resolved decision.
type SiteID string

// ConstructionSite is one parameterless construction expression. Exactly one
// of Type and TypeParam is set: a concrete target type, or the name of a
// generic type parameter.
type ConstructionSite struct {
	ID        SiteID
	Type      metadata.TypeID
	TypeParam string
	// ParamHasNew reports that the type parameter is constrained to support
	// parameterless construction.
	ParamHasNew bool
	Context     ContextKind
	Pos         token.Pos
}

// IsGeneric reports whether the target is a generic type parameter.
func (s *ConstructionSite) IsGeneric() bool {
	return s.TypeParam != ""
}

// TargetName returns a printable name for diagnostics.
func (s *ConstructionSite) TargetName(store metadata.Store) string {
	if s.IsGeneric() {
		return s.TypeParam
	}
	if t, ok := store.Lookup(s.Type); ok {
		return t.Name
	}
	return string(s.Type)
}

// Point is a program point: the state observed immediately before executing
// Nodes[Node] of block Block. Node == len(Nodes) denotes the block exit.
type Point struct {
	Block int
	Node  int
}
