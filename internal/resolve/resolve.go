// Package resolve maps a parameterless construction site to the behavior the
// compiler lowers it to. Resolution is a pure function of the target type's
// descriptor, the site's syntactic context, and the active policy; it never
// looks at prior resolutions, so results are deterministic and safe to
// memoize. Diagnostics are layered on top by the analysis driver, keeping
// this package independently testable.
package resolve

import (
	"github.com/calyx-lang/initcheck/internal/cfg"
	"github.com/calyx-lang/initcheck/internal/metadata"
	"github.com/calyx-lang/initcheck/internal/policy"
)

// Kind enumerates the lowering behaviors.
type Kind int

const (
	// CallExplicit invokes the resolved parameterless constructor.
	CallExplicit Kind = iota
	// ZeroInitialize produces the default bit pattern, bypassing any
	// constructor.
	ZeroInitialize
	// DynamicActivate defers construction to runtime activation; used for
	// generic type parameters, uniformly for value and reference
	// instantiations.
	DynamicActivate
	// Reject forbids the construction; the site must be rewritten.
	Reject
)

func (k Kind) String() string {
	switch k {
	case CallExplicit:
		return "CallExplicit"
	case ZeroInitialize:
		return "ZeroInitialize"
	case DynamicActivate:
		return "DynamicActivate"
	case Reject:
		return "Reject"
	default:
		return "Unknown"
	}
}

// Reason explains a Reject.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonCtorInDefaultArgument: a default-argument position would run a
	// constructor. Default arguments must never execute constructor side
	// effects.
	ReasonCtorInDefaultArgument
	// ReasonInaccessibleCtor: the type declares a parameterless constructor
	// the caller cannot see, and the active policy does not extend the
	// historical zero-init leniency to it.
	ReasonInaccessibleCtor
	// ReasonNotConstructible: a generic type parameter without the
	// parameterless-construction constraint, or an unknown target type.
	ReasonNotConstructible
)

// Decision is the immutable resolution outcome for one site.
type Decision struct {
	Kind   Kind
	Ctor   *metadata.ConstructorDescriptor // set for CallExplicit
	Reason Reason                          // set for Reject
}

// Resolve decides one construction site under the given policy.
func Resolve(store metadata.Store, pol policy.Policy, site *cfg.ConstructionSite) Decision {
	if site.IsGeneric() {
		// One uniform runtime path for generic construction: a value-typed
		// instantiation with its own public parameterless constructor takes
		// the same route as everything else, so user constructors are never
		// silently skipped.
		if site.ParamHasNew {
			return Decision{Kind: DynamicActivate}
		}
		return Decision{Kind: Reject, Reason: ReasonNotConstructible}
	}

	t, ok := store.Lookup(site.Type)
	if !ok {
		return Decision{Kind: Reject, Reason: ReasonNotConstructible}
	}

	ctor, hasPublic := t.PublicParameterlessCtor()
	if !hasPublic && pol.SynthesizeDefaultCtor && len(t.Constructors) > 0 && !t.DeclaresParameterlessCtor() {
		// Pluggable alternative under discussion: generate a parameterless
		// constructor running field initializers when other constructors
		// exist. It behaves like a declared public one everywhere,
		// including the default-argument prohibition.
		ctor = metadata.ConstructorDescriptor{Accessibility: metadata.Public, Synthesized: true}
		hasPublic = true
	}

	if site.Context == cfg.DefaultArgumentInitializer {
		if hasPublic {
			// Never CallExplicit here: a default argument must not run
			// constructor side effects.
			return Decision{Kind: Reject, Reason: ReasonCtorInDefaultArgument}
		}
		if t.DeclaresParameterlessCtor() {
			// Only an inaccessible parameterless constructor exists.
			if pol.AllowZeroInitWhenCtorExists {
				return Decision{Kind: ZeroInitialize}
			}
			return Decision{Kind: Reject, Reason: ReasonInaccessibleCtor}
		}
		return Decision{Kind: ZeroInitialize}
	}

	if hasPublic {
		c := ctor
		return Decision{Kind: CallExplicit, Ctor: &c}
	}
	// No public parameterless constructor: a non-public one is excluded
	// from the search as if absent, and the value is zero-initialized.
	return Decision{Kind: ZeroInitialize}
}
