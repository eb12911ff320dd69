// Package opacity classifies value types as opaque or transparent for the
// analyzing compilation. A type is opaque when any of its storage is not
// visible here, which forces whole-value assignment tracking instead of
// per-field tracking.
package opacity

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/calyx-lang/initcheck/internal/metadata"
	"github.com/calyx-lang/initcheck/internal/policy"
)

// cacheSize bounds the memo cache. Compilations rarely touch more than a
// few thousand distinct value types per policy.
const cacheSize = 8192

type result struct {
	opaque bool
	cyclic bool
}

// Oracle answers opacity queries over one metadata store. It is safe for
// concurrent use: the memo cache is populate-once in effect, because the
// computation is deterministic and racing writers store identical results.
type Oracle struct {
	store metadata.Store
	cache *lru.Cache[string, result]
}

// NewOracle builds an oracle over the given store.
func NewOracle(store metadata.Store) *Oracle {
	cache, err := lru.New[string, result](cacheSize)
	if err != nil {
		panic(err) // only fails on non-positive size
	}
	return &Oracle{store: store, cache: cache}
}

// IsOpaque reports whether the type must be tracked whole-value under the
// given policy. Unknown types and types with cyclic field metadata are
// opaque: when transparency cannot be proven, the analysis fails closed.
func (o *Oracle) IsOpaque(id metadata.TypeID, pol policy.Policy) bool {
	opaque, _ := o.Classify(id, pol)
	return opaque
}

// Classify is IsOpaque plus a flag telling whether a metadata field cycle
// was hit while classifying, so the caller can report the malformed input.
func (o *Oracle) Classify(id metadata.TypeID, pol policy.Policy) (opaque, cyclic bool) {
	key := string(id) + "\x00" + pol.Fingerprint()
	if r, ok := o.cache.Get(key); ok {
		return r.opaque, r.cyclic
	}
	r := o.classify(id, pol, map[metadata.TypeID]bool{})
	o.cache.Add(key, r)
	return r.opaque, r.cyclic
}

func (o *Oracle) classify(id metadata.TypeID, pol policy.Policy, visiting map[metadata.TypeID]bool) result {
	if visiting[id] {
		return result{opaque: true, cyclic: true}
	}
	t, ok := o.store.Lookup(id)
	if !ok {
		return result{opaque: true}
	}

	visiting[id] = true
	defer delete(visiting, id)

	var r result
	for _, f := range t.Fields {
		if !pol.CheckAllFieldKinds && !f.IsValueTyped() {
			// Historical narrow check: non-value fields are not inspected.
			continue
		}
		if !t.FieldVisible(f) {
			r.opaque = true
			continue // keep going to surface cycles as well
		}
		if f.IsValueTyped() {
			nested := o.classify(f.ValueType, pol, visiting)
			if nested.cyclic {
				r.cyclic = true
			}
			if nested.opaque {
				r.opaque = true
			}
		}
	}
	return r
}
