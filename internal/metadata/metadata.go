// Package metadata models the value-type facts the analyzer consumes from
// the type-metadata store. Descriptors are loaded once per compilation and
// never mutated afterward; every analysis component reads them concurrently
// without locking.
package metadata

// TypeID identifies a value type uniquely within one compilation, including
// types imported from other modules.
type TypeID string

// Origin records where a type's definition lives relative to the analyzing
// compilation. Field visibility depends on it: non-public fields of imported
// types are invisible here.
type Origin int

const (
	OriginLocal Origin = iota
	OriginImported
)

// Accessibility of a field or constructor, as declared.
type Accessibility int

const (
	Public Accessibility = iota
	Internal
	Private
)

// Constraint names a generic constraint a type satisfies or a type parameter
// declares. Only ConstraintNew matters to construction resolution.
type Constraint string

// ConstraintNew marks parameterless-constructibility.
const ConstraintNew Constraint = "new"

// FieldDescriptor describes one field of a value type, in declaration order.
type FieldDescriptor struct {
	Name          string
	Accessibility Accessibility

	// ValueType is the field's type when the field is itself value-typed,
	// empty otherwise. Assignment tracking recurses through it.
	ValueType TypeID

	// Synthetic marks compiler-generated backing storage for an
	// auto-property. Synthetic fields participate in definite-assignment
	// tracking but are excluded from every public field-path listing.
	Synthetic bool
}

// IsValueTyped reports whether the field's own type is a value type.
func (f FieldDescriptor) IsValueTyped() bool {
	return f.ValueType != ""
}

// ConstructorDescriptor describes one declared constructor. An empty Params
// list means parameterless.
type ConstructorDescriptor struct {
	Params        []TypeID
	Accessibility Accessibility
	IsPrimary     bool

	// Synthesized marks a parameterless constructor generated under the
	// SynthesizeDefaultCtor policy rather than declared in source.
	Synthesized bool
}

// IsParameterless reports whether the constructor takes no arguments.
func (c ConstructorDescriptor) IsParameterless() bool {
	return len(c.Params) == 0
}

// ValueTypeDescriptor is the immutable record for one value type.
type ValueTypeDescriptor struct {
	ID           TypeID
	Name         string
	Origin       Origin
	Fields       []FieldDescriptor
	Constructors []ConstructorDescriptor
	Constraints  []Constraint
}

// PublicParameterlessCtor returns the public parameterless constructor, if
// any. Non-public parameterless constructors are excluded from resolution
// search entirely, so callers never see them from here.
func (t *ValueTypeDescriptor) PublicParameterlessCtor() (ConstructorDescriptor, bool) {
	for _, c := range t.Constructors {
		if c.IsParameterless() && c.Accessibility == Public {
			return c, true
		}
	}
	return ConstructorDescriptor{}, false
}

// DeclaresParameterlessCtor reports whether any parameterless constructor
// exists, regardless of accessibility.
func (t *ValueTypeDescriptor) DeclaresParameterlessCtor() bool {
	for _, c := range t.Constructors {
		if c.IsParameterless() {
			return true
		}
	}
	return false
}

// Satisfies reports whether the type lists the given constraint.
func (t *ValueTypeDescriptor) Satisfies(c Constraint) bool {
	for _, have := range t.Constraints {
		if have == c {
			return true
		}
	}
	return false
}

// FieldVisible reports whether a field of this type can be seen by the
// analyzing compilation: local types expose all their fields, imported types
// only public ones.
func (t *ValueTypeDescriptor) FieldVisible(f FieldDescriptor) bool {
	if t.Origin == OriginLocal {
		return true
	}
	return f.Accessibility == Public
}

// AutoPropertyBacking builds the hidden backing field for an auto-property.
// The field carries the property's name so that a field-style initializer on
// the property is tracked as assigning it, but it is Synthetic and therefore
// invisible to public field-path listings.
func AutoPropertyBacking(name string, acc Accessibility, valueType TypeID) FieldDescriptor {
	return FieldDescriptor{
		Name:          name,
		Accessibility: acc,
		ValueType:     valueType,
		Synthetic:     true,
	}
}

// Store is the read-only lookup surface the analyzer depends on. The real
// compiler backs it with its metadata loader; tests use a MapStore.
type Store interface {
	Lookup(id TypeID) (*ValueTypeDescriptor, bool)
}

// MapStore is an in-memory Store.
type MapStore struct {
	types map[TypeID]*ValueTypeDescriptor
}

// NewMapStore builds a store over the given descriptors.
func NewMapStore(types ...*ValueTypeDescriptor) *MapStore {
	s := &MapStore{types: make(map[TypeID]*ValueTypeDescriptor, len(types))}
	for _, t := range types {
		s.Add(t)
	}
	return s
}

// Add registers a descriptor. Descriptors must be fully built before Add;
// the store hands out shared read-only references.
func (s *MapStore) Add(t *ValueTypeDescriptor) {
	s.types[t.ID] = t
}

// Lookup implements Store.
func (s *MapStore) Lookup(id TypeID) (*ValueTypeDescriptor, bool) {
	t, ok := s.types[id]
	return t, ok
}
