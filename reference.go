package fixtures

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Strategy selects how a referenced fixture is materialized.
type Strategy int

const (
	// StrategyModel builds the referenced entity without persisting it.
	StrategyModel Strategy = iota
	// StrategyCreate persists a fresh referenced entity.
	StrategyCreate
	// StrategyGet fetches the referenced entity through the registry.
	StrategyGet
)

func (s Strategy) String() string {
	switch s {
	case StrategyModel:
		return "model"
	case StrategyCreate:
		return "create"
	case StrategyGet:
		return "get"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// Ref defers an attribute to another fixture definition.
type Ref struct {
	Definition *Definition
	Strategy   Strategy
	Overrides  Overrides
}

// Refs is an ordered sequence of references, used for to-many relationships.
type Refs []Ref

// SubModel references def through Instance.Model.
func SubModel(def *Definition, overrides ...Overrides) Ref {
	return Ref{Definition: def, Strategy: StrategyModel, Overrides: mergeOverrides(overrides)}
}

// SubCreate references def through Instance.Create.
func SubCreate(def *Definition, overrides ...Overrides) Ref {
	return Ref{Definition: def, Strategy: StrategyCreate, Overrides: mergeOverrides(overrides)}
}

// SubGet references def through Instance.Get, so equal overrides share one row.
func SubGet(def *Definition, overrides ...Overrides) Ref {
	return Ref{Definition: def, Strategy: StrategyGet, Overrides: mergeOverrides(overrides)}
}

// Fields are the declared defaults of a definition, keyed by field or column name.
type Fields map[string]any

// Overrides replace declared defaults for a single materialization.
type Overrides map[string]any

func mergeOverrides(all []Overrides) Overrides {
	out := Overrides{}
	for _, o := range all {
		for k, v := range o {
			out[k] = v
		}
	}
	return out
}

// ElementPolicy decides what happens to non-reference elements mixed into a reference list.
type ElementPolicy int

const (
	// StrictReferences rejects mixed lists with a ConfigurationError.
	StrictReferences ElementPolicy = iota
	// DropNonReferences keeps the references and discards everything else.
	DropNonReferences
)

type fieldKind int

const (
	kindScalar fieldKind = iota
	kindReference
	kindReferences
)

// field is a normalized attribute value: exactly one of scalar, ref or refs is meaningful.
type field struct {
	kind    fieldKind
	scalar  any
	ref     Ref
	refs    []Ref
	dropped int
}

// normalize classifies v for property p. ok is false when v is absent.
func normalize(fixture string, p Property, v any, policy ElementPolicy) (f field, ok bool, err error) {
	switch x := v.(type) {
	case nil:
		return field{}, false, nil
	case Ref:
		return field{kind: kindReference, ref: x}, true, checkRef(fixture, p, x)
	case *Ref:
		if x == nil {
			return field{}, false, nil
		}
		return field{kind: kindReference, ref: *x}, true, checkRef(fixture, p, *x)
	case Refs:
		return refsField(fixture, p, x)
	case []Ref:
		return refsField(fixture, p, x)
	case []any:
		refs := make([]Ref, 0, len(x))
		for _, e := range x {
			if r, isRef := e.(Ref); isRef {
				refs = append(refs, r)
			}
		}
		switch {
		case len(refs) == len(x) && (len(x) > 0 || p.Relationship):
			return refsField(fixture, p, refs)
		case len(refs) > 0 || p.Relationship:
			if policy != DropNonReferences {
				return field{}, false, configErr(fixture, p.Name, "references must use a marker, found %d non-reference element(s)", len(x)-len(refs))
			}
			f, ok, err := refsField(fixture, p, refs)
			f.dropped = len(x) - len(refs)
			return f, ok, err
		}
	}
	if p.Relationship {
		return field{}, false, configErr(fixture, p.Name, "references must use a marker, got %T", v)
	}
	return field{kind: kindScalar, scalar: v}, true, nil
}

func refsField(fixture string, p Property, refs []Ref) (field, bool, error) {
	for _, r := range refs {
		if err := checkRef(fixture, p, r); err != nil {
			return field{}, false, err
		}
	}
	return field{kind: kindReferences, refs: append([]Ref(nil), refs...)}, true, nil
}

func checkRef(fixture string, p Property, r Ref) error {
	if r.Definition == nil {
		return configErr(fixture, p.Name, "reference without a fixture definition")
	}
	switch r.Strategy {
	case StrategyModel, StrategyCreate, StrategyGet:
		return nil
	}
	return configErr(fixture, p.Name, "unknown reference %v", r.Strategy)
}

// canonical renders overrides deterministically; equal overrides give equal strings.
// Scalars carry their type, so 1 and int64(1) key different entries.
func canonical(o Overrides) string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: ", k)
		writeCanonical(&b, o[k])
	}
	b.WriteByte('}')
	return b.String()
}

func writeCanonical(b *strings.Builder, v any) {
	switch x := v.(type) {
	case Ref:
		writeRef(b, x)
	case *Ref:
		if x == nil {
			b.WriteString("<nil>")
			return
		}
		writeRef(b, *x)
	case Refs:
		writeSeq(b, len(x), func(i int) any { return x[i] })
	case []Ref:
		writeSeq(b, len(x), func(i int) any { return x[i] })
	case []any:
		writeSeq(b, len(x), func(i int) any { return x[i] })
	default:
		// Pointers key by the value they point to. Pointers nested inside structs still print
		// as addresses.
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr && !rv.IsNil() {
			b.WriteByte('&')
			writeCanonical(b, rv.Elem().Interface())
			return
		}
		fmt.Fprintf(b, "%T(%#v)", v, v)
	}
}

func writeRef(b *strings.Builder, r Ref) {
	name := "<nil>"
	if r.Definition != nil {
		name = r.Definition.id()
	}
	fmt.Fprintf(b, "%v(%s)%s", r.Strategy, name, canonical(r.Overrides))
}

func writeSeq(b *strings.Builder, n int, at func(int) any) {
	b.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		writeCanonical(b, at(i))
	}
	b.WriteByte(']')
}
