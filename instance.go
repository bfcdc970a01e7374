package fixtures

import (
	"context"
	"fmt"
	"reflect"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("fixtures")

// Instance is a definition bound to a registry and a set of overrides for one materialization.
// It is discarded after use.
type Instance struct {
	def       *Definition
	registry  *Registry
	overrides Overrides
	fields    map[string]field
}

func (f *Instance) Definition() *Definition {
	return f.def
}

// Overrides returns the overrides supplied at construction. They key the registry.
func (f *Instance) Overrides() Overrides {
	return f.overrides
}

func (f *Instance) span(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "fixtures."+op, trace.WithAttributes(attribute.String("fixture", f.def.name)))
}

// Attributes resolves every field of the entity in mapping order. References are
// materialized with their strategy; scalars pass through unchanged. Fields without a value
// and empty reference lists are left out.
func (f *Instance) Attributes(ctx context.Context) (map[string]any, error) {
	attrs := make(map[string]any, len(f.fields))
	for _, p := range f.def.mapping.Properties {
		fd, ok := f.fields[p.Name]
		if !ok {
			continue
		}
		switch fd.kind {
		case kindScalar:
			attrs[p.Name] = fd.scalar
		case kindReference:
			v, err := f.resolve(ctx, fd.ref)
			if err != nil {
				return nil, err
			}
			attrs[p.Name] = v
		case kindReferences:
			if len(fd.refs) == 0 {
				continue
			}
			vs := make([]any, 0, len(fd.refs))
			for _, ref := range fd.refs {
				v, err := f.resolve(ctx, ref)
				if err != nil {
					return nil, err
				}
				vs = append(vs, v)
			}
			attrs[p.Name] = vs
		}
	}
	return attrs, nil
}

func (f *Instance) resolve(ctx context.Context, ref Ref) (any, error) {
	sub, err := ref.Definition.New(f.registry, ref.Overrides)
	if err != nil {
		return nil, err
	}
	switch ref.Strategy {
	case StrategyModel:
		return sub.Model(ctx)
	case StrategyCreate:
		return sub.Create(ctx)
	case StrategyGet:
		return sub.Get(ctx)
	}
	return nil, configErr(f.def.name, "", "unknown reference %v", ref.Strategy)
}

// Model returns a new instance of the entity that no session knows about. References with
// the create or get strategy are persisted while resolving, the returned entity is not.
func (f *Instance) Model(ctx context.Context) (any, error) {
	ctx, span := f.span(ctx, "Model")
	defer span.End()

	attrs, err := f.Attributes(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	v := reflect.New(f.def.mapping.Type)
	for _, p := range f.def.mapping.Properties {
		a, ok := attrs[p.Name]
		if !ok {
			continue
		}
		dst, _ := fieldByIndex(v.Elem(), p.Index, true)
		if !assign(dst, reflect.ValueOf(a)) {
			err := configErr(f.def.name, p.Name, "cannot assign %T to %v", a, dst.Type())
			span.RecordError(err)
			return nil, err
		}
	}
	f.registry.metrics.models.Inc(1)
	return v.Interface(), nil
}

// Create persists a new row and returns it reloaded by primary key, so values computed by the
// database are present. The result is not registered and never returned by Get.
func (f *Instance) Create(ctx context.Context) (any, error) {
	ctx, span := f.span(ctx, "Create")
	defer span.End()

	model, err := f.Model(ctx)
	if err != nil {
		return nil, err
	}
	s := f.registry.session
	if err := s.Add(model); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.Flush(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.Expunge(model); err != nil {
		span.RecordError(err)
		return nil, err
	}
	pk, err := f.def.mapping.PrimaryKeyValues(model)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(pk) == 0 {
		err := configErr(f.def.name, "", "%v has no primary key", f.def.mapping.Name)
		span.RecordError(err)
		return nil, err
	}
	row, err := s.Find(ctx, model, pk...)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	f.registry.metrics.creates.Inc(1)
	return row, nil
}

// Get returns the instance registered for this definition and these exact overrides,
// building and registering it on first use.
func (f *Instance) Get(ctx context.Context) (any, error) {
	ctx, span := f.span(ctx, "Get")
	defer span.End()

	v, err := f.registry.GetOrCreate(ctx, f.def, f.overrides)
	if err != nil {
		span.RecordError(err)
	}
	return v, err
}

// assign sets dst from src, adapting between values and pointers, element-wise for slices,
// and converting between numeric kinds or between string kinds.
func assign(dst, src reflect.Value) bool {
	if !src.IsValid() {
		return true
	}
	if src.Kind() == reflect.Interface {
		if src.IsNil() {
			return true
		}
		src = src.Elem()
	}
	st, dt := src.Type(), dst.Type()
	switch {
	case st.AssignableTo(dt):
		dst.Set(src)
	case dt.Kind() == reflect.Ptr && st.AssignableTo(dt.Elem()):
		p := reflect.New(dt.Elem())
		p.Elem().Set(src)
		dst.Set(p)
	case st.Kind() == reflect.Ptr && st.Elem().AssignableTo(dt):
		if src.IsNil() {
			return true
		}
		dst.Set(src.Elem())
	case dt.Kind() == reflect.Slice && (st.Kind() == reflect.Slice || st.Kind() == reflect.Array):
		out := reflect.MakeSlice(dt, src.Len(), src.Len())
		for i := 0; i < src.Len(); i++ {
			if !assign(out.Index(i), src.Index(i)) {
				return false
			}
		}
		dst.Set(out)
	case dt.Kind() == reflect.Ptr && convertible(st, dt.Elem()):
		p := reflect.New(dt.Elem())
		p.Elem().Set(src.Convert(dt.Elem()))
		dst.Set(p)
	case convertible(st, dt):
		dst.Set(src.Convert(dt))
	default:
		return false
	}
	return true
}

func convertible(from, to reflect.Type) bool {
	if !from.ConvertibleTo(to) {
		return false
	}
	return (isNumber(from) && isNumber(to)) || (from.Kind() == reflect.String && to.Kind() == reflect.String)
}

func isNumber(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func (f *Instance) String() string {
	return fmt.Sprintf("%s%s", f.def.name, canonical(f.overrides))
}
