package fixtures

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

type DefinitionOpt func(*Definition)

// DefinitionMapper reads the entity mapping with m instead of DefaultMapper.
func DefinitionMapper(m Mapper) DefinitionOpt {
	return func(d *Definition) {
		d.mapper = m
	}
}

// DefinitionElementPolicy sets how non-reference elements in reference lists are handled.
// Defaults to StrictReferences.
func DefinitionElementPolicy(p ElementPolicy) DefinitionOpt {
	return func(d *Definition) {
		d.policy = p
	}
}

// Definition is a reusable template for one entity type. It is immutable once defined.
type Definition struct {
	name     string
	mapper   Mapper
	mapping  *Mapping
	policy   ElementPolicy
	defaults map[string]field
	reported sync.Once
}

// Define binds a fixture template to the entity type of model. fields are the declared
// defaults; relationship fields must be given as references (Ref, Refs).
func Define(name string, model any, fields Fields, opts ...DefinitionOpt) (*Definition, error) {
	d := &Definition{name: name}
	for _, opt := range opts {
		opt(d)
	}
	if d.mapper == nil {
		d.mapper = DefaultMapper
	}
	if model == nil {
		return nil, configErr(name, "", "no model bound")
	}
	t := reflect.TypeOf(model)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, configErr(name, "", "model must be a struct, got %T", model)
	}
	if d.name == "" {
		d.name = t.Name() + "Fixture"
	}
	mapping, err := d.mapper.Mapping(reflect.New(t).Interface())
	if err != nil {
		return nil, configErr(d.name, "", "mapping %v: %v", t, err)
	}
	d.mapping = mapping
	d.defaults, err = d.normalize(Overrides(fields))
	if err != nil {
		return nil, err
	}
	return d, nil
}

// MustDefine is like Define but panics on error. Meant for package-level fixture declarations.
func MustDefine(name string, model any, fields Fields, opts ...DefinitionOpt) *Definition {
	d, err := Define(name, model, fields, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Definition) Name() string {
	return d.name
}

func (d *Definition) Mapping() *Mapping {
	return d.mapping
}

func (d *Definition) String() string {
	return d.name
}

func (d *Definition) id() string {
	return fmt.Sprintf("%s@%p", d.name, d)
}

// normalize validates values against the mapping and keys them by property name.
func (d *Definition) normalize(values Overrides) (map[string]field, error) {
	out := make(map[string]field, len(values))
	for key, v := range values {
		p, ok := d.mapping.Property(key)
		if !ok {
			return nil, configErr(d.name, key, "%v has no such field", d.mapping.Name)
		}
		if _, dup := out[p.Name]; dup {
			return nil, configErr(d.name, key, "%v is given more than once", p.Name)
		}
		f, ok, err := normalize(d.name, p, v, d.policy)
		if err != nil {
			return nil, err
		}
		if ok {
			out[p.Name] = f
		}
	}
	return out, nil
}

// New constructs a fixture for a single materialization. The declared defaults are copied
// and overrides applied on top.
func (d *Definition) New(r *Registry, overrides ...Overrides) (*Instance, error) {
	if r == nil {
		return nil, PreconditionError{Reason: fmt.Sprintf("fixture %s constructed without a registry", d.name)}
	}
	supplied := mergeOverrides(overrides)
	normalized, err := d.normalize(supplied)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]field, len(d.defaults)+len(normalized))
	for k, f := range d.defaults {
		fields[k] = f
	}
	for k, f := range normalized {
		fields[k] = f
	}
	// Explicit nil overrides clear a default.
	for key, v := range supplied {
		if v == nil {
			if p, ok := d.mapping.Property(key); ok {
				delete(fields, p.Name)
			}
		}
	}
	// Defaults are reported on first use, overrides on every call.
	d.reported.Do(func() {
		for k, f := range d.defaults {
			if f.dropped > 0 {
				r.log.Warn("dropped non-reference elements", zap.String("fixture", d.name), zap.String("field", k), zap.Int("dropped", f.dropped), zap.Bool("default", true))
			}
		}
	})
	for k, f := range normalized {
		if f.dropped > 0 {
			r.log.Warn("dropped non-reference elements", zap.String("fixture", d.name), zap.String("field", k), zap.Int("dropped", f.dropped), zap.Bool("default", false))
		}
	}
	return &Instance{
		def:       d,
		registry:  r,
		overrides: supplied,
		fields:    fields,
	}, nil
}

// Model builds an unpersisted instance. See Instance.Model.
func (d *Definition) Model(ctx context.Context, r *Registry, overrides ...Overrides) (any, error) {
	f, err := d.New(r, overrides...)
	if err != nil {
		return nil, err
	}
	return f.Model(ctx)
}

// Create persists a fresh instance. See Instance.Create.
func (d *Definition) Create(ctx context.Context, r *Registry, overrides ...Overrides) (any, error) {
	f, err := d.New(r, overrides...)
	if err != nil {
		return nil, err
	}
	return f.Create(ctx)
}

// Get returns the registered instance for these overrides. See Instance.Get.
func (d *Definition) Get(ctx context.Context, r *Registry, overrides ...Overrides) (any, error) {
	f, err := d.New(r, overrides...)
	if err != nil {
		return nil, err
	}
	return f.Get(ctx)
}

// As converts the result of a materialization to *T.
//
//	role, err := fixtures.As[Role](roleFixture.Get(ctx, registry))
func As[T any](v any, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	t, ok := v.(*T)
	if !ok {
		return nil, fmt.Errorf("fixture produced %T, not %T", v, t)
	}
	return t, nil
}
