package fixtures

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/iancoleman/strcase"
	"gorm.io/gorm/schema"
)

// Mapper describes how an entity type is mapped by the ORM.
type Mapper interface {
	Mapping(model any) (*Mapping, error)
}

// Property is a single mapped field of an entity.
type Property struct {
	Name   string
	Column string
	// Index is the reflect index path of the field within the struct, embedded structs included.
	Index        []int
	Relationship bool
	// Many is set for has-many and many-to-many relationships.
	Many bool
	// Persisted is false for relationships and for fields the ORM never reads or writes.
	Persisted bool
}

type Mapping struct {
	Name       string
	Type       reflect.Type
	Properties []Property
	// PrimaryKey holds the names of the primary key properties in declared order.
	PrimaryKey []string
}

// Property finds a property by field name, column name or any snake/camel spelling of either.
func (m *Mapping) Property(name string) (Property, bool) {
	for _, p := range m.Properties {
		if p.Name == name || (p.Column != "" && p.Column == name) {
			return p, true
		}
	}
	snake := strcase.ToSnake(name)
	for _, p := range m.Properties {
		if strcase.ToSnake(p.Name) == snake {
			return p, true
		}
	}
	return Property{}, false
}

// PrimaryKeyValues reads the primary key of instance in declared order.
func (m *Mapping) PrimaryKeyValues(instance any) ([]any, error) {
	v := reflect.ValueOf(instance)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, fmt.Errorf("nil %v instance", m.Name)
		}
		v = v.Elem()
	}
	if v.Type() != m.Type {
		return nil, fmt.Errorf("instance of %v is not a %v", v.Type(), m.Name)
	}
	values := make([]any, 0, len(m.PrimaryKey))
	for _, name := range m.PrimaryKey {
		p, _ := m.Property(name)
		fv, ok := fieldByIndex(v, p.Index, false)
		if !ok {
			values = append(values, nil)
			continue
		}
		values = append(values, fv.Interface())
	}
	return values, nil
}

// GormMapper reads mappings from gorm's schema parser.
type GormMapper struct {
	namer schema.Namer
	cache *sync.Map
}

func NewGormMapper(namer schema.Namer) *GormMapper {
	if namer == nil {
		namer = schema.NamingStrategy{}
	}
	return &GormMapper{namer: namer, cache: &sync.Map{}}
}

// DefaultMapper is used by definitions that are not given a mapper.
var DefaultMapper Mapper = NewGormMapper(nil)

func (g *GormMapper) Mapping(model any) (*Mapping, error) {
	s, err := schema.Parse(model, g.cache, g.namer)
	if err != nil {
		return nil, err
	}
	m := &Mapping{Name: s.Name, Type: s.ModelType}
	for _, f := range s.Fields {
		p := Property{
			Name:      f.Name,
			Column:    f.DBName,
			Index:     structIndex(f.StructField.Index),
			Persisted: f.DBName != "",
		}
		if rel, ok := s.Relationships.Relations[f.Name]; ok {
			p.Relationship = true
			p.Persisted = false
			p.Many = rel.Type == schema.HasMany || rel.Type == schema.Many2Many
		}
		m.Properties = append(m.Properties, p)
	}
	for _, f := range s.PrimaryFields {
		m.PrimaryKey = append(m.PrimaryKey, f.Name)
	}
	return m, nil
}

// structIndex undoes gorm's encoding of embedded pointer fields as negative indexes.
func structIndex(index []int) []int {
	out := make([]int, len(index))
	for i, x := range index {
		if x < 0 {
			x = -x - 1
		}
		out[i] = x
	}
	return out
}

// fieldByIndex walks index through v, dereferencing embedded pointers. With alloc set, nil
// embedded pointers are allocated; otherwise a nil pointer on the path reports false.
func fieldByIndex(v reflect.Value, index []int, alloc bool) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Ptr {
			if v.IsNil() {
				if !alloc {
					return reflect.Value{}, false
				}
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, true
}
