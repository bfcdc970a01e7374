package fixtures

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

type GormSessionOpt func(*GormSession)

func GormSessionLogger(logger *zap.Logger) GormSessionOpt {
	return func(s *GormSession) {
		s.log = logger
	}
}

// GormSession is a small unit of work over gorm: it tracks attached instances by identity,
// queues pending writes and applies them on Flush.
type GormSession struct {
	log      *zap.Logger
	db       *gorm.DB
	schemas  *sync.Map
	mapper   *GormMapper
	pending  []any
	attached map[any]string
	identity map[string]any
}

func NewGormSession(db *gorm.DB, opts ...GormSessionOpt) *GormSession {
	s := &GormSession{
		db:       db,
		schemas:  &sync.Map{},
		mapper:   NewGormMapper(db.NamingStrategy),
		attached: map[any]string{},
		identity: map[string]any{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger()
	}
	return s
}

func (s *GormSession) DB() *gorm.DB {
	return s.db
}

// Mapping reads the mapping of model with the database's naming strategy.
func (s *GormSession) Mapping(model any) (*Mapping, error) {
	return s.mapper.Mapping(model)
}

// Attached reports whether instance is tracked by the session.
func (s *GormSession) Attached(instance any) bool {
	if checkInstance(instance) != nil {
		return false
	}
	_, ok := s.attached[instance]
	return ok
}

func (s *GormSession) Add(instance any) error {
	if _, err := s.parse(instance); err != nil {
		return err
	}
	if _, ok := s.attached[instance]; !ok {
		s.attached[instance] = ""
	}
	s.queue(instance)
	return nil
}

func (s *GormSession) Merge(ctx context.Context, instance any) (any, error) {
	sch, err := s.parse(instance)
	if err != nil {
		return nil, err
	}
	if _, ok := s.attached[instance]; ok {
		s.queue(instance)
		return instance, nil
	}
	src := reflect.ValueOf(instance).Elem()
	key, pk := s.identityKey(sch, src)

	var target any
	if key != "" {
		if tracked, ok := s.identity[key]; ok {
			target = tracked
		} else {
			loaded := reflect.New(sch.ModelType).Interface()
			err := s.db.WithContext(ctx).Where(pkConditions(sch, pk)).Take(loaded).Error
			switch {
			case err == nil:
				target = loaded
			case errors.Is(err, gorm.ErrRecordNotFound):
			default:
				return nil, errors.Wrapf(err, "merge %v", sch.Name)
			}
		}
	}
	if target == nil {
		target = reflect.New(sch.ModelType).Interface()
	}
	reflect.ValueOf(target).Elem().Set(src)
	s.track(target, key)
	s.queue(target)
	s.log.Debug("merge", zap.String("model", sch.Name), zap.String("identity", key))
	return target, nil
}

func (s *GormSession) Expunge(instance any) error {
	if err := checkInstance(instance); err != nil {
		return err
	}
	key, ok := s.attached[instance]
	if !ok {
		return errors.Wrapf(ErrNotAttached, "expunge %T", instance)
	}
	delete(s.attached, instance)
	if key != "" && s.identity[key] == instance {
		delete(s.identity, key)
	}
	for i, p := range s.pending {
		if p == instance {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	return nil
}

// Flush saves pending instances in the order they were queued. Save inserts instances without
// a primary key and upserts the rest, associations included. On error the failed instance and
// everything after it stay pending; expunge the failed one to flush the rest.
func (s *GormSession) Flush(ctx context.Context) error {
	for len(s.pending) > 0 {
		instance := s.pending[0]
		if err := s.db.WithContext(ctx).Save(instance).Error; err != nil {
			return errors.Wrapf(err, "flush %T", instance)
		}
		s.pending = s.pending[1:]
		sch, err := s.parse(instance)
		if err != nil {
			return err
		}
		key, _ := s.identityKey(sch, reflect.ValueOf(instance).Elem())
		s.track(instance, key)
	}
	return nil
}

// Find returns the tracked instance with this primary key or loads it with its associations.
func (s *GormSession) Find(ctx context.Context, model any, pk ...any) (any, error) {
	sch, err := s.parse(model)
	if err != nil {
		return nil, err
	}
	if len(pk) != len(sch.PrimaryFields) {
		return nil, fmt.Errorf("%v has %d primary key field(s), got %d value(s)", sch.Name, len(sch.PrimaryFields), len(pk))
	}
	key := fmt.Sprintf("%v%v", sch.ModelType, pk)
	if tracked, ok := s.identity[key]; ok {
		return tracked, nil
	}
	dest := reflect.New(sch.ModelType).Interface()
	err = s.db.WithContext(ctx).
		Preload(clause.Associations).
		Where(pkConditions(sch, pk)).
		Take(dest).Error
	if err != nil {
		return nil, errors.Wrapf(err, "find %v %v", sch.Name, pk)
	}
	s.track(dest, key)
	return dest, nil
}

func (s *GormSession) parse(instance any) (*schema.Schema, error) {
	if err := checkInstance(instance); err != nil {
		return nil, err
	}
	return schema.Parse(instance, s.schemas, s.db.NamingStrategy)
}

// checkInstance rejects anything but a non-nil pointer to a struct. Struct values may be
// unhashable and cannot key the attached set.
func checkInstance(instance any) error {
	v := reflect.ValueOf(instance)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("session instances must be non-nil pointers to structs, got %T", instance)
	}
	return nil
}

func (s *GormSession) queue(instance any) {
	for _, p := range s.pending {
		if p == instance {
			return
		}
	}
	s.pending = append(s.pending, instance)
}

func (s *GormSession) track(instance any, key string) {
	s.attached[instance] = key
	if key != "" {
		s.identity[key] = instance
	}
}

// identityKey is empty while any primary key field holds its zero value.
func (s *GormSession) identityKey(sch *schema.Schema, v reflect.Value) (string, []any) {
	if len(sch.PrimaryFields) == 0 {
		return "", nil
	}
	pk := make([]any, 0, len(sch.PrimaryFields))
	for _, f := range sch.PrimaryFields {
		fv, ok := fieldByIndex(v, structIndex(f.StructField.Index), false)
		if !ok || fv.IsZero() {
			return "", nil
		}
		pk = append(pk, fv.Interface())
	}
	return fmt.Sprintf("%v%v", sch.ModelType, pk), pk
}

func pkConditions(sch *schema.Schema, pk []any) map[string]any {
	conds := make(map[string]any, len(pk))
	for i, f := range sch.PrimaryFields {
		conds[f.DBName] = pk[i]
	}
	return conds
}
