package fixtures

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// wg tracks container purges still running after TearDown returned control to the fixture.
var wg sync.WaitGroup

// Fixture is a piece of test infrastructure with a setup/teardown lifecycle.
type Fixture interface {
	SetUp(ctx context.Context) error
	TearDown(ctx context.Context) error
}

type BaseFixture struct{}

func (f *BaseFixture) Type() string {
	return fmt.Sprint(reflect.TypeOf(f).Elem())
}

type FixturesOpt func(*Fixtures)

func NewFixtures(opts ...FixturesOpt) *Fixtures {
	f := &Fixtures{store: map[string]Fixture{}}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = logger()
	}
	return f
}

func FixturesLogger(logger *zap.Logger) FixturesOpt {
	return func(f *Fixtures) {
		f.log = logger
	}
}

// Fixtures sets up infrastructure fixtures in order and tears them down in reverse.
type Fixtures struct {
	log   *zap.Logger
	store map[string]Fixture
	order []string
}

func (f *Fixtures) Add(ctx context.Context, fixtures ...Fixture) error {
	for _, fix := range fixtures {
		if err := f.AddByName(ctx, GetRandomName(0), fix); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fixtures) AddByName(ctx context.Context, name string, fixture Fixture) error {
	if f.store == nil {
		f.store = map[string]Fixture{}
	}
	if _, exists := f.store[name]; exists {
		return fmt.Errorf("fixture '%v' already added", name)
	}
	f.order = append(f.order, name)
	f.store[name] = fixture
	if err := fixture.SetUp(ctx); err != nil {
		return fmt.Errorf("failed to setup fixture '%v': %w", name, err)
	}
	f.log.Debug("setup", zap.String("type", typeName(fixture)), zap.String("name", name))
	return nil
}

func (f *Fixtures) Get(name string) Fixture {
	return f.store[name]
}

// SetUp runs SetUp again on every fixture, in the order they were added.
func (f *Fixtures) SetUp(ctx context.Context) error {
	for _, name := range f.order {
		fixture := f.store[name]
		if err := fixture.SetUp(ctx); err != nil {
			return fmt.Errorf("failed to setup fixture '%v': %w", name, err)
		}
		f.log.Debug("setup", zap.String("type", typeName(fixture)), zap.String("name", name))
	}
	return nil
}

// TearDown tears every fixture down in reverse order and returns the first error.
func (f *Fixtures) TearDown(ctx context.Context) error {
	var firstErr error
	for i := len(f.order) - 1; i >= 0; i-- {
		name := f.order[i]
		fixture := f.store[name]
		if err := fixture.TearDown(ctx); err != nil {
			f.log.Warn("failed to teardown fixture", zap.String("fixture", name), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
		f.log.Debug("teardown", zap.String("type", typeName(fixture)), zap.String("name", name))
	}
	wg.Wait()
	return firstErr
}

// RecoverTearDown returns a deferrable function that will teardown in the event of a panic.
func (f *Fixtures) RecoverTearDown(ctx context.Context) {
	if r := recover(); r != nil {
		if err := f.TearDown(ctx); err != nil {
			f.log.Warn("failed to tear down", zap.Error(err))
		}
		panic(r)
	}
}

// Docker returns the first Docker fixture. If none exists, panic.
func (f *Fixtures) Docker() *Docker {
	return first[*Docker](f, "docker")
}

// Postgres returns the first Postgres fixture. If none exists, panic.
func (f *Fixtures) Postgres() *Postgres {
	return first[*Postgres](f, "postgres")
}

// Database returns the first Database fixture. If none exists, panic.
func (f *Fixtures) Database() *Database {
	return first[*Database](f, "database")
}

func first[T Fixture](f *Fixtures, kind string) T {
	for _, name := range f.order {
		if val, ok := f.store[name].(T); ok {
			return val
		}
	}
	panic(fmt.Sprintf("no %v fixture found", kind))
}

func typeName(fixture Fixture) string {
	t := reflect.TypeOf(fixture)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return fmt.Sprint(t)
}
