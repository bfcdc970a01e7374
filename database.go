package fixtures

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	_ "modernc.org/sqlite" // pure go sqlite driver, registered as "sqlite"

	"github.com/charlieparkes/gorm-fixtures/internal/env"
)

type DatabaseOpt func(*Database)

func NewDatabase(opts ...DatabaseOpt) *Database {
	f := &Database{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// DatabaseModels are migrated on SetUp and dropped on TearDown, in reverse order.
func DatabaseModels(models ...any) DatabaseOpt {
	return func(f *Database) {
		f.models = append(f.models, models...)
	}
}

// DatabasePostgres backs the database with a postgres fixture instead of in-memory sqlite.
func DatabasePostgres(p *Postgres) DatabaseOpt {
	return func(f *Database) {
		f.postgres = p
		f.driver = env.DriverPostgres
	}
}

// DatabaseDriver selects sqlite or postgres. Defaults to FIXTURES_DRIVER from the environment.
func DatabaseDriver(driver string) DatabaseOpt {
	return func(f *Database) {
		f.driver = driver
	}
}

func DatabaseLogger(logger *zap.Logger) DatabaseOpt {
	return func(f *Database) {
		f.log = logger
	}
}

// Database is a gorm connection with the test schema migrated.
type Database struct {
	BaseFixture
	log      *zap.Logger
	driver   string
	postgres *Postgres
	models   []any
	db       *gorm.DB
}

func (f *Database) SetUp(ctx context.Context) error {
	if f.log == nil {
		f.log = logger()
	}
	if f.driver == "" {
		f.driver = env.Get().FixturesDriver
	}
	dialector, err := f.dialector()
	if err != nil {
		return err
	}
	level := gormlogger.Warn
	if env.Get().Debug {
		level = gormlogger.Info
	}
	f.db, err = gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(zap.NewStdLog(f.log), gormlogger.Config{
			SlowThreshold:             300 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to open %v database: %w", f.driver, err)
	}
	if f.driver == env.DriverSqlite {
		// Shared-cache in-memory databases lock whole tables; one connection avoids contention.
		sqlDB, err := f.db.DB()
		if err != nil {
			return err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := f.db.WithContext(ctx).AutoMigrate(f.models...); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	f.log.Debug("database ready", zap.String("driver", f.driver), zap.Int("models", len(f.models)))
	return nil
}

func (f *Database) dialector() (gorm.Dialector, error) {
	switch f.driver {
	case env.DriverSqlite:
		dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", GetRandomName(0))
		return &sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, nil
	case env.DriverPostgres:
		if f.postgres == nil {
			return nil, fmt.Errorf("postgres database needs a postgres fixture")
		}
		return postgres.Open(f.postgres.DSN()), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", f.driver)
}

// TearDown drops join tables and model tables, then closes the connection.
func (f *Database) TearDown(ctx context.Context) error {
	if f.db == nil {
		return nil
	}
	tables, err := f.tables()
	if err != nil {
		return err
	}
	if err := f.db.WithContext(ctx).Migrator().DropTable(tables...); err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}
	sqlDB, err := f.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (f *Database) tables() ([]any, error) {
	cache := &sync.Map{}
	seen := map[string]bool{}
	joins := []any{}
	for _, m := range f.models {
		s, err := schema.Parse(m, cache, f.db.NamingStrategy)
		if err != nil {
			return nil, err
		}
		for _, rel := range s.Relationships.Relations {
			if rel.JoinTable != nil && !seen[rel.JoinTable.Table] {
				seen[rel.JoinTable.Table] = true
				joins = append(joins, rel.JoinTable.Table)
			}
		}
	}
	tables := joins
	for i := len(f.models) - 1; i >= 0; i-- {
		tables = append(tables, f.models[i])
	}
	return tables, nil
}

func (f *Database) DB() *gorm.DB {
	return f.db
}

func (f *Database) Driver() string {
	return f.driver
}

// Session starts a new unit of work on the database.
func (f *Database) Session(opts ...GormSessionOpt) *GormSession {
	return NewGormSession(f.db, append([]GormSessionOpt{GormSessionLogger(f.log)}, opts...)...)
}

// Registry returns a fixture registry over a new session.
func (f *Database) Registry(opts ...RegistryOpt) (*Registry, error) {
	if f.db == nil {
		return nil, PreconditionError{Reason: "database is not set up"}
	}
	return NewRegistry(f.Session(), append([]RegistryOpt{RegistryLogger(f.log)}, opts...)...)
}
