package fixtures

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/ory/dockertest/v3"
	"go.uber.org/zap"

	"github.com/charlieparkes/gorm-fixtures/internal/env"
)

const DEFAULT_POSTGRES_REPO = "postgres"

type PostgresOpt func(*Postgres)

func NewPostgres(d *Docker, opts ...PostgresOpt) *Postgres {
	f := &Postgres{
		docker: d,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func PostgresSettings(settings *ConnectionSettings) PostgresOpt {
	return func(f *Postgres) {
		f.settings = settings
	}
}

func PostgresRepo(repo string) PostgresOpt {
	return func(f *Postgres) {
		f.repo = repo
	}
}

// PostgresVersion sets the image tag. Defaults to POSTGRES_VERSION from the environment.
func PostgresVersion(version string) PostgresOpt {
	return func(f *Postgres) {
		f.version = version
	}
}

// Tell docker to kill the container after an unreasonable amount of test time to prevent orphans. Defaults to 600 seconds.
func PostgresExpireAfter(expireAfter uint) PostgresOpt {
	return func(f *Postgres) {
		f.expireAfter = expireAfter
	}
}

// Wait this long for the server to accept connections. Defaults to 30 seconds.
func PostgresTimeoutAfter(timeoutAfter uint) PostgresOpt {
	return func(f *Postgres) {
		f.timeoutAfter = timeoutAfter
	}
}

func PostgresSkipTearDown() PostgresOpt {
	return func(f *Postgres) {
		f.skipTearDown = true
	}
}

// Postgres runs a disposable postgres server in docker.
type Postgres struct {
	BaseFixture
	log          *zap.Logger
	docker       *Docker
	settings     *ConnectionSettings
	resource     *dockertest.Resource
	repo         string
	version      string
	expireAfter  uint
	timeoutAfter uint
	skipTearDown bool
}

func (f *Postgres) GetSettings() *ConnectionSettings {
	return f.settings
}

// DSN returns the connection string for the primary database.
func (f *Postgres) DSN() string {
	return f.settings.String()
}

func (f *Postgres) SetUp(ctx context.Context) error {
	f.log = logger()
	if f.docker == nil || f.docker.GetPool() == nil {
		return fmt.Errorf("postgres fixture needs a docker fixture that is set up")
	}
	if f.repo == "" {
		f.repo = DEFAULT_POSTGRES_REPO
	}
	if f.version == "" {
		f.version = env.Get().PostgresVersion
	}
	if f.settings == nil {
		f.settings = &ConnectionSettings{
			User:       "postgres",
			Password:   GenerateString(),
			Database:   f.docker.GetNamePrefix(),
			DisableSSL: true,
		}
	}
	networks := []*dockertest.Network{}
	if f.docker.GetNetwork() != nil {
		networks = append(networks, f.docker.GetNetwork())
	}
	var err error
	f.resource, err = f.docker.GetPool().RunWithOptions(&dockertest.RunOptions{
		Repository: f.repo,
		Tag:        f.version,
		Env: []string{
			"POSTGRES_USER=" + f.settings.User,
			"POSTGRES_PASSWORD=" + f.settings.Password,
			"POSTGRES_DB=" + f.settings.Database,
		},
		Networks: networks,
		Cmd:      postgresTuning(),
	})
	if err != nil {
		return fmt.Errorf("failed to start postgres: %w", err)
	}
	f.settings.Host = GetContainerAddress(f.resource, f.docker.GetNetwork())

	if f.expireAfter == 0 {
		f.expireAfter = 600
	}
	if err := f.resource.Expire(f.expireAfter); err != nil {
		return err
	}
	if f.timeoutAfter == 0 {
		f.timeoutAfter = 30
	}
	return f.WaitForReady(ctx, time.Second*time.Duration(f.timeoutAfter))
}

func (f *Postgres) TearDown(ctx context.Context) error {
	if f.log != nil {
		defer f.log.Sync()
	}
	if f.skipTearDown || f.resource == nil {
		return nil
	}
	wg.Add(1)
	go purge(f.log, f.docker.GetPool(), f.resource)
	return nil
}

// WaitForReady polls until the server accepts connections.
// https://github.com/ory/dockertest/blob/v3/examples/PostgreSQL.md
func (f *Postgres) WaitForReady(ctx context.Context, d time.Duration) error {
	err := Retry(ctx, d, func() error {
		port := GetContainerTcpPort(f.resource, f.docker.GetNetwork(), "5432")
		if port == "" {
			return fmt.Errorf("could not get port from container: %+v", f.resource.Container)
		}
		f.settings.Port = port
		return f.Ping(ctx)
	})
	if err != nil {
		logs := getLogs(f.log, f.resource.Container.ID, f.docker.GetPool())
		return fmt.Errorf("gave up waiting for postgres: %w\n%v", err, logs)
	}
	f.log.Debug("postgres ready", zap.String("container", f.GetHostName()), zap.String("port", f.settings.Port))
	return nil
}

func (f *Postgres) GetHostName() string {
	return GetHostName(f.resource)
}

// GetConnection connects to database, or to the primary database when database is empty.
func (f *Postgres) GetConnection(ctx context.Context, database string) (*pgx.Conn, error) {
	settings := f.settings.Copy()
	if database != "" {
		settings.Database = database
	}
	return settings.Connect(ctx)
}

func (f *Postgres) Ping(ctx context.Context) error {
	db, err := f.GetConnection(ctx, "")
	if err != nil {
		return err
	}
	return db.Close(ctx)
}

func (f *Postgres) TableExists(ctx context.Context, database, schema, table string) (bool, error) {
	db, err := f.GetConnection(ctx, database)
	if err != nil {
		return false, err
	}
	defer db.Close(ctx)
	count := 0
	query := "SELECT count(*) FROM pg_catalog.pg_tables WHERE schemaname = $1 AND tablename = $2"
	if err := db.QueryRow(ctx, query, schema, table).Scan(&count); err != nil {
		return false, err
	}
	return count == 1, nil
}

func (f *Postgres) GetTableColumns(ctx context.Context, database, schema, table string) ([]string, error) {
	db, err := f.GetConnection(ctx, database)
	if err != nil {
		return nil, err
	}
	defer db.Close(ctx)
	var columnNames pgtype.TextArray
	query := "SELECT array_agg(column_name::text ORDER BY ordinal_position) FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2"
	if err := db.QueryRow(ctx, query, schema, table).Scan(&columnNames); err != nil {
		return nil, err
	}
	cols := make([]string, 0, len(columnNames.Elements))
	for _, text := range columnNames.Elements {
		cols = append(cols, text.String)
	}
	return cols, nil
}

func (f *Postgres) GetTables(ctx context.Context, database string) ([]string, error) {
	db, err := f.GetConnection(ctx, database)
	if err != nil {
		return nil, err
	}
	defer db.Close(ctx)
	rows, err := db.Query(ctx, "SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname != 'information_schema' AND schemaname != 'pg_catalog'")
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()
	tables := []string{}
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		tables = append(tables, table)
	}
	return tables, rows.Err()
}
