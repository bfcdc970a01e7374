package env

import (
	"log"

	"github.com/vrischmann/envconfig"
)

const (
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"
)

type Environment struct {
	Debug bool `envconfig:"default=false"`
	// Database backing the test harness, either sqlite or postgres.
	FixturesDriver  string `envconfig:"default=sqlite"`
	PostgresVersion string `envconfig:"default=13-alpine"`
}

var env *Environment

func init() {
	env = &Environment{}
	if err := envconfig.Init(env); err != nil {
		log.Fatal(err)
	}
}

func Get() *Environment {
	return env
}

func (e *Environment) UsePostgres() bool {
	return e.FixturesDriver == DriverPostgres
}
