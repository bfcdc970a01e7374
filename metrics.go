package fixtures

import (
	"github.com/uber-go/tally/v4"
)

type metrics struct {
	hits    tally.Counter
	misses  tally.Counter
	merges  tally.Counter
	entries tally.Gauge

	models  tally.Counter
	creates tally.Counter
}

func newMetrics(scope tally.Scope) *metrics {
	registry := scope.SubScope("registry")
	fixtures := scope.SubScope("fixtures")
	return &metrics{
		hits:    registry.Counter("hits"),
		misses:  registry.Counter("misses"),
		merges:  registry.Counter("merges"),
		entries: registry.Gauge("entries"),

		models:  fixtures.Counter("models"),
		creates: fixtures.Counter("creates"),
	}
}
