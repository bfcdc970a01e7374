package fixtures

import (
	"go.uber.org/zap"

	"github.com/charlieparkes/gorm-fixtures/internal/env"
)

func logger() *zap.Logger {
	var l *zap.Logger
	var err error
	if env.Get().Debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return l
}
