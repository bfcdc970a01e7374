package fixtures

import (
	"errors"
	"fmt"
)

// ErrNotAttached is returned by Session.Expunge when the instance is not tracked by the session.
var ErrNotAttached = errors.New("instance is not attached to the session")

// ConfigurationError reports a fixture definition that cannot be used as declared.
type ConfigurationError struct {
	Fixture string
	Field   string
	Reason  string
}

func (e ConfigurationError) Error() string {
	switch {
	case e.Fixture == "" && e.Field == "":
		return fmt.Sprintf("fixture configuration: %s", e.Reason)
	case e.Field == "":
		return fmt.Sprintf("fixture %s: %s", e.Fixture, e.Reason)
	default:
		return fmt.Sprintf("fixture %s: field %s: %s", e.Fixture, e.Field, e.Reason)
	}
}

// Is matches any ConfigurationError, so errors.Is(err, ErrConfiguration) works.
func (e ConfigurationError) Is(target error) bool {
	switch target.(type) {
	case ConfigurationError, *ConfigurationError:
		return true
	}
	return false
}

// PreconditionError reports a registry or fixture constructed without what it needs to run.
type PreconditionError struct {
	Reason string
}

func (e PreconditionError) Error() string {
	return fmt.Sprintf("fixture precondition: %s", e.Reason)
}

func (e PreconditionError) Is(target error) bool {
	switch target.(type) {
	case PreconditionError, *PreconditionError:
		return true
	}
	return false
}

var (
	ErrConfiguration = ConfigurationError{}
	ErrPrecondition  = PreconditionError{}
)

func configErr(fixture, field, format string, a ...any) error {
	return ConfigurationError{Fixture: fixture, Field: field, Reason: fmt.Sprintf(format, a...)}
}
