package fixtures

import "context"

// Session is the persistence contract the registry and fixtures rely on.
// Instances are pointers to mapped structs.
type Session interface {
	// Add schedules instance for insertion on the next Flush.
	Add(instance any) error
	// Merge copies the state of instance onto the session's persistent copy of the same identity
	// and returns that copy. instance itself is not attached.
	Merge(ctx context.Context, instance any) (any, error)
	// Expunge detaches instance from the session. Returns ErrNotAttached if it was never attached.
	Expunge(instance any) error
	// Flush writes every pending change to the database.
	Flush(ctx context.Context) error
	// Find loads the row of model's type with the given primary key values, in the key's declared order.
	Find(ctx context.Context, model any, pk ...any) (any, error)
}
