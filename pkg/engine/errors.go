package engine

import (
	"errors"

	"github.com/HatiCode/estima/pkg/regress"
)

// ErrInvalidDuration rejects samples with non-positive durations at append.
var ErrInvalidDuration = errors.New("duration must be positive")

// ErrNoData means a service has no recorded samples. Callers should treat
// the service as unestimated, not as failed.
var ErrNoData = errors.New("no samples recorded for service")

// ErrNotEnoughData means training (or a forced retrain) was requested below
// the minimum sample floor. Soft: callers fall back to the aggregator.
var ErrNotEnoughData = regress.ErrNotEnoughData

// ErrSchemaMismatch is returned when the stored document carries a schema
// version newer than this build understands. Older versions are migrated in
// place instead.
var ErrSchemaMismatch = errors.New("stored document schema is newer than this engine")

// PersistenceError wraps a storage write failure. The in-memory state that
// failed to persist remains valid for the rest of the session; only
// durability is affected.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return "persist metrics document: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
