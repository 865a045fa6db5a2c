package lifecycle

import (
	"errors"
	"fmt"

	"github.com/omni/vault-custody/db"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidWitnessSet = errors.New("witness set does not match vault members")
)

// translateError maps persistence errors onto the lifecycle error taxonomy.
func translateError(err error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return fmt.Errorf("%s: %w", msg, ErrNotFound)
	case errors.Is(err, db.ErrConflict):
		return fmt.Errorf("%s (%v): %w", msg, err, ErrConflict)
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}
