package settings

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukerupert/campuskubo/internal/store"
)

var (
	ErrUnknownCategory = errors.New("unknown settings category")
	ErrUnknownKey      = errors.New("unknown setting")
	ErrInvalidValue    = errors.New("invalid setting value")
	ErrInvalidDocument = errors.New("invalid settings document")

	// ErrConflict is returned when another writer saved first. The cache is
	// dropped so the next read sees the winning document.
	ErrConflict = store.ErrConflict
)

// BatchError collects every problem found in a rejected batch.
type BatchError struct {
	Errs []error
}

func (e *BatchError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d invalid settings: %s", len(e.Errs), strings.Join(msgs, "; "))
}

func (e *BatchError) Unwrap() []error { return e.Errs }
