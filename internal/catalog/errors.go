package catalog

import (
	"errors"
	"fmt"
)

// ValidationError reports input that can never import successfully, such as
// a file without a sku column. It aborts the import without retry.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func missingColumn(name string) error {
	return &ValidationError{
		Field:   name,
		Message: fmt.Sprintf("CSV is missing required column %q", name),
	}
}
