package engine

import (
	"errors"
	"fmt"

	"projectservice/internal/repo"
)

// NotFoundError names the missing entity. It matches repo.ErrNotFound
// under errors.Is.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e NotFoundError) Unwrap() error { return repo.ErrNotFound }

// ValidationError reports a rejected input or a forbidden state change.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string { return e.Message }

// ConflictError reports a lost race or a duplicate.
type ConflictError struct {
	Message string
}

func (e ConflictError) Error() string { return e.Message }

func validationf(format string, args ...any) error {
	return ValidationError{Message: fmt.Sprintf(format, args...)}
}

func notFound(err error, entity, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		var nf NotFoundError
		if errors.As(err, &nf) {
			return err
		}
		return NotFoundError{Entity: entity, ID: id}
	}
	return err
}
