package investigator

import (
	"errors"
	"fmt"
)

// Sentinel errors for the core failure taxonomy. Concrete error types below
// unwrap to one of these, so callers can branch with errors.Is while the
// concrete types carry enough context to produce a specific user-facing
// message.
var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateName   = errors.New("duplicate name")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
)

// NotFoundError indicates a referenced record does not exist.
type NotFoundError struct {
	// Entity is the kind of record ("guild config", "gacha item", ...)
	Entity string
	// Key identifies the record that was looked up
	Key string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

func (*NotFoundError) Unwrap() error {
	return ErrNotFound
}

// DuplicateNameError indicates a uniqueness violation on a user-chosen name.
type DuplicateNameError struct {
	Entity  string
	Name    string
	GuildID string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("a %s named %q already exists", e.Entity, e.Name)
}

func (*DuplicateNameError) Unwrap() error {
	return ErrDuplicateName
}

// InvalidArgumentError indicates malformed or out-of-range user input.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (*InvalidArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

// ConflictError indicates the caller lost a race against a concurrent
// operation on the same record (ex: two users discovering the same
// truth bullet at nearly the same time).
type ConflictError struct {
	Entity string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Entity, e.Reason)
}

func (*ConflictError) Unwrap() error {
	return ErrConflict
}
